package retrieval

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/onnwee/tripfeed/internal/feature"
	"github.com/onnwee/tripfeed/internal/tracing"
	"github.com/onnwee/tripfeed/internal/vector"
)

// PgvectorIndex searches the content_embeddings table with the pgvector
// cosine distance operator.
type PgvectorIndex struct {
	pool *pgxpool.Pool
}

// NewPgvectorIndex connects to Postgres and returns a PgvectorIndex.
func NewPgvectorIndex(ctx context.Context, connStr string) (*PgvectorIndex, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to vector database: %w", err)
	}
	return &PgvectorIndex{pool: pool}, nil
}

// NewPgvectorIndexWithPool wraps an existing pool.
func NewPgvectorIndexWithPool(pool *pgxpool.Pool) *PgvectorIndex {
	return &PgvectorIndex{pool: pool}
}

// Close closes the underlying pool.
func (p *PgvectorIndex) Close() {
	p.pool.Close()
}

// Ping checks the pool's connectivity.
func (p *PgvectorIndex) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Search returns the k nearest neighbours by cosine distance.
func (p *PgvectorIndex) Search(ctx context.Context, query []float32, k int) (hits []Hit, err error) {
	if k <= 0 {
		return nil, nil
	}
	ctx, endSpan := tracing.StartDBSpan(ctx, "content_embeddings", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := p.pool.Query(ctx, `
		SELECT content_id, 1 - (embedding <=> $1::vector) AS similarity
		FROM content_embeddings
		ORDER BY embedding <=> $1::vector, content_id
		LIMIT $2
	`, vectorLiteral(query), k)
	if err != nil {
		return nil, fmt.Errorf("failed to search vector index: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ContentID, &h.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan vector hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate vector hits: %w", err)
	}
	sortHits(hits)
	return hits, nil
}

// Upsert writes usable vectors in one batch.
func (p *PgvectorIndex) Upsert(ctx context.Context, items []feature.ContentVector) (err error) {
	_, err = p.UpsertCounting(ctx, items)
	return err
}

// UpsertCounting is Upsert that also reports, per item, whether the row was new.
func (p *PgvectorIndex) UpsertCounting(ctx context.Context, items []feature.ContentVector) (inserted []bool, err error) {
	if len(items) == 0 {
		return nil, nil
	}
	ctx, endSpan := tracing.StartDBSpan(ctx, "content_embeddings", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	batch := &pgx.Batch{}
	queued := 0
	for _, it := range items {
		if !vector.Usable(it.Vector) {
			continue
		}
		batch.Queue(`
			INSERT INTO content_embeddings (content_id, embedding, updated_at)
			VALUES ($1, $2::vector, NOW())
			ON CONFLICT (content_id) DO UPDATE
			SET embedding = EXCLUDED.embedding, updated_at = NOW()
			RETURNING (xmax = 0) AS inserted
		`, it.ContentID, vectorLiteral(it.Vector))
		queued++
	}
	if queued == 0 {
		return nil, nil
	}

	br := p.pool.SendBatch(ctx, batch)
	defer func() {
		if cerr := br.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close upsert batch: %w", cerr)
		}
	}()

	inserted = make([]bool, 0, queued)
	for i := 0; i < queued; i++ {
		var isNew bool
		if err := br.QueryRow().Scan(&isNew); err != nil {
			return nil, fmt.Errorf("failed to upsert embedding: %w", err)
		}
		inserted = append(inserted, isNew)
	}
	return inserted, nil
}

// Delete removes ids from the index.
func (p *PgvectorIndex) Delete(ctx context.Context, ids []string) (err error) {
	if len(ids) == 0 {
		return nil
	}
	ctx, endSpan := tracing.StartDBSpan(ctx, "content_embeddings", tracing.DBOperationDelete)
	defer func() { endSpan(err) }()

	if _, err = p.pool.Exec(ctx, `DELETE FROM content_embeddings WHERE content_id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("failed to delete embeddings: %w", err)
	}
	return nil
}

// vectorLiteral renders v in pgvector's text input format.
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v) * 10)
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
