package feature

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/onnwee/tripfeed/internal/tracing"
	"github.com/onnwee/tripfeed/internal/vector"
)

// PostgresStore reads feature vectors from the content_features table.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, logger: logger}
}

// Get returns the vector for id.
func (s *PostgresStore) Get(ctx context.Context, id string) (cv ContentVector, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "content_features", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	var v pq.Float32Array
	err = s.db.QueryRowContext(ctx,
		`SELECT feature_vector FROM content_features WHERE content_id = $1`, id,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return ContentVector{}, ErrNotFound
	}
	if err != nil {
		return ContentVector{}, fmt.Errorf("failed to query feature vector: %w", err)
	}
	if !vector.Usable(v) {
		s.logger.WarnContext(ctx, "unusable feature vector", "content_id", id, "dim", len(v))
		return ContentVector{}, ErrFeatureUnavailable
	}
	return ContentVector{ContentID: id, Vector: []float32(v)}, nil
}

// GetMany fetches all requested vectors in one round trip. Unusable rows are
// skipped and logged.
func (s *PostgresStore) GetMany(ctx context.Context, ids []string) (out map[string]ContentVector, err error) {
	out = make(map[string]ContentVector, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "content_features", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT content_id, feature_vector FROM content_features WHERE content_id = ANY($1)`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query feature vectors: %w", err)
	}
	defer rows.Close()

	skipped := 0
	for rows.Next() {
		var (
			id string
			v  pq.Float32Array
		)
		if err := rows.Scan(&id, &v); err != nil {
			return nil, fmt.Errorf("failed to scan feature vector: %w", err)
		}
		if !vector.Usable(v) {
			skipped++
			continue
		}
		out[id] = ContentVector{ContentID: id, Vector: []float32(v)}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate feature vectors: %w", err)
	}
	if skipped > 0 {
		s.logger.WarnContext(ctx, "skipped unusable feature vectors", "count", skipped)
	}
	return out, nil
}

// Each streams every stored usable vector to fn in content ID order.
// It stops at the first error returned by fn.
func (s *PostgresStore) Each(ctx context.Context, fn func(ContentVector) error) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "content_features", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT content_id, feature_vector FROM content_features ORDER BY content_id`)
	if err != nil {
		return fmt.Errorf("failed to query feature vectors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id string
			v  pq.Float32Array
		)
		if err := rows.Scan(&id, &v); err != nil {
			return fmt.Errorf("failed to scan feature vector: %w", err)
		}
		if !vector.Usable(v) {
			continue
		}
		if err := fn(ContentVector{ContentID: id, Vector: []float32(v)}); err != nil {
			return err
		}
	}
	return rows.Err()
}
