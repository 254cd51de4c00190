package content

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/lib/pq"

	"github.com/onnwee/tripfeed/internal/tracing"
)

// Repository provides read access to content metadata.
type Repository interface {
	// Get returns a single item or ErrNotFound.
	Get(ctx context.Context, id string) (*Item, error)
	// GetMany returns the items that exist among ids. Missing IDs are absent.
	GetMany(ctx context.Context, ids []string) (map[string]*Item, error)
}

// InMemoryRepository is an in-memory Repository used by tests and local runs.
type InMemoryRepository struct {
	mu    sync.RWMutex
	items map[string]*Item
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{items: make(map[string]*Item)}
}

// Put inserts or replaces an item.
func (r *InMemoryRepository) Put(item *Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *item
	r.items[item.ID] = &cp
}

// Get returns a copy of the item.
func (r *InMemoryRepository) Get(ctx context.Context, id string) (*Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *item
	return &cp, nil
}

// GetMany returns copies of the items that exist.
func (r *InMemoryRepository) GetMany(ctx context.Context, ids []string) (map[string]*Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Item, len(ids))
	for _, id := range ids {
		if item, ok := r.items[id]; ok {
			cp := *item
			out[id] = &cp
		}
	}
	return out, nil
}

// IDs returns all content IDs in ascending order.
func (r *InMemoryRepository) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.items))
	for id := range r.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PostgresRepository reads content from the contents and content_summaries tables.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a PostgresRepository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: db, logger: logger}
}

const selectItemsQuery = `
	SELECT c.content_id, c.content_type_id, c.title, c.overview,
	       COALESCE(s.summary, ''),
	       c.lcls1, c.lcls2, c.lcls3, c.addr1, c.addr2, c.first_image,
	       c.map_y, c.map_x, c.modified_at,
	       s.spring_sim, s.summer_sim, s.autumn_sim, s.winter_sim
	FROM contents c
	LEFT JOIN content_summaries s ON s.content_id = c.content_id
	WHERE c.content_id = ANY($1)
`

// Get returns a single item or ErrNotFound.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Item, error) {
	items, err := r.GetMany(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	item, ok := items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return item, nil
}

// GetMany fetches all requested items in one round trip.
func (r *PostgresRepository) GetMany(ctx context.Context, ids []string) (out map[string]*Item, err error) {
	out = make(map[string]*Item, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "contents", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := r.db.QueryContext(ctx, selectItemsQuery, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query contents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item                           Item
			lat, lng                       sql.NullFloat64
			spring, summer, autumn, winter sql.NullFloat64
		)
		if err := rows.Scan(
			&item.ID, &item.TypeID, &item.Title, &item.Overview, &item.Summary,
			&item.Category1, &item.Category2, &item.Category3,
			&item.Addr1, &item.Addr2, &item.FirstImage,
			&lat, &lng, &item.ModifiedAt,
			&spring, &summer, &autumn, &winter,
		); err != nil {
			return nil, fmt.Errorf("failed to scan content row: %w", err)
		}
		if lat.Valid && lng.Valid {
			la, ln := lat.Float64, lng.Float64
			item.Lat, item.Lng = &la, &ln
		}
		item.SeasonSim = seasonSims(spring, summer, autumn, winter)
		out[item.ID] = &item
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate content rows: %w", err)
	}

	if missing := len(ids) - len(out); missing > 0 {
		r.logger.DebugContext(ctx, "some content ids not found", "requested", len(ids), "missing", missing)
	}
	return out, nil
}

func seasonSims(spring, summer, autumn, winter sql.NullFloat64) map[string]float64 {
	sims := make(map[string]float64, 4)
	for key, v := range map[string]sql.NullFloat64{
		SeasonSpring: spring,
		SeasonSummer: summer,
		SeasonAutumn: autumn,
		SeasonWinter: winter,
	} {
		if v.Valid {
			sims[key] = v.Float64
		}
	}
	return sims
}

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
