package interaction

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/onnwee/tripfeed/internal/tracing"
)

// PostgresStore persists events in the user_interactions table.
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

// Append inserts e.
func (s *PostgresStore) Append(ctx context.Context, e Event) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "user_interactions", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	var duration sql.NullFloat64
	if e.Action == ActionDuration {
		duration = sql.NullFloat64{Float64: e.DurationSeconds, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_interactions (id, user_id, content_id, action_type, duration_seconds, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.UserID, e.ContentID, string(e.Action), duration, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert interaction: %w", err)
	}
	return nil
}

// ListByUser returns the user's events, oldest first.
func (s *PostgresStore) ListByUser(ctx context.Context, userID string) (events []Event, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "user_interactions", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, content_id, action_type, COALESCE(duration_seconds, 0), created_at
		FROM user_interactions
		WHERE user_id = $1
		ORDER BY created_at, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e      Event
			action string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.ContentID, &action, &e.DurationSeconds, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}
		e.Action = Action(action)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate interactions: %w", err)
	}
	return events, nil
}

// CountByUser returns the number of events of the user.
func (s *PostgresStore) CountByUser(ctx context.Context, userID string) (n int, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "user_interactions", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_interactions WHERE user_id = $1`, userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count interactions: %w", err)
	}
	return n, nil
}

// CountByContent returns per-content event counts.
func (s *PostgresStore) CountByContent(ctx context.Context, contentIDs []string) (out map[string]int, err error) {
	out = make(map[string]int)
	if len(contentIDs) == 0 {
		return out, nil
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "user_interactions", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT content_id, COUNT(*)
		FROM user_interactions
		WHERE content_id = ANY($1)
		GROUP BY content_id
	`, pq.Array(contentIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to count content interactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("failed to scan content count: %w", err)
		}
		out[id] = n
	}
	return out, rows.Err()
}

// UsersWithEvents returns every user with at least one event.
func (s *PostgresStore) UsersWithEvents(ctx context.Context) (users []string, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "user_interactions", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM user_interactions ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// TrimAll deletes every event beyond the newest keep per user.
func (s *PostgresStore) TrimAll(ctx context.Context, keep int) (removed int64, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "user_interactions", tracing.DBOperationDelete)
	defer func() { endSpan(err) }()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM user_interactions
		WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (PARTITION BY user_id ORDER BY created_at DESC, id DESC) AS rn
				FROM user_interactions
			) ranked
			WHERE ranked.rn > $1
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to trim interactions: %w", err)
	}
	removed, err = res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read trimmed row count: %w", err)
	}
	return removed, nil
}
