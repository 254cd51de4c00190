package preference

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

// PostgresStore persists profiles in user_preference_profiles and the
// single-row global_preference_profile table.
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

// GetUser loads a user's profile.
func (s *PostgresStore) GetUser(ctx context.Context, userID string) (p *UserProfile, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "user_preference_profiles", tracing.DBOperationQuery)
	defer func() {
		if errors.Is(err, ErrProfileNotFound) {
			endSpan(nil)
			return
		}
		endSpan(err)
	}()

	var exp, food pq.Float32Array
	p = &UserProfile{UserID: userID}
	err = s.db.QueryRowContext(ctx, `
		SELECT experience, food, updated_at
		FROM user_preference_profiles
		WHERE user_id = $1
	`, userID).Scan(&exp, &food, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}
	p.Experience = orZero(exp)
	p.Food = orZero(food)
	return p, nil
}

// SaveUser upserts p.
func (s *PostgresStore) SaveUser(ctx context.Context, p *UserProfile) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "user_preference_profiles", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_preference_profiles (user_id, experience, food, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET experience = EXCLUDED.experience,
		    food = EXCLUDED.food,
		    updated_at = EXCLUDED.updated_at
	`, p.UserID, pq.Array(p.Experience), pq.Array(p.Food), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// EachUser streams all profiles ordered by user ID.
func (s *PostgresStore) EachUser(ctx context.Context, fn func(*UserProfile) error) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "user_preference_profiles", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, experience, food, updated_at
		FROM user_preference_profiles
		ORDER BY user_id
	`)
	if err != nil {
		return fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p         UserProfile
			exp, food pq.Float32Array
		)
		if err := rows.Scan(&p.UserID, &exp, &food, &p.UpdatedAt); err != nil {
			return fmt.Errorf("failed to scan profile: %w", err)
		}
		p.Experience = orZero(exp)
		p.Food = orZero(food)
		if err := fn(&p); err != nil {
			return err
		}
	}
	return rows.Err()
}

// GetGlobal loads the global profile, or a zero profile when absent.
func (s *PostgresStore) GetGlobal(ctx context.Context) (g *GlobalProfile, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "global_preference_profile", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	var exp, food pq.Float32Array
	g = &GlobalProfile{}
	err = s.db.QueryRowContext(ctx, `
		SELECT experience, food, updated_at, user_count
		FROM global_preference_profile
		WHERE id = 1
	`).Scan(&exp, &food, &g.UpdatedAt, &g.UserCount)
	if errors.Is(err, sql.ErrNoRows) {
		return &GlobalProfile{Experience: vector.Zero(), Food: vector.Zero()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query global profile: %w", err)
	}
	g.Experience = orZero(exp)
	g.Food = orZero(food)
	return g, nil
}

// SaveGlobal upserts the single global row.
func (s *PostgresStore) SaveGlobal(ctx context.Context, g *GlobalProfile) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "global_preference_profile", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO global_preference_profile (id, experience, food, updated_at, user_count)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET experience = EXCLUDED.experience,
		    food = EXCLUDED.food,
		    updated_at = EXCLUDED.updated_at,
		    user_count = EXCLUDED.user_count
	`, pq.Array(g.Experience), pq.Array(g.Food), g.UpdatedAt, g.UserCount)
	if err != nil {
		return fmt.Errorf("failed to upsert global profile: %w", err)
	}
	return nil
}

// orZero maps missing or malformed stored vectors to a zero vector.
func orZero(v pq.Float32Array) []float32 {
	if len(v) != vector.Dim {
		return vector.Zero()
	}
	return []float32(v)
}
