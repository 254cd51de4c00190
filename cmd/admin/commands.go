package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"

	"github.com/onnwee/tripfeed/internal/content"
	"github.com/onnwee/tripfeed/internal/embedding"
	"github.com/onnwee/tripfeed/internal/feature"
	"github.com/onnwee/tripfeed/internal/interaction"
	"github.com/onnwee/tripfeed/internal/llm"
	"github.com/onnwee/tripfeed/internal/middleware"
	"github.com/onnwee/tripfeed/internal/preference"
	"github.com/onnwee/tripfeed/internal/retrieval"
)

// options are the connection settings shared by every command.
type options struct {
	env               string
	databaseURL       string
	vectorDatabaseURL string
	redisURL          string
}

func newApp() *cli.Command {
	var opts options
	var logger *slog.Logger

	return &cli.Command{
		Name:  "tripfeed-admin",
		Usage: "Maintenance tasks for the tripfeed engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "env",
				Usage:       "Environment name, controls log format",
				Value:       "development",
				Sources:     cli.EnvVars("TRIPFEED_ENV", "ENV"),
				Destination: &opts.env,
			},
			&cli.StringFlag{
				Name:        "database-url",
				Usage:       "Postgres connection string (required)",
				Sources:     cli.EnvVars("DATABASE_URL"),
				Destination: &opts.databaseURL,
			},
			&cli.StringFlag{
				Name:        "vector-database-url",
				Usage:       "Postgres connection string for the vector index, defaults to --database-url",
				Sources:     cli.EnvVars("VECTOR_DATABASE_URL"),
				Destination: &opts.vectorDatabaseURL,
			},
			&cli.StringFlag{
				Name:        "redis-url",
				Usage:       "Redis URL used for the profile locks",
				Sources:     cli.EnvVars("REDIS_URL"),
				Destination: &opts.redisURL,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			logger = middleware.NewLogger(opts.env)
			slog.SetDefault(logger)
			if opts.vectorDatabaseURL == "" {
				opts.vectorDatabaseURL = opts.databaseURL
			}
			return ctx, nil
		},
		Commands: []*cli.Command{
			cmdRebuildIndex(&opts),
			cmdRecomputeProfiles(&opts),
			cmdRecomputeGlobal(&opts),
			cmdTrimInteractions(&opts),
			cmdRecomputeSeasons(&opts),
		},
	}
}

func cmdRebuildIndex(opts *options) *cli.Command {
	var batch int

	return &cli.Command{
		Name:  "rebuild-index",
		Usage: "Copy every stored feature vector into the vector index",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "batch",
				Usage:       "Vectors written per batch",
				Value:       retrieval.DefaultRebuildBatch,
				Destination: &batch,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := slog.Default()
			db, err := openDatabase(ctx, opts.databaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			index, err := retrieval.NewPgvectorIndex(ctx, opts.vectorDatabaseURL)
			if err != nil {
				return fmt.Errorf("open vector index: %w", err)
			}
			defer index.Close()

			start := time.Now()
			res, err := retrieval.Rebuild(ctx, feature.NewPostgresStore(db, logger), index, batch, logger)
			if err != nil {
				return err
			}
			logger.Info("vector index rebuilt",
				"inserted", res.Inserted,
				"updated", res.Updated,
				"purged", res.Purged,
				"duration_ms", time.Since(start).Milliseconds())
			return nil
		},
	}
}

func cmdRecomputeProfiles(opts *options) *cli.Command {
	return &cli.Command{
		Name:  "recompute-profiles",
		Usage: "Recompute every stored user preference profile",
		Action: func(ctx context.Context, c *cli.Command) error {
			agg, closeFn, err := openAggregator(ctx, opts)
			if err != nil {
				return err
			}
			defer closeFn()

			updated, failed, err := agg.RecomputeAll(ctx)
			if err != nil {
				return fmt.Errorf("recompute profiles: %w", err)
			}
			slog.Default().Info("user profiles recomputed", "updated", updated, "failed", failed)
			if failed > 0 {
				return fmt.Errorf("%d profiles failed to recompute", failed)
			}
			return nil
		},
	}
}

func cmdRecomputeGlobal(opts *options) *cli.Command {
	var force bool

	return &cli.Command{
		Name:  "recompute-global",
		Usage: "Recompute the global preference profile",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "force",
				Usage:       "Recompute even when fewer users than the minimum have profiles",
				Destination: &force,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			agg, closeFn, err := openAggregator(ctx, opts)
			if err != nil {
				return err
			}
			defer closeFn()

			g, err := agg.UpdateGlobalProfile(ctx, force)
			if err != nil {
				if errors.Is(err, preference.ErrLockHeld) {
					return errors.New("another worker is recomputing the global profile")
				}
				return fmt.Errorf("recompute global profile: %w", err)
			}
			slog.Default().Info("global profile recomputed", "users", g.UserCount, "forced", force)
			return nil
		},
	}
}

func cmdTrimInteractions(opts *options) *cli.Command {
	var keep int

	return &cli.Command{
		Name:  "trim-interactions",
		Usage: "Drop interaction events beyond the per-user cap",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "keep",
				Usage:       "Newest events kept per user",
				Value:       interaction.UserEventLimit,
				Destination: &keep,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if keep <= 0 {
				return errors.New("--keep must be positive")
			}
			logger := slog.Default()
			db, err := openDatabase(ctx, opts.databaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			trimmer := interaction.NewTrimmer(interaction.NewPostgresStore(db, logger), keep, logger, nil, nil)
			removed, err := trimmer.TrimOnce(ctx)
			if err != nil {
				return fmt.Errorf("trim interactions: %w", err)
			}
			logger.Info("interactions trimmed", "removed", removed, "keep", keep)
			return nil
		},
	}
}

func cmdRecomputeSeasons(opts *options) *cli.Command {
	var (
		force   bool
		batch   int
		llmOpts llm.Config
	)

	return &cli.Command{
		Name:  "recompute-season-sim",
		Usage: "Score content summaries against each season",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "force",
				Usage:       "Rescore every summary, not only those missing a season score",
				Destination: &force,
			},
			&cli.IntFlag{
				Name:        "batch",
				Usage:       "Summaries loaded per batch",
				Value:       content.DefaultSeasonBatchSize,
				Destination: &batch,
			},
			&cli.StringFlag{
				Name:        "openai-api-key",
				Sources:     cli.EnvVars("OPENAI_API_KEY"),
				Destination: &llmOpts.APIKey,
			},
			&cli.StringFlag{
				Name:        "openai-base-url",
				Sources:     cli.EnvVars("OPENAI_BASE_URL"),
				Destination: &llmOpts.BaseURL,
			},
			&cli.StringFlag{
				Name:        "embedding-model",
				Sources:     cli.EnvVars("EMBEDDING_MODEL"),
				Destination: &llmOpts.EmbeddingModel,
			},
			&cli.IntFlag{
				Name:        "embedding-dimensions",
				Value:       384,
				Sources:     cli.EnvVars("EMBEDDING_DIMENSIONS"),
				Destination: &llmOpts.Dimensions,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if batch <= 0 {
				return errors.New("--batch must be positive")
			}
			logger := slog.Default()
			db, err := openDatabase(ctx, opts.databaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			if llmOpts.APIKey == "" {
				return errors.New("--openai-api-key or OPENAI_API_KEY is required")
			}

			embedder := embedding.NewService(llm.New(llmOpts, logger, nil), -1, logger)
			scorer := content.NewSeasonScorer(content.NewPostgresRepository(db, logger), embedder, batch, logger)
			start := time.Now()
			res, err := scorer.Recompute(ctx, force)
			if err != nil {
				return fmt.Errorf("recompute season scores: %w", err)
			}
			logger.Info("season scores recomputed",
				"scored", res.Scored,
				"skipped", res.Skipped,
				"forced", force,
				"duration_ms", time.Since(start).Milliseconds())
			return nil
		},
	}
}

func openDatabase(ctx context.Context, url string) (*sql.DB, error) {
	if url == "" {
		return nil, errors.New("--database-url or DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// openAggregator builds a preference aggregator over the Postgres stores.
// The profile lock lives in Redis when configured so a recompute here does
// not race the API's updater.
func openAggregator(ctx context.Context, opts *options) (*preference.Aggregator, func(), error) {
	logger := slog.Default()
	db, err := openDatabase(ctx, opts.databaseURL)
	if err != nil {
		return nil, nil, err
	}

	var locker preference.Locker = preference.NewInMemoryLocker()
	closeFn := func() { db.Close() }
	if opts.redisURL != "" {
		ropts, err := redis.ParseURL(opts.redisURL)
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(ropts)
		locker = preference.NewRedisLocker(client)
		closeFn = func() {
			client.Close()
			db.Close()
		}
	}

	agg := preference.NewAggregator(preference.AggregatorConfig{
		Events:   interaction.NewPostgresStore(db, logger),
		Contents: content.NewPostgresRepository(db, logger),
		Features: feature.NewPostgresStore(db, logger),
		Profiles: preference.NewPostgresStore(db, logger),
		Locker:   locker,
		Logger:   logger,
	})
	return agg, closeFn, nil
}
