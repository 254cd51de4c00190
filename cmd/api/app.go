package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/tripfeed/internal/api"
	"github.com/onnwee/tripfeed/internal/auth"
	"github.com/onnwee/tripfeed/internal/cache"
	"github.com/onnwee/tripfeed/internal/chat"
	"github.com/onnwee/tripfeed/internal/config"
	"github.com/onnwee/tripfeed/internal/content"
	"github.com/onnwee/tripfeed/internal/embedding"
	"github.com/onnwee/tripfeed/internal/events"
	"github.com/onnwee/tripfeed/internal/feature"
	"github.com/onnwee/tripfeed/internal/health"
	"github.com/onnwee/tripfeed/internal/interaction"
	"github.com/onnwee/tripfeed/internal/jobs"
	"github.com/onnwee/tripfeed/internal/llm"
	"github.com/onnwee/tripfeed/internal/middleware"
	"github.com/onnwee/tripfeed/internal/preference"
	"github.com/onnwee/tripfeed/internal/ranking"
	"github.com/onnwee/tripfeed/internal/rerank"
	"github.com/onnwee/tripfeed/internal/resilience"
	"github.com/onnwee/tripfeed/internal/retrieval"
	"github.com/onnwee/tripfeed/internal/theme"
	"github.com/onnwee/tripfeed/internal/tracing"
)

const (
	serviceName     = "tripfeed-api"
	shutdownTimeout = 10 * time.Second
)

// metricSet holds every package's Prometheus collectors.
type metricSet struct {
	http        *middleware.Metrics
	jobs        *jobs.Metrics
	breakers    *resilience.Metrics
	cache       *cache.Metrics
	chat        *chat.Metrics
	events      *events.Metrics
	interaction *interaction.Metrics
	preference  *preference.Metrics
	rerank      *rerank.Metrics
	retrieval   *retrieval.Metrics
	theme       *theme.Metrics
}

func newMetricSet() *metricSet {
	return &metricSet{
		http:        middleware.NewMetrics(),
		jobs:        jobs.NewMetrics(),
		breakers:    resilience.NewMetrics(),
		cache:       cache.NewMetrics(),
		chat:        chat.NewMetrics(),
		events:      events.NewMetrics(),
		interaction: interaction.NewMetrics(),
		preference:  preference.NewMetrics(),
		rerank:      rerank.NewMetrics(),
		retrieval:   retrieval.NewMetrics(),
		theme:       theme.NewMetrics(),
	}
}

func (m *metricSet) register(reg prometheus.Registerer) error {
	registrars := []interface {
		Register(prometheus.Registerer) error
	}{
		m.http, m.jobs, m.breakers, m.cache, m.chat, m.events,
		m.interaction, m.preference, m.rerank, m.retrieval, m.theme,
	}
	for _, r := range registrars {
		if err := r.Register(reg); err != nil {
			return err
		}
	}
	return nil
}

// openDatabase opens the relational store and verifies the connection.
func openDatabase(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// openRedis returns nil when no Redis URL is configured.
func openRedis(url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// loadEncoding reads the category encoding from a local path or, when a
// bucket is configured, from object storage.
func loadEncoding(ctx context.Context, cfg *config.Config) (*feature.CategoryEncoding, error) {
	src := feature.Source{Path: cfg.EncodingPath, Bucket: cfg.EncodingBucket, Key: cfg.EncodingKey}
	if src.Path == "" && cfg.S3AccessKeyID != "" {
		client, err := feature.NewObjectStoreClient(feature.ObjectStoreConfig{
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
		})
		if err != nil {
			return nil, err
		}
		src.Client = client
	}
	return feature.LoadEncoding(ctx, src)
}

func loadWeights(path string, logger *slog.Logger) (*ranking.Weights, error) {
	if path == "" {
		logger.Info("no calibration file configured, using default ranking weights")
		return ranking.DefaultWeights(), nil
	}
	w, err := ranking.LoadCalibration(path)
	if err != nil {
		return nil, fmt.Errorf("load calibration: %w", err)
	}
	return w, nil
}

// healthURL points at the rerank service's health endpoint.
func healthURL(base string) string {
	return strings.TrimRight(base, "/") + "/health"
}

// run wires the engine and serves HTTP until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	tp, err := tracing.NewProvider(tracing.Config{
		Enabled:     cfg.TracingEnabled,
		ServiceName: serviceName,
		Environment: cfg.Env,
		Exporter:    cfg.TracingExporter,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.TracingInsecure,
		SampleRate:  cfg.TracingSampleRate,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("tracing shutdown failed", "error", err)
		}
	}()

	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	index, err := retrieval.NewPgvectorIndex(ctx, cfg.VectorDatabaseURL)
	if err != nil {
		return fmt.Errorf("open vector index: %w", err)
	}
	defer index.Close()

	rdb, err := openRedis(cfg.RedisURL)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	} else {
		logger.Warn("REDIS_URL not set, caches, locks and rate limits are process-local")
	}

	enc, err := loadEncoding(ctx, cfg)
	if err != nil {
		return fmt.Errorf("load category encoding: %w", err)
	}
	weights, err := loadWeights(cfg.CalibrationPath, logger)
	if err != nil {
		return err
	}

	metrics := newMetricSet()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.register(reg); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	// Stores
	contents := content.NewPostgresRepository(db, logger)
	features := feature.NewPostgresStore(db, logger)
	eventStore := interaction.NewPostgresStore(db, logger)
	profiles := preference.NewPostgresStore(db, logger)

	var (
		cacheStore cache.Store
		locker     preference.Locker
		deduper    interaction.Deduper
		limits     middleware.RateLimitStore
	)
	if rdb != nil {
		cacheStore = cache.NewRedisCache(rdb)
		locker = preference.NewRedisLocker(rdb)
		deduper = interaction.NewRedisDeduper(rdb)
		limits = middleware.NewRedisRateLimitStore(rdb).WithMetrics(metrics.http)
	} else {
		cacheStore = cache.NewLocalCache(time.Minute)
		locker = preference.NewInMemoryLocker()
		deduper = interaction.NewInMemoryDeduper()
		limits = middleware.NewInMemoryRateLimitStore()
	}

	// Model client shared by chat and the season job
	llmClient := llm.New(llm.Config{
		APIKey:           cfg.OpenAIAPIKey,
		BaseURL:          cfg.OpenAIBaseURL,
		ChatModel:        cfg.ChatModel,
		EmbeddingModel:   cfg.EmbeddingModel,
		Dimensions:       cfg.EmbeddingDimensions,
		RatePerSecond:    cfg.LLMRatePerSecond,
		Timeout:          cfg.LLMTimeout,
		EmbeddingTimeout: cfg.EmbeddingTimeout,
	}, logger, metrics.breakers)
	embedder := embedding.NewService(llmClient, 0, logger)

	// Preferences
	agg := preference.NewAggregator(preference.AggregatorConfig{
		Events:   eventStore,
		Contents: contents,
		Features: features,
		Profiles: profiles,
		Locker:   locker,
		Logger:   logger,
		Metrics:  metrics.preference,
	})
	updater := preference.NewUpdater(preference.UpdaterConfig{
		Interval:   cfg.ProfileUpdateInterval,
		Logger:     logger,
		Metrics:    metrics.preference,
		JobMetrics: metrics.jobs,
	}, agg)
	globalJob := preference.NewGlobalJob(preference.GlobalJobConfig{
		Interval:   cfg.GlobalProfileInterval,
		Logger:     logger,
		JobMetrics: metrics.jobs,
		Seasons:    content.NewSeasonScorer(contents, embedding.NewService(llmClient, -1, logger), 0, logger),
	}, agg)

	// Interactions
	feedCache := cache.NewFeedCache[api.FeedResponse](cacheStore, cfg.FeedCacheTTL, logger, metrics.cache)
	recorder := interaction.NewRecorder(interaction.RecorderConfig{
		Store:   eventStore,
		Deduper: deduper,
		Logger:  logger,
		Metrics: metrics.interaction,
	})
	recorder.AddListener(feedCache)
	recorder.AddListener(updater)
	trimmer := interaction.NewTrimmer(eventStore, interaction.UserEventLimit, logger, metrics.interaction, metrics.jobs)

	// Retrieval and ranking
	retriever := retrieval.NewRetriever(retrieval.Config{
		Index:    index,
		Contents: contents,
		Counter:  eventStore,
		Logger:   logger,
		Metrics:  metrics.retrieval,
		Timeout:  cfg.RetrievalTimeout,
		Observer: func(ctx context.Context, stage retrieval.Stage, survivors int) {
			logger.DebugContext(ctx, "retrieval filter relaxed", "stage", stage, "survivors", survivors)
		},
	})
	scorer := ranking.NewScorer(weights, enc)

	orchestrator := theme.New(theme.Config{
		Retriever: retriever,
		Profiles:  agg,
		Contents:  contents,
		Labels:    enc,
		Logger:    logger,
		Metrics:   metrics.theme,
	})

	// Chat
	extractor, err := chat.DefaultExtractor()
	if err != nil {
		return fmt.Errorf("load gazetteer: %w", err)
	}
	chatCfg := chat.Config{
		Embedder:   embedder,
		Retriever:  retriever,
		Contents:   contents,
		Scorer:     scorer,
		Extractor:  extractor,
		Resolver:   extractor,
		Classifier: chat.NewLLMIntentClassifier(llmClient),
		Encoder:    enc,
		Writer:     chat.NewReplyWriter(llmClient, logger),
		Translator: chat.NewTranslator(llmClient, logger),
		Sessions:   cache.NewTyped[chat.FollowUpContext](cacheStore, "chat_session", chat.DefaultSessionTTL, logger, metrics.cache),
		Results:    cache.NewTyped[chat.Response](cacheStore, "chat_result", chat.DefaultResultTTL, logger, metrics.cache),
		Logger:     logger,
		Metrics:    metrics.chat,
	}
	checkers := map[string]api.HealthChecker{
		"database":     health.NewDBChecker(db),
		"vector_index": health.PingFunc(index.Ping),
	}
	if rdb != nil {
		checkers["redis"] = health.NewRedisChecker(rdb)
	}
	if cfg.RerankURL != "" {
		chatCfg.Reranker = rerank.NewGateway(rerank.Config{
			Scorer: rerank.NewHTTPScorer(rerank.HTTPScorerConfig{
				BaseURL: cfg.RerankURL,
				Timeout: cfg.RerankTimeout,
				Logger:  logger,
				Breaker: metrics.breakers,
			}),
			Logger:  logger,
			Metrics: metrics.rerank,
			Timeout: cfg.RerankTimeout,
		})
		checkers["rerank"] = health.NewHTTPChecker("rerank", healthURL(cfg.RerankURL))
	} else {
		logger.Warn("RERANK_URL not set, chat results keep their ranking order")
	}
	controller := chat.New(chatCfg)

	g, gctx := errgroup.WithContext(ctx)

	// Event bus
	var publisher api.InteractionPublisher
	if cfg.NATSURL != "" {
		busCfg := events.Config{URL: cfg.NATSURL, Topic: cfg.NATSTopic}
		pub, err := events.NewNATSPublisher(busCfg, logger)
		if err != nil {
			return fmt.Errorf("connect event publisher: %w", err)
		}
		p := events.NewPublisher(pub, cfg.NATSTopic, logger, metrics.breakers, metrics.events)
		defer p.Close()
		publisher = p

		sub, err := events.NewNATSSubscriber(busCfg, logger)
		if err != nil {
			return fmt.Errorf("connect event subscriber: %w", err)
		}
		defer sub.Close()
		consumer := events.NewConsumer(sub, cfg.NATSTopic, recorder, logger, metrics.events)
		g.Go(func() error {
			if err := consumer.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("interaction consumer: %w", err)
			}
			return nil
		})
	} else {
		logger.Info("NATS_URL not set, interactions are recorded inline")
	}

	// Background jobs
	if err := updater.Start(gctx); err != nil {
		return fmt.Errorf("start profile updater: %w", err)
	}
	defer updater.Stop()
	if err := globalJob.Start(gctx); err != nil {
		return fmt.Errorf("start global profile job: %w", err)
	}
	defer globalJob.Stop()
	g.Go(func() error {
		trimmer.Run(gctx, cfg.TrimInterval)
		return nil
	})
	if mem, ok := limits.(*middleware.InMemoryRateLimitStore); ok {
		g.Go(func() error {
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					mem.Cleanup()
				}
			}
		})
	}

	// HTTP
	jwtService := auth.NewJWTService(auth.Options{
		Secret:         cfg.JWTSecret,
		PreviousSecret: cfg.JWTPreviousSecret,
	})
	handler := api.NewRouter(api.RouterConfig{
		Feed:             api.NewFeedHandlers(orchestrator, feedCache, logger),
		Chat:             api.NewChatHandlers(controller, logger),
		Interactions:     api.NewInteractionHandlers(recorder, publisher, logger),
		Health:           api.NewHealthHandlers(api.HealthHandlersConfig{Checkers: checkers, Logger: logger}),
		Auth:             jwtService,
		RateLimits:       limits,
		GlobalLimit:      middleware.DefaultGlobalLimit(),
		ChatLimit:        middleware.DefaultChatLimit(),
		InteractionLimit: middleware.DefaultInteractionLimit(),
		CORSOrigins:      cfg.CORSOrigins,
		RequestTimeout:   cfg.RequestTimeout,
		Logger:           logger,
		Metrics:          metrics.http,
		Gatherer:         reg,
		ServiceName:      serviceName,
		Tracing:          tp.Enabled(),
		Profiling:        !cfg.IsProduction(),
	})

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g.Go(func() error {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
