package bootstrap

import (
	"context"
	"time"

	"pattern_worker/adapter/in/http"
	draftcache "pattern_worker/adapter/out/cache"
	"pattern_worker/adapter/out/graph"
	"pattern_worker/adapter/out/mongodb"
	"pattern_worker/adapter/out/persistence"
	"pattern_worker/config"
	"pattern_worker/core/agent/llm"
	"pattern_worker/core/port/out"
	"pattern_worker/core/service/common"
	"pattern_worker/core/service/draft"
	"pattern_worker/core/service/pattern"
	"pattern_worker/infra/database"
	"pattern_worker/internal/stream"
	"pattern_worker/pkg/cache"
	"pattern_worker/pkg/logger"
	"pattern_worker/pkg/metrics"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

const shutdownTimeout = 15 * time.Second

// Dependencies holds every component of the pattern engine. Each backend is
// optional: without DATABASE_URL patterns live in memory, without Redis there
// is no persistent draft tier and no job stream, without MongoDB drafts are
// not stored, and without Neo4j sender affinity is skipped.
type Dependencies struct {
	Config  *config.Config
	Metrics *metrics.Metrics

	// Infrastructure
	DB      *pgxpool.Pool
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client
	Neo4j   neo4j.DriverWithContext

	// Stores
	PatternStore out.PatternRepository
	StoredDrafts out.StoredDraftRepository
	SenderGraph  out.SenderGraph
	DraftMemory  *common.L1DraftCache
	DraftCache   *common.HybridDraftCache

	// Jobs
	Stream   *stream.RedisStream
	Producer *stream.Producer

	// Services
	Oracle      *llm.Client
	Learner     *pattern.Learner
	Coordinator *draft.Coordinator
}

func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg, Metrics: metrics.NewMetrics()}
	var cleanups []func()

	cleanup := func() {
		if deps.Coordinator != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			deps.Coordinator.Shutdown(shutdownCtx)
			cancel()
		}
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// Postgres: pgxpool for schema and health, sqlx for the pattern store
	if cfg.DatabaseURL != "" {
		pool, err := database.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.DB = pool
		cleanups = append(cleanups, pool.Close)

		if err := database.EnsureSchema(ctx, pool); err != nil {
			cleanup()
			return nil, nil, err
		}

		sqlDB, err := database.OpenSQLX(ctx, cfg.DatabaseURL)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.SQLDB = sqlDB
		cleanups = append(cleanups, func() { sqlDB.Close() })

		deps.PatternStore = persistence.NewPatternAdapter(sqlDB)
		logger.Info("Pattern store: postgres")
	} else {
		deps.PatternStore = persistence.NewMemoryPatternAdapter()
		logger.Warn("DATABASE_URL not set, patterns are kept in memory")
	}

	// Redis: persistent draft tier and job stream
	var persistentTier out.DraftCacheTier
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Warn("Redis connection failed, continuing without draft tier and job stream")
		} else {
			deps.Redis = redisClient
			cleanups = append(cleanups, func() { redisClient.Close() })

			persistentTier = draftcache.NewRedisDraftAdapter(cache.NewRedisCache(redisClient, cfg.DraftCacheKeyPrefix))
			deps.Stream = stream.NewRedisStream(redisClient, cfg.StreamName, cfg.ConsumerGroup)
			deps.Producer = stream.NewProducer(deps.Stream)
			logger.Info("Redis draft tier and job stream %s initialized", deps.Stream.Name())
		}
	}

	// MongoDB: stored drafts
	if cfg.MongoDBURL != "" {
		mongoClient, err := mongodb.NewClient(ctx, cfg.MongoDBURL)
		if err != nil {
			logger.WithError(err).Warn("MongoDB connection failed, drafts will not be stored")
		} else {
			deps.MongoDB = mongoClient
			cleanups = append(cleanups, func() { mongoClient.Disconnect(context.Background()) })

			drafts := mongodb.NewDraftAdapter(mongoClient.Database(cfg.MongoDBName))
			if err := drafts.EnsureIndexes(ctx); err != nil {
				logger.WithError(err).Warn("Failed to ensure MongoDB draft indexes")
			}
			deps.StoredDrafts = drafts
		}
	}

	// Neo4j: sender affinity
	if cfg.Neo4jURL != "" {
		driver, err := graph.NewDriver(ctx, cfg.Neo4jURL, cfg.Neo4jUsername, cfg.Neo4jPassword)
		if err != nil {
			logger.WithError(err).Warn("Neo4j connection failed, sender affinity disabled")
		} else {
			deps.Neo4j = driver
			cleanups = append(cleanups, func() { driver.Close(context.Background()) })

			senders := graph.NewSenderGraphAdapter(driver, "neo4j")
			if err := senders.EnsureIndexes(ctx); err != nil {
				logger.WithError(err).Warn("Failed to ensure Neo4j indexes")
			}
			deps.SenderGraph = senders
		}
	}

	// Oracle
	if cfg.OpenAIAPIKey == "" {
		logger.Warn("OPENAI_API_KEY not set, oracle calls will fail and drafts fall back to acknowledgements")
	}
	deps.Oracle = llm.NewClient(llm.ClientConfig{
		APIKey:        cfg.OpenAIAPIKey,
		MiniModel:     cfg.LLMMiniModel,
		StandardModel: cfg.LLMModel,
		Timeout:       cfg.LLMTimeout,
		MaxRetries:    cfg.LLMMaxRetries,
	}, deps.Metrics)

	// Learning and drafting
	deps.Learner = NewLearner(cfg, deps.PatternStore, deps.SenderGraph, deps.Oracle, deps.Metrics)

	deps.DraftMemory = common.NewL1DraftCache(&common.L1Config{
		MaxItems:      cfg.DraftCacheMaxItems,
		DefaultTTL:    cfg.DraftTTL,
		SweepInterval: time.Minute,
		SweepRatio:    0.8,
	})
	deps.DraftCache = common.NewHybridDraftCache(deps.DraftMemory, persistentTier, cfg.DraftTTL, deps.Metrics)

	selector := draft.NewSelector(draft.SelectorDeps{
		Cache:     deps.DraftCache,
		Drafts:    deps.StoredDrafts,
		Store:     deps.PatternStore,
		Graph:     deps.SenderGraph,
		Matcher:   pattern.NewMatcher(),
		Generator: NewGenerator(cfg, deps.Oracle),
		Metrics:   deps.Metrics,
	}, SelectorConfig(cfg))

	deps.Coordinator = draft.NewCoordinator(selector, deps.DraftMemory, deps.Metrics, draft.CoordinatorConfig{
		Retention:        cfg.CoalesceRetention,
		BatchConcurrency: cfg.Learning.BatchConcurrency,
		PipelineTimeout:  cfg.JobTimeout,
	})

	return deps, cleanup, nil
}

// Publisher returns the job stream producer, or nil when Redis is not configured.
func (d *Dependencies) Publisher() out.JobPublisher {
	if d.Producer == nil {
		return nil
	}
	return d.Producer
}

// HealthChecks lists a probe for every configured backend.
func (d *Dependencies) HealthChecks() map[string]http.HealthChecker {
	checks := make(map[string]http.HealthChecker)
	if d.DB != nil {
		checks["postgres"] = http.CheckFunc(d.DB.Ping)
	}
	if d.Redis != nil {
		checks["redis"] = http.CheckFunc(func(ctx context.Context) error {
			return d.Redis.Ping(ctx).Err()
		})
	}
	if d.MongoDB != nil {
		checks["mongodb"] = http.CheckFunc(func(ctx context.Context) error {
			return d.MongoDB.Ping(ctx, nil)
		})
	}
	if d.Neo4j != nil {
		checks["neo4j"] = http.CheckFunc(d.Neo4j.VerifyConnectivity)
	}
	return checks
}

// DBPoolStats reports the sqlx pool, or nil when patterns are in memory.
func (d *Dependencies) DBPoolStats() func() metrics.DBPoolStats {
	if d.SQLDB == nil {
		return nil
	}
	return func() metrics.DBPoolStats { return metrics.GetDBPoolStats(d.SQLDB.DB) }
}

// =============================================================================
// Engine wiring shared with patternctl
// =============================================================================

func NewLearner(cfg *config.Config, store out.PatternRepository, senders out.SenderGraph, oracle out.Oracle, m *metrics.Metrics) *pattern.Learner {
	l := cfg.Learning
	extractor := pattern.NewExtractor(oracle, pattern.ExtractorConfig{
		BatchSize:      l.ContinuousBatchSize,
		Concurrency:    l.BatchConcurrency,
		MinConfidence:  l.MinExtractedConfidence,
		DedupThreshold: l.DedupThreshold,
		BodyLimit:      l.BodyTruncate,
		Chunk: pattern.ChunkOptions{
			Threshold: l.ChunkThreshold,
			MaxSize:   l.MaxChunkSize,
			MaxChunks: l.MaxChunks,
		},
		MaxTokens:   1500,
		Temperature: 0.2,
	})

	return pattern.NewLearner(store, senders, extractor, m, pattern.LearnerConfig{
		MinContentLength:         l.MinContentLength,
		CandidateMinConfidence:   l.CandidateMinConfidence,
		TemplateOverlapThreshold: l.TemplateOverlapThreshold,
		OwnReplyBoost:            l.OwnReplyBoost,
		OwnReplySuccessRate:      l.OwnReplySuccessRate,
		MergeThreshold:           l.MergeThreshold,
		SuccessRateStep:          l.SuccessRateStep,
		HistoryBatchSize:         l.HistoryBatchSize,
		ContinuousBatchSize:      l.ContinuousBatchSize,
	})
}

func NewGenerator(cfg *config.Config, oracle out.Oracle) *draft.Generator {
	return draft.NewGenerator(oracle, draft.GeneratorConfig{
		Temperature: cfg.LLMTemperature,
		MaxTokens:   cfg.LLMMaxTokens,
	})
}

func SelectorConfig(cfg *config.Config) draft.SelectorConfig {
	sc := draft.DefaultSelectorConfig()
	sc.MatchThreshold = cfg.Learning.MinPatternConfidence
	sc.FallbackConfidence = cfg.Learning.FallbackConfidence
	sc.SuccessRateStep = cfg.Learning.SuccessRateStep
	sc.DraftTTL = cfg.DraftTTL
	return sc
}
