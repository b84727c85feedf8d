package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// defaultWorkerID names the stream consumer after the host and process.
func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// Database
	DatabaseURL string
	MongoDBURL  string
	MongoDBName string
	RedisURL    string

	// Neo4j
	Neo4jURL      string
	Neo4jUsername string
	Neo4jPassword string

	// OpenAI
	OpenAIAPIKey   string
	LLMMiniModel   string
	LLMModel       string
	LLMMaxTokens   int
	LLMTemperature float64
	LLMTimeout     time.Duration
	LLMMaxRetries  int

	// Worker
	WorkerID        string
	WorkerCount     int
	WorkerQueueSize int
	JobTimeout      time.Duration

	// Consumer (Redis Stream)
	StreamName         string
	ConsumerGroup      string
	ConsumerBatchSize  int
	ConsumerBlock      time.Duration
	ConsumerMaxRetries int

	// Draft cache
	DraftTTL            time.Duration
	DraftCacheMaxItems  int
	CoalesceRetention   time.Duration
	DraftCacheKeyPrefix string

	// CORS
	AllowedOrigins []string

	// Learning thresholds, optionally overlaid from LEARNING_PROFILE
	LearningProfile string
	Learning        Learning
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "pattern_worker"),
		RedisURL:    getEnv("REDIS_URL", ""),

		// Neo4j
		Neo4jURL:      getEnv("NEO4J_URL", ""),
		Neo4jUsername: getEnv("NEO4J_USERNAME", "neo4j"),
		Neo4jPassword: getEnv("NEO4J_PASSWORD", ""),

		// OpenAI
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		LLMMiniModel:   getEnv("LLM_MINI_MODEL", "gpt-4o-mini"),
		LLMModel:       getEnv("LLM_MODEL", "gpt-4o"),
		LLMMaxTokens:   getEnvInt("LLM_MAX_TOKENS", 1024),
		LLMTemperature: getEnvFloat("LLM_TEMPERATURE", 0.7),
		LLMTimeout:     getEnvDuration("LLM_TIMEOUT", 30*time.Second),
		LLMMaxRetries:  getEnvInt("LLM_MAX_RETRIES", 2),

		// Worker
		WorkerID:        getEnv("WORKER_ID", defaultWorkerID()),
		WorkerCount:     getEnvInt("WORKER_COUNT", 4),
		WorkerQueueSize: getEnvInt("WORKER_QUEUE_SIZE", 100),
		JobTimeout:      getEnvDuration("JOB_TIMEOUT", 2*time.Minute),

		// Consumer
		StreamName:         getEnv("STREAM_NAME", "pattern:jobs"),
		ConsumerGroup:      getEnv("CONSUMER_GROUP", "pattern-workers"),
		ConsumerBatchSize:  getEnvInt("CONSUMER_BATCH_SIZE", 10),
		ConsumerBlock:      getEnvDuration("CONSUMER_BLOCK", 5*time.Second),
		ConsumerMaxRetries: getEnvInt("CONSUMER_MAX_RETRIES", 3),

		// Draft cache
		DraftTTL:            getEnvDuration("DRAFT_TTL", 24*time.Hour),
		DraftCacheMaxItems:  getEnvInt("DRAFT_CACHE_MAX_ITEMS", 10000),
		CoalesceRetention:   getEnvDuration("COALESCE_RETENTION", 5*time.Second),
		DraftCacheKeyPrefix: getEnv("DRAFT_CACHE_PREFIX", "draft:"),

		// CORS
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		LearningProfile: getEnv("LEARNING_PROFILE", ""),
		Learning:        DefaultLearning(),
	}

	cfg.Learning.MergeThreshold = getEnvFloat("MERGE_THRESHOLD", cfg.Learning.MergeThreshold)
	cfg.Learning.MinPatternConfidence = getEnvFloat("MIN_PATTERN_CONFIDENCE", cfg.Learning.MinPatternConfidence)
	cfg.Learning.BatchConcurrency = getEnvInt("BATCH_CONCURRENCY", cfg.Learning.BatchConcurrency)

	if cfg.LearningProfile != "" {
		if err := cfg.Learning.Overlay(cfg.LearningProfile); err != nil {
			return nil, err
		}
	}
	if err := cfg.Learning.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// env reads key through parse, keeping def when the variable is unset or
// does not parse.
func env[T any](key string, def T, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		return def
	}
	return v
}

func getEnv(key, def string) string {
	return env(key, def, func(s string) (string, error) { return s, nil })
}

func getEnvInt(key string, def int) int {
	return env(key, def, strconv.Atoi)
}

func getEnvFloat(key string, def float64) float64 {
	return env(key, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

// getEnvDuration accepts Go duration strings ("30s") or bare seconds ("30").
func getEnvDuration(key string, def time.Duration) time.Duration {
	return env(key, def, func(s string) (time.Duration, error) {
		if secs, err := strconv.Atoi(s); err == nil {
			return time.Duration(secs) * time.Second, nil
		}
		return time.ParseDuration(s)
	})
}

func getEnvSlice(key string, def []string) []string {
	return env(key, def, func(s string) ([]string, error) {
		var out []string
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	})
}

func (c *Config) IsDevelopment() bool { return c.Environment == "development" }

func (c *Config) IsProduction() bool { return c.Environment == "production" }
