// Package config provides configuration loading and validation for the
// tripfeed API server and admin CLI. It uses koanf to merge environment
// variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/onnwee/tripfeed/internal/validate"
)

// Config holds all configuration values.
type Config struct {
	// Server settings
	Port        int      `koanf:"port"`
	Env         string   `koanf:"env"`
	CORSOrigins []string `koanf:"cors_allowed_origins"`

	// Relational store (content, features, profiles, interactions)
	DatabaseURL string `koanf:"database_url"`
	// VectorDatabaseURL points the pgvector index at a separate database.
	// Defaults to DatabaseURL.
	VectorDatabaseURL string `koanf:"vector_database_url"`

	// JWT authentication. JWTPreviousSecret keeps tokens signed before a
	// rotation valid.
	JWTSecret         string `koanf:"jwt_secret"`
	JWTPreviousSecret string `koanf:"jwt_previous_secret"`

	// Redis backs caches, rate limits, click dedup and update locks.
	// Without it everything runs in process.
	RedisURL string `koanf:"redis_url"`

	// NATS JetStream interaction events. Optional.
	NATSURL   string `koanf:"nats_url"`
	NATSTopic string `koanf:"nats_topic"`

	// OpenAI-compatible embedding and completion service
	OpenAIAPIKey        string  `koanf:"openai_api_key"`
	OpenAIBaseURL       string  `koanf:"openai_base_url"`
	ChatModel           string  `koanf:"chat_model"`
	EmbeddingModel      string  `koanf:"embedding_model"`
	EmbeddingDimensions int     `koanf:"embedding_dimensions"`
	LLMRatePerSecond    float64 `koanf:"llm_rate_per_second"`

	// Cross-encoder rerank service. Optional; without it ranking order is kept.
	RerankURL string `koanf:"rerank_url"`

	// Category encoding artifact: a local path, or an object in a bucket.
	EncodingPath   string `koanf:"encoding_path"`
	EncodingBucket string `koanf:"encoding_bucket"`
	EncodingKey    string `koanf:"encoding_key"`

	// S3-compatible object store holding the encoding artifact
	S3Endpoint        string `koanf:"s3_endpoint"`
	S3Region          string `koanf:"s3_region"`
	S3AccessKeyID     string `koanf:"s3_access_key_id"`
	S3SecretAccessKey string `koanf:"s3_secret_access_key"`

	// CalibrationPath is an optional JSON file of ranking weights.
	CalibrationPath string `koanf:"calibration_path"`

	// Background jobs and caching
	ProfileUpdateInterval time.Duration `koanf:"profile_update_interval"`
	GlobalProfileInterval time.Duration `koanf:"global_profile_interval"`
	TrimInterval          time.Duration `koanf:"trim_interval"`
	FeedCacheTTL          time.Duration `koanf:"feed_cache_ttl"`

	// Timeouts. RequestTimeout bounds a whole HTTP request; the others
	// bound one call to a dependency inside it.
	RequestTimeout   time.Duration `koanf:"request_timeout"`
	RetrievalTimeout time.Duration `koanf:"retrieval_timeout"`
	RerankTimeout    time.Duration `koanf:"rerank_timeout"`
	EmbeddingTimeout time.Duration `koanf:"embedding_timeout"`
	LLMTimeout       time.Duration `koanf:"llm_timeout"`

	// Tracing
	TracingEnabled    bool    `koanf:"tracing_enabled"`
	TracingExporter   string  `koanf:"tracing_exporter"`
	OTLPEndpoint      string  `koanf:"otlp_endpoint"`
	TracingSampleRate float64 `koanf:"tracing_sample_rate"`
	TracingInsecure   bool    `koanf:"tracing_insecure"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL       = errors.New("DATABASE_URL is required")
	ErrMissingJWTSecret         = errors.New("JWT_SECRET is required")
	ErrMissingOpenAIAPIKey      = errors.New("OPENAI_API_KEY is required")
	ErrMissingEncoding          = errors.New("ENCODING_PATH or ENCODING_BUCKET and ENCODING_KEY are required")
	ErrMissingEncodingKey       = errors.New("ENCODING_KEY is required with ENCODING_BUCKET")
	ErrMissingS3AccessKeyID     = errors.New("S3_ACCESS_KEY_ID is required")
	ErrMissingS3SecretAccessKey = errors.New("S3_SECRET_ACCESS_KEY is required")
	ErrInvalidPort              = errors.New("PORT must be a valid integer")
	ErrPortOutOfRange           = errors.New("PORT must be between 1 and 65535")
	ErrInvalidSampleRate        = errors.New("TRACING_SAMPLE_RATE must be between 0 and 1")
	ErrInvalidExporter          = errors.New("TRACING_EXPORTER must be otlp-http or otlp-grpc")
	ErrInvalidDimensions        = errors.New("EMBEDDING_DIMENSIONS must be positive")
	ErrInvalidURL               = errors.New("invalid service URL")
	ErrInvalidTimeout           = errors.New("timeouts must be positive")
)

// Default values for non-secret configuration.
const (
	DefaultPort                  = 8080
	DefaultEnv                   = "development"
	DefaultNATSTopic             = "tripfeed.interactions"
	DefaultChatModel             = "gpt-4o-mini"
	DefaultEmbeddingModel        = "text-embedding-3-small"
	DefaultEmbeddingDimensions   = 384
	DefaultLLMRatePerSecond      = 10.0
	DefaultS3Region              = "auto"
	DefaultProfileUpdateInterval = 2 * time.Second
	DefaultGlobalProfileInterval = 24 * time.Hour
	DefaultTrimInterval          = 6 * time.Hour
	DefaultFeedCacheTTL          = 10 * time.Minute
	DefaultRequestTimeout        = 30 * time.Second
	DefaultRetrievalTimeout      = 3 * time.Second
	DefaultRerankTimeout         = 2 * time.Second
	DefaultEmbeddingTimeout      = 5 * time.Second
	DefaultLLMTimeout            = 15 * time.Second
	DefaultTracingExporter       = "otlp-http"
	DefaultTracingSampleRate     = 0.1
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error
	collect := func(err error) {
		if err != nil {
			loadErrs = append(loadErrs, err)
		}
	}

	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	port, err := getEnvIntOrDefaultMulti([]string{"TRIPFEED_PORT", "PORT"}, k.Int("port"), DefaultPort)
	collect(err)
	dims, err := getEnvIntOrDefault("EMBEDDING_DIMENSIONS", k.Int("embedding_dimensions"), DefaultEmbeddingDimensions)
	collect(err)
	llmRate, err := getEnvFloatOrDefault("LLM_RATE_PER_SECOND", k.Float64("llm_rate_per_second"), DefaultLLMRatePerSecond)
	collect(err)
	sampleRate, err := getEnvFloatOrDefault("TRACING_SAMPLE_RATE", k.Float64("tracing_sample_rate"), DefaultTracingSampleRate)
	collect(err)

	updateInterval, err := getEnvDurationOrDefault("PROFILE_UPDATE_INTERVAL", k.Duration("profile_update_interval"), DefaultProfileUpdateInterval)
	collect(err)
	globalInterval, err := getEnvDurationOrDefault("GLOBAL_PROFILE_INTERVAL", k.Duration("global_profile_interval"), DefaultGlobalProfileInterval)
	collect(err)
	trimInterval, err := getEnvDurationOrDefault("TRIM_INTERVAL", k.Duration("trim_interval"), DefaultTrimInterval)
	collect(err)
	feedTTL, err := getEnvDurationOrDefault("FEED_CACHE_TTL", k.Duration("feed_cache_ttl"), DefaultFeedCacheTTL)
	collect(err)
	requestTimeout, err := getEnvDurationOrDefault("REQUEST_TIMEOUT", k.Duration("request_timeout"), DefaultRequestTimeout)
	collect(err)
	retrievalTimeout, err := getEnvDurationOrDefault("RETRIEVAL_TIMEOUT", k.Duration("retrieval_timeout"), DefaultRetrievalTimeout)
	collect(err)
	rerankTimeout, err := getEnvDurationOrDefault("RERANK_TIMEOUT", k.Duration("rerank_timeout"), DefaultRerankTimeout)
	collect(err)
	embeddingTimeout, err := getEnvDurationOrDefault("EMBEDDING_TIMEOUT", k.Duration("embedding_timeout"), DefaultEmbeddingTimeout)
	collect(err)
	llmTimeout, err := getEnvDurationOrDefault("LLM_TIMEOUT", k.Duration("llm_timeout"), DefaultLLMTimeout)
	collect(err)

	cfg := &Config{
		Port:                  port,
		Env:                   getEnvOrDefaultMulti([]string{"TRIPFEED_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		CORSOrigins:           getEnvListOrKoanf("CORS_ALLOWED_ORIGINS", k, "cors_allowed_origins"),
		DatabaseURL:           getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		VectorDatabaseURL:     getEnvOrKoanf("VECTOR_DATABASE_URL", k, "vector_database_url"),
		JWTSecret:             getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		JWTPreviousSecret:     getEnvOrKoanf("JWT_PREVIOUS_SECRET", k, "jwt_previous_secret"),
		RedisURL:              getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		NATSURL:               getEnvOrKoanf("NATS_URL", k, "nats_url"),
		NATSTopic:             getEnvOrDefault("NATS_TOPIC", k.String("nats_topic"), DefaultNATSTopic),
		OpenAIAPIKey:          getEnvOrKoanf("OPENAI_API_KEY", k, "openai_api_key"),
		OpenAIBaseURL:         getEnvOrKoanf("OPENAI_BASE_URL", k, "openai_base_url"),
		ChatModel:             getEnvOrDefault("CHAT_MODEL", k.String("chat_model"), DefaultChatModel),
		EmbeddingModel:        getEnvOrDefault("EMBEDDING_MODEL", k.String("embedding_model"), DefaultEmbeddingModel),
		EmbeddingDimensions:   dims,
		LLMRatePerSecond:      llmRate,
		RerankURL:             getEnvOrKoanf("RERANK_URL", k, "rerank_url"),
		EncodingPath:          getEnvOrKoanf("ENCODING_PATH", k, "encoding_path"),
		EncodingBucket:        getEnvOrKoanf("ENCODING_BUCKET", k, "encoding_bucket"),
		EncodingKey:           getEnvOrKoanf("ENCODING_KEY", k, "encoding_key"),
		S3Endpoint:            getEnvOrKoanf("S3_ENDPOINT", k, "s3_endpoint"),
		S3Region:              getEnvOrDefault("S3_REGION", k.String("s3_region"), DefaultS3Region),
		S3AccessKeyID:         getEnvOrKoanf("S3_ACCESS_KEY_ID", k, "s3_access_key_id"),
		S3SecretAccessKey:     getEnvOrKoanf("S3_SECRET_ACCESS_KEY", k, "s3_secret_access_key"),
		CalibrationPath:       getEnvOrKoanf("CALIBRATION_PATH", k, "calibration_path"),
		ProfileUpdateInterval: updateInterval,
		GlobalProfileInterval: globalInterval,
		TrimInterval:          trimInterval,
		FeedCacheTTL:          feedTTL,
		RequestTimeout:        requestTimeout,
		RetrievalTimeout:      retrievalTimeout,
		RerankTimeout:         rerankTimeout,
		EmbeddingTimeout:      embeddingTimeout,
		LLMTimeout:            llmTimeout,
		TracingEnabled:        getEnvBoolOrKoanf("TRACING_ENABLED", k, "tracing_enabled"),
		TracingExporter:       getEnvOrDefault("TRACING_EXPORTER", k.String("tracing_exporter"), DefaultTracingExporter),
		OTLPEndpoint:          getEnvOrKoanf("OTEL_EXPORTER_OTLP_ENDPOINT", k, "otlp_endpoint"),
		TracingSampleRate:     sampleRate,
		TracingInsecure:       getEnvBoolOrKoanf("TRACING_INSECURE", k, "tracing_insecure"),
	}
	if cfg.VectorDatabaseURL == "" {
		cfg.VectorDatabaseURL = cfg.DatabaseURL
	}

	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvListOrKoanf reads a comma-separated env var, or a YAML list.
func getEnvListOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) []string {
	var items []string
	if val := os.Getenv(envKey); val != "" {
		items = strings.Split(val, ",")
	} else {
		items = k.Strings(koanfKey)
	}
	out := items[:0]
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// getEnvBoolOrKoanf parses common truthy spellings from the env var, falling
// back to the koanf value.
func getEnvBoolOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) bool {
	switch strings.ToLower(os.Getenv(envKey)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return k.Bool(koanfKey)
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, err)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
// Note: a port value of 0 from a YAML file falls back to the default.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as a float.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvDurationOrDefault parses a Go duration ("90s", "24h") from the env
// var, otherwise the koanf value, or default.
func getEnvDurationOrDefault(envKey string, koanfVal time.Duration, defaultVal time.Duration) (time.Duration, error) {
	if val := os.Getenv(envKey); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid duration: %w", envKey, err)
		}
		return d, nil
	}
	if koanfVal > 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, ErrPortOutOfRange)
	}
	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.OpenAIAPIKey == "" {
		errs = append(errs, ErrMissingOpenAIAPIKey)
	}
	if c.EmbeddingDimensions <= 0 {
		errs = append(errs, ErrInvalidDimensions)
	}

	switch {
	case c.EncodingPath == "" && c.EncodingBucket == "":
		errs = append(errs, ErrMissingEncoding)
	case c.EncodingBucket != "" && c.EncodingKey == "":
		errs = append(errs, ErrMissingEncodingKey)
	}

	// Object store credentials are optional. Only validate them if any is set.
	if c.S3AccessKeyID != "" || c.S3SecretAccessKey != "" {
		if c.S3AccessKeyID == "" {
			errs = append(errs, ErrMissingS3AccessKeyID)
		}
		if c.S3SecretAccessKey == "" {
			errs = append(errs, ErrMissingS3SecretAccessKey)
		}
	}

	for name, u := range map[string]string{
		"OPENAI_BASE_URL": c.OpenAIBaseURL,
		"RERANK_URL":      c.RerankURL,
		"S3_ENDPOINT":     c.S3Endpoint,
	} {
		if u == "" {
			continue
		}
		if _, err := validate.ServiceURL(u); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrInvalidURL, name, err))
		}
	}

	for _, d := range []time.Duration{c.RequestTimeout, c.RetrievalTimeout, c.RerankTimeout, c.EmbeddingTimeout, c.LLMTimeout} {
		if d <= 0 {
			errs = append(errs, ErrInvalidTimeout)
			break
		}
	}

	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		errs = append(errs, ErrInvalidSampleRate)
	}
	if c.TracingEnabled && c.TracingExporter != "otlp-http" && c.TracingExporter != "otlp-grpc" {
		errs = append(errs, ErrInvalidExporter)
	}

	return errs
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                    strconv.Itoa(c.Port),
		"env":                     c.Env,
		"cors_allowed_origins":    strings.Join(c.CORSOrigins, ","),
		"database_url":            maskDatabaseURL(c.DatabaseURL),
		"vector_database_url":     maskDatabaseURL(c.VectorDatabaseURL),
		"jwt_secret":              maskSecret(c.JWTSecret),
		"jwt_previous_secret":     maskSecret(c.JWTPreviousSecret),
		"redis_url":               maskDatabaseURL(c.RedisURL),
		"nats_url":                maskDatabaseURL(c.NATSURL),
		"nats_topic":              c.NATSTopic,
		"openai_api_key":          maskAPIKey(c.OpenAIAPIKey),
		"openai_base_url":         c.OpenAIBaseURL,
		"chat_model":              c.ChatModel,
		"embedding_model":         c.EmbeddingModel,
		"embedding_dimensions":    strconv.Itoa(c.EmbeddingDimensions),
		"llm_rate_per_second":     strconv.FormatFloat(c.LLMRatePerSecond, 'f', -1, 64),
		"rerank_url":              c.RerankURL,
		"encoding_path":           c.EncodingPath,
		"encoding_bucket":         c.EncodingBucket,
		"encoding_key":            c.EncodingKey,
		"s3_endpoint":             c.S3Endpoint,
		"s3_region":               c.S3Region,
		"s3_access_key_id":        maskSecret(c.S3AccessKeyID),
		"s3_secret_access_key":    maskSecret(c.S3SecretAccessKey),
		"calibration_path":        c.CalibrationPath,
		"profile_update_interval": c.ProfileUpdateInterval.String(),
		"global_profile_interval": c.GlobalProfileInterval.String(),
		"trim_interval":           c.TrimInterval.String(),
		"feed_cache_ttl":          c.FeedCacheTTL.String(),
		"request_timeout":         c.RequestTimeout.String(),
		"retrieval_timeout":       c.RetrievalTimeout.String(),
		"rerank_timeout":          c.RerankTimeout.String(),
		"embedding_timeout":       c.EmbeddingTimeout.String(),
		"llm_timeout":             c.LLMTimeout.String(),
		"tracing_enabled":         strconv.FormatBool(c.TracingEnabled),
		"tracing_exporter":        c.TracingExporter,
		"otlp_endpoint":           c.OTLPEndpoint,
		"tracing_sample_rate":     strconv.FormatFloat(c.TracingSampleRate, 'f', -1, 64),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskAPIKey masks an API key, preserving a "sk-" or "sk-proj-" style prefix.
func maskAPIKey(s string) string {
	if s == "" {
		return "<not set>"
	}
	if i := strings.LastIndex(s, "-"); i > 0 && i < 12 {
		return s[:i+1] + "****"
	}
	return maskSecret(s)
}

// maskDatabaseURL masks the password in a connection URL
// (postgres://, redis://, nats://).
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
