package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Environment   string
	AWS           AWSConfig
	Postgres      PostgresConfig
	Redis         RedisConfig
	API           APIConfig
	Upload        UploadConfig
	Cache         CacheConfig
	Worker        WorkerConfig
	Observability ObservabilityConfig
	CORS          CORSConfig
}

// AWSConfig holds AWS-specific configuration.
type AWSConfig struct {
	Region      string
	VideoBucket string
	SQSQueueURL string
}

// PostgresConfig holds metadata store configuration.
type PostgresConfig struct {
	DSN string
}

// RedisConfig holds list cache configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// APIConfig holds API server configuration.
type APIConfig struct {
	Port            string
	Username        string
	Password        string
	JWTSecret       string
	AuthMaxFailures int
	AuthLockWindow  time.Duration
}

// UploadConfig holds upload intake limits and scratch space.
type UploadConfig struct {
	MaxUploadMB int64
	ScratchDir  string
}

// CacheConfig holds the listing cache TTL.
type CacheConfig struct {
	ListTTL time.Duration
}

// WorkerConfig holds worker-specific configuration.
type WorkerConfig struct {
	MetricsPort   int
	IdleSleep     time.Duration
	WaitTimeSecs  int32
	VisibilitySec int32
}

// ObservabilityConfig holds observability configuration.
type ObservabilityConfig struct {
	OTLPEndpoint string
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string
}

// Default values
const (
	DefaultPort          = "8080"
	DefaultMetricsPort   = 2112
	DefaultRegion        = "ap-southeast-2"
	DefaultMaxUploadMB   = 200
	DefaultScratchDir    = "/tmp/uploads"
	DefaultListTTL       = 30 * time.Second
	DefaultIdleSleep     = 5 * time.Second
	DefaultWaitTimeSecs  = 10
	DefaultVisibilitySec = 60
	DefaultOTLPEndpoint  = "localhost:4317"

	DefaultAuthMaxFailures = 5
	DefaultAuthLockWindow  = 15 * time.Minute
)

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENV", "dev"),
		AWS: AWSConfig{
			Region:      getEnv("AWS_REGION", DefaultRegion),
			VideoBucket: os.Getenv("S3_BUCKET"),
			SQSQueueURL: os.Getenv("SQS_QUEUE_URL"),
		},
		Postgres: PostgresConfig{
			DSN: os.Getenv("DATABASE_URL"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		API: APIConfig{
			Port:            getEnv("PORT", DefaultPort),
			Username:        os.Getenv("API_USERNAME"),
			Password:        os.Getenv("API_PASSWORD"),
			JWTSecret:       os.Getenv("JWT_SECRET"),
			AuthMaxFailures: getEnvInt("AUTH_MAX_FAILURES", DefaultAuthMaxFailures),
			AuthLockWindow:  getEnvDuration("AUTH_LOCK_WINDOW", DefaultAuthLockWindow),
		},
		Upload: UploadConfig{
			MaxUploadMB: int64(getEnvInt("MAX_UPLOAD_MB", DefaultMaxUploadMB)),
			ScratchDir:  getEnv("UPLOAD_SCRATCH_DIR", DefaultScratchDir),
		},
		Cache: CacheConfig{
			ListTTL: getEnvDuration("LIST_CACHE_TTL", DefaultListTTL),
		},
		Worker: WorkerConfig{
			MetricsPort:   getEnvInt("METRICS_PORT", DefaultMetricsPort),
			IdleSleep:     getEnvDuration("WORKER_IDLE_SLEEP", DefaultIdleSleep),
			WaitTimeSecs:  int32(getEnvInt("SQS_WAIT_TIME_SECONDS", DefaultWaitTimeSecs)),
			VisibilitySec: int32(getEnvInt("SQS_VISIBILITY_TIMEOUT", DefaultVisibilitySec)),
		},
		Observability: ObservabilityConfig{
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", DefaultOTLPEndpoint),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{
				"http://localhost:3000",
			}),
		},
	}

	return cfg, nil
}

// LoadAPI loads configuration required for the API service.
func LoadAPI() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if err := cfg.ValidateAPI(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadWorker loads configuration required for the Worker service.
func LoadWorker() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if err := cfg.ValidateWorker(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ValidateAPI validates configuration required for the API service.
func (c *Config) ValidateAPI() error {
	var errs []string

	if c.AWS.VideoBucket == "" {
		errs = append(errs, "S3_BUCKET is required")
	}
	if c.AWS.SQSQueueURL == "" {
		errs = append(errs, "SQS_QUEUE_URL is required")
	}
	if c.Postgres.DSN == "" {
		errs = append(errs, "DATABASE_URL is required")
	}

	if c.IsProduction() {
		if c.API.Username == "" {
			errs = append(errs, "API_USERNAME is required in production")
		}
		if c.API.Password == "" {
			errs = append(errs, "API_PASSWORD is required in production")
		}
		if c.API.JWTSecret == "" {
			errs = append(errs, "JWT_SECRET is required in production")
		}
		if len(c.API.JWTSecret) < 32 {
			errs = append(errs, "JWT_SECRET must be at least 32 characters in production")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ValidateWorker validates configuration required for the Worker service.
func (c *Config) ValidateWorker() error {
	var errs []string

	if c.AWS.SQSQueueURL == "" {
		errs = append(errs, "SQS_QUEUE_URL is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// IsProduction returns true if running in production environment. The
// listing cache is only populated in production; other modes always read
// through to the metadata store.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Environment)
	return env == "prod" || env == "production"
}

// MaxUploadBytes returns the upload size limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return c.Upload.MaxUploadMB * 1024 * 1024
}

// GetAPICredentials returns API credentials with fallback for development.
func (c *Config) GetAPICredentials() (username, password string, err error) {
	username = c.API.Username
	password = c.API.Password

	if username == "" || password == "" {
		if c.IsProduction() {
			return "", "", errors.New("API credentials not configured")
		}
		// Development fallback
		return "admin", "secret", nil
	}

	return username, password, nil
}

// GetJWTSecret returns the JWT secret.
func (c *Config) GetJWTSecret() ([]byte, error) {
	secret := c.API.JWTSecret

	if secret == "" {
		return nil, errors.New("JWT_SECRET is required (set it even for development)")
	}

	if len(secret) < 32 && c.IsProduction() {
		return nil, errors.New("JWT_SECRET must be at least 32 characters")
	}

	return []byte(secret), nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil && intVal >= 0 {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
