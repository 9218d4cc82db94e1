package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// DatabaseConfig holds PostgreSQL database connection settings.
type DatabaseConfig struct {
	Host               string
	Port               string
	User               string
	Password           string
	Name               string
	SSLMode            string
	MaxOpenConns       int `validate:"min=0"`
	MaxIdleConns       int `validate:"min=0"`
	ConnMaxLifetimeSec int `validate:"min=0"`
	AutoMigrate        bool
}

// MinIOConfig holds object storage settings for MinIO.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// LocalConfig holds the directories used by the local fallback backend and the upload spool.
type LocalConfig struct {
	FallbackDir string `validate:"required"`
	SpoolDir    string `validate:"required"`
}

// SyncConfig tunes the storage sync engine and its retry queue.
type SyncConfig struct {
	BaseDelay        time.Duration `validate:"gt=0"`
	MaxRetries       int           `validate:"min=0"`
	BackendTimeout   time.Duration `validate:"gt=0"`
	DrainInterval    time.Duration `validate:"gt=0"`
	BatchConcurrency int           `validate:"min=1"`
}

// EventsConfig tunes the event bus, its cache and the optional outbound relay.
type EventsConfig struct {
	CacheTTL         time.Duration `validate:"gt=0"`
	CacheSize        int           `validate:"min=1"`
	SubscriberBuffer int           `validate:"min=1"`
	RelayURL         string        `validate:"omitempty,url"`
	RelayBackoff     time.Duration `validate:"gt=0"`
}

// VerificationConfig points at the external document verification provider.
type VerificationConfig struct {
	ProviderURL string        `validate:"omitempty,url"`
	Attempts    int           `validate:"min=1"`
	Delay       time.Duration `validate:"gt=0"`
}

// AppConfig is the centralized configuration struct for the application.
// It is populated from environment variables. Sensitive values are not hardcoded.
type AppConfig struct {
	AppHost      string
	Port         string `validate:"required,numeric"`
	LogLevel     string `validate:"oneof=debug info warn error"`
	Database     DatabaseConfig
	MinIO        MinIOConfig
	Local        LocalConfig
	Sync         SyncConfig
	Events       EventsConfig
	Verification VerificationConfig
}

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// This function does not require a .env file; real environment variables take precedence.
func Load() *AppConfig {
	return &AppConfig{
		AppHost:  getEnv("APP_HOST", "localhost:8080"),
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			Host:               getEnv("DB_HOST", ""),
			Port:               getEnv("DB_PORT", "5432"),
			User:               getEnv("DB_USER", ""),
			Password:           getEnv("DB_PASSWORD", ""),
			Name:               getEnv("DB_NAME", ""),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetimeSec: getEnvInt("DB_CONN_MAX_LIFETIME_SEC", 300),
			AutoMigrate:        getEnvBool("DB_AUTO_MIGRATE", true),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", ""),
			Region:    getEnv("MINIO_REGION", "us-east-1"),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
		Local: LocalConfig{
			FallbackDir: getEnv("LOCAL_FALLBACK_DIR", "./data/fallback"),
			SpoolDir:    getEnv("LOCAL_SPOOL_DIR", "./data/spool"),
		},
		Sync: SyncConfig{
			BaseDelay:        getEnvDuration("SYNC_BASE_DELAY", time.Second),
			MaxRetries:       getEnvInt("SYNC_MAX_RETRIES", 3),
			BackendTimeout:   getEnvDuration("SYNC_BACKEND_TIMEOUT", 300*time.Second),
			DrainInterval:    getEnvDuration("SYNC_DRAIN_INTERVAL", time.Second),
			BatchConcurrency: getEnvInt("SYNC_BATCH_CONCURRENCY", 3),
		},
		Events: EventsConfig{
			CacheTTL:         getEnvDuration("EVENTS_CACHE_TTL", time.Hour),
			CacheSize:        getEnvInt("EVENTS_CACHE_SIZE", 1024),
			SubscriberBuffer: getEnvInt("EVENTS_SUBSCRIBER_BUFFER", 64),
			RelayURL:         getEnv("EVENTS_RELAY_URL", ""),
			RelayBackoff:     getEnvDuration("EVENTS_RELAY_BACKOFF", 5*time.Second),
		},
		Verification: VerificationConfig{
			ProviderURL: getEnv("VERIFICATION_PROVIDER_URL", ""),
			Attempts:    getEnvInt("VERIFICATION_ATTEMPTS", 3),
			Delay:       getEnvDuration("VERIFICATION_DELAY", 2*time.Second),
		},
	}
}

// Validate checks the loaded configuration for values the services cannot start with.
func (c *AppConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}
