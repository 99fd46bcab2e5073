package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	App      AppConfig
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Security SecurityConfig
	Session  SessionConfig
	Audit    AuditConfig
	Log      LogConfig
	Tracing  TracingConfig
}

type AppConfig struct {
	Name        string
	Environment string
	Version     string
}

func (a AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Host            string
	Port            int
	Name            string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s Timezone=UTC",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled bool
	URL     string
}

// SecurityConfig carries the process-wide key material. All three values are
// read once at startup and never mutated afterwards.
type SecurityConfig struct {
	// EncryptionKey is the 256-bit AES key for PHI at rest, hex encoded.
	EncryptionKey string
	// SessionSecret signs session tokens and integrity tags.
	SessionSecret string
	// IdentifierSalt salts patient identifier hashes in the audit trail.
	IdentifierSalt string
	// BcryptCost is the adaptive hashing cost factor.
	BcryptCost int
}

type SessionConfig struct {
	// Duration is the sliding inactivity window. A session with no activity
	// for this long is expired regardless of how recently it was created.
	Duration time.Duration
	// ExpiryWarning is how close to expiry Require starts warning callers.
	ExpiryWarning time.Duration
	CookieName    string
	Issuer        string
}

type AuditConfig struct {
	SinkURL       string
	SinkToken     string
	SinkTimeout   time.Duration
	FlushInterval time.Duration
}

type LogConfig struct {
	Level      string
	Format     string
	OutputPath string
}

type TracingConfig struct {
	Enabled     bool
	ServiceName string
	EndpointURL string
	SampleRate  float64
}

func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:        getEnv("APP_NAME", "phicore-api"),
			Environment: getEnv("APP_ENV", "development"),
			Version:     getEnv("APP_VERSION", "0.0.0"),
		},
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnv("DB_NAME", "phicore"),
			User:            getEnv("DB_USER", "phicore"),
			Password:        getEnv("DB_PASSWORD", ""),
			SSLMode:         getEnv("DB_SSLMODE", "require"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Enabled: getEnvBool("REDIS_ENABLED", false),
			URL:     getEnv("REDIS_URL", "redis://localhost:6379/0"),
		},
		Security: SecurityConfig{
			EncryptionKey:  getEnv("PHI_ENCRYPTION_KEY", ""),
			SessionSecret:  getEnv("SESSION_SECRET", ""),
			IdentifierSalt: getEnv("AUDIT_ID_SALT", ""),
			BcryptCost:     getEnvInt("BCRYPT_COST", 12),
		},
		Session: SessionConfig{
			Duration:      getEnvDuration("SESSION_DURATION", 15*time.Minute),
			ExpiryWarning: getEnvDuration("SESSION_EXPIRY_WARNING", 2*time.Minute),
			CookieName:    getEnv("SESSION_COOKIE_NAME", "phicore_session"),
			Issuer:        getEnv("SESSION_ISSUER", "phicore-api"),
		},
		Audit: AuditConfig{
			SinkURL:       getEnv("AUDIT_SINK_URL", ""),
			SinkToken:     getEnv("AUDIT_SINK_TOKEN", ""),
			SinkTimeout:   getEnvDuration("AUDIT_SINK_TIMEOUT", 5*time.Second),
			FlushInterval: getEnvDuration("AUDIT_FLUSH_INTERVAL", 10*time.Second),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			OutputPath: getEnv("LOG_OUTPUT", "stdout"),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("TRACING_ENABLED", false),
			ServiceName: getEnv("TRACING_SERVICE_NAME", "phicore-api"),
			EndpointURL: getEnv("OTLP_ENDPOINT", "localhost:4318"),
			SampleRate:  getEnvFloat("TRACING_SAMPLE_RATE", 0.1),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate enforces production security requirements.
func validate(cfg *Config) error {
	var errs []string

	prod := cfg.App.IsProduction()

	if cfg.Security.EncryptionKey == "" {
		if prod {
			errs = append(errs, "PHI_ENCRYPTION_KEY is required in production")
		}
	} else if key, err := hex.DecodeString(cfg.Security.EncryptionKey); err != nil || len(key) != 32 {
		errs = append(errs, "PHI_ENCRYPTION_KEY must be 32 bytes, hex encoded")
	}

	if cfg.Security.SessionSecret == "" {
		if prod {
			errs = append(errs, "SESSION_SECRET is required in production")
		}
	} else if len(cfg.Security.SessionSecret) < 32 && prod {
		errs = append(errs, "SESSION_SECRET must be at least 32 characters in production")
	}

	if cfg.Security.IdentifierSalt == "" && prod {
		errs = append(errs, "AUDIT_ID_SALT is required in production")
	}

	if cfg.Audit.SinkURL == "" && prod {
		errs = append(errs, "AUDIT_SINK_URL is required in production")
	}

	if cfg.Database.Password == "" && cfg.App.Environment != "development" {
		errs = append(errs, "DB_PASSWORD is required in non-development environments")
	}

	if cfg.Database.SSLMode == "disable" && prod {
		errs = append(errs, "DB_SSLMODE=disable is not allowed in production")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
