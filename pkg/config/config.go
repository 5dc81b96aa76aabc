package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

// DBConfig holds the connection settings shared by every store the service talks to:
// the central control plane, the legacy shared store and each tenant's dedicated store.
type DBConfig struct {
	CentralURL      string
	LegacyURL       string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
	LogLevel        logger.LogLevel
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Env  string
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	SigningKey      string
	ExpirationHours int
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Prefix string
}

// ProvisionerConfig holds the settings of the branch provisioning API
type ProvisionerConfig struct {
	BaseURL      string
	APIKey       string
	ProjectID    string
	DatabaseName string
	RoleName     string
	Timeout      time.Duration
}

// Enabled reports whether enough settings are present to call the provisioning API.
func (p ProvisionerConfig) Enabled() bool {
	return p.APIKey != "" && p.ProjectID != ""
}

// SuperAdminConfig holds the credentials of the platform console
type SuperAdminConfig struct {
	Email        string
	PasswordHash string
}

// BillingConfig holds tenant billing defaults
type BillingConfig struct {
	TrialDays int
}

// RateLimitConfig holds request rate limits
type RateLimitConfig struct {
	AuthPerSecond float64
}

// Config holds all configuration
type Config struct {
	ServiceName string
	DB          DBConfig
	Server      ServerConfig
	JWT         JWTConfig
	Log         LogConfig
	Metrics     MetricsConfig
	Provisioner ProvisionerConfig
	SuperAdmin  SuperAdminConfig
	Billing     BillingConfig
	RateLimit   RateLimitConfig
}

// Load loads configuration from an optional .env file and the environment
func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		// Not returning error as .env file is optional
		fmt.Printf("Warning: .env file not found, using environment variables\n")
	}

	config := &Config{
		ServiceName: getEnv("SERVICE_NAME", "lavadero"),
		DB: DBConfig{
			CentralURL:      getEnv("CENTRAL_DB_URL", ""),
			LegacyURL:       getEnv("POSTGRES_URL", ""),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 20),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnectTimeout:  getEnvAsDuration("DB_CONNECT_TIMEOUT", 5*time.Second),
			LogLevel:        getEnvAsLogLevel("DB_LOG_LEVEL", logger.Warn),
		},
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Env:  getEnv("APP_ENV", "development"),
		},
		JWT: JWTConfig{
			SigningKey:      getEnv("JWT_SECRET", ""),
			ExpirationHours: getEnvAsInt("JWT_EXPIRATION_HOURS", 7*24),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Metrics: MetricsConfig{
			Prefix: getEnv("METRICS_PREFIX", "lavadero"),
		},
		Provisioner: ProvisionerConfig{
			BaseURL:      getEnv("NEON_API_URL", "https://console.neon.tech/api/v2"),
			APIKey:       getEnv("NEON_API_KEY", ""),
			ProjectID:    getEnv("NEON_PROJECT_ID", ""),
			DatabaseName: getEnv("NEON_DATABASE_NAME", "neondb"),
			RoleName:     getEnv("NEON_ROLE_NAME", "neondb_owner"),
			Timeout:      getEnvAsDuration("NEON_API_TIMEOUT", 30*time.Second),
		},
		SuperAdmin: SuperAdminConfig{
			Email:        getEnv("SUPER_ADMIN_EMAIL", ""),
			PasswordHash: getEnv("SUPER_ADMIN_PASSWORD_HASH", ""),
		},
		Billing: BillingConfig{
			TrialDays: getEnvAsInt("TRIAL_DAYS", 15),
		},
		RateLimit: RateLimitConfig{
			AuthPerSecond: getEnvAsFloat("AUTH_RATE_LIMIT", 5),
		},
	}

	return config, nil
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.JWT.SigningKey == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("JWT_SECRET is required in production"))
		} else {
			c.JWT.SigningKey = "development-secret"
		}
	}
	if c.JWT.ExpirationHours <= 0 {
		errs = append(errs, errors.New("JWT_EXPIRATION_HOURS must be positive"))
	}
	if c.DB.CentralURL == "" {
		errs = append(errs, errors.New("CENTRAL_DB_URL is required"))
	}
	if c.DB.LegacyURL == "" {
		errs = append(errs, errors.New("POSTGRES_URL is required"))
	}
	if c.DB.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("DB_CONNECT_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether the service runs with production settings
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// TokenTTL returns the validity window of session tokens
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.JWT.ExpirationHours) * time.Hour
}

// LogConfig returns the configuration as a zap logger-friendly format
func (c *Config) LogConfig() []zap.Field {
	return []zap.Field{
		zap.String("service", c.ServiceName),
		zap.String("environment", c.Server.Env),
		zap.String("central_db", MaskURL(c.DB.CentralURL)),
		zap.String("legacy_db", MaskURL(c.DB.LegacyURL)),
		zap.String("server_port", c.Server.Port),
		zap.Bool("provisioner_enabled", c.Provisioner.Enabled()),
		zap.Int("token_ttl_hours", c.JWT.ExpirationHours),
	}
}

// MaskURL hides the credentials of a connection string so it can be logged
func MaskURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***MASKED***"
	}
	return u.Redacted()
}

// Helper function to get environment variables with defaults
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as integers
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as durations
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as log levels
func getEnvAsLogLevel(key string, defaultValue logger.LogLevel) logger.LogLevel {
	valueStr := getEnv(key, "")
	switch valueStr {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return defaultValue
	}
}
