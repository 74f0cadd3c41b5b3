// Package config loads runtime configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/servimap/servimap/internal/app/services/emergency"
	"github.com/servimap/servimap/internal/app/services/payments"
	"github.com/servimap/servimap/internal/app/services/requests"
	"github.com/servimap/servimap/pkg/logger"
)

// Config is the full runtime configuration.
type Config struct {
	Env         string `env:"SERVIMAP_ENV,default=development"`
	CatalogPath string `env:"SERVIMAP_CATALOG_PATH"`

	HTTP      HTTPConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Payments  PaymentsConfig
	Requests  RequestsConfig
	Emergency EmergencyConfig
	Logging   LoggingConfig
}

// HTTPConfig covers the public API and ops listeners.
type HTTPConfig struct {
	Addr            string        `env:"SERVIMAP_HTTP_ADDR,default=:8080"`
	OpsAddr         string        `env:"SERVIMAP_OPS_ADDR,default=:9090"`
	AllowedOrigins  []string      `env:"SERVIMAP_CORS_ORIGINS"`
	CORSMethods     []string      `env:"SERVIMAP_CORS_METHODS"`
	CORSHeaders     []string      `env:"SERVIMAP_CORS_HEADERS"`
	CORSMaxAge      time.Duration `env:"SERVIMAP_CORS_MAX_AGE,default=1h"`
	RateLimitRPS    float64       `env:"SERVIMAP_RATE_LIMIT_RPS,default=20"`
	RateLimitBurst  int           `env:"SERVIMAP_RATE_LIMIT_BURST,default=40"`
	ReadTimeout     time.Duration `env:"SERVIMAP_HTTP_READ_TIMEOUT,default=15s"`
	WriteTimeout    time.Duration `env:"SERVIMAP_HTTP_WRITE_TIMEOUT,default=30s"`
	ShutdownTimeout time.Duration `env:"SERVIMAP_SHUTDOWN_TIMEOUT,default=20s"`
	AuditFile       string        `env:"SERVIMAP_AUDIT_FILE"`
}

// DatabaseConfig selects the system of record. An empty DSN runs on the
// in-memory store.
type DatabaseConfig struct {
	DSN             string        `env:"SERVIMAP_DATABASE_DSN"`
	MaxOpenConns    int           `env:"SERVIMAP_DATABASE_MAX_OPEN,default=20"`
	MaxIdleConns    int           `env:"SERVIMAP_DATABASE_MAX_IDLE,default=5"`
	ConnMaxLifetime time.Duration `env:"SERVIMAP_DATABASE_CONN_LIFETIME,default=30m"`
	AutoMigrate     bool          `env:"SERVIMAP_DATABASE_AUTO_MIGRATE,default=true"`
}

// RedisConfig enables the geo index and notification fan-out when Addr is set.
type RedisConfig struct {
	Addr     string `env:"SERVIMAP_REDIS_ADDR"`
	Password string `env:"SERVIMAP_REDIS_PASSWORD"`
	DB       int    `env:"SERVIMAP_REDIS_DB,default=0"`
}

// AuthConfig holds the token signing material.
type AuthConfig struct {
	MasterKey string        `env:"SERVIMAP_MASTER_KEY"`
	TokenTTL  time.Duration `env:"SERVIMAP_TOKEN_TTL,default=24h"`
}

// PaymentsConfig configures the ledger and gateway.
type PaymentsConfig struct {
	CommissionBasisPoints int           `env:"SERVIMAP_COMMISSION_BPS,default=1500"`
	WebhookSecret         string        `env:"SERVIMAP_PAYMENTS_WEBHOOK_SECRET"`
	GatewayURL            string        `env:"SERVIMAP_GATEWAY_URL"`
	GatewayAPIKey         string        `env:"SERVIMAP_GATEWAY_API_KEY"`
	GatewayTimeout        time.Duration `env:"SERVIMAP_GATEWAY_TIMEOUT,default=10s"`
}

// RequestsConfig configures lifecycle windows and the settlement runner.
type RequestsConfig struct {
	AcceptTimeout      time.Duration `env:"SERVIMAP_ACCEPT_TIMEOUT,default=24h"`
	RatingWindow       time.Duration `env:"SERVIMAP_RATING_WINDOW,default=48h"`
	DisputeWindow      time.Duration `env:"SERVIMAP_DISPUTE_WINDOW,default=72h"`
	SettlementSchedule string        `env:"SERVIMAP_SETTLEMENT_SCHEDULE,default=@every 1m"`
	SettlementBatch    int           `env:"SERVIMAP_SETTLEMENT_BATCH,default=100"`
}

// EmergencyConfig configures emergency matching.
type EmergencyConfig struct {
	MaxCandidates  int           `env:"SERVIMAP_EMERGENCY_MAX_CANDIDATES,default=5"`
	RadiusKm       float64       `env:"SERVIMAP_EMERGENCY_RADIUS_KM,default=25"`
	AcceptTimeout  time.Duration `env:"SERVIMAP_EMERGENCY_ACCEPT_TIMEOUT,default=10m"`
	TravelSpeedKmh float64       `env:"SERVIMAP_EMERGENCY_TRAVEL_SPEED_KMH,default=40"`
}

// LoggingConfig mirrors logger.LoggingConfig.
type LoggingConfig struct {
	Level  string `env:"SERVIMAP_LOG_LEVEL,default=info"`
	Format string `env:"SERVIMAP_LOG_FORMAT,default=json"`
	Output string `env:"SERVIMAP_LOG_OUTPUT,default=stdout"`
}

// Load reads an optional .env file, decodes the environment and validates
// the result.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit dotenv path. A missing file is ignored.
func LoadFile(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	cfg.HTTP.AllowedOrigins = trimAll(cfg.HTTP.AllowedOrigins)
	cfg.HTTP.CORSMethods = trimAll(cfg.HTTP.CORSMethods)
	cfg.HTTP.CORSHeaders = trimAll(cfg.HTTP.CORSHeaders)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(c.HTTP.Addr) == "" {
		add("SERVIMAP_HTTP_ADDR is required")
	}
	if c.HTTP.RateLimitRPS <= 0 || c.HTTP.RateLimitBurst <= 0 {
		add("rate limit must be positive")
	}
	if c.Production() && len(c.Auth.MasterKey) < 32 {
		add("SERVIMAP_MASTER_KEY must be at least 32 bytes in production")
	}
	if c.Auth.MasterKey != "" && len(c.Auth.MasterKey) < 16 {
		add("SERVIMAP_MASTER_KEY must be at least 16 bytes")
	}
	if c.Auth.TokenTTL <= 0 {
		add("SERVIMAP_TOKEN_TTL must be positive")
	}
	if c.Production() && c.Payments.WebhookSecret == "" {
		add("SERVIMAP_PAYMENTS_WEBHOOK_SECRET is required in production")
	}
	if bps := c.Payments.CommissionBasisPoints; bps < 0 || bps > 10000 {
		add("SERVIMAP_COMMISSION_BPS must be within 0..10000, got %d", bps)
	}
	if c.Requests.AcceptTimeout <= 0 {
		add("SERVIMAP_ACCEPT_TIMEOUT must be positive")
	}
	if c.Requests.RatingWindow <= 0 || c.Requests.DisputeWindow <= 0 {
		add("rating and dispute windows must be positive")
	}
	if c.Requests.RatingWindow > c.Requests.DisputeWindow {
		add("SERVIMAP_RATING_WINDOW (%s) must not exceed SERVIMAP_DISPUTE_WINDOW (%s)", c.Requests.RatingWindow, c.Requests.DisputeWindow)
	}
	if strings.TrimSpace(c.Requests.SettlementSchedule) == "" {
		add("SERVIMAP_SETTLEMENT_SCHEDULE is required")
	}
	if c.Emergency.MaxCandidates <= 0 {
		add("SERVIMAP_EMERGENCY_MAX_CANDIDATES must be positive")
	}
	if c.Emergency.RadiusKm <= 0 || c.Emergency.TravelSpeedKmh <= 0 {
		add("emergency radius and travel speed must be positive")
	}
	if c.Emergency.AcceptTimeout <= 0 {
		add("SERVIMAP_EMERGENCY_ACCEPT_TIMEOUT must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Production reports whether the process runs with production safeguards.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

// RequestSettings converts the lifecycle section for the requests service.
func (c *Config) RequestSettings() requests.Settings {
	return requests.Settings{
		AcceptTimeout: c.Requests.AcceptTimeout,
		RatingWindow:  c.Requests.RatingWindow,
		DisputeWindow: c.Requests.DisputeWindow,
		BatchSize:     c.Requests.SettlementBatch,
	}
}

// EmergencySettings converts the emergency section for the matcher.
func (c *Config) EmergencySettings() emergency.Settings {
	return emergency.Settings{
		MaxCandidates:  c.Emergency.MaxCandidates,
		RadiusKm:       c.Emergency.RadiusKm,
		AcceptTimeout:  c.Emergency.AcceptTimeout,
		TravelSpeedKmh: c.Emergency.TravelSpeedKmh,
	}
}

// PaymentOptions converts the payments section.
func (c *Config) PaymentOptions() payments.Options {
	return payments.Options{
		CommissionBasisPoints: c.Payments.CommissionBasisPoints,
		WebhookSecret:         c.Payments.WebhookSecret,
	}
}

// LoggerConfig converts the logging section.
func (c *Config) LoggerConfig() logger.LoggingConfig {
	return logger.LoggingConfig{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}
}

func trimAll(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
