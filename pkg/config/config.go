package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	CORS     CORSConfig
	Log      LogConfig
	Billing  BillingConfig
	Cache    CacheConfig
	Sweep    SweepConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// BillingConfig carries the fee-policy knobs that administrators tune
// before a term is activated. Grade-band amounts seed the fee schedule
// for new terms; the stored schedule remains authoritative afterwards.
type BillingConfig struct {
	// TerminalGrade is the highest grade level; clearing it graduates the student.
	TerminalGrade int
	// PromotionDebtGateGrade marks the grade at or above which a student who
	// enters a new academic year still owing money is billed no new fee until
	// the debt clears.
	PromotionDebtGateGrade int
	// DefaultEarlyChildhoodFee and DefaultPrimaryFee pre-populate fee schedules
	// for newly created terms when no explicit amount has been set yet.
	DefaultEarlyChildhoodFee string
	DefaultPrimaryFee        string
}

// CacheConfig governs the balance-view read cache.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// SweepConfig tunes the background reconciliation repair worker.
type SweepConfig struct {
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Billing = BillingConfig{
		TerminalGrade:            v.GetInt("BILLING_TERMINAL_GRADE"),
		PromotionDebtGateGrade:   v.GetInt("BILLING_PROMOTION_DEBT_GATE_GRADE"),
		DefaultEarlyChildhoodFee: v.GetString("BILLING_DEFAULT_ECD_FEE"),
		DefaultPrimaryFee:        v.GetString("BILLING_DEFAULT_PRIMARY_FEE"),
	}

	cfg.Cache = CacheConfig{
		Enabled: v.GetBool("ENABLE_BALANCE_CACHE"),
		TTL:     parseDuration(v.GetString("BALANCE_CACHE_TTL"), 5*time.Minute),
	}

	cfg.Sweep = SweepConfig{
		Workers:    v.GetInt("SWEEP_WORKERS"),
		MaxRetries: v.GetInt("SWEEP_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("SWEEP_RETRY_DELAY"), 30*time.Second),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "zps_fees")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("BILLING_TERMINAL_GRADE", 7)
	v.SetDefault("BILLING_PROMOTION_DEBT_GATE_GRADE", 7)
	v.SetDefault("BILLING_DEFAULT_ECD_FEE", "")
	v.SetDefault("BILLING_DEFAULT_PRIMARY_FEE", "")

	v.SetDefault("ENABLE_BALANCE_CACHE", false)
	v.SetDefault("BALANCE_CACHE_TTL", "5m")

	v.SetDefault("SWEEP_WORKERS", 1)
	v.SetDefault("SWEEP_MAX_RETRIES", 3)
	v.SetDefault("SWEEP_RETRY_DELAY", "30s")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
