package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// Brokerage API
	Broker BrokerConfig

	// Engine (queues, rate limit, lifecycle)
	Engine EngineConfig

	// Trading calendar
	Calendar CalendarConfig

	// Logging
	LogLevel  string
	LogFormat string
	LogFile   string

	// Monitoring
	MetricsEnabled bool
	MetricsPort    string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	URL      string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// BrokerConfig holds brokerage API configuration
type BrokerConfig struct {
	AppKey      string
	AppSecret   string
	AccessToken string
	AccountNo   string
	BaseURL     string
	QuoteWSURL  string
	Paper       bool // 모의 주문 (MockBroker)
	PaperCash   int  // 모의 계좌 시작 현금
	Timeout     time.Duration
}

// EngineConfig holds the task orchestration settings
type EngineConfig struct {
	// Broker API quota
	RateLimitMaxCalls     int
	RateLimitWindow       time.Duration
	RateLimitMinInterval  time.Duration
	RateLimitSafetyBuffer time.Duration

	// Lifecycle
	LifecycleRetryDelay time.Duration
	ControlTick         time.Duration

	// Cooldowns
	BuyCooldown  time.Duration
	SellCooldown time.Duration

	// Refresh gate
	RefreshWaitTimeout time.Duration

	// Quote snapshot polling (per second)
	QuotePollRate int

	StrategyFile string
}

// CalendarConfig holds trading calendar settings
type CalendarConfig struct {
	Timezone   string
	Sessions   string // "09:30-12:00,13:00-16:00"
	HolidayURL string
	Holidays   []string // YYYY-MM-DD
}

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	// Try multiple paths for .env file
	loadEnvFile()

	cfg := &Config{
		// Server
		Port: getEnv("PORT", "8080"),
		Env:  getEnv("ENV", "development"),

		// Database
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			Name:            getEnv("DB_NAME", "aegis_warrant"),
			User:            getEnv("DB_USER", "aegis_warrant"),
			Password:        getEnv("DB_PASSWORD", ""),
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		// Redis
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", true),
		},

		Broker: BrokerConfig{
			AppKey:      getEnv("BROKER_APP_KEY", ""),
			AppSecret:   getEnv("BROKER_APP_SECRET", ""),
			AccessToken: getEnv("BROKER_ACCESS_TOKEN", ""),
			AccountNo:   getEnv("BROKER_ACCOUNT_NO", ""),
			BaseURL:     getEnv("BROKER_BASE_URL", "https://openapi.longportapp.com"),
			QuoteWSURL:  getEnv("BROKER_QUOTE_WS_URL", "wss://openapi-quote.longportapp.com"),
			Paper:       getEnvAsBool("BROKER_PAPER", true),
			PaperCash:   getEnvAsInt("BROKER_PAPER_CASH", 1000000),
			Timeout:     getEnvAsDuration("BROKER_TIMEOUT", "10s"),
		},

		Engine: EngineConfig{
			RateLimitMaxCalls:     getEnvAsInt("RATE_LIMIT_MAX_CALLS", 30),
			RateLimitWindow:       getEnvAsDuration("RATE_LIMIT_WINDOW", "30s"),
			RateLimitMinInterval:  getEnvAsDuration("RATE_LIMIT_MIN_INTERVAL", "20ms"),
			RateLimitSafetyBuffer: getEnvAsDuration("RATE_LIMIT_SAFETY_BUFFER", "50ms"),
			LifecycleRetryDelay:   getEnvAsDuration("LIFECYCLE_RETRY_DELAY", "5s"),
			ControlTick:           getEnvAsDuration("CONTROL_TICK", "1s"),
			BuyCooldown:           getEnvAsDuration("BUY_COOLDOWN", "60s"),
			SellCooldown:          getEnvAsDuration("SELL_COOLDOWN", "30s"),
			RefreshWaitTimeout:    getEnvAsDuration("REFRESH_WAIT_TIMEOUT", "10s"),
			QuotePollRate:         getEnvAsInt("QUOTE_POLL_RATE", 5),
			StrategyFile:          getEnv("STRATEGY_FILE", "strategy.yaml"),
		},

		Calendar: CalendarConfig{
			Timezone:   getEnv("MARKET_TIMEZONE", "Asia/Hong_Kong"),
			Sessions:   getEnv("MARKET_SESSIONS", "09:30-12:00,13:00-16:00"),
			HolidayURL: getEnv("HOLIDAY_URL", ""),
			Holidays:   getEnvAsList("HOLIDAYS"),
		},

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "debug"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
		LogFile:   getEnv("LOG_FILE", ""),

		// Monitoring
		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		MetricsPort:    getEnv("METRICS_PORT", "9090"),
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	// Validate environment
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	if !c.Broker.Paper && c.Broker.AppKey == "" {
		return fmt.Errorf("BROKER_APP_KEY is required when BROKER_PAPER=false")
	}

	if c.Engine.RateLimitMaxCalls <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX_CALLS must be positive")
	}

	if c.Engine.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}

	if c.Engine.ControlTick <= 0 {
		return fmt.Errorf("CONTROL_TICK must be positive")
	}

	if _, err := time.LoadLocation(c.Calendar.Timezone); err != nil {
		return fmt.Errorf("MARKET_TIMEZONE invalid: %w", err)
	}

	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	// Try paths in order of priority
	paths := []string{
		".env", // Current directory
	}

	// Also try relative to executable
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		// Fallback to default
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}

func getEnvAsList(key string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return nil
	}

	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
