package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Check defaults
	if cfg.Port != "8080" {
		t.Errorf("Expected Port to be 8080, got %s", cfg.Port)
	}

	if cfg.Env != "development" {
		t.Errorf("Expected Env to be development, got %s", cfg.Env)
	}

	if cfg.Engine.RateLimitMaxCalls != 30 {
		t.Errorf("Expected RateLimitMaxCalls to be 30, got %d", cfg.Engine.RateLimitMaxCalls)
	}

	if cfg.Engine.LifecycleRetryDelay != 5*time.Second {
		t.Errorf("Expected LifecycleRetryDelay to be 5s, got %v", cfg.Engine.LifecycleRetryDelay)
	}

	if !cfg.Broker.Paper {
		t.Error("Expected paper trading by default")
	}
}

func TestLoadWithCustomValues(t *testing.T) {
	// Set custom environment variables
	os.Setenv("PORT", "9000")
	os.Setenv("ENV", "production")
	os.Setenv("RATE_LIMIT_MAX_CALLS", "10")
	os.Setenv("RATE_LIMIT_WINDOW", "1s")
	os.Setenv("HOLIDAYS", "2026-12-25, 2026-12-26,")
	os.Setenv("LOG_LEVEL", "info")

	defer func() {
		os.Unsetenv("PORT")
		os.Unsetenv("ENV")
		os.Unsetenv("RATE_LIMIT_MAX_CALLS")
		os.Unsetenv("RATE_LIMIT_WINDOW")
		os.Unsetenv("HOLIDAYS")
		os.Unsetenv("LOG_LEVEL")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "9000" {
		t.Errorf("Expected Port to be 9000, got %s", cfg.Port)
	}

	if cfg.Engine.RateLimitMaxCalls != 10 {
		t.Errorf("Expected RateLimitMaxCalls to be 10, got %d", cfg.Engine.RateLimitMaxCalls)
	}

	if cfg.Engine.RateLimitWindow != time.Second {
		t.Errorf("Expected RateLimitWindow to be 1s, got %v", cfg.Engine.RateLimitWindow)
	}

	if len(cfg.Calendar.Holidays) != 2 || cfg.Calendar.Holidays[1] != "2026-12-26" {
		t.Errorf("Expected two trimmed holidays, got %v", cfg.Calendar.Holidays)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected LogLevel to be info, got %s", cfg.LogLevel)
	}
}

func TestValidateLiveBrokerRequiresKey(t *testing.T) {
	os.Setenv("BROKER_PAPER", "false")
	defer os.Unsetenv("BROKER_PAPER")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when live broker has no app key, got nil")
	}
}

func TestValidateInvalidEnv(t *testing.T) {
	os.Setenv("ENV", "invalid")
	defer os.Unsetenv("ENV")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when ENV is invalid, got nil")
	}
}

func TestValidateInvalidTimezone(t *testing.T) {
	os.Setenv("MARKET_TIMEZONE", "Mars/Olympus")
	defer os.Unsetenv("MARKET_TIMEZONE")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when MARKET_TIMEZONE is invalid, got nil")
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	os.Setenv("TEST_DURATION", "2h")
	defer os.Unsetenv("TEST_DURATION")

	duration := getEnvAsDuration("TEST_DURATION", "1h")
	expected := 2 * time.Hour

	if duration != expected {
		t.Errorf("Expected duration to be %v, got %v", expected, duration)
	}

	os.Setenv("TEST_DURATION", "soon")
	if got := getEnvAsDuration("TEST_DURATION", "1h"); got != time.Hour {
		t.Errorf("Expected fallback 1h, got %v", got)
	}
}

func TestGetEnvAsInt(t *testing.T) {
	os.Setenv("TEST_INT", "100")
	defer os.Unsetenv("TEST_INT")

	value := getEnvAsInt("TEST_INT", 50)
	if value != 100 {
		t.Errorf("Expected value to be 100, got %d", value)
	}
}

func TestGetEnvAsBool(t *testing.T) {
	os.Setenv("TEST_BOOL", "true")
	defer os.Unsetenv("TEST_BOOL")

	value := getEnvAsBool("TEST_BOOL", false)
	if value != true {
		t.Errorf("Expected value to be true, got %v", value)
	}
}
