package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Database
	SQLiteDBPath string

	// AMQP event publishing (optional; empty URL disables it)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Recurring scheduler
	RecurringInterval    time.Duration
	RecurringParallelism int

	// Exchange rates
	ExchangeAPIKey  string
	ExchangeTimeout time.Duration

	// Balance window policy: all_time or current_month
	BalanceWindow string
}

func Load() *Config {
	return &Config{
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/homebudget.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "homebudget"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "ledger_events"),

		RecurringInterval:    getEnvDuration("RECURRING_INTERVAL", time.Hour),
		RecurringParallelism: getEnvInt("RECURRING_PARALLELISM", 4),

		ExchangeAPIKey:  getEnv("EXCHANGE_API_KEY", ""),
		ExchangeTimeout: getEnvDuration("EXCHANGE_TIMEOUT", 10*time.Second),

		BalanceWindow: getEnv("BALANCE_WINDOW", "all_time"),
	}
}

// Validate checks the configuration and returns every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.SQLiteDBPath == "" {
		errs = append(errs, "SQLite database path cannot be empty")
	} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				errs = append(errs, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
			}
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errs = append(errs, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errs = append(errs, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.RecurringInterval < time.Minute {
		errs = append(errs, fmt.Sprintf("invalid recurring interval %v: must be at least 1 minute", c.RecurringInterval))
	} else if c.RecurringInterval > 24*time.Hour {
		errs = append(errs, fmt.Sprintf("invalid recurring interval %v: must be at most 24 hours", c.RecurringInterval))
	}

	if c.RecurringParallelism < 1 {
		errs = append(errs, fmt.Sprintf("invalid recurring parallelism %d: must be at least 1", c.RecurringParallelism))
	} else if c.RecurringParallelism > 64 {
		errs = append(errs, fmt.Sprintf("invalid recurring parallelism %d: must be at most 64", c.RecurringParallelism))
	}

	if c.ExchangeTimeout < time.Second {
		errs = append(errs, fmt.Sprintf("invalid exchange timeout %v: must be at least 1 second", c.ExchangeTimeout))
	}

	if c.BalanceWindow != "all_time" && c.BalanceWindow != "current_month" {
		errs = append(errs, fmt.Sprintf("invalid balance window '%s': must be 'all_time' or 'current_month'", c.BalanceWindow))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
