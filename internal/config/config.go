package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"subtrack/internal/core"
)

type Config struct {
	// HTTP Server
	Port     string
	LogLevel string

	// Backend selection
	DataBackend string

	// SQLite
	SQLiteDBPath string

	// Supabase
	SupabaseURL   string
	SupabaseKey   string
	SupabaseTable string

	// Reporting
	ReportingCurrency string
	RenewalWindowDays int
	SummaryCacheTTL   time.Duration

	// Exchange rates
	RatesFiatEndpoints   []string
	RatesCryptoEndpoints []string
	CoinMarketCapKey     string
	RatesRequestTimeout  time.Duration
	RatesRefreshInterval time.Duration
	RatesMaxRetries      int
	RatesRetryStep       time.Duration

	// Reminder worker
	ReminderInterval time.Duration
	ReminderLeadDays int

	// AMQP (optional)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}

// Load reads the configuration from the environment. Empty endpoint lists
// mean the built-in provider lists.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8081"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DataBackend:  getEnv("DATA_BACKEND", "memory"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/subtrack.db"),

		SupabaseURL:   getEnv("SUPABASE_URL", ""),
		SupabaseKey:   getEnv("SUPABASE_KEY", ""),
		SupabaseTable: getEnv("SUPABASE_TABLE", "subscriptions"),

		ReportingCurrency: strings.ToUpper(getEnv("REPORTING_CURRENCY", "USD")),
		RenewalWindowDays: getEnvInt("RENEWAL_WINDOW_DAYS", 30),
		SummaryCacheTTL:   getEnvDuration("SUMMARY_CACHE_TTL", time.Minute),

		RatesFiatEndpoints:   getEnvList("RATES_FIAT_ENDPOINTS"),
		RatesCryptoEndpoints: getEnvList("RATES_CRYPTO_ENDPOINTS"),
		CoinMarketCapKey:     getEnv("RATES_COINMARKETCAP_KEY", ""),
		RatesRequestTimeout:  getEnvDuration("RATES_REQUEST_TIMEOUT", 5*time.Second),
		RatesRefreshInterval: getEnvDuration("RATES_REFRESH_INTERVAL", 5*time.Minute),
		RatesMaxRetries:      getEnvInt("RATES_MAX_RETRIES", 3),
		RatesRetryStep:       getEnvDuration("RATES_RETRY_STEP", 5*time.Second),

		ReminderInterval: getEnvDuration("REMINDER_INTERVAL", time.Hour),
		ReminderLeadDays: getEnvInt("REMINDER_LEAD_DAYS", 3),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "subtrack"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "renewal_reminders"),
	}
}

// Validate validates the configuration and returns every problem at once
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	validBackends := []string{"memory", "sqlite", "supabase"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	switch c.DataBackend {
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		}
	case "supabase":
		if c.SupabaseURL == "" {
			errors = append(errors, "SUPABASE_URL is required when using supabase backend")
		} else if !isHTTPURL(c.SupabaseURL) {
			errors = append(errors, fmt.Sprintf("invalid SUPABASE_URL '%s': must be an http(s) URL", c.SupabaseURL))
		}
		if c.SupabaseKey == "" {
			errors = append(errors, "SUPABASE_KEY is required when using supabase backend")
		}
	}

	if _, err := core.ParseCurrency(c.ReportingCurrency); err != nil {
		errors = append(errors, fmt.Sprintf("invalid reporting currency '%s'", c.ReportingCurrency))
	}
	if c.RenewalWindowDays < 0 || c.RenewalWindowDays > 366 {
		errors = append(errors, fmt.Sprintf("invalid renewal window %d: must be between 0 and 366 days", c.RenewalWindowDays))
	}

	for _, ep := range append(append([]string(nil), c.RatesFiatEndpoints...), c.RatesCryptoEndpoints...) {
		if !isHTTPURL(ep) {
			errors = append(errors, fmt.Sprintf("invalid rate endpoint '%s': must be an http(s) URL", ep))
		}
	}
	if c.RatesRequestTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("invalid rates request timeout %v: must be positive", c.RatesRequestTimeout))
	}
	if c.RatesRefreshInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid rates refresh interval %v: must be at least 1 second", c.RatesRefreshInterval))
	}
	if c.RatesMaxRetries < 0 || c.RatesMaxRetries > 10 {
		errors = append(errors, fmt.Sprintf("invalid rates max retries %d: must be between 0 and 10", c.RatesMaxRetries))
	}
	if c.RatesRetryStep < 0 {
		errors = append(errors, fmt.Sprintf("invalid rates retry step %v: must not be negative", c.RatesRetryStep))
	}

	if c.ReminderInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid reminder interval %v: must be at least 1 second", c.ReminderInterval))
	} else if c.ReminderInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid reminder interval %v: must be at most 24 hours", c.ReminderInterval))
	}
	if c.ReminderLeadDays < 0 || c.ReminderLeadDays > 31 {
		errors = append(errors, fmt.Sprintf("invalid reminder lead days %d: must be between 0 and 31", c.ReminderLeadDays))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
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

// getEnvList splits a comma-separated variable, dropping empty items.
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
