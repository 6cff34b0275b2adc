package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"hookTrader/internal/adapters/logger" // Import the logger package for LogLevel
	"hookTrader/internal/domain"
)

// DefaultProfileName is used when no profiles file is configured.
const DefaultProfileName = "default"

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Execution mode
	HedgeMode bool // Dual-side positions, no ladder
	DryRun    bool // Acknowledge signals without touching the exchange

	// HTTP
	HTTPAddr string

	// Lifecycle timing
	PollInterval      time.Duration // Exit monitor and close-wait polling
	MaxWait           time.Duration // Close-and-wait budget of the switch coordinator
	PricePollInterval time.Duration // Display price refresh

	// Retry
	EntryMaxAttempts int
	EntryBackoff     time.Duration // First wait of the bounded entry policy, doubling
	ProtectiveRetry  time.Duration // Constant wait of the unbounded protective policy

	// Profiles keyed by name. The webhook route selects one.
	Profiles       map[string]domain.Profile
	DefaultProfile string
	ProfilesFile   string

	// Reporting
	ReportLocation   *time.Location
	ReportCutoffHour int

	// Database (empty disables the exit journal)
	DBPath string

	// Logging
	LogLevel  logger.LogLevel // Use the LogLevel type from the logger adapter
	LogFormat string          // json or console
}

// Profile returns the named profile, falling back to the default when name is empty.
func (c *Config) Profile(name string) (domain.Profile, bool) {
	if name == "" {
		name = c.DefaultProfile
	}
	p, ok := c.Profiles[name]
	return p, ok
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	cfg.DryRun = getEnvAsBool("DRY_RUN", false)
	cfg.HedgeMode = getEnvAsBool("HEDGE_MODE", false)

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	// Keys are only optional when nothing reaches the exchange.
	if !cfg.DryRun {
		if cfg.APIKey == "" {
			errs = append(errs, "BINANCE_API_KEY must be set")
		}
		if cfg.SecretKey == "" {
			errs = append(errs, "BINANCE_API_SECRET must be set")
		}
	}

	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8000")

	// Lifecycle timing
	cfg.PollInterval, err = getEnvAsMillis("POLL_INTERVAL_MS", 1000)
	if err != nil {
		errs = append(errs, err.Error())
	}
	maxWaitSeconds, err := getEnvAsIntRequired("MAX_WAIT_SECONDS", 30)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_WAIT_SECONDS: %v", err))
	} else if maxWaitSeconds <= 0 {
		errs = append(errs, "MAX_WAIT_SECONDS must be positive")
	}
	cfg.MaxWait = time.Duration(maxWaitSeconds) * time.Second
	cfg.PricePollInterval, err = getEnvAsMillis("PRICE_POLL_INTERVAL_MS", 3000)
	if err != nil {
		errs = append(errs, err.Error())
	}

	// Retry
	cfg.EntryMaxAttempts, err = getEnvAsIntRequired("ENTRY_MAX_ATTEMPTS", 5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid ENTRY_MAX_ATTEMPTS: %v", err))
	} else if cfg.EntryMaxAttempts <= 0 {
		errs = append(errs, "ENTRY_MAX_ATTEMPTS must be positive")
	}
	cfg.EntryBackoff, err = getEnvAsMillis("ENTRY_BACKOFF_MS", 500)
	if err != nil {
		errs = append(errs, err.Error())
	}
	cfg.ProtectiveRetry, err = getEnvAsMillis("PROTECTIVE_RETRY_MS", 1000)
	if err != nil {
		errs = append(errs, err.Error())
	}

	// Profiles
	base, baseErrs := loadBaseProfile()
	errs = append(errs, baseErrs...)
	cfg.ProfilesFile = getEnv("PROFILES_FILE", "")
	cfg.DefaultProfile = getEnv("DEFAULT_PROFILE", DefaultProfileName)
	if cfg.ProfilesFile != "" {
		cfg.Profiles, err = LoadProfiles(cfg.ProfilesFile, base)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid PROFILES_FILE: %v", err))
		}
	} else {
		base.Name = cfg.DefaultProfile
		cfg.Profiles = map[string]domain.Profile{base.Name: base}
	}
	if cfg.Profiles != nil {
		if _, ok := cfg.Profiles[cfg.DefaultProfile]; !ok {
			errs = append(errs, fmt.Sprintf("DEFAULT_PROFILE %q is not defined", cfg.DefaultProfile))
		}
	}

	// Reporting
	tz := getEnv("REPORT_TIMEZONE", "Asia/Seoul")
	cfg.ReportLocation, err = time.LoadLocation(tz)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid REPORT_TIMEZONE: %v", err))
	}
	cfg.ReportCutoffHour, err = getEnvAsIntRequired("REPORT_CUTOFF_HOUR", 9)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid REPORT_CUTOFF_HOUR: %v", err))
	} else if cfg.ReportCutoffHour < 0 || cfg.ReportCutoffHour > 23 {
		errs = append(errs, "REPORT_CUTOFF_HOUR must be between 0 and 23")
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "")

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", "json"))
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		errs = append(errs, "LOG_FORMAT must be json or console")
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// loadBaseProfile reads the env-level sizing defaults every profile inherits.
func loadBaseProfile() (domain.Profile, []string) {
	var errs []string
	p := domain.Profile{
		Long:  domain.DefaultLongLadder(),
		Short: domain.DefaultShortLadder(),
	}

	var err error
	p.Leverage, err = getEnvAsIntRequired("LEVERAGE", 5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LEVERAGE: %v", err))
	} else if p.Leverage <= 0 {
		errs = append(errs, "LEVERAGE must be positive")
	}

	capital, err := getEnvAsFloatRequired("INITIAL_CAPITAL", 50)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid INITIAL_CAPITAL: %v", err))
	} else if capital <= 0 {
		errs = append(errs, "INITIAL_CAPITAL must be positive")
	}
	p.InitialCapital = decimal.NewFromFloat(capital)

	allocation, err := getEnvAsFloatRequired("BUY_PCT", 0.98)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid BUY_PCT: %v", err))
	} else if allocation <= 0 || allocation > 1 {
		errs = append(errs, "BUY_PCT must be in (0, 1]")
	}
	p.Allocation = decimal.NewFromFloat(allocation)

	fee, err := getEnvAsFloatRequired("FEE_RATE", 0.0004)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid FEE_RATE: %v", err))
	} else if fee < 0 {
		errs = append(errs, "FEE_RATE cannot be negative")
	}
	p.FeeRate = decimal.NewFromFloat(fee)

	p.Compounding = getEnvAsBool("COMPOUNDING", true)
	return p, errs
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsMillis(key string, defaultValue int) (time.Duration, error) {
	ms, err := getEnvAsIntRequired(key, defaultValue)
	if err != nil {
		return 0, err
	}
	if ms <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
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
