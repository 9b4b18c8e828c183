package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config is the server configuration. Values come from the environment,
// optionally seeded from a .env file in the working directory.
type Config struct {
	Port   int
	DBPath string

	JWTSecret  string
	JWTIssuer  string
	TokenTTL   time.Duration
	ServiceKey string

	ReferenceTZ        string
	SettlementInterval time.Duration
	CatalogPath        string

	CheckInBaseReward    decimal.Decimal
	CheckInReferralBonus decimal.Decimal
	MinWithdrawal        decimal.Decimal
	MaxWithdrawal        decimal.Decimal
	WithdrawalFeePercent decimal.Decimal

	AllowedOrigins []string

	// Log configuration
	LogLevel      string
	LogFilename   string
	LogMaxSize    int
	LogMaxBackups int
	LogMaxAge     int
	LogCompress   bool
}

// Load reads .env (if present) and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	cfg := &Config{
		Port:   getEnvAsInt("PORT", 8080),
		DBPath: getEnv("DB_PATH", "ledger.db"),

		JWTSecret:  os.Getenv("JWT_SECRET"),
		JWTIssuer:  getEnv("JWT_ISSUER", "referral-ledger"),
		TokenTTL:   getEnvAsDuration("TOKEN_TTL", 24*time.Hour),
		ServiceKey: os.Getenv("SERVICE_KEY"),

		ReferenceTZ:        getEnv("REFERENCE_TZ", "Africa/Kigali"),
		SettlementInterval: getEnvAsDuration("SETTLEMENT_INTERVAL", 5*time.Minute),
		CatalogPath:        os.Getenv("CATALOG_PATH"),

		AllowedOrigins: []string{getEnv("ALLOWED_ORIGIN", "http://localhost:3000")},

		LogLevel:      getEnv("LOG_LEVEL", "INFO"),
		LogFilename:   getEnv("LOG_FILENAME", "logs/ledger.log"),
		LogMaxSize:    getEnvAsInt("LOG_MAX_SIZE", 100),
		LogMaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 3),
		LogMaxAge:     getEnvAsInt("LOG_MAX_AGE", 28),
		LogCompress:   getEnvAsBool("LOG_COMPRESS", true),
	}

	var err error
	amounts := []struct {
		key string
		def int64
		dst *decimal.Decimal
	}{
		{"CHECKIN_BASE_REWARD", 50, &cfg.CheckInBaseReward},
		{"CHECKIN_REFERRAL_BONUS", 20, &cfg.CheckInReferralBonus},
		{"MIN_WITHDRAWAL", 2000, &cfg.MinWithdrawal},
		{"MAX_WITHDRAWAL", 2000000, &cfg.MaxWithdrawal},
		{"WITHDRAWAL_FEE_PERCENT", 10, &cfg.WithdrawalFeePercent},
	}
	for _, a := range amounts {
		if *a.dst, err = getEnvAsDecimal(a.key, a.def); err != nil {
			return nil, err
		}
	}

	if cfg.MinWithdrawal.GreaterThan(cfg.MaxWithdrawal) {
		return nil, fmt.Errorf("MIN_WITHDRAWAL %s exceeds MAX_WITHDRAWAL %s", cfg.MinWithdrawal, cfg.MaxWithdrawal)
	}
	if cfg.WithdrawalFeePercent.GreaterThan(decimal.NewFromInt(maxWithdrawalFeePercent)) {
		return nil, fmt.Errorf("WITHDRAWAL_FEE_PERCENT %s exceeds %d", cfg.WithdrawalFeePercent, maxWithdrawalFeePercent)
	}
	if cfg.SettlementInterval <= 0 {
		return nil, fmt.Errorf("SETTLEMENT_INTERVAL must be positive, got %s", cfg.SettlementInterval)
	}
	if cfg.TokenTTL <= 0 {
		return nil, fmt.Errorf("TOKEN_TTL must be positive, got %s", cfg.TokenTTL)
	}
	return cfg, nil
}

// maxWithdrawalFeePercent matches rewards.MaxFeePercent.
const maxWithdrawalFeePercent = 10

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := time.ParseDuration(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

// Amounts are money, so a malformed value is an error rather than a
// silent default.
func getEnvAsDecimal(key string, defaultValue int64) (decimal.Decimal, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists || valueStr == "" {
		return decimal.NewFromInt(defaultValue), nil
	}
	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	if value.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s must not be negative", key)
	}
	return value, nil
}
