package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"go-referral/referral"

	"github.com/shopspring/decimal"
)

type Config struct {
	Port           string
	Mode           string
	Production     bool
	DSN            string
	Secret         string
	AdminKey       string
	WebHost        string
	AllowedOrigins []string

	RedisAddr     string
	RedisPassword string
	TokenTTL      time.Duration

	RateLimit float64 // requests per second per IP
	RateBurst int

	PlanName  string
	PlanPrice int // in cents per month

	ShareAmount     decimal.Decimal
	Thresholds      referral.ThresholdPolicy
	MaxDepth        int
	SidePolicy      string
	DispatchTries   uint
	RetrySchedule   string
	RetryBatch      int
	MonitorSchedule string
}

func Load() *Config {
	defaults := referral.DefaultThresholdPolicy()

	cfg := &Config{
		Port:           getEnv("GIN_PORT", "8080"),
		Mode:           getEnv("GIN_MODE", "debug"),
		DSN:            getEnv("DB", ""),
		Secret:         getEnv("SECRET", ""),
		AdminKey:       getEnv("regkey", ""),
		WebHost:        getEnv("Web_Host", "localhost:8080"),
		AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		TokenTTL:      getEnvAsDuration("TOKEN_TTL", 30*24*time.Hour),

		RateLimit: getEnvAsFloat("RATE_LIMIT", 0.25),
		RateBurst: getEnvAsInt("RATE_BURST", 15),

		PlanName:  getEnv("PLAN_NAME", "Premium plan"),
		PlanPrice: getEnvAsInt("PLAN_PRICE", 300),

		ShareAmount: getEnvAsDecimal("REFERRAL_SHARE_AMOUNT", decimal.NewFromInt(250)),
		Thresholds: referral.ThresholdPolicy{
			Base:   getEnvAsInt("REFERRAL_THRESHOLD_BASE", defaults.Base),
			Factor: getEnvAsInt("REFERRAL_THRESHOLD_FACTOR", defaults.Factor),
			Max:    getEnvAsInt("REFERRAL_THRESHOLD_MAX", defaults.Max),
		},
		MaxDepth:        getEnvAsInt("REFERRAL_MAX_DEPTH", referral.DefaultMaxDepth),
		SidePolicy:      getEnv("REFERRAL_SIDE_POLICY", "least_filled"),
		DispatchTries:   uint(getEnvAsInt("DISPATCH_MAX_TRIES", 3)),
		RetrySchedule:   getEnv("RETRY_SCHEDULE", "@every 1m"),
		RetryBatch:      getEnvAsInt("RETRY_BATCH", 100),
		MonitorSchedule: getEnv("PLAN_MONITOR_SCHEDULE", "@every 10m"),
	}
	cfg.Production = cfg.Mode == "release"
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	strVal := getEnv(key, "")
	if val, err := strconv.Atoi(strVal); err == nil {
		return val
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	strVal := getEnv(key, "")
	if val, err := strconv.ParseFloat(strVal, 64); err == nil {
		return val
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	strVal := getEnv(key, "")
	if val, err := time.ParseDuration(strVal); err == nil {
		return val
	}
	return defaultValue
}

func getEnvAsDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	strVal := getEnv(key, "")
	if val, err := decimal.NewFromString(strVal); err == nil && val.IsPositive() {
		return val
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	val := getEnv(key, "")
	if val == "" {
		return defaultValue
	}
	parts := strings.Split(val, ",")
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
	}
	return parts
}
