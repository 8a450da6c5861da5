package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration
type Config struct {
	// Server
	Port        string
	Environment string

	// Database
	DatabaseURL string

	// Background Workers
	WorkerCount int

	// CORS
	AllowedOrigins []string

	// Email (Resend)
	ResendAPIKey             string
	FromEmail                string
	OpsEmail                 string
	EnableEmailNotifications bool

	// Modification workflow
	RequireModificationApproval bool

	// Sentry
	SentryDSN string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:                        getEnv("PORT", "8080"),
		Environment:                 getEnv("ENVIRONMENT", "development"),
		DatabaseURL:                 getEnv("DATABASE_URL", ""),
		WorkerCount:                 getEnvAsInt("WORKER_COUNT", 5),
		AllowedOrigins:              getEnvAsSlice("ALLOWED_ORIGINS", []string{"*"}),
		ResendAPIKey:                getEnv("RESEND_API_KEY", ""),
		FromEmail:                   getEnv("FROM_EMAIL", "noreply@installments.retailops.dev"),
		OpsEmail:                    getEnv("OPS_EMAIL", "ops@installments.retailops.dev"),
		EnableEmailNotifications:    getEnvAsBool("ENABLE_EMAIL_NOTIFICATIONS", false),
		RequireModificationApproval: getEnvAsBool("REQUIRE_MODIFICATION_APPROVAL", true),
		SentryDSN:                   getEnv("SENTRY_DSN", ""),
	}

	// Validate required configuration
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.EnableEmailNotifications && cfg.ResendAPIKey == "" {
		return nil, fmt.Errorf("RESEND_API_KEY is required when email notifications are enabled")
	}

	return cfg, nil
}

// getEnv reads an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt reads an environment variable as integer
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool reads an environment variable as boolean
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice reads an environment variable as comma-separated slice
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return strings.Split(valueStr, ",")
}
