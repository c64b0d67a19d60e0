// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir            string // Base directory for the inventory database (always absolute)
	TargetURL          string // Dealer inventory page the scraper navigates
	Port               int
	LogLevel           string
	DevMode            bool
	ScrapeTimeout      time.Duration // Upper bound on one scrape; exceeding it counts as scrape failure
	SyncInterval       time.Duration // Recurring pipeline cadence (default 24h)
	MinTrainingSamples int           // Below this, training is skipped and the prior model kept
	RandomSeed         int64         // Seed for split/bootstrap/CV reproducibility
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:            absDataDir,
		TargetURL:          getEnv("TARGET_URL", "https://www.audiwestisland.com/fr/inventaire/occasion/"),
		Port:               getEnvAsInt("PORT", 8000),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DevMode:            getEnvAsBool("DEV_MODE", false),
		ScrapeTimeout:      time.Duration(getEnvAsInt("SCRAPE_TIMEOUT_SECONDS", 120)) * time.Second,
		SyncInterval:       time.Duration(getEnvAsInt("SYNC_INTERVAL_HOURS", 24)) * time.Hour,
		MinTrainingSamples: getEnvAsInt("MIN_TRAINING_SAMPLES", 20),
		RandomSeed:         int64(getEnvAsInt("RANDOM_SEED", 42)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.TargetURL == "" {
		return fmt.Errorf("TARGET_URL must not be empty")
	}
	if c.MinTrainingSamples < 2 {
		return fmt.Errorf("MIN_TRAINING_SAMPLES must be at least 2, got %d", c.MinTrainingSamples)
	}
	if c.ScrapeTimeout <= 0 {
		return fmt.Errorf("SCRAPE_TIMEOUT_SECONDS must be positive")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
