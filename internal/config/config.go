// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/aristath/qtrader/internal/modules/runs"
	"github.com/aristath/qtrader/internal/utils"
	"github.com/joho/godotenv"
)

// Training modes
const (
	ModeTrain = "train"
	ModeTest  = "test"
)

// Config holds application configuration
type Config struct {
	DataDir      string // base directory for prices, weights, reports and the run ledger (always absolute)
	WeightsDir   string
	PortfolioDir string
	RunsDBPath   string

	PriceFiles  []string
	PriceColumn string
	RoundPrices bool

	Mode            string
	Episodes        int
	BatchSize       int
	Splits          int
	InitialInvest   float64
	CheckpointEvery int

	MemoryCapacity int
	HiddenLayers   int
	HiddenUnits    int
	LearningRate   float64
	Seed           int64

	ResumeCheckpoint string
	LogLevel         string
	LogPretty        bool
	MetricsTextfile  string

	Mirror MirrorConfig
}

// MirrorConfig holds the optional S3/R2 checkpoint mirror settings
type MirrorConfig struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Prefix    string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	absDataDir, err := filepath.Abs(getEnv("TRAINER_DATA_DIR", "./data"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:      absDataDir,
		WeightsDir:   filepath.Join(absDataDir, "weights"),
		PortfolioDir: filepath.Join(absDataDir, "portfolio_val"),
		RunsDBPath:   filepath.Join(absDataDir, "runs.db"),

		PriceFiles:  utils.ParseCSV(getEnv("PRICE_FILES", "MSFT.csv,IBM.csv,QCOM.csv")),
		PriceColumn: getEnv("PRICE_COLUMN", "Close"),
		RoundPrices: getEnvAsBool("ROUND_PRICES", true),

		Mode:            getEnv("TRAIN_MODE", ModeTrain),
		Episodes:        getEnvAsInt("EPISODES", 50),
		BatchSize:       getEnvAsInt("BATCH_SIZE", 32),
		Splits:          getEnvAsInt("SPLITS", 3),
		InitialInvest:   getEnvAsFloat("INITIAL_INVEST", 20000),
		CheckpointEvery: getEnvAsInt("CHECKPOINT_EVERY", 10),

		MemoryCapacity: getEnvAsInt("MEMORY_CAPACITY", 2000),
		HiddenLayers:   getEnvAsInt("HIDDEN_LAYERS", 1),
		HiddenUnits:    getEnvAsInt("HIDDEN_UNITS", 32),
		LearningRate:   getEnvAsFloat("LEARNING_RATE", 0.001),
		Seed:           int64(getEnvAsInt("SEED", 0)),

		ResumeCheckpoint: getEnv("RESUME_CHECKPOINT", ""),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogPretty:        getEnvAsBool("LOG_PRETTY", false),
		MetricsTextfile:  getEnv("METRICS_TEXTFILE", ""),

		Mirror: MirrorConfig{
			Bucket:    getEnv("CHECKPOINT_BUCKET", ""),
			Endpoint:  getEnv("CHECKPOINT_ENDPOINT", ""),
			Region:    getEnv("CHECKPOINT_REGION", "auto"),
			AccessKey: getEnv("CHECKPOINT_ACCESS_KEY", ""),
			SecretKey: getEnv("CHECKPOINT_SECRET_KEY", ""),
			Prefix:    getEnv("CHECKPOINT_PREFIX", "checkpoints"),
		},
	}

	resumePath := cfg.ResumeCheckpoint != "" && cfg.ResumeCheckpoint != runs.ResumeLatest
	if resumePath && !filepath.IsAbs(cfg.ResumeCheckpoint) {
		cfg.ResumeCheckpoint = filepath.Join(cfg.WeightsDir, cfg.ResumeCheckpoint)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration describes a runnable job
func (c *Config) Validate() error {
	if c.Mode != ModeTrain && c.Mode != ModeTest {
		return fmt.Errorf("TRAIN_MODE must be %q or %q, got %q", ModeTrain, ModeTest, c.Mode)
	}
	if len(c.PriceFiles) == 0 {
		return fmt.Errorf("PRICE_FILES must name at least one file")
	}

	positive := []struct {
		name  string
		value int
	}{
		{"EPISODES", c.Episodes},
		{"BATCH_SIZE", c.BatchSize},
		{"CHECKPOINT_EVERY", c.CheckpointEvery},
		{"MEMORY_CAPACITY", c.MemoryCapacity},
		{"HIDDEN_UNITS", c.HiddenUnits},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.name, p.value)
		}
	}

	if c.Splits < 2 {
		return fmt.Errorf("SPLITS must be at least 2, got %d", c.Splits)
	}
	if c.HiddenLayers < 0 {
		return fmt.Errorf("HIDDEN_LAYERS must be non-negative, got %d", c.HiddenLayers)
	}
	if c.InitialInvest <= 0 {
		return fmt.Errorf("INITIAL_INVEST must be positive, got %v", c.InitialInvest)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("LEARNING_RATE must be positive, got %v", c.LearningRate)
	}
	if c.BatchSize > c.MemoryCapacity {
		return fmt.Errorf("BATCH_SIZE (%d) cannot exceed MEMORY_CAPACITY (%d)", c.BatchSize, c.MemoryCapacity)
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
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
