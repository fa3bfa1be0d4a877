package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/stratamem/stratamem-go/pkg/lifecycle"
	"github.com/stratamem/stratamem-go/pkg/query"
	"github.com/stratamem/stratamem-go/pkg/record"
	"github.com/stratamem/stratamem-go/pkg/summarize"
)

// Config contains the complete configuration for a StrataMem engine.
//
// It covers the record store backend, the summarizer and embedder
// providers, the transition thresholds, and the query-time settings.
//
// Example:
//
//	config := core.DefaultConfig()
//	config.Store = core.StoreConfig{
//	    Provider: "sqlite",
//	    Config:   map[string]interface{}{"db_path": "./stratamem.db"},
//	}
//	config.Summarizer.APIKey = "sk-..."
//	config.Embedder.APIKey = "sk-..."
type Config struct {
	// Store contains record store configuration.
	Store StoreConfig `json:"store"`

	// Summarizer contains summarizer provider configuration.
	Summarizer ProviderConfig `json:"summarizer"`

	// Embedder contains embedding provider configuration (optional; when
	// absent, records carry no embeddings and a custom Searcher must be
	// supplied).
	Embedder ProviderConfig `json:"embedder"`

	// CompressionThresholdHours is the minimum T2 record age before
	// compression. Default 48.
	CompressionThresholdHours int `json:"compression_threshold_hours"`

	// RetentionAfterCompressionDays is the grace period compressed T2
	// sources are kept. Default 7.
	RetentionAfterCompressionDays int `json:"retention_after_compression_days"`

	// ArchivalThresholdDays is the T3 age and recall window for archival.
	// Default 14.
	ArchivalThresholdDays int `json:"archival_threshold_days"`

	// MaxRecallsBeforeArchival is the most recalls an archivable topic may
	// have in the archival window. Default 1.
	MaxRecallsBeforeArchival int `json:"max_recalls_before_archival"`

	// PromotionThresholdCount is the recall count that promotes a T4
	// topic. Default 3.
	PromotionThresholdCount int `json:"promotion_threshold_count"`

	// PromotionWindowDays is the trailing window for promotion counts.
	// Default 7.
	PromotionWindowDays int `json:"promotion_window_days"`

	// PromotionCooldownHours suppresses re-promotion after a promotion.
	// Default 72.
	PromotionCooldownHours int `json:"promotion_cooldown_hours"`

	// DeletionThresholdDays is the recall-free period before an archived
	// topic may be purged. Default 90.
	DeletionThresholdDays int `json:"deletion_threshold_days"`

	// DeletionEnabled gates the purge rule. Default false.
	DeletionEnabled bool `json:"deletion_enabled"`

	// TierSearchWeights maps tier names to query weighting multipliers.
	// Defaults to {T0: 1.2, T2: 1.5, T3: 1.0, T4: 0.5}.
	TierSearchWeights map[string]float64 `json:"tier_search_weights,omitempty"`

	// SchedulerIntervalMinutes is the minimum time between scheduler
	// ticks. Default 5.
	SchedulerIntervalMinutes int `json:"scheduler_interval_minutes"`

	// SummarizerTimeoutSeconds bounds each summarizer call. Default 60.
	SummarizerTimeoutSeconds int `json:"summarizer_timeout_seconds"`

	// SearcherTimeoutSeconds bounds each searcher call. Default 10.
	SearcherTimeoutSeconds int `json:"searcher_timeout_seconds"`

	// SummaryBudgetChars is the character budget for T3 summaries.
	// Default 4000.
	SummaryBudgetChars int `json:"summary_budget_chars"`

	// NormalizeTopics lowercases and collapses topic keys at ingest and
	// lookup. Default true.
	NormalizeTopics bool `json:"normalize_topics"`
}

// StoreConfig contains configuration for the record store.
//
// Supported providers: sqlite, postgres, mysql, memory.
type StoreConfig struct {
	// Provider is the store provider name.
	Provider string `json:"provider"`

	// Config contains provider-specific configuration.
	// For SQLite: db_path, table_prefix
	// For PostgreSQL: host, port, user, password, db_name, ssl_mode, table_prefix
	// For MySQL: host, port, user, password, db_name, table_prefix
	Config map[string]interface{} `json:"config"`
}

// ProviderConfig contains configuration for an external capability
// provider (summarizer or embedder).
type ProviderConfig struct {
	// Provider is the provider name (currently "openai"; empty disables
	// the capability when it is optional).
	Provider string `json:"provider"`

	// APIKey is the API key for the provider.
	APIKey string `json:"api_key"`

	// Model is the model name to use.
	Model string `json:"model"`

	// BaseURL is the base URL for the API (optional).
	BaseURL string `json:"base_url,omitempty"`

	// Dimensions is the embedding dimension (embedder only).
	Dimensions int `json:"dimensions,omitempty"`
}

// DefaultConfig returns a Config populated with the default thresholds and
// an in-process memory store.
func DefaultConfig() *Config {
	return &Config{
		Store:                         StoreConfig{Provider: "memory"},
		CompressionThresholdHours:     48,
		RetentionAfterCompressionDays: 7,
		ArchivalThresholdDays:         14,
		MaxRecallsBeforeArchival:      1,
		PromotionThresholdCount:       3,
		PromotionWindowDays:           7,
		PromotionCooldownHours:        72,
		DeletionThresholdDays:         90,
		DeletionEnabled:               false,
		SchedulerIntervalMinutes:      5,
		SummarizerTimeoutSeconds:      60,
		SearcherTimeoutSeconds:        10,
		SummaryBudgetChars:            summarize.DefaultBudgetChars,
		NormalizeTopics:               true,
	}
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function searches for a .env file (up to 5 directory levels up),
// loads it if found, and parses the environment into a Config.
//
// Supported environment variables:
//   - DATABASE_PROVIDER (sqlite, postgres, mysql, memory)
//   - SQLITE_PATH, POSTGRES_HOST, POSTGRES_PORT, ..., MYSQL_HOST, ...
//   - LLM_API_KEY, LLM_MODEL, LLM_BASE_URL (summarizer)
//   - EMBEDDING_API_KEY, EMBEDDING_MODEL, EMBEDDING_BASE_URL
//   - STRATAMEM_* overrides for every threshold, e.g.
//     STRATAMEM_COMPRESSION_THRESHOLD_HOURS, STRATAMEM_DELETION_ENABLED
func LoadConfigFromEnv() (*Config, error) {
	if envPath, found := FindEnvFile(); found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()

	provider := getEnvOrDefault("DATABASE_PROVIDER", "sqlite")
	switch provider {
	case "sqlite":
		cfg.Store = StoreConfig{
			Provider: "sqlite",
			Config: map[string]interface{}{
				"db_path":      getEnvOrDefault("SQLITE_PATH", "./stratamem.db"),
				"table_prefix": os.Getenv("SQLITE_TABLE_PREFIX"),
			},
		}
	case "postgres":
		port, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_PORT", "5432"))
		cfg.Store = StoreConfig{
			Provider: "postgres",
			Config: map[string]interface{}{
				"host":     getEnvOrDefault("POSTGRES_HOST", "localhost"),
				"port":     port,
				"user":     getEnvOrDefault("POSTGRES_USER", "postgres"),
				"password": os.Getenv("POSTGRES_PASSWORD"),
				"db_name":  getEnvOrDefault("POSTGRES_DATABASE", "stratamem"),
				"ssl_mode": getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
			},
		}
	case "mysql":
		port, _ := strconv.Atoi(getEnvOrDefault("MYSQL_PORT", "3306"))
		cfg.Store = StoreConfig{
			Provider: "mysql",
			Config: map[string]interface{}{
				"host":     getEnvOrDefault("MYSQL_HOST", "127.0.0.1"),
				"port":     port,
				"user":     getEnvOrDefault("MYSQL_USER", "root"),
				"password": os.Getenv("MYSQL_PASSWORD"),
				"db_name":  getEnvOrDefault("MYSQL_DATABASE", "stratamem"),
			},
		}
	case "memory":
		cfg.Store = StoreConfig{Provider: "memory"}
	}

	cfg.Summarizer = ProviderConfig{
		Provider: getEnvOrDefault("LLM_PROVIDER", "openai"),
		APIKey:   os.Getenv("LLM_API_KEY"),
		Model:    os.Getenv("LLM_MODEL"),
		BaseURL:  os.Getenv("LLM_BASE_URL"),
	}
	if key := os.Getenv("EMBEDDING_API_KEY"); key != "" {
		dims, _ := strconv.Atoi(getEnvOrDefault("EMBEDDING_DIMENSIONS", "1536"))
		cfg.Embedder = ProviderConfig{
			Provider:   getEnvOrDefault("EMBEDDING_PROVIDER", "openai"),
			APIKey:     key,
			Model:      os.Getenv("EMBEDDING_MODEL"),
			BaseURL:    os.Getenv("EMBEDDING_BASE_URL"),
			Dimensions: dims,
		}
	}

	loadIntEnv("STRATAMEM_COMPRESSION_THRESHOLD_HOURS", &cfg.CompressionThresholdHours)
	loadIntEnv("STRATAMEM_RETENTION_AFTER_COMPRESSION_DAYS", &cfg.RetentionAfterCompressionDays)
	loadIntEnv("STRATAMEM_ARCHIVAL_THRESHOLD_DAYS", &cfg.ArchivalThresholdDays)
	loadIntEnv("STRATAMEM_MAX_RECALLS_BEFORE_ARCHIVAL", &cfg.MaxRecallsBeforeArchival)
	loadIntEnv("STRATAMEM_PROMOTION_THRESHOLD_COUNT", &cfg.PromotionThresholdCount)
	loadIntEnv("STRATAMEM_PROMOTION_WINDOW_DAYS", &cfg.PromotionWindowDays)
	loadIntEnv("STRATAMEM_PROMOTION_COOLDOWN_HOURS", &cfg.PromotionCooldownHours)
	loadIntEnv("STRATAMEM_DELETION_THRESHOLD_DAYS", &cfg.DeletionThresholdDays)
	loadIntEnv("STRATAMEM_SCHEDULER_INTERVAL_MINUTES", &cfg.SchedulerIntervalMinutes)
	loadIntEnv("STRATAMEM_SUMMARIZER_TIMEOUT_SECONDS", &cfg.SummarizerTimeoutSeconds)
	loadIntEnv("STRATAMEM_SEARCHER_TIMEOUT_SECONDS", &cfg.SearcherTimeoutSeconds)
	loadIntEnv("STRATAMEM_SUMMARY_BUDGET_CHARS", &cfg.SummaryBudgetChars)
	if v := os.Getenv("STRATAMEM_DELETION_ENABLED"); v != "" {
		cfg.DeletionEnabled = v == "true"
	}
	if v := os.Getenv("STRATAMEM_NORMALIZE_TOPICS"); v != "" {
		cfg.NormalizeTopics = v == "true"
	}

	return cfg, nil
}

// LoadConfigFromJSON loads configuration from a JSON file. Fields absent
// from the file keep their defaults.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewEngineError("LoadConfigFromJSON", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, NewEngineError("LoadConfigFromJSON", err)
	}

	return cfg, nil
}

// Validate validates the configuration. Malformed thresholds are fatal at
// startup rather than misbehaving silently later.
func (c *Config) Validate() error {
	if c.Store.Provider == "" {
		return NewEngineError("Validate", fmt.Errorf("%w: store provider is required", ErrInvalidConfig))
	}
	positives := map[string]int{
		"compression_threshold_hours":      c.CompressionThresholdHours,
		"retention_after_compression_days": c.RetentionAfterCompressionDays,
		"archival_threshold_days":          c.ArchivalThresholdDays,
		"promotion_threshold_count":        c.PromotionThresholdCount,
		"promotion_window_days":            c.PromotionWindowDays,
		"promotion_cooldown_hours":         c.PromotionCooldownHours,
		"deletion_threshold_days":          c.DeletionThresholdDays,
		"scheduler_interval_minutes":       c.SchedulerIntervalMinutes,
		"summarizer_timeout_seconds":       c.SummarizerTimeoutSeconds,
		"searcher_timeout_seconds":         c.SearcherTimeoutSeconds,
		"summary_budget_chars":             c.SummaryBudgetChars,
	}
	for name, v := range positives {
		if v <= 0 {
			return NewEngineError("Validate", fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, name))
		}
	}
	if c.MaxRecallsBeforeArchival < 0 {
		return NewEngineError("Validate", fmt.Errorf("%w: max_recalls_before_archival must be non-negative", ErrInvalidConfig))
	}
	for name, w := range c.TierSearchWeights {
		if !record.Tier(name).Valid() {
			return NewEngineError("Validate", fmt.Errorf("%w: unknown tier %q in tier_search_weights", ErrInvalidConfig, name))
		}
		if w < 0 {
			return NewEngineError("Validate", fmt.Errorf("%w: tier_search_weights[%s] must be non-negative", ErrInvalidConfig, name))
		}
	}
	return nil
}

// lifecycleConfig converts the configuration into transition thresholds.
func (c *Config) lifecycleConfig() lifecycle.Config {
	return lifecycle.Config{
		CompressionThreshold:      time.Duration(c.CompressionThresholdHours) * time.Hour,
		RetentionAfterCompression: time.Duration(c.RetentionAfterCompressionDays) * 24 * time.Hour,
		ArchivalThreshold:         time.Duration(c.ArchivalThresholdDays) * 24 * time.Hour,
		MaxRecallsBeforeArchival:  c.MaxRecallsBeforeArchival,
		PromotionThreshold:        c.PromotionThresholdCount,
		PromotionWindow:           time.Duration(c.PromotionWindowDays) * 24 * time.Hour,
		PromotionCooldown:         time.Duration(c.PromotionCooldownHours) * time.Hour,
		DeletionThreshold:         time.Duration(c.DeletionThresholdDays) * 24 * time.Hour,
		DeletionEnabled:           c.DeletionEnabled,
	}
}

// searchWeights converts the configured weights into the router's form,
// falling back to the defaults when unset.
func (c *Config) searchWeights() map[record.Tier]float64 {
	if len(c.TierSearchWeights) == 0 {
		return query.DefaultWeights()
	}
	weights := query.DefaultWeights()
	for name, w := range c.TierSearchWeights {
		weights[record.Tier(name)] = w
	}
	return weights
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func loadIntEnv(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// FindEnvFile searches for .env or .env.example files, checking the
// current directory and then up to 5 directory levels up.
//
// Returns the path to the found file and true, or "" and false when no
// file exists.
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
