// Package config loads engine settings. Defaults are overridden by an
// optional YAML file (ENGRAM_CONFIG_FILE), and environment variables with the
// ENGRAM_ prefix override both.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all settings for the engram engine.
type Config struct {
	Storage       StorageConfig       `yaml:"storage"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	LLM           LLMConfig           `yaml:"llm"`
	Recall        RecallConfig        `yaml:"recall"`
	Dedup         DedupConfig         `yaml:"dedup"`
	Association   AssociationConfig   `yaml:"association"`
	Decomposition DecompositionConfig `yaml:"decomposition"`
	Decay         DecayConfig         `yaml:"decay"`
	Session       SessionConfig       `yaml:"session"`
	Tasks         TasksConfig         `yaml:"tasks"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Backend     string `yaml:"backend"`      // memory, sqlite, postgres (default: sqlite)
	SQLitePath  string `yaml:"sqlite_path"`  // SQLite database file (default: ./data/engram.db)
	PostgresDSN string `yaml:"postgres_dsn"` // lib/pq connection string
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Provider     string        `yaml:"provider"`    // mock, ollama, openai (default: ollama)
	OllamaURL    string        `yaml:"ollama_url"`  // (default: http://localhost:11434)
	Model        string        `yaml:"model"`       // (default: nomic-embed-text)
	OpenAIAPIKey string        `yaml:"openai_api_key"`
	OpenAIURL    string        `yaml:"openai_url"` // (default: https://api.openai.com/v1)
	Dimensions   int           `yaml:"dimensions"` // (default: 768)
	CacheSize    int           `yaml:"cache_size"` // embedding cache entries (default: 4096)
	CacheTTL     time.Duration `yaml:"cache_ttl"`  // (default: 1h)
}

// LLMConfig configures the completion provider used for classification,
// decomposition, tier generation, and reranking.
type LLMConfig struct {
	Provider     string `yaml:"provider"`   // mock, ollama, openai (default: ollama)
	OllamaURL    string `yaml:"ollama_url"` // (default: http://localhost:11434)
	OllamaModel  string `yaml:"ollama_model"`
	OpenAIAPIKey string `yaml:"openai_api_key"`
	OpenAIModel  string `yaml:"openai_model"`
}

// RecallConfig tunes the read path.
type RecallConfig struct {
	OverfetchFactor      int           `yaml:"overfetch_factor"`       // (default: 3)
	MaxGraphExpansion    int           `yaml:"max_graph_expansion"`    // (default: 50)
	TraverseDepth        int           `yaml:"traverse_depth"`         // (default: 2)
	RecencyWeight        float64       `yaml:"recency_weight"`         // in [0,1] (default: 0.3)
	RecencyHalfLifeHours float64       `yaml:"recency_half_life_hours"` // (default: 168)
	SameContextBoost     float64       `yaml:"same_context_boost"`     // (default: 1.5)
	SameWorkspaceBoost   float64       `yaml:"same_workspace_boost"`   // (default: 1.2)
	IncludeAssociations  bool          `yaml:"include_associations"`   // graph expansion on recall (default: true)
	CacheSize            int           `yaml:"cache_size"`             // recall cache entries (default: 1024)
	CacheTTL             time.Duration `yaml:"cache_ttl"`              // (default: 5m)
}

// DedupConfig tunes the duplicate decision thresholds.
type DedupConfig struct {
	UpdateThreshold float64 `yaml:"update_threshold"` // (default: 0.95)
	MergeThreshold  float64 `yaml:"merge_threshold"`  // (default: 0.85)
}

// AssociationConfig tunes graph enrichment.
type AssociationConfig struct {
	AutoThreshold float64 `yaml:"auto_threshold"` // minimum similarity (default: 0.6)
}

// DecompositionConfig tunes fact decomposition.
type DecompositionConfig struct {
	Enabled   bool `yaml:"enabled"`    // (default: true)
	MinLength int  `yaml:"min_length"` // content length floor (default: 200)
}

// DecayConfig tunes the background lifecycle.
type DecayConfig struct {
	Factor                float64 `yaml:"factor"`                   // importance multiplier (default: 0.95)
	MinAgeDays            float64 `yaml:"min_age_days"`             // (default: 7)
	ArchiveMaxImportance  float64 `yaml:"archive_max_importance"`   // (default: 0.2)
	ArchiveMaxAccessCount int     `yaml:"archive_max_access_count"` // (default: 2)
	ArchiveMinAgeDays     float64 `yaml:"archive_min_age_days"`     // (default: 30)
	IntervalSeconds       int     `yaml:"interval_seconds"`         // recurring sweep (default: 3600)
}

// SessionConfig tunes sessions and working memory.
type SessionConfig struct {
	DefaultTTLSeconds      int `yaml:"default_ttl_seconds"`      // (default: 3600)
	CleanupIntervalSeconds int `yaml:"cleanup_interval_seconds"` // (default: 300)
}

// TasksConfig tunes the background scheduler.
type TasksConfig struct {
	Workers   int `yaml:"workers"`    // (default: 4)
	QueueSize int `yaml:"queue_size"` // (default: 256)
}

// Load reads configuration from the file named by ENGRAM_CONFIG_FILE (when
// set) and the environment.
func Load() (*Config, error) {
	return LoadWithFile(os.Getenv("ENGRAM_CONFIG_FILE"))
}

// LoadWithFile layers settings: built-in defaults, then the YAML file, then
// ENGRAM_ environment variables.
func LoadWithFile(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend:    "sqlite",
			SQLitePath: "./data/engram.db",
		},
		Embedding: EmbeddingConfig{
			Provider:   "ollama",
			OllamaURL:  "http://localhost:11434",
			Model:      "nomic-embed-text",
			OpenAIURL:  "https://api.openai.com/v1",
			Dimensions: 768,
			CacheSize:  4096,
			CacheTTL:   time.Hour,
		},
		LLM: LLMConfig{
			Provider:    "ollama",
			OllamaURL:   "http://localhost:11434",
			OllamaModel: "qwen2.5:7b",
			OpenAIModel: "gpt-4o-mini",
		},
		Recall: RecallConfig{
			OverfetchFactor:      3,
			MaxGraphExpansion:    50,
			TraverseDepth:        2,
			RecencyWeight:        0.3,
			RecencyHalfLifeHours: 168,
			SameContextBoost:     1.5,
			SameWorkspaceBoost:   1.2,
			IncludeAssociations:  true,
			CacheSize:            1024,
			CacheTTL:             5 * time.Minute,
		},
		Dedup: DedupConfig{
			UpdateThreshold: 0.95,
			MergeThreshold:  0.85,
		},
		Association: AssociationConfig{
			AutoThreshold: 0.6,
		},
		Decomposition: DecompositionConfig{
			Enabled:   true,
			MinLength: 200,
		},
		Decay: DecayConfig{
			Factor:                0.95,
			MinAgeDays:            7,
			ArchiveMaxImportance:  0.2,
			ArchiveMaxAccessCount: 2,
			ArchiveMinAgeDays:     30,
			IntervalSeconds:       3600,
		},
		Session: SessionConfig{
			DefaultTTLSeconds:      3600,
			CleanupIntervalSeconds: 300,
		},
		Tasks: TasksConfig{
			Workers:   4,
			QueueSize: 256,
		},
	}
}

func (c *Config) applyEnv() {
	c.Storage.Backend = getEnv("ENGRAM_STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.SQLitePath = getEnv("ENGRAM_SQLITE_PATH", c.Storage.SQLitePath)
	c.Storage.PostgresDSN = getEnv("ENGRAM_POSTGRES_DSN", c.Storage.PostgresDSN)

	c.Embedding.Provider = getEnv("ENGRAM_EMBEDDING_PROVIDER", c.Embedding.Provider)
	c.Embedding.OllamaURL = getEnv("ENGRAM_OLLAMA_URL", c.Embedding.OllamaURL)
	c.Embedding.Model = getEnv("ENGRAM_EMBEDDING_MODEL", c.Embedding.Model)
	c.Embedding.OpenAIAPIKey = getEnv("ENGRAM_OPENAI_API_KEY", c.Embedding.OpenAIAPIKey)
	c.Embedding.OpenAIURL = getEnv("ENGRAM_OPENAI_URL", c.Embedding.OpenAIURL)
	c.Embedding.Dimensions = getEnvInt("ENGRAM_EMBEDDING_DIMENSIONS", c.Embedding.Dimensions)
	c.Embedding.CacheSize = getEnvInt("ENGRAM_EMBEDDING_CACHE_SIZE", c.Embedding.CacheSize)
	c.Embedding.CacheTTL = getEnvDuration("ENGRAM_EMBEDDING_CACHE_TTL", c.Embedding.CacheTTL)

	c.LLM.Provider = getEnv("ENGRAM_LLM_PROVIDER", c.LLM.Provider)
	c.LLM.OllamaURL = getEnv("ENGRAM_LLM_OLLAMA_URL", c.LLM.OllamaURL)
	c.LLM.OllamaModel = getEnv("ENGRAM_LLM_OLLAMA_MODEL", c.LLM.OllamaModel)
	c.LLM.OpenAIAPIKey = getEnv("ENGRAM_LLM_OPENAI_API_KEY", c.LLM.OpenAIAPIKey)
	c.LLM.OpenAIModel = getEnv("ENGRAM_LLM_OPENAI_MODEL", c.LLM.OpenAIModel)

	c.Recall.OverfetchFactor = getEnvInt("ENGRAM_RECALL_OVERFETCH", c.Recall.OverfetchFactor)
	c.Recall.MaxGraphExpansion = getEnvInt("ENGRAM_MAX_GRAPH_EXPANSION", c.Recall.MaxGraphExpansion)
	c.Recall.TraverseDepth = getEnvInt("ENGRAM_TRAVERSE_DEPTH", c.Recall.TraverseDepth)
	c.Recall.RecencyWeight = getEnvFloat("ENGRAM_RECENCY_WEIGHT", c.Recall.RecencyWeight)
	c.Recall.RecencyHalfLifeHours = getEnvFloat("ENGRAM_RECENCY_HALF_LIFE_HOURS", c.Recall.RecencyHalfLifeHours)
	c.Recall.SameContextBoost = getEnvFloat("ENGRAM_SAME_CONTEXT_BOOST", c.Recall.SameContextBoost)
	c.Recall.SameWorkspaceBoost = getEnvFloat("ENGRAM_SAME_WORKSPACE_BOOST", c.Recall.SameWorkspaceBoost)
	c.Recall.IncludeAssociations = getEnvBool("ENGRAM_RECALL_INCLUDE_ASSOCIATIONS", c.Recall.IncludeAssociations)
	c.Recall.CacheSize = getEnvInt("ENGRAM_RECALL_CACHE_SIZE", c.Recall.CacheSize)
	c.Recall.CacheTTL = getEnvDuration("ENGRAM_RECALL_CACHE_TTL", c.Recall.CacheTTL)

	c.Dedup.UpdateThreshold = getEnvFloat("ENGRAM_DEDUP_UPDATE_THRESHOLD", c.Dedup.UpdateThreshold)
	c.Dedup.MergeThreshold = getEnvFloat("ENGRAM_DEDUP_MERGE_THRESHOLD", c.Dedup.MergeThreshold)

	c.Association.AutoThreshold = getEnvFloat("ENGRAM_AUTO_ASSOCIATION_THRESHOLD", c.Association.AutoThreshold)

	c.Decomposition.Enabled = getEnvBool("ENGRAM_FACT_DECOMPOSITION_ENABLED", c.Decomposition.Enabled)
	c.Decomposition.MinLength = getEnvInt("ENGRAM_FACT_DECOMPOSITION_MIN_LENGTH", c.Decomposition.MinLength)

	c.Decay.Factor = getEnvFloat("ENGRAM_DECAY_FACTOR", c.Decay.Factor)
	c.Decay.MinAgeDays = getEnvFloat("ENGRAM_DECAY_MIN_AGE_DAYS", c.Decay.MinAgeDays)
	c.Decay.ArchiveMaxImportance = getEnvFloat("ENGRAM_ARCHIVE_MAX_IMPORTANCE", c.Decay.ArchiveMaxImportance)
	c.Decay.ArchiveMaxAccessCount = getEnvInt("ENGRAM_ARCHIVE_MAX_ACCESS_COUNT", c.Decay.ArchiveMaxAccessCount)
	c.Decay.ArchiveMinAgeDays = getEnvFloat("ENGRAM_ARCHIVE_MIN_AGE_DAYS", c.Decay.ArchiveMinAgeDays)
	c.Decay.IntervalSeconds = getEnvInt("ENGRAM_DECAY_INTERVAL_SECONDS", c.Decay.IntervalSeconds)

	c.Session.DefaultTTLSeconds = getEnvInt("ENGRAM_SESSION_TTL_SECONDS", c.Session.DefaultTTLSeconds)
	c.Session.CleanupIntervalSeconds = getEnvInt("ENGRAM_SESSION_CLEANUP_INTERVAL_SECONDS", c.Session.CleanupIntervalSeconds)

	c.Tasks.Workers = getEnvInt("ENGRAM_TASK_WORKERS", c.Tasks.Workers)
	c.Tasks.QueueSize = getEnvInt("ENGRAM_TASK_QUEUE_SIZE", c.Tasks.QueueSize)
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("config: postgres backend requires ENGRAM_POSTGRES_DSN")
	}
	if c.Recall.RecencyWeight < 0 || c.Recall.RecencyWeight > 1 {
		return fmt.Errorf("config: recency weight %v out of [0, 1]", c.Recall.RecencyWeight)
	}
	if c.Dedup.MergeThreshold > c.Dedup.UpdateThreshold {
		return fmt.Errorf("config: merge threshold %v above update threshold %v",
			c.Dedup.MergeThreshold, c.Dedup.UpdateThreshold)
	}
	return nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default
// value. It recognizes "true", "1", "yes" and "false", "0", "no".
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (Go syntax, e.g.
// "5m") or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
