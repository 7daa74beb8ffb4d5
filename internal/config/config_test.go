package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadWithFile("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, 3, cfg.Recall.OverfetchFactor)
	assert.Equal(t, 50, cfg.Recall.MaxGraphExpansion)
	assert.Equal(t, 2, cfg.Recall.TraverseDepth)
	assert.Equal(t, 1.5, cfg.Recall.SameContextBoost)
	assert.Equal(t, 1.2, cfg.Recall.SameWorkspaceBoost)
	assert.Equal(t, 5*time.Minute, cfg.Recall.CacheTTL)
	assert.Equal(t, 0.95, cfg.Dedup.UpdateThreshold)
	assert.Equal(t, 0.85, cfg.Dedup.MergeThreshold)
	assert.Equal(t, 0.6, cfg.Association.AutoThreshold)
	assert.True(t, cfg.Recall.IncludeAssociations)
	assert.True(t, cfg.Decomposition.Enabled)
	assert.Equal(t, 3600, cfg.Session.DefaultTTLSeconds)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ENGRAM_STORAGE_BACKEND", "memory")
	t.Setenv("ENGRAM_RECALL_OVERFETCH", "5")
	t.Setenv("ENGRAM_RECENCY_WEIGHT", "0.7")
	t.Setenv("ENGRAM_FACT_DECOMPOSITION_ENABLED", "false")
	t.Setenv("ENGRAM_RECALL_CACHE_TTL", "90s")
	t.Setenv("ENGRAM_RECALL_INCLUDE_ASSOCIATIONS", "false")

	cfg, err := LoadWithFile("")
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 5, cfg.Recall.OverfetchFactor)
	assert.Equal(t, 0.7, cfg.Recall.RecencyWeight)
	assert.False(t, cfg.Decomposition.Enabled)
	assert.Equal(t, 90*time.Second, cfg.Recall.CacheTTL)
	assert.False(t, cfg.Recall.IncludeAssociations)
}

func TestEnvUnparseableFallsBack(t *testing.T) {
	t.Setenv("ENGRAM_RECALL_OVERFETCH", "lots")
	t.Setenv("ENGRAM_RECENCY_WEIGHT", "heavy")

	cfg, err := LoadWithFile("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Recall.OverfetchFactor)
	assert.Equal(t, 0.3, cfg.Recall.RecencyWeight)
}

func TestYAMLFileLayering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engram.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  backend: memory
recall:
  overfetch_factor: 4
  recency_weight: 0.5
dedup:
  update_threshold: 0.9
`), 0o644))

	// Env overrides the file, the file overrides the defaults.
	t.Setenv("ENGRAM_RECALL_OVERFETCH", "7")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 7, cfg.Recall.OverfetchFactor)
	assert.Equal(t, 0.5, cfg.Recall.RecencyWeight)
	assert.Equal(t, 0.9, cfg.Dedup.UpdateThreshold)
	// Untouched values keep their defaults.
	assert.Equal(t, 0.85, cfg.Dedup.MergeThreshold)
}

func TestValidate(t *testing.T) {
	t.Run("unknown backend", func(t *testing.T) {
		t.Setenv("ENGRAM_STORAGE_BACKEND", "redis")
		_, err := LoadWithFile("")
		assert.Error(t, err)
	})

	t.Run("postgres requires dsn", func(t *testing.T) {
		t.Setenv("ENGRAM_STORAGE_BACKEND", "postgres")
		_, err := LoadWithFile("")
		assert.Error(t, err)

		t.Setenv("ENGRAM_POSTGRES_DSN", "postgres://localhost/engram?sslmode=disable")
		_, err = LoadWithFile("")
		assert.NoError(t, err)
	})

	t.Run("recency weight bounds", func(t *testing.T) {
		t.Setenv("ENGRAM_RECENCY_WEIGHT", "1.5")
		_, err := LoadWithFile("")
		assert.Error(t, err)
	})

	t.Run("threshold ordering", func(t *testing.T) {
		t.Setenv("ENGRAM_DEDUP_MERGE_THRESHOLD", "0.99")
		_, err := LoadWithFile("")
		assert.Error(t, err)
	})

	t.Run("missing config file", func(t *testing.T) {
		_, err := LoadWithFile("/nonexistent/engram.yaml")
		assert.Error(t, err)
	})
}
