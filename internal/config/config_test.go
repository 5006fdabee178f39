package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/rcliao/layered-memory/internal/config"
	"github.com/rcliao/layered-memory/internal/model"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	gt.NoError(t, cfg.Validate())
	gt.Equal(t, cfg.Retrieval.RRFK, float64(60))
	gt.Equal(t, cfg.Forget.Mode, config.ForgetArchiveImportant)
	gt.Equal(t, cfg.Sync.SweepSchedule, "@every 5m")
}

func TestLoadYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `
db_path: /tmp/x.db
embedding:
  provider: none
sync:
  max_attempts: 3
  base_backoff: 10ms
  max_backoff: 1s
retrieval:
  semantic_timeout: 250ms
forget:
  mode: delete
`
	gt.NoError(t, os.WriteFile(path, []byte(yml), 0644))

	t.Setenv("LAYERED_MEMORY_DB", filepath.Join(dir, "env.db"))
	t.Setenv("LAYERED_MEMORY_ARCHIVE_THRESHOLD", "0.6")

	cfg, err := config.Load(path)
	gt.NoError(t, err).Required()
	gt.Equal(t, cfg.DBPath, filepath.Join(dir, "env.db"))
	gt.Equal(t, cfg.Embedding.Provider, "none")
	gt.Equal(t, cfg.Sync.MaxAttempts, 3)
	gt.Equal(t, cfg.Sync.BaseBackoff, 10*time.Millisecond)
	gt.Equal(t, cfg.Retrieval.SemanticTimeout, 250*time.Millisecond)
	gt.Equal(t, cfg.Forget.Mode, config.ForgetDelete)
	gt.Equal(t, cfg.Forget.ArchiveThreshold, 0.6)
	// untouched keys keep defaults
	gt.Equal(t, cfg.Sync.QueueSize, config.DefaultQueueSize)
}

func TestLoadMissing(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	gt.Error(t, err)

	cfg, err := config.Load("")
	gt.NoError(t, err).Required()
	gt.S(t, cfg.DBPath).Contains(".layered-memory")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"provider", func(c *config.Config) { c.Embedding.Provider = "magic" }},
		{"forget mode", func(c *config.Config) { c.Forget.Mode = "shred" }},
		{"threshold", func(c *config.Config) { c.Forget.ArchiveThreshold = 1.5 }},
		{"queue", func(c *config.Config) { c.Sync.QueueSize = 0 }},
		{"backoff", func(c *config.Config) { c.Sync.MaxBackoff = time.Millisecond }},
		{"rrf", func(c *config.Config) { c.Retrieval.RRFK = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			gt.Error(t, err)
			gt.True(t, model.IsValidation(err))
		})
	}
}
