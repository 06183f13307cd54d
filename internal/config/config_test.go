package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 7, cfg.LookbackDays)
	assert.Equal(t, 200, cfg.ScoreThreshold)
	assert.Equal(t, 5000, cfg.Prefilter.MaxFollowers)
	assert.Equal(t, 104, cfg.Prefilter.MaxAgeWeeks)
	assert.Equal(t, 70, cfg.Scoring.DefaultPowerUserWeight)
	assert.Equal(t, "0 6 * * MON", cfg.CronSpec)
	assert.NotEmpty(t, cfg.Keywords)
	assert.Contains(t, cfg.Keywords, "defi")

	// The bucket tables must descend so larger values never score higher.
	for i := 1; i < len(cfg.Scoring.FollowerBuckets); i++ {
		assert.Greater(t, cfg.Scoring.FollowerBuckets[i].Max, cfg.Scoring.FollowerBuckets[i-1].Max)
		assert.Less(t, cfg.Scoring.FollowerBuckets[i].Points, cfg.Scoring.FollowerBuckets[i-1].Points)
	}
	for i := 1; i < len(cfg.Scoring.AgeWeekBuckets); i++ {
		assert.Greater(t, cfg.Scoring.AgeWeekBuckets[i].Max, cfg.Scoring.AgeWeekBuckets[i-1].Max)
		assert.Less(t, cfg.Scoring.AgeWeekBuckets[i].Points, cfg.Scoring.AgeWeekBuckets[i-1].Points)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
power_users:
  alice: 100
  bob: 0
score_threshold: 250
lookback_days: 14
run_budget: 1h
api:
  key: file-key
prefilter:
  max_followers: 8000
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.ScoreThreshold)
	assert.Equal(t, 14, cfg.LookbackDays)
	assert.Equal(t, time.Hour, cfg.RunBudget)
	assert.Equal(t, "file-key", cfg.API.Key)
	assert.Equal(t, 8000, cfg.Prefilter.MaxFollowers)

	// Untouched fields keep their defaults.
	assert.Equal(t, "https://api.sorsa.io/v2", cfg.API.BaseURL)
	assert.Equal(t, 50, cfg.Scoring.KeywordPoints)
}

func TestLoad_EnvFallbacks(t *testing.T) {
	t.Setenv("SORSA_API_KEY", "env-key")
	t.Setenv("SCOUT_POSTGRES_DSN", "postgres://scout@localhost/scout")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("power_users:\n  alice: 100\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.API.Key)
	assert.Equal(t, "postgres://scout@localhost/scout", cfg.Postgres.DSN)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.PowerUsers = map[string]int{"alice": 100}
		return cfg
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no power users", func(c *Config) { c.PowerUsers = nil }},
		{"zero lookback", func(c *Config) { c.LookbackDays = 0 }},
		{"negative threshold", func(c *Config) { c.ScoreThreshold = -1 }},
		{"missing base url", func(c *Config) { c.API.BaseURL = "" }},
		{"zero rps", func(c *Config) { c.API.RPS = 0 }},
		{"negative rps", func(c *Config) { c.API.RPS = -1 }},
		{"zero fetch concurrency", func(c *Config) { c.Workers.FetchConcurrency = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestPowerUserWeight(t *testing.T) {
	cfg := Default()
	cfg.PowerUsers = map[string]int{"alice": 100, "bob": 0}

	assert.Equal(t, 100, cfg.PowerUserWeight("alice"))
	assert.Equal(t, 70, cfg.PowerUserWeight("bob"), "zero weight falls back to the default")
	assert.Equal(t, 70, cfg.PowerUserWeight("stranger"))
}
