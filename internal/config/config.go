package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the immutable run configuration threaded through the pipeline.
// Loaded once at startup; never mutated during a run.
type Config struct {
	PowerUsers map[string]int `yaml:"power_users"` // handle -> signal weight

	LookbackDays   int `yaml:"lookback_days"`
	ScoreThreshold int `yaml:"score_threshold"`

	Scoring Scoring `yaml:"scoring"`

	Keywords []string `yaml:"keywords"`

	Prefilter Prefilter `yaml:"prefilter"`

	API      API      `yaml:"api"`
	Postgres Postgres `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Export   Export   `yaml:"export"`

	Workers   Workers       `yaml:"workers"`
	RunBudget time.Duration `yaml:"run_budget"`

	CronSpec    string `yaml:"cron_spec"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Bucket maps an upper bound to the points awarded at or below it.
// Buckets are evaluated in order; the first bound >= value wins.
type Bucket struct {
	Max    int `yaml:"max"`
	Points int `yaml:"points"`
}

// Scoring holds the weighting tables for the score engine.
type Scoring struct {
	FollowerBuckets []Bucket `yaml:"follower_buckets"`
	AgeWeekBuckets  []Bucket `yaml:"age_week_buckets"`

	KeywordPoints  int `yaml:"keyword_points"`
	DiscordPoints  int `yaml:"discord_points"`
	TelegramPoints int `yaml:"telegram_points"`
	WebsitePoints  int `yaml:"website_points"`

	DefaultPowerUserWeight int `yaml:"default_power_user_weight"`
	CrossRefCap            int `yaml:"cross_ref_cap"` // ceiling on the summed power-user contribution
}

// Prefilter drops accounts before scoring. Zero values disable a filter.
type Prefilter struct {
	MaxFollowers int `yaml:"max_followers"`
	MaxAgeWeeks  int `yaml:"max_age_weeks"`
}

// API configures the social-graph API client.
type API struct {
	BaseURL        string        `yaml:"base_url"`
	Key            string        `yaml:"key"` // falls back to SORSA_API_KEY
	RPS            float64       `yaml:"rps"`
	Burst          int           `yaml:"burst"`
	MaxRetries     int           `yaml:"max_retries"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
	PageSize       int           `yaml:"page_size"`
}

type Postgres struct {
	DSN string `yaml:"dsn"` // falls back to SCOUT_POSTGRES_DSN
}

// Redis is optional; an empty Addr disables the profile cache.
type Redis struct {
	Addr       string        `yaml:"addr"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	ProfileTTL time.Duration `yaml:"profile_ttl"`
}

type Export struct {
	CSVDir string `yaml:"csv_dir"`

	SheetsSpreadsheetID string `yaml:"sheets_spreadsheet_id"`
	SheetsRange         string `yaml:"sheets_range"`
	SheetsToken         string `yaml:"sheets_token"` // falls back to GOOGLE_SHEETS_TOKEN
}

type Workers struct {
	FetchConcurrency   int `yaml:"fetch_concurrency"`
	ProfileConcurrency int `yaml:"profile_concurrency"`
}

// Default returns the production configuration for the weekly discovery
// job. Power users must still be supplied.
func Default() *Config {
	return &Config{
		LookbackDays:   7,
		ScoreThreshold: 200,
		Scoring: Scoring{
			FollowerBuckets: []Bucket{
				{200, 200}, {400, 150}, {600, 100}, {800, 60}, {1000, 55},
				{1200, 50}, {1600, 45}, {2000, 40}, {2600, 35}, {3200, 30},
				{4000, 25}, {5000, 20}, {6000, 15}, {7000, 10}, {8000, 5},
				{10000, 2},
			},
			AgeWeekBuckets: []Bucket{
				{2, 200}, {4, 150}, {6, 100}, {8, 60}, {10, 55},
				{12, 50}, {14, 45}, {16, 40}, {18, 35}, {20, 30},
				{24, 25}, {28, 20}, {32, 15}, {36, 10}, {40, 5}, {52, 2},
			},
			KeywordPoints:          50,
			DiscordPoints:          80,
			TelegramPoints:         10,
			WebsitePoints:          40,
			DefaultPowerUserWeight: 70,
			CrossRefCap:            500,
		},
		Keywords: DefaultKeywords(),
		Prefilter: Prefilter{
			MaxFollowers: 5000,
			MaxAgeWeeks:  104,
		},
		API: API{
			BaseURL:        "https://api.sorsa.io/v2",
			RPS:            1.0,
			Burst:          2,
			MaxRetries:     4,
			RequestTimeout: 30 * time.Second,
			BackoffBase:    time.Second,
			BackoffMax:     30 * time.Second,
			PageSize:       100,
		},
		Redis: Redis{
			ProfileTTL: 6 * time.Hour,
		},
		Export: Export{
			CSVDir:      "artifacts/discoveries",
			SheetsRange: "A1",
		},
		Workers: Workers{
			FetchConcurrency:   4,
			ProfileConcurrency: 8,
		},
		RunBudget:   45 * time.Minute,
		CronSpec:    "0 6 * * MON",
		MetricsAddr: ":9184",
	}
}

// DefaultKeywords is the crypto keyword set matched against bios.
func DefaultKeywords() []string {
	return []string{
		"nft", "cross-chain", "multi-chain", "data", "analytics", "aggregator",
		"trading", "protocol", "tokenized", "amm", "dex", "optimisation",
		"solution", "liquidity", "terra", "solana", "ethereum", "celo",
		"dao", "perpetuals", "decentralized", "exchange", "derivatives",
		"capital-efficient", "metaverse", "game", "gaming", "gamified",
		"community", "art", "index", "insurance", "platform",
		"layer 2", "web 3", "web3", "borrowing", "lending", "loans",
		"staking", "collectibles", "marketplace", "risk", "api",
		"virtual", "wallet", "payments", "prediction", "options", "privacy",
		"smart contract", "infrastructure", "stablecoin",
		"algorithmic", "farming", "synthetic", "yield", "arweave", "cosmos",
		"defi", "credential", "soulbound", "layer", "collateralized",
		"application", "dapp", "building", "composable", "modular",
		"as-a-service", "monetization", "digital", "identity", "ownership",
		"blockchain", "onchain", "on-chain", "no-code", "graph", "zkp",
		"tools", "tooling", "service", "rwa", "real-world-assets",
	}
}

// Load reads a YAML config file on top of defaults and resolves
// environment fallbacks for secrets.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if cfg.API.Key == "" {
		cfg.API.Key = os.Getenv("SORSA_API_KEY")
	}
	if cfg.Postgres.DSN == "" {
		cfg.Postgres.DSN = os.Getenv("SCOUT_POSTGRES_DSN")
	}
	if cfg.Export.SheetsToken == "" {
		cfg.Export.SheetsToken = os.Getenv("GOOGLE_SHEETS_TOKEN")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.LookbackDays <= 0 {
		return fmt.Errorf("lookback_days must be positive, got %d", c.LookbackDays)
	}
	if c.ScoreThreshold < 0 {
		return fmt.Errorf("score_threshold must be non-negative, got %d", c.ScoreThreshold)
	}
	if len(c.PowerUsers) == 0 {
		return fmt.Errorf("no power users configured")
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.API.RPS <= 0 {
		return fmt.Errorf("api.rps must be positive, got %v", c.API.RPS)
	}
	if c.Workers.FetchConcurrency < 1 || c.Workers.ProfileConcurrency < 1 {
		return fmt.Errorf("worker concurrency must be at least 1")
	}
	return nil
}

// PowerUserWeight returns the configured weight for a power user handle,
// or the default weight when the handle carries no explicit weight.
func (c *Config) PowerUserWeight(handle string) int {
	if w, ok := c.PowerUsers[handle]; ok && w > 0 {
		return w
	}
	return c.Scoring.DefaultPowerUserWeight
}
