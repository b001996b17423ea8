package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Reddit    RedditConfig    `yaml:"reddit" mapstructure:"reddit"`
	Browser   BrowserConfig   `yaml:"browser" mapstructure:"browser"`
	Discovery DiscoveryConfig `yaml:"discovery" mapstructure:"discovery"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Resolve   ResolveConfig   `yaml:"resolve" mapstructure:"resolve"`
	Analytics AnalyticsConfig `yaml:"analytics" mapstructure:"analytics"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend. The pool bounds only apply to
// the postgres driver.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings. The key is mandatory for any
// analysis run: company resolution and extraction both go through Claude.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// RedditConfig holds Reddit access settings. OAuth credentials are optional;
// when all four are present the authenticated API strategy is preferred over
// scraping.
type RedditConfig struct {
	ClientID     string  `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string  `yaml:"client_secret" mapstructure:"client_secret"`
	Username     string  `yaml:"username" mapstructure:"username"`
	Password     string  `yaml:"password" mapstructure:"password"`
	UserAgent    string  `yaml:"user_agent" mapstructure:"user_agent"`
	RequestRate  float64 `yaml:"request_rate" mapstructure:"request_rate"`
	RequestBurst int     `yaml:"request_burst" mapstructure:"request_burst"`
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`

	// Endpoint overrides used by tests. Empty means the public hosts.
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
	OAuthBaseURL string `yaml:"oauth_base_url" mapstructure:"oauth_base_url"`
	TokenURL     string `yaml:"token_url" mapstructure:"token_url"`
}

// HasCredentials reports whether a full OAuth credential set is configured.
func (c RedditConfig) HasCredentials() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.Username != "" && c.Password != ""
}

// BrowserConfig configures the browser-driven scraping fallback.
type BrowserConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Headless  bool   `yaml:"headless" mapstructure:"headless"`
	TimeoutMs int    `yaml:"timeout_ms" mapstructure:"timeout_ms"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
}

// DiscoveryConfig configures subreddit discovery and ranking.
type DiscoveryConfig struct {
	MaxPages         int `yaml:"max_pages" mapstructure:"max_pages"`
	MaxSearchTerms   int `yaml:"max_search_terms" mapstructure:"max_search_terms"`
	MaxCandidates    int `yaml:"max_candidates" mapstructure:"max_candidates"`
	KeepTop          int `yaml:"keep_top" mapstructure:"keep_top"`
	FetchTop         int `yaml:"fetch_top" mapstructure:"fetch_top"`
	AboutConcurrency int `yaml:"about_concurrency" mapstructure:"about_concurrency"`
}

// FetchConfig configures the source fetch phase.
type FetchConfig struct {
	MaxPostsPerSubreddit int `yaml:"max_posts_per_subreddit" mapstructure:"max_posts_per_subreddit"`
	MaxCommentsPerPost   int `yaml:"max_comments_per_post" mapstructure:"max_comments_per_post"`
	Concurrency          int `yaml:"concurrency" mapstructure:"concurrency"`
}

// ExtractConfig configures LLM entity and relationship extraction.
type ExtractConfig struct {
	BatchSize           int     `yaml:"batch_size" mapstructure:"batch_size"`
	Concurrency         int     `yaml:"concurrency" mapstructure:"concurrency"`
	MaxSources          int     `yaml:"max_sources" mapstructure:"max_sources"`
	MaxSourceChars      int     `yaml:"max_source_chars" mapstructure:"max_source_chars"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
}

// ResolveConfig configures fuzzy entity resolution thresholds.
type ResolveConfig struct {
	// SimilarityFloor is the minimum normalized-key similarity for a fuzzy
	// match to bind to an existing entity. Below it a new entity is created.
	SimilarityFloor float64 `yaml:"similarity_floor" mapstructure:"similarity_floor"`
	// MergeThreshold is the similarity at which the incoming surface form is
	// also folded into the matched entity's aliases.
	MergeThreshold float64 `yaml:"merge_threshold" mapstructure:"merge_threshold"`
}

// AnalyticsConfig configures competitive analytics.
type AnalyticsConfig struct {
	ZScoreThreshold float64 `yaml:"z_score_threshold" mapstructure:"z_score_threshold"`
	MinDailyCount   int     `yaml:"min_daily_count" mapstructure:"min_daily_count"`
	MinHistoryDays  int     `yaml:"min_history_days" mapstructure:"min_history_days"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks that the configuration is complete for the given mode.
// Modes: "analyze" (one-shot CLI run), "serve" (HTTP API).
func (c *Config) Validate(mode string) error {
	var missing []string

	check := func() {
		if c.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url is required")
		}
		if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
			missing = append(missing, "store.driver must be sqlite or postgres")
		}
		if c.Anthropic.Key == "" {
			missing = append(missing, "anthropic.key is required")
		}
		if c.Resolve.SimilarityFloor < 0 || c.Resolve.SimilarityFloor > 1 {
			missing = append(missing, "resolve.similarity_floor must be in [0,1]")
		}
		if c.Resolve.MergeThreshold < c.Resolve.SimilarityFloor || c.Resolve.MergeThreshold > 1 {
			missing = append(missing, "resolve.merge_threshold must be in [similarity_floor,1]")
		}
		if c.Extract.ConfidenceThreshold < 0 || c.Extract.ConfidenceThreshold > 1 {
			missing = append(missing, "extract.confidence_threshold must be in [0,1]")
		}
		if c.Fetch.Concurrency < 1 || c.Fetch.Concurrency > 20 {
			missing = append(missing, "fetch.concurrency must be between 1 and 20")
		}
	}

	switch mode {
	case "analyze":
		check()
	case "serve":
		check()
		if c.Server.Port <= 0 {
			missing = append(missing, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(missing) > 0 {
		return eris.New("config: " + strings.Join(missing, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "reddit-intel.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("reddit.user_agent", "reddit-intel/1.0 (competitive research)")
	v.SetDefault("reddit.request_rate", 1.0)
	v.SetDefault("reddit.request_burst", 2)
	v.SetDefault("reddit.timeout_secs", 30)
	v.SetDefault("browser.enabled", true)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.timeout_ms", 30000)
	v.SetDefault("discovery.max_pages", 3)
	v.SetDefault("discovery.max_search_terms", 3)
	v.SetDefault("discovery.max_candidates", 30)
	v.SetDefault("discovery.keep_top", 20)
	v.SetDefault("discovery.fetch_top", 5)
	v.SetDefault("discovery.about_concurrency", 3)
	v.SetDefault("fetch.max_posts_per_subreddit", 10)
	v.SetDefault("fetch.max_comments_per_post", 10)
	v.SetDefault("fetch.concurrency", 3)
	v.SetDefault("extract.batch_size", 4)
	v.SetDefault("extract.concurrency", 2)
	v.SetDefault("extract.max_sources", 60)
	v.SetDefault("extract.max_source_chars", 4000)
	v.SetDefault("extract.confidence_threshold", 0.35)
	v.SetDefault("resolve.similarity_floor", 0.70)
	v.SetDefault("resolve.merge_threshold", 0.90)
	v.SetDefault("analytics.z_score_threshold", 2.0)
	v.SetDefault("analytics.min_daily_count", 3)
	v.SetDefault("analytics.min_history_days", 3)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
