// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Identity IdentityConfig `mapstructure:"identity"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Feeds    FeedsConfig    `mapstructure:"feeds"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	SeenSet  SeenSetConfig  `mapstructure:"seen_set"`
	Sink     SinkConfig     `mapstructure:"sink"`
	Sources  []SourceConfig `mapstructure:"sources"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
}

// ServerConfig controls the admin HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// IdentityConfig governs the identity pool.
type IdentityConfig struct {
	Proxies             []string `mapstructure:"proxies"`
	UserAgents          []string `mapstructure:"user_agents"`
	DomainFailureMax    int      `mapstructure:"domain_failure_max"`
	GlobalFailureMax    int      `mapstructure:"global_failure_max"`
	CooldownInitialSecs int      `mapstructure:"cooldown_initial_seconds"`
	CooldownMaxSecs     int      `mapstructure:"cooldown_max_seconds"`
}

// FetchConfig configures HTTP retry and politeness behavior.
type FetchConfig struct {
	TimeoutSeconds     int     `mapstructure:"timeout_seconds"`
	MaxAttempts        int     `mapstructure:"max_attempts"`
	BackoffInitialMs   int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs       int     `mapstructure:"backoff_max_ms"`
	JitterMaxMs        int     `mapstructure:"jitter_max_ms"`
	RateLimitCooldownS int     `mapstructure:"rate_limit_cooldown_seconds"`
	DomainRPS          float64 `mapstructure:"domain_rps"`
	DomainBurst        int     `mapstructure:"domain_burst"`
}

// FeedsConfig governs the parallel feed scheduler.
type FeedsConfig struct {
	Parallelism          int `mapstructure:"parallelism"`
	MinAcceptableYield   int `mapstructure:"min_acceptable_yield"`
	TargetTimeoutSeconds int `mapstructure:"target_timeout_seconds"`
	CycleTimeoutSeconds  int `mapstructure:"cycle_timeout_seconds"`
}

// DispatchConfig throttles delivery to the notification sink.
type DispatchConfig struct {
	BatchSize          int `mapstructure:"batch_size"`
	DelayMinMs         int `mapstructure:"delay_min_ms"`
	DelayMaxMs         int `mapstructure:"delay_max_ms"`
	OutageFailureCount int `mapstructure:"outage_failure_count"`
}

// SeenSetConfig selects and configures the durable seen-set provider.
type SeenSetConfig struct {
	Provider string `mapstructure:"provider"` // sqlite, postgres, memory
	Path     string `mapstructure:"path"`     // sqlite file path
	DSN      string `mapstructure:"dsn"`      // postgres DSN
}

// SinkConfig selects and configures the notification sink.
type SinkConfig struct {
	Provider       string `mapstructure:"provider"` // telegram, pubsub, noop
	BotToken       string `mapstructure:"bot_token"`
	ChatID         string `mapstructure:"chat_id"`
	ProjectID      string `mapstructure:"project_id"`
	TopicName      string `mapstructure:"topic_name"`
	SendSummary    bool   `mapstructure:"send_summary"`
	TimeoutSecs    int    `mapstructure:"timeout_seconds"`
	DisablePreview bool   `mapstructure:"disable_preview"`
}

// SourceConfig declares one scraping source and its search space.
type SourceConfig struct {
	Name          string   `mapstructure:"name"`
	Kind          string   `mapstructure:"kind"` // feed, api
	BaseURL       string   `mapstructure:"base_url"`
	Keywords      []string `mapstructure:"keywords"`
	Locations     []string `mapstructure:"locations"`
	ExcludeTitles []string `mapstructure:"exclude_titles"`
	ExcludeFirms  []string `mapstructure:"exclude_companies"`
	MaxSearches   int      `mapstructure:"max_searches"`
}

// ScheduleConfig controls continuous mode.
type ScheduleConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("JOBPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("identity.domain_failure_max", 3)
	v.SetDefault("identity.global_failure_max", 10)
	v.SetDefault("identity.cooldown_initial_seconds", 60)
	v.SetDefault("identity.cooldown_max_seconds", 1800)
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.backoff_initial_ms", 500)
	v.SetDefault("fetch.backoff_max_ms", 8000)
	v.SetDefault("fetch.jitter_max_ms", 400)
	v.SetDefault("fetch.rate_limit_cooldown_seconds", 20)
	v.SetDefault("fetch.domain_rps", 0.5)
	v.SetDefault("fetch.domain_burst", 1)
	v.SetDefault("feeds.parallelism", 5)
	v.SetDefault("feeds.min_acceptable_yield", 10)
	v.SetDefault("feeds.target_timeout_seconds", 30)
	v.SetDefault("feeds.cycle_timeout_seconds", 600)
	v.SetDefault("dispatch.batch_size", 20)
	v.SetDefault("dispatch.delay_min_ms", 2000)
	v.SetDefault("dispatch.delay_max_ms", 5000)
	v.SetDefault("dispatch.outage_failure_count", 5)
	v.SetDefault("seen_set.provider", "sqlite")
	v.SetDefault("seen_set.path", "jobpulse.db")
	v.SetDefault("sink.provider", "noop")
	v.SetDefault("sink.timeout_seconds", 10)
	v.SetDefault("sink.send_summary", true)
	v.SetDefault("schedule.interval_minutes", 240)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.max_attempts must be > 0")
	}
	if c.Feeds.Parallelism <= 0 {
		return fmt.Errorf("feeds.parallelism must be > 0")
	}
	if c.Dispatch.BatchSize <= 0 {
		return fmt.Errorf("dispatch.batch_size must be > 0")
	}
	if c.Dispatch.DelayMinMs > c.Dispatch.DelayMaxMs {
		return fmt.Errorf("dispatch.delay_min_ms must be <= dispatch.delay_max_ms")
	}
	switch c.SeenSet.Provider {
	case "sqlite":
		if c.SeenSet.Path == "" {
			return fmt.Errorf("seen_set.path must be set for the sqlite provider")
		}
	case "postgres":
		if c.SeenSet.DSN == "" {
			return fmt.Errorf("seen_set.dsn must be set for the postgres provider")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown seen_set.provider: %s", c.SeenSet.Provider)
	}
	switch c.Sink.Provider {
	case "telegram":
		if c.Sink.BotToken == "" || c.Sink.ChatID == "" {
			return fmt.Errorf("sink.bot_token and sink.chat_id must be set for the telegram provider")
		}
	case "pubsub":
		if c.Sink.ProjectID == "" || c.Sink.TopicName == "" {
			return fmt.Errorf("sink.project_id and sink.topic_name must be set for the pubsub provider")
		}
	case "noop":
	default:
		return fmt.Errorf("unknown sink.provider: %s", c.Sink.Provider)
	}
	return nil
}

// FetchTimeout converts the fetch timeout config into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}
