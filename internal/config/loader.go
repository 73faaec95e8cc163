package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file and environment over the defaults.
// Priority (highest to lowest): env vars > config file > defaults. CLI flag
// overrides are not read here; the caller applies them to the result.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	v.SetEnvPrefix("CRAWLFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("crawlforge")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".crawlforge"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	return Load(path)
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("crawl.max_concurrency", cfg.Crawl.MaxConcurrency)
	v.SetDefault("crawl.max_requests_per_minute", cfg.Crawl.MaxRequestsPerMinute)
	v.SetDefault("crawl.max_retries", cfg.Crawl.MaxRetries)
	v.SetDefault("crawl.output_path", cfg.Crawl.OutputPath)
	v.SetDefault("crawl.state_path", cfg.Crawl.StatePath)
	v.SetDefault("crawl.queue_path", cfg.Crawl.QueuePath)
	v.SetDefault("crawl.error_snapshot_dir", cfg.Crawl.ErrorSnapshotDir)
	v.SetDefault("crawl.max_error_snapshots", cfg.Crawl.MaxErrorSnapshots)

	v.SetDefault("session.max_pool_size", cfg.Session.MaxPoolSize)
	v.SetDefault("session.max_usage_count", cfg.Session.MaxUsageCount)
	v.SetDefault("session.max_age_ms", cfg.Session.MaxAgeMs)
	v.SetDefault("session.cooldown_ms", cfg.Session.CooldownMs)
	v.SetDefault("session.degraded_after_errors", cfg.Session.DegradedAfterErrors)

	v.SetDefault("engine.type", cfg.Engine.Type)
	v.SetDefault("engine.request_timeout", cfg.Engine.RequestTimeout)
	v.SetDefault("engine.user_agents", cfg.Engine.UserAgents)
	v.SetDefault("engine.follow_redirects", cfg.Engine.FollowRedirects)
	v.SetDefault("engine.max_redirects", cfg.Engine.MaxRedirects)
	v.SetDefault("engine.max_body_size", cfg.Engine.MaxBodySize)
	v.SetDefault("engine.idle_conn_timeout", cfg.Engine.IdleConnTimeout)
	v.SetDefault("engine.max_idle_conns", cfg.Engine.MaxIdleConns)

	v.SetDefault("proxy.enabled", cfg.Proxy.Enabled)
	v.SetDefault("proxy.rotation", cfg.Proxy.Rotation)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
	v.SetDefault("metrics.path", cfg.Metrics.Path)

	v.SetDefault("status_page.enabled", cfg.StatusPage.Enabled)
	v.SetDefault("status_page.addr", cfg.StatusPage.Addr)
}
