// Package config is the ambient configuration layer, grounded on the
// teacher's internal/config package: the same mapstructure/yaml-tagged
// struct tree and viper-backed loader, generalized from the teacher's
// engine/fetcher/proxy/parser/storage sections to carry the orchestrator's
// crawl/session fields alongside them.
package config

import "time"

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for crawlforge.
type Config struct {
	Crawl      CrawlConfig      `mapstructure:"crawl"      yaml:"crawl"`
	Session    SessionConfig    `mapstructure:"session"    yaml:"session"`
	Engine     EngineConfig     `mapstructure:"engine"     yaml:"engine"`
	Proxy      ProxyConfig      `mapstructure:"proxy"      yaml:"proxy"`
	Parser     ParserConfig     `mapstructure:"parser"     yaml:"parser"`
	Storage    StorageConfig    `mapstructure:"storage"    yaml:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"    yaml:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"    yaml:"metrics"`
	StatusPage StatusPageConfig `mapstructure:"status_page" yaml:"status_page"`
}

// CrawlConfig carries the orchestrator.Config crawl settings:
// maxConcurrency, maxRequestsPerMinute, maxRetries, outputPath, statePath,
// queuePath, errorSnapshotDir, sourceUrl, resume, plus maxErrorSnapshots.
// The engine factory is not configured here; cmd/crawlforge builds it.
type CrawlConfig struct {
	SourceURL            string `mapstructure:"source_url"              yaml:"source_url"`
	MaxConcurrency       int    `mapstructure:"max_concurrency"         yaml:"max_concurrency"`
	MaxRequestsPerMinute int    `mapstructure:"max_requests_per_minute" yaml:"max_requests_per_minute"`
	MaxRetries           int    `mapstructure:"max_retries"             yaml:"max_retries"`
	OutputPath           string `mapstructure:"output_path"             yaml:"output_path"`
	StatePath            string `mapstructure:"state_path"              yaml:"state_path"`
	QueuePath            string `mapstructure:"queue_path"              yaml:"queue_path"`
	ErrorSnapshotDir     string `mapstructure:"error_snapshot_dir"      yaml:"error_snapshot_dir"`
	MaxErrorSnapshots    int    `mapstructure:"max_error_snapshots"     yaml:"max_error_snapshots"`
	Resume               bool   `mapstructure:"resume"                 yaml:"resume"`
}

// SessionConfig mirrors internal/session.Config.
type SessionConfig struct {
	MaxPoolSize         int   `mapstructure:"max_pool_size"          yaml:"max_pool_size"`
	MaxUsageCount       int   `mapstructure:"max_usage_count"        yaml:"max_usage_count"`
	MaxAgeMs            int64 `mapstructure:"max_age_ms"             yaml:"max_age_ms"`
	CooldownMs          int64 `mapstructure:"cooldown_ms"            yaml:"cooldown_ms"`
	DegradedAfterErrors int   `mapstructure:"degraded_after_errors"  yaml:"degraded_after_errors"`
}

// EngineConfig controls the reference fetch engine (internal/httpengine or
// internal/browserengine, selected by Type).
type EngineConfig struct {
	Type            string        `mapstructure:"type"              yaml:"type"` // "http" or "browser"
	RequestTimeout  time.Duration `mapstructure:"request_timeout"   yaml:"request_timeout"`
	UserAgents      []string      `mapstructure:"user_agents"       yaml:"user_agents"`
	FollowRedirects bool          `mapstructure:"follow_redirects"  yaml:"follow_redirects"`
	MaxRedirects    int           `mapstructure:"max_redirects"     yaml:"max_redirects"`
	MaxBodySize     int64         `mapstructure:"max_body_size"     yaml:"max_body_size"`
	TLSInsecure     bool          `mapstructure:"tls_insecure"      yaml:"tls_insecure"`
	IdleConnTimeout time.Duration `mapstructure:"idle_conn_timeout" yaml:"idle_conn_timeout"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    yaml:"max_idle_conns"`
	ShowBrowser     bool          `mapstructure:"show_browser"      yaml:"show_browser"`
}

// ProxyConfig controls proxy rotation (internal/httpengine.Config.ProxyURLs).
type ProxyConfig struct {
	Enabled  bool     `mapstructure:"enabled"  yaml:"enabled"`
	Rotation string   `mapstructure:"rotation" yaml:"rotation"`
	URLs     []string `mapstructure:"urls"     yaml:"urls"`
}

// ParserConfig controls the bundled internal/htmlparser.Parser.
type ParserConfig struct {
	Rules []ParseRule `mapstructure:"rules" yaml:"rules"`
}

// ParseRule defines a single extraction rule, mirrored onto htmlparser.Rule.
type ParseRule struct {
	Name      string `mapstructure:"name"      yaml:"name"`
	Selector  string `mapstructure:"selector"  yaml:"selector"`
	Type      string `mapstructure:"type"      yaml:"type"` // css, xpath, regex
	Attribute string `mapstructure:"attribute" yaml:"attribute"`
	Pattern   string `mapstructure:"pattern"   yaml:"pattern"`
}

// StorageConfig controls the optional internal/sinks destinations beyond
// the mandatory ProgressWriter.
type StorageConfig struct {
	Type       string `mapstructure:"type"        yaml:"type"` // "", "jsonl", "csv", "mongo"
	OutputPath string `mapstructure:"output_path" yaml:"output_path"`
	MongoURI   string `mapstructure:"mongo_uri"   yaml:"mongo_uri"`
	Database   string `mapstructure:"database"    yaml:"database"`
	Collection string `mapstructure:"collection"  yaml:"collection"`
}

// LoggingConfig controls the slog handler built by setupLogger in
// cmd/crawlforge.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // "text" or "json"
}

// MetricsConfig controls the Prometheus registry's HTTP exposition.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr"    yaml:"addr"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// StatusPageConfig controls the optional internal/statuspage HTTP endpoint.
type StatusPageConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr"    yaml:"addr"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Crawl: CrawlConfig{
			MaxConcurrency:       10,
			MaxRequestsPerMinute: 60,
			MaxRetries:           3,
			OutputPath:           "./output/progress.jsonl",
			StatePath:            "./output/state.json",
			QueuePath:            "./output/queue.jsonl",
			ErrorSnapshotDir:     "./output/errors",
			MaxErrorSnapshots:    100,
		},
		Session: SessionConfig{
			MaxPoolSize:         5,
			MaxUsageCount:       200,
			MaxAgeMs:            (30 * time.Minute).Milliseconds(),
			CooldownMs:          (60 * time.Second).Milliseconds(),
			DegradedAfterErrors: 3,
		},
		Engine: EngineConfig{
			Type:            "http",
			RequestTimeout:  30 * time.Second,
			FollowRedirects: true,
			MaxRedirects:    10,
			MaxBodySize:     10 * 1024 * 1024,
			IdleConnTimeout: 90 * time.Second,
			MaxIdleConns:    100,
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			},
		},
		Proxy: ProxyConfig{Rotation: "round_robin"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
			Path:    "/metrics",
		},
		StatusPage: StatusPageConfig{
			Enabled: false,
			Addr:    ":9091",
		},
	}
}
