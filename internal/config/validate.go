package config

import (
	"fmt"
	"net/url"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if cfg.Crawl.MaxConcurrency < 1 {
		return fmt.Errorf("crawl.max_concurrency must be >= 1, got %d", cfg.Crawl.MaxConcurrency)
	}
	if cfg.Crawl.MaxConcurrency > 1000 {
		return fmt.Errorf("crawl.max_concurrency must be <= 1000, got %d", cfg.Crawl.MaxConcurrency)
	}
	if cfg.Crawl.MaxRequestsPerMinute < 1 {
		return fmt.Errorf("crawl.max_requests_per_minute must be >= 1, got %d", cfg.Crawl.MaxRequestsPerMinute)
	}
	if cfg.Crawl.MaxRetries < 0 {
		return fmt.Errorf("crawl.max_retries must be >= 0, got %d", cfg.Crawl.MaxRetries)
	}
	if cfg.Crawl.OutputPath == "" || cfg.Crawl.StatePath == "" || cfg.Crawl.QueuePath == "" {
		return fmt.Errorf("crawl.output_path, state_path, and queue_path must all be set")
	}

	if cfg.Session.MaxPoolSize < 1 {
		return fmt.Errorf("session.max_pool_size must be >= 1, got %d", cfg.Session.MaxPoolSize)
	}
	if cfg.Session.DegradedAfterErrors < 1 {
		return fmt.Errorf("session.degraded_after_errors must be >= 1, got %d", cfg.Session.DegradedAfterErrors)
	}

	if cfg.Engine.Type != "http" && cfg.Engine.Type != "browser" {
		return fmt.Errorf("engine.type must be 'http' or 'browser', got %q", cfg.Engine.Type)
	}
	if cfg.Engine.MaxBodySize <= 0 {
		return fmt.Errorf("engine.max_body_size must be > 0")
	}

	if cfg.Proxy.Enabled {
		if cfg.Proxy.Rotation != "round_robin" && cfg.Proxy.Rotation != "random" {
			return fmt.Errorf("proxy.rotation must be 'round_robin' or 'random', got %q", cfg.Proxy.Rotation)
		}
		for _, proxyURL := range cfg.Proxy.URLs {
			if _, err := url.Parse(proxyURL); err != nil {
				return fmt.Errorf("invalid proxy URL %q: %w", proxyURL, err)
			}
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr must be set when metrics.enabled is true")
	}
	if cfg.StatusPage.Enabled && cfg.StatusPage.Addr == "" {
		return fmt.Errorf("status_page.addr must be set when status_page.enabled is true")
	}

	return nil
}

// ValidateURL checks if a URL string is valid for crawling.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
