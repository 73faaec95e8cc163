// Command crawlforge is the CLI entrypoint, grounded on cmd/webstalk/main.go's
// cobra command tree (crawl/version/config subcommands, CLI-override-over-
// config-file precedence, graceful-shutdown signal handling) rebuilt around
// internal/orchestrator instead of the teacher's engine.Engine.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/archenemy/crawlforge/internal/browserengine"
	"github.com/archenemy/crawlforge/internal/config"
	"github.com/archenemy/crawlforge/internal/contentparser"
	"github.com/archenemy/crawlforge/internal/enginepool"
	"github.com/archenemy/crawlforge/internal/fetchengine"
	"github.com/archenemy/crawlforge/internal/htmlparser"
	"github.com/archenemy/crawlforge/internal/httpengine"
	"github.com/archenemy/crawlforge/internal/orchestrator"
	"github.com/archenemy/crawlforge/internal/router"
	"github.com/archenemy/crawlforge/internal/session"
	"github.com/archenemy/crawlforge/internal/sinks"
	"github.com/archenemy/crawlforge/internal/statuspage"
)

const seedLabel = "default"

var (
	cfgFile     string
	verbose     bool
	outputPath  string
	concurrency int
	maxRetries  int
	resume      bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "crawlforge",
		Short: "crawlforge — resilient web-crawl orchestrator",
		Long: `crawlforge drives a bounded-concurrency, checkpointed web crawl:
  - a durable Request Queue and Crawl State survive process restarts
  - a session pool rotates cookies/identities and trips a circuit breaker
  - the retry strategy classifies failures and decides retry vs. giveup
  - extraction is pluggable: CSS/XPath/regex rules or a custom handler
  - pushed items stream to a JSONL progress log and any configured sinks`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(crawlCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func crawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [url]...",
		Short: "Start a crawl from one or more seed URLs",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runCrawl,
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output JSONL path (overrides config)")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "n", 0, "number of concurrent workers (overrides config)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", -1, "max retries per failed request (-1 = use config)")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume a previously checkpointed crawl")

	return cmd
}

func runCrawl(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyCLIOverrides(cfg, args[0])
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for _, rawURL := range args {
		if err := config.ValidateURL(rawURL); err != nil {
			return fmt.Errorf("invalid URL %q: %w", rawURL, err)
		}
	}

	logger := setupLogger(cfg)
	logger.Info("starting crawl", "seeds", args, "concurrency", cfg.Crawl.MaxConcurrency, "engine", cfg.Engine.Type)

	rt := router.New()
	rt.AddDefaultHandler(defaultHandler(cfg, logger))

	factory, err := buildEngineFactory(cfg, logger)
	if err != nil {
		return fmt.Errorf("build engine factory: %w", err)
	}

	orchCfg := orchestrator.Config{
		MaxConcurrency:       cfg.Crawl.MaxConcurrency,
		MaxRequestsPerMinute: cfg.Crawl.MaxRequestsPerMinute,
		MaxRetries:           cfg.Crawl.MaxRetries,
		OutputPath:           cfg.Crawl.OutputPath,
		StatePath:            cfg.Crawl.StatePath,
		QueuePath:            cfg.Crawl.QueuePath,
		ErrorSnapshotDir:     cfg.Crawl.ErrorSnapshotDir,
		MaxErrorSnapshots:    cfg.Crawl.MaxErrorSnapshots,
		SourceURL:            args[0],
		Resume:               cfg.Crawl.Resume,
		EngineFactory:        factory,
		Session: session.Config{
			MaxPoolSize:         cfg.Session.MaxPoolSize,
			MaxUsageCount:       cfg.Session.MaxUsageCount,
			MaxAgeMs:            cfg.Session.MaxAgeMs,
			CooldownMs:          cfg.Session.CooldownMs,
			DegradedAfterErrors: cfg.Session.DegradedAfterErrors,
		},
		Logger: logger,
	}

	if sink, err := buildSink(cfg, logger); err != nil {
		return fmt.Errorf("build sink: %w", err)
	} else if sink != nil {
		orchCfg.Sinks = []sinks.Sink{sink}
	}

	orch := orchestrator.New(orchCfg, rt)

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, orch.MetricsHandler())
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}
	if cfg.StatusPage.Enabled {
		sp := statuspage.New(cfg.StatusPage.Addr, orch, logger)
		if err := sp.Start(); err != nil {
			logger.Warn("status page failed to start", "error", err)
		} else {
			defer sp.Shutdown()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	seeds := make([]orchestrator.Seed, 0, len(args))
	for _, u := range args {
		seeds = append(seeds, orchestrator.Seed{URL: u, Label: seedLabel})
	}

	start := time.Now()
	if err := orch.Run(ctx, seeds); err != nil {
		return fmt.Errorf("run crawl: %w", err)
	}
	elapsed := time.Since(start)

	if metricsServer != nil {
		metricsServer.Close()
	}

	st := orch.Status()
	fmt.Printf("\nCrawl complete in %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("  Queue:    %d handled, %d failed\n", st.QueueHandled, st.QueueFailed)
	fmt.Printf("  Sessions: %d healthy / %d pool size\n", st.SessionHealthy, st.SessionPoolSize)
	fmt.Printf("  Output:   %s\n", cfg.Crawl.OutputPath)
	return nil
}

// defaultHandler fetches the page and, if parse rules are configured, runs
// htmlparser over it, pushing one item per fetched page and enqueuing every
// discovered link under the same label (a breadth-first crawl).
func defaultHandler(cfg *config.Config, logger *slog.Logger) router.Handler {
	var parser *htmlparser.Parser
	if len(cfg.Parser.Rules) > 0 {
		rules := make([]htmlparser.Rule, 0, len(cfg.Parser.Rules))
		for _, r := range cfg.Parser.Rules {
			rules = append(rules, htmlparser.Rule{
				Name:      r.Name,
				Type:      htmlparser.RuleType(r.Type),
				Selector:  r.Selector,
				Attribute: r.Attribute,
				Pattern:   r.Pattern,
			})
		}
		parser = htmlparser.New(rules, logger)
	}

	return func(ctx router.Context) error {
		resp, err := ctx.FetchPage(fetchengine.FetchOptions{})
		if err != nil {
			return err
		}
		if !resp.Success {
			return fmt.Errorf("fetch failed: %s", resp.Error)
		}

		if parser == nil {
			return nil
		}

		pc := contentparser.ParseContext{
			Content:  resp.Content,
			URL:      ctx.URL(),
			Label:    ctx.Label(),
			UserData: ctx.UserData(),
		}
		out, err := parser.Extract(context.Background(), pc)
		if err != nil {
			return err
		}
		parsed, ok := out.(htmlparser.Output)
		if !ok {
			return nil
		}

		if len(parsed.Fields) > 0 {
			if err := ctx.PushData(ctx.UniqueKey(), parsed.Fields); err != nil {
				return err
			}
		}
		for _, link := range parsed.Links {
			if _, err := ctx.Enqueue(link, seedLabel, nil); err != nil {
				ctx.Log().Warn("enqueue discovered link failed", "url", link, "error", err)
			}
		}
		return nil
	}
}

func buildEngineFactory(cfg *config.Config, logger *slog.Logger) (enginepool.Factory, error) {
	switch cfg.Engine.Type {
	case "browser":
		bcfg := browserengine.Config{NavTimeout: cfg.Engine.RequestTimeout}
		if cfg.Proxy.Enabled && len(cfg.Proxy.URLs) > 0 {
			bcfg.ProxyURL = cfg.Proxy.URLs[0]
		}
		return func() (fetchengine.Engine, error) {
			return browserengine.New(bcfg, logger)
		}, nil
	default:
		hcfg := httpengine.Config{
			UserAgents:      cfg.Engine.UserAgents,
			MaxBodySize:     cfg.Engine.MaxBodySize,
			RequestTimeout:  cfg.Engine.RequestTimeout,
			MaxIdleConns:    cfg.Engine.MaxIdleConns,
			IdleConnTimeout: cfg.Engine.IdleConnTimeout,
			TLSInsecure:     cfg.Engine.TLSInsecure,
			FollowRedirects: cfg.Engine.FollowRedirects,
			MaxRedirects:    cfg.Engine.MaxRedirects,
		}
		if cfg.Proxy.Enabled {
			hcfg.ProxyURLs = cfg.Proxy.URLs
			hcfg.ProxyRotation = cfg.Proxy.Rotation
		}
		return func() (fetchengine.Engine, error) {
			return httpengine.New(hcfg, logger)
		}, nil
	}
}

func buildSink(cfg *config.Config, logger *slog.Logger) (sinks.Sink, error) {
	switch cfg.Storage.Type {
	case "jsonl":
		return sinks.NewJSONL(cfg.Storage.OutputPath, logger)
	case "csv":
		return sinks.NewCSV(cfg.Storage.OutputPath, logger)
	case "mongo":
		return sinks.NewMongo(cfg.Storage.MongoURI, cfg.Storage.Database, cfg.Storage.Collection, logger)
	case "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage.type %q", cfg.Storage.Type)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("crawlforge %s\n", config.Version)
		},
	}
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Printf("Crawl:\n")
			fmt.Printf("  Concurrency:        %d\n", cfg.Crawl.MaxConcurrency)
			fmt.Printf("  Requests/min:       %d\n", cfg.Crawl.MaxRequestsPerMinute)
			fmt.Printf("  Max retries:        %d\n", cfg.Crawl.MaxRetries)
			fmt.Printf("  Output path:        %s\n", cfg.Crawl.OutputPath)
			fmt.Printf("\nEngine:\n")
			fmt.Printf("  Type:               %s\n", cfg.Engine.Type)
			fmt.Printf("  Request timeout:    %s\n", cfg.Engine.RequestTimeout)
			fmt.Printf("  User agents:        %d configured\n", len(cfg.Engine.UserAgents))
			fmt.Printf("\nProxy:\n")
			fmt.Printf("  Enabled:            %v\n", cfg.Proxy.Enabled)
			fmt.Printf("  Rotation:           %s\n", cfg.Proxy.Rotation)
			fmt.Printf("  Count:              %d\n", len(cfg.Proxy.URLs))
			fmt.Printf("\nStorage:\n")
			fmt.Printf("  Type:               %s\n", cfg.Storage.Type)
			fmt.Printf("\nMetrics:\n")
			fmt.Printf("  Enabled:            %v\n", cfg.Metrics.Enabled)
			fmt.Printf("  Addr:               %s\n", cfg.Metrics.Addr)
			fmt.Printf("\nStatus page:\n")
			fmt.Printf("  Enabled:            %v\n", cfg.StatusPage.Enabled)
			fmt.Printf("  Addr:               %s\n", cfg.StatusPage.Addr)
			return nil
		},
	}
}

func setupLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func applyCLIOverrides(cfg *config.Config, sourceURL string) {
	cfg.Crawl.SourceURL = sourceURL
	if outputPath != "" {
		cfg.Crawl.OutputPath = outputPath
	}
	if concurrency > 0 {
		cfg.Crawl.MaxConcurrency = concurrency
	}
	if maxRetries >= 0 {
		cfg.Crawl.MaxRetries = maxRetries
	}
	if resume {
		cfg.Crawl.Resume = true
	}
}
