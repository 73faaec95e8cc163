// Package orchestrator assembles every core component into the worker loop
// and owns shutdown, grounded on internal/engine/engine.go (construction,
// start/wait/stop lifecycle) and internal/engine/scheduler.go (the worker
// goroutine loop, per-request processing, error handling).
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/archenemy/crawlforge/internal/crawlqueue"
	"github.com/archenemy/crawlforge/internal/crawlstate"
	"github.com/archenemy/crawlforge/internal/enginepool"
	"github.com/archenemy/crawlforge/internal/errsnapshot"
	"github.com/archenemy/crawlforge/internal/fetchengine"
	"github.com/archenemy/crawlforge/internal/itemtransform"
	"github.com/archenemy/crawlforge/internal/metrics"
	"github.com/archenemy/crawlforge/internal/progress"
	"github.com/archenemy/crawlforge/internal/ratelimit"
	"github.com/archenemy/crawlforge/internal/retry"
	"github.com/archenemy/crawlforge/internal/router"
	"github.com/archenemy/crawlforge/internal/session"
	"github.com/archenemy/crawlforge/internal/sinks"
	"github.com/archenemy/crawlforge/internal/urlkey"
)

// Config is the immutable OrchestratorConfig the core spec names:
// maxConcurrency, maxRequestsPerMinute, maxRetries, outputPath, statePath,
// queuePath, errorSnapshotDir, sourceUrl, resume, engineFactory — plus the
// sub-configs the other components it assembles need, which the spec
// leaves to their own sections (§4.3 Session Pool, §4.8 Error Snapshot
// Writer).
type Config struct {
	MaxConcurrency       int
	MaxRequestsPerMinute int
	MaxRetries           int
	OutputPath           string
	StatePath            string
	QueuePath            string
	ErrorSnapshotDir     string
	MaxErrorSnapshots    int
	SourceURL            string
	Resume               bool
	EngineFactory        enginepool.Factory
	Session              session.Config
	Logger               *slog.Logger

	// Sinks are optional pushData fan-out destinations beyond the mandatory
	// ProgressWriter (spec.md §4.6); nil or empty disables fan-out entirely.
	Sinks []sinks.Sink

	// Transform, when set, runs every map[string]any pushData payload
	// through a field-level transform chain before it is written anywhere.
	// Payloads of other shapes pass through untouched.
	Transform *itemtransform.Chain
}

// Seed is one starting point for a crawl.
type Seed struct {
	URL      string
	Label    string
	UserData map[string]any
}

// Orchestrator assembles the Request Queue, Progress Writer, Crawl State,
// Rate Limiter, Metrics Registry, Retry Strategy, Session Pool, Engine
// Pool, and Error Snapshot Writer, and runs the worker loop.
type Orchestrator struct {
	cfg    Config
	router *router.Router
	logger *slog.Logger

	queue     *crawlqueue.Queue
	prog      *progress.Writer
	state     *crawlstate.State
	limiter   *ratelimit.Limiter
	met       *metrics.Registry
	strategy  *retry.Strategy
	sessions  *session.Pool
	engines   *enginepool.Pool
	snapshots *errsnapshot.Writer
}

// New constructs an Orchestrator. Subsystems are constructed lazily in Run,
// matching the core spec's construction sequence (step 1 of §4.10).
func New(cfg Config, rt *router.Router) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{cfg: cfg, router: rt, logger: logger.With("component", "orchestrator")}
}

// Run executes the full construction -> worker-loop -> shutdown sequence
// described by §4.10 of the core spec. ctx carries the shutdown signal:
// once ctx is canceled, workers take no new entry. A handler already running
// finishes, since its fetches run on a context detached from ctx's
// cancellation; a worker still waiting on the rate limiter or the engine
// pool exits at once, leaving its dequeued entry in-progress.
func (o *Orchestrator) Run(ctx context.Context, seeds []Seed) error {
	var err error

	o.queue, err = crawlqueue.Open(crawlqueue.Options{Path: o.cfg.QueuePath, Resume: o.cfg.Resume})
	if err != nil {
		return fmt.Errorf("orchestrator: open queue: %w", err)
	}
	defer o.queue.Close()

	o.prog = progress.New(o.cfg.OutputPath)
	if err := o.prog.Initialize(); err != nil {
		return fmt.Errorf("orchestrator: initialize progress writer: %w", err)
	}

	o.state = crawlstate.New(o.cfg.StatePath, o.cfg.SourceURL, nowMillis())
	if o.cfg.Resume {
		o.state.Load()
	}

	o.limiter = ratelimit.New(o.cfg.MaxRequestsPerMinute)
	o.met = metrics.New()
	o.strategy = retry.New(o.cfg.MaxRetries)
	o.sessions = session.NewPool(o.cfg.Session)
	o.engines = enginepool.New(o.cfg.MaxConcurrency, o.cfg.EngineFactory)

	o.snapshots = errsnapshot.New(o.cfg.ErrorSnapshotDir, o.cfg.MaxErrorSnapshots)
	if err := o.snapshots.Initialize(); err != nil {
		return fmt.Errorf("orchestrator: initialize error snapshot writer: %w", err)
	}

	completed, err := o.prog.ReadCompletedIds()
	if err != nil {
		return fmt.Errorf("orchestrator: read completed ids: %w", err)
	}
	for _, seed := range seeds {
		key, err := urlkey.Key(seed.URL)
		if err != nil {
			o.logger.Warn("skipping invalid seed", "url", seed.URL, "error", err)
			continue
		}
		if _, done := completed[key]; done {
			continue
		}
		added, err := o.queue.Enqueue(key, seed.URL, seed.Label, seed.UserData)
		if err != nil {
			return fmt.Errorf("orchestrator: enqueue seed: %w", err)
		}
		if added {
			o.state.AddDiscoveredIds([]string{key})
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	metricsDone := make(chan struct{})
	go o.periodicMetricsLogger(runCtx, metricsDone)

	workerCount := o.cfg.MaxConcurrency
	if n := len(seeds); n > 0 && n < workerCount {
		workerCount = n
	}
	if workerCount < 1 {
		workerCount = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			o.worker(runCtx, id)
		}(i)
	}
	wg.Wait()

	cancel()
	<-metricsDone

	o.state.Save(nowMillis())
	if err := o.prog.Finalize(); err != nil {
		o.logger.Error("finalize progress writer failed", "error", err)
	}
	o.engines.Cleanup()
	o.sessions.Cleanup()
	for _, sink := range o.cfg.Sinks {
		if err := sink.Close(); err != nil {
			o.logger.Error("sink close failed", "error", err)
		}
	}

	snap := o.met.Snapshot()
	o.logger.Info("final metrics snapshot", "counters", snap.Counters, "gauges", snap.Gauges)
	return nil
}

func (o *Orchestrator) periodicMetricsLogger(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := o.met.Snapshot()
			o.logger.Info("metrics", "counters", snap.Counters, "gauges", snap.Gauges)
			o.met.Reset()
		}
	}
}

// worker runs the sequential dequeue -> rate-limit -> acquire -> route ->
// handle -> release loop described by §4.10's worker-loop pseudocode.
func (o *Orchestrator) worker(ctx context.Context, id int) {
	logger := o.logger.With("worker", id)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		entry, err := o.queue.Dequeue()
		if err != nil {
			logger.Error("dequeue failed", "error", err)
			return
		}
		if entry == nil {
			return
		}

		if err := o.limiter.Acquire(ctx); err != nil {
			return
		}

		eng, err := o.engines.Acquire(ctx)
		if err != nil {
			return
		}
		sess := o.sessions.Acquire()

		o.processEntry(ctx, logger, entry, eng, sess)

		o.engines.Release(eng)
		if sess != nil {
			o.sessions.Release(sess)
		}
		o.met.SetGauge("queue.pending", float64(o.queue.Size(crawlqueue.StatePending)))
		o.met.SetGauge("queue.inProgress", float64(o.queue.Size(crawlqueue.StateInProgress)))
	}
}

// processEntry is one worker iteration's body: route, invoke the handler
// via a per-iteration requestContext, and apply the retry decision table on
// failure. lastFetchResponse is held worker-local (not a captured mutable
// closure binding), per the core spec's design notes §9.
func (o *Orchestrator) processEntry(ctx context.Context, logger *slog.Logger, entry *crawlqueue.Entry, eng fetchengine.Engine, sess *session.Session) {
	handler, err := o.router.Route(entry.Label)
	if err != nil {
		o.failPermanently(entry, err.Error(), retry.KindSystem)
		return
	}

	// Shutdown does not interrupt a request mid-fetch.
	rc := &requestContext{
		ctx:    context.WithoutCancel(ctx),
		entry:  entry,
		engine: eng,
		orch:   o,
		logger: logger,
	}

	err = handler(rc)
	if err == nil {
		if markErr := o.queue.MarkHandled(entry.UniqueKey); markErr != nil {
			logger.Error("markHandled failed", "error", markErr)
		}
		if sess != nil {
			sess.MarkGood()
		}
		return
	}

	sig := retry.Signal{ErrorMessage: err.Error()}
	if rc.lastResponse != nil && !rc.lastResponse.Success {
		sig.ErrorCode = string(rc.lastResponse.ErrorCode)
	}
	kind := retry.Classify(sig)
	decision := o.strategy.Decide(kind, entry.RetryCount)

	if decision.RotateSession {
		if sess != nil {
			sess.Retire()
		}
	} else if sess != nil {
		sess.MarkBad()
	}

	if decision.ShouldRetry {
		time.Sleep(time.Duration(decision.DelayMs) * time.Millisecond)
		if reqErr := o.queue.Requeue(entry.UniqueKey, err.Error()); reqErr != nil {
			logger.Error("requeue failed", "error", reqErr)
		}
		logger.Warn("request failed, retrying", "url", entry.URL, "kind", kind, "error", err)
		return
	}

	o.failPermanently(entry, err.Error(), kind)
}

func (o *Orchestrator) failPermanently(entry *crawlqueue.Entry, errMsg string, kind retry.Kind) {
	if err := o.queue.MarkFailed(entry.UniqueKey, errMsg); err != nil {
		o.logger.Error("markFailed failed", "error", err)
	}
	o.state.MarkFailed(entry.UniqueKey)
	o.snapshots.Write(entry.UniqueKey, errsnapshot.Record{
		URL:          entry.URL,
		ErrorMessage: errMsg,
		ErrorClass:   string(kind),
		Timestamp:    nowMillis(),
	}, "")
	o.met.IncrCounter("requests.failed", 1)
	o.logger.Error("request permanently failed", "url", entry.URL, "kind", kind, "error", errMsg)
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// MetricsHandler returns an HTTP handler exposing this Orchestrator's
// Prometheus metrics, suitable for mounting before Run has constructed the
// underlying registry: requests made before Run reaches metrics
// construction get a 503 Service Unavailable with an empty body rather than
// a panic.
func (o *Orchestrator) MetricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if o.met == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		o.met.Handler().ServeHTTP(w, r)
	})
}

// Status is a point-in-time snapshot of a running crawl, exposed for
// external reporting (internal/statuspage) without leaking internal
// subsystem types across the package boundary.
type Status struct {
	QueuePending    int
	QueueInProgress int
	QueueHandled    int
	QueueFailed     int

	SessionPoolSize int
	SessionHealthy  int
	SessionDegraded int
	SessionBlocked  int

	Metrics metrics.Snapshot
}

// Status reports the current queue depth, session pool health, and metrics
// snapshot. Safe to call concurrently with Run; returns the zero Status if
// called before Run has constructed its subsystems.
func (o *Orchestrator) Status() Status {
	if o.queue == nil || o.sessions == nil || o.met == nil {
		return Status{}
	}
	sessionCounts := o.sessions.StateCounts()
	return Status{
		QueuePending:    o.queue.Size(crawlqueue.StatePending),
		QueueInProgress: o.queue.Size(crawlqueue.StateInProgress),
		QueueHandled:    o.queue.Size(crawlqueue.StateHandled),
		QueueFailed:     o.queue.Size(crawlqueue.StateFailed),
		SessionPoolSize: o.sessions.Size(),
		SessionHealthy:  sessionCounts[session.StateHealthy],
		SessionDegraded: sessionCounts[session.StateDegraded],
		SessionBlocked:  sessionCounts[session.StateBlocked],
		Metrics:         o.met.Snapshot(),
	}
}

// requestContext implements router.Context and the additional
// fetchPage/pushData/enqueue/log capabilities a handler invokes, built
// fresh for every worker iteration per the core spec's design notes §9.
type requestContext struct {
	ctx          context.Context
	entry        *crawlqueue.Entry
	engine       fetchengine.Engine
	orch         *Orchestrator
	logger       *slog.Logger
	lastResponse *fetchengine.FetchResponse
}

func (c *requestContext) URL() string              { return c.entry.URL }
func (c *requestContext) Label() string            { return c.entry.Label }
func (c *requestContext) UniqueKey() string         { return c.entry.UniqueKey }
func (c *requestContext) RetryCount() int           { return c.entry.RetryCount }
func (c *requestContext) UserData() map[string]any { return c.entry.UserData }

// FetchPage invokes the engine, records duration/outcome metrics, and
// remembers the response for later error classification.
func (c *requestContext) FetchPage(opts fetchengine.FetchOptions) (fetchengine.FetchResponse, error) {
	start := time.Now()
	resp, err := c.engine.Fetch(c.ctx, c.entry.URL, opts)
	duration := time.Since(start)

	c.orch.met.RecordDuration("fetch.duration", duration)
	c.orch.met.IncrCounter("requests.total", 1)
	if err != nil || !resp.Success {
		c.orch.met.IncrCounter("requests.failed", 1)
	} else {
		c.orch.met.IncrCounter("requests.success", 1)
	}

	c.lastResponse = &resp
	return resp, err
}

// PushData appends an extracted record and marks it completed. Configured
// Sinks are written to best-effort, after the mandatory progress/state
// writes succeed; a sink failure is logged but does not fail the handler.
// If a Transform chain is configured and data is a map[string]any, it runs
// first; a deliberate drop (itemtransform.DroppedError) is reported back to
// the handler as a non-error no-op rather than a failure.
func (c *requestContext) PushData(id string, data any) error {
	if c.orch.cfg.Transform != nil {
		if fields, ok := data.(map[string]any); ok {
			transformed, err := c.orch.cfg.Transform.Process(fields)
			if err != nil {
				if _, dropped := err.(*itemtransform.DroppedError); dropped {
					c.logger.Debug("item dropped by transform chain", "id", id)
					return nil
				}
				return fmt.Errorf("orchestrator: transform pushData: %w", err)
			}
			data = transformed
		}
	}

	if err := c.orch.prog.Append(id, nowMillis(), data); err != nil {
		return err
	}
	c.orch.state.MarkCompleted(id)
	c.orch.met.IncrCounter("items.saved", 1)

	for _, sink := range c.orch.cfg.Sinks {
		if err := sink.Write(id, data); err != nil {
			c.logger.Error("sink write failed", "id", id, "error", err)
		}
	}
	return nil
}

// Enqueue enqueues a newly discovered URL and records it as discovered.
func (c *requestContext) Enqueue(rawURL, label string, userData map[string]any) (bool, error) {
	key, err := urlkey.Key(rawURL)
	if err != nil {
		return false, err
	}
	added, err := c.orch.queue.Enqueue(key, rawURL, label, userData)
	if err != nil {
		return false, err
	}
	if added {
		c.orch.state.AddDiscoveredIds([]string{key})
	}
	return added, nil
}

// Log exposes the worker-scoped logger to handlers.
func (c *requestContext) Log() *slog.Logger { return c.logger }
