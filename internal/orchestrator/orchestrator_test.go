package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/archenemy/crawlforge/internal/crawlqueue"
	"github.com/archenemy/crawlforge/internal/crawlstate"
	"github.com/archenemy/crawlforge/internal/enginepool"
	"github.com/archenemy/crawlforge/internal/fetchengine"
	"github.com/archenemy/crawlforge/internal/progress"
	"github.com/archenemy/crawlforge/internal/router"
	"github.com/archenemy/crawlforge/internal/session"
)

type fakeEngine struct {
	fetch func(ctx context.Context, url string, opts fetchengine.FetchOptions) (fetchengine.FetchResponse, error)
}

func (f *fakeEngine) Cleanup() {}
func (f *fakeEngine) Fetch(ctx context.Context, url string, opts fetchengine.FetchOptions) (fetchengine.FetchResponse, error) {
	return f.fetch(ctx, url, opts)
}

func testConfig(t *testing.T, maxConcurrency, maxRetries int, factory enginepool.Factory) Config {
	dir := t.TempDir()
	return Config{
		MaxConcurrency:       maxConcurrency,
		MaxRequestsPerMinute: 6000, // fast enough not to slow down tests
		MaxRetries:           maxRetries,
		OutputPath:           filepath.Join(dir, "progress.jsonl"),
		StatePath:            filepath.Join(dir, "state.json"),
		QueuePath:            filepath.Join(dir, "queue.jsonl"),
		ErrorSnapshotDir:     filepath.Join(dir, "snapshots"),
		MaxErrorSnapshots:    10,
		SourceURL:            "https://example.com",
		EngineFactory:        factory,
		Session: session.Config{
			MaxPoolSize:         2,
			MaxUsageCount:       1000,
			MaxAgeMs:            1000 * 60 * 60,
			CooldownMs:          10,
			DegradedAfterErrors: 2,
		},
	}
}

// TestSeedProcessComplete covers S1.
func TestSeedProcessComplete(t *testing.T) {
	var invoked sync.Map
	factory := func() (enginepool.Engine, error) {
		return &fakeEngine{fetch: func(ctx context.Context, url string, opts fetchengine.FetchOptions) (fetchengine.FetchResponse, error) {
			return fetchengine.FetchResponse{Success: true}, nil
		}}, nil
	}

	cfg := testConfig(t, 1, 0, factory)
	rt := router.New()
	rt.AddDefaultHandler(func(ctx router.Context) error {
		invoked.Store(ctx.URL(), true)
		if _, err := ctx.FetchPage(fetchengine.FetchOptions{}); err != nil {
			return err
		}
		return ctx.PushData(ctx.URL(), "ok")
	})

	o := New(cfg, rt)
	seeds := []Seed{{URL: "https://example.com/a"}, {URL: "https://example.com/b"}}
	if err := o.Run(context.Background(), seeds); err != nil {
		t.Fatalf("run: %v", err)
	}

	for _, s := range seeds {
		if _, ok := invoked.Load(s.URL); !ok {
			t.Fatalf("expected handler invoked for %s", s.URL)
		}
	}

	entries, err := progress.New(cfg.OutputPath).ReadAll()
	if err != nil {
		t.Fatalf("read progress: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 progress entries, got %d", len(entries))
	}

	q, err := crawlqueue.Open(crawlqueue.Options{Path: cfg.QueuePath, Resume: true})
	if err != nil {
		t.Fatalf("reopen queue: %v", err)
	}
	defer q.Close()
	if q.Size(crawlqueue.StateHandled) != 2 {
		t.Fatalf("expected 2 handled, got %d", q.Size(crawlqueue.StateHandled))
	}
	if q.Size(crawlqueue.StatePending) != 0 || q.Size(crawlqueue.StateInProgress) != 0 {
		t.Fatalf("expected 0 pending/in-progress")
	}
}

// TestConcurrencyBound covers S2.
func TestConcurrencyBound(t *testing.T) {
	var current, max atomic.Int32

	factory := func() (enginepool.Engine, error) {
		return &fakeEngine{fetch: func(ctx context.Context, url string, opts fetchengine.FetchOptions) (fetchengine.FetchResponse, error) {
			return fetchengine.FetchResponse{Success: true}, nil
		}}, nil
	}

	cfg := testConfig(t, 2, 0, factory)
	rt := router.New()
	rt.AddDefaultHandler(func(ctx router.Context) error {
		n := current.Add(1)
		for {
			m := max.Load()
			if n <= m || max.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		current.Add(-1)
		return nil
	})

	o := New(cfg, rt)
	seeds := make([]Seed, 4)
	for i := range seeds {
		seeds[i] = Seed{URL: fmt.Sprintf("https://example.com/%d", i)}
	}
	if err := o.Run(context.Background(), seeds); err != nil {
		t.Fatalf("run: %v", err)
	}
	if max.Load() > 2 {
		t.Fatalf("observed max concurrency %d > 2", max.Load())
	}
}

// TestRetryWithSessionRotation covers S3.
func TestRetryWithSessionRotation(t *testing.T) {
	var calls atomic.Int32
	factory := func() (enginepool.Engine, error) {
		return &fakeEngine{fetch: func(ctx context.Context, url string, opts fetchengine.FetchOptions) (fetchengine.FetchResponse, error) {
			n := calls.Add(1)
			if n == 1 {
				return fetchengine.FetchResponse{Success: false, ErrorCode: fetchengine.ErrorBlocked}, nil
			}
			return fetchengine.FetchResponse{Success: true}, nil
		}}, nil
	}

	cfg := testConfig(t, 1, 2, factory)
	rt := router.New()
	rt.AddDefaultHandler(func(ctx router.Context) error {
		resp, err := ctx.FetchPage(fetchengine.FetchOptions{})
		if err != nil {
			return err
		}
		if !resp.Success {
			return fmt.Errorf("blocked")
		}
		return ctx.PushData(ctx.URL(), "ok")
	})

	o := New(cfg, rt)
	if err := o.Run(context.Background(), []Seed{{URL: "https://example.com/u"}}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected engine invoked exactly 2 times, got %d", calls.Load())
	}

	q, _ := crawlqueue.Open(crawlqueue.Options{Path: cfg.QueuePath, Resume: true})
	defer q.Close()
	if q.Size(crawlqueue.StateHandled) != 1 {
		t.Fatalf("expected final state handled")
	}
}

// TestResumeSkipsCompleted covers S5.
func TestResumeSkipsCompleted(t *testing.T) {
	var invoked sync.Map
	factory := func() (enginepool.Engine, error) {
		return &fakeEngine{fetch: func(ctx context.Context, url string, opts fetchengine.FetchOptions) (fetchengine.FetchResponse, error) {
			return fetchengine.FetchResponse{Success: true}, nil
		}}, nil
	}

	dir := t.TempDir()
	newCfg := func() Config {
		return Config{
			MaxConcurrency:       1,
			MaxRequestsPerMinute: 6000,
			MaxRetries:           0,
			OutputPath:           filepath.Join(dir, "progress.jsonl"),
			StatePath:            filepath.Join(dir, "state.json"),
			QueuePath:            filepath.Join(dir, "queue.jsonl"),
			ErrorSnapshotDir:     filepath.Join(dir, "snapshots"),
			MaxErrorSnapshots:    10,
			SourceURL:            "https://example.com",
			EngineFactory:        factory,
			Session: session.Config{
				MaxPoolSize: 1, MaxUsageCount: 1000, MaxAgeMs: 1000 * 60 * 60,
				CooldownMs: 10, DegradedAfterErrors: 2,
			},
		}
	}

	rt := router.New()
	rt.AddDefaultHandler(func(ctx router.Context) error {
		invoked.Store(ctx.URL(), true)
		ctx.FetchPage(fetchengine.FetchOptions{})
		return ctx.PushData(ctx.URL(), "ok")
	})

	cfg1 := newCfg()
	o1 := New(cfg1, rt)
	if err := o1.Run(context.Background(), []Seed{{URL: "https://example.com/u1"}, {URL: "https://example.com/u2"}}); err != nil {
		t.Fatalf("run1: %v", err)
	}

	invoked = sync.Map{}
	cfg2 := newCfg()
	cfg2.Resume = true
	o2 := New(cfg2, rt)
	if err := o2.Run(context.Background(), []Seed{
		{URL: "https://example.com/u1"}, {URL: "https://example.com/u2"}, {URL: "https://example.com/u3"},
	}); err != nil {
		t.Fatalf("run2: %v", err)
	}

	if _, ok := invoked.Load("https://example.com/u3"); !ok {
		t.Fatalf("expected u3 to be handled on resume")
	}
	if _, ok := invoked.Load("https://example.com/u1"); ok {
		t.Fatalf("expected u1 to be skipped on resume")
	}
}

// TestPermanentParseFailure covers S7.
func TestPermanentParseFailure(t *testing.T) {
	factory := func() (enginepool.Engine, error) {
		return &fakeEngine{fetch: func(ctx context.Context, url string, opts fetchengine.FetchOptions) (fetchengine.FetchResponse, error) {
			return fetchengine.FetchResponse{Success: true}, nil
		}}, nil
	}

	cfg := testConfig(t, 1, 0, factory)
	rt := router.New()
	rt.AddDefaultHandler(func(ctx router.Context) error {
		return fmt.Errorf("parse error: selector not found")
	})

	o := New(cfg, rt)
	if err := o.Run(context.Background(), []Seed{{URL: "https://example.com/u"}}); err != nil {
		t.Fatalf("run: %v", err)
	}

	q, _ := crawlqueue.Open(crawlqueue.Options{Path: cfg.QueuePath, Resume: true})
	defer q.Close()
	if q.Size(crawlqueue.StateFailed) != 1 {
		t.Fatalf("expected 1 failed entry")
	}

	snapFiles, err := filepath.Glob(filepath.Join(cfg.ErrorSnapshotDir, "*.json"))
	if err != nil || len(snapFiles) < 1 {
		t.Fatalf("expected at least one error snapshot, err=%v files=%v", err, snapFiles)
	}

	st := crawlstate.New(cfg.StatePath, cfg.SourceURL, 0)
	if !st.Load() {
		t.Fatalf("expected crawl state to load")
	}
	found := false
	for _, id := range st.FailedIds() {
		if id != "" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected failedIds to contain the request's uniqueKey")
	}
}
