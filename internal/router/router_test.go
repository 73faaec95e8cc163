package router

import (
	"log/slog"
	"testing"

	"github.com/archenemy/crawlforge/internal/fetchengine"
)

type fakeCtx struct{ label string }

func (f fakeCtx) URL() string              { return "" }
func (f fakeCtx) Label() string            { return f.label }
func (f fakeCtx) UniqueKey() string        { return "" }
func (f fakeCtx) RetryCount() int          { return 0 }
func (f fakeCtx) UserData() map[string]any { return nil }

func (f fakeCtx) FetchPage(opts fetchengine.FetchOptions) (fetchengine.FetchResponse, error) {
	return fetchengine.FetchResponse{Success: true}, nil
}
func (f fakeCtx) PushData(id string, data any) error { return nil }
func (f fakeCtx) Enqueue(rawURL, label string, userData map[string]any) (bool, error) {
	return true, nil
}
func (f fakeCtx) Log() *slog.Logger { return slog.Default() }

func TestExactLabelMatch(t *testing.T) {
	r := New()
	called := ""
	r.AddHandler("product", func(ctx Context) error { called = "product"; return nil })
	r.AddDefaultHandler(func(ctx Context) error { called = "default"; return nil })

	fn, err := r.Route("product")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	fn(fakeCtx{label: "product"})
	if called != "product" {
		t.Fatalf("expected product handler, got %s", called)
	}
}

func TestFallsBackToDefault(t *testing.T) {
	r := New()
	r.AddDefaultHandler(func(ctx Context) error { return nil })
	fn, err := r.Route("unknown-label")
	if err != nil {
		t.Fatalf("expected default handler, got error: %v", err)
	}
	if fn == nil {
		t.Fatalf("expected non-nil handler")
	}
}

func TestMissingLabelErrorsWithoutDefault(t *testing.T) {
	r := New()
	_, err := r.Route("nope")
	if err == nil {
		t.Fatalf("expected error when no handler and no default registered")
	}
}
