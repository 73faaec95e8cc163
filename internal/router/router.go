// Package router implements label -> handler dispatch with a default
// fallback, grounded on internal/plugin/registry.go's label-keyed registry
// and the teacher's Engine.callbacks registration idiom.
package router

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/archenemy/crawlforge/internal/fetchengine"
)

// Handler processes one dequeued request.
type Handler func(ctx Context) error

// Context is the per-iteration value a Handler receives: the request's
// identity plus the fetchPage/pushData/enqueue/log capabilities the core
// spec's worker loop builds fresh for every iteration (§4.10, §9),
// implemented by internal/orchestrator's requestContext.
type Context interface {
	URL() string
	Label() string
	UniqueKey() string
	RetryCount() int
	UserData() map[string]any

	FetchPage(opts fetchengine.FetchOptions) (fetchengine.FetchResponse, error)
	PushData(id string, data any) error
	Enqueue(rawURL, label string, userData map[string]any) (bool, error)
	Log() *slog.Logger
}

// Router dispatches requests to handlers by label.
type Router struct {
	mu      sync.RWMutex
	byLabel map[string]Handler
	def     Handler
}

// New constructs an empty Router.
func New() *Router {
	return &Router{byLabel: make(map[string]Handler)}
}

// AddHandler registers fn for label, overwriting any previous registration.
func (r *Router) AddHandler(label string, fn Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byLabel[label] = fn
}

// AddDefaultHandler registers the fallback handler used when a request's
// label has no exact match.
func (r *Router) AddDefaultHandler(fn Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.def = fn
}

// Route resolves the handler for label: exact match first, then the
// default handler, else an error naming the missing label.
func (r *Router) Route(label string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if fn, ok := r.byLabel[label]; ok {
		return fn, nil
	}
	if r.def != nil {
		return r.def, nil
	}
	return nil, fmt.Errorf("router: no handler for label %q and no default handler registered", label)
}
