// Package fetchengine declares the Engine capability interface the core
// orchestrator consumes, without importing any concrete implementation —
// preserving the "external collaborator" boundary of the core spec inside
// a single Go module. Grounded on internal/fetcher/fetcher.go's minimal
// Fetcher interface, generalized to the tagged-union FetchResponse shape
// and optional interaction capability of §6/§9 of the core spec.
package fetchengine

import "context"

// ErrorCode enumerates the FetchResponse failure variants the core
// classifier inspects.
type ErrorCode string

const (
	ErrorUnexpected            ErrorCode = "unexpected"
	ErrorBlocked               ErrorCode = "blocked"
	ErrorUnsupportedInteraction ErrorCode = "unsupported-interaction"
)

// FetchResponse is the tagged union returned by Engine.Fetch.
type FetchResponse struct {
	Success  bool
	Title    string
	Content  string
	Metadata map[string]any

	Error     string
	ErrorCode ErrorCode
}

// FetchOptions configures one Fetch call.
type FetchOptions struct {
	Parser      string // label of the ContentParser to apply, if any
	Plugins     []string
	ShowBrowser bool
}

// Interaction is the capability an Engine may optionally expose to parsers
// for click/waitForSelector-style page interaction (see core spec §9).
// Engines that don't support interaction simply never populate it on a
// ParseContext, and parsers attempting to use it get ErrorUnsupportedInteraction.
type Interaction interface {
	Click(ctx context.Context, selector string) error
	WaitForSelector(ctx context.Context, selector string) error
}

// Engine is the external fetch capability the core consumes.
type Engine interface {
	Fetch(ctx context.Context, url string, opts FetchOptions) (FetchResponse, error)
	// Cleanup releases resources; idempotent. Called only by EnginePool.
	Cleanup()
}
