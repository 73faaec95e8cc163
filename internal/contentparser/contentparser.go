// Package contentparser declares the ContentParser and ContentParserPlugin
// capability interfaces the core's handlers invoke, grounded on
// internal/parser/parser.go's minimal Parser interface and
// internal/plugin/registry.go's plugin shape.
package contentparser

import "context"

// ParseContext carries the content being parsed plus whatever ambient
// context a handler supplied (label, request metadata, and — when the
// engine supports it — an interaction capability).
type ParseContext struct {
	Content     string
	URL         string
	Label       string
	Interaction any // internal/fetchengine.Interaction, if the engine supports it
	UserData    map[string]any
}

// ContentParser extracts structured output from a ParseContext.
type ContentParser interface {
	Extract(ctx context.Context, pc ParseContext) (any, error)
}

// ContentParserPlugin is a ContentParser that opts in or out per input via
// Applies, letting a composite parser try several plugins in turn.
type ContentParserPlugin interface {
	Applies(pc ParseContext) bool
	Extract(ctx context.Context, pc ParseContext) (any, error)
}
