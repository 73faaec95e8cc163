package htmlparser

import (
	"context"
	"testing"

	"github.com/archenemy/crawlforge/internal/contentparser"
)

const sampleHTML = `
<html><body>
  <h1 class="title">Widget</h1>
  <span class="price">$9.99</span>
  <a href="/next">Next</a>
  <a href="https://other.example.com/x">External</a>
  <a href="#section">Anchor</a>
</body></html>`

func TestExtractCSSRules(t *testing.T) {
	p := New([]Rule{
		{Name: "title", Type: RuleCSS, Selector: "h1.title"},
		{Name: "price", Type: RuleCSS, Selector: "span.price"},
	}, nil)

	res, err := p.Extract(context.Background(), contentparser.ParseContext{
		Content: sampleHTML,
		URL:     "https://example.com/product",
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	out := res.(Output)
	if out.Fields["title"] != "Widget" {
		t.Fatalf("expected title Widget, got %v", out.Fields["title"])
	}
	if out.Fields["price"] != "$9.99" {
		t.Fatalf("expected price $9.99, got %v", out.Fields["price"])
	}
}

func TestExtractDiscoversAbsoluteLinks(t *testing.T) {
	p := New([]Rule{{Name: "title", Selector: "h1"}}, nil)
	res, err := p.Extract(context.Background(), contentparser.ParseContext{
		Content: sampleHTML,
		URL:     "https://example.com/product",
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	out := res.(Output)
	want := map[string]bool{
		"https://example.com/next":          true,
		"https://other.example.com/x":       true,
	}
	if len(out.Links) != 2 {
		t.Fatalf("expected 2 links (anchor excluded), got %v", out.Links)
	}
	for _, l := range out.Links {
		if !want[l] {
			t.Fatalf("unexpected link %q", l)
		}
	}
}

func TestExtractRegexRule(t *testing.T) {
	p := New([]Rule{{Name: "price", Type: RuleRegex, Pattern: `\$(\d+\.\d+)`}}, nil)
	res, err := p.Extract(context.Background(), contentparser.ParseContext{Content: sampleHTML})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	out := res.(Output)
	if out.Fields["price"] != "9.99" {
		t.Fatalf("expected captured group 9.99, got %v", out.Fields["price"])
	}
}

func TestAppliesReflectsConfiguredRules(t *testing.T) {
	empty := New(nil, nil)
	if empty.Applies(contentparser.ParseContext{}) {
		t.Fatalf("expected Applies false with no rules")
	}
	withRules := New([]Rule{{Name: "x", Selector: "h1"}}, nil)
	if !withRules.Applies(contentparser.ParseContext{}) {
		t.Fatalf("expected Applies true with rules configured")
	}
}
