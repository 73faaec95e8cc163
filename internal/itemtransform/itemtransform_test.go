package itemtransform

import "testing"

func TestChainRunsInOrder(t *testing.T) {
	c := New(nil)
	c.Use(Trim{})
	c.Use(&FieldRename{Mapping: map[string]string{"raw_title": "title"}})

	out, err := c.Process(map[string]any{"raw_title": "  Hello World  "})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out["title"] != "Hello World" {
		t.Fatalf("expected trimmed+renamed title, got %q", out["title"])
	}
	if _, stillPresent := out["raw_title"]; stillPresent {
		t.Fatalf("raw_title should have been renamed away")
	}
}

func TestRequiredFieldsDropsIncomplete(t *testing.T) {
	c := New(nil)
	c.Use(&RequiredFields{Fields: []string{"price"}})

	_, err := c.Process(map[string]any{"title": "no price here"})
	if _, dropped := err.(*DroppedError); !dropped {
		t.Fatalf("expected a DroppedError, got %v", err)
	}
}

func TestDedupDropsRepeatedKey(t *testing.T) {
	c := New(nil)
	c.Use(NewDedup("url"))

	if _, err := c.Process(map[string]any{"url": "https://a.example/1"}); err != nil {
		t.Fatalf("first: %v", err)
	}
	_, err := c.Process(map[string]any{"url": "https://a.example/1"})
	if _, dropped := err.(*DroppedError); !dropped {
		t.Fatalf("expected duplicate to be dropped, got %v", err)
	}
}

func TestCurrencyNormalizeHandlesUSAndEuropeanFormats(t *testing.T) {
	c := NewCurrencyNormalize([]string{"price"})
	out, _ := c.Process(map[string]any{"price": "$1,234.56"})
	if out["price"] != "1234.56" {
		t.Fatalf("expected 1234.56, got %v", out["price"])
	}

	out, _ = c.Process(map[string]any{"price": "1.234,56 €"})
	if out["price"] != "1234.56" {
		t.Fatalf("expected 1234.56 for european format, got %v", out["price"])
	}
}

func TestPIIRedactMasksEmail(t *testing.T) {
	p := NewPIIRedact(nil)
	out, _ := p.Process(map[string]any{"bio": "contact me at a@example.com"})
	if out["bio"] == "contact me at a@example.com" {
		t.Fatalf("expected email to be redacted")
	}
}

func TestWordCountAddsField(t *testing.T) {
	w := &WordCount{Fields: []string{"body"}}
	out, _ := w.Process(map[string]any{"body": "four little words here"})
	if out["body_word_count"] != 4 {
		t.Fatalf("expected 4, got %v", out["body_word_count"])
	}
}
