package errsnapshot

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteRespectsCount(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, 2)
	if err := w.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	rec := Record{URL: "https://example.com", ErrorMessage: "boom", ErrorClass: "parse"}
	if !w.Write("id1", rec, "") {
		t.Fatalf("expected first write to succeed")
	}
	if !w.Write("id2", rec, "<html></html>") {
		t.Fatalf("expected second write to succeed")
	}
	if w.Write("id3", rec, "") {
		t.Fatalf("expected third write to be rejected past the cap")
	}
}

func TestSanitizeFilename(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, 10)
	w.Initialize()

	if !w.Write("../../weird id?!@#", Record{ErrorMessage: "x", ErrorClass: "system"}, "") {
		t.Fatalf("expected write to succeed")
	}

	entries, err := readDirNames(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, name := range entries {
		base := strings.TrimSuffix(name, filepath.Ext(name))
		if strings.ContainsAny(base, "./\\ ?!@#") {
			t.Fatalf("unsanitized filename: %s", name)
		}
	}
}

func TestHTMLCompanion(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, 10)
	w.Initialize()
	w.Write("item", Record{ErrorMessage: "x", ErrorClass: "system"}, "<html>body</html>")

	entries, _ := readDirNames(dir)
	hasJSON, hasHTML := false, false
	for _, name := range entries {
		if strings.HasSuffix(name, ".json") {
			hasJSON = true
		}
		if strings.HasSuffix(name, ".html") {
			hasHTML = true
		}
	}
	if !hasJSON || !hasHTML {
		t.Fatalf("expected both .json and .html companions, got %v", entries)
	}
}

func readDirNames(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"))
	if err != nil {
		return nil, err
	}
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = filepath.Base(m)
	}
	return names, nil
}
