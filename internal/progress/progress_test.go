package progress

import (
	"os"
	"path/filepath"
	"testing"
)

// TestAtomicity covers S4: after Finalize, the .tmp file is gone and the
// output file contains exactly the appended lines.
func TestAtomicity(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "progress.jsonl")

	w := New(out)
	if err := w.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := w.Append("item", 1000, "payload"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if _, err := os.Stat(out + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf(".tmp should not exist after finalize")
	}

	entries, err := readFinal(out)
	if err != nil {
		t.Fatalf("read final: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "item" || entries[0].Data != "payload" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	if err := w.Finalize(); err != nil {
		t.Fatalf("finalize should be idempotent: %v", err)
	}
}

func readFinal(path string) ([]Entry, error) {
	w := &Writer{outputPath: path, tmpPath: path + ".tmp"}
	return w.ReadAll()
}

// TestCompletedIdsMatchReadAll covers property 3.
func TestCompletedIdsMatchReadAll(t *testing.T) {
	dir := t.TempDir()
	w := New(filepath.Join(dir, "p.jsonl"))
	w.Initialize()
	w.Append("a", 1, 1)
	w.Append("b", 2, 2)
	w.Append("a", 3, "dup-is-fine")

	ids, err := w.ReadCompletedIds()
	if err != nil {
		t.Fatalf("readCompletedIds: %v", err)
	}
	all, err := w.ReadAll()
	if err != nil {
		t.Fatalf("readAll: %v", err)
	}
	want := map[string]struct{}{}
	for _, e := range all {
		want[e.ID] = struct{}{}
	}
	if len(ids) != len(want) {
		t.Fatalf("completed ids %v != readAll-derived ids %v", ids, want)
	}
	for id := range want {
		if _, ok := ids[id]; !ok {
			t.Fatalf("missing id %s", id)
		}
	}
}

func TestMalformedLinesSkipped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "p.jsonl.tmp")
	os.WriteFile(path, []byte("{\"id\":\"ok\",\"timestamp\":1,\"data\":1}\nnot json\n"), 0o644)

	w := New(filepath.Join(dir, "p.jsonl"))
	entries, err := w.ReadAll()
	if err != nil {
		t.Fatalf("readAll: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "ok" {
		t.Fatalf("expected only the well-formed line, got %+v", entries)
	}
}
