package crawlstate

import (
	"path/filepath"
	"sort"
	"sync"
	"testing"
)

func TestPendingIdsInvariant(t *testing.T) {
	s := New("/dev/null", "https://example.com", 1000)
	s.AddDiscoveredIds([]string{"a", "b", "c", "d"})
	s.MarkCompleted("a")
	s.MarkFailed("b")

	pending := s.PendingIds()
	sort.Strings(pending)
	if len(pending) != 2 || pending[0] != "c" || pending[1] != "d" {
		t.Fatalf("unexpected pending ids: %v", pending)
	}
}

// TestRoundTrip covers property 9.
func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	s := New(path, "https://example.com", 1000)
	s.AddDiscoveredIds([]string{"a", "b"})
	s.MarkCompleted("a")
	s.SetLastListPage(3)
	if err := s.Save(2000); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded := New(path, "https://example.com", 5000)
	if !loaded.Load() {
		t.Fatalf("expected load to succeed with matching sourceUrl")
	}
	if loaded.LastListPage() != 3 {
		t.Fatalf("expected lastListPage 3, got %d", loaded.LastListPage())
	}
	if len(loaded.CompletedIds()) != 1 || loaded.CompletedIds()[0] != "a" {
		t.Fatalf("unexpected completedIds: %v", loaded.CompletedIds())
	}
	if len(loaded.DiscoveredIds()) != 2 {
		t.Fatalf("unexpected discoveredIds: %v", loaded.DiscoveredIds())
	}
}

func TestLoadRejectsMismatchedSourceURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	s := New(path, "https://example.com", 1000)
	s.Save(1000)

	other := New(path, "https://other.example.com", 2000)
	if other.Load() {
		t.Fatalf("expected load to reject mismatched sourceUrl")
	}
}

func TestLoadMissingFile(t *testing.T) {
	s := New("/nonexistent/path/state.json", "https://example.com", 1000)
	if s.Load() {
		t.Fatalf("expected load to return false for a missing file")
	}
}

// TestConcurrentMutation: multiple worker goroutines calling
// MarkCompleted/MarkFailed/AddDiscoveredIds/SetLastListPage simultaneously,
// as the orchestrator's workers do, must not race (run with -race) and must
// leave their ids recorded.
func TestConcurrentMutation(t *testing.T) {
	s := New("/dev/null", "https://example.com", 1000)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := string(rune('a' + i%26))
			s.AddDiscoveredIds([]string{id})
			if i%2 == 0 {
				s.MarkCompleted(id)
			} else {
				s.MarkFailed(id)
			}
			s.SetLastListPage(i)
		}()
	}
	wg.Wait()

	if len(s.DiscoveredIds()) == 0 {
		t.Fatalf("expected discovered ids to be recorded")
	}
	if len(s.CompletedIds())+len(s.FailedIds()) == 0 {
		t.Fatalf("expected completed/failed ids to be recorded")
	}
}
