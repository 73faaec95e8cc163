// Package crawlstate implements the durable snapshot of discovered,
// completed, and failed request ids plus the list-page cursor, grounded on
// internal/engine/checkpoint.go's Save/Load (pretty-printed JSON,
// write-temp-then-rename).
package crawlstate

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Snapshot is the persisted shape of a CrawlState, matching §3 of the core
// spec field for field.
type Snapshot struct {
	SourceURL     string   `json:"sourceUrl"`
	DiscoveredIds []string `json:"discoveredIds"`
	CompletedIds  []string `json:"completedIds"`
	FailedIds     []string `json:"failedIds"`
	LastListPage  int      `json:"lastListPage"`
	StartedAt     int64    `json:"startedAt"`
	UpdatedAt     int64    `json:"updatedAt"`
}

// State is the in-memory, mutable CrawlState, backed by a file at path.
// Orchestrator workers call MarkCompleted/MarkFailed/AddDiscoveredIds
// concurrently, so every field access goes through mu.
type State struct {
	path string

	mu            sync.Mutex
	sourceURL     string
	discoveredIds map[string]struct{}
	completedIds  map[string]struct{}
	failedIds     map[string]struct{}
	lastListPage  int
	startedAt     int64
	updatedAt     int64
}

// New constructs a fresh State for sourceURL, not yet backed by any loaded
// file contents.
func New(path, sourceURL string, nowMillis int64) *State {
	return &State{
		path:          path,
		sourceURL:     sourceURL,
		discoveredIds: make(map[string]struct{}),
		completedIds:  make(map[string]struct{}),
		failedIds:     make(map[string]struct{}),
		startedAt:     nowMillis,
		updatedAt:     nowMillis,
	}
}

// Load reads path and replaces the in-memory snapshot if the file exists,
// is readable, and its sourceUrl matches s.sourceURL. Returns false
// otherwise (the caller should keep the fresh State constructed by New).
func (s *State) Load() bool {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return false
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.SourceURL != s.sourceURL {
		return false
	}

	s.discoveredIds = toSet(snap.DiscoveredIds)
	s.completedIds = toSet(snap.CompletedIds)
	s.failedIds = toSet(snap.FailedIds)
	s.lastListPage = snap.LastListPage
	s.startedAt = snap.StartedAt
	s.updatedAt = snap.UpdatedAt
	return true
}

func toSet(ids []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

func fromSet(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}

// Save writes pretty-printed JSON to path via write-temp-then-rename,
// updating updatedAt to nowMillis first.
func (s *State) Save(nowMillis int64) error {
	s.mu.Lock()
	s.updatedAt = nowMillis

	snap := Snapshot{
		SourceURL:     s.sourceURL,
		DiscoveredIds: fromSet(s.discoveredIds),
		CompletedIds:  fromSet(s.completedIds),
		FailedIds:     fromSet(s.failedIds),
		LastListPage:  s.lastListPage,
		StartedAt:     s.startedAt,
		UpdatedAt:     s.updatedAt,
	}
	s.mu.Unlock()

	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("crawlstate: marshal: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, b, 0o644); err != nil {
		return fmt.Errorf("crawlstate: write temp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("crawlstate: rename: %w", err)
	}
	return nil
}

// AddDiscoveredIds merges ids into the discovered set, deduping.
func (s *State) AddDiscoveredIds(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.discoveredIds[id] = struct{}{}
	}
}

// MarkCompleted records id as completed.
func (s *State) MarkCompleted(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completedIds[id] = struct{}{}
}

// MarkFailed records id as failed.
func (s *State) MarkFailed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedIds[id] = struct{}{}
}

// SetLastListPage records the list-page cursor.
func (s *State) SetLastListPage(page int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastListPage = page
}

// DiscoveredIds returns a read-only copy of the discovered id set.
func (s *State) DiscoveredIds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fromSet(s.discoveredIds)
}

// CompletedIds returns a read-only copy of the completed id set.
func (s *State) CompletedIds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fromSet(s.completedIds)
}

// FailedIds returns a read-only copy of the failed id set.
func (s *State) FailedIds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fromSet(s.failedIds)
}

// PendingIds returns discoveredIds \ completedIds \ failedIds, the
// invariant in property 4.
func (s *State) PendingIds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.discoveredIds))
	for id := range s.discoveredIds {
		if _, done := s.completedIds[id]; done {
			continue
		}
		if _, failed := s.failedIds[id]; failed {
			continue
		}
		out = append(out, id)
	}
	return out
}

// LastListPage returns the list-page cursor.
func (s *State) LastListPage() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastListPage
}

// Now returns the current time in epoch milliseconds, a small helper kept
// here so callers (orchestrator, tests) share one time source shape.
func Now() int64 { return time.Now().UnixMilli() }
