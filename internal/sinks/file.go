// Package sinks implements optional pushData destinations beyond the
// mandatory ProgressWriter: JSONL/CSV file sinks grounded on
// internal/storage/file.go, and a MongoDB sink grounded on
// internal/storage/database.go. The orchestrator's pushData always writes
// the durable progress log and crawl state first (spec.md §4.6/§4.7); a
// configured Sink is an additional, best-effort destination for users who
// want a queryable store alongside it.
package sinks

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Sink is a pushData fan-out destination.
type Sink interface {
	Write(id string, data any) error
	Close() error
}

// jsonlSink appends newline-delimited JSON, one object per pushed item.
type jsonlSink struct {
	mu     sync.Mutex
	file   *os.File
	enc    *json.Encoder
	count  int
	logger *slog.Logger
}

// NewJSONL creates a streaming JSONL sink at outputPath.
func NewJSONL(outputPath string, logger *slog.Logger) (Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return nil, fmt.Errorf("sinks: create output dir: %w", err)
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("sinks: create jsonl file: %w", err)
	}
	return &jsonlSink{file: f, enc: json.NewEncoder(f), logger: logger.With("component", "jsonl_sink")}, nil
}

func (s *jsonlSink) Write(id string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(map[string]any{"id": id, "data": data}); err != nil {
		return fmt.Errorf("sinks: encode jsonl: %w", err)
	}
	s.count++
	return nil
}

func (s *jsonlSink) Close() error {
	s.logger.Info("jsonl sink closing", "items", s.count)
	return s.file.Close()
}

// csvSink writes one row per item, keyed to the first item's field set.
type csvSink struct {
	mu      sync.Mutex
	file    *os.File
	writer  *csv.Writer
	headers []string
	count   int
	logger  *slog.Logger
}

// NewCSV creates a CSV sink at outputPath. Rows are flattened from
// map[string]any payloads; non-map payloads are written under a single
// "value" column.
func NewCSV(outputPath string, logger *slog.Logger) (Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return nil, fmt.Errorf("sinks: create output dir: %w", err)
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("sinks: create csv file: %w", err)
	}
	return &csvSink{file: f, writer: csv.NewWriter(f), logger: logger.With("component", "csv_sink")}, nil
}

func (s *csvSink) Write(id string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flat := flatten(data)
	flat["_id"] = id

	if s.headers == nil {
		s.headers = make([]string, 0, len(flat))
		for k := range flat {
			s.headers = append(s.headers, k)
		}
		sort.Strings(s.headers)
		if err := s.writer.Write(s.headers); err != nil {
			return fmt.Errorf("sinks: write csv header: %w", err)
		}
	}

	row := make([]string, len(s.headers))
	for i, h := range s.headers {
		row[i] = flat[h]
	}
	if err := s.writer.Write(row); err != nil {
		return fmt.Errorf("sinks: write csv row: %w", err)
	}
	s.writer.Flush()
	s.count++
	return s.writer.Error()
}

func (s *csvSink) Close() error {
	s.logger.Info("csv sink closing", "items", s.count)
	s.writer.Flush()
	return s.file.Close()
}

func flatten(data any) map[string]string {
	out := make(map[string]string)
	if m, ok := data.(map[string]any); ok {
		for k, v := range m {
			out[k] = fmt.Sprintf("%v", v)
		}
		return out
	}
	out["value"] = fmt.Sprintf("%v", data)
	return out
}

// Multi fans a Write out to every backend, returning the first error
// encountered (after attempting all of them), matching
// internal/storage/database.go's MultiStorage behavior.
type Multi struct {
	backends []Sink
	logger   *slog.Logger
}

// NewMulti constructs a fan-out Sink over backends.
func NewMulti(backends []Sink, logger *slog.Logger) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multi{backends: backends, logger: logger.With("component", "multi_sink")}
}

func (m *Multi) Write(id string, data any) error {
	var firstErr error
	for _, b := range m.backends {
		if err := b.Write(id, data); err != nil {
			m.logger.Error("sink backend write failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (m *Multi) Close() error {
	var firstErr error
	for _, b := range m.backends {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
