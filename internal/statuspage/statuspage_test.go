package statuspage

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/archenemy/crawlforge/internal/metrics"
	"github.com/archenemy/crawlforge/internal/orchestrator"
)

type fakeProvider struct{ status orchestrator.Status }

func (f fakeProvider) Status() orchestrator.Status { return f.status }

func newTestRouter(p *Page) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", p.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/api/status", p.handleAPIStatus).Methods(http.MethodGet)
	r.HandleFunc("/healthz", p.handleHealthz).Methods(http.MethodGet)
	return r
}

func TestIndexServesHTML(t *testing.T) {
	p := New(":0", fakeProvider{}, nil)
	r := newTestRouter(p)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/html" {
		t.Fatalf("expected text/html, got %q", ct)
	}
}

func TestAPIStatusReportsProviderSnapshot(t *testing.T) {
	want := orchestrator.Status{
		QueuePending:    3,
		QueueInProgress: 1,
		QueueHandled:    10,
		QueueFailed:     2,
		SessionPoolSize: 5,
		SessionHealthy:  4,
		SessionDegraded: 1,
		Metrics: metrics.Snapshot{
			Counters: map[string]int64{"requests.total": 16},
			Gauges:   map[string]float64{"queue.pending": 3},
		},
	}
	p := New(":0", fakeProvider{status: want}, nil)
	r := newTestRouter(p)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Queue struct {
			Pending int `json:"pending"`
			Failed  int `json:"failed"`
		} `json:"queue"`
		Sessions struct {
			PoolSize int `json:"poolSize"`
			Healthy  int `json:"healthy"`
		} `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Queue.Pending != 3 || body.Queue.Failed != 2 {
		t.Fatalf("unexpected queue section: %+v", body.Queue)
	}
	if body.Sessions.PoolSize != 5 || body.Sessions.Healthy != 4 {
		t.Fatalf("unexpected sessions section: %+v", body.Sessions)
	}
}

func TestHealthzReportsOK(t *testing.T) {
	p := New(":0", fakeProvider{}, nil)
	r := newTestRouter(p)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
