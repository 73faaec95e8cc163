// Package statuspage serves a small read-only HTTP status view of a running
// crawl: queue depth, session pool health, and the metrics snapshot, as both
// an HTML page and a JSON endpoint. Grounded on internal/dashboard/dashboard.go
// (the "/" HTML view + "/api/stats" JSON handler shape) and
// internal/api/server.go (route registration, jsonResponse conventions),
// routed with github.com/gorilla/mux instead of the teacher's http.ServeMux.
package statuspage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/archenemy/crawlforge/internal/orchestrator"
)

// StatusProvider is the capability a running crawl exposes to the status
// page; implemented by *orchestrator.Orchestrator.
type StatusProvider interface {
	Status() orchestrator.Status
}

// Page serves the status HTML page and JSON API over addr.
type Page struct {
	addr     string
	provider StatusProvider
	logger   *slog.Logger
	server   *http.Server
}

// New constructs a Page bound to addr (e.g. ":9091"), reporting on provider.
func New(addr string, provider StatusProvider, logger *slog.Logger) *Page {
	if logger == nil {
		logger = slog.Default()
	}
	return &Page{addr: addr, provider: provider, logger: logger.With("component", "statuspage")}
}

// Start launches the HTTP server in a background goroutine and returns
// immediately. Call Shutdown to stop it.
func (p *Page) Start() error {
	r := mux.NewRouter()
	r.HandleFunc("/", p.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/api/status", p.handleAPIStatus).Methods(http.MethodGet)
	r.HandleFunc("/healthz", p.handleHealthz).Methods(http.MethodGet)

	p.server = &http.Server{Addr: p.addr, Handler: r}
	p.logger.Info("status page starting", "addr", p.addr)

	go func() {
		if err := p.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			p.logger.Error("status page error", "error", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (p *Page) Shutdown() error {
	if p.server == nil {
		return nil
	}
	return p.server.Close()
}

func (p *Page) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(statusHTML))
}

func (p *Page) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"timestamp": time.Now().Format(time.RFC3339)}
	if p.provider != nil {
		st := p.provider.Status()
		body["queue"] = map[string]int{
			"pending":    st.QueuePending,
			"inProgress": st.QueueInProgress,
			"handled":    st.QueueHandled,
			"failed":     st.QueueFailed,
		}
		body["sessions"] = map[string]int{
			"poolSize": st.SessionPoolSize,
			"healthy":  st.SessionHealthy,
			"degraded": st.SessionDegraded,
			"blocked":  st.SessionBlocked,
		}
		body["metrics"] = map[string]any{
			"counters": st.Metrics.Counters,
			"gauges":   st.Metrics.Gauges,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(body)
}

func (p *Page) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}

const statusHTML = `<!DOCTYPE html>
<html>
<head>
  <title>crawlforge status</title>
  <meta charset="utf-8">
  <style>
    body { font-family: monospace; margin: 2rem; background: #0b0b0b; color: #ddd; }
    h1 { color: #fff; }
    pre { background: #151515; padding: 1rem; border-radius: 4px; }
  </style>
</head>
<body>
  <h1>crawlforge</h1>
  <pre id="status">loading...</pre>
  <script>
    async function refresh() {
      const res = await fetch('/api/status');
      const data = await res.json();
      document.getElementById('status').textContent = JSON.stringify(data, null, 2);
    }
    refresh();
    setInterval(refresh, 2000);
  </script>
</body>
</html>`
