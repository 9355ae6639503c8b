// Command mock-observability serves canned metrics and logs for local incident-engine runs.
// POST /admin/recover flips every service to healthy values so that verification can pass.
package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"
)

type point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type entry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
	Count     int       `json:"count"`
}

type query struct {
	Service string `json:"service"`
	Metric  string `json:"metric"`
	Pattern string `json:"pattern"`
}

var degraded = map[string][]float64{
	"cpu":        {62, 71, 93},
	"memory":     {70, 74, 88},
	"error_rate": {2, 6, 14},
	"latency_ms": {240, 610, 1450},
}

var healthy = map[string][]float64{
	"cpu":        {35, 33, 31},
	"memory":     {52, 51, 50},
	"error_rate": {0.4, 0.2, 0.1},
	"latency_ms": {120, 115, 110},
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	var recovered atomic.Bool

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/admin/recover", func(w http.ResponseWriter, r *http.Request) {
		if !requirePost(w, r) {
			return
		}
		recovered.Store(r.URL.Query().Get("undo") == "")
		writeJSON(w, map[string]bool{"recovered": recovered.Load()})
	})
	mux.HandleFunc("/api/v1/metrics/query", func(w http.ResponseWriter, r *http.Request) {
		q, ok := decode(w, r)
		if !ok {
			return
		}
		values := degraded[q.Metric]
		if recovered.Load() {
			values = healthy[q.Metric]
		}
		now := time.Now().UTC()
		series := make([]point, 0, len(values))
		for i, v := range values {
			series = append(series, point{Timestamp: now.Add(time.Duration(i-len(values)) * time.Minute), Value: v})
		}
		writeJSON(w, map[string]any{"series": series})
	})
	mux.HandleFunc("/api/v1/logs/query", func(w http.ResponseWriter, r *http.Request) {
		q, ok := decode(w, r)
		if !ok {
			return
		}
		now := time.Now().UTC()
		entries := []entry{
			{Timestamp: now.Add(-3 * time.Minute), Message: q.Service + " failed to reach payments", Severity: "error", Count: 42},
			{Timestamp: now.Add(-2 * time.Minute), Message: "retry budget exhausted", Severity: "error", Count: 7},
		}
		if recovered.Load() {
			entries = []entry{{Timestamp: now.Add(-time.Minute), Message: "transient timeout", Severity: "error", Count: 1}}
		}
		writeJSON(w, map[string]any{"entries": entries})
	})

	srv := &http.Server{Addr: *addr, Handler: logRequests(logger, mux), ReadHeaderTimeout: 5 * time.Second}
	logger.Info("mock observability listening", slog.String("address", *addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func decode(w http.ResponseWriter, r *http.Request) (query, bool) {
	var q query
	if !requirePost(w, r) {
		return q, false
	}
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return q, false
	}
	return q, true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func logRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Info("request", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.Int("status", rw.status), slog.Duration("took", time.Since(start)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
