package stream

import (
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roostlabs/roost/internal/errs"
	"github.com/roostlabs/roost/internal/metrics"
	"github.com/roostlabs/roost/internal/telemetry"
)

// maxOTLPBody bounds one OTLP export request.
const maxOTLPBody = 8 << 20

// HTTPHandler serves the loopback HTTP surface: per-session OTLP
// ingest, the Prometheus endpoint, a health probe, and the WebSocket
// bridge. OTLP is deliberately unauthenticated: agents receive the
// per-session endpoint through their environment and the listener
// defaults to loopback.
func (s *Server) HTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /otlp/{sessionId}/v1/logs", s.handleOTLP(telemetry.SignalLogs))
	mux.HandleFunc("POST /otlp/{sessionId}/v1/metrics", s.handleOTLP(telemetry.SignalMetrics))
	mux.HandleFunc("POST /otlp/{sessionId}/v1/traces", s.handleOTLP(telemetry.SignalTraces))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /ws", s.handleWS)
	return metrics.HTTPMiddleware(mux)
}

func (s *Server) handleOTLP(signal telemetry.Signal) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("sessionId")
		body, err := io.ReadAll(io.LimitReader(r.Body, maxOTLPBody))
		if err != nil {
			http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
			return
		}
		events, err := telemetry.ParseOTLP(signal, body, time.Now())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, err := s.coord.IngestTelemetry(sessionID, events); err != nil {
			status := http.StatusInternalServerError
			if errs.KindOf(err) == errs.KindNotFound {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"partialSuccess":{}}`))
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
