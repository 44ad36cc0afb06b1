package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/kissbot/llm"
)

// HandleHealthz is the liveness probe. It pings the database when one is configured.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.opts.DB != nil {
		if err := h.opts.DB.PingContext(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports ready once the startup gate passed and dependencies respond.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"startup_gate", func() error {
			if h.opts.Report == nil || h.opts.Report.Failed {
				return errors.New("startup gate has not passed")
			}
			return nil
		}},
		{"database", func() error {
			if h.opts.DB == nil {
				return nil
			}
			return h.opts.DB.PingContext(r.Context())
		}},
		{"llm_circuit", func() error {
			if h.opts.Breaker != nil && h.opts.Breaker.State() == llm.Open {
				return llm.ErrCircuitOpen
			}
			return nil
		}},
	}

	w.Header().Set("Content-Type", "application/json")
	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			writeJSON(w, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	writeJSON(w, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}
