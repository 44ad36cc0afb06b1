package server

import (
	"net/http"

	"github.com/onnwee/kissbot/bot"
)

type statusResponse struct {
	Instance   string      `json:"instance"`
	LLMCircuit string      `json:"llm_circuit,omitempty"`
	Gate       *bot.Status `json:"gate"`
}

// HandleStatus returns the startup report as JSON.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := statusResponse{Instance: h.opts.Instance}
	if h.opts.Report != nil {
		st := h.opts.Report.Status()
		resp.Gate = &st
	}
	if h.opts.Breaker != nil {
		resp.LLMCircuit = h.opts.Breaker.State().String()
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp)
}
