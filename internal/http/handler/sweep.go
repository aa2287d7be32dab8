package handler

import (
	"net/http"
	"time"

	"remindd/internal/sweep"
)

// SweepHandler exposes the delivery sweep for synchronous runs and
// operational inspection.
type SweepHandler struct {
	Sweep *sweep.Service
}

// Run executes one sweep pass now and returns its summary.
func (h *SweepHandler) Run(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Sweep.Run(r.Context(), time.Now().UTC())
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// Last returns the most recent summary without running anything.
func (h *SweepHandler) Last(w http.ResponseWriter, r *http.Request) {
	sum := h.Sweep.Last()
	if sum == nil {
		http.Error(w, "no sweep has run yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
