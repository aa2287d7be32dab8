package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"remindd/internal/clock"
	"remindd/internal/reminder"
	"remindd/internal/schedule"
)

// HookHandler receives the notifications the surrounding CRUD system must
// send on entity mutation and endpoint registration.
type HookHandler struct {
	Scheduler *schedule.Service
}

type reminderChangedReq struct {
	OwnerID    uint64 `json:"owner_id"`
	TargetType string `json:"target_type"`
	TargetID   uint64 `json:"target_id"`
}

// ReminderChanged cancels and re-materializes the target's jobs. The CRUD
// layer calls this on every reminder, task or habit edit or delete.
func (h *HookHandler) ReminderChanged(w http.ResponseWriter, r *http.Request) {
	var req reminderChangedReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.OwnerID == 0 || req.TargetID == 0 {
		http.Error(w, "owner_id and target_id required", http.StatusBadRequest)
		return
	}
	switch req.TargetType {
	case reminder.TargetTask, reminder.TargetHabit:
	default:
		http.Error(w, "target_type must be task or habit", http.StatusBadRequest)
		return
	}

	rep, err := h.Scheduler.Resync(r.Context(), req.OwnerID, req.TargetType, req.TargetID, time.Now().UTC())
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type endpointRegisteredReq struct {
	OwnerID               uint64 `json:"owner_id"`
	TimezoneOffsetMinutes int    `json:"timezone_offset_minutes"`
}

// EndpointRegistered runs the conditional backfill for a newly registered
// delivery endpoint's owner.
func (h *HookHandler) EndpointRegistered(w http.ResponseWriter, r *http.Request) {
	var req endpointRegisteredReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.OwnerID == 0 {
		http.Error(w, "owner_id required", http.StatusBadRequest)
		return
	}
	if !clock.ValidOffset(req.TimezoneOffsetMinutes) {
		http.Error(w, "timezone offset out of range", http.StatusBadRequest)
		return
	}

	rep, err := h.Scheduler.Backfill(r.Context(), req.OwnerID, req.TimezoneOffsetMinutes, time.Now().UTC())
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
