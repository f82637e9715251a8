package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/scorebridge-network/scorebridge/internal/app/scheduler"
)

// ─── Sync Endpoints ─────────────────────────────────────────────────────────
//
// GET  /api/sync/status        — mode, interval, last pass, stats
// POST /api/sync/force         — synchronous pass (optional group_id)
// PUT  /api/sync/mode          — enabled | paused | disabled
// PUT  /api/sync/interval      — pass cadence in seconds
// GET  /api/sync/tasks/failed  — tasks awaiting manual resolution

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	status := s.sched.Status()
	total, successful, failed, lastError, err := s.db.SyncStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	pending, err := s.db.PendingTaskCount(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mode":             status.Mode,
		"interval_seconds": int(status.Interval / time.Second),
		"syncing":          status.Syncing,
		"last_pass":        status.LastPass,
		"last_error":       status.LastErr,
		"pending_tasks":    pending,
		"stats": map[string]interface{}{
			"total":      total,
			"successful": successful,
			"failed":     failed,
			"last_error": lastError,
		},
	})
}

type forceSyncRequest struct {
	GroupID string `json:"group_id,omitempty"`
}

func (s *Server) handleForceSync(w http.ResponseWriter, r *http.Request) {
	var req forceSyncRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	report, err := s.sched.ForceSync(r.Context(), req.GroupID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type setModeRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req setModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.sched.SetMode(r.Context(), scheduler.Mode(req.Mode)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"mode": req.Mode,
	})
}

type setIntervalRequest struct {
	Seconds int `json:"seconds"`
}

func (s *Server) handleSetInterval(w http.ResponseWriter, r *http.Request) {
	var req setIntervalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.sched.SetInterval(r.Context(), time.Duration(req.Seconds)*time.Second); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"interval_seconds": req.Seconds,
	})
}

func (s *Server) handleFailedTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.db.FailedTasks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": tasks,
	})
}

type setCommissionRequest struct {
	Rate float64 `json:"rate"`
}

func (s *Server) handleSetCommission(w http.ResponseWriter, r *http.Request) {
	var req setCommissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.db.SetCommissionRate(r.Context(), req.Rate); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{
		"rate": req.Rate,
	})
}
