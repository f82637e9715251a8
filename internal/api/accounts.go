package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/scorebridge-network/scorebridge/internal/domain"
)

// ─── Ledger Endpoints ───────────────────────────────────────────────────────
//
// POST /api/transfer               — student-to-student transfer
// GET  /api/ranking?group=ID       — balances, highest first
// GET  /api/accounts/{id}          — one account
// GET  /api/accounts/{id}/history  — recent transaction log entries
// POST /api/accounts/{id}/grant    — teacher credit
// POST /api/accounts/{id}/deduct   — teacher debit

type transferRequest struct {
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
	Amount      int64  `json:"amount"`
}

// HandleTransfer executes one atomic transfer.
func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := s.engine.Transfer(r.Context(), req.SenderID, req.RecipientID, req.Amount)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type adjustRequest struct {
	Actor  string `json:"actor"`
	Amount int64  `json:"amount"`
	Note   string `json:"note,omitempty"`
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	s.handleAdjust(w, r, s.engine.Grant)
}

func (s *Server) handleDeduct(w http.ResponseWriter, r *http.Request) {
	s.handleAdjust(w, r, s.engine.Deduct)
}

type adjustFunc func(ctx context.Context, actorID, accountID string, amount int64, note string) (int64, error)

func (s *Server) handleAdjust(w http.ResponseWriter, r *http.Request, op adjustFunc) {
	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	accountID := chi.URLParam(r, "id")
	balance, err := op(r.Context(), req.Actor, accountID, req.Amount, req.Note)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": accountID,
		"balance":    balance,
	})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := s.db.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be 1..500")
			return
		}
		limit = n
	}
	id := chi.URLParam(r, "id")
	if _, err := s.db.GetAccount(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	history, err := s.db.AccountHistory(r.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": id,
		"history":    history,
	})
}

func (s *Server) handleRanking(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.db.Ranking(r.Context(), r.URL.Query().Get("group"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	type entry struct {
		Rank     int    `json:"rank"`
		UserID   string `json:"user_id"`
		FullName string `json:"full_name"`
		Points   int64  `json:"points"`
	}
	ranking := make([]entry, len(accounts))
	for i, acc := range accounts {
		ranking[i] = entry{Rank: i + 1, UserID: acc.UserID, FullName: acc.FullName, Points: acc.Points}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ranking": ranking,
	})
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrGroupNotFound),
		errors.Is(err, domain.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrSameAccount),
		errors.Is(err, domain.ErrInvalidRate),
		errors.Is(err, domain.ErrInvalidInterval):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrAccountInactive),
		errors.Is(err, domain.ErrSyncDisabled):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTransferFailed),
		errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
