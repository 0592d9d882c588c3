package api

import (
	"net/http"
	"strconv"

	"github.com/ppiankov/extralife/internal/apperr"
	"github.com/ppiankov/extralife/internal/audit"
	"github.com/ppiankov/extralife/internal/model"
)

func (s *Server) createClabe(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Alias    string `json:"alias"`
		PolicyID string `json:"policy_id"`
	}
	if r.ContentLength != 0 {
		if err := decode(w, r, &body); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	c, err := s.deps.Checkout.OpenDepositAccount(r.Context(), body.Alias, body.PolicyID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, c)
}

func (s *Server) listDeposits(w http.ResponseWriter, r *http.Request) {
	deps, err := s.deps.Checkout.ListDeposits(r.Context(), r.URL.Query().Get("clabe_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, deps)
}

func (s *Server) mockDeposit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ClabeID string  `json:"clabe_id"`
		Amount  float64 `json:"amount"`
	}
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	dep, err := s.deps.Checkout.SimulateDeposit(r.Context(), body.ClabeID, body.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, dep)
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.deps.Checkout.ListTransactions(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, txs)
}

func (s *Server) queryLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := audit.Filter{
		Level:      model.LogLevel(q.Get("level")),
		Action:     q.Get("action"),
		EntityType: model.EntityType(q.Get("entity_type")),
		EntityID:   q.Get("entity_id"),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, r, apperr.Validation("invalid request", map[string]string{"limit": "must be a non-negative integer"}))
			return
		}
		f.Limit = n
	}

	logs, err := s.deps.Audit.Query(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, logs)
}
