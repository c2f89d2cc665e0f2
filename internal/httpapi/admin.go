package httpapi

import (
	"net/http"

	"github.com/nazeru/medstore-orders-go/internal/auth"
	"github.com/nazeru/medstore-orders-go/internal/order/domain"
	"github.com/nazeru/medstore-orders-go/pkg/problem"
)

type transitionRequest struct {
	Status string `json:"status"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		problem.WriteBadRequest(w, r, "invalid json")
		return
	}
	to, err := domain.ParseStatus(req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := s.orders.ApplyTransition(r.Context(), r.PathValue("id"), to, actor(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request) {
	o, err := s.payments.Approve(r.Context(), r.PathValue("id"), actor(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		problem.WriteBadRequest(w, r, "invalid json")
		return
	}
	o, err := s.payments.Reject(r.Context(), r.PathValue("id"), actor(r), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func actor(r *http.Request) string {
	p, _ := auth.FromContext(r.Context())
	return p.UserID
}
