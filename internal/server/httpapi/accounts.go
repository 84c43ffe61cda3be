package httpapi

import (
	"net/http"

	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/dmitrijs2005/chatkeeper/internal/server/services"
)

// handleRegisterAccount handles POST /api/v1/accounts.
func (s *Server) handleRegisterAccount(w http.ResponseWriter, r *http.Request) {
	var in services.RegisterInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	a, err := s.accounts.Register(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// handleGetAccount handles GET /api/v1/accounts/{id}.
func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	a, err := s.accounts.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleGetAccountBy handles GET /api/v1/accounts/by/{field}/{value}.
func (s *Server) handleGetAccountBy(w http.ResponseWriter, r *http.Request) {
	a, err := s.accounts.GetBy(r.Context(), r.PathValue("field"), r.PathValue("value"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleUpdateAccount handles PATCH /api/v1/accounts/{id}.
func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	var p models.AccountPatch
	if err := decodeJSON(w, r, &p); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	res, err := s.accounts.UpdateProfile(r.Context(), r.PathValue("id"), &p)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleDeleteAccount handles DELETE /api/v1/accounts/{id}.
func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	res, err := s.accounts.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleInvalidateAccount handles POST /api/v1/accounts/{id}/invalidate.
func (s *Server) handleInvalidateAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.accounts.Invalidate(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
