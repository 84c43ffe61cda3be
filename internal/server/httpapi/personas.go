package httpapi

import (
	"net/http"

	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
)

func (s *Server) handleCreatePersona(w http.ResponseWriter, r *http.Request) {
	var p models.Persona
	if err := decodeJSON(w, r, &p); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out, err := s.personas.Create(r.Context(), &p)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	p, err := s.personas.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdatePersona(w http.ResponseWriter, r *http.Request) {
	var patch models.PersonaPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	p, err := s.personas.Update(r.Context(), r.PathValue("id"), &patch)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePersona(w http.ResponseWriter, r *http.Request) {
	if err := s.personas.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
