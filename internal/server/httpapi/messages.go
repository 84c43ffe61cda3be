package httpapi

import (
	"net/http"

	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
)

// handleAppendMessage handles POST /api/v1/conversations/{id}/messages.
func (s *Server) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	var m models.Message
	if err := decodeJSON(w, r, &m); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out, err := s.messages.Append(r.Context(), r.PathValue("id"), &m)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	m, err := s.messages.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleUpdateMessage(w http.ResponseWriter, r *http.Request) {
	var patch models.MessagePatch
	if err := decodeJSON(w, r, &patch); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	m, err := s.messages.Update(r.Context(), r.PathValue("id"), &patch)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := s.messages.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
