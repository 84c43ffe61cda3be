package httpapi

import (
	"net/http"

	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
)

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var c models.Conversation
	if err := decodeJSON(w, r, &c); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out, err := s.conversations.Create(r.Context(), &c)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	c, err := s.conversations.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleUpdateConversation(w http.ResponseWriter, r *http.Request) {
	var patch models.ConversationPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	c, err := s.conversations.Update(r.Context(), r.PathValue("id"), &patch)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.conversations.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
