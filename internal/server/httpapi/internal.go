package httpapi

import (
	"errors"
	"net/http"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/server/jobs"
	"github.com/dmitrijs2005/chatkeeper/internal/server/syncengine"
)

type syncResponse struct {
	JobID   string             `json:"jobId"`
	Outcome syncengine.Outcome `json:"outcome"`
	Error   string             `json:"error,omitempty"`
}

// handleSync handles POST /api/v1/internal/sync-to-db. Transient failures
// answer 500 so the channel redelivers. Permanent ones, a malformed signed
// envelope included, are archived and answer 200 so it stops.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	job, outcome, err := s.receiver.Deliver(r.Context(), r.Header.Get(common.SignatureHeaderName), body)
	switch {
	case errors.Is(err, common.ErrorUnauthorized):
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	case err != nil && !syncengine.IsPermanent(err):
		writeError(w, http.StatusInternalServerError, "write job failed")
		return
	}

	resp := syncResponse{JobID: job.ID, Outcome: outcome}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleBatchSync handles POST /api/v1/internal/batch-sync. A signed body
// that is not a JSON array is archived and answers 200 as rejected.
func (s *Server) handleBatchSync(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	res, err := s.receiver.DeliverBatch(r.Context(), r.Header.Get(common.SignatureHeaderName), body)
	switch {
	case errors.Is(err, common.ErrorUnauthorized):
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	case errors.Is(err, jobs.ErrMalformed):
		writeJSON(w, http.StatusOK, syncResponse{Outcome: syncengine.OutcomeRejected, Error: err.Error()})
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "write batch failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
