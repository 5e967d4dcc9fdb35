package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"postpilot/internal/domain"
)

type inboundReplyRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Text   string `json:"text" validate:"required"`
}

// InboundReply routes a conversational reply from the messaging frontend onto
// the user's active job. Replies to finished jobs get a polite refusal from
// the command handler itself; here we only fail when there is no job at all.
func (a *App) InboundReply(w http.ResponseWriter, r *http.Request) {
	var req inboundReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.Validate.Struct(req); err != nil {
		a.jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := a.Store.ActiveJobForUser(r.Context(), req.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.jsonError(w, http.StatusNotFound, "no active job for user")
			return
		}
		a.Logger.Error().Err(err).Str("user_id", req.UserID).Msg("resolve active job failed")
		a.jsonError(w, http.StatusInternalServerError, "failed to resolve job")
		return
	}

	if err := a.Orch.HandleCommand(r.Context(), job, req.Text); err != nil {
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("handle command failed")
		a.jsonError(w, http.StatusInternalServerError, "failed to apply command")
		return
	}

	a.json(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": string(job.Status),
	})
}
