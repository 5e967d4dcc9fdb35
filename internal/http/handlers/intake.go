package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"

	"postpilot/internal/domain"
	"postpilot/internal/pipeline"
)

var productCodePattern = regexp.MustCompile(`^VAK-\d{3,}$`)

type submitJobRequest struct {
	UserID      string   `json:"user_id" validate:"required"`
	SourceURL   string   `json:"source_url" validate:"required,url"`
	MessageText string   `json:"message_text"`
	ProductCode string   `json:"product_code"`
	PhotoKeys   []string `json:"photo_keys" validate:"omitempty,dive,required"`
}

type submitJobResponse struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	MediaKind string `json:"media_kind"`
}

// SubmitJob accepts one submission: a reference link plus either inline photo
// keys or a catalog product code. The job is created runnable and picked up by
// a worker; nothing generates inside the request.
func (a *App) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.Validate.Struct(req); err != nil {
		a.jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ProductCode == "" && len(req.PhotoKeys) == 0 {
		a.jsonError(w, http.StatusBadRequest, "either product_code or photo_keys is required")
		return
	}
	if req.ProductCode != "" && !productCodePattern.MatchString(req.ProductCode) {
		a.jsonError(w, http.StatusBadRequest, "product_code must match VAK-NNN")
		return
	}
	if !pipeline.SupportedReferenceHost(req.SourceURL) {
		a.jsonError(w, http.StatusBadRequest, "source_url host is not supported; send an Instagram or Pinterest link")
		return
	}

	job, err := a.Orch.Intake(r.Context(), pipeline.IntakeRequest{
		UserID:      req.UserID,
		SourceURL:   req.SourceURL,
		MessageText: req.MessageText,
		ProductCode: req.ProductCode,
		PhotoKeys:   req.PhotoKeys,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrQuotaExceeded):
			a.jsonError(w, http.StatusTooManyRequests, "daily submission quota exceeded")
		case errors.Is(err, domain.ErrNotFound):
			a.jsonError(w, http.StatusNotFound, "product not found")
		default:
			a.Logger.Error().Err(err).Str("user_id", req.UserID).Msg("submit job failed")
			a.jsonError(w, http.StatusInternalServerError, "failed to create job")
		}
		return
	}

	a.json(w, http.StatusAccepted, submitJobResponse{
		JobID:     job.ID,
		Status:    string(job.Status),
		MediaKind: string(job.MediaKind),
	})
}
