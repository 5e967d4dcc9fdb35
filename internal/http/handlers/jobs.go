package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"postpilot/internal/domain"
)

type jobResponse struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	ProductCode string          `json:"product_code,omitempty"`
	MediaKind   string          `json:"media_kind"`
	Status      string          `json:"status"`
	ErrorCode   string          `json:"error_code,omitempty"`
	Permalink   string          `json:"permalink,omitempty"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Rounds      []roundResponse `json:"rounds,omitempty"`
}

type roundResponse struct {
	ID           string            `json:"id"`
	SubjectIndex int               `json:"subject_index"`
	Constrained  bool              `json:"constrained"`
	Variants     []variantResponse `json:"variants"`
}

type variantResponse struct {
	Index      int     `json:"index"`
	AssetKey   string  `json:"asset_key"`
	PreviewURL string  `json:"preview_url,omitempty"`
	GateScore  float64 `json:"gate_score"`
	Flagged    bool    `json:"flagged"`
	Selected   bool    `json:"selected"`
}

// GetJob returns one job with its current candidate rounds. Superseded rounds
// are excluded; the client always sees exactly what the user can pick from.
func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := a.Store.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.jsonError(w, http.StatusNotFound, "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", id).Msg("get job failed")
		a.jsonError(w, http.StatusInternalServerError, "failed to load job")
		return
	}

	rounds, err := a.Store.CurrentRounds(r.Context(), job.ID)
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", id).Msg("load rounds failed")
		a.jsonError(w, http.StatusInternalServerError, "failed to load rounds")
		return
	}

	resp := jobResponse{
		ID:          job.ID,
		UserID:      job.UserID,
		ProductCode: job.ProductCode,
		MediaKind:   string(job.MediaKind),
		Status:      string(job.Status),
		ErrorCode:   job.ErrorCode,
		Permalink:   job.Permalink,
		ScheduledAt: job.ScheduledAt,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
	for _, round := range rounds {
		out := roundResponse{
			ID:           round.ID,
			SubjectIndex: round.SubjectIndex,
			Constrained:  round.Constrained,
		}
		for _, v := range round.Variants {
			out.Variants = append(out.Variants, variantResponse{
				Index:      v.Index,
				AssetKey:   v.AssetKey,
				PreviewURL: v.PreviewURL,
				GateScore:  v.Gate.Score,
				Flagged:    v.Gate.Verdict != domain.VerdictPass,
				Selected:   round.SelectedID == v.ID,
			})
		}
		resp.Rounds = append(resp.Rounds, out)
	}

	a.json(w, http.StatusOK, resp)
}
