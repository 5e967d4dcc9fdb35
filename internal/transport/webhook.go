package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"postpilot/internal/domain"
	"postpilot/internal/infra"
	"postpilot/internal/pipeline"
)

const defaultTimeout = 15 * time.Second

// Webhook delivers outbound messages to the conversational frontend by
// POSTing JSON to its callback URL. Delivery is best effort: a failed send is
// logged, never allowed to fail the pipeline stage that produced it.
type Webhook struct {
	callbackURL string
	previewBase string
	client      *http.Client
	logger      infra.Logger
}

func NewWebhook(callbackURL, previewBase string, client *http.Client, logger infra.Logger) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Webhook{
		callbackURL: strings.TrimRight(callbackURL, "/"),
		previewBase: strings.TrimRight(previewBase, "/"),
		client:      client,
		logger:      logger,
	}
}

var _ pipeline.Transport = (*Webhook)(nil)

type outboundMessage struct {
	UserID string          `json:"user_id"`
	Kind   string          `json:"kind"`
	Text   string          `json:"text,omitempty"`
	JobID  string          `json:"job_id,omitempty"`
	Rounds []outboundRound `json:"rounds,omitempty"`
}

type outboundRound struct {
	SubjectIndex int               `json:"subject_index"`
	Constrained  bool              `json:"constrained"`
	Variants     []outboundVariant `json:"variants"`
}

type outboundVariant struct {
	Index      int     `json:"index"`
	PreviewURL string  `json:"preview_url"`
	GateScore  float64 `json:"gate_score"`
	Flagged    bool    `json:"flagged"`
}

func (w *Webhook) SendText(ctx context.Context, userID, text string) {
	w.deliver(ctx, outboundMessage{UserID: userID, Kind: "text", Text: text})
}

func (w *Webhook) SendReview(ctx context.Context, userID string, job *domain.Job, rounds []domain.Round) {
	msg := outboundMessage{UserID: userID, Kind: "review", JobID: job.ID}
	for _, round := range rounds {
		out := outboundRound{SubjectIndex: round.SubjectIndex, Constrained: round.Constrained}
		for _, v := range round.Variants {
			out.Variants = append(out.Variants, outboundVariant{
				Index:      v.Index,
				PreviewURL: w.previewURL(v),
				GateScore:  v.Gate.Score,
				Flagged:    v.Gate.Verdict != domain.VerdictPass,
			})
		}
		msg.Rounds = append(msg.Rounds, out)
	}
	w.deliver(ctx, msg)
}

func (w *Webhook) previewURL(v domain.Variant) string {
	if v.PreviewURL != "" {
		return v.PreviewURL
	}
	if w.previewBase == "" {
		return ""
	}
	return w.previewBase + "/" + strings.TrimLeft(v.AssetKey, "/")
}

func (w *Webhook) deliver(ctx context.Context, msg outboundMessage) {
	if w.callbackURL == "" {
		w.logger.Info().Str("user_id", msg.UserID).Str("kind", msg.Kind).Str("text", msg.Text).Msg("transport: no callback configured, message logged only")
		return
	}
	body, err := json.Marshal(msg)
	if err != nil {
		w.logger.Error().Err(err).Msg("transport: marshal message")
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.callbackURL, bytes.NewReader(body))
	if err != nil {
		w.logger.Error().Err(err).Msg("transport: create request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Error().Err(err).Str("user_id", msg.UserID).Msg("transport: deliver failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		w.logger.Error().Int("status", resp.StatusCode).Str("user_id", msg.UserID).Msg("transport: callback rejected message")
	}
}
