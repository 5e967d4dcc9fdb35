package video

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"postpilot/internal/pipeline"
	"postpilot/internal/providers/genai"
)

const defaultModel = "veo-3.1-generate-preview"

// Veo drives Gemini's asynchronous video endpoint. Start submits the request
// and returns the operation name; Poll observes it until the clip is ready.
// The caller owns the polling cadence and the deadline.
type Veo struct {
	client *genai.Client
	model  string
}

func NewVeo(client *genai.Client, model string) *Veo {
	if strings.TrimSpace(model) == "" {
		model = defaultModel
	}
	return &Veo{client: client, model: model}
}

var _ pipeline.VideoGenerator = (*Veo)(nil)

type veoInstance struct {
	Prompt string    `json:"prompt"`
	Image  *veoImage `json:"image,omitempty"`
	Video  *veoVideo `json:"video,omitempty"`
}

type veoImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType"`
}

type veoVideo struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType"`
}

type veoParameters struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type veoRequest struct {
	Instances  []veoInstance `json:"instances"`
	Parameters veoParameters `json:"parameters"`
}

func (v *Veo) Start(ctx context.Context, req pipeline.VideoRequest) (string, error) {
	instance := veoInstance{Prompt: req.MotionPrompt}
	switch {
	case len(req.ContinueFrom) > 0:
		// Scene extension continues from the previous clip's final frame.
		instance.Video = &veoVideo{
			BytesBase64Encoded: base64.StdEncoding.EncodeToString(req.ContinueFrom),
			MimeType:           "video/mp4",
		}
	case len(req.StartFrame) > 0:
		instance.Image = &veoImage{
			BytesBase64Encoded: base64.StdEncoding.EncodeToString(req.StartFrame),
			MimeType:           "image/png",
		}
	default:
		return "", pipeline.NewError(pipeline.CodeInternal, fmt.Errorf("video request needs a start frame or a clip to continue"))
	}

	payload := veoRequest{
		Instances:  []veoInstance{instance},
		Parameters: veoParameters{AspectRatio: req.AspectRatio},
	}
	return v.client.StartVideoOperation(ctx, v.model, payload)
}

func (v *Veo) Poll(ctx context.Context, handle string) (*pipeline.VideoPoll, error) {
	op, err := v.client.GetOperation(ctx, handle)
	if err != nil {
		return nil, err
	}
	if op.Error != nil {
		return nil, pipeline.NewError(pipeline.CodeTransientProvider,
			fmt.Errorf("operation %s failed with code %d: %s", handle, op.Error.Code, op.Error.Message))
	}
	if !op.Done {
		return &pipeline.VideoPoll{Done: false}, nil
	}

	samples := op.Response.GenerateVideoResponse.GeneratedSamples
	if len(samples) == 0 {
		return nil, pipeline.NewError(pipeline.CodeTransientProvider, fmt.Errorf("operation %s completed without samples", handle))
	}
	sample := samples[0].Video

	asset := &pipeline.GeneratedAsset{MIME: firstNonEmpty(sample.MimeType, "video/mp4")}
	switch {
	case sample.EncodedVideo != "":
		data, err := base64.StdEncoding.DecodeString(sample.EncodedVideo)
		if err != nil {
			return nil, fmt.Errorf("decode video payload: %w", err)
		}
		asset.Data = data
	case sample.URI != "":
		data, mime, err := v.client.Download(ctx, sample.URI)
		if err != nil {
			return nil, err
		}
		asset.Data = data
		if mime != "" {
			asset.MIME = mime
		}
	}
	if sample.EncodedPoster != "" {
		if poster, err := base64.StdEncoding.DecodeString(sample.EncodedPoster); err == nil {
			asset.Poster = poster
		}
	}
	return &pipeline.VideoPoll{Done: true, Asset: asset}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
