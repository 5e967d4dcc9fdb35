package analyzer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"postpilot/internal/domain"
	"postpilot/internal/pipeline"
)

const (
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 60 * time.Second
)

// OpenAIOptions configures the vision analyzer.
type OpenAIOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// OpenAI derives a structured style brief from a reference asset using the
// chat completions vision endpoint with JSON response formatting.
type OpenAI struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func NewOpenAI(opts OpenAIOptions) (*OpenAI, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openai api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &OpenAI{
		apiKey:  strings.TrimSpace(opts.APIKey),
		model:   model,
		baseURL: baseURL,
		client:  client,
	}, nil
}

var _ pipeline.StyleAnalyzer = (*OpenAI)(nil)

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature,omitempty"`
	ResponseFormat *chatFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (o *OpenAI) Analyze(ctx context.Context, asset []byte, caption string, kind domain.MediaKind) (*domain.StyleBrief, error) {
	payload := chatRequest{
		Model:          o.model,
		Temperature:    0.3,
		ResponseFormat: &chatFormat{Type: "json_object"},
		Messages: []chatMessage{
			{
				Role: "user",
				Content: []contentPart{
					{Type: "text", Text: buildAnalysisPrompt(caption, kind)},
					{Type: "image_url", ImageURL: &imageURL{
						URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(asset),
					}},
				},
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, pipeline.NewError(pipeline.CodeTransientProvider, fmt.Errorf("invoke openai: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, pipeline.NewError(pipeline.CodeRateLimited, fmt.Errorf("openai status %d", resp.StatusCode))
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, pipeline.NewError(pipeline.CodeTransientProvider, fmt.Errorf("openai status %d", resp.StatusCode))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, pipeline.NewError(pipeline.CodeTransientProvider, errors.New("no choices returned"))
	}

	brief := &domain.StyleBrief{}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(extractJSON(text)), brief); err != nil {
		return nil, pipeline.NewError(pipeline.CodeTransientProvider, fmt.Errorf("parse brief payload: %w", err))
	}
	if kind != domain.MediaKindVideo {
		brief.Video = nil
	}
	return brief, nil
}

func buildAnalysisPrompt(caption string, kind domain.MediaKind) string {
	var b strings.Builder
	b.WriteString("Analyze this social media reference for a product post recreation.\n")
	b.WriteString("Respond with one JSON object using exactly these keys: ")
	b.WriteString(`layout_type, composition {product_placement, whitespace, text_area, aspect_ratio}, `)
	b.WriteString(`color_mood {temperature, dominant_colors, palette_name}, `)
	b.WriteString(`background {type, description, suggested_background}, lighting, `)
	b.WriteString(`text_overlay {has_text, text_style, text_position, text_purpose}, `)
	b.WriteString(`content_format, vibe_words, adaptation_notes`)
	if kind == domain.MediaKindVideo {
		b.WriteString(`, video_analysis {camera_motion, pacing, motion_type, motion_elements, audio_mood, recommended_duration, recommended_video_type, video_adaptation_notes}`)
	}
	b.WriteString(".\n")
	b.WriteString("layout_type is one of: flat-lay, on-model, close-up, lifestyle, styled-scene.\n")
	if kind == domain.MediaKindVideo {
		b.WriteString("recommended_video_type is one of: fabric-flow, close-up, lifestyle, reveal.\n")
	}
	if caption = strings.TrimSpace(caption); caption != "" {
		b.WriteString("Original caption for context: ")
		b.WriteString(caption)
		b.WriteString("\n")
	}
	return b.String()
}

// extractJSON strips a markdown code fence when the model wraps its output.
func extractJSON(text string) string {
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
	}
	return strings.TrimSpace(text)
}
