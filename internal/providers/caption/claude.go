package caption

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
	defaultModel   = "claude-sonnet-4-20250514"
	defaultTimeout = 60 * time.Second
)

// ClaudeOptions configures the caption writer.
type ClaudeOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	Fallback   pipeline.CaptionWriter
}

// Claude writes the caption package from the selected asset, the style brief,
// and the product's catalog story. Failures fall through to the configured
// fallback writer when one is set.
type Claude struct {
	apiKey   string
	model    string
	baseURL  string
	client   *http.Client
	fallback pipeline.CaptionWriter
}

func NewClaude(opts ClaudeOptions) (*Claude, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("anthropic api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Claude{
		apiKey:   strings.TrimSpace(opts.APIKey),
		model:    model,
		baseURL:  baseURL,
		client:   client,
		fallback: opts.Fallback,
	}, nil
}

var _ pipeline.CaptionWriter = (*Claude)(nil)

type messagesRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	Messages  []claudeTurn `json:"messages"`
	System    string       `json:"system,omitempty"`
}

type claudeTurn struct {
	Role    string        `json:"role"`
	Content []claudeBlock `json:"content"`
}

type claudeBlock struct {
	Type   string        `json:"type"`
	Text   string        `json:"text,omitempty"`
	Source *claudeSource `json:"source,omitempty"`
}

type claudeSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type captionPayload struct {
	Caption     string   `json:"caption"`
	Hashtags    []string `json:"hashtags"`
	AltText     string   `json:"alt_text"`
	OverlayText string   `json:"overlay_text"`
}

func (c *Claude) Write(ctx context.Context, selected []byte, brief *domain.StyleBrief, product *domain.Product) (*domain.CaptionPackage, error) {
	turn := claudeTurn{Role: "user"}
	if mediaType := sniffImage(selected); mediaType != "" {
		turn.Content = append(turn.Content, claudeBlock{
			Type: "image",
			Source: &claudeSource{
				Type:      "base64",
				MediaType: mediaType,
				Data:      base64.StdEncoding.EncodeToString(selected),
			},
		})
	}
	turn.Content = append(turn.Content, claudeBlock{Type: "text", Text: buildCaptionPrompt(brief, product)})

	payload := messagesRequest{
		Model:     c.model,
		MaxTokens: 1024,
		System:    "You write warm, concise social captions for handcrafted products. Respond with a single JSON object only.",
		Messages:  []claudeTurn{turn},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(req)
	if err != nil {
		return c.useFallback(ctx, selected, brief, product, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, pipeline.NewError(pipeline.CodeRateLimited, fmt.Errorf("anthropic status %d", resp.StatusCode))
	case resp.StatusCode >= http.StatusBadRequest:
		return c.useFallback(ctx, selected, brief, product, fmt.Errorf("anthropic status %d", resp.StatusCode))
	}

	var out messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return c.useFallback(ctx, selected, brief, product, err)
	}
	text := ""
	for _, block := range out.Content {
		if block.Type == "text" {
			text = strings.TrimSpace(block.Text)
			break
		}
	}
	if text == "" {
		return c.useFallback(ctx, selected, brief, product, errors.New("empty response"))
	}

	var parsed captionPayload
	if err := json.Unmarshal([]byte(extractJSON(text)), &parsed); err != nil {
		return c.useFallback(ctx, selected, brief, product, err)
	}
	if strings.TrimSpace(parsed.Caption) == "" {
		return c.useFallback(ctx, selected, brief, product, errors.New("blank caption"))
	}
	return &domain.CaptionPackage{
		Caption:     strings.TrimSpace(parsed.Caption),
		Hashtags:    joinHashtags(parsed.Hashtags),
		AltText:     strings.TrimSpace(parsed.AltText),
		OverlayText: strings.TrimSpace(parsed.OverlayText),
	}, nil
}

func (c *Claude) useFallback(ctx context.Context, selected []byte, brief *domain.StyleBrief, product *domain.Product, cause error) (*domain.CaptionPackage, error) {
	if c.fallback == nil {
		return nil, pipeline.NewError(pipeline.CodeTransientProvider, cause)
	}
	return c.fallback.Write(ctx, selected, brief, product)
}

func buildCaptionPrompt(brief *domain.StyleBrief, product *domain.Product) string {
	var b strings.Builder
	b.WriteString("Write a social caption package for this product image.\n")
	b.WriteString(`Respond with JSON keys: caption, hashtags (array of tags with #), alt_text, overlay_text.` + "\n")
	b.WriteString("The caption leads with the craft story, stays under 150 words, and ends with a soft call to action.\n")

	if product != nil {
		fmt.Fprintf(&b, "Product: %s (%s)\n", product.Name, product.Type)
		if product.Fabric != "" {
			fmt.Fprintf(&b, "Fabric: %s\n", product.Fabric)
		}
		if product.Motif != "" {
			fmt.Fprintf(&b, "Motif: %s\n", product.Motif)
		}
		if product.ArtisanName != "" {
			fmt.Fprintf(&b, "Made by: %s\n", product.ArtisanName)
		}
		if product.DaysToMake > 0 {
			fmt.Fprintf(&b, "Days to make: %d\n", product.DaysToMake)
		}
		if product.Technique != "" {
			fmt.Fprintf(&b, "Technique: %s\n", product.Technique)
		}
		if product.ShopURL != "" {
			fmt.Fprintf(&b, "Shop link: %s\n", product.ShopURL)
		}
	}
	if brief != nil {
		if len(brief.VibeWords) > 0 {
			fmt.Fprintf(&b, "Tone: %s\n", strings.Join(brief.VibeWords, ", "))
		}
		if brief.AdaptationNotes != "" {
			fmt.Fprintf(&b, "Notes: %s\n", brief.AdaptationNotes)
		}
	}
	return b.String()
}

func joinHashtags(tags []string) string {
	var cleaned []string
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if !strings.HasPrefix(tag, "#") {
			tag = "#" + tag
		}
		cleaned = append(cleaned, tag)
	}
	return strings.Join(cleaned, " ")
}

func sniffImage(data []byte) string {
	switch {
	case len(data) >= 8 && bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return "image/png"
	case len(data) >= 3 && bytes.HasPrefix(data, []byte("\xff\xd8\xff")):
		return "image/jpeg"
	default:
		return ""
	}
}

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
