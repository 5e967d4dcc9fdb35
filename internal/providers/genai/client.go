package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"postpilot/internal/infra"
	"postpilot/internal/pipeline"
)

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client is a lightweight facade over the Gemini generateContent and
// long-running operation endpoints so providers can focus on translating
// domain requests into API payloads.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

func NewClient(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.Nop()
		logger = &discard
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: client,
		logger:     logger,
	}
}

// Part is one piece of multimodal request or response content.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

type InlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

// ImagePart wraps raw bytes as inline request content.
func ImagePart(mime string, data []byte) Part {
	return Part{InlineData: &InlineData{
		MimeType: mime,
		Data:     base64.StdEncoding.EncodeToString(data),
	}}
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
	ResponseMimeType   string   `json:"responseMimeType,omitempty"`
}

type generateContentRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

type generateContentResponse struct {
	Candidates []candidate `json:"candidates"`
}

type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Status  string `json:"status,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// Result is the normalized generateContent output.
type Result struct {
	Text   string
	Data   []byte
	MIME   string
	Frames [][]byte
}

// GenerateContent runs one synchronous multimodal generation against model.
// wantImage requests image response modality.
func (c *Client) GenerateContent(ctx context.Context, model string, parts []Part, wantImage bool) (*Result, error) {
	payload := generateContentRequest{
		Contents: []content{{Role: "user", Parts: parts}},
	}
	if wantImage {
		payload.GenerationConfig = &generationConfig{ResponseModalities: []string{"TEXT", "IMAGE"}}
	}

	var response generateContentResponse
	path := fmt.Sprintf("/models/%s:generateContent", url.PathEscape(model))
	if err := c.invoke(ctx, http.MethodPost, path, payload, &response); err != nil {
		return nil, err
	}

	result := &Result{}
	for _, cand := range response.Candidates {
		for _, part := range cand.Content.Parts {
			if part.Text != "" && result.Text == "" {
				result.Text = part.Text
			}
			if part.InlineData != nil && part.InlineData.Data != "" {
				data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					continue
				}
				if len(result.Data) == 0 {
					result.Data = data
					result.MIME = part.InlineData.MimeType
				}
				result.Frames = append(result.Frames, data)
			}
		}
	}
	if result.Text == "" && len(result.Data) == 0 {
		return nil, pipeline.NewError(pipeline.CodeTransientProvider, fmt.Errorf("model %s returned no content", model))
	}
	return result, nil
}

// Operation is one observation of a long-running generation.
type Operation struct {
	Name string `json:"name"`
	Done bool   `json:"done"`

	Response struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI            string `json:"uri"`
					EncodedVideo   string `json:"encodedVideo"`
					EncodedPoster  string `json:"encodedPoster"`
					MimeType       string `json:"mimeType"`
					PosterMimeType string `json:"posterMimeType"`
				} `json:"video"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	} `json:"response"`

	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// StartVideoOperation kicks off an async video generation and returns the
// operation name used for polling.
func (c *Client) StartVideoOperation(ctx context.Context, model string, payload any) (string, error) {
	var op Operation
	path := fmt.Sprintf("/models/%s:predictLongRunning", url.PathEscape(model))
	if err := c.invoke(ctx, http.MethodPost, path, payload, &op); err != nil {
		return "", err
	}
	if op.Name == "" {
		return "", pipeline.NewError(pipeline.CodeTransientProvider, fmt.Errorf("no operation name returned"))
	}
	return op.Name, nil
}

// GetOperation fetches the current state of an async operation.
func (c *Client) GetOperation(ctx context.Context, name string) (*Operation, error) {
	var op Operation
	if err := c.invoke(ctx, http.MethodGet, "/"+strings.TrimLeft(name, "/"), nil, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// Download fetches raw bytes from a file URI the API handed back.
func (c *Client) Download(ctx context.Context, uri string) ([]byte, string, error) {
	target := uri
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(uri, "/")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create download request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", pipeline.NewError(pipeline.CodeTransientProvider, fmt.Errorf("download %s: %w", uri, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, "", statusError(resp.StatusCode, "download")
	}
	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read download: %w", err)
	}
	return blob, resp.Header.Get("Content-Type"), nil
}

func (c *Client) invoke(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pipeline.NewError(pipeline.CodeTransientProvider, fmt.Errorf("invoke %s: %w", path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
			c.logger.Warn().Int("status", resp.StatusCode).Str("path", path).Str("message", apiErr.Error.Message).Msg("genai: api error")
			return statusErrorWithDetail(resp.StatusCode, apiErr.Error.Message)
		}
		return statusError(resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey == "" {
		return
	}
	q := req.URL.Query()
	q.Set("key", c.apiKey)
	req.URL.RawQuery = q.Encode()
}

func statusError(status int, context string) error {
	return statusErrorWithDetail(status, context)
}

func statusErrorWithDetail(status int, detail string) error {
	err := fmt.Errorf("status %d: %s", status, detail)
	switch {
	case status == http.StatusTooManyRequests:
		return pipeline.NewError(pipeline.CodeRateLimited, err)
	case status >= http.StatusInternalServerError:
		return pipeline.NewError(pipeline.CodeTransientProvider, err)
	default:
		return pipeline.NewError(pipeline.CodeInternal, err)
	}
}
