package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"postpilot/internal/domain"
	"postpilot/internal/pipeline"
)

const defaultTimeout = 120 * time.Second

// MetaOptions configures the Instagram Graph publisher.
type MetaOptions struct {
	AccessToken string
	AccountID   string
	BaseURL     string
	AssetBase   string
	HTTPClient  *http.Client
}

// Meta publishes through the Instagram Graph API two-step flow: create a
// media container, then publish it. The idempotency key travels on both calls
// so a retried attempt after an ambiguous failure cannot double-post.
type Meta struct {
	accessToken string
	accountID   string
	baseURL     string
	assetBase   string
	client      *http.Client
}

func NewMeta(opts MetaOptions) (*Meta, error) {
	if strings.TrimSpace(opts.AccessToken) == "" {
		return nil, errors.New("meta access token is required")
	}
	if strings.TrimSpace(opts.AccountID) == "" {
		return nil, errors.New("meta account id is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://graph.facebook.com/v21.0"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Meta{
		accessToken: strings.TrimSpace(opts.AccessToken),
		accountID:   strings.TrimSpace(opts.AccountID),
		baseURL:     baseURL,
		assetBase:   strings.TrimRight(opts.AssetBase, "/"),
		client:      client,
	}, nil
}

var _ pipeline.Publisher = (*Meta)(nil)

type containerResponse struct {
	ID    string     `json:"id"`
	Error *graphFail `json:"error"`
}

type publishResponse struct {
	ID        string     `json:"id"`
	Permalink string     `json:"permalink"`
	Error     *graphFail `json:"error"`
}

type graphFail struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (m *Meta) Publish(ctx context.Context, req pipeline.PublishRequest) (*pipeline.PublishResult, error) {
	if len(req.AssetKeys) == 0 && len(req.AssetURLs) == 0 {
		return nil, pipeline.NewError(pipeline.CodeInternal, errors.New("nothing to publish"))
	}

	form := url.Values{}
	form.Set("caption", req.Caption)
	form.Set("idempotency_key", req.IdempotencyKey)
	if req.AltText != "" {
		form.Set("alt_text", req.AltText)
	}
	switch req.MediaKind {
	case domain.MediaKindVideo:
		form.Set("media_type", "REELS")
		form.Set("video_url", m.assetURL(req, 0))
	default:
		form.Set("image_url", m.assetURL(req, 0))
	}

	var container containerResponse
	if err := m.post(ctx, fmt.Sprintf("/%s/media", m.accountID), form, &container); err != nil {
		return nil, err
	}
	if container.ID == "" {
		return nil, pipeline.NewError(pipeline.CodePublishFailed, errors.New("no container id returned"))
	}

	publishForm := url.Values{}
	publishForm.Set("creation_id", container.ID)
	publishForm.Set("idempotency_key", req.IdempotencyKey)

	var published publishResponse
	if err := m.post(ctx, fmt.Sprintf("/%s/media_publish", m.accountID), publishForm, &published); err != nil {
		return nil, err
	}
	if published.ID == "" {
		return nil, pipeline.NewError(pipeline.CodePublishFailed, errors.New("no post id returned"))
	}

	permalink := published.Permalink
	if permalink == "" {
		permalink = fmt.Sprintf("https://www.instagram.com/p/%s/", published.ID)
	}
	return &pipeline.PublishResult{ExternalPostID: published.ID, Permalink: permalink}, nil
}

func (m *Meta) post(ctx context.Context, path string, form url.Values, out any) error {
	form.Set("access_token", m.accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return pipeline.NewError(pipeline.CodeTransientProvider, fmt.Errorf("invoke graph api: %w", err))
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pipeline.NewError(pipeline.CodeTransientProvider, fmt.Errorf("decode graph response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return pipeline.NewError(pipeline.CodeRateLimited, fmt.Errorf("graph status %d", resp.StatusCode))
	case resp.StatusCode >= http.StatusInternalServerError:
		return pipeline.NewError(pipeline.CodeTransientProvider, fmt.Errorf("graph status %d", resp.StatusCode))
	case resp.StatusCode >= http.StatusBadRequest:
		detail := ""
		if fail := extractFail(out); fail != nil {
			detail = fail.Message
		}
		return pipeline.NewError(pipeline.CodePublishFailed, fmt.Errorf("graph status %d: %s", resp.StatusCode, detail))
	}
	return nil
}

func extractFail(out any) *graphFail {
	switch t := out.(type) {
	case *containerResponse:
		return t.Error
	case *publishResponse:
		return t.Error
	default:
		return nil
	}
}

// assetURL maps a storage key onto the public URL the Graph API fetches media
// from; explicit URLs on the request win.
func (m *Meta) assetURL(req pipeline.PublishRequest, i int) string {
	if i < len(req.AssetURLs) && req.AssetURLs[i] != "" {
		return req.AssetURLs[i]
	}
	if i < len(req.AssetKeys) && m.assetBase != "" {
		return m.assetBase + "/" + strings.TrimLeft(req.AssetKeys[i], "/")
	}
	return ""
}
