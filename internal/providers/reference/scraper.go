package reference

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"postpilot/internal/pipeline"
)

const defaultTimeout = 90 * time.Second

// ScraperOptions configures the reference downloader.
type ScraperOptions struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// Scraper resolves Instagram and Pinterest links through a scraping API that
// returns the post's media plus its caption. Private and deleted posts are
// terminal failures with their own classification.
type Scraper struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewScraper(opts ScraperOptions) (*Scraper, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("scraper api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("scraper base url is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Scraper{
		apiKey:  strings.TrimSpace(opts.APIKey),
		baseURL: baseURL,
		client:  client,
	}, nil
}

var _ pipeline.ReferenceDownloader = (*Scraper)(nil)

type scrapeResponse struct {
	MediaURL    string `json:"media_url"`
	MediaBase64 string `json:"media_base64"`
	MimeType    string `json:"mime_type"`
	Caption     string `json:"caption"`
	Hashtags    string `json:"hashtags"`
	IsPrivate   bool   `json:"is_private"`
	Error       string `json:"error"`
}

func (s *Scraper) Fetch(ctx context.Context, sourceURL string) (*pipeline.DownloadedReference, error) {
	endpoint := fmt.Sprintf("%s/scrape?url=%s", s.baseURL, url.QueryEscape(sourceURL))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, pipeline.NewError(pipeline.CodeTransientProvider, fmt.Errorf("invoke scraper: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusUnauthorized:
		return nil, pipeline.NewError(pipeline.CodePrivateOrMissing, fmt.Errorf("scraper status %d for %s", resp.StatusCode, sourceURL))
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, pipeline.NewError(pipeline.CodeRateLimited, fmt.Errorf("scraper status %d", resp.StatusCode))
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, pipeline.NewError(pipeline.CodeTransientProvider, fmt.Errorf("scraper status %d", resp.StatusCode))
	}

	var out scrapeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, pipeline.NewError(pipeline.CodeTransientProvider, fmt.Errorf("decode scrape response: %w", err))
	}
	if out.IsPrivate {
		return nil, pipeline.NewError(pipeline.CodePrivateOrMissing, fmt.Errorf("post is private: %s", sourceURL))
	}
	if out.Error != "" {
		return nil, pipeline.NewError(pipeline.CodeTransientProvider, fmt.Errorf("scraper: %s", out.Error))
	}

	data, mime, err := s.resolveMedia(ctx, &out)
	if err != nil {
		return nil, err
	}
	return &pipeline.DownloadedReference{
		Data:     data,
		MIME:     mime,
		Caption:  out.Caption,
		Hashtags: out.Hashtags,
	}, nil
}

func (s *Scraper) resolveMedia(ctx context.Context, out *scrapeResponse) ([]byte, string, error) {
	if out.MediaBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(out.MediaBase64)
		if err != nil {
			return nil, "", pipeline.NewError(pipeline.CodeTransientProvider, fmt.Errorf("decode media payload: %w", err))
		}
		return data, out.MimeType, nil
	}
	if out.MediaURL == "" {
		return nil, "", pipeline.NewError(pipeline.CodeTransientProvider, errors.New("scrape response carried no media"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, out.MediaURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create media request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", pipeline.NewError(pipeline.CodeTransientProvider, fmt.Errorf("download media: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, "", pipeline.NewError(pipeline.CodeTransientProvider, fmt.Errorf("media status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read media: %w", err)
	}
	mime := out.MimeType
	if mime == "" {
		mime = resp.Header.Get("Content-Type")
	}
	return data, mime, nil
}
