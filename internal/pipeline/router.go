package pipeline

import (
	"net/url"
	"strings"

	"postpilot/internal/domain"
)

// Media routing combines three signals, strongest first: an explicit user
// phrase, the downloaded asset's MIME type, and the URL path pattern.

var videoOverridePhrases = []string{
	"make it a reel",
	"reel this",
	"make a reel",
	"reel instead",
	"want a video",
	"video",
}

var imageOverridePhrases = []string{
	"just the photo",
	"image only",
	"no video",
	"photo post",
	"static",
}

// DetectOverride reports an explicit media-kind override in the user's text.
func DetectOverride(text string) (domain.MediaKind, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return domain.MediaKindUnknown, false
	}
	// Image phrases are checked first: negations like "no video" must win
	// over the bare "video" trigger.
	for _, phrase := range imageOverridePhrases {
		if strings.Contains(lower, phrase) {
			return domain.MediaKindImage, true
		}
	}
	for _, phrase := range videoOverridePhrases {
		if strings.Contains(lower, phrase) {
			return domain.MediaKindVideo, true
		}
	}
	return domain.MediaKindUnknown, false
}

// DetectKindFromURL classifies a reference link by its path pattern alone.
func DetectKindFromURL(raw string) domain.MediaKind {
	parsed, err := url.Parse(raw)
	if err != nil {
		return domain.MediaKindUnknown
	}
	host := strings.ToLower(parsed.Hostname())
	path := strings.ToLower(parsed.Path)

	if strings.Contains(host, "instagram.com") {
		switch {
		case strings.Contains(path, "/reel/") || strings.Contains(path, "/reels/"):
			return domain.MediaKindVideo
		case strings.Contains(path, "/tv/"):
			// IGTV legacy paths are videos.
			return domain.MediaKindVideo
		case strings.Contains(path, "/p/"):
			return domain.MediaKindImage
		}
	}

	// Pinterest URLs carry no media hint; resolve after download via MIME.
	return domain.MediaKindUnknown
}

// KindFromMIME classifies a downloaded asset by its MIME type.
func KindFromMIME(mime string) domain.MediaKind {
	switch {
	case strings.HasPrefix(mime, "video/"):
		return domain.MediaKindVideo
	case strings.HasPrefix(mime, "image/"):
		return domain.MediaKindImage
	default:
		return domain.MediaKindUnknown
	}
}

// Classify resolves the job's media kind. MIME evidence from the downloaded
// asset is authoritative over the URL pattern; when neither decides, the
// result is unknown and the caller must ask the user rather than guess.
func Classify(rawURL, mime string) domain.MediaKind {
	if kind := KindFromMIME(mime); kind != domain.MediaKindUnknown {
		return kind
	}
	return DetectKindFromURL(rawURL)
}

// SupportedReferenceHost reports whether the link points at a platform the
// downloader can fetch from.
func SupportedReferenceHost(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	for _, known := range []string{"instagram.com", "pinterest.com", "pin.it"} {
		if host == known || strings.HasSuffix(host, "."+known) {
			return true
		}
	}
	return false
}
