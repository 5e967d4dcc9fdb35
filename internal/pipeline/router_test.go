package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"postpilot/internal/domain"
)

func TestDetectOverride(t *testing.T) {
	tests := []struct {
		text string
		kind domain.MediaKind
		ok   bool
	}{
		{"make it a reel", domain.MediaKindVideo, true},
		{"Make It A Reel please", domain.MediaKindVideo, true},
		{"i want a video of this", domain.MediaKindVideo, true},
		{"just the photo", domain.MediaKindImage, true},
		{"no video please", domain.MediaKindImage, true},
		{"photo post", domain.MediaKindImage, true},
		{"here is my link", domain.MediaKindUnknown, false},
		{"", domain.MediaKindUnknown, false},
	}
	for _, tt := range tests {
		kind, ok := DetectOverride(tt.text)
		assert.Equal(t, tt.ok, ok, "text=%q", tt.text)
		assert.Equal(t, tt.kind, kind, "text=%q", tt.text)
	}
}

func TestDetectOverrideNegationBeatsVideoTrigger(t *testing.T) {
	// "no video" contains the bare "video" trigger; the negation must win.
	kind, ok := DetectOverride("no video, keep it simple")
	assert.True(t, ok)
	assert.Equal(t, domain.MediaKindImage, kind)
}

func TestDetectKindFromURL(t *testing.T) {
	tests := []struct {
		url  string
		kind domain.MediaKind
	}{
		{"https://www.instagram.com/reel/Cxyz123/", domain.MediaKindVideo},
		{"https://instagram.com/reels/Cxyz123/", domain.MediaKindVideo},
		{"https://instagram.com/tv/Cxyz123/", domain.MediaKindVideo},
		{"https://www.instagram.com/p/Cxyz123/", domain.MediaKindImage},
		{"https://pin.it/abc123", domain.MediaKindUnknown},
		{"https://www.pinterest.com/pin/12345/", domain.MediaKindUnknown},
		{"://bad url", domain.MediaKindUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.kind, DetectKindFromURL(tt.url), "url=%q", tt.url)
	}
}

func TestClassifyMIMEBeatsURL(t *testing.T) {
	// A /p/ URL that resolves to a video asset is a video job.
	kind := Classify("https://instagram.com/p/Cxyz123/", "video/mp4")
	assert.Equal(t, domain.MediaKindVideo, kind)

	// Without MIME evidence the URL pattern decides.
	kind = Classify("https://instagram.com/p/Cxyz123/", "")
	assert.Equal(t, domain.MediaKindImage, kind)

	// Neither signal: unknown, caller must ask.
	kind = Classify("https://pin.it/abc", "application/octet-stream")
	assert.Equal(t, domain.MediaKindUnknown, kind)
}

func TestSupportedReferenceHost(t *testing.T) {
	assert.True(t, SupportedReferenceHost("https://www.instagram.com/p/abc/"))
	assert.True(t, SupportedReferenceHost("https://pinterest.com/pin/1/"))
	assert.True(t, SupportedReferenceHost("https://pin.it/short"))
	assert.False(t, SupportedReferenceHost("https://tiktok.com/@user/video/1"))
	assert.False(t, SupportedReferenceHost("https://evilinstagram.com/p/abc/"))
	assert.False(t, SupportedReferenceHost("not a url"))
}
