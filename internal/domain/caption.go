package domain

// CaptionPackage is the full text bundle for a post. Regenerable independently
// of the selected visual asset.
type CaptionPackage struct {
	Caption     string `json:"caption"`
	Hashtags    string `json:"hashtags"`
	AltText     string `json:"alt_text"`
	OverlayText string `json:"overlay_text,omitempty"`
}
