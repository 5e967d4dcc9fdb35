package domain

// Composition describes where the product sits in frame and how much room the
// layout leaves for text.
type Composition struct {
	ProductPlacement string `json:"product_placement"`
	Whitespace       string `json:"whitespace"`
	TextArea         string `json:"text_area"`
	AspectRatio      string `json:"aspect_ratio"`
}

// ColorMood captures the reference's palette.
type ColorMood struct {
	Temperature    string   `json:"temperature"`
	DominantColors []string `json:"dominant_colors"`
	PaletteName    string   `json:"palette_name"`
}

// BackgroundSpec suggests the staging for the product.
type BackgroundSpec struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Suggested   string `json:"suggested_background"`
}

// TextOverlaySpec describes any text baked into the generated asset.
type TextOverlaySpec struct {
	HasText  string `json:"has_text"`
	Style    string `json:"text_style"`
	Position string `json:"text_position"`
	Purpose  string `json:"text_purpose"`
}

// VideoAnalysis carries the video-only fields of a brief; nil for image jobs.
type VideoAnalysis struct {
	CameraMotion        string `json:"camera_motion"`
	Pacing              string `json:"pacing"`
	MotionType          string `json:"motion_type"`
	MotionElements      string `json:"motion_elements"`
	AudioMood           string `json:"audio_mood"`
	RecommendedDuration int    `json:"recommended_duration"`
	RecommendedType     string `json:"recommended_video_type"`
	AdaptationNotes     string `json:"video_adaptation_notes"`
}

// StyleBrief is the structured analysis of the reference consumed by every
// generation stage. Produced once per job; re-derived only on redo.
type StyleBrief struct {
	LayoutType      string          `json:"layout_type"`
	Composition     Composition     `json:"composition"`
	ColorMood       ColorMood       `json:"color_mood"`
	Background      BackgroundSpec  `json:"background"`
	Lighting        string          `json:"lighting"`
	TextOverlay     TextOverlaySpec `json:"text_overlay"`
	ContentFormat   string          `json:"content_format"`
	VibeWords       []string        `json:"vibe_words"`
	AdaptationNotes string          `json:"adaptation_notes"`
	Video           *VideoAnalysis  `json:"video_analysis,omitempty"`
}
