package pipeline

import (
	"fmt"
	"strings"

	"postpilot/internal/domain"
)

// Motion preset prompts per video type. The type is taken from the brief's
// video analysis when present, otherwise inferred from the layout.
var motionPresets = map[string]string{
	"fabric-flow": "Gentle breeze causes the fabric to flow and billow softly. " +
		"Loose edges lift and catch light, revealing texture and detail. " +
		"Camera slowly pans across the product.",
	"close-up": "Slow cinematic zoom into the product's surface detail, then a " +
		"slower pull back to show the full piece.",
	"lifestyle": "A person wearing the product takes a slow step forward, the " +
		"material moving naturally. Warm lighting, shallow depth of field.",
	"reveal": "The product starts flat, then is slowly lifted by an unseen " +
		"hand, unfurling to show its full drape. Studio lighting.",
}

// Motion constraints per type keep movement realistic; the protected product
// region must stay stable.
var motionConstraints = map[string]string{
	"fabric-flow": "Only edges and loose material move; the core product area stays stable. Movement like a gentle indoor breeze.",
	"close-up":    "Camera movement only; the product itself remains completely still. Details become more visible, never blurred.",
	"lifestyle":   "Slow deliberate movement that showcases the drape without obscuring the product.",
	"reveal":      "The lift feels like real hands on real material, with weight. No stretching or warping.",
}

var videoVariationModifiers = []string{
	"Use slow, gentle camera movement. Dreamy and meditative pacing.",
	"Slightly more dynamic motion with a smooth tracking move.",
}

// BuildMotionPrompt renders a video generation prompt from the style brief.
// A nil brief yields the conservative default preset, used as the fallback
// request after a provider failure.
func BuildMotionPrompt(brief *domain.StyleBrief) string {
	videoType := "fabric-flow"
	camera := "slow-pan"
	pacing := "slow-dreamy"
	notes := "Showcase the product's detail with subtle, elegant motion."
	vibe := "elegant, luxurious, handcrafted"

	if brief != nil {
		if brief.Video != nil && brief.Video.RecommendedType != "" {
			videoType = brief.Video.RecommendedType
		} else {
			switch brief.LayoutType {
			case "close-up":
				videoType = "close-up"
			case "on-model", "lifestyle":
				videoType = "lifestyle"
			case "flat-lay":
				videoType = "reveal"
			}
		}
		if brief.Video != nil {
			if brief.Video.CameraMotion != "" {
				camera = brief.Video.CameraMotion
			}
			if brief.Video.Pacing != "" {
				pacing = brief.Video.Pacing
			}
			if brief.Video.AdaptationNotes != "" {
				notes = brief.Video.AdaptationNotes
			}
		}
		if len(brief.VibeWords) > 0 {
			vibe = strings.Join(brief.VibeWords, ", ")
		}
	}

	base, ok := motionPresets[videoType]
	if !ok {
		base = motionPresets["fabric-flow"]
	}
	constraints := motionConstraints[videoType]
	if constraints == "" {
		constraints = motionConstraints["fabric-flow"]
	}

	return fmt.Sprintf("%s\n\nCONSTRAINTS: %s\nCAMERA: %s\nPACING: %s\nVIBE: %s\nNOTES: %s",
		base, constraints, camera, pacing, vibe, notes)
}
