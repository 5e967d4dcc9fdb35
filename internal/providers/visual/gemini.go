package visual

import (
	"context"
	"fmt"
	"strings"

	"postpilot/internal/pipeline"
	"postpilot/internal/providers/genai"
)

const defaultModel = "gemini-2.5-flash-image"

// Gemini generates styled product candidates from a subject photo and a
// reference image. The subject photo is always the first content part so the
// model treats it as the thing being staged, not the thing being invented.
type Gemini struct {
	client *genai.Client
	model  string
}

func NewGemini(client *genai.Client, model string) *Gemini {
	if strings.TrimSpace(model) == "" {
		model = defaultModel
	}
	return &Gemini{client: client, model: model}
}

var _ pipeline.VisualGenerator = (*Gemini)(nil)

func (g *Gemini) Generate(ctx context.Context, req pipeline.VisualRequest) (*pipeline.GeneratedAsset, error) {
	parts := []genai.Part{
		genai.ImagePart("image/png", req.Subject),
	}
	if len(req.Reference) > 0 {
		parts = append(parts, genai.ImagePart("image/jpeg", req.Reference))
	}
	parts = append(parts, genai.Part{Text: buildPrompt(req)})

	result, err := g.client.GenerateContent(ctx, g.model, parts, true)
	if err != nil {
		return nil, err
	}
	if len(result.Data) == 0 {
		return nil, pipeline.NewError(pipeline.CodeTransientProvider, fmt.Errorf("model %s returned text only", g.model))
	}
	mime := result.MIME
	if mime == "" {
		mime = "image/png"
	}
	return &pipeline.GeneratedAsset{Data: result.Data, MIME: mime}, nil
}

// buildPrompt renders the staging instructions. The first image is the real
// product and must survive untouched; only background, lighting, and staging
// follow the reference.
func buildPrompt(req pipeline.VisualRequest) string {
	var b strings.Builder
	b.WriteString("The first image is a real product photo. Recreate it in the visual style of the second image.\n")
	b.WriteString("PRESERVE THE PRODUCT EXACTLY: its shape, colors, pattern, and texture must not change.\n")
	b.WriteString("Only restage the background, lighting, and composition.\n")

	if brief := req.Brief; brief != nil {
		writeLine(&b, "Layout", brief.LayoutType)
		writeLine(&b, "Background", firstNonEmpty(brief.Background.Suggested, brief.Background.Description))
		writeLine(&b, "Lighting", brief.Lighting)
		writeLine(&b, "Palette", strings.Join(brief.ColorMood.DominantColors, ", "))
		writeLine(&b, "Mood", strings.Join(brief.VibeWords, ", "))
		writeLine(&b, "Notes", brief.AdaptationNotes)
	}
	writeLine(&b, "Variation", req.VariationHint)
	writeLine(&b, "Aspect ratio", req.AspectRatio)
	if req.SingleFrame {
		b.WriteString("Compose this as the opening frame of a short vertical video: leave motion headroom, no text overlay.\n")
	}
	if req.Constrained {
		b.WriteString("STRICT MODE: change as little as possible beyond the background. When in doubt, keep the original product pixels.\n")
	}
	return b.String()
}

func writeLine(b *strings.Builder, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, value)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
