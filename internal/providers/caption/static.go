package caption

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"postpilot/internal/domain"
	"postpilot/internal/pipeline"
)

// Static assembles a serviceable caption from catalog data alone, used when
// the model-backed writer is unavailable. Output is deterministic.
type Static struct {
	titler cases.Caser
}

func NewStatic() *Static {
	return &Static{titler: cases.Title(language.English)}
}

var _ pipeline.CaptionWriter = (*Static)(nil)

func (s *Static) Write(_ context.Context, _ []byte, brief *domain.StyleBrief, product *domain.Product) (*domain.CaptionPackage, error) {
	name := "this piece"
	alt := "A handcrafted product staged for a social post."
	var tags []string

	if product != nil {
		if product.Name != "" {
			name = s.titler.String(product.Name)
			alt = fmt.Sprintf("%s staged for a social post.", name)
		}
		if product.Fabric != "" {
			tags = append(tags, "#"+slugTag(product.Fabric))
		}
		if product.Type != "" {
			tags = append(tags, "#"+slugTag(product.Type))
		}
	}
	tags = append(tags, "#handmade", "#slowfashion")

	var b strings.Builder
	fmt.Fprintf(&b, "%s, made by hand", name)
	if product != nil && product.ArtisanName != "" {
		fmt.Fprintf(&b, " by %s", product.ArtisanName)
	}
	if product != nil && product.DaysToMake > 0 {
		fmt.Fprintf(&b, " over %d days", product.DaysToMake)
	}
	b.WriteString(".")
	if product != nil && product.ShopURL != "" {
		b.WriteString(" Find it through the link in bio.")
	}

	return &domain.CaptionPackage{
		Caption:  b.String(),
		Hashtags: strings.Join(tags, " "),
		AltText:  alt,
	}, nil
}

func slugTag(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(s, " ", "")
}
