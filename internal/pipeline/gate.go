package pipeline

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"

	"postpilot/internal/domain"
)

// Gate computes a structural-similarity score between the subject region of
// the original product photo and a generated asset. It is pure: identical
// inputs and threshold always produce the identical score and verdict.
//
// The metric is a heuristic safety net, not ground truth: a low score flags
// the variant for human review, it never silently discards it.
type Gate struct{}

const (
	gateCompareSize = 256

	// Standard SSIM stabilizers for 8-bit dynamic range.
	ssimC1 = 6.5025
	ssimC2 = 58.5225
)

// Evaluate scores generated against original at the given threshold. An
// undecodable generated asset is a hard fail with score zero; an undecodable
// original is a caller error.
func (Gate) Evaluate(original, generated []byte, threshold float64) (domain.GateResult, error) {
	orig, err := decodeGray(original)
	if err != nil {
		return domain.GateResult{}, fmt.Errorf("decode original asset: %w", err)
	}
	gen, err := decodeGray(generated)
	if err != nil {
		return domain.GateResult{Score: 0, Verdict: domain.VerdictFail}, nil
	}

	score := ssim(orig, gen)
	verdict := domain.VerdictNeedsReview
	if score >= threshold {
		verdict = domain.VerdictPass
	}
	return domain.GateResult{Score: score, Verdict: verdict}, nil
}

// decodeGray decodes the asset and normalizes it to a single-channel square
// of gateCompareSize so differently sized assets compare region to region.
func decodeGray(data []byte) (*image.Gray, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	gray := image.NewGray(image.Rect(0, 0, gateCompareSize, gateCompareSize))
	xdraw.BiLinear.Scale(gray, gray.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return gray, nil
}

// ssim computes a global structural-similarity index over the full normalized
// frames, clamped to [0,1].
func ssim(x, y *image.Gray) float64 {
	n := float64(gateCompareSize * gateCompareSize)

	var sumX, sumY float64
	for i := range x.Pix {
		sumX += float64(x.Pix[i])
		sumY += float64(y.Pix[i])
	}
	meanX := sumX / n
	meanY := sumY / n

	var varX, varY, cov float64
	for i := range x.Pix {
		dx := float64(x.Pix[i]) - meanX
		dy := float64(y.Pix[i]) - meanY
		varX += dx * dx
		varY += dy * dy
		cov += dx * dy
	}
	varX /= n
	varY /= n
	cov /= n

	numerator := (2*meanX*meanY + ssimC1) * (2*cov + ssimC2)
	denominator := (meanX*meanX + meanY*meanY + ssimC1) * (varX + varY + ssimC2)
	if denominator == 0 {
		return 0
	}
	score := numerator / denominator
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
