package domain

import "time"

// GateVerdict is the quality gate's categorical output for one variant.
type GateVerdict string

const (
	VerdictPass        GateVerdict = "pass"
	VerdictNeedsReview GateVerdict = "needs_review"
	VerdictFail        GateVerdict = "fail"
)

// GateResult pairs a structural-similarity score with its verdict.
type GateResult struct {
	Score   float64
	Verdict GateVerdict
}

// Selectable reports whether a variant carrying this result may be chosen by
// the user. Failed and unresolved flagged variants are never selectable.
func (g GateResult) Selectable() bool {
	return g.Verdict == VerdictPass
}

// Variant is one candidate generated asset within a round.
type Variant struct {
	ID         string
	RoundID    string
	Index      int
	AssetKey   string
	PreviewURL string
	GenParams  string
	Gate       GateResult
	CreatedAt  time.Time
}

// Round is one batch of N candidates produced by a single generation attempt.
// Carousel jobs run one round per subject asset, all sharing the job's style
// brief.
type Round struct {
	ID           string
	JobID        string
	Stage        Stage
	SubjectIndex int
	Requested    int
	Constrained  bool
	Superseded   bool
	SelectedID   string
	Variants     []Variant
	CreatedAt    time.Time
}

// VariantByIndex returns the variant with the given 1-based index, or nil.
func (r *Round) VariantByIndex(index int) *Variant {
	for i := range r.Variants {
		if r.Variants[i].Index == index {
			return &r.Variants[i]
		}
	}
	return nil
}

// Shortfall reports how many requested candidates the round is missing.
func (r *Round) Shortfall() int {
	if missing := r.Requested - len(r.Variants); missing > 0 {
		return missing
	}
	return 0
}

// HasPassing reports whether at least one variant cleared the gate.
func (r *Round) HasPassing() bool {
	for i := range r.Variants {
		if r.Variants[i].Gate.Verdict == VerdictPass {
			return true
		}
	}
	return false
}
