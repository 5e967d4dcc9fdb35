package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"postpilot/internal/domain"
)

// VariantManager tracks candidate rounds, records gate results, and applies
// user selections. A round is the atomic unit of "N candidates, pick one, or
// discard all".
type VariantManager struct {
	store Store
}

func NewVariantManager(store Store) *VariantManager {
	return &VariantManager{store: store}
}

// StartRound opens a fresh round of n requested candidates for one subject
// asset. Carousel jobs call this once per subject, all rounds sharing the
// job's style brief.
func (m *VariantManager) StartRound(ctx context.Context, job *domain.Job, stage domain.Stage, subjectIndex, n int, constrained bool) (*domain.Round, error) {
	round := &domain.Round{
		ID:           uuid.NewString(),
		JobID:        job.ID,
		Stage:        stage,
		SubjectIndex: subjectIndex,
		Requested:    n,
		Constrained:  constrained,
		CreatedAt:    time.Now().UTC(),
	}
	if err := m.store.CreateRound(ctx, round); err != nil {
		return nil, fmt.Errorf("create round: %w", err)
	}
	job.CurrentRoundID = round.ID
	return round, nil
}

// RecordVariant appends one gated candidate to the round.
func (m *VariantManager) RecordVariant(ctx context.Context, round *domain.Round, assetKey, previewURL, genParams string, gate domain.GateResult) (*domain.Variant, error) {
	v := &domain.Variant{
		ID:         uuid.NewString(),
		RoundID:    round.ID,
		Index:      len(round.Variants) + 1,
		AssetKey:   assetKey,
		PreviewURL: previewURL,
		GenParams:  genParams,
		Gate:       gate,
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.store.AddVariant(ctx, v); err != nil {
		return nil, fmt.Errorf("record variant: %w", err)
	}
	round.Variants = append(round.Variants, *v)
	return v, nil
}

// Select applies the user's numeric choice to the first unselected round of
// the current generation. Selecting outside the current round, or selecting a
// failed variant, is rejected. A flagged variant is selectable only when
// allowFlagged is set (the explicit human override after review).
func (m *VariantManager) Select(ctx context.Context, job *domain.Job, index int, allowFlagged bool) (*domain.Variant, error) {
	rounds, err := m.store.CurrentRounds(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("load rounds: %w", err)
	}
	if len(rounds) == 0 {
		return nil, fmt.Errorf("%w: no round in progress", domain.ErrInvalidSelection)
	}

	var target *domain.Round
	for i := range rounds {
		if rounds[i].SelectedID == "" {
			target = &rounds[i]
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("%w: every round already has a selection", domain.ErrInvalidSelection)
	}

	v := target.VariantByIndex(index)
	if v == nil {
		return nil, fmt.Errorf("%w: no variant %d in the current round", domain.ErrInvalidSelection, index)
	}
	switch v.Gate.Verdict {
	case domain.VerdictPass:
	case domain.VerdictNeedsReview:
		if !allowFlagged {
			return nil, fmt.Errorf("%w: variant %d is flagged for review", domain.ErrInvalidSelection, index)
		}
	default:
		return nil, fmt.Errorf("%w: variant %d failed the quality gate", domain.ErrInvalidSelection, index)
	}

	if err := m.store.SetRoundSelection(ctx, target.ID, v.ID); err != nil {
		return nil, fmt.Errorf("persist selection: %w", err)
	}
	target.SelectedID = v.ID
	job.SelectedVariant = v.ID
	return v, nil
}

// SelectionComplete reports whether every current round has a selected
// variant; carousel jobs advance to captioning only once this holds.
func (m *VariantManager) SelectionComplete(ctx context.Context, jobID string) (bool, error) {
	rounds, err := m.store.CurrentRounds(ctx, jobID)
	if err != nil {
		return false, err
	}
	if len(rounds) == 0 {
		return false, nil
	}
	for i := range rounds {
		if rounds[i].SelectedID == "" {
			return false, nil
		}
	}
	return true, nil
}

// Discard supersedes every current round ahead of a redo. Assets stay in
// durable storage; the rounds just stop being selectable.
func (m *VariantManager) Discard(ctx context.Context, job *domain.Job) error {
	if err := m.store.SupersedeRounds(ctx, job.ID); err != nil {
		return fmt.Errorf("supersede rounds: %w", err)
	}
	job.CurrentRoundID = ""
	job.SelectedVariant = ""
	return nil
}

// SelectedVariant resolves the job's selected variant from the current rounds.
func (m *VariantManager) SelectedVariant(ctx context.Context, job *domain.Job) (*domain.Variant, error) {
	if job.SelectedVariant == "" {
		return nil, fmt.Errorf("%w: nothing selected", domain.ErrInvalidSelection)
	}
	rounds, err := m.store.CurrentRounds(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	for i := range rounds {
		for j := range rounds[i].Variants {
			if rounds[i].Variants[j].ID == job.SelectedVariant {
				return &rounds[i].Variants[j], nil
			}
		}
	}
	// Selections from superseded rounds are never re-resolvable.
	return nil, fmt.Errorf("%w: selection no longer current", domain.ErrStaleRound)
}
