package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postpilot/internal/domain"
)

func TestTransitionHappyPathImage(t *testing.T) {
	job := &domain.Job{Status: domain.JobStatusDraft}
	for _, next := range []domain.JobStatus{
		domain.JobStatusDownloading,
		domain.JobStatusAnalyzing,
		domain.JobStatusStyling,
		domain.JobStatusAwaitingSelection,
		domain.JobStatusCaptioning,
		domain.JobStatusAwaitingApproval,
		domain.JobStatusPosting,
		domain.JobStatusPosted,
	} {
		require.NoError(t, Transition(job, next))
	}
	assert.True(t, job.Status.Terminal())
}

func TestTransitionRejectsSkips(t *testing.T) {
	job := &domain.Job{Status: domain.JobStatusDraft}
	err := Transition(job, domain.JobStatusPosting)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, domain.JobStatusDraft, job.Status, "rejected transition must not mutate status")
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	all := []domain.JobStatus{
		domain.JobStatusDraft, domain.JobStatusDownloading, domain.JobStatusAnalyzing,
		domain.JobStatusStyling, domain.JobStatusGeneratingVideo, domain.JobStatusNeedsReview,
		domain.JobStatusAwaitingSelection, domain.JobStatusCaptioning, domain.JobStatusAwaitingApproval,
		domain.JobStatusScheduled, domain.JobStatusPosting, domain.JobStatusPosted,
		domain.JobStatusFailed, domain.JobStatusCancelled,
	}
	for _, terminal := range []domain.JobStatus{domain.JobStatusPosted, domain.JobStatusFailed, domain.JobStatusCancelled} {
		for _, target := range all {
			assert.False(t, CanTransition(terminal, target), "%s -> %s must be rejected", terminal, target)
		}
	}
}

func TestUnknownKindReparksToDraft(t *testing.T) {
	assert.True(t, CanTransition(domain.JobStatusDownloading, domain.JobStatusDraft))
}

func TestGuardPosting(t *testing.T) {
	pass := &domain.Variant{ID: "v1", Gate: domain.GateResult{Score: 0.9, Verdict: domain.VerdictPass}}
	flagged := &domain.Variant{ID: "v2", Gate: domain.GateResult{Score: 0.5, Verdict: domain.VerdictNeedsReview}}
	failed := &domain.Variant{ID: "v3", Gate: domain.GateResult{Score: 0, Verdict: domain.VerdictFail}}

	job := &domain.Job{Status: domain.JobStatusPosting, SelectedVariant: "v1"}
	assert.NoError(t, GuardPosting(job, pass, false))

	job.SelectedVariant = "v2"
	assert.ErrorIs(t, GuardPosting(job, flagged, false), domain.ErrInvalidSelection)
	assert.NoError(t, GuardPosting(job, flagged, true), "explicit override admits a flagged variant")

	job.SelectedVariant = "v3"
	assert.ErrorIs(t, GuardPosting(job, failed, true), domain.ErrInvalidSelection, "failed variants are never postable, even overridden")

	job.SelectedVariant = ""
	assert.ErrorIs(t, GuardPosting(job, nil, false), domain.ErrInvalidSelection)

	published := &domain.Job{Status: domain.JobStatusPosting, SelectedVariant: "v1", PublishedRef: "ig-1"}
	assert.ErrorIs(t, GuardPosting(published, pass, false), domain.ErrAlreadyPublished)
}
