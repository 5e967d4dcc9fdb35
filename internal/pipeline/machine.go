package pipeline

import (
	"fmt"

	"postpilot/internal/domain"
)

// allowedTransitions is the closed transition table for job status. Terminal
// states have no exits; operator resets clone the job instead of mutating it.
var allowedTransitions = map[domain.JobStatus][]domain.JobStatus{
	domain.JobStatusDraft: {
		domain.JobStatusDownloading, domain.JobStatusCancelled, domain.JobStatusFailed,
	},
	domain.JobStatusDownloading: {
		// downloading -> draft re-parks a job whose media kind could not be
		// resolved; it waits for an explicit user choice.
		domain.JobStatusAnalyzing, domain.JobStatusDraft,
		domain.JobStatusFailed, domain.JobStatusCancelled,
	},
	domain.JobStatusAnalyzing: {
		domain.JobStatusStyling, domain.JobStatusFailed, domain.JobStatusCancelled,
	},
	domain.JobStatusStyling: {
		domain.JobStatusAwaitingSelection, domain.JobStatusNeedsReview, domain.JobStatusStyling,
		domain.JobStatusFailed, domain.JobStatusCancelled,
	},
	domain.JobStatusNeedsReview: {
		domain.JobStatusStyling, domain.JobStatusAwaitingSelection, domain.JobStatusCaptioning,
		domain.JobStatusFailed, domain.JobStatusCancelled,
	},
	domain.JobStatusAwaitingSelection: {
		domain.JobStatusGeneratingVideo, domain.JobStatusCaptioning, domain.JobStatusStyling,
		domain.JobStatusFailed, domain.JobStatusCancelled,
	},
	domain.JobStatusGeneratingVideo: {
		domain.JobStatusAwaitingSelection, domain.JobStatusNeedsReview, domain.JobStatusCaptioning,
		domain.JobStatusAwaitingApproval, domain.JobStatusFailed, domain.JobStatusCancelled,
	},
	domain.JobStatusCaptioning: {
		domain.JobStatusAwaitingApproval, domain.JobStatusFailed, domain.JobStatusCancelled,
	},
	domain.JobStatusAwaitingApproval: {
		domain.JobStatusPosting, domain.JobStatusScheduled, domain.JobStatusCaptioning,
		domain.JobStatusStyling, domain.JobStatusGeneratingVideo,
		domain.JobStatusFailed, domain.JobStatusCancelled,
	},
	domain.JobStatusScheduled: {
		domain.JobStatusPosting, domain.JobStatusAwaitingApproval, domain.JobStatusCancelled,
	},
	domain.JobStatusPosting: {
		domain.JobStatusPosted, domain.JobStatusAwaitingApproval, domain.JobStatusCancelled,
	},
	domain.JobStatusPosted:    {},
	domain.JobStatusFailed:    {},
	domain.JobStatusCancelled: {},
}

// CanTransition reports whether current may move to target.
func CanTransition(current, target domain.JobStatus) bool {
	for _, allowed := range allowedTransitions[current] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Transition moves the job to target after checking the transition table.
// It only mutates the in-memory job; persisting is the caller's concern.
func Transition(job *domain.Job, target domain.JobStatus) error {
	if !CanTransition(job.Status, target) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, job.Status, target)
	}
	job.Status = target
	return nil
}

// GuardPosting enforces the publish preconditions: a selected variant with a
// passing (or explicitly overridden) gate verdict, and no prior publish.
func GuardPosting(job *domain.Job, selected *domain.Variant, overridden bool) error {
	if job.Published() {
		return domain.ErrAlreadyPublished
	}
	if selected == nil || job.SelectedVariant == "" {
		return fmt.Errorf("%w: no variant selected", domain.ErrInvalidSelection)
	}
	switch selected.Gate.Verdict {
	case domain.VerdictPass:
	case domain.VerdictNeedsReview:
		if !overridden {
			return fmt.Errorf("%w: flagged variant requires explicit override", domain.ErrInvalidSelection)
		}
	default:
		return fmt.Errorf("%w: failed variant is never postable", domain.ErrInvalidSelection)
	}
	return nil
}
