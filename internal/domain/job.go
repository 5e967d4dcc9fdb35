package domain

import "time"

// MediaKind enumerates the two pipeline variants a job can run.
type MediaKind string

const (
	MediaKindImage   MediaKind = "image"
	MediaKindVideo   MediaKind = "video"
	MediaKindUnknown MediaKind = "unknown"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusDraft             JobStatus = "draft"
	JobStatusDownloading       JobStatus = "downloading"
	JobStatusAnalyzing         JobStatus = "analyzing"
	JobStatusStyling           JobStatus = "styling"
	JobStatusGeneratingVideo   JobStatus = "generating_video"
	JobStatusNeedsReview       JobStatus = "needs_review"
	JobStatusAwaitingSelection JobStatus = "awaiting_selection"
	JobStatusCaptioning        JobStatus = "captioning"
	JobStatusAwaitingApproval  JobStatus = "awaiting_approval"
	JobStatusScheduled         JobStatus = "scheduled"
	JobStatusPosting           JobStatus = "posting"
	JobStatusPosted            JobStatus = "posted"
	JobStatusFailed            JobStatus = "failed"
	JobStatusCancelled         JobStatus = "cancelled"
)

// Terminal reports whether the status absorbs the job: no stage may run and
// no command may move it except an operator reset.
func (s JobStatus) Terminal() bool {
	return s == JobStatusPosted || s == JobStatusFailed || s == JobStatusCancelled
}

// Stage enumerates the pipeline stages driven by the executor.
type Stage string

const (
	StageDownload      Stage = "download"
	StageAnalyze       Stage = "analyze"
	StageStyle         Stage = "style"
	StageGenerateVideo Stage = "generate_video"
	StageCaption       Stage = "caption"
	StagePublish       Stage = "publish"
)

// Reference holds everything learned about the user's inspiration link.
type Reference struct {
	SourceURL    string
	AssetKey     string
	MIME         string
	Caption      string
	Hashtags     string
	DetectedKind MediaKind
}

// SubjectAsset is one real product photo. Subject assets are never mutated by
// any stage; generation only ever varies background and staging.
type SubjectAsset struct {
	Key      string
	URL      string
	Position int
}

// Job is one end-to-end request to turn a reference link plus product photos
// into a published post.
type Job struct {
	ID            string
	UserID        string
	ProductCode   string
	MediaKind     MediaKind
	KindOverride  bool
	Status        JobStatus
	Reference     Reference
	SubjectAssets []SubjectAsset
	StyleBrief    *StyleBrief
	Caption       *CaptionPackage

	CurrentRoundID  string
	SelectedVariant string
	ExtensionKeys   []string

	// Runnable marks the job as claimable by a worker; command handlers set
	// it to queue the next stage, the claim clears it atomically.
	Runnable         bool
	PendingExtension bool
	CaptionNote      string
	RedoHint         string

	RetryCounts map[Stage]int
	ErrorCode   string
	ErrorDetail string

	PublishKey   string
	PublishedRef string
	Permalink    string

	ScheduledAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Published reports whether the terminal success marker is set. A published
// job must never be posted again.
func (j *Job) Published() bool {
	return j.PublishedRef != ""
}

// RetryCount returns the attempt counter for a stage.
func (j *Job) RetryCount(stage Stage) int {
	if j.RetryCounts == nil {
		return 0
	}
	return j.RetryCounts[stage]
}

// BumpRetry increments the attempt counter for a stage and returns the new value.
func (j *Job) BumpRetry(stage Stage) int {
	if j.RetryCounts == nil {
		j.RetryCounts = make(map[Stage]int)
	}
	j.RetryCounts[stage]++
	return j.RetryCounts[stage]
}

// ClearRetry resets the counter after a stage succeeds.
func (j *Job) ClearRetry(stage Stage) {
	if j.RetryCounts != nil {
		delete(j.RetryCounts, stage)
	}
}
