package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"postpilot/internal/domain"
	"postpilot/internal/infra"
)

// Orchestrator owns the job lifecycle: it sequences stages through the
// executor, applies quality-gate policy, and exposes the command surface the
// approval flow drives. The command path never performs generation work
// inline; it only moves status and queues the next stage for a worker.
type Orchestrator struct {
	cfg       Config
	store     Store
	executor  *Executor
	variants  *VariantManager
	transport Transport
	catalog   ProductCatalog
	logger    infra.Logger
}

func NewOrchestrator(cfg Config, store Store, executor *Executor, transport Transport, catalog ProductCatalog, logger infra.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		store:     store,
		executor:  executor,
		variants:  executor.VariantManager(),
		transport: transport,
		catalog:   catalog,
		logger:    logger,
	}
}

// IntakeRequest is one submission from the approval transport.
type IntakeRequest struct {
	UserID      string
	SourceURL   string
	MessageText string
	ProductCode string
	PhotoKeys   []string
}

// Intake creates a new draft job, consuming one unit of the user's daily
// submission quota. Media kind is classified from the user's text override
// first, then the URL pattern; an unknown kind is allowed here because the
// downloaded asset's MIME type may still resolve it.
func (o *Orchestrator) Intake(ctx context.Context, req IntakeRequest) (*domain.Job, error) {
	kind := domain.MediaKindUnknown
	override := false
	if k, ok := DetectOverride(req.MessageText); ok {
		kind = k
		override = true
	} else {
		kind = DetectKindFromURL(req.SourceURL)
	}

	job := &domain.Job{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		MediaKind:    kind,
		KindOverride: override,
		ProductCode:  req.ProductCode,
		Status:       domain.JobStatusDraft,
		Reference:    domain.Reference{SourceURL: req.SourceURL},
		Runnable:     true,
		CreatedAt:    time.Now().UTC(),
	}
	for i, key := range req.PhotoKeys {
		job.SubjectAssets = append(job.SubjectAssets, domain.SubjectAsset{Key: key, Position: i})
	}
	if len(job.SubjectAssets) == 0 && req.ProductCode != "" && o.catalog != nil {
		product, err := o.catalog.ResolveProduct(ctx, req.ProductCode)
		if err != nil {
			return nil, fmt.Errorf("resolve product %s: %w", req.ProductCode, err)
		}
		job.SubjectAssets = domain.SubjectAssetsFromProduct(product)
	}
	if len(job.SubjectAssets) == 0 {
		return nil, fmt.Errorf("no product photo supplied or resolvable")
	}

	// Quota is consumed only once the submission is known to be viable; a
	// rejected intake must not burn one of the user's daily slots.
	if _, err := o.store.ConsumeDailyQuota(ctx, req.UserID, o.cfg.DailySubmissionQuota); err != nil {
		return nil, err
	}

	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	o.logger.Info().Str("job_id", job.ID).Str("user_id", job.UserID).Str("media_kind", string(job.MediaKind)).Msg("orchestrator: job created")
	return job, nil
}

// RunJob advances a claimed job until it parks (awaiting user input, scheduled,
// or terminal). Stages within one job are strictly sequential.
func (o *Orchestrator) RunJob(ctx context.Context, job *domain.Job) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var parked bool
		switch job.Status {
		case domain.JobStatusDraft:
			parked = o.stepDownload(ctx, job)
		case domain.JobStatusDownloading:
			// A crashed worker left the stage mid-flight; re-run it.
			parked = o.runDownloadStage(ctx, job)
		case domain.JobStatusAnalyzing:
			parked = o.runAnalyzeStage(ctx, job)
		case domain.JobStatusStyling:
			parked = o.runStyleStage(ctx, job)
		case domain.JobStatusGeneratingVideo:
			parked = o.runVideoStage(ctx, job)
		case domain.JobStatusCaptioning:
			parked = o.runCaptionStage(ctx, job)
		case domain.JobStatusScheduled:
			parked = o.stepScheduled(ctx, job)
		case domain.JobStatusPosting:
			parked = o.runPublishStage(ctx, job)
		default:
			return
		}
		if parked {
			return
		}
	}
}

func (o *Orchestrator) stepDownload(ctx context.Context, job *domain.Job) bool {
	if !o.enter(ctx, job, domain.JobStatusDownloading) {
		return true
	}
	return o.runDownloadStage(ctx, job)
}

func (o *Orchestrator) runDownloadStage(ctx context.Context, job *domain.Job) bool {
	out, perr := o.executor.Download(ctx, job)
	if perr != nil {
		return o.failStage(ctx, job, perr)
	}
	if o.discardIfStale(ctx, job, domain.JobStatusDownloading) {
		return true
	}
	job.Reference = out.Reference

	// The downloaded asset's MIME type is authoritative over the URL hint,
	// but never over an explicit user override.
	if !job.KindOverride {
		if kind := Classify(job.Reference.SourceURL, out.Reference.MIME); kind != domain.MediaKindUnknown {
			if kind != job.MediaKind && job.MediaKind != domain.MediaKindUnknown {
				o.logger.Info().Str("job_id", job.ID).
					Str("url_kind", string(job.MediaKind)).
					Str("mime_kind", string(kind)).
					Msg("orchestrator: media kind corrected from downloaded asset")
			}
			job.MediaKind = kind
		}
	}

	if job.MediaKind == domain.MediaKindUnknown {
		// Ambiguity must surface; never guess a pipeline.
		_ = Transition(job, domain.JobStatusDraft)
		job.Runnable = false
		o.persist(ctx, job)
		o.transport.SendText(ctx, job.UserID, "I can't tell whether that should be a photo post or a reel. Reply 'photo post' or 'make it a reel'.")
		return true
	}

	if !o.advance(ctx, job, domain.JobStatusAnalyzing) {
		return true
	}
	return false
}

func (o *Orchestrator) runAnalyzeStage(ctx context.Context, job *domain.Job) bool {
	brief, perr := o.executor.Analyze(ctx, job)
	if perr != nil {
		return o.failStage(ctx, job, perr)
	}
	if o.discardIfStale(ctx, job, domain.JobStatusAnalyzing) {
		return true
	}
	job.StyleBrief = brief
	if job.RedoHint != "" {
		job.StyleBrief.AdaptationNotes = fmt.Sprintf("%s\nUser direction: %s", brief.AdaptationNotes, job.RedoHint)
	}
	if !o.advance(ctx, job, domain.JobStatusStyling) {
		return true
	}
	return false
}

func (o *Orchestrator) runStyleStage(ctx context.Context, job *domain.Job) bool {
	rounds, perr := o.executor.StyleRound(ctx, job, false)
	if perr != nil {
		return o.failStage(ctx, job, perr)
	}
	if o.discardIfStale(ctx, job, domain.JobStatusStyling) {
		return true
	}

	if !anyPassing(rounds) {
		// One automatic regeneration under stricter constraints before any
		// human is asked to look at flagged output.
		o.transport.SendText(ctx, job.UserID, "The first attempt didn't preserve the product faithfully. Flagged, regenerating...")
		if err := o.variants.Discard(ctx, job); err != nil {
			return o.failStage(ctx, job, NewError(CodeInternal, err))
		}
		rounds, perr = o.executor.StyleRound(ctx, job, true)
		if perr != nil {
			return o.failStage(ctx, job, perr)
		}
		if o.discardIfStale(ctx, job, domain.JobStatusStyling) {
			return true
		}
		if !anyPassing(rounds) {
			if !o.advance(ctx, job, domain.JobStatusNeedsReview) {
				return true
			}
			o.transport.SendReview(ctx, job.UserID, job, rounds)
			o.transport.SendText(ctx, job.UserID, ClarifyPrompt(domain.JobStatusNeedsReview))
			return true
		}
	}

	if !o.advance(ctx, job, domain.JobStatusAwaitingSelection) {
		return true
	}
	o.transport.SendReview(ctx, job.UserID, job, rounds)
	if shortfall := totalShortfall(rounds); shortfall > 0 {
		o.transport.SendText(ctx, job.UserID, fmt.Sprintf("Heads up: %d fewer option(s) than planned this round.", shortfall))
	}
	return true
}

func (o *Orchestrator) runVideoStage(ctx context.Context, job *domain.Job) bool {
	if job.PendingExtension {
		return o.runExtension(ctx, job)
	}

	frame, err := o.variants.SelectedVariant(ctx, job)
	if err != nil {
		return o.failStage(ctx, job, NewError(CodeInternal, err))
	}
	round, perr := o.executor.GenerateVideoRound(ctx, job, frame)
	if perr != nil {
		return o.failStage(ctx, job, perr)
	}
	if o.discardIfStale(ctx, job, domain.JobStatusGeneratingVideo) {
		return true
	}
	job.SelectedVariant = ""
	if !o.advance(ctx, job, domain.JobStatusAwaitingSelection) {
		return true
	}
	o.transport.SendReview(ctx, job.UserID, job, []domain.Round{*round})
	return true
}

func (o *Orchestrator) runExtension(ctx context.Context, job *domain.Job) bool {
	selected, err := o.variants.SelectedVariant(ctx, job)
	if err != nil {
		return o.failStage(ctx, job, NewError(CodeInternal, err))
	}
	key, perr := o.executor.Extend(ctx, job, selected)
	if perr != nil {
		return o.failStage(ctx, job, perr)
	}
	if o.discardIfStale(ctx, job, domain.JobStatusGeneratingVideo) {
		return true
	}
	job.ExtensionKeys = append(job.ExtensionKeys, key)
	job.PendingExtension = false
	if !o.advance(ctx, job, domain.JobStatusAwaitingApproval) {
		return true
	}
	o.transport.SendText(ctx, job.UserID, "Extended the clip by one more scene. Reply 'approve' or 'extend' again.")
	return true
}

func (o *Orchestrator) runCaptionStage(ctx context.Context, job *domain.Job) bool {
	selected, err := o.variants.SelectedVariant(ctx, job)
	if err != nil {
		return o.failStage(ctx, job, NewError(CodeInternal, err))
	}
	pkg, perr := o.executor.WriteCaption(ctx, job, selected, job.CaptionNote)
	if perr != nil {
		return o.failStage(ctx, job, perr)
	}
	if o.discardIfStale(ctx, job, domain.JobStatusCaptioning) {
		return true
	}
	job.Caption = pkg
	job.CaptionNote = ""
	if !o.advance(ctx, job, domain.JobStatusAwaitingApproval) {
		return true
	}
	o.transport.SendText(ctx, job.UserID, fmt.Sprintf("Caption ready:\n\n%s\n\n%s\n\nReply 'approve', 'post now', 'edit caption <notes>', or 'redo'.", pkg.Caption, pkg.Hashtags))
	return true
}

func (o *Orchestrator) stepScheduled(ctx context.Context, job *domain.Job) bool {
	if job.ScheduledAt != nil && time.Now().Before(*job.ScheduledAt) {
		// Claimed too early; park again until due.
		job.Runnable = true
		o.persist(ctx, job)
		return true
	}
	if !o.enter(ctx, job, domain.JobStatusPosting) {
		return true
	}
	return false
}

func (o *Orchestrator) runPublishStage(ctx context.Context, job *domain.Job) bool {
	selected, err := o.variants.SelectedVariant(ctx, job)
	if err != nil {
		_ = Transition(job, domain.JobStatusAwaitingApproval)
		o.persist(ctx, job)
		o.transport.SendText(ctx, job.UserID, "That post isn't ready to publish: "+err.Error())
		return true
	}
	// Select only admits a flagged variant through the explicit override, so
	// a flagged selection reaching this point has already been human-approved.
	overridden := selected.Gate.Verdict == domain.VerdictNeedsReview
	if err := GuardPosting(job, selected, overridden); err != nil {
		if errors.Is(err, domain.ErrAlreadyPublished) {
			_ = Transition(job, domain.JobStatusPosted)
			o.persist(ctx, job)
			return true
		}
		_ = Transition(job, domain.JobStatusAwaitingApproval)
		o.persist(ctx, job)
		o.transport.SendText(ctx, job.UserID, "That post isn't ready to publish: "+err.Error())
		return true
	}
	if job.PublishKey == "" {
		job.PublishKey = fmt.Sprintf("post:%s:variant:%d:%s", job.ID, selected.Index, uuid.NewString()[:8])
		o.persist(ctx, job)
	}

	result, perr := o.executor.Publish(ctx, job, selected)
	if perr != nil {
		if perr.Code == CodeRateLimited {
			// Not a failure; requeue and let a later claim retry.
			job.Runnable = true
			o.persist(ctx, job)
			return true
		}
		if !CanTransition(job.Status, domain.JobStatusAwaitingApproval) {
			return o.failStage(ctx, job, perr)
		}
		_ = Transition(job, domain.JobStatusAwaitingApproval)
		o.persist(ctx, job)
		o.transport.SendText(ctx, job.UserID, perr.UserMessage)
		return true
	}
	if o.discardIfStale(ctx, job, domain.JobStatusPosting) {
		return true
	}

	// published_ref is written exactly once; this is the terminal marker.
	job.PublishedRef = result.ExternalPostID
	job.Permalink = result.Permalink
	if !o.advance(ctx, job, domain.JobStatusPosted) {
		return true
	}
	o.transport.SendText(ctx, job.UserID, "Posted successfully: "+result.Permalink)
	return true
}

// HandleCommand interprets one free-text reply against the job's current state
// and applies it. Generation work is never performed here; accepted commands
// only move status and mark the job runnable for a worker to pick up.
func (o *Orchestrator) HandleCommand(ctx context.Context, job *domain.Job, text string) error {
	if job.Status.Terminal() && job.Status != domain.JobStatusPosted {
		o.transport.SendText(ctx, job.UserID, "That job is finished. Send a new reference link to start another post.")
		return nil
	}

	cmd := Interpret(text, job.Status)
	o.logger.Info().
		Str("job_id", job.ID).
		Str("status", string(job.Status)).
		Str("command", string(cmd.Kind)).
		Msg("orchestrator: command received")

	switch cmd.Kind {
	case CmdSelect:
		return o.applySelect(ctx, job, cmd.Index)
	case CmdApprove:
		return o.applyApprove(ctx, job)
	case CmdPostNow:
		return o.applyPostNow(ctx, job)
	case CmdEditCaption:
		return o.applyEditCaption(ctx, job, cmd.Instruction)
	case CmdRedo:
		return o.applyRedo(ctx, job, cmd.StyleHint)
	case CmdSchedule:
		return o.applySchedule(ctx, job, cmd.At)
	case CmdCancel:
		return o.applyCancel(ctx, job)
	case CmdExtend:
		return o.applyExtend(ctx, job)
	case CmdForceVideo:
		return o.applyForceKind(ctx, job, domain.MediaKindVideo)
	case CmdForceImage:
		return o.applyForceKind(ctx, job, domain.MediaKindImage)
	default:
		o.transport.SendText(ctx, job.UserID, ClarifyPrompt(job.Status))
		return nil
	}
}

func (o *Orchestrator) applySelect(ctx context.Context, job *domain.Job, index int) error {
	if job.Status != domain.JobStatusAwaitingSelection && job.Status != domain.JobStatusNeedsReview {
		o.transport.SendText(ctx, job.UserID, ClarifyPrompt(job.Status))
		return nil
	}
	allowFlagged := job.Status == domain.JobStatusNeedsReview
	v, err := o.variants.Select(ctx, job, index, allowFlagged)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSelection) || errors.Is(err, domain.ErrStaleRound) {
			o.transport.SendText(ctx, job.UserID, "That choice isn't available. "+ClarifyPrompt(job.Status))
			return nil
		}
		return err
	}

	complete, err := o.variants.SelectionComplete(ctx, job.ID)
	if err != nil {
		return err
	}
	if !complete {
		o.persist(ctx, job)
		o.transport.SendText(ctx, job.UserID, "Got it. Now pick one for the next photo.")
		return nil
	}

	// A selected styled frame on a video job still needs its clips; a selected
	// clip (or image variant) goes to captioning.
	next := domain.JobStatusCaptioning
	if job.MediaKind == domain.MediaKindVideo {
		round, rerr := o.store.GetRound(ctx, v.RoundID)
		if rerr != nil {
			return rerr
		}
		if round.Stage == domain.StageStyle {
			next = domain.JobStatusGeneratingVideo
		}
	}
	if err := Transition(job, next); err != nil {
		return err
	}
	job.Runnable = true
	o.persist(ctx, job)
	return nil
}

func (o *Orchestrator) applyApprove(ctx context.Context, job *domain.Job) error {
	if job.Published() || job.Status == domain.JobStatusPosted {
		o.transport.SendText(ctx, job.UserID, "That post is already published: "+job.Permalink)
		return nil
	}
	if job.Status != domain.JobStatusAwaitingApproval {
		o.transport.SendText(ctx, job.UserID, ClarifyPrompt(job.Status))
		return nil
	}
	if err := Transition(job, domain.JobStatusPosting); err != nil {
		return err
	}
	job.Runnable = true
	o.persist(ctx, job)
	o.transport.SendText(ctx, job.UserID, "Publishing now.")
	return nil
}

func (o *Orchestrator) applyPostNow(ctx context.Context, job *domain.Job) error {
	if job.Published() || job.Status == domain.JobStatusPosted {
		o.transport.SendText(ctx, job.UserID, "That post is already published: "+job.Permalink)
		return nil
	}
	// "post now" also collapses a pending schedule.
	if job.Status != domain.JobStatusAwaitingApproval && job.Status != domain.JobStatusScheduled {
		o.transport.SendText(ctx, job.UserID, ClarifyPrompt(job.Status))
		return nil
	}
	if err := Transition(job, domain.JobStatusPosting); err != nil {
		return err
	}
	job.ScheduledAt = nil
	job.Runnable = true
	o.persist(ctx, job)
	o.transport.SendText(ctx, job.UserID, "Publishing now.")
	return nil
}

func (o *Orchestrator) applyEditCaption(ctx context.Context, job *domain.Job, instruction string) error {
	if job.Status != domain.JobStatusAwaitingApproval {
		o.transport.SendText(ctx, job.UserID, ClarifyPrompt(job.Status))
		return nil
	}
	if instruction == "" {
		o.transport.SendText(ctx, job.UserID, "Tell me what to change, e.g. 'edit caption make it shorter and drop the emoji'.")
		return nil
	}
	if err := Transition(job, domain.JobStatusCaptioning); err != nil {
		return err
	}
	job.CaptionNote = instruction
	job.Runnable = true
	o.persist(ctx, job)
	return nil
}

func (o *Orchestrator) applyRedo(ctx context.Context, job *domain.Job, hint string) error {
	switch job.Status {
	case domain.JobStatusAwaitingSelection, domain.JobStatusNeedsReview, domain.JobStatusAwaitingApproval:
	default:
		o.transport.SendText(ctx, job.UserID, ClarifyPrompt(job.Status))
		return nil
	}
	if err := o.variants.Discard(ctx, job); err != nil {
		return err
	}
	if err := Transition(job, domain.JobStatusStyling); err != nil {
		return err
	}
	if hint != "" {
		job.RedoHint = hint
		if job.StyleBrief != nil {
			copied := *job.StyleBrief
			copied.AdaptationNotes = fmt.Sprintf("%s\nUser direction: %s", copied.AdaptationNotes, hint)
			job.StyleBrief = &copied
		}
	}
	job.Runnable = true
	o.persist(ctx, job)
	o.transport.SendText(ctx, job.UserID, "Redoing the visuals.")
	return nil
}

func (o *Orchestrator) applySchedule(ctx context.Context, job *domain.Job, at *time.Time) error {
	if job.Status != domain.JobStatusAwaitingApproval {
		o.transport.SendText(ctx, job.UserID, ClarifyPrompt(job.Status))
		return nil
	}
	if at == nil {
		o.transport.SendText(ctx, job.UserID, "When should it go out? e.g. 'schedule 2026-09-01 18:00' or 'schedule 3h'.")
		return nil
	}
	if at.Before(time.Now()) {
		o.transport.SendText(ctx, job.UserID, "That time is in the past. Pick a future time, or reply 'post now'.")
		return nil
	}
	if err := Transition(job, domain.JobStatusScheduled); err != nil {
		return err
	}
	job.ScheduledAt = at
	job.Runnable = true
	o.persist(ctx, job)
	o.transport.SendText(ctx, job.UserID, "Scheduled for "+at.Format(time.RFC1123)+". Reply 'post now' to publish sooner, or 'cancel'.")
	return nil
}

func (o *Orchestrator) applyCancel(ctx context.Context, job *domain.Job) error {
	if job.Status.Terminal() {
		o.transport.SendText(ctx, job.UserID, "Nothing to cancel; that job is already finished.")
		return nil
	}
	// Cancel takes effect immediately; any in-flight stage sees the status
	// change on its staleness check and discards its output.
	if err := Transition(job, domain.JobStatusCancelled); err != nil {
		return err
	}
	job.Runnable = false
	o.persist(ctx, job)
	o.transport.SendText(ctx, job.UserID, "Cancelled. Generated drafts are kept but nothing will be posted.")
	return nil
}

func (o *Orchestrator) applyExtend(ctx context.Context, job *domain.Job) error {
	if job.Status != domain.JobStatusAwaitingApproval || job.MediaKind != domain.MediaKindVideo {
		o.transport.SendText(ctx, job.UserID, ClarifyPrompt(job.Status))
		return nil
	}
	if err := Transition(job, domain.JobStatusGeneratingVideo); err != nil {
		return err
	}
	job.PendingExtension = true
	job.Runnable = true
	o.persist(ctx, job)
	o.transport.SendText(ctx, job.UserID, "Extending the clip with one more scene.")
	return nil
}

// applyForceKind handles an explicit "make it a reel" / "photo post" override.
// On a draft parked for an unknown kind it resumes the pipeline; mid-flow it
// switches tracks and restarts styling without re-downloading the reference.
func (o *Orchestrator) applyForceKind(ctx context.Context, job *domain.Job, kind domain.MediaKind) error {
	job.MediaKind = kind
	job.KindOverride = true

	switch job.Status {
	case domain.JobStatusDraft:
		job.Runnable = true
		o.persist(ctx, job)
		o.transport.SendText(ctx, job.UserID, "Got it, on it.")
		return nil
	case domain.JobStatusAwaitingSelection, domain.JobStatusNeedsReview, domain.JobStatusAwaitingApproval:
		if err := o.variants.Discard(ctx, job); err != nil {
			return err
		}
		if err := Transition(job, domain.JobStatusStyling); err != nil {
			return err
		}
		job.Runnable = true
		o.persist(ctx, job)
		o.transport.SendText(ctx, job.UserID, "Switching formats; regenerating the visuals.")
		return nil
	default:
		o.persist(ctx, job)
		o.transport.SendText(ctx, job.UserID, "Noted; the current step will finish with the new format in mind.")
		return nil
	}
}

// enter moves the job into a stage-owned status and persists before work
// begins, so a concurrent cancel is observable mid-stage.
func (o *Orchestrator) enter(ctx context.Context, job *domain.Job, status domain.JobStatus) bool {
	if err := Transition(job, status); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("orchestrator: refusing stage entry")
		return false
	}
	o.persist(ctx, job)
	return true
}

// advance transitions and persists after a stage applied its output.
func (o *Orchestrator) advance(ctx context.Context, job *domain.Job, status domain.JobStatus) bool {
	if err := Transition(job, status); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("orchestrator: transition rejected")
		return false
	}
	o.persist(ctx, job)
	return true
}

// discardIfStale re-reads the persisted job and reports whether the in-flight
// stage lost ownership (e.g. the user cancelled while a slow generation call
// was running). Stale output is discarded, never applied.
func (o *Orchestrator) discardIfStale(ctx context.Context, job *domain.Job, expected domain.JobStatus) bool {
	fresh, err := o.store.GetJob(ctx, job.ID)
	if err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("orchestrator: staleness check failed")
		return true
	}
	if fresh.Status != expected {
		o.logger.Info().
			Str("job_id", job.ID).
			Str("expected", string(expected)).
			Str("actual", string(fresh.Status)).
			Msg("orchestrator: discarding stage output for superseded job")
		*job = *fresh
		return true
	}
	return false
}

func (o *Orchestrator) failStage(ctx context.Context, job *domain.Job, perr *Error) bool {
	if perr.Code == CodeRateLimited {
		job.Runnable = true
		o.persist(ctx, job)
		return true
	}
	fresh, err := o.store.GetJob(ctx, job.ID)
	if err == nil && fresh.Status == domain.JobStatusCancelled {
		*job = *fresh
		return true
	}
	o.logger.Error().
		Str("job_id", job.ID).
		Str("stage_status", string(job.Status)).
		Str("code", string(perr.Code)).
		Err(perr.Err).
		Msg("orchestrator: stage failed terminally")
	job.ErrorCode = string(perr.Code)
	job.ErrorDetail = perr.Error()
	if err := Transition(job, domain.JobStatusFailed); err != nil {
		o.persist(ctx, job)
		return true
	}
	o.persist(ctx, job)
	o.transport.SendText(ctx, job.UserID, perr.UserMessage)
	return true
}

func (o *Orchestrator) persist(ctx context.Context, job *domain.Job) {
	job.UpdatedAt = time.Now().UTC()
	if err := o.store.UpdateJob(ctx, job); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("orchestrator: persist failed")
	}
}

func anyPassing(rounds []domain.Round) bool {
	for i := range rounds {
		if rounds[i].HasPassing() {
			return true
		}
	}
	return false
}

func totalShortfall(rounds []domain.Round) int {
	total := 0
	for i := range rounds {
		total += rounds[i].Shortfall()
	}
	return total
}
