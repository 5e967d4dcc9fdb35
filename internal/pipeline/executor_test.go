package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postpilot/internal/domain"
)

func TestDownloadRejectsUnsupportedHost(t *testing.T) {
	h := newHarness(t, domain.MediaKindImage)
	h.job.Reference.SourceURL = "https://tiktok.com/@user/video/1"

	_, perr := h.exec.Download(context.Background(), h.job)
	require.NotNil(t, perr)
	assert.Equal(t, CodeUnsupportedReference, perr.Code)
	assert.NotContains(t, perr.UserMessage, "tiktok", "internal detail must not leak to the user message")
}

func TestDownloadPersistsAssetAndDetectsKind(t *testing.T) {
	h := newHarness(t, domain.MediaKindImage)
	out, perr := h.exec.Download(context.Background(), h.job)
	require.Nil(t, perr)
	assert.Equal(t, domain.MediaKindImage, out.Reference.DetectedKind)
	assert.NotEmpty(t, out.Reference.AssetKey)

	data, err := h.assets.Read(context.Background(), out.Reference.AssetKey)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestAnalyzeRetriesWithSimplifiedRequest(t *testing.T) {
	h := newHarness(t, domain.MediaKindImage)
	out, perr := h.exec.Download(context.Background(), h.job)
	require.Nil(t, perr)
	h.job.Reference = out.Reference

	h.analyzer.errs = []error{errors.New("model overloaded")}

	brief, perr := h.exec.Analyze(context.Background(), h.job)
	require.Nil(t, perr)
	assert.NotNil(t, brief)
	assert.Equal(t, 2, h.analyzer.calls, "one failure, one fallback attempt")
	assert.Empty(t, h.job.ErrorCode, "error fields cleared after a successful retry")
}

func TestAnalyzeEscalatesAfterRetryBudget(t *testing.T) {
	h := newHarness(t, domain.MediaKindImage)
	out, perr := h.exec.Download(context.Background(), h.job)
	require.Nil(t, perr)
	h.job.Reference = out.Reference

	h.analyzer.errs = []error{errors.New("down"), errors.New("still down")}

	_, perr = h.exec.Analyze(context.Background(), h.job)
	require.NotNil(t, perr)
	assert.Equal(t, CodeTransientProvider, perr.Code)
	assert.Equal(t, 2, h.analyzer.calls)
}

func TestAnalyzeDoesNotRetryTerminalFailures(t *testing.T) {
	h := newHarness(t, domain.MediaKindImage)
	out, perr := h.exec.Download(context.Background(), h.job)
	require.Nil(t, perr)
	h.job.Reference = out.Reference

	h.analyzer.errs = []error{NewError(CodePrivateOrMissing, errors.New("404"))}

	_, perr = h.exec.Analyze(context.Background(), h.job)
	require.NotNil(t, perr)
	assert.Equal(t, CodePrivateOrMissing, perr.Code)
	assert.Equal(t, 1, h.analyzer.calls, "terminal classifications get no second attempt")
}

func styleReady(t *testing.T, h *harness) {
	t.Helper()
	out, perr := h.exec.Download(context.Background(), h.job)
	require.Nil(t, perr)
	h.job.Reference = out.Reference
	brief, perr := h.exec.Analyze(context.Background(), h.job)
	require.Nil(t, perr)
	h.job.StyleBrief = brief
}

func TestStyleRoundGatesEveryCandidate(t *testing.T) {
	h := newHarness(t, domain.MediaKindImage)
	styleReady(t, h)

	rounds, perr := h.exec.StyleRound(context.Background(), h.job, false)
	require.Nil(t, perr)
	require.Len(t, rounds, 1)
	require.Len(t, rounds[0].Variants, h.cfg.ImageVariantsPerRound)
	for _, v := range rounds[0].Variants {
		assert.Equal(t, domain.VerdictPass, v.Gate.Verdict, "fake generator echoes the subject, so every candidate passes")
	}
}

func TestStyleRoundRecordsShortfall(t *testing.T) {
	h := newHarness(t, domain.MediaKindImage)
	styleReady(t, h)

	// Second candidate slot fails; the round is short but not fatal.
	h.visual.errs = []error{nil, errors.New("provider refused"), nil}

	rounds, perr := h.exec.StyleRound(context.Background(), h.job, false)
	require.Nil(t, perr)
	require.Len(t, rounds, 1)
	assert.Len(t, rounds[0].Variants, 2)
	assert.Equal(t, 1, rounds[0].Shortfall())
}

func TestStyleRoundZeroCandidatesEscalates(t *testing.T) {
	h := newHarness(t, domain.MediaKindImage)
	styleReady(t, h)

	// Every slot on both the first attempt and the fallback retry fails.
	for i := 0; i < 2*h.cfg.ImageVariantsPerRound; i++ {
		h.visual.errs = append(h.visual.errs, errors.New("refused"))
	}

	_, perr := h.exec.StyleRound(context.Background(), h.job, false)
	require.NotNil(t, perr)
	assert.Equal(t, CodeTransientProvider, perr.Code)
}

func TestStyleRoundConstrainedIsSingleCandidate(t *testing.T) {
	h := newHarness(t, domain.MediaKindImage)
	styleReady(t, h)

	rounds, perr := h.exec.StyleRound(context.Background(), h.job, true)
	require.Nil(t, perr)
	require.Len(t, rounds, 1)
	assert.Len(t, rounds[0].Variants, 1)
	assert.True(t, rounds[0].Constrained)
	require.NotEmpty(t, h.visual.reqs)
	assert.True(t, h.visual.reqs[len(h.visual.reqs)-1].Constrained)
}

func TestStyleRoundVideoUsesSingleFrames(t *testing.T) {
	h := newHarness(t, domain.MediaKindVideo)
	styleReady(t, h)
	require.Equal(t, domain.MediaKindVideo, KindFromMIME(h.job.Reference.MIME))
	h.job.MediaKind = domain.MediaKindVideo

	rounds, perr := h.exec.StyleRound(context.Background(), h.job, false)
	require.Nil(t, perr)
	require.Len(t, rounds, 1)
	assert.Len(t, rounds[0].Variants, h.cfg.VideoVariantsPerRound)
	for _, req := range h.visual.reqs {
		assert.True(t, req.SingleFrame)
		assert.Equal(t, "9:16", req.AspectRatio)
	}
}

func videoFrameReady(t *testing.T, h *harness) *domain.Variant {
	t.Helper()
	h.job.MediaKind = domain.MediaKindVideo
	styleReady(t, h)
	rounds, perr := h.exec.StyleRound(context.Background(), h.job, false)
	require.Nil(t, perr)
	v, err := h.exec.VariantManager().Select(context.Background(), h.job, 1, false)
	require.NoError(t, err)
	_ = rounds
	return v
}

func TestGenerateVideoRoundPollsToCompletion(t *testing.T) {
	h := newHarness(t, domain.MediaKindVideo)
	frame := videoFrameReady(t, h)
	h.video.pollsUntilDone = 3

	round, perr := h.exec.GenerateVideoRound(context.Background(), h.job, frame)
	require.Nil(t, perr)
	require.Len(t, round.Variants, h.cfg.VideoVariantsPerRound)
	for _, v := range round.Variants {
		assert.Equal(t, frame.Gate.Verdict, v.Gate.Verdict, "clips inherit the styled frame's verdict")
	}
}

func TestGenerateVideoRoundTimesOut(t *testing.T) {
	h := newHarness(t, domain.MediaKindVideo)
	frame := videoFrameReady(t, h)

	// Never completes within the configured deadline.
	h.video.pollsUntilDone = 1 << 30
	h.cfg.VideoPollTimeout = 20 * time.Millisecond
	h.exec.cfg.VideoPollTimeout = 20 * time.Millisecond

	_, perr := h.exec.GenerateVideoRound(context.Background(), h.job, frame)
	require.NotNil(t, perr)
	assert.Equal(t, CodeTimeout, perr.Code, "a deadline overrun is reported distinctly, never as a provider failure")
}

func TestExtendAppendsContinuationClip(t *testing.T) {
	h := newHarness(t, domain.MediaKindVideo)
	frame := videoFrameReady(t, h)
	round, perr := h.exec.GenerateVideoRound(context.Background(), h.job, frame)
	require.Nil(t, perr)
	clip, err := h.exec.VariantManager().Select(context.Background(), h.job, 1, false)
	require.NoError(t, err)
	_ = round

	key, perr := h.exec.Extend(context.Background(), h.job, clip)
	require.Nil(t, perr)
	assert.Contains(t, key, "extensions/")
	data, err := h.assets.Read(context.Background(), key)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestWriteCaptionThreadsRewriteInstruction(t *testing.T) {
	h := newHarness(t, domain.MediaKindImage)
	styleReady(t, h)
	rounds, perr := h.exec.StyleRound(context.Background(), h.job, false)
	require.Nil(t, perr)
	_ = rounds
	selected, err := h.exec.VariantManager().Select(context.Background(), h.job, 1, false)
	require.NoError(t, err)

	pkg, perr := h.exec.WriteCaption(context.Background(), h.job, selected, "shorter, no emoji")
	require.Nil(t, perr)
	assert.Equal(t, "Autumn warmth.", pkg.Caption)

	require.NotEmpty(t, h.captions.briefs)
	got := h.captions.briefs[len(h.captions.briefs)-1]
	require.NotNil(t, got)
	assert.Contains(t, got.AdaptationNotes, "shorter, no emoji")
	assert.Empty(t, h.job.StyleBrief.AdaptationNotes, "the job's own brief stays untouched")
}

func TestPublishCarriesIdempotencyKey(t *testing.T) {
	h := newHarness(t, domain.MediaKindImage)
	styleReady(t, h)
	_, perr := h.exec.StyleRound(context.Background(), h.job, false)
	require.Nil(t, perr)
	selected, err := h.exec.VariantManager().Select(context.Background(), h.job, 1, false)
	require.NoError(t, err)

	h.job.PublishKey = "post:job-1:variant:1:abcd1234"
	h.job.Caption = &domain.CaptionPackage{Caption: "hello", Hashtags: "#x", AltText: "a scarf"}

	result, perr := h.exec.Publish(context.Background(), h.job, selected)
	require.Nil(t, perr)
	assert.Equal(t, "ig-123", result.ExternalPostID)

	require.Len(t, h.publisher.reqs, 1)
	req := h.publisher.reqs[0]
	assert.Equal(t, h.job.PublishKey, req.IdempotencyKey)
	assert.Equal(t, "a scarf", req.AltText)
	assert.Contains(t, req.Caption, "#x")
}
