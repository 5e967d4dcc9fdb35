package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"postpilot/internal/domain"
	"postpilot/internal/infra"
)

// Config is the immutable per-deployment tuning handed to pipeline components
// at construction. No component reads global mutable state.
type Config struct {
	ImageVariantsPerRound int
	VideoVariantsPerRound int
	MaxStageRetries       int
	ImageGateThreshold    float64
	VideoGateThreshold    float64
	FrameDriftThreshold   float64
	VideoPollInterval     time.Duration
	VideoPollTimeout      time.Duration
	DailySubmissionQuota  int
}

// Executor runs individual pipeline stages against the collaborator contracts.
// A failed attempt leaves job state untouched except retry counters and the
// error fields; a successful attempt hands back a complete output set that the
// orchestrator applies whole.
type Executor struct {
	cfg        Config
	store      Store
	assets     AssetStore
	gate       Gate
	downloader ReferenceDownloader
	analyzer   StyleAnalyzer
	visual     VisualGenerator
	video      VideoGenerator
	captions   CaptionWriter
	publisher  Publisher
	catalog    ProductCatalog
	variants   *VariantManager
	logger     infra.Logger
}

// ExecutorDeps bundles the executor's collaborators.
type ExecutorDeps struct {
	Store      Store
	Assets     AssetStore
	Downloader ReferenceDownloader
	Analyzer   StyleAnalyzer
	Visual     VisualGenerator
	Video      VideoGenerator
	Captions   CaptionWriter
	Publisher  Publisher
	Catalog    ProductCatalog
	Logger     infra.Logger
}

func NewExecutor(cfg Config, deps ExecutorDeps) *Executor {
	return &Executor{
		cfg:        cfg,
		store:      deps.Store,
		assets:     deps.Assets,
		downloader: deps.Downloader,
		analyzer:   deps.Analyzer,
		visual:     deps.Visual,
		video:      deps.Video,
		captions:   deps.Captions,
		publisher:  deps.Publisher,
		catalog:    deps.Catalog,
		variants:   NewVariantManager(deps.Store),
		logger:     deps.Logger,
	}
}

// VariantManager exposes the executor's round tracker for the command path.
func (e *Executor) VariantManager() *VariantManager { return e.variants }

// withRetry applies the stage retry contract: one automatic retry with a
// fallback request for retryable failures, then escalation carrying the
// original error.
func (e *Executor) withRetry(job *domain.Job, stage domain.Stage, fn func(fallback bool) error) *Error {
	fallback := false
	for {
		err := fn(fallback)
		if err == nil {
			job.ClearRetry(stage)
			job.ErrorCode = ""
			job.ErrorDetail = ""
			return nil
		}
		perr := classifyFailure(err)
		job.ErrorCode = string(perr.Code)
		job.ErrorDetail = perr.Error()
		if !perr.Retryable() || job.RetryCount(stage) >= e.cfg.MaxStageRetries {
			return perr
		}
		job.BumpRetry(stage)
		fallback = true
		e.logger.Warn().
			Str("job_id", job.ID).
			Str("stage", string(stage)).
			Int("attempt", job.RetryCount(stage)).
			Err(perr.Err).
			Msg("executor: stage failed, retrying with fallback request")
	}
}

// downloadOutput is the complete field set the download stage produces.
type downloadOutput struct {
	Reference domain.Reference
}

// Download resolves the reference link, persists its asset, and classifies the
// downloaded media. Unsupported links and private posts are terminal.
func (e *Executor) Download(ctx context.Context, job *domain.Job) (*downloadOutput, *Error) {
	var out *downloadOutput
	perr := e.withRetry(job, domain.StageDownload, func(fallback bool) error {
		if !SupportedReferenceHost(job.Reference.SourceURL) {
			return NewError(CodeUnsupportedReference, fmt.Errorf("unsupported host in %q", job.Reference.SourceURL))
		}
		ref, err := e.downloader.Fetch(ctx, job.Reference.SourceURL)
		if err != nil {
			return err
		}
		key := fmt.Sprintf("jobs/%s/reference%s", job.ID, extensionForMIME(ref.MIME))
		savedKey, err := e.assets.Write(ctx, key, ref.Data)
		if err != nil {
			return fmt.Errorf("persist reference asset: %w", err)
		}
		out = &downloadOutput{Reference: domain.Reference{
			SourceURL:    job.Reference.SourceURL,
			AssetKey:     savedKey,
			MIME:         ref.MIME,
			Caption:      ref.Caption,
			Hashtags:     ref.Hashtags,
			DetectedKind: KindFromMIME(ref.MIME),
		}}
		return nil
	})
	return out, perr
}

// Analyze derives the style brief from the downloaded reference.
func (e *Executor) Analyze(ctx context.Context, job *domain.Job) (*domain.StyleBrief, *Error) {
	var brief *domain.StyleBrief
	perr := e.withRetry(job, domain.StageAnalyze, func(fallback bool) error {
		data, err := e.assets.Read(ctx, job.Reference.AssetKey)
		if err != nil {
			return fmt.Errorf("read reference asset: %w", err)
		}
		caption := job.Reference.Caption
		if fallback {
			// Fallback request drops the caption context to give the
			// analyzer a simpler prompt.
			caption = ""
		}
		brief, err = e.analyzer.Analyze(ctx, data, caption, job.MediaKind)
		return err
	})
	return brief, perr
}

var imageVariationHints = []string{
	"Faithful recreation of the reference composition.",
	"Looser interpretation, shift the background staging.",
	"Closer crop emphasizing texture and detail.",
}

// StyleRound fans out one styling round per subject asset and gates every
// produced candidate. A short round is recorded and reported, never silently
// accepted; a round with zero candidates is a stage failure.
func (e *Executor) StyleRound(ctx context.Context, job *domain.Job, constrained bool) ([]domain.Round, *Error) {
	requested := e.cfg.ImageVariantsPerRound
	threshold := e.cfg.ImageGateThreshold
	singleFrame := false
	aspect := "4:5"
	if job.MediaKind == domain.MediaKindVideo {
		requested = e.cfg.VideoVariantsPerRound
		threshold = e.cfg.VideoGateThreshold
		singleFrame = true
		aspect = "9:16"
	}
	if constrained {
		// The automatic post-flag regeneration is a forced single-candidate
		// round under stricter instructions.
		requested = 1
	}

	reference, err := e.assets.Read(ctx, job.Reference.AssetKey)
	if err != nil {
		return nil, NewError(CodeInternal, fmt.Errorf("read reference asset: %w", err))
	}

	var rounds []domain.Round
	perr := e.withRetry(job, domain.StageStyle, func(fallback bool) error {
		rounds = rounds[:0]
		produced := 0
		for _, subject := range job.SubjectAssets {
			subjectBytes, err := e.assets.Read(ctx, subject.Key)
			if err != nil {
				return fmt.Errorf("read subject asset: %w", err)
			}
			round, err := e.variants.StartRound(ctx, job, domain.StageStyle, subject.Position, requested, constrained)
			if err != nil {
				return err
			}
			for i := 0; i < requested; i++ {
				hint := imageVariationHints[i%len(imageVariationHints)]
				if fallback {
					hint = imageVariationHints[0]
				}
				asset, err := e.visual.Generate(ctx, VisualRequest{
					Subject:       subjectBytes,
					Reference:     reference,
					Brief:         job.StyleBrief,
					VariationHint: hint,
					AspectRatio:   aspect,
					SingleFrame:   singleFrame,
					Constrained:   constrained,
				})
				if err != nil {
					e.logger.Warn().Err(err).Str("job_id", job.ID).Int("slot", i+1).Msg("executor: candidate generation failed")
					continue
				}
				key := fmt.Sprintf("jobs/%s/rounds/%s/variant-%02d%s", job.ID, round.ID, i+1, extensionForMIME(asset.MIME))
				savedKey, err := e.assets.Write(ctx, key, asset.Data)
				if err != nil {
					return fmt.Errorf("persist variant asset: %w", err)
				}
				gate, err := e.gate.Evaluate(subjectBytes, asset.Data, threshold)
				if err != nil {
					return NewError(CodeInternal, err)
				}
				if _, err := e.variants.RecordVariant(ctx, round, savedKey, "", hint, gate); err != nil {
					return err
				}
				produced++
			}
			rounds = append(rounds, *round)
		}
		if produced == 0 {
			return NewError(CodeTransientProvider, fmt.Errorf("styling produced no candidates"))
		}
		return nil
	})
	if perr != nil {
		return nil, perr
	}
	return rounds, nil
}

// GenerateVideoRound turns the selected styled frame into a round of video
// candidates through the async video collaborator. The poll loop suspends at
// a fixed interval; exceeding the deadline is a timeout, never a hang, and is
// reported distinctly from a provider-side failure.
func (e *Executor) GenerateVideoRound(ctx context.Context, job *domain.Job, frame *domain.Variant) (*domain.Round, *Error) {
	frameBytes, err := e.assets.Read(ctx, frame.AssetKey)
	if err != nil {
		return nil, NewError(CodeInternal, fmt.Errorf("read styled frame: %w", err))
	}

	var round *domain.Round
	perr := e.withRetry(job, domain.StageGenerateVideo, func(fallback bool) error {
		r, err := e.variants.StartRound(ctx, job, domain.StageGenerateVideo, frame.Index, e.cfg.VideoVariantsPerRound, fallback)
		if err != nil {
			return err
		}
		prompt := BuildMotionPrompt(job.StyleBrief)
		if fallback {
			prompt = BuildMotionPrompt(nil)
		}
		produced := 0
		for i := 0; i < e.cfg.VideoVariantsPerRound; i++ {
			asset, err := e.awaitVideo(ctx, VideoRequest{
				StartFrame:   frameBytes,
				MotionPrompt: fmt.Sprintf("%s\n\nMOTION STYLE: %s", prompt, videoVariationModifiers[i%len(videoVariationModifiers)]),
				AspectRatio:  "9:16",
			})
			if err != nil {
				if perr := classifyFailure(err); perr.Code == CodeTimeout {
					return perr
				}
				e.logger.Warn().Err(err).Str("job_id", job.ID).Int("slot", i+1).Msg("executor: video candidate failed")
				continue
			}
			key := fmt.Sprintf("jobs/%s/rounds/%s/clip-%02d%s", job.ID, r.ID, i+1, extensionForMIME(asset.MIME))
			savedKey, err := e.assets.Write(ctx, key, asset.Data)
			if err != nil {
				return fmt.Errorf("persist clip: %w", err)
			}
			// The clip's first frame is the gated styled frame; a poster frame
			// from the provider gets its own drift check.
			gate := frame.Gate
			if len(asset.Poster) > 0 {
				subjectBytes, err := e.assets.Read(ctx, job.SubjectAssets[0].Key)
				if err == nil {
					if drift, derr := e.gate.Evaluate(subjectBytes, asset.Poster, e.cfg.FrameDriftThreshold); derr == nil {
						gate = drift
					}
				}
			}
			if _, err := e.variants.RecordVariant(ctx, r, savedKey, "", "motion", gate); err != nil {
				return err
			}
			produced++
		}
		if produced == 0 {
			return NewError(CodeTransientProvider, fmt.Errorf("no video candidate was generated"))
		}
		round = r
		return nil
	})
	if perr != nil {
		return nil, perr
	}
	return round, nil
}

// awaitVideo drives one async handle to completion within the deadline.
func (e *Executor) awaitVideo(ctx context.Context, req VideoRequest) (*GeneratedAsset, error) {
	handle, err := e.video.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(e.cfg.VideoPollTimeout)
	ticker := time.NewTicker(e.cfg.VideoPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		if time.Now().After(deadline) {
			return nil, NewError(CodeTimeout, fmt.Errorf("video generation exceeded %s", e.cfg.VideoPollTimeout))
		}
		poll, err := e.video.Poll(ctx, handle)
		if err != nil {
			return nil, err
		}
		if poll.Done {
			if poll.Asset == nil || len(poll.Asset.Data) == 0 {
				return nil, NewError(CodeTransientProvider, fmt.Errorf("video handle %s completed without content", handle))
			}
			return poll.Asset, nil
		}
	}
}

// Extend appends one continuation clip generated from the selected asset.
func (e *Executor) Extend(ctx context.Context, job *domain.Job, selected *domain.Variant) (string, *Error) {
	clip, err := e.assets.Read(ctx, selected.AssetKey)
	if err != nil {
		return "", NewError(CodeInternal, fmt.Errorf("read selected clip: %w", err))
	}
	var savedKey string
	perr := e.withRetry(job, domain.StageGenerateVideo, func(fallback bool) error {
		asset, err := e.awaitVideo(ctx, VideoRequest{
			ContinueFrom: clip,
			MotionPrompt: "Continue the motion seamlessly from the final frame.",
			AspectRatio:  "9:16",
		})
		if err != nil {
			return err
		}
		key := fmt.Sprintf("jobs/%s/extensions/clip-%02d%s", job.ID, len(job.ExtensionKeys)+1, extensionForMIME(asset.MIME))
		savedKey, err = e.assets.Write(ctx, key, asset.Data)
		return err
	})
	if perr != nil {
		return "", perr
	}
	return savedKey, nil
}

// WriteCaption produces the caption package for the selected asset. A rewrite
// instruction, when present, is threaded through the brief's adaptation notes.
func (e *Executor) WriteCaption(ctx context.Context, job *domain.Job, selected *domain.Variant, instruction string) (*domain.CaptionPackage, *Error) {
	data, err := e.assets.Read(ctx, selected.AssetKey)
	if err != nil {
		return nil, NewError(CodeInternal, fmt.Errorf("read selected asset: %w", err))
	}
	var product *domain.Product
	if job.ProductCode != "" && e.catalog != nil {
		if p, err := e.catalog.ResolveProduct(ctx, job.ProductCode); err == nil {
			product = p
		} else {
			e.logger.Warn().Err(err).Str("job_id", job.ID).Str("product_code", job.ProductCode).Msg("executor: product lookup failed")
		}
	}
	brief := job.StyleBrief
	if instruction != "" && brief != nil {
		copied := *brief
		copied.AdaptationNotes = strings.TrimSpace("Rewrite instruction from user: " + instruction)
		brief = &copied
	}

	var pkg *domain.CaptionPackage
	perr := e.withRetry(job, domain.StageCaption, func(fallback bool) error {
		var err error
		pkg, err = e.captions.Write(ctx, data, brief, product)
		return err
	})
	return pkg, perr
}

// Publish posts the selected asset. The idempotency key is minted once per
// job and reused on retries so a failed attempt can never double-post.
func (e *Executor) Publish(ctx context.Context, job *domain.Job, selected *domain.Variant) (*PublishResult, *Error) {
	keys := append([]string{selected.AssetKey}, job.ExtensionKeys...)
	caption := ""
	alt := ""
	if job.Caption != nil {
		caption = strings.TrimSpace(job.Caption.Caption + "\n\n" + job.Caption.Hashtags)
		alt = job.Caption.AltText
	}
	var result *PublishResult
	perr := e.withRetry(job, domain.StagePublish, func(fallback bool) error {
		var err error
		result, err = e.publisher.Publish(ctx, PublishRequest{
			AssetKeys:      keys,
			MediaKind:      job.MediaKind,
			Caption:        caption,
			AltText:        alt,
			IdempotencyKey: job.PublishKey,
		})
		return err
	})
	return result, perr
}

func extensionForMIME(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "video/mp4":
		return ".mp4"
	default:
		return ".bin"
	}
}
