package pipeline

import (
	"context"
	"errors"

	"postpilot/internal/domain"
)

// DownloadedReference is what the reference downloader resolves a link into.
type DownloadedReference struct {
	Data     []byte
	MIME     string
	Caption  string
	Hashtags string
}

// ReferenceDownloader fetches the user's inspiration link. Implementations
// fail with CodePrivateOrMissing or CodeUnsupportedReference where applicable.
type ReferenceDownloader interface {
	Fetch(ctx context.Context, url string) (*DownloadedReference, error)
}

// StyleAnalyzer turns a reference asset into a structured style brief.
type StyleAnalyzer interface {
	Analyze(ctx context.Context, asset []byte, caption string, kind domain.MediaKind) (*domain.StyleBrief, error)
}

// GeneratedAsset is a provider's raw output prior to persistence. Video
// providers may attach a poster frame for the per-frame drift check.
type GeneratedAsset struct {
	Data   []byte
	MIME   string
	Poster []byte
}

// VisualRequest describes one candidate generation. Constrained is set on the
// automatic regeneration that follows a flagged round.
type VisualRequest struct {
	Subject       []byte
	Reference     []byte
	Brief         *domain.StyleBrief
	VariationHint string
	AspectRatio   string
	SingleFrame   bool
	Constrained   bool
}

// VisualGenerator produces one styled candidate; invoked N times per round.
type VisualGenerator interface {
	Generate(ctx context.Context, req VisualRequest) (*GeneratedAsset, error)
}

// VideoRequest starts an async video generation from a styled start frame, or
// a scene extension when ContinueFrom is set.
type VideoRequest struct {
	StartFrame   []byte
	MotionPrompt string
	ContinueFrom []byte
	AspectRatio  string
}

// VideoPoll is one observation of an async video handle.
type VideoPoll struct {
	Done  bool
	Asset *GeneratedAsset
}

// VideoGenerator is the long-running collaborator. Start returns an opaque
// handle; Poll is invoked on a fixed interval until done or deadline.
type VideoGenerator interface {
	Start(ctx context.Context, req VideoRequest) (string, error)
	Poll(ctx context.Context, handle string) (*VideoPoll, error)
}

// CaptionWriter produces the caption package for the selected asset.
type CaptionWriter interface {
	Write(ctx context.Context, selected []byte, brief *domain.StyleBrief, product *domain.Product) (*domain.CaptionPackage, error)
}

// PublishRequest carries everything the publisher needs, including the
// idempotency key that guards against double-posting on retries.
type PublishRequest struct {
	AssetKeys      []string
	AssetURLs      []string
	MediaKind      domain.MediaKind
	Caption        string
	AltText        string
	IdempotencyKey string
}

// PublishResult identifies the externally created post.
type PublishResult struct {
	ExternalPostID string
	Permalink      string
}

// Publisher posts the approved asset. Failures are classified as
// CodeRateLimited, CodePublishFailed, or CodeTransientProvider.
type Publisher interface {
	Publish(ctx context.Context, req PublishRequest) (*PublishResult, error)
}

// Transport delivers variant previews and status text outward. The pipeline
// never assumes a protocol, only at-least-once delivery per user.
type Transport interface {
	SendText(ctx context.Context, userID, text string)
	SendReview(ctx context.Context, userID string, job *domain.Job, rounds []domain.Round)
}

// ProductCatalog resolves a product code into catalog data and stored photos.
type ProductCatalog interface {
	ResolveProduct(ctx context.Context, code string) (*domain.Product, error)
}

// AssetStore persists and retrieves raw asset bytes by key.
type AssetStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
	Read(ctx context.Context, key string) ([]byte, error)
}

// ErrNoJob is returned by Store.ClaimRunnableJob when nothing is queued.
var ErrNoJob = errors.New("no runnable job")

// Store is the persistence contract for jobs, rounds, and quota counters. The
// pgx-backed implementation lives in internal/adapter/repo.
type Store interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	UpdateJob(ctx context.Context, job *domain.Job) error
	// ClaimRunnableJob atomically picks one queued job and clears its runnable
	// flag so no other worker sees it.
	ClaimRunnableJob(ctx context.Context) (*domain.Job, error)

	CreateRound(ctx context.Context, round *domain.Round) error
	GetRound(ctx context.Context, id string) (*domain.Round, error)
	CurrentRounds(ctx context.Context, jobID string) ([]domain.Round, error)
	AddVariant(ctx context.Context, v *domain.Variant) error
	SetRoundSelection(ctx context.Context, roundID, variantID string) error
	SupersedeRounds(ctx context.Context, jobID string) error

	// ConsumeDailyQuota atomically increments the user's daily submission
	// counter, failing with domain.ErrQuotaExceeded at the limit.
	ConsumeDailyQuota(ctx context.Context, userID string, limit int) (int, error)
}
