package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"postpilot/internal/domain"
)

// memStore is an in-memory Store for exercising the pipeline without Postgres.
type memStore struct {
	mu     sync.Mutex
	jobs   map[string]*domain.Job
	rounds map[string]*domain.Round
	order  []string
	quota  map[string]int
}

func newMemStore() *memStore {
	return &memStore{
		jobs:   map[string]*domain.Job{},
		rounds: map[string]*domain.Round{},
		quota:  map[string]int{},
	}
}

func cloneJob(j *domain.Job) *domain.Job {
	c := *j
	c.SubjectAssets = append([]domain.SubjectAsset(nil), j.SubjectAssets...)
	c.ExtensionKeys = append([]string(nil), j.ExtensionKeys...)
	if j.RetryCounts != nil {
		c.RetryCounts = make(map[domain.Stage]int, len(j.RetryCounts))
		for k, v := range j.RetryCounts {
			c.RetryCounts[k] = v
		}
	}
	return &c
}

func cloneRound(r *domain.Round) *domain.Round {
	c := *r
	c.Variants = append([]domain.Variant(nil), r.Variants...)
	return &c
}

func (s *memStore) CreateJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *memStore) GetJob(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(j), nil
}

func (s *memStore) UpdateJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return domain.ErrNotFound
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *memStore) ClaimRunnableJob(_ context.Context) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.Runnable {
			j.Runnable = false
			return cloneJob(j), nil
		}
	}
	return nil, ErrNoJob
}

func (s *memStore) CreateRound(_ context.Context, round *domain.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rounds[round.ID] = cloneRound(round)
	s.order = append(s.order, round.ID)
	return nil
}

func (s *memStore) GetRound(_ context.Context, id string) (*domain.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneRound(r), nil
}

func (s *memStore) CurrentRounds(_ context.Context, jobID string) ([]domain.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Round
	for _, id := range s.order {
		r := s.rounds[id]
		if r.JobID == jobID && !r.Superseded {
			out = append(out, *cloneRound(r))
		}
	}
	return out, nil
}

func (s *memStore) AddVariant(_ context.Context, v *domain.Variant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[v.RoundID]
	if !ok {
		return domain.ErrNotFound
	}
	r.Variants = append(r.Variants, *v)
	return nil
}

func (s *memStore) SetRoundSelection(_ context.Context, roundID, variantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[roundID]
	if !ok {
		return domain.ErrNotFound
	}
	r.SelectedID = variantID
	return nil
}

func (s *memStore) SupersedeRounds(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rounds {
		if r.JobID == jobID {
			r.Superseded = true
		}
	}
	return nil
}

func (s *memStore) ConsumeDailyQuota(_ context.Context, userID string, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quota[userID] >= limit {
		return s.quota[userID], domain.ErrQuotaExceeded
	}
	s.quota[userID]++
	return s.quota[userID], nil
}

// memAssets is an in-memory AssetStore.
type memAssets struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemAssets() *memAssets {
	return &memAssets{blobs: map[string][]byte{}}
}

func (a *memAssets) Write(_ context.Context, key string, data []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.blobs[key] = append([]byte(nil), data...)
	return key, nil
}

func (a *memAssets) Read(_ context.Context, key string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.blobs[key]
	if !ok {
		return nil, fmt.Errorf("asset %q: %w", key, domain.ErrNotFound)
	}
	return data, nil
}

// recordingTransport captures outbound messages for assertions.
type recordingTransport struct {
	mu      sync.Mutex
	texts   []string
	reviews [][]domain.Round
}

func (t *recordingTransport) SendText(_ context.Context, _ string, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.texts = append(t.texts, text)
}

func (t *recordingTransport) SendReview(_ context.Context, _ string, _ *domain.Job, rounds []domain.Round) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reviews = append(t.reviews, rounds)
}

func (t *recordingTransport) lastText() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.texts) == 0 {
		return ""
	}
	return t.texts[len(t.texts)-1]
}

// fakeDownloader serves a canned reference, or a scripted error.
type fakeDownloader struct {
	ref *DownloadedReference
	err error
}

func (d *fakeDownloader) Fetch(context.Context, string) (*DownloadedReference, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.ref, nil
}

// fakeAnalyzer returns a fixed brief; errs holds scripted per-call failures
// consumed first.
type fakeAnalyzer struct {
	brief *domain.StyleBrief
	errs  []error
	calls int
}

func (a *fakeAnalyzer) Analyze(context.Context, []byte, string, domain.MediaKind) (*domain.StyleBrief, error) {
	a.calls++
	if len(a.errs) > 0 {
		err := a.errs[0]
		a.errs = a.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return a.brief, nil
}

// fakeVisual emits the configured asset bytes; errs is consumed first, one per
// candidate slot. onGenerate, when set, runs before each call and can mutate
// external state mid-stage.
type fakeVisual struct {
	asset      []byte
	errs       []error
	calls      int
	reqs       []VisualRequest
	onGenerate func(call int)
}

func (v *fakeVisual) Generate(_ context.Context, req VisualRequest) (*GeneratedAsset, error) {
	v.calls++
	v.reqs = append(v.reqs, req)
	if v.onGenerate != nil {
		v.onGenerate(v.calls)
	}
	if len(v.errs) > 0 {
		err := v.errs[0]
		v.errs = v.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &GeneratedAsset{Data: v.asset, MIME: "image/png"}, nil
}

// fakeVideo completes after pollsUntilDone observations.
type fakeVideo struct {
	mu             sync.Mutex
	pollsUntilDone int
	polls          map[string]int
	asset          *GeneratedAsset
	startErr       error
	pollErr        error
	starts         int
}

func newFakeVideo(asset *GeneratedAsset) *fakeVideo {
	return &fakeVideo{pollsUntilDone: 1, polls: map[string]int{}, asset: asset}
}

func (v *fakeVideo) Start(context.Context, VideoRequest) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.startErr != nil {
		return "", v.startErr
	}
	v.starts++
	return fmt.Sprintf("op-%d", v.starts), nil
}

func (v *fakeVideo) Poll(_ context.Context, handle string) (*VideoPoll, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pollErr != nil {
		return nil, v.pollErr
	}
	v.polls[handle]++
	if v.polls[handle] < v.pollsUntilDone {
		return &VideoPoll{Done: false}, nil
	}
	return &VideoPoll{Done: true, Asset: v.asset}, nil
}

type fakeCaptions struct {
	pkg    *domain.CaptionPackage
	err    error
	briefs []*domain.StyleBrief
}

func (c *fakeCaptions) Write(_ context.Context, _ []byte, brief *domain.StyleBrief, _ *domain.Product) (*domain.CaptionPackage, error) {
	c.briefs = append(c.briefs, brief)
	if c.err != nil {
		return nil, c.err
	}
	return c.pkg, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	result *PublishResult
	errs   []error
	reqs   []PublishRequest
}

func (p *fakePublisher) Publish(_ context.Context, req PublishRequest) (*PublishResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return p.result, nil
}

type fakeCatalog struct {
	products map[string]*domain.Product
}

func (c *fakeCatalog) ResolveProduct(_ context.Context, code string) (*domain.Product, error) {
	p, ok := c.products[code]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

// pngBytes encodes a solid-color square for gate and asset plumbing tests.
func pngBytes(t *testing.T, c color.Color, size int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func testConfig() Config {
	return Config{
		ImageVariantsPerRound: 3,
		VideoVariantsPerRound: 2,
		MaxStageRetries:       1,
		ImageGateThreshold:    0.80,
		VideoGateThreshold:    0.80,
		FrameDriftThreshold:   0.70,
		VideoPollInterval:     time.Millisecond,
		VideoPollTimeout:      200 * time.Millisecond,
		DailySubmissionQuota:  20,
	}
}

// harness wires an orchestrator over in-memory collaborators with one seeded
// runnable job.
type harness struct {
	cfg        Config
	store      *memStore
	assets     *memAssets
	transport  *recordingTransport
	downloader *fakeDownloader
	analyzer   *fakeAnalyzer
	visual     *fakeVisual
	video      *fakeVideo
	captions   *fakeCaptions
	publisher  *fakePublisher
	catalog    *fakeCatalog
	exec       *Executor
	orch       *Orchestrator
	job        *domain.Job
}

func newHarness(t *testing.T, kind domain.MediaKind) *harness {
	t.Helper()
	subject := pngBytes(t, color.RGBA{R: 180, G: 120, B: 60, A: 255}, 64)

	h := &harness{
		cfg:       testConfig(),
		store:     newMemStore(),
		assets:    newMemAssets(),
		transport: &recordingTransport{},
		downloader: &fakeDownloader{ref: &DownloadedReference{
			Data:    pngBytes(t, color.RGBA{R: 10, G: 10, B: 10, A: 255}, 64),
			MIME:    "image/jpeg",
			Caption: "handwoven scarf, autumn drop",
		}},
		analyzer: &fakeAnalyzer{brief: &domain.StyleBrief{
			LayoutType: "flat-lay",
			VibeWords:  []string{"warm", "handcrafted"},
		}},
		visual:    &fakeVisual{asset: subject},
		video:     newFakeVideo(&GeneratedAsset{Data: []byte("mp4-bytes"), MIME: "video/mp4"}),
		captions:  &fakeCaptions{pkg: &domain.CaptionPackage{Caption: "Autumn warmth.", Hashtags: "#handmade"}},
		publisher: &fakePublisher{result: &PublishResult{ExternalPostID: "ig-123", Permalink: "https://instagram.com/p/abc"}},
		catalog:   &fakeCatalog{products: map[string]*domain.Product{}},
	}

	if kind == domain.MediaKindVideo {
		h.downloader.ref.MIME = "video/mp4"
	}

	h.exec = NewExecutor(h.cfg, ExecutorDeps{
		Store:      h.store,
		Assets:     h.assets,
		Downloader: h.downloader,
		Analyzer:   h.analyzer,
		Visual:     h.visual,
		Video:      h.video,
		Captions:   h.captions,
		Publisher:  h.publisher,
		Catalog:    h.catalog,
		Logger:     zerolog.Nop(),
	})
	h.orch = NewOrchestrator(h.cfg, h.store, h.exec, h.transport, h.catalog, zerolog.Nop())

	key, err := h.assets.Write(context.Background(), "subjects/scarf.png", subject)
	if err != nil {
		t.Fatalf("seed subject asset: %v", err)
	}

	url := "https://instagram.com/p/abc123/"
	if kind == domain.MediaKindVideo {
		url = "https://instagram.com/reel/xyz789/"
	}
	h.job = &domain.Job{
		ID:            "job-1",
		UserID:        "user-1",
		MediaKind:     kind,
		Status:        domain.JobStatusDraft,
		Reference:     domain.Reference{SourceURL: url},
		SubjectAssets: []domain.SubjectAsset{{Key: key, Position: 0}},
		Runnable:      true,
		CreatedAt:     time.Now().UTC(),
	}
	if err := h.store.CreateJob(context.Background(), h.job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return h
}

// run drives the job from its current status until the orchestrator parks it,
// re-reading the persisted state afterward.
func (h *harness) run(t *testing.T) *domain.Job {
	t.Helper()
	h.orch.RunJob(context.Background(), h.job)
	fresh, err := h.store.GetJob(context.Background(), h.job.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	h.job = fresh
	return fresh
}

// command applies one user reply and reloads the job.
func (h *harness) command(t *testing.T, text string) *domain.Job {
	t.Helper()
	if err := h.orch.HandleCommand(context.Background(), h.job, text); err != nil {
		t.Fatalf("handle command %q: %v", text, err)
	}
	fresh, err := h.store.GetJob(context.Background(), h.job.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	h.job = fresh
	return fresh
}
