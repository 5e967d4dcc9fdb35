package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"postpilot/internal/domain"
	"postpilot/internal/infra"
	"postpilot/internal/pipeline"
	"postpilot/internal/sqlinline"
)

// Store is the PostgreSQL-backed pipeline.Store. Structured job fields are
// kept as jsonb so the schema stays stable while briefs and captions evolve.
type Store struct {
	db infra.SQLExecutor
}

func NewStore(db infra.SQLExecutor) *Store {
	return &Store{db: db}
}

var _ pipeline.Store = (*Store)(nil)

func (s *Store) CreateJob(ctx context.Context, job *domain.Job) error {
	args, err := jobArgs(job)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, sqlinline.QInsertJob, args...)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *Store) UpdateJob(ctx context.Context, job *domain.Job) error {
	args, err := jobArgs(job)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, sqlinline.QUpdateJob, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	row := s.db.QueryRow(ctx, sqlinline.QGetJob, id)
	job, err := scanJob(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

func (s *Store) ClaimRunnableJob(ctx context.Context) (*domain.Job, error) {
	row := s.db.QueryRow(ctx, sqlinline.QClaimRunnableJob)
	job, err := scanJob(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, pipeline.ErrNoJob
		}
		return nil, err
	}
	return job, nil
}

// ActiveJobForUser resolves the user's most recent non-terminal job, the one a
// conversational reply applies to.
func (s *Store) ActiveJobForUser(ctx context.Context, userID string) (*domain.Job, error) {
	var id string
	if err := s.db.QueryRow(ctx, sqlinline.QFindJobByUser, userID).Scan(&id); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return s.GetJob(ctx, id)
}

func (s *Store) CreateRound(ctx context.Context, round *domain.Round) error {
	_, err := s.db.Exec(ctx, sqlinline.QInsertRound,
		round.ID, round.JobID, string(round.Stage), round.SubjectIndex, round.Requested, round.Constrained)
	if err != nil {
		return fmt.Errorf("insert round: %w", err)
	}
	return nil
}

func (s *Store) GetRound(ctx context.Context, id string) (*domain.Round, error) {
	row := s.db.QueryRow(ctx, sqlinline.QGetRound, id)
	var r domain.Round
	var stage string
	if err := row.Scan(&r.ID, &r.JobID, &stage, &r.SubjectIndex, &r.Requested, &r.Constrained, &r.Superseded, &r.SelectedID, &r.CreatedAt); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	r.Stage = domain.Stage(stage)
	if err := s.loadVariants(ctx, []*domain.Round{&r}); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) CurrentRounds(ctx context.Context, jobID string) ([]domain.Round, error) {
	rows, err := s.db.Query(ctx, sqlinline.QCurrentRounds, jobID)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}
	defer rows.Close()

	var rounds []domain.Round
	for rows.Next() {
		var r domain.Round
		var stage string
		if err := rows.Scan(&r.ID, &r.JobID, &stage, &r.SubjectIndex, &r.Requested, &r.Constrained, &r.Superseded, &r.SelectedID, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Stage = domain.Stage(stage)
		rounds = append(rounds, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	refs := make([]*domain.Round, len(rounds))
	for i := range rounds {
		refs[i] = &rounds[i]
	}
	if err := s.loadVariants(ctx, refs); err != nil {
		return nil, err
	}
	return rounds, nil
}

func (s *Store) loadVariants(ctx context.Context, rounds []*domain.Round) error {
	if len(rounds) == 0 {
		return nil
	}
	ids := make([]string, len(rounds))
	byID := make(map[string]*domain.Round, len(rounds))
	for i, r := range rounds {
		ids[i] = r.ID
		byID[r.ID] = r
	}

	rows, err := s.db.Query(ctx, sqlinline.QRoundVariants, ids)
	if err != nil {
		return fmt.Errorf("query variants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v domain.Variant
		var verdict string
		if err := rows.Scan(&v.ID, &v.RoundID, &v.Index, &v.AssetKey, &v.PreviewURL, &v.GenParams, &v.Gate.Score, &verdict, &v.CreatedAt); err != nil {
			return err
		}
		v.Gate.Verdict = domain.GateVerdict(verdict)
		if r, ok := byID[v.RoundID]; ok {
			r.Variants = append(r.Variants, v)
		}
	}
	return rows.Err()
}

func (s *Store) AddVariant(ctx context.Context, v *domain.Variant) error {
	_, err := s.db.Exec(ctx, sqlinline.QInsertVariant,
		v.ID, v.RoundID, v.Index, v.AssetKey, v.PreviewURL, v.GenParams, v.Gate.Score, string(v.Gate.Verdict))
	if err != nil {
		return fmt.Errorf("insert variant: %w", err)
	}
	return nil
}

func (s *Store) SetRoundSelection(ctx context.Context, roundID, variantID string) error {
	tag, err := s.db.Exec(ctx, sqlinline.QSetRoundSelection, roundID, variantID)
	if err != nil {
		return fmt.Errorf("set round selection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) SupersedeRounds(ctx context.Context, jobID string) error {
	_, err := s.db.Exec(ctx, sqlinline.QSupersedeRounds, jobID)
	if err != nil {
		return fmt.Errorf("supersede rounds: %w", err)
	}
	return nil
}

func (s *Store) ConsumeDailyQuota(ctx context.Context, userID string, limit int) (int, error) {
	var used int
	err := s.db.QueryRow(ctx, sqlinline.QConsumeDailyQuota, userID, limit).Scan(&used)
	if err != nil {
		if infra.IsNoRows(err) {
			return limit, domain.ErrQuotaExceeded
		}
		return 0, fmt.Errorf("consume quota: %w", err)
	}
	return used, nil
}

// jobArgs flattens a job into the positional argument list shared by the
// insert and update statements.
func jobArgs(job *domain.Job) ([]any, error) {
	referenceJSON, err := json.Marshal(job.Reference)
	if err != nil {
		return nil, fmt.Errorf("marshal reference: %w", err)
	}
	subjectsJSON, err := json.Marshal(job.SubjectAssets)
	if err != nil {
		return nil, fmt.Errorf("marshal subjects: %w", err)
	}
	briefJSON, err := marshalOrNull(job.StyleBrief)
	if err != nil {
		return nil, fmt.Errorf("marshal brief: %w", err)
	}
	captionJSON, err := marshalOrNull(job.Caption)
	if err != nil {
		return nil, fmt.Errorf("marshal caption: %w", err)
	}
	extensionsJSON, err := json.Marshal(job.ExtensionKeys)
	if err != nil {
		return nil, fmt.Errorf("marshal extensions: %w", err)
	}
	retryJSON, err := json.Marshal(job.RetryCounts)
	if err != nil {
		return nil, fmt.Errorf("marshal retries: %w", err)
	}

	return []any{
		job.ID, job.UserID, job.ProductCode, string(job.MediaKind), job.KindOverride, string(job.Status),
		referenceJSON, subjectsJSON, briefJSON, captionJSON,
		job.CurrentRoundID, job.SelectedVariant, extensionsJSON,
		job.Runnable, job.PendingExtension, job.CaptionNote, job.RedoHint,
		retryJSON, job.ErrorCode, job.ErrorDetail,
		job.PublishKey, job.PublishedRef, job.Permalink,
		job.ScheduledAt,
	}, nil
}

func marshalOrNull(v any) ([]byte, error) {
	switch t := v.(type) {
	case *domain.StyleBrief:
		if t == nil {
			return nil, nil
		}
	case *domain.CaptionPackage:
		if t == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job            domain.Job
		mediaKind      string
		status         string
		referenceJSON  []byte
		subjectsJSON   []byte
		briefJSON      []byte
		captionJSON    []byte
		extensionsJSON []byte
		retryJSON      []byte
	)
	if err := row.Scan(
		&job.ID, &job.UserID, &job.ProductCode, &mediaKind, &job.KindOverride, &status,
		&referenceJSON, &subjectsJSON, &briefJSON, &captionJSON,
		&job.CurrentRoundID, &job.SelectedVariant, &extensionsJSON,
		&job.Runnable, &job.PendingExtension, &job.CaptionNote, &job.RedoHint,
		&retryJSON, &job.ErrorCode, &job.ErrorDetail,
		&job.PublishKey, &job.PublishedRef, &job.Permalink,
		&job.ScheduledAt, &job.CreatedAt, &job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.MediaKind = domain.MediaKind(mediaKind)
	job.Status = domain.JobStatus(status)

	if err := json.Unmarshal(referenceJSON, &job.Reference); err != nil {
		return nil, fmt.Errorf("unmarshal reference: %w", err)
	}
	if err := json.Unmarshal(subjectsJSON, &job.SubjectAssets); err != nil {
		return nil, fmt.Errorf("unmarshal subjects: %w", err)
	}
	if len(briefJSON) > 0 {
		job.StyleBrief = &domain.StyleBrief{}
		if err := json.Unmarshal(briefJSON, job.StyleBrief); err != nil {
			return nil, fmt.Errorf("unmarshal brief: %w", err)
		}
	}
	if len(captionJSON) > 0 {
		job.Caption = &domain.CaptionPackage{}
		if err := json.Unmarshal(captionJSON, job.Caption); err != nil {
			return nil, fmt.Errorf("unmarshal caption: %w", err)
		}
	}
	if len(extensionsJSON) > 0 {
		if err := json.Unmarshal(extensionsJSON, &job.ExtensionKeys); err != nil {
			return nil, fmt.Errorf("unmarshal extensions: %w", err)
		}
	}
	if len(retryJSON) > 0 {
		if err := json.Unmarshal(retryJSON, &job.RetryCounts); err != nil {
			return nil, fmt.Errorf("unmarshal retries: %w", err)
		}
	}
	return &job, nil
}
