package repo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postpilot/internal/domain"
	"postpilot/internal/sqlinline"
)

type simpleRow struct {
	scan func(dest ...any) error
}

func (r simpleRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

type fakeExecutor struct {
	execQueries []string
	execArgs    [][]any
	execTag     pgconn.CommandTag
	execErr     error
	row         func(query string, args ...any) pgx.Row
}

func (f *fakeExecutor) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	f.execQueries = append(f.execQueries, query)
	f.execArgs = append(f.execArgs, args)
	return f.execTag, f.execErr
}

func (f *fakeExecutor) QueryRow(_ context.Context, query string, args ...any) pgx.Row {
	if f.row == nil {
		return simpleRow{}
	}
	return f.row(query, args...)
}

func (f *fakeExecutor) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return nil, errors.New("query not supported in fake executor")
}

var placeholderPattern = regexp.MustCompile(`\$(\d+)`)

func placeholderCount(query string) int {
	max := 0
	for _, m := range placeholderPattern.FindAllStringSubmatch(query, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > max {
			max = n
		}
	}
	return max
}

func sampleJob(t *testing.T) *domain.Job {
	t.Helper()
	scheduled := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	return &domain.Job{
		ID:           "5a1f0c9e-1111-4222-8333-944445555666",
		UserID:       "user-1",
		ProductCode:  "VAK-101",
		MediaKind:    domain.MediaKindImage,
		KindOverride: true,
		Status:       domain.JobStatusAwaitingSelection,
		Reference: domain.Reference{
			SourceURL:    "https://www.instagram.com/p/abc123/",
			AssetKey:     "references/abc.jpg",
			MIME:         "image/jpeg",
			Caption:      "autumn layers",
			DetectedKind: domain.MediaKindImage,
		},
		SubjectAssets: []domain.SubjectAsset{{Key: "subjects/scarf.png", Position: 0}},
		StyleBrief: &domain.StyleBrief{
			LayoutType: "flat-lay",
			VibeWords:  []string{"warm", "handcrafted"},
		},
		Caption:         &domain.CaptionPackage{Caption: "Autumn warmth.", Hashtags: "#handmade"},
		CurrentRoundID:  "round-1",
		SelectedVariant: "variant-2",
		ExtensionKeys:   []string{"generated/extensions/a.mp4"},
		Runnable:        true,
		CaptionNote:     "warmer tone",
		RetryCounts:     map[domain.Stage]int{domain.StageStyle: 1},
		ErrorCode:       "transient_provider_error",
		PublishKey:      "post:job-1:variant:2:abcd1234",
		ScheduledAt:     &scheduled,
	}
}

func TestJobStatementsBindEveryArg(t *testing.T) {
	args, err := jobArgs(sampleJob(t))
	require.NoError(t, err)

	assert.Equal(t, placeholderCount(sqlinline.QInsertJob), len(args))
	assert.Equal(t, placeholderCount(sqlinline.QUpdateJob), len(args))
}

func TestUpdateJobBindsColumnsInOrder(t *testing.T) {
	exec := &fakeExecutor{execTag: pgconn.NewCommandTag("UPDATE 1")}
	store := NewStore(exec)
	job := sampleJob(t)

	require.NoError(t, store.UpdateJob(context.Background(), job))

	require.Len(t, exec.execArgs, 1)
	args := exec.execArgs[0]
	require.Equal(t, placeholderCount(sqlinline.QUpdateJob), len(args))
	assert.Contains(t, sqlinline.QUpdateJob, "user_id = $2")
	assert.Equal(t, job.ID, args[0])
	assert.Equal(t, job.UserID, args[1])
	assert.Equal(t, job.ProductCode, args[2])
	assert.Equal(t, string(job.MediaKind), args[3])
	assert.Equal(t, string(job.Status), args[5])
	assert.Equal(t, job.ScheduledAt, args[len(args)-1])
}

func TestUpdateJobMissingRow(t *testing.T) {
	exec := &fakeExecutor{execTag: pgconn.NewCommandTag("UPDATE 0")}
	store := NewStore(exec)

	err := store.UpdateJob(context.Background(), sampleJob(t))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// scanVals assigns prepared column values into scan destinations the way a
// pgx row would.
func scanVals(vals []any) func(dest ...any) error {
	return func(dest ...any) error {
		if len(dest) != len(vals) {
			return fmt.Errorf("scan expects %d destinations, got %d", len(vals), len(dest))
		}
		for i := range dest {
			switch d := dest[i].(type) {
			case *string:
				*d = vals[i].(string)
			case *bool:
				*d = vals[i].(bool)
			case *[]byte:
				if vals[i] != nil {
					*d = vals[i].([]byte)
				}
			case **time.Time:
				if p, ok := vals[i].(*time.Time); ok {
					*d = p
				}
			case *time.Time:
				*d = vals[i].(time.Time)
			default:
				return fmt.Errorf("unsupported scan destination %T at %d", dest[i], i)
			}
		}
		return nil
	}
}

func TestGetJobRoundTrip(t *testing.T) {
	job := sampleJob(t)
	args, err := jobArgs(job)
	require.NoError(t, err)

	now := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	vals := append(append([]any{}, args...), now, now)

	exec := &fakeExecutor{row: func(query string, rowArgs ...any) pgx.Row {
		assert.Equal(t, sqlinline.QGetJob, query)
		require.Len(t, rowArgs, 1)
		assert.Equal(t, job.ID, rowArgs[0])
		return simpleRow{scan: scanVals(vals)}
	}}
	store := NewStore(exec)

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)

	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, job.UserID, got.UserID)
	assert.Equal(t, job.MediaKind, got.MediaKind)
	assert.Equal(t, job.Status, got.Status)
	assert.Equal(t, job.Reference, got.Reference)
	assert.Equal(t, job.SubjectAssets, got.SubjectAssets)
	assert.Equal(t, job.StyleBrief, got.StyleBrief)
	assert.Equal(t, job.Caption, got.Caption)
	assert.Equal(t, job.ExtensionKeys, got.ExtensionKeys)
	assert.Equal(t, job.RetryCounts, got.RetryCounts)
	assert.Equal(t, job.PublishKey, got.PublishKey)
	require.NotNil(t, got.ScheduledAt)
	assert.True(t, job.ScheduledAt.Equal(*got.ScheduledAt))
}

func TestGetJobNotFound(t *testing.T) {
	exec := &fakeExecutor{row: func(string, ...any) pgx.Row { return simpleRow{} }}
	store := NewStore(exec)

	_, err := store.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConsumeDailyQuotaExceeded(t *testing.T) {
	exec := &fakeExecutor{row: func(string, ...any) pgx.Row { return simpleRow{} }}
	store := NewStore(exec)

	_, err := store.ConsumeDailyQuota(context.Background(), "user-1", 20)
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
}
