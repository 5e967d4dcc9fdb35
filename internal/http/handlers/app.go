package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"postpilot/internal/domain"
	"postpilot/internal/infra"
	"postpilot/internal/pipeline"
)

// JobStore is the slice of the repository the API surface needs. The pgx-backed
// implementation lives in internal/adapter/repo.
type JobStore interface {
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	CurrentRounds(ctx context.Context, jobID string) ([]domain.Round, error)
	ActiveJobForUser(ctx context.Context, userID string) (*domain.Job, error)
}

// Pipeline is the orchestrator surface handlers touch: create a job, relay a
// reply. Every stage runs in the worker process, never inside a request.
type Pipeline interface {
	Intake(ctx context.Context, req pipeline.IntakeRequest) (*domain.Job, error)
	HandleCommand(ctx context.Context, job *domain.Job, text string) error
}

// App is the handler container.
type App struct {
	Store    JobStore
	Orch     Pipeline
	Validate *validator.Validate
	Logger   infra.Logger
}

func NewApp(store JobStore, orch Pipeline, logger infra.Logger) *App {
	return &App{
		Store:    store,
		Orch:     orch,
		Validate: validator.New(),
		Logger:   logger,
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) jsonError(w http.ResponseWriter, code int, msg string) {
	a.json(w, code, map[string]string{"error": msg})
}
