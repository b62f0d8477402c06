// Package ledger records one SyncRun per ingestion run.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opendiscourse/congress-data-service/internal/models"
)

var (
	// ErrAlreadyCompleted is returned by a second Complete on the same handle.
	ErrAlreadyCompleted = errors.New("sync run already completed")

	// ErrInvalidStatus is returned when Complete is given a non-final status.
	ErrInvalidStatus = errors.New("sync run must finish as completed or failed")
)

// Store persists ledger rows.
type Store interface {
	CreateSyncRun(ctx context.Context, run *models.SyncRun) error
	FinishSyncRun(ctx context.Context, run *models.SyncRun) error
	GetSyncRun(ctx context.Context, id string) (*models.SyncRun, error)
	ListSyncRuns(ctx context.Context, endpoint string, limit int) ([]*models.SyncRun, error)
}

// Ledger opens and closes SyncRun rows.
type Ledger struct {
	store Store
	now   func() time.Time
}

// New creates a new ledger
func New(store Store) *Ledger {
	return &Ledger{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Handle refers to an open SyncRun.
type Handle struct {
	run       models.SyncRun
	completed bool
}

// ID returns the run id.
func (h *Handle) ID() string {
	return h.run.ID
}

// Run returns a copy of the run as last written.
func (h *Handle) Run() models.SyncRun {
	return h.run
}

// Begin persists a running SyncRun and returns its handle.
func (l *Ledger) Begin(ctx context.Context, endpoint string, mode models.SyncMode, params map[string]any) (*Handle, error) {
	run := models.SyncRun{
		ID:         uuid.NewString(),
		Endpoint:   endpoint,
		Mode:       mode,
		StartedAt:  l.now(),
		Status:     models.StatusRunning,
		Parameters: params,
	}
	if err := l.store.CreateSyncRun(ctx, &run); err != nil {
		return nil, fmt.Errorf("failed to begin sync run: %w", err)
	}
	return &Handle{run: run}, nil
}

// Complete finalizes the run with its counts and final status. It must be
// called exactly once per Begin.
func (l *Ledger) Complete(ctx context.Context, h *Handle, counts models.RunSummary, status models.SyncStatus, runErr error) error {
	if h.completed {
		return ErrAlreadyCompleted
	}
	if status != models.StatusCompleted && status != models.StatusFailed {
		return fmt.Errorf("%w: got %q", ErrInvalidStatus, status)
	}

	run := h.run
	completedAt := l.now()
	run.CompletedAt = &completedAt
	run.Status = status
	run.Counts = counts
	if runErr != nil {
		msg := runErr.Error()
		run.Error = &msg
	}

	if err := l.store.FinishSyncRun(ctx, &run); err != nil {
		return fmt.Errorf("failed to complete sync run %s: %w", run.ID, err)
	}
	h.run = run
	h.completed = true
	return nil
}

// Get returns a run by id, or nil if it does not exist.
func (l *Ledger) Get(ctx context.Context, id string) (*models.SyncRun, error) {
	return l.store.GetSyncRun(ctx, id)
}

// List returns the most recent runs, optionally for one endpoint.
func (l *Ledger) List(ctx context.Context, endpoint string, limit int) ([]*models.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	return l.store.ListSyncRuns(ctx, endpoint, limit)
}
