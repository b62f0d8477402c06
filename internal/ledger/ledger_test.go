package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/opendiscourse/congress-data-service/internal/models"
)

// MockStore is a mock implementation of the Store interface
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateSyncRun(ctx context.Context, run *models.SyncRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockStore) FinishSyncRun(ctx context.Context, run *models.SyncRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockStore) GetSyncRun(ctx context.Context, id string) (*models.SyncRun, error) {
	args := m.Called(ctx, id)
	run, _ := args.Get(0).(*models.SyncRun)
	return run, args.Error(1)
}

func (m *MockStore) ListSyncRuns(ctx context.Context, endpoint string, limit int) ([]*models.SyncRun, error) {
	args := m.Called(ctx, endpoint, limit)
	runs, _ := args.Get(0).([]*models.SyncRun)
	return runs, args.Error(1)
}

func fixedClock(l *Ledger, t time.Time) {
	l.now = func() time.Time { return t }
}

func TestLedger_BeginPersistsRunningRow(t *testing.T) {
	store := new(MockStore)
	store.On("CreateSyncRun", mock.Anything, mock.MatchedBy(func(run *models.SyncRun) bool {
		return run.Status == models.StatusRunning &&
			run.CompletedAt == nil &&
			run.Endpoint == "bills" &&
			run.Mode == models.ModeFull &&
			run.ID != ""
	})).Return(nil)

	l := New(store)
	h, err := l.Begin(context.Background(), "bills", models.ModeFull, map[string]any{"congress": 118})
	require.NoError(t, err)
	assert.NotEmpty(t, h.ID())
	assert.Equal(t, 118, h.Run().Parameters["congress"])
	store.AssertExpectations(t)
}

func TestLedger_BeginStoreError(t *testing.T) {
	store := new(MockStore)
	store.On("CreateSyncRun", mock.Anything, mock.Anything).Return(errors.New("db down"))

	_, err := New(store).Begin(context.Background(), "bills", models.ModeFull, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestLedger_CompleteExactlyOnce(t *testing.T) {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	finished := started.Add(time.Minute)

	store := new(MockStore)
	store.On("CreateSyncRun", mock.Anything, mock.Anything).Return(nil)
	store.On("FinishSyncRun", mock.Anything, mock.MatchedBy(func(run *models.SyncRun) bool {
		return run.Status == models.StatusCompleted &&
			run.CompletedAt != nil && run.CompletedAt.Equal(finished) &&
			run.Counts.Processed == 3 &&
			run.Error == nil
	})).Return(nil).Once()

	l := New(store)
	fixedClock(l, started)
	h, err := l.Begin(context.Background(), "members", models.ModeIncremental, nil)
	require.NoError(t, err)

	fixedClock(l, finished)
	counts := models.RunSummary{Processed: 3, Created: 2, Updated: 1}
	require.NoError(t, l.Complete(context.Background(), h, counts, models.StatusCompleted, nil))

	err = l.Complete(context.Background(), h, counts, models.StatusCompleted, nil)
	assert.ErrorIs(t, err, ErrAlreadyCompleted)
	assert.Equal(t, started, h.Run().StartedAt)
	store.AssertNumberOfCalls(t, "FinishSyncRun", 1)
}

func TestLedger_CompleteFailedRecordsError(t *testing.T) {
	store := new(MockStore)
	store.On("CreateSyncRun", mock.Anything, mock.Anything).Return(nil)
	store.On("FinishSyncRun", mock.Anything, mock.MatchedBy(func(run *models.SyncRun) bool {
		return run.Status == models.StatusFailed && run.Error != nil && *run.Error == "page 3 failed"
	})).Return(nil)

	l := New(store)
	h, err := l.Begin(context.Background(), "bills", models.ModeFull, nil)
	require.NoError(t, err)

	err = l.Complete(context.Background(), h, models.RunSummary{}, models.StatusFailed, errors.New("page 3 failed"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, h.Run().Status)
}

func TestLedger_CompleteRejectsRunningStatus(t *testing.T) {
	store := new(MockStore)
	store.On("CreateSyncRun", mock.Anything, mock.Anything).Return(nil)

	l := New(store)
	h, err := l.Begin(context.Background(), "bills", models.ModeFull, nil)
	require.NoError(t, err)

	err = l.Complete(context.Background(), h, models.RunSummary{}, models.StatusRunning, nil)
	assert.ErrorIs(t, err, ErrInvalidStatus)
	store.AssertNotCalled(t, "FinishSyncRun", mock.Anything, mock.Anything)
}

func TestLedger_ListDefaultsLimit(t *testing.T) {
	store := new(MockStore)
	store.On("ListSyncRuns", mock.Anything, "bills", 20).Return([]*models.SyncRun{{ID: "a"}}, nil)

	runs, err := New(store).List(context.Background(), "bills", 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
