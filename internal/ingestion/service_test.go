package ingestion

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/opendiscourse/congress-data-service/internal/config"
	"github.com/opendiscourse/congress-data-service/internal/congress"
	"github.com/opendiscourse/congress-data-service/internal/models"
	"github.com/opendiscourse/congress-data-service/internal/ratelimit"
	"github.com/opendiscourse/congress-data-service/internal/storage"
	"github.com/opendiscourse/congress-data-service/internal/value"
)

// MockStorage is a mock implementation of the Storage interface
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) Upsert(ctx context.Context, rec *models.Record) (models.UpsertOutcome, error) {
	args := m.Called(ctx, rec)
	return args.Get(0).(models.UpsertOutcome), args.Error(1)
}

func (m *MockStorage) GetRecord(ctx context.Context, entity models.EntityType, key models.NaturalKey) (*models.Record, error) {
	args := m.Called(ctx, entity, key)
	rec, _ := args.Get(0).(*models.Record)
	return rec, args.Error(1)
}

func (m *MockStorage) QueryRecords(ctx context.Context, q models.Query) ([]*models.Record, error) {
	args := m.Called(ctx, q)
	recs, _ := args.Get(0).([]*models.Record)
	return recs, args.Error(1)
}

func (m *MockStorage) SearchRecords(ctx context.Context, entity models.EntityType, text string, limit int) ([]*models.Record, error) {
	args := m.Called(ctx, entity, text, limit)
	recs, _ := args.Get(0).([]*models.Record)
	return recs, args.Error(1)
}

func (m *MockStorage) SampleRecords(ctx context.Context, entity models.EntityType, size int, q models.Query) ([]*models.Record, error) {
	args := m.Called(ctx, entity, size, q)
	recs, _ := args.Get(0).([]*models.Record)
	return recs, args.Error(1)
}

func (m *MockStorage) CreateSyncRun(ctx context.Context, run *models.SyncRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockStorage) FinishSyncRun(ctx context.Context, run *models.SyncRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockStorage) GetSyncRun(ctx context.Context, id string) (*models.SyncRun, error) {
	args := m.Called(ctx, id)
	run, _ := args.Get(0).(*models.SyncRun)
	return run, args.Error(1)
}

func (m *MockStorage) ListSyncRuns(ctx context.Context, endpoint string, limit int) ([]*models.SyncRun, error) {
	args := m.Called(ctx, endpoint, limit)
	runs, _ := args.Get(0).([]*models.SyncRun)
	return runs, args.Error(1)
}

func (m *MockStorage) EnsureSchema(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStorage) Close() error {
	args := m.Called()
	return args.Error(0)
}

// fakeSource serves canned pages keyed by path. Page tokens are page
// indexes.
type fakeSource struct {
	pages    map[string][]*congress.Page
	failPage map[string]int
	details  map[string]value.Object
	panicOn  string
	onCall   func()

	calls  int
	params []url.Values
}

func (f *fakeSource) GetCollection(ctx context.Context, path string, params url.Values, pageToken string) (*congress.Page, error) {
	f.calls++
	f.params = append(f.params, params)
	if path == f.panicOn {
		panic("source exploded")
	}
	if f.onCall != nil {
		f.onCall()
	}

	idx := 0
	if pageToken != "" {
		idx, _ = strconv.Atoi(pageToken)
	}
	if fail, ok := f.failPage[path]; ok && fail == idx {
		return nil, &congress.StatusError{Code: http.StatusInternalServerError}
	}
	pages := f.pages[path]
	if idx >= len(pages) {
		return &congress.Page{}, nil
	}
	return pages[idx], nil
}

func (f *fakeSource) GetDetail(ctx context.Context, path, key string) (value.Object, error) {
	f.calls++
	detail, ok := f.details[path]
	if !ok {
		return nil, &congress.StatusError{Code: http.StatusNotFound}
	}
	return detail, nil
}

func items(objs ...value.Object) []value.Value {
	out := make([]value.Value, len(objs))
	for i, obj := range objs {
		out[i] = obj
	}
	return out
}

func pagesOf(batches ...[]value.Object) []*congress.Page {
	pages := make([]*congress.Page, len(batches))
	for i, batch := range batches {
		pages[i] = &congress.Page{Records: items(batch...)}
		if i < len(batches)-1 {
			pages[i].Next = strconv.Itoa(i + 1)
		}
	}
	return pages
}

// billPayload builds a list item for HR <number> of the 118th Congress.
// number <= 0 omits the number.
func billPayload(number int, title string) value.Object {
	obj := value.Object{
		"congress":       value.Number("118"),
		"type":           value.String("HR"),
		"introducedDate": value.String("2023-01-09"),
		"updateDate":     value.String("2024-01-02T10:00:00Z"),
	}
	if title != "" {
		obj["title"] = value.String(title)
	}
	if number > 0 {
		obj["number"] = value.String(strconv.Itoa(number))
	}
	return obj
}

func testIngestionConfig() config.IngestionConfig {
	return config.IngestionConfig{
		RetryCount:      2,
		RetryBackoff:    0,
		Interval:        time.Hour,
		IncrementalDays: 7,
	}
}

func newSQLiteService(t *testing.T, source Source, cfg config.IngestionConfig) (*Service, storage.Storage) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(config.StorageConfig{
		SQLitePath: filepath.Join(t.TempDir(), "ingest.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return NewService(cfg, store, source, ratelimit.New(0), config.NopLogger()), store
}

func assertIdentity(t *testing.T, s models.RunSummary) {
	t.Helper()
	assert.Equal(t, s.Processed, s.Created+s.Updated+s.Failed, "processed must equal created+updated+failed")
}

func TestService_Ingest_TwoPagesEndToEnd(t *testing.T) {
	source := &fakeSource{pages: map[string][]*congress.Page{
		"bill": pagesOf(
			[]value.Object{billPayload(1, "First"), billPayload(2, "Second"), billPayload(3, "Third")},
			[]value.Object{billPayload(4, "Fourth"), billPayload(0, "No number")},
		),
	}}
	service, store := newSQLiteService(t, source, testIngestionConfig())
	ctx := context.Background()

	first := service.Ingest(ctx, models.EntityBills, models.Filters{}, 0)
	assert.Equal(t, models.RunSummary{Processed: 5, Created: 4, Updated: 0, Failed: 1}, first)
	assertIdentity(t, first)

	source.pages["bill"][0].Records[1] = billPayload(2, "Second, as amended")

	second := service.Ingest(ctx, models.EntityBills, models.Filters{}, 0)
	assert.Equal(t, models.RunSummary{Processed: 5, Created: 0, Updated: 4, Failed: 1}, second)
	assertIdentity(t, second)

	rows, err := store.QueryRecords(ctx, models.Query{EntityType: models.EntityBills})
	require.NoError(t, err)
	assert.Len(t, rows, 4)

	changed, err := store.GetRecord(ctx, models.EntityBills, models.NaturalKey{"118", "hr", "2"})
	require.NoError(t, err)
	require.NotNil(t, changed)
	assert.Equal(t, "Second, as amended", changed.String("title"), "the latest payload wins")

	runs, err := store.ListSyncRuns(ctx, "bills", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, run := range runs {
		assert.Equal(t, models.StatusCompleted, run.Status)
		assert.Equal(t, models.ModeFull, run.Mode)
		require.NotNil(t, run.CompletedAt)
		assert.Nil(t, run.Error)
		assert.Equal(t, 5, run.Counts.Processed)
	}
}

func TestService_Ingest_ZeroPagesCompletes(t *testing.T) {
	source := &fakeSource{}
	service, store := newSQLiteService(t, source, testIngestionConfig())

	report := service.Run(context.Background(), Job{Entity: models.EntityBills, Mode: models.ModeFull})

	assert.Equal(t, models.StatusCompleted, report.Status)
	assert.NoError(t, report.Err)
	assert.Equal(t, models.RunSummary{}, report.Summary)

	run, err := store.GetSyncRun(context.Background(), report.RunID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, models.StatusCompleted, run.Status)
	assert.Equal(t, models.RunSummary{}, run.Counts)
}

func TestService_Ingest_MissingRequiredFieldFailsRecordOnly(t *testing.T) {
	source := &fakeSource{pages: map[string][]*congress.Page{
		"bill": pagesOf([]value.Object{billPayload(0, "Nameless")}),
	}}
	service, store := newSQLiteService(t, source, testIngestionConfig())
	ctx := context.Background()

	report := service.Run(ctx, Job{Entity: models.EntityBills, Mode: models.ModeFull})

	assert.Equal(t, models.StatusCompleted, report.Status)
	assert.Equal(t, models.RunSummary{Processed: 1, Failed: 1}, report.Summary)

	rows, err := store.QueryRecords(ctx, models.Query{EntityType: models.EntityBills})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestService_Ingest_FetchFailureKeepsCounts(t *testing.T) {
	source := &fakeSource{
		pages: map[string][]*congress.Page{
			"bill": pagesOf(
				[]value.Object{billPayload(1, "First"), billPayload(2, "Second")},
				[]value.Object{billPayload(3, "Never seen")},
			),
		},
		failPage: map[string]int{"bill": 1},
	}
	service, store := newSQLiteService(t, source, testIngestionConfig())
	ctx := context.Background()

	report := service.Run(ctx, Job{Entity: models.EntityBills, Mode: models.ModeFull})

	assert.Equal(t, models.StatusFailed, report.Status)
	assert.Equal(t, models.RunSummary{Processed: 2, Created: 2}, report.Summary)

	var fetchErr *FetchError
	require.True(t, errors.As(report.Err, &fetchErr))
	assert.Equal(t, 2, fetchErr.Page)

	rows, err := store.QueryRecords(ctx, models.Query{EntityType: models.EntityBills})
	require.NoError(t, err)
	assert.Len(t, rows, 2, "records stored before the failure are kept")

	run, err := store.GetSyncRun(ctx, report.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, run.Status)
	assert.Equal(t, 2, run.Counts.Created)
	require.NotNil(t, run.Error)
	assert.Contains(t, *run.Error, "failed after 2 attempts")
}

func TestService_Ingest_StoreFailureCountsAndContinues(t *testing.T) {
	source := &fakeSource{pages: map[string][]*congress.Page{
		"bill": pagesOf([]value.Object{billPayload(1, "Broken"), billPayload(2, "Fine")}),
	}}

	mockStorage := new(MockStorage)
	mockStorage.On("CreateSyncRun", mock.Anything, mock.AnythingOfType("*models.SyncRun")).Return(nil)
	mockStorage.On("Upsert", mock.Anything, mock.MatchedBy(func(rec *models.Record) bool {
		return rec.Key.String() == "118-hr-1"
	})).Return(models.UpsertOutcome(""), errors.New("disk full"))
	mockStorage.On("Upsert", mock.Anything, mock.MatchedBy(func(rec *models.Record) bool {
		return rec.Key.String() == "118-hr-2"
	})).Return(models.OutcomeCreated, nil)
	mockStorage.On("FinishSyncRun", mock.Anything, mock.MatchedBy(func(run *models.SyncRun) bool {
		return run.Status == models.StatusCompleted &&
			run.Counts == models.RunSummary{Processed: 2, Created: 1, Failed: 1}
	})).Return(nil)

	service := NewService(testIngestionConfig(), mockStorage, source, ratelimit.New(0), config.NopLogger())
	summary := service.Ingest(context.Background(), models.EntityBills, models.Filters{}, 0)

	assert.Equal(t, models.RunSummary{Processed: 2, Created: 1, Failed: 1}, summary)
	mockStorage.AssertExpectations(t)
}

func TestService_Run_LedgerBeginFailure(t *testing.T) {
	source := &fakeSource{}
	mockStorage := new(MockStorage)
	mockStorage.On("CreateSyncRun", mock.Anything, mock.Anything).Return(assert.AnError)

	service := NewService(testIngestionConfig(), mockStorage, source, ratelimit.New(0), config.NopLogger())
	report := service.Run(context.Background(), Job{Entity: models.EntityBills})

	assert.Equal(t, models.StatusFailed, report.Status)
	assert.ErrorIs(t, report.Err, assert.AnError)
	assert.Empty(t, report.RunID)
	assert.Zero(t, source.calls, "nothing is fetched without a ledger row")
	mockStorage.AssertNotCalled(t, "FinishSyncRun", mock.Anything, mock.Anything)
}

func TestService_Run_InvalidFiltersRecordedAsFailed(t *testing.T) {
	source := &fakeSource{}
	service, store := newSQLiteService(t, source, testIngestionConfig())

	report := service.Run(context.Background(), Job{
		Entity:  models.EntityBills,
		Filters: models.Filters{SubType: "hr"},
	})

	assert.Equal(t, models.StatusFailed, report.Status)
	assert.Contains(t, report.Err.Error(), "invalid filters")
	assert.Zero(t, source.calls)

	run, err := store.GetSyncRun(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, run.Status)
}

func TestService_Run_RecoversPanic(t *testing.T) {
	source := &fakeSource{panicOn: "bill"}
	service, store := newSQLiteService(t, source, testIngestionConfig())

	report := service.Run(context.Background(), Job{Entity: models.EntityBills})

	assert.Equal(t, models.StatusFailed, report.Status)
	assert.Contains(t, report.Err.Error(), "source exploded")

	run, err := store.GetSyncRun(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, run.Status)
	require.NotNil(t, run.CompletedAt)
}

func TestService_Run_CancelledContextStillClosesRun(t *testing.T) {
	source := &fakeSource{pages: map[string][]*congress.Page{
		"bill": pagesOf(
			[]value.Object{billPayload(1, "First")},
			[]value.Object{billPayload(2, "Second")},
		),
	}}
	service, store := newSQLiteService(t, source, testIngestionConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source.onCall = cancel

	report := service.Run(ctx, Job{Entity: models.EntityBills})
	assert.Equal(t, models.StatusFailed, report.Status)
	assert.ErrorIs(t, report.Err, context.Canceled)
	assertIdentity(t, report.Summary)

	run, err := store.GetSyncRun(context.Background(), report.RunID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, models.StatusFailed, run.Status)
	assert.Equal(t, report.Summary, run.Counts)
}

func TestService_SyncRecent_UsesTrailingWindow(t *testing.T) {
	source := &fakeSource{}
	service, store := newSQLiteService(t, source, testIngestionConfig())

	now := time.Date(2024, 6, 15, 12, 30, 0, 0, time.UTC)
	service.now = func() time.Time { return now }

	summary := service.SyncRecent(context.Background(), models.EntityBills, 7)
	assert.Equal(t, models.RunSummary{}, summary)

	require.Len(t, source.params, 1)
	assert.Equal(t, "2024-06-08T12:30:00Z", source.params[0].Get("fromDateTime"))
	assert.Equal(t, "2024-06-15T12:30:00Z", source.params[0].Get("toDateTime"))

	runs, err := store.ListSyncRuns(context.Background(), "bills", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.ModeIncremental, runs[0].Mode)
	assert.EqualValues(t, 7, runs[0].Parameters["days"])
	assert.Equal(t, "2024-06-08T12:30:00Z", runs[0].Parameters["from_date"])
}

func TestService_SyncRecent_DefaultsDays(t *testing.T) {
	source := &fakeSource{}
	service, _ := newSQLiteService(t, source, testIngestionConfig())

	now := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	service.now = func() time.Time { return now }

	service.SyncRecent(context.Background(), models.EntityBills, 0)
	require.Len(t, source.params, 1)
	assert.Equal(t, "2024-06-08T00:00:00Z", source.params[0].Get("fromDateTime"))
}

func TestService_Ingest_MaxPages(t *testing.T) {
	source := &fakeSource{pages: map[string][]*congress.Page{
		"bill/118/hr": pagesOf(
			[]value.Object{billPayload(1, "One")},
			[]value.Object{billPayload(2, "Two")},
			[]value.Object{billPayload(3, "Three")},
		),
	}}
	service, _ := newSQLiteService(t, source, testIngestionConfig())

	summary := service.Ingest(context.Background(), models.EntityBills, models.Filters{Congress: 118, SubType: "HR"}, 2)
	assert.Equal(t, models.RunSummary{Processed: 2, Created: 2}, summary)
	assert.Equal(t, 2, source.calls)
}

func TestService_IngestOne(t *testing.T) {
	detail := billPayload(42, "Detailed bill")
	detail["laws"] = value.Array{value.Object{"number": value.String("118-5"), "type": value.String("Public Law")}}

	source := &fakeSource{details: map[string]value.Object{"bill/118/hr/42": detail}}
	service, store := newSQLiteService(t, source, testIngestionConfig())
	ctx := context.Background()

	summary := service.IngestOne(ctx, models.EntityBills, models.NaturalKey{"118", "hr", "42"})
	assert.Equal(t, models.RunSummary{Processed: 1, Created: 1}, summary)

	rec, err := store.GetRecord(ctx, models.EntityBills, models.NaturalKey{"118", "hr", "42"})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Bool("is_law"))
	assert.Equal(t, "118-5", rec.String("law_number"))

	runs, err := store.ListSyncRuns(ctx, "bills", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.ModeSingle, runs[0].Mode)
	assert.Equal(t, "118-hr-42", runs[0].Parameters["key"])
}

func TestService_IngestOne_Failures(t *testing.T) {
	source := &fakeSource{}
	service, _ := newSQLiteService(t, source, testIngestionConfig())
	ctx := context.Background()

	report := service.Run(ctx, Job{Entity: models.EntityBills, Mode: models.ModeSingle, Key: models.NaturalKey{"118", "hr", "404"}})
	assert.Equal(t, models.StatusFailed, report.Status)
	var fetchErr *FetchError
	assert.True(t, errors.As(report.Err, &fetchErr))

	report = service.Run(ctx, Job{Entity: models.EntityRecords, Mode: models.ModeSingle, Key: models.NaturalKey{"118", "1", "170", "1"}})
	assert.Equal(t, models.StatusFailed, report.Status)
	assert.Contains(t, report.Err.Error(), "not supported")
}

func TestService_EnrichesBillsWithoutTitle(t *testing.T) {
	source := &fakeSource{
		pages: map[string][]*congress.Page{
			"bill": pagesOf([]value.Object{billPayload(7, ""), billPayload(8, "")}),
		},
		details: map[string]value.Object{
			"bill/118/hr/7": {"title": value.String("Title from detail"), "number": value.Number("7")},
		},
	}
	cfg := testIngestionConfig()
	cfg.EnrichDetails = true
	service, store := newSQLiteService(t, source, cfg)
	ctx := context.Background()

	summary := service.Ingest(ctx, models.EntityBills, models.Filters{}, 0)
	assert.Equal(t, models.RunSummary{Processed: 2, Created: 2}, summary)

	enriched, err := store.GetRecord(ctx, models.EntityBills, models.NaturalKey{"118", "hr", "7"})
	require.NoError(t, err)
	assert.Equal(t, "Title from detail", enriched.String("title"))
	assert.Equal(t, int64(118), enriched.Int("congress"), "list fields survive the merge")

	fallback, err := store.GetRecord(ctx, models.EntityBills, models.NaturalKey{"118", "hr", "8"})
	require.NoError(t, err)
	require.NotNil(t, fallback, "failed detail fetch keeps the list record")
	assert.Empty(t, fallback.String("title"))
}

func TestService_CommitteesWalkBothChambers(t *testing.T) {
	committee := func(code, name string) value.Object {
		return value.Object{"systemCode": value.String(code), "name": value.String(name)}
	}
	source := &fakeSource{pages: map[string][]*congress.Page{
		"committee/house":  pagesOf([]value.Object{committee("hsag00", "Agriculture")}),
		"committee/senate": pagesOf([]value.Object{committee("ssfi00", "Finance"), committee("ssju00", "Judiciary")}),
	}}
	service, _ := newSQLiteService(t, source, testIngestionConfig())

	summary := service.Ingest(context.Background(), models.EntityCommittees, models.Filters{}, 0)
	assert.Equal(t, models.RunSummary{Processed: 3, Created: 3}, summary)
}

func TestService_CommitteesMaxPagesPerChamber(t *testing.T) {
	committee := func(code, name string) value.Object {
		return value.Object{"systemCode": value.String(code), "name": value.String(name)}
	}
	source := &fakeSource{pages: map[string][]*congress.Page{
		"committee/house": pagesOf(
			[]value.Object{committee("hsag00", "Agriculture")},
			[]value.Object{committee("hsap00", "Appropriations")},
		),
		"committee/senate": pagesOf([]value.Object{committee("ssfi00", "Finance")}),
	}}
	service, store := newSQLiteService(t, source, testIngestionConfig())
	ctx := context.Background()

	report := service.Run(ctx, Job{Entity: models.EntityCommittees, MaxPages: 1})
	assert.Equal(t, models.StatusCompleted, report.Status)
	assert.Equal(t, models.RunSummary{Processed: 2, Created: 2}, report.Summary)
	assert.Equal(t, 2, source.calls)

	senate, err := store.GetRecord(ctx, models.EntityCommittees, models.NaturalKey{"ssfi00"})
	require.NoError(t, err)
	assert.NotNil(t, senate, "the second chamber is reached")
}

func TestService_Run_CollectionResponses(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		status  models.SyncStatus
		summary models.RunSummary
	}{
		{
			name:    "non-object items count as failed",
			body:    `{"bills": [{"congress": 118, "type": "HR", "number": "1", "title": "Valid"}, "garbage", 42, null]}`,
			status:  models.StatusCompleted,
			summary: models.RunSummary{Processed: 4, Created: 1, Failed: 3},
		},
		{
			name:   "response without a collection fails the run",
			body:   `{"error": {"code": "API_KEY_INVALID"}}`,
			status: models.StatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(tt.body))
			}))
			defer api.Close()

			client, err := congress.NewClient(config.APIConfig{BaseURL: api.URL + "/v3", Key: "test", Timeout: 5 * time.Second})
			require.NoError(t, err)
			service, store := newSQLiteService(t, client, testIngestionConfig())
			ctx := context.Background()

			report := service.Run(ctx, Job{Entity: models.EntityBills})
			assert.Equal(t, tt.status, report.Status)
			assert.Equal(t, tt.summary, report.Summary)
			assertIdentity(t, report.Summary)

			run, err := store.GetSyncRun(ctx, report.RunID)
			require.NoError(t, err)
			require.NotNil(t, run)
			assert.Equal(t, tt.status, run.Status)
			assert.Equal(t, tt.summary, run.Counts)

			if tt.status == models.StatusFailed {
				var de *congress.DecodeError
				require.ErrorAs(t, report.Err, &de)
				var fetchErr *FetchError
				require.ErrorAs(t, report.Err, &fetchErr)
				assert.Equal(t, 1, fetchErr.Page)
				require.NotNil(t, run.Error)
				assert.Contains(t, *run.Error, "no collection in response")
			} else {
				assert.NoError(t, report.Err)
			}
		})
	}
}

func TestService_Start_StopsOnCancel(t *testing.T) {
	source := &fakeSource{}
	cfg := testIngestionConfig()
	cfg.Entities = []string{"bills", "laws"}
	service, store := newSQLiteService(t, source, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Start(ctx) }()

	require.Eventually(t, func() bool {
		runs, err := store.ListSyncRuns(context.Background(), "bills", 1)
		return err == nil && len(runs) == 1 && runs[0].Status == models.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestService_Start_NoValidEntities(t *testing.T) {
	cfg := testIngestionConfig()
	cfg.Entities = []string{"laws"}
	service, _ := newSQLiteService(t, &fakeSource{}, cfg)

	err := service.Start(context.Background())
	assert.Error(t, err)
}

func TestIncrementalWindow(t *testing.T) {
	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.FixedZone("EST", -5*3600))
	from, to := IncrementalWindow(now, 7)

	assert.Equal(t, time.UTC, to.Location())
	assert.True(t, to.Equal(now))
	assert.Equal(t, time.Date(2024, 3, 3, 13, 0, 0, 0, time.UTC), from)
	assert.Equal(t, 7*24*time.Hour, to.Sub(from))
}
