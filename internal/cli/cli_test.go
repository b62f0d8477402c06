package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendiscourse/congress-data-service/internal/analysis"
	"github.com/opendiscourse/congress-data-service/internal/models"
)

// congressAPI serves a two-bill collection and one bill detail.
func congressAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/bill", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("api_key"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"bills": [
				{"congress": 118, "type": "HR", "number": "1", "title": "Lower Energy Costs Act", "updateDate": "2024-01-02T10:00:00Z"},
				{"congress": 118, "type": "S", "number": "5", "title": "Water Resources Act", "updateDate": "2024-01-03T10:00:00Z"}
			],
			"pagination": {"count": 2}
		}`))
	})
	mux.HandleFunc("/v3/bill/118/hr/42", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"bill": {"congress": 118, "type": "HR", "number": "42", "title": "Detail Act", "introducedDate": "2023-01-09"}}`))
	})
	mux.HandleFunc("/v3/amendment", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "bad request"}`, http.StatusBadRequest)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testEnv(t *testing.T, apiURL string) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "cli.db")
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STORAGE_TYPE", "sqlite")
	t.Setenv("SQLITE_PATH", dbPath)
	t.Setenv("CONGRESS_API_BASE_URL", apiURL+"/v3")
	t.Setenv("CONGRESS_API_KEY", "test-key")
	t.Setenv("RATE_LIMIT_INTERVAL", "0s")
	t.Setenv("RETRY_COUNT", "1")
	t.Setenv("RETRY_BACKOFF", "0s")
	t.Setenv("LOG_LEVEL", "error")
	return dbPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "congress", cmd.Use)

	for _, name := range []string{"serve", "ingest", "sync-recent", "ingest-one", "runs", "analyze"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
}

func TestIngestCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	ingest, _, err := cmd.Find([]string{"ingest"})
	require.NoError(t, err)

	for _, name := range []string{"congress", "sub-type", "from-date", "to-date", "days", "max-pages"} {
		assert.NotNil(t, ingest.Flags().Lookup(name), name)
	}
}

func TestIngestOptions_Filters(t *testing.T) {
	opts := &IngestOptions{Congress: 118, SubType: "hr", FromDate: "2024-01-01", ToDate: "2024-02-01T12:00:00Z"}
	f, err := opts.filters()
	require.NoError(t, err)
	assert.Equal(t, 118, f.Congress)
	require.NotNil(t, f.FromDate)
	assert.Equal(t, "2024-01-01T00:00:00Z", f.FromDate.Format("2006-01-02T15:04:05Z07:00"))
	require.NotNil(t, f.ToDate)

	_, err = (&IngestOptions{Days: 3, FromDate: "2024-01-01"}).filters()
	assert.Error(t, err)

	_, err = (&IngestOptions{SubType: "hr"}).filters()
	assert.Error(t, err)

	_, err = (&IngestOptions{FromDate: "yesterday"}).filters()
	assert.Error(t, err)
}

func TestIngestAndRuns(t *testing.T) {
	api := congressAPI(t)
	testEnv(t, api.URL)

	out, err := execute(t, "ingest", "bills", "--max-pages", "1")
	require.NoError(t, err)

	var report reportOutput
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	assert.Equal(t, models.StatusCompleted, report.Status)
	assert.Equal(t, models.EntityBills, report.Entity)
	assert.Equal(t, models.RunSummary{Processed: 2, Created: 2}, report.Summary)
	assert.NotEmpty(t, report.RunID)

	out, err = execute(t, "ingest", "bills")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	assert.Equal(t, models.RunSummary{Processed: 2, Updated: 2}, report.Summary)

	out, err = execute(t, "runs", "--endpoint", "bills")
	require.NoError(t, err)
	var runs []models.SyncRun
	require.NoError(t, json.Unmarshal([]byte(out), &runs), out)
	require.Len(t, runs, 2)
	for _, run := range runs {
		assert.Equal(t, models.StatusCompleted, run.Status)
	}

	out, err = execute(t, "runs", report.RunID)
	require.NoError(t, err)
	var run models.SyncRun
	require.NoError(t, json.Unmarshal([]byte(out), &run), out)
	assert.Equal(t, report.RunID, run.ID)

	_, err = execute(t, "runs", "missing-id")
	assert.ErrorContains(t, err, "not found")
}

func TestIngestOne(t *testing.T) {
	api := congressAPI(t)
	testEnv(t, api.URL)

	out, err := execute(t, "ingest-one", "bill", "118-hr-42")
	require.NoError(t, err)

	var report reportOutput
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	assert.Equal(t, models.StatusCompleted, report.Status)
	assert.Equal(t, models.RunSummary{Processed: 1, Created: 1}, report.Summary)

	_, err = execute(t, "ingest-one", "bills", "118")
	assert.Error(t, err)
}

func TestIngest_FailedRunReturnsRunFailedError(t *testing.T) {
	api := congressAPI(t)
	testEnv(t, api.URL)

	out, err := execute(t, "ingest", "amendments")
	require.Error(t, err)

	var failed *RunFailedError
	require.ErrorAs(t, err, &failed)

	var report reportOutput
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	assert.Equal(t, models.StatusFailed, report.Status)
	assert.Equal(t, failed.RunID, report.RunID)
	assert.NotEmpty(t, report.Error)
}

func TestSyncRecent_MultipleEntities(t *testing.T) {
	api := congressAPI(t)
	testEnv(t, api.URL)

	out, err := execute(t, "sync-recent", "--entity", "bills", "--entity", "amendments", "--days", "2")
	require.Error(t, err, "the amendments run fails")

	var reports []reportOutput
	require.NoError(t, json.Unmarshal([]byte(out), &reports), out)
	require.Len(t, reports, 2)
	assert.Equal(t, models.StatusCompleted, reports[0].Status)
	assert.Equal(t, models.StatusFailed, reports[1].Status)

	_, err = execute(t, "sync-recent", "--entity", "laws")
	assert.ErrorContains(t, err, "unknown entity type")
}

func TestAnalyzeCommand(t *testing.T) {
	api := congressAPI(t)
	testEnv(t, api.URL)

	_, err := execute(t, "analyze", "statistics", "--congress", "118")
	assert.ErrorIs(t, err, analysis.ErrNoData)

	_, err = execute(t, "ingest", "bills")
	require.NoError(t, err)

	out, err := execute(t, "analyze", "statistics", "--congress", "118")
	require.NoError(t, err)
	var stats analysis.BillStatistics
	require.NoError(t, json.Unmarshal([]byte(out), &stats), out)
	assert.Equal(t, 2, stats.TotalBills)
	assert.Equal(t, map[string]int{"hr": 1, "s": 1}, stats.ByType)

	_, err = execute(t, "analyze", "compare", "--congresses", "118")
	assert.ErrorContains(t, err, "at least two")

	_, err = execute(t, "analyze", "temporal", "--group-by", "year")
	assert.Error(t, err)

	_, err = execute(t, "analyze", "everything")
	assert.Error(t, err)

	_, err = execute(t, "analyze", "member")
	assert.ErrorContains(t, err, "--member")

	_, err = execute(t, "analyze", "sessions")
	assert.ErrorIs(t, err, analysis.ErrNoData)
}

func TestConfigFileFlag(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "from-file.db")
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("storage:\n  type: sqlite\n  sqlite_path: "+dbPath+"\nlog:\n  level: error\n  format: text\n"), 0o644))
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STORAGE_TYPE", "")
	t.Setenv("SQLITE_PATH", "")

	out, err := execute(t, "--config", cfgPath, "runs")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "store is created at the configured path")
}

func TestLogLevelFlagIsValidated(t *testing.T) {
	testEnv(t, "http://localhost")

	_, err := execute(t, "--log-level", "loud", "runs")
	assert.ErrorContains(t, err, "invalid configuration")
}
