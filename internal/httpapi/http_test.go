package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lks_builder/backfill"
	"lks_builder/internal/config"
	"lks_builder/internal/events"
	"lks_builder/internal/jobs"
	"lks_builder/internal/store"
	"lks_builder/metrics"
	"lks_builder/queue"
)

type stubBackfill struct{ limit int }

func (b *stubBackfill) Backfill(_ context.Context, limit int) (backfill.Summary, error) {
	b.limit = limit
	return backfill.Summary{TotalCandidates: 3, EnqueueSucceeded: 2}, nil
}

type fixture struct {
	engine *gin.Engine
	store  *store.Store
	runner *jobs.Runner
	bus    *events.Bus
	bf     *stubBackfill
}

func setupTest(t *testing.T, start bool) fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Config{DBPath: filepath.Join(t.TempDir(), "test.db"), BackfillLimit: 7}
	st, err := store.Open(cfg.DBPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	noop := func(context.Context, jobs.ExecutionContext, string, map[string]any) error { return nil }
	reg := jobs.Registry{jobs.StageBuild: noop, jobs.StageEnhance: noop, jobs.StageFixDates: noop}
	bus := events.NewBus()
	m := metrics.New()
	runner := jobs.NewRunner(cfg, st, reg, queue.New(8, 0, time.Second, nil), bus, m, nil)
	if start {
		ctx := context.Background()
		runner.Start(ctx)
		t.Cleanup(func() { runner.Stop(ctx) })
	}
	bf := &stubBackfill{}
	router := NewRouter(cfg, st, runner, bus, m, bf, nil)
	return fixture{engine: router.Engine(), store: st, runner: runner, bus: bus, bf: bf}
}

func (f fixture) do(method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	f.engine.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	f := setupTest(t, true)
	rr := f.do(http.MethodGet, "/ops/health", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestHealthUnavailableBeforeStart(t *testing.T) {
	f := setupTest(t, false)
	rr := f.do(http.MethodGet, "/ops/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestOpsEnqueueEndpoint(t *testing.T) {
	f := setupTest(t, true)
	rr := f.do(http.MethodPost, "/ops/jobs/enqueue", []byte(`{"source_id":"dec.xlsx","stage":"build","params":{}}`))
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	var job store.Job
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &job))
	assert.Equal(t, "BUILD", job.Stage)
	assert.Equal(t, jobs.StatusQueued, job.Status)

	rr = f.do(http.MethodGet, "/ops/jobs/"+strconv.FormatInt(job.ID, 10), nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = f.do(http.MethodGet, "/ops/jobs/"+strconv.FormatInt(job.ID, 10)+"/logs", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(http.MethodGet, "/ops/jobs", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list []store.Job
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestEnqueueRejectsBadRequests(t *testing.T) {
	f := setupTest(t, true)
	rr := f.do(http.MethodPost, "/ops/jobs/enqueue", []byte(`{"source_id":"dec.xlsx","stage":"INGEST"}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = f.do(http.MethodPost, "/ops/jobs/enqueue", []byte(`{"stage":"BUILD"}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = f.do(http.MethodPost, "/ops/jobs/enqueue", []byte(`not json`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestEnqueueOnStoppedQueue(t *testing.T) {
	f := setupTest(t, false)
	rr := f.do(http.MethodPost, "/ops/jobs/enqueue", []byte(`{"source_id":"dec.xlsx","stage":"BUILD"}`))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestJobDetailErrors(t *testing.T) {
	f := setupTest(t, true)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/ops/jobs/99", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/ops/jobs/abc", nil).Code)
}

func TestReportEndpoint(t *testing.T) {
	f := setupTest(t, true)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, f.store.UpsertSource(ctx, "dec.xlsx", "/in/dec.xlsx", "BUILD", store.SourceDone, nil, now))
	require.NoError(t, f.store.SaveRunReport(ctx, store.RunReport{
		RunID: "run-1", SourceID: "dec.xlsx", Output: "/out/LKS_dec.xlsx", StatsJSON: "{}", NewRows: 3, Defects: 1, CreatedAt: now,
	}, []store.Defect{{SO: "200", Missing: []string{"old", "new"}}}))

	rr := f.do(http.MethodGet, "/api/reports/dec.xlsx", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Report  store.RunReport `json:"report"`
		Defects []store.Defect  `json:"defects"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Report.NewRows)
	require.Len(t, body.Defects, 1)
	assert.Equal(t, []string{"old", "new"}, body.Defects[0].Missing)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/reports/nope.xlsx", nil).Code)

	rr = f.do(http.MethodGet, "/api/sources", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "dec.xlsx")
}

func TestBackfillEndpoint(t *testing.T) {
	f := setupTest(t, true)
	rr := f.do(http.MethodPost, "/ops/backfill", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 7, f.bf.limit)
	var summary backfill.Summary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &summary))
	assert.Equal(t, 2, summary.EnqueueSucceeded)

	f.do(http.MethodPost, "/ops/backfill?limit=3", nil)
	assert.Equal(t, 3, f.bf.limit)
}

func TestMetricsAndStatus(t *testing.T) {
	f := setupTest(t, true)
	rr := f.do(http.MethodGet, "/ops/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "queue_capacity")
	rr = f.do(http.MethodGet, "/ops/status", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "queue")
}

type streamRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (r *streamRecorder) CloseNotify() <-chan bool { return r.closed }

func TestEventsStream(t *testing.T) {
	f := setupTest(t, true)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.bus.Publish(events.Progress{RunID: "r1", Step: "build", Message: "building"})
			}
		}
	}()

	req := httptest.NewRequest(http.MethodGet, "/ops/events", nil).WithContext(ctx)
	rr := &streamRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool, 1)}
	f.engine.ServeHTTP(rr, req)
	wg.Wait()

	assert.Contains(t, rr.Body.String(), "event:progress")
	assert.Contains(t, rr.Body.String(), "building")
}
