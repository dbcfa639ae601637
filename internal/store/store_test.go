package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "lks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSourceLifecycle(t *testing.T) {
	ctx := context.Background()
	st := openTemp(t)
	ts := time.Date(2025, 12, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, st.UpsertSource(ctx, "dec.xlsx", "/inbox/dec.xlsx", "", SourcePending, nil, ts))
	msg := "sheet missing"
	require.NoError(t, st.UpdateSourceStage(ctx, "dec.xlsx", "BUILD", SourceFailed, &msg, ts.Add(time.Minute)))

	src, err := st.GetSource(ctx, "dec.xlsx")
	require.NoError(t, err)
	require.NotNil(t, src)
	assert.Equal(t, "/inbox/dec.xlsx", src.Path, "stage updates keep the path")
	assert.Equal(t, SourceFailed, src.Status)
	assert.Equal(t, "BUILD", src.LastStage)
	require.NotNil(t, src.LastError)
	assert.Equal(t, msg, *src.LastError)

	require.NoError(t, st.SetSourceStats(ctx, "dec.xlsx", map[string]int{"total": 3}, ts))
	src, err = st.GetSource(ctx, "dec.xlsx")
	require.NoError(t, err)
	require.NotNil(t, src.StatsJSON)
	assert.JSONEq(t, `{"total":3}`, *src.StatsJSON)

	missing, err := st.GetSource(ctx, "nope.xlsx")
	require.NoError(t, err)
	assert.Nil(t, missing)

	list, err := st.ListSources(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestInsertJobIdempotent(t *testing.T) {
	ctx := context.Background()
	st := openTemp(t)
	now := time.Now().UTC()
	job := &Job{SourceID: "a.xlsx", Stage: "BUILD", Status: "queued", IdempotencyKey: "k1", CreatedAt: now, UpdatedAt: now}

	first, err := st.InsertJobIdempotent(ctx, job)
	require.NoError(t, err)
	assert.NotZero(t, first.ID)
	assert.Equal(t, "{}", first.ParamsJSON)

	dup := &Job{SourceID: "a.xlsx", Stage: "BUILD", Status: "queued", IdempotencyKey: "k1", CreatedAt: now, UpdatedAt: now}
	existing, err := st.InsertJobIdempotent(ctx, dup)
	assert.ErrorIs(t, err, ErrConflict)
	require.NotNil(t, existing)
	assert.Equal(t, first.ID, existing.ID)

	require.NoError(t, st.MarkJobStarted(ctx, first.ID, now))
	require.NoError(t, st.MarkJobFinished(ctx, first.ID, "succeeded", now.Add(time.Second)))
	got, err := st.GetJob(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "succeeded", got.Status)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.FinishedAt)

	none, err := st.GetJob(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestJobLogsKeepOrder(t *testing.T) {
	ctx := context.Background()
	st := openTemp(t)
	ts := time.Now().UTC()
	for _, line := range []string{"read", "build", "save"} {
		require.NoError(t, st.AppendJobLog(ctx, 7, line, ts))
	}
	lines, err := st.JobLogs(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"read", "build", "save"}, lines)
}

func TestRunReportsAndDefects(t *testing.T) {
	ctx := context.Background()
	st := openTemp(t)
	base := time.Date(2025, 12, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, st.SaveRunReport(ctx, RunReport{RunID: "r1", SourceID: "s", Output: "out1.xlsm", StatsJSON: "{}", NewRows: 3, CreatedAt: base}, nil))
	defects := []Defect{
		{SO: "100", Missing: []string{"card", "new_meter"}},
		{SO: "101", Missing: []string{"old_meter"}},
	}
	require.NoError(t, st.SaveRunReport(ctx, RunReport{RunID: "r2", SourceID: "s", Output: "out2.xlsm", StatsJSON: "{}", NewRows: 1, Defects: 2, CreatedAt: base.Add(time.Hour)}, defects))

	latest, err := st.LatestReport(ctx, "s")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "r2", latest.RunID)
	assert.Equal(t, 2, latest.Defects)

	got, err := st.Defects(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, defects, got)

	none, err := st.LatestReport(ctx, "other")
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, st.Health(ctx))
}
