package enhance

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"lks_builder/internal/claims"
	"lks_builder/internal/dates"
	"lks_builder/internal/workbook"
)

type fakeReader struct {
	mu      sync.Mutex
	answers map[string]string
	fail    map[string]bool
	seen    []string
}

func (f *fakeReader) ReadDate(_ context.Context, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := filepath.Base(path)
	f.seen = append(f.seen, name)
	if f.fail[name] {
		return "", errors.New("connection refused")
	}
	return f.answers[name], nil
}

func buildWorkbook(t *testing.T) string {
	t.Helper()
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetName("Sheet1", workbook.SheetClaim))
	_, err := f.NewSheet(workbook.SheetAttachment)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "LKS (raw).xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	tpl, err := workbook.OpenTemplate(path)
	require.NoError(t, err)
	defer tpl.Close()
	at := func(d int) time.Time { return time.Date(2025, 12, d, 10, 0, 0, 0, time.UTC) }
	records := []claims.Record{
		{Seq: 1, SO: "100", StatusAt: at(4), Hari: dates.HariWeekday, WorkType: claims.WorkType},
		{Seq: 2, SO: "200", StatusAt: at(4), Hari: dates.HariWeekday, WorkType: claims.WorkType},
		{Seq: 3, SO: "300", StatusAt: at(5), Hari: dates.HariWeekday, WorkType: claims.WorkType},
		{Seq: 4, SO: "400", StatusAt: at(5), Hari: dates.HariWeekday, WorkType: claims.WorkType},
		{Seq: 5, SO: "500", StatusAt: at(5), Hari: dates.HariWeekday, WorkType: claims.WorkType},
	}
	require.NoError(t, tpl.WriteClaims(records, workbook.DataStartRow, workbook.DataStartRow))
	require.NoError(t, tpl.Save())
	return path
}

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("img"), 0o644))
	}
}

func TestFindPhotoPriority(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "1_ticket.png", "1_new.jpeg", "2_ticket.jpg")

	p, ok := FindPhoto(dir, "1")
	require.True(t, ok)
	assert.Equal(t, "1_new.jpeg", filepath.Base(p))

	p, ok = FindPhoto(dir, "2")
	require.True(t, ok)
	assert.Equal(t, "2_ticket.jpg", filepath.Base(p))

	_, ok = FindPhoto(dir, "3")
	assert.False(t, ok)
}

func TestRunAppliesOutcomesInRowOrder(t *testing.T) {
	path := buildWorkbook(t)
	dir := t.TempDir()
	touch(t, dir, "100_old.png", "200_old.png", "300_new.jpg", "400_ticket.png")
	reader := &fakeReader{
		answers: map[string]string{
			"100_old.png":    "04 Dec 2025",
			"200_old.png":    "06 Dec 2025",
			"300_new.jpg":    "NO DATE",
			"400_ticket.png": "ignored",
		},
		fail: map[string]bool{"400_ticket.png": true},
	}

	res, err := New(reader, 3, nil, nil).Run(context.Background(), path, dir)
	require.NoError(t, err)
	assert.Equal(t, Result{Rows: 5, Processed: 2, Diskon: 1, NoImage: 1, NoDate: 1, Failed: 1}, res)
	assert.Len(t, reader.seen, 4)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	v, err := f.GetCellValue(workbook.SheetClaim, "Q4")
	require.NoError(t, err)
	assert.Equal(t, "TECO LEWAT SEBAB DISKON (06 Dec 2025)", v)
	v, err = f.GetCellValue(workbook.SheetClaim, "R4")
	require.NoError(t, err)
	assert.Equal(t, dates.TaskForce, v)
	v, err = f.GetCellValue(workbook.SheetClaim, "Q3")
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestRunWithoutPhotosLeavesWorkbook(t *testing.T) {
	path := buildWorkbook(t)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	res, err := New(&fakeReader{}, 1, nil, nil).Run(context.Background(), path, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 5, res.NoImage)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRunMissingImageDir(t *testing.T) {
	path := buildWorkbook(t)
	_, err := New(&fakeReader{}, 1, nil, nil).Run(context.Background(), path, filepath.Join(t.TempDir(), "none"))
	assert.ErrorContains(t, err, "image directory not found")
}

func TestRunHonoursCancellation(t *testing.T) {
	path := buildWorkbook(t)
	dir := t.TempDir()
	touch(t, dir, "100_old.png")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(&fakeReader{}, 1, nil, nil).Run(ctx, path, dir)
	assert.ErrorIs(t, err, context.Canceled)
}
