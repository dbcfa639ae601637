package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"lks_builder/internal/claims"
	"lks_builder/internal/config"
	"lks_builder/internal/events"
	"lks_builder/internal/jobs"
	"lks_builder/internal/quality"
	"lks_builder/internal/store"
	"lks_builder/internal/workbook"
	"lks_builder/metrics"
)

var rawHeader = []any{"3MS SO No.", "Contract Account", "SO Status", "User Status", "Address", "Voltage",
	"SO Type", "SO Description", "Technician", "Status Date", "Site ID", "Old Meter no", "Old Comm Module",
	"New Meter no", "New Comm Module", "Attachments URL"}

func rawRow(so, user, addr, status, site, url string) []any {
	return []any{so, "ACC" + so, "TECO", user, addr, "240V", "Meter Exchange", "", "Ali", status, site,
		"OLD" + so, "", "NEW" + so, "COMM" + so, url}
}

func writeRaw(t *testing.T, dir string, rows ...[]any) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	all := append([][]any{rawHeader}, rows...)
	for i, row := range all {
		for j, v := range row {
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue("Sheet1", cell, v))
		}
	}
	path := filepath.Join(dir, "Data Dec.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func writeTemplate(t *testing.T, dir string) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetName("Sheet1", workbook.SheetClaim))
	_, err := f.NewSheet(workbook.SheetAttachment)
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue(workbook.SheetClaim, "B2", "Service Order"))
	require.NoError(t, f.SetCellValue(workbook.SheetClaim, "I2", "Status Date"))
	path := filepath.Join(dir, "LKS Template.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func sampleRaw(t *testing.T, dir string) string {
	return writeRaw(t, dir,
		rawRow("200", "", "Jalan 2", "Dec 5, 2025", "6346", "https://x/200_card.png"),
		rawRow("100", "", "Jalan 1", "Dec 4, 2025, 10:00 AM", "6340", "https://x/100_old_read.png"),
		rawRow("", "", "", "", "", "https://x/100_card.png"),
		rawRow("", "", "", "", "", "https://x/100_new_meter.png"),
		rawRow("300", "tras pending", "Jalan 3", "Dec 1, 2025", "6340", "https://x/300_old_read.png"),
		rawRow("200.0", "", "Jalan 2b", "Dec 6, 2025", "6340", ""),
	)
}

func TestProcessBuildsWorkbook(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewBus()
	sub := bus.Subscribe()
	m := metrics.New()
	p := NewProcessor(zap.NewNop(), bus, m)

	out, err := p.Process(context.Background(), Request{
		RawPath:      sampleRaw(t, dir),
		TemplatePath: writeTemplate(t, dir),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, out.RunID)
	assert.Equal(t, filepath.Join(dir, "LKS (Data Dec).xlsm"), out.Output)
	assert.Equal(t, 2, out.NewRows)
	assert.Equal(t, 0, out.Skipped)
	assert.Equal(t, claims.Stats{TotalSOsRaw: 4, TrasRemoved: 1, DuplicatesSkipped: 1, SOsAfterTras: 2}, out.Stats)
	require.Len(t, out.Excluded, 1)
	assert.Equal(t, "300", out.Excluded[0].SO)

	assert.Equal(t, []string{"200"}, out.Report.Defective)
	assert.Equal(t, []string{quality.MissingNew}, out.Report.Missing["200"])
	assert.Equal(t, 2, out.Summary.Total)
	assert.Equal(t, "04 Dec 2025 - 05 Dec 2025", out.Summary.DateRange())
	assert.Equal(t, int64(2), m.Snapshot().ClaimsWritten)

	f, err := excelize.OpenFile(out.Output)
	require.NoError(t, err)
	defer f.Close()
	v, err := f.GetCellValue(workbook.SheetClaim, "B3")
	require.NoError(t, err)
	assert.Equal(t, "100", v, "earliest status date first")
	v, err = f.GetCellValue(workbook.SheetClaim, "K3")
	require.NoError(t, err)
	assert.Equal(t, "Johor Bahru", v)
	formula, err := f.GetCellFormula(workbook.SheetAttachment, "D4")
	require.NoError(t, err)
	assert.Contains(t, formula, "200_card.png", "old slot falls back to the first url")

	var steps []string
	for len(sub) > 0 {
		if ev, ok := (<-sub).(events.Progress); ok {
			steps = append(steps, ev.Step)
		}
	}
	assert.Equal(t, []string{StepRead, StepBuild, StepWrite, StepImages, StepQuality, StepSave, StepDone}, steps)
}

func TestProcessRefusesNonEmptyTemplateWithoutAppend(t *testing.T) {
	dir := t.TempDir()
	raw := sampleRaw(t, dir)
	p := NewProcessor(nil, nil, nil)
	first, err := p.Process(context.Background(), Request{RawPath: raw, TemplatePath: writeTemplate(t, dir)})
	require.NoError(t, err)

	_, err = p.Process(context.Background(), Request{RawPath: raw, TemplatePath: first.Output, OutputPath: filepath.Join(dir, "again.xlsm")})
	assert.ErrorIs(t, err, ErrTemplateNotEmpty)

	again, err := p.Process(context.Background(), Request{RawPath: raw, TemplatePath: first.Output, OutputPath: filepath.Join(dir, "again.xlsm"), Append: true})
	require.NoError(t, err)
	assert.Equal(t, 0, again.NewRows)
	assert.Equal(t, 2, again.Skipped)
	assert.Empty(t, again.Output)
	_, err = os.Stat(filepath.Join(dir, "again.xlsm"))
	assert.True(t, os.IsNotExist(err))
}

func TestProcessSurfacesSchemaError(t *testing.T) {
	dir := t.TempDir()
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Address"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "Jalan 1"))
	raw := filepath.Join(dir, "bad.xlsx")
	require.NoError(t, f.SaveAs(raw))
	require.NoError(t, f.Close())

	_, err := NewProcessor(nil, nil, nil).Process(context.Background(), Request{RawPath: raw, TemplatePath: writeTemplate(t, dir)})
	var schemaErr *claims.SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, "Sheet1", schemaErr.Sheet)
}

func TestProcessMissingInput(t *testing.T) {
	dir := t.TempDir()
	_, err := NewProcessor(nil, nil, nil).Process(context.Background(), Request{RawPath: filepath.Join(dir, "none.xlsx"), TemplatePath: writeTemplate(t, dir)})
	assert.ErrorContains(t, err, "input not found")
}

func TestRecheckAndFixDates(t *testing.T) {
	dir := t.TempDir()
	out, err := NewProcessor(nil, nil, nil).Process(context.Background(), Request{RawPath: sampleRaw(t, dir), TemplatePath: writeTemplate(t, dir)})
	require.NoError(t, err)

	report, err := Recheck(out.Output, false)
	require.NoError(t, err)
	assert.Equal(t, out.Report, report)

	updated, total, err := FixDates(out.Output)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 2, updated)
}

func newStageDeps(t *testing.T) (Deps, string) {
	t.Helper()
	dir := t.TempDir()
	inbox := filepath.Join(dir, "inbox")
	require.NoError(t, os.MkdirAll(inbox, 0o755))
	st, err := store.Open(filepath.Join(dir, "lks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	cfg := config.Config{
		InboxDir:     inbox,
		OutputDir:    filepath.Join(dir, "out"),
		WorkDir:      filepath.Join(dir, "work"),
		TemplatePath: writeTemplate(t, dir),
		HeaderRow:    1,
	}
	return Deps{Cfg: cfg, Store: st, Processor: NewProcessor(nil, nil, nil)}, inbox
}

func execCtx() jobs.ExecutionContext {
	return jobs.ExecutionContext{Logger: zap.NewNop(), JobID: 1, Logf: func(string) {}}
}

func TestBuildStagePersistsReport(t *testing.T) {
	d, inbox := newStageDeps(t)
	sampleRaw(t, inbox)
	reg := BuildRegistry(d)
	ctx := context.Background()

	require.NoError(t, reg[jobs.StageBuild](ctx, execCtx(), "Data Dec.xlsx", nil))

	rep, err := d.Store.LatestReport(ctx, "Data Dec.xlsx")
	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.Equal(t, filepath.Join(d.Cfg.OutputDir, "LKS (Data Dec).xlsm"), rep.Output)
	assert.Equal(t, 2, rep.NewRows)
	assert.Equal(t, 1, rep.Defects)

	defects, err := d.Store.Defects(ctx, rep.RunID)
	require.NoError(t, err)
	assert.Equal(t, []store.Defect{{SO: "200", Missing: []string{quality.MissingNew}}}, defects)

	src, err := d.Store.GetSource(ctx, "Data Dec.xlsx")
	require.NoError(t, err)
	require.NotNil(t, src)
	assert.Equal(t, filepath.Join(inbox, "Data Dec.xlsx"), src.Path)
	require.NotNil(t, src.StatsJSON)
	assert.Contains(t, *src.StatsJSON, `"tras_removed":1`)
	assert.Contains(t, rep.StatsJSON, `"missing_technician":`)
	assert.Contains(t, rep.StatsJSON, `"same_old_new_meter":`)

	require.NoError(t, reg[jobs.StageFixDates](ctx, execCtx(), "Data Dec.xlsx", nil))
}

func TestDateStagesNeedWorkbook(t *testing.T) {
	d, _ := newStageDeps(t)
	reg := BuildRegistry(d)
	err := reg[jobs.StageFixDates](context.Background(), execCtx(), "never.xlsx", nil)
	assert.ErrorContains(t, err, "no built workbook")
	err = reg[jobs.StageEnhance](context.Background(), execCtx(), "never.xlsx", nil)
	assert.ErrorContains(t, err, "not configured")
}
