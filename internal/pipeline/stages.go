package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"lks_builder/formatting"
	"lks_builder/internal/config"
	"lks_builder/internal/enhance"
	"lks_builder/internal/jobs"
	"lks_builder/internal/notify"
	"lks_builder/internal/store"
)

// Deps are the collaborators the stages need. Enhancer may be nil, which
// makes ENHANCE jobs fail.
type Deps struct {
	Cfg       config.Config
	Store     *store.Store
	Processor *Processor
	Enhancer  *enhance.Enhancer
	Notifier  notify.Webhook
}

// BuildRegistry wires the stage functions.
func BuildRegistry(d Deps) jobs.Registry {
	return jobs.Registry{
		jobs.StageBuild:    buildStage(d),
		jobs.StageEnhance:  enhanceStage(d),
		jobs.StageFixDates: fixDatesStage(d),
	}
}

// RawPath is where a source lives unless the job names a path.
func RawPath(cfg config.Config, sourceID string, params map[string]any) string {
	if p := paramString(params, "path"); p != "" {
		return p
	}
	return filepath.Join(cfg.InboxDir, sourceID)
}

func buildStage(d Deps) jobs.StageFunc {
	return func(ctx context.Context, exec jobs.ExecutionContext, sourceID string, params map[string]any) error {
		raw := RawPath(d.Cfg, sourceID, params)
		if err := d.Store.UpsertSource(ctx, sourceID, raw, string(jobs.StageBuild), store.SourceRunning, nil, config.Now()); err != nil {
			return err
		}
		req := Request{
			RawPath:      raw,
			TemplatePath: firstNonEmpty(paramString(params, "template"), d.Cfg.TemplatePath),
			OutputPath:   formatting.OutputPath(d.Cfg.OutputDir, raw),
			Sheet:        firstNonEmpty(paramString(params, "sheet"), d.Cfg.RawSheet),
			ImageSheet:   firstNonEmpty(paramString(params, "image_sheet"), d.Cfg.ImageSheet),
			HeaderRow:    d.Cfg.HeaderRow,
			Append:       true,
			SourceID:     sourceID,
			JobID:        exec.JobID,
		}
		exec.Logf(fmt.Sprintf("build %s -> %s", raw, req.OutputPath))
		out, err := d.Processor.Process(ctx, req)
		if err != nil {
			return err
		}
		exec.Logf(fmt.Sprintf("run %s: %d new rows, %d skipped, %d defective", out.RunID, out.NewRows, out.Skipped, len(out.Report.Missing)))

		statsJSON, err := json.Marshal(out.Stats)
		if err != nil {
			return err
		}
		defects := make([]store.Defect, 0, len(out.Report.Defective))
		for _, so := range out.Report.Defective {
			defects = append(defects, store.Defect{SO: so, Missing: out.Report.Missing[so]})
		}
		if err := d.Store.SaveRunReport(ctx, store.RunReport{
			RunID:     out.RunID,
			SourceID:  sourceID,
			Output:    out.Output,
			StatsJSON: string(statsJSON),
			NewRows:   out.NewRows,
			Defects:   len(defects),
			CreatedAt: config.Now(),
		}, defects); err != nil {
			return err
		}
		if err := d.Store.SetSourceStats(ctx, sourceID, out.Stats, config.Now()); err != nil {
			return err
		}

		if d.Notifier.Enabled() && out.Output != "" {
			msg := notify.RunSummary(raw, out.Output, out.Stats, out.NewRows, out.Report)
			if err := d.Notifier.Send(ctx, msg); err != nil {
				exec.Logger.Warn("run notification failed", zap.Error(err))
				exec.Logf("notify failed: " + err.Error())
			}
		}
		return nil
	}
}

// workbookFor resolves the workbook a date stage works on: the job's
// "workbook" param, else the latest build output of the source.
func workbookFor(ctx context.Context, d Deps, sourceID string, params map[string]any) (string, error) {
	if p := paramString(params, "workbook"); p != "" {
		return p, nil
	}
	rep, err := d.Store.LatestReport(ctx, sourceID)
	if err != nil {
		return "", err
	}
	if rep == nil || rep.Output == "" {
		return "", fmt.Errorf("no built workbook for %s", sourceID)
	}
	return rep.Output, nil
}

func enhanceStage(d Deps) jobs.StageFunc {
	return func(ctx context.Context, exec jobs.ExecutionContext, sourceID string, params map[string]any) error {
		if d.Enhancer == nil {
			return errors.New("ocr enhancement is not configured")
		}
		path, err := workbookFor(ctx, d, sourceID, params)
		if err != nil {
			return err
		}
		dir := paramString(params, "images_dir")
		if dir == "" {
			stem := strings.TrimSuffix(sourceID, filepath.Ext(sourceID))
			dir = filepath.Join(d.Cfg.WorkDir, "images", stem)
		}
		exec.Logf(fmt.Sprintf("enhance %s with photos from %s", path, dir))
		res, err := d.Enhancer.Run(ctx, path, dir)
		if err != nil {
			return err
		}
		exec.Logf(fmt.Sprintf("processed %d, diskon %d, no image %d, no date %d, failed %d",
			res.Processed, res.Diskon, res.NoImage, res.NoDate, res.Failed))
		return nil
	}
}

func fixDatesStage(d Deps) jobs.StageFunc {
	return func(ctx context.Context, exec jobs.ExecutionContext, sourceID string, params map[string]any) error {
		path, err := workbookFor(ctx, d, sourceID, params)
		if err != nil {
			return err
		}
		updated, total, err := FixDates(path)
		if err != nil {
			return err
		}
		exec.Logf(fmt.Sprintf("updated %d/%d date cells in %s", updated, total, path))
		return nil
	}
}

func paramString(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
