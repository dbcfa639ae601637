// Package pipeline turns a raw service-order export into a populated LKS
// workbook and exposes the run as job stages.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lks_builder/formatting"
	"lks_builder/internal/claims"
	"lks_builder/internal/events"
	"lks_builder/internal/images"
	"lks_builder/internal/quality"
	"lks_builder/internal/workbook"
	"lks_builder/metrics"
)

// ErrTemplateNotEmpty is returned when the template already holds claims and
// the request does not allow appending.
var ErrTemplateNotEmpty = errors.New("template already contains claims")

// Progress steps published on the bus.
const (
	StepRead    = "read"
	StepBuild   = "build"
	StepWrite   = "write"
	StepImages  = "images"
	StepQuality = "quality"
	StepSave    = "save"
	StepDone    = "done"
)

// Request describes one build run.
type Request struct {
	RawPath      string
	TemplatePath string
	OutputPath   string // default: LKS (<raw stem>).xlsm next to the raw file
	Sheet        string // raw sheet; first sheet when empty
	ImageSheet   string // attachment URL sheet; Sheet when empty
	HeaderRow    int
	Append       bool
	SourceID     string
	JobID        int64
}

// Outcome is the result of one build run. Output is empty when nothing new
// was written.
type Outcome struct {
	RunID    string            `json:"run_id"`
	Source   string            `json:"source"`
	Output   string            `json:"output,omitempty"`
	Stats    claims.Stats      `json:"stats"`
	Excluded []claims.Excluded `json:"excluded"`
	NewRows  int               `json:"new_rows"`
	Skipped  int               `json:"skipped"`
	Report   quality.Report    `json:"report"`
	Summary  workbook.Summary  `json:"summary"`
	Elapsed  time.Duration     `json:"elapsed"`
}

// Processor runs builds.
type Processor struct {
	logger  *zap.Logger
	bus     *events.Bus
	metrics *metrics.Metrics
}

// NewProcessor builds a Processor. bus and m may be nil.
func NewProcessor(logger *zap.Logger, bus *events.Bus, m *metrics.Metrics) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Processor{logger: logger.Named("pipeline"), bus: bus, metrics: m}
}

func (p *Processor) progress(req Request, runID, step, msg string) {
	p.bus.Publish(events.Progress{
		RunID:    runID,
		JobID:    req.JobID,
		SourceID: req.SourceID,
		Step:     step,
		Message:  msg,
		At:       time.Now().UTC(),
	})
}

// Process reads the raw export, aggregates claims, appends the new ones to
// the template, injects photo formulas, flags incomplete rows and saves the
// result. Schema and empty-input failures come back as *claims.SchemaError
// and *claims.EmptyInputError.
func (p *Processor) Process(ctx context.Context, req Request) (Outcome, error) {
	start := time.Now()
	out := Outcome{RunID: uuid.NewString(), Source: req.RawPath}
	log := p.logger.With(zap.String("run", out.RunID), zap.String("raw", req.RawPath))

	for _, f := range []string{req.RawPath, req.TemplatePath} {
		if _, err := os.Stat(f); err != nil {
			return out, fmt.Errorf("input not found: %w", err)
		}
	}

	p.progress(req, out.RunID, StepRead, "reading raw data")
	sheet, err := workbook.ReadRaw(req.RawPath, workbook.ReadOptions{Sheet: req.Sheet, HeaderRow: req.HeaderRow})
	if err != nil {
		return out, err
	}

	p.progress(req, out.RunID, StepBuild, fmt.Sprintf("%d raw rows", len(sheet.Rows)))
	res, err := claims.Build(sheet)
	if err != nil {
		return out, err
	}
	out.Stats = res.Stats
	out.Excluded = res.Excluded
	log.Info("claims built",
		zap.Int("sos_after_tras", res.Stats.SOsAfterTras),
		zap.Int("duplicates_skipped", res.Stats.DuplicatesSkipped),
		zap.Int("tras_removed", res.Stats.TrasRemoved),
		zap.Int("invalid_dates", res.Stats.InvalidDates),
	)
	if err := ctx.Err(); err != nil {
		return out, err
	}

	tpl, err := workbook.OpenTemplate(req.TemplatePath)
	if err != nil {
		return out, err
	}
	defer tpl.Close()

	existing, err := tpl.ExistingSOs()
	if err != nil {
		return out, err
	}
	if len(existing) > 0 && !req.Append {
		return out, fmt.Errorf("%w: %d SOs", ErrTemplateNotEmpty, len(existing))
	}
	records := claims.Without(res.Records, existing)
	out.Skipped = len(res.Records) - len(records)
	out.NewRows = len(records)
	if len(records) == 0 {
		log.Info("all SOs already exist in template")
		p.progress(req, out.RunID, StepDone, "no new SOs")
		out.Elapsed = time.Since(start)
		return out, nil
	}

	p.progress(req, out.RunID, StepWrite, fmt.Sprintf("writing %d claims", len(records)))
	startClaim, err := tpl.NextEmptyRow(workbook.SheetClaim)
	if err != nil {
		return out, err
	}
	startAttach, err := tpl.NextEmptyRow(workbook.SheetAttachment)
	if err != nil {
		return out, err
	}
	if err := tpl.WriteClaims(records, startClaim, startAttach); err != nil {
		return out, err
	}

	p.progress(req, out.RunID, StepImages, "resolving photo urls")
	urlSheet := sheet
	if req.ImageSheet != "" && req.ImageSheet != sheet.Name {
		urlSheet, err = workbook.ReadRaw(req.RawPath, workbook.ReadOptions{Sheet: req.ImageSheet, HeaderRow: req.HeaderRow})
		if err != nil {
			return out, fmt.Errorf("image sheet: %w", err)
		}
	}
	visited, err := tpl.InjectImages(images.BuildMap(urlSheet))
	if err != nil {
		return out, err
	}
	log.Debug("image formulas injected", zap.Int("rows", visited))
	if err := ctx.Err(); err != nil {
		return out, err
	}

	p.progress(req, out.RunID, StepQuality, "checking photo completeness")
	report, err := Inspect(tpl)
	if err != nil {
		return out, err
	}
	out.Report = report
	if _, err := tpl.MarkDefective(report); err != nil {
		return out, err
	}
	if err := tpl.FormatAll(); err != nil {
		return out, err
	}
	if out.Summary, err = tpl.UpdateSummary(); err != nil {
		return out, err
	}

	out.Output = req.OutputPath
	if out.Output == "" {
		out.Output = formatting.OutputPath("", req.RawPath)
	}
	p.progress(req, out.RunID, StepSave, out.Output)
	if err := tpl.SaveAs(out.Output); err != nil {
		return out, err
	}

	p.metrics.RecordRun(out.NewRows, len(report.Missing))
	out.Elapsed = time.Since(start)
	p.progress(req, out.RunID, StepDone, fmt.Sprintf("%d new, %d defective", out.NewRows, len(report.Missing)))
	log.Info("workbook saved",
		zap.String("output", out.Output),
		zap.Int("new_rows", out.NewRows),
		zap.Int("defective", len(report.Missing)),
		zap.Duration("elapsed", out.Elapsed),
	)
	return out, nil
}

// Inspect re-reads the materialized attachment slots and analyzes them.
func Inspect(tpl *workbook.Template) (quality.Report, error) {
	slots, err := tpl.MaterializedSlots()
	if err != nil {
		return quality.Report{}, err
	}
	return quality.Analyze(slots), nil
}

// Recheck analyzes an existing LKS workbook. With mark set, defective rows
// are highlighted and the workbook saved in place.
func Recheck(path string, mark bool) (quality.Report, error) {
	tpl, err := workbook.OpenTemplate(path)
	if err != nil {
		return quality.Report{}, err
	}
	defer tpl.Close()
	report, err := Inspect(tpl)
	if err != nil {
		return report, err
	}
	if !mark {
		return report, nil
	}
	if _, err := tpl.MarkDefective(report); err != nil {
		return report, err
	}
	if err := tpl.FormatAll(); err != nil {
		return report, err
	}
	return report, tpl.Save()
}

// FixDates converts textual CLAIM status dates of the workbook at path into
// date cells and saves it in place.
func FixDates(path string) (updated, total int, err error) {
	tpl, err := workbook.OpenClaims(path)
	if err != nil {
		return 0, 0, err
	}
	defer tpl.Close()
	updated, total, err = tpl.FixDates()
	if err != nil {
		return updated, total, err
	}
	return updated, total, tpl.Save()
}
