// Package enhance corrects claim dates in an LKS workbook with the date read
// off each SO's meter photo.
package enhance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lks_builder/internal/dates"
	"lks_builder/internal/ocr"
	"lks_builder/internal/workbook"
	"lks_builder/metrics"
)

// DateReader returns a model's raw answer for one photo.
type DateReader interface {
	ReadDate(ctx context.Context, path string) (string, error)
}

// Photo kinds in lookup priority order, and accepted extensions.
var (
	photoKinds = []string{"old", "new", "ticket"}
	photoExts  = []string{".png", ".jpg", ".jpeg"}
)

// Result counts what happened to the CLAIM rows of one workbook.
type Result struct {
	Rows      int `json:"rows"`
	Processed int `json:"processed"`
	Diskon    int `json:"diskon"`
	NoImage   int `json:"no_image"`
	NoDate    int `json:"no_date"`
	Failed    int `json:"failed"`
}

// Enhancer runs the OCR date pass.
type Enhancer struct {
	reader      DateReader
	concurrency int
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// New builds an Enhancer issuing at most concurrency vision requests at once.
func New(reader DateReader, concurrency int, logger *zap.Logger, m *metrics.Metrics) *Enhancer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if m == nil {
		m = metrics.New()
	}
	return &Enhancer{reader: reader, concurrency: concurrency, logger: logger.Named("enhance"), metrics: m}
}

// FindPhoto returns the first existing {so}_{kind}{ext} file in dir, trying
// old, new then ticket.
func FindPhoto(dir, so string) (string, bool) {
	for _, kind := range photoKinds {
		for _, ext := range photoExts {
			p := filepath.Join(dir, so+"_"+kind+ext)
			if st, err := os.Stat(p); err == nil && !st.IsDir() {
				return p, true
			}
		}
	}
	return "", false
}

type answer struct {
	text string
	err  error
}

// Run reads every CLAIM row with a photo, queries the model and writes the
// date outcome back in row order. Per-row failures are counted, not fatal.
// The workbook is saved in place when at least one row changed.
func (e *Enhancer) Run(ctx context.Context, workbookPath, imagesDir string) (Result, error) {
	var res Result
	if st, err := os.Stat(imagesDir); err != nil || !st.IsDir() {
		return res, fmt.Errorf("image directory not found: %s", imagesDir)
	}
	tpl, err := workbook.OpenClaims(workbookPath)
	if err != nil {
		return res, err
	}
	defer tpl.Close()

	rows, err := tpl.ClaimRows()
	if err != nil {
		return res, err
	}
	res.Rows = len(rows)

	photos := make([]string, len(rows))
	answers := make([]answer, len(rows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, row := range rows {
		p, ok := FindPhoto(imagesDir, row.SO)
		if !ok {
			continue
		}
		photos[i] = p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			text, err := e.reader.ReadDate(gctx, p)
			e.metrics.RecordOCR(err)
			answers[i] = answer{text: text, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	for i, row := range rows {
		log := e.logger.With(zap.Int("row", row.Row), zap.String("so", row.SO))
		if photos[i] == "" {
			res.NoImage++
			continue
		}
		a := answers[i]
		if a.err != nil {
			res.Failed++
			log.Warn("vision request failed", zap.Error(a.err))
			continue
		}
		ocrDate, ok := ocr.ExtractDate(a.text)
		if !ok {
			res.NoDate++
			log.Info("no date in answer", zap.String("answer", a.text))
			continue
		}
		out := dates.Evaluate(row.StatusAt, ocrDate)
		if err := tpl.ApplyEnhancement(row.Row, out); err != nil {
			return res, err
		}
		res.Processed++
		if out.IsDiskon {
			res.Diskon++
			log.Info("diskon", zap.String("ocr", dates.FormatDisplay(ocrDate)), zap.Time("status", row.StatusAt))
		}
	}

	if res.Processed > 0 {
		if err := tpl.Save(); err != nil {
			return res, err
		}
	}
	e.logger.Info("enhancement finished",
		zap.String("workbook", workbookPath),
		zap.Int("processed", res.Processed),
		zap.Int("diskon", res.Diskon),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}
