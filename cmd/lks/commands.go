package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lks_builder/backfill"
	"lks_builder/internal/app"
	"lks_builder/internal/enhance"
	"lks_builder/internal/htmlexport"
	"lks_builder/internal/pipeline"
)

var (
	buildSheet      string
	buildImageSheet string
	buildOut        string
	buildYes        bool
	qcMark          bool
	backfillServer  string
	backfillLimit   int
)

var buildCmd = &cobra.Command{
	Use:   "build <raw> [template]",
	Short: "Build an LKS workbook from a raw export",
	Long: `Reads the raw export, aggregates one claim per service order (TRAS and
duplicate orders removed), appends the new claims to the template and saves
"LKS (<raw name>).xlsm". When the template already holds claims you are asked
before appending; --yes answers for you.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runBuild,
}

var enhanceCmd = &cobra.Command{
	Use:   "enhance <workbook> <images-dir>",
	Short: "Read photo dates with the vision model and update status dates",
	Args:  cobra.ExactArgs(2),
	RunE:  runEnhance,
}

var extractCmd = &cobra.Command{
	Use:   "extract-images <sheet.htm|export-dir> <out-dir>",
	Short: "Save the photos of an HTML sheet export as {SO}_{old|ticket|new}.png",
	Args:  cobra.ExactArgs(2),
	RunE:  runExtract,
}

var fixDatesCmd = &cobra.Command{
	Use:   "fix-dates <workbook>",
	Short: "Convert textual CLAIM status dates into date cells",
	Args:  cobra.ExactArgs(1),
	RunE:  runFixDates,
}

var qcCmd = &cobra.Command{
	Use:   "qc <workbook>",
	Short: "Re-check photo completeness of an LKS workbook",
	Args:  cobra.ExactArgs(1),
	RunE:  runQC,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Watch the inbox, run builds on a job queue and serve the ops API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Build inbox exports that were never built successfully",
	Args:  cobra.NoArgs,
	RunE:  runBackfill,
}

func init() {
	buildCmd.Flags().StringVar(&buildSheet, "sheet", "", "raw sheet name (default: configured raw sheet, else first sheet)")
	buildCmd.Flags().StringVar(&buildImageSheet, "image-sheet", "", "sheet holding attachment URLs (default: raw sheet)")
	buildCmd.Flags().StringVarP(&buildOut, "out", "o", "", "output path (default: next to the raw file)")
	buildCmd.Flags().BoolVarP(&buildYes, "yes", "y", false, "append to a template that already has claims without asking")
	qcCmd.Flags().BoolVar(&qcMark, "mark", false, "highlight defective rows and save the workbook")
	backfillCmd.Flags().StringVar(&backfillServer, "server", "", "ask a running server (e.g. localhost:8000) instead of building locally")
	backfillCmd.Flags().IntVar(&backfillLimit, "limit", 0, "maximum files to queue (default: configured backfill limit)")
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	req := pipeline.Request{
		RawPath:      args[0],
		TemplatePath: cfg.TemplatePath,
		OutputPath:   buildOut,
		Sheet:        firstNonEmpty(buildSheet, cfg.RawSheet),
		ImageSheet:   firstNonEmpty(buildImageSheet, cfg.ImageSheet),
		HeaderRow:    cfg.HeaderRow,
		Append:       buildYes,
	}
	if len(args) > 1 {
		req.TemplatePath = args[1]
	}

	proc := pipeline.NewProcessor(logger, nil, nil)
	out, err := proc.Process(ctx, req)
	if errors.Is(err, pipeline.ErrTemplateNotEmpty) {
		ok, perr := confirm(cmd.InOrStdin(), cmd.OutOrStdout(), fmt.Sprintf("%v. Append new SOs?", err))
		if perr != nil {
			return perr
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "aborted")
			return nil
		}
		req.Append = true
		out, err = proc.Process(ctx, req)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), styles.Build(out))
	return nil
}

// confirm asks a yes/no question; anything but y/yes is a no.
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N] ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func runEnhance(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	client := app.OCRClient(cfg, logger)
	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("vision model unavailable: %w", err)
	}
	res, err := enhance.New(client, cfg.OCR.Concurrency, logger, nil).Run(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), styles.Enhance(args[0], res))
	return nil
}

func runExtract(cmd *cobra.Command, args []string) error {
	sheet := args[0]
	info, err := os.Stat(sheet)
	if err != nil {
		return err
	}
	if info.IsDir() {
		if sheet, err = htmlexport.FindSheet(sheet); err != nil {
			return err
		}
	}
	logger.Debug("extracting photos", zap.String("sheet", sheet))
	res, err := htmlexport.Extract(sheet, args[1])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), styles.Extract(args[1], res))
	return nil
}

func runFixDates(cmd *cobra.Command, args []string) error {
	updated, total, err := pipeline.FixDates(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), styles.FixDates(args[0], updated, total))
	return nil
}

func runQC(cmd *cobra.Command, args []string) error {
	rep, err := pipeline.Recheck(args[0], qcMark)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), styles.Quality(args[0], rep))
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()
	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

func runBackfill(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()
	limit := backfillLimit
	if limit <= 0 {
		limit = cfg.BackfillLimit
	}

	var summary backfill.Summary
	var err error
	if backfillServer != "" {
		summary, err = remoteBackfill(ctx, &http.Client{Timeout: 30 * time.Second}, normalizeBaseURL(backfillServer, cfg.HTTPPort), limit)
	} else {
		summary, err = localBackfill(ctx, limit)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), styles.Backfill(summary))
	return nil
}

// localBackfill queues pending inbox files on an in-process runner and waits
// for the queue to drain.
func localBackfill(ctx context.Context, limit int) (backfill.Summary, error) {
	a, err := app.New(cfg, logger)
	if err != nil {
		return backfill.Summary{}, err
	}
	defer a.Store().Close()
	a.Runner().Start(ctx)
	summary, err := a.Watcher().Backfill(ctx, limit)
	a.Runner().Stop(ctx)
	return summary, err
}

func remoteBackfill(ctx context.Context, client *http.Client, baseURL string, limit int) (backfill.Summary, error) {
	var summary backfill.Summary
	endpoint := baseURL + "/ops/backfill?limit=" + strconv.Itoa(limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return summary, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return summary, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return summary, fmt.Errorf("backfill: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return summary, json.NewDecoder(resp.Body).Decode(&summary)
}

// normalizeBaseURL turns "host:port/" or "" into an http base URL.
func normalizeBaseURL(raw, port string) string {
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "/")
	if raw == "" {
		raw = port
		if strings.HasPrefix(port, ":") {
			raw = "localhost" + port
		}
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "http://" + raw
	}
	return raw
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
