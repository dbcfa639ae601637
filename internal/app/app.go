// Package app wires the service components together.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lks_builder/backfill"
	"lks_builder/internal/config"
	"lks_builder/internal/enhance"
	"lks_builder/internal/events"
	"lks_builder/internal/httpapi"
	"lks_builder/internal/jobs"
	"lks_builder/internal/notify"
	"lks_builder/internal/ocr"
	"lks_builder/internal/pipeline"
	"lks_builder/internal/store"
	"lks_builder/internal/watch"
	"lks_builder/metrics"
	"lks_builder/queue"
)

const shutdownGrace = 30 * time.Second

// App holds the long-running service: job runner, inbox watcher and ops API.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	store   *store.Store
	bus     *events.Bus
	metrics *metrics.Metrics
	runner  *jobs.Runner
	watcher *watch.Watcher
	engine  *gin.Engine
}

// OCRClient builds the vision client described by cfg.
func OCRClient(cfg config.Config, logger *zap.Logger) *ocr.Client {
	return ocr.New(ocr.Config{
		BaseURL:        cfg.OCR.BaseURL,
		Model:          cfg.OCR.Model,
		RequestsPerSec: cfg.OCR.RequestsPerSec,
		MaxImagePx:     cfg.OCR.MaxImagePx,
		Timeout:        time.Duration(cfg.OCR.TimeoutSec) * time.Second,
	}, nil, logger)
}

func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, dir := range []string{cfg.InboxDir, cfg.OutputDir, cfg.WorkDir, filepath.Dir(cfg.DBPath)} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	bus := events.NewBus()
	m := metrics.New()

	var enhancer *enhance.Enhancer
	if cfg.OCR.BaseURL != "" && cfg.OCR.Model != "" {
		enhancer = enhance.New(OCRClient(cfg, logger), cfg.OCR.Concurrency, logger, m)
	}
	registry := pipeline.BuildRegistry(pipeline.Deps{
		Cfg:       cfg,
		Store:     st,
		Processor: pipeline.NewProcessor(logger, bus, m),
		Enhancer:  enhancer,
		Notifier:  notify.Webhook{URL: cfg.NotifyWebhookURL, Client: &http.Client{Timeout: 10 * time.Second}},
	})
	q := queue.New(cfg.JobQueueSize, cfg.WorkerCount, cfg.JobTimeout(), logger)
	runner := jobs.NewRunner(cfg, st, registry, q, bus, m, logger)
	watcher := watch.New(cfg, runner, st, m, logger)

	gin.SetMode(gin.ReleaseMode)
	router := httpapi.NewRouter(cfg, st, runner, bus, m, watcher, logger)
	return &App{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		bus:     bus,
		metrics: m,
		runner:  runner,
		watcher: watcher,
		engine:  router.Engine(),
	}, nil
}

// Run starts workers, watcher, the startup backfill and the HTTP server, and
// blocks until ctx ends or the server fails.
func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	a.runner.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		a.runner.Stop(stopCtx)
	}()
	if err := a.watcher.Start(ctx); err != nil {
		return err
	}
	if a.cfg.BackfillLimit > 0 {
		backfill.Run(ctx, a.watcher, a.cfg.BackfillLimit, a.logger)
	}

	srv := &http.Server{Addr: a.cfg.HTTPPort, Handler: a.engine, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http listening", zap.String("addr", a.cfg.HTTPPort))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		a.watcher.Wait()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// EnqueueStage exposes pipeline stages to the CLI and tests.
func (a *App) EnqueueStage(ctx context.Context, sourceID string, stage jobs.Stage, params map[string]any) (*store.Job, error) {
	return a.runner.Enqueue(ctx, sourceID, stage, params)
}

func (a *App) Runner() *jobs.Runner { return a.runner }
func (a *App) Store() *store.Store { return a.store }
func (a *App) Watcher() *watch.Watcher { return a.watcher }
func (a *App) Handler() http.Handler { return a.engine }
func (a *App) Metrics() *metrics.Metrics { return a.metrics }
