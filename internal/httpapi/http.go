// Package httpapi exposes the job runner, run reports and live progress over
// HTTP.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lks_builder/backfill"
	"lks_builder/internal/config"
	"lks_builder/internal/events"
	"lks_builder/internal/jobs"
	"lks_builder/internal/store"
	"lks_builder/metrics"
)

// Backfiller queues builds for inbox files that were never built.
type Backfiller interface {
	Backfill(ctx context.Context, limit int) (backfill.Summary, error)
}

// Router builds HTTP handlers for /api and /ops.
type Router struct {
	cfg      config.Config
	store    *store.Store
	runner   *jobs.Runner
	bus      *events.Bus
	metrics  *metrics.Metrics
	backfill Backfiller
	logger   *zap.Logger
}

func NewRouter(cfg config.Config, st *store.Store, runner *jobs.Runner, bus *events.Bus, m *metrics.Metrics, bf Backfiller, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{cfg: cfg, store: st, runner: runner, bus: bus, metrics: m, backfill: bf, logger: logger.Named("http")}
}

// Engine returns a gin engine with every route registered.
func (r *Router) Engine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), r.accessLog())
	r.Register(engine)
	return engine
}

func (r *Router) Register(engine *gin.Engine) {
	ops := engine.Group("/ops")
	ops.GET("/health", r.health)
	ops.GET("/status", r.status)
	ops.GET("/metrics", r.snapshot)
	ops.GET("/events", r.events)
	ops.GET("/jobs", r.jobs)
	ops.POST("/jobs/enqueue", r.enqueue)
	ops.GET("/jobs/:id", r.jobDetail)
	ops.GET("/jobs/:id/logs", r.jobLogs)
	ops.POST("/backfill", r.runBackfill)

	api := engine.Group("/api")
	api.GET("/sources", r.sources)
	api.GET("/reports/:source", r.report)
}

func (r *Router) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		r.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

func (r *Router) health(c *gin.Context) {
	if err := r.store.Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if !r.runner.Healthy() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "job queue not running"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (r *Router) status(c *gin.Context) {
	ctx := c.Request.Context()
	sources, _ := r.store.ListSources(ctx, 5)
	list, _ := r.store.ListJobs(ctx, 10)
	c.JSON(http.StatusOK, gin.H{
		"sources": sources,
		"jobs":    list,
		"queue":   r.runner.QueueStats(),
		"workers": r.cfg.WorkerCount,
	})
}

func (r *Router) snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, r.metrics.Snapshot())
}

func (r *Router) jobs(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	list, err := r.store.ListJobs(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, list)
}

type enqueueRequest struct {
	SourceID string         `json:"source_id" binding:"required"`
	Stage    string         `json:"stage" binding:"required"`
	Params   map[string]any `json:"params"`
}

func (r *Router) enqueue(c *gin.Context) {
	var body enqueueRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	stage, ok := jobs.ParseStage(body.Stage)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown stage " + strconv.Quote(body.Stage)})
		return
	}
	job, err := r.runner.Enqueue(c.Request.Context(), body.SourceID, stage, body.Params)
	switch {
	case errors.Is(err, jobs.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "job": job})
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusAccepted, job)
	}
}

func (r *Router) jobDetail(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	job, err := r.store.GetJob(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (r *Router) jobLogs(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, r.runner.Logs(id))
}

func (r *Router) runBackfill(c *gin.Context) {
	if r.backfill == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backfill not configured"})
		return
	}
	summary, err := r.backfill.Backfill(c.Request.Context(), queryInt(c, "limit", r.cfg.BackfillLimit))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (r *Router) sources(c *gin.Context) {
	list, err := r.store.ListSources(c.Request.Context(), queryInt(c, "limit", 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, list)
}

func (r *Router) report(c *gin.Context) {
	ctx := c.Request.Context()
	rep, err := r.store.LatestReport(ctx, c.Param("source"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if rep == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no report for source"})
		return
	}
	defects, err := r.store.Defects(ctx, rep.RunID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": rep, "defects": defects})
}

// events streams bus events as server-sent events until the client leaves.
func (r *Router) events(c *gin.Context) {
	sub := r.bus.Subscribe()
	defer r.bus.Unsubscribe(sub)
	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-sub:
			if !ok {
				return false
			}
			switch e := ev.(type) {
			case events.Progress:
				c.SSEvent("progress", e)
			case events.JobStatus:
				c.SSEvent("job", e)
			default:
				c.SSEvent("message", e)
			}
			return true
		}
	})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
