package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config holds all settings for the builder, its CLI and the service mode.
type Config struct {
	InboxDir         string
	OutputDir        string
	TemplatePath     string
	WorkDir          string
	DBPath           string
	HTTPPort         string
	RawSheet         string
	ImageSheet       string
	HeaderRow        int
	WorkerCount      int
	JobQueueSize     int
	JobTimeoutSec    int
	BackfillLimit    int
	EnableWatcher    bool
	NotifyWebhookURL string
	ConfigPath       string
	StrictConfig     bool
	OCR              OCRConfig
}

// OCRConfig configures the vision model used to read dates off meter photos.
type OCRConfig struct {
	BaseURL        string
	Model          string
	RequestsPerSec float64
	Concurrency    int
	MaxImagePx     int
	TimeoutSec     int
}

type fileConfig struct {
	InboxDir         string        `json:"inbox_dir" yaml:"inbox_dir"`
	OutputDir        string        `json:"output_dir" yaml:"output_dir"`
	TemplatePath     string        `json:"template_path" yaml:"template_path"`
	WorkDir          string        `json:"work_dir" yaml:"work_dir"`
	DBPath           string        `json:"db_path" yaml:"db_path"`
	HTTPPort         string        `json:"http_port" yaml:"http_port"`
	RawSheet         string        `json:"raw_sheet" yaml:"raw_sheet"`
	ImageSheet       string        `json:"image_sheet" yaml:"image_sheet"`
	HeaderRow        *int          `json:"header_row" yaml:"header_row"`
	JobQueueSize     *int          `json:"job_queue_size" yaml:"job_queue_size"`
	JobTimeoutSec    *int          `json:"job_timeout_sec" yaml:"job_timeout_sec"`
	EnableWatcher    *bool         `json:"enable_watcher" yaml:"enable_watcher"`
	NotifyWebhookURL string        `json:"notify_webhook_url" yaml:"notify_webhook_url"`
	OCR              ocrFileConfig `json:"ocr" yaml:"ocr"`
}

type ocrFileConfig struct {
	BaseURL        string   `json:"base_url" yaml:"base_url"`
	Model          string   `json:"model" yaml:"model"`
	RequestsPerSec *float64 `json:"requests_per_sec" yaml:"requests_per_sec"`
	Concurrency    *int     `json:"concurrency" yaml:"concurrency"`
	MaxImagePx     *int     `json:"max_image_px" yaml:"max_image_px"`
	TimeoutSec     *int     `json:"timeout_sec" yaml:"timeout_sec"`
}

const (
	defaultPort          = ":8000"
	defaultInboxDir      = "runtime/inbox"
	defaultOutputDir     = "runtime/output"
	defaultWorkDir       = "runtime/work"
	defaultDBFile        = "lks.db"
	defaultTemplate      = "templates/LKS Template (M).xlsm"
	defaultHeaderRow     = 1
	minQueueSize         = 1
	defaultQueueSize     = 16
	maxQueueSize         = 1024
	defaultJobTimeoutSec = 600
	defaultBackfillLimit = 50
	maxBackfillLimit     = 500

	// Runs are serialized; one source file is processed at a time.
	workerCount = 1
)

func defaultOCRConfig() OCRConfig {
	return OCRConfig{
		BaseURL:        "http://localhost:11434",
		Model:          "llava:7b",
		RequestsPerSec: 2,
		Concurrency:    2,
		MaxImagePx:     1024,
		TimeoutSec:     120,
	}
}

// Load reads .env, the YAML file at LKS_CONFIG_PATH and LKS_* environment
// variables, in increasing order of precedence. File and validation errors
// are only fatal with LKS_STRICT_CONFIG set.
func Load(logger *zap.Logger) (Config, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	_ = godotenv.Load()

	cfg := Config{
		WorkerCount:   workerCount,
		JobQueueSize:  defaultQueueSize,
		JobTimeoutSec: defaultJobTimeoutSec,
		HeaderRow:     defaultHeaderRow,
		EnableWatcher: true,
		StrictConfig:  parseBoolEnv("LKS_STRICT_CONFIG"),
		OCR:           defaultOCRConfig(),
	}

	cfg.ConfigPath = getEnv("LKS_CONFIG_PATH", filepath.Join("config", "lks.yaml"))
	fileCfg, fileErr := loadFileConfig(cfg.ConfigPath)
	if fileErr != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("config load failed (%s): %w", cfg.ConfigPath, fileErr)
		}
		logger.Debug("config file not used", zap.String("path", cfg.ConfigPath), zap.Error(fileErr))
	}

	cfg.InboxDir = firstNonEmpty(os.Getenv("LKS_INBOX_DIR"), fileCfg.InboxDir, defaultInboxDir)
	cfg.OutputDir = firstNonEmpty(os.Getenv("LKS_OUTPUT_DIR"), fileCfg.OutputDir, defaultOutputDir)
	cfg.TemplatePath = firstNonEmpty(os.Getenv("LKS_TEMPLATE_PATH"), fileCfg.TemplatePath, defaultTemplate)
	cfg.WorkDir = firstNonEmpty(os.Getenv("LKS_WORK_DIR"), fileCfg.WorkDir, defaultWorkDir)
	cfg.DBPath = firstNonEmpty(os.Getenv("LKS_DB_PATH"), fileCfg.DBPath, filepath.Join(cfg.WorkDir, defaultDBFile))
	cfg.RawSheet = firstNonEmpty(os.Getenv("LKS_RAW_SHEET"), fileCfg.RawSheet)
	cfg.ImageSheet = firstNonEmpty(os.Getenv("LKS_IMAGE_SHEET"), fileCfg.ImageSheet)
	cfg.NotifyWebhookURL = strings.TrimSpace(firstNonEmpty(os.Getenv("LKS_NOTIFY_WEBHOOK_URL"), fileCfg.NotifyWebhookURL))

	cfg.HTTPPort = firstNonEmpty(os.Getenv("LKS_HTTP_PORT"), fileCfg.HTTPPort, defaultPort)
	if !strings.HasPrefix(cfg.HTTPPort, ":") && !strings.Contains(cfg.HTTPPort, ":") {
		cfg.HTTPPort = ":" + cfg.HTTPPort
	}

	if fileCfg.HeaderRow != nil && *fileCfg.HeaderRow > 0 {
		cfg.HeaderRow = *fileCfg.HeaderRow
	}
	if fileCfg.JobQueueSize != nil {
		cfg.JobQueueSize = *fileCfg.JobQueueSize
	}
	if fileCfg.JobTimeoutSec != nil && *fileCfg.JobTimeoutSec > 0 {
		cfg.JobTimeoutSec = *fileCfg.JobTimeoutSec
	}
	if fileCfg.EnableWatcher != nil {
		cfg.EnableWatcher = *fileCfg.EnableWatcher
	}
	cfg.OCR = applyOCROverrides(cfg.OCR, fileCfg.OCR)

	ints := []struct {
		key string
		dst *int
	}{
		{"LKS_HEADER_ROW", &cfg.HeaderRow},
		{"LKS_JOB_QUEUE_SIZE", &cfg.JobQueueSize},
		{"LKS_JOB_TIMEOUT_SEC", &cfg.JobTimeoutSec},
		{"LKS_BACKFILL_LIMIT", &cfg.BackfillLimit},
		{"LKS_OCR_CONCURRENCY", &cfg.OCR.Concurrency},
		{"LKS_OCR_MAX_IMAGE_PX", &cfg.OCR.MaxImagePx},
		{"LKS_OCR_TIMEOUT_SEC", &cfg.OCR.TimeoutSec},
	}
	for _, item := range ints {
		v, ok, err := parseIntEnv(item.key)
		if err != nil {
			if cfg.StrictConfig {
				return cfg, fmt.Errorf("invalid %s: %w", item.key, err)
			}
			logger.Warn("invalid integer setting, using default", zap.String("key", item.key), zap.Error(err))
			continue
		}
		if ok {
			*item.dst = v
		}
	}
	if v, ok, err := parseFloatEnv("LKS_OCR_RPS"); err != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("invalid LKS_OCR_RPS: %w", err)
		}
		logger.Warn("invalid LKS_OCR_RPS, using default", zap.Error(err))
	} else if ok && v > 0 {
		cfg.OCR.RequestsPerSec = v
	}
	if v := strings.TrimSpace(os.Getenv("LKS_ENABLE_WATCHER")); v != "" {
		cfg.EnableWatcher = parseBoolEnv("LKS_ENABLE_WATCHER")
	}
	cfg.OCR.BaseURL = strings.TrimRight(firstNonEmpty(os.Getenv("LKS_OCR_BASE_URL"), cfg.OCR.BaseURL), "/")
	cfg.OCR.Model = firstNonEmpty(os.Getenv("LKS_OCR_MODEL"), cfg.OCR.Model)

	if cfg.JobQueueSize < minQueueSize {
		logger.Warn("job queue size raised to minimum", zap.Int("was", cfg.JobQueueSize), zap.Int("min", minQueueSize))
		cfg.JobQueueSize = minQueueSize
	}
	if cfg.JobQueueSize > maxQueueSize {
		logger.Warn("job queue size capped", zap.Int("was", cfg.JobQueueSize), zap.Int("max", maxQueueSize))
		cfg.JobQueueSize = maxQueueSize
	}
	if cfg.BackfillLimit <= 0 {
		cfg.BackfillLimit = defaultBackfillLimit
	}
	if cfg.BackfillLimit > maxBackfillLimit {
		cfg.BackfillLimit = maxBackfillLimit
	}
	if cfg.HeaderRow <= 0 {
		cfg.HeaderRow = defaultHeaderRow
	}

	if err := validateConfig(cfg); err != nil {
		if cfg.StrictConfig {
			return cfg, err
		}
		logger.Warn("config validation failed, continuing", zap.Error(err))
	}

	logger.Debug("config loaded",
		zap.String("inbox_dir", cfg.InboxDir),
		zap.String("output_dir", cfg.OutputDir),
		zap.String("template", cfg.TemplatePath),
		zap.String("db", cfg.DBPath),
	)
	return cfg, nil
}

func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if len(data) == 0 {
		return cfg, errors.New("empty config file")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func applyOCROverrides(base OCRConfig, override ocrFileConfig) OCRConfig {
	if v := strings.TrimSpace(override.BaseURL); v != "" {
		base.BaseURL = v
	}
	if v := strings.TrimSpace(override.Model); v != "" {
		base.Model = v
	}
	if override.RequestsPerSec != nil && *override.RequestsPerSec > 0 {
		base.RequestsPerSec = *override.RequestsPerSec
	}
	if override.Concurrency != nil && *override.Concurrency > 0 {
		base.Concurrency = *override.Concurrency
	}
	if override.MaxImagePx != nil && *override.MaxImagePx > 0 {
		base.MaxImagePx = *override.MaxImagePx
	}
	if override.TimeoutSec != nil && *override.TimeoutSec > 0 {
		base.TimeoutSec = *override.TimeoutSec
	}
	return base
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.InboxDir) == "" {
		return errors.New("inbox_dir is required")
	}
	if strings.TrimSpace(cfg.TemplatePath) == "" {
		return errors.New("template_path is required")
	}
	if cfg.JobTimeoutSec <= 0 {
		return errors.New("job_timeout_sec must be positive")
	}
	if cfg.OCR.Concurrency <= 0 {
		return errors.New("ocr.concurrency must be positive")
	}
	if cfg.OCR.MaxImagePx <= 0 {
		return errors.New("ocr.max_image_px must be positive")
	}
	return nil
}

// JobTimeout is JobTimeoutSec as a duration.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSec) * time.Second
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return val
		}
	}
	return ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBoolEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseIntEnv(key string) (int, bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false, nil
	}
	val, err := strconv.Atoi(raw)
	return val, true, err
}

func parseFloatEnv(key string) (float64, bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false, nil
	}
	val, err := strconv.ParseFloat(raw, 64)
	return val, true, err
}

// Now returns utc time helper for deterministic timestamps.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
