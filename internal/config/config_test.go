package config

import (
	"os"
	"path/filepath"
	"testing"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("LKS_CONFIG_PATH", filepath.Join(dir, "missing.yaml"))
	return dir
}

func TestDefaults(t *testing.T) {
	isolate(t)
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.WorkerCount != 1 {
		t.Fatalf("expected a single worker, got %d", cfg.WorkerCount)
	}
	if cfg.HTTPPort != ":8000" {
		t.Fatalf("unexpected port %s", cfg.HTTPPort)
	}
	if cfg.DBPath != filepath.Join("runtime/work", "lks.db") {
		t.Fatalf("unexpected db path %s", cfg.DBPath)
	}
	if cfg.OCR.Model != "llava:7b" {
		t.Fatalf("unexpected ocr model %s", cfg.OCR.Model)
	}
}

func TestYAMLFileThenEnvOverride(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "lks.yaml")
	body := "inbox_dir: /data/inbox\nheader_row: 15\njob_queue_size: 4\nocr:\n  model: moondream\n  concurrency: 3\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LKS_CONFIG_PATH", path)
	t.Setenv("LKS_JOB_QUEUE_SIZE", "9")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.InboxDir != "/data/inbox" {
		t.Fatalf("expected inbox from file, got %s", cfg.InboxDir)
	}
	if cfg.HeaderRow != 15 {
		t.Fatalf("expected header row 15, got %d", cfg.HeaderRow)
	}
	if cfg.JobQueueSize != 9 {
		t.Fatalf("expected env to win for queue size, got %d", cfg.JobQueueSize)
	}
	if cfg.OCR.Model != "moondream" || cfg.OCR.Concurrency != 3 {
		t.Fatalf("unexpected ocr config %+v", cfg.OCR)
	}
}

func TestQueueSizeClamp(t *testing.T) {
	isolate(t)
	t.Setenv("LKS_JOB_QUEUE_SIZE", "5000")
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.JobQueueSize != maxQueueSize {
		t.Fatalf("expected queue size capped at %d, got %d", maxQueueSize, cfg.JobQueueSize)
	}
}

func TestHTTPPortFormatting(t *testing.T) {
	isolate(t)
	t.Setenv("LKS_HTTP_PORT", "9000")
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.HTTPPort != ":9000" {
		t.Fatalf("expected port to include colon, got %s", cfg.HTTPPort)
	}
}

func TestStrictConfigFailsOnMissingFile(t *testing.T) {
	isolate(t)
	t.Setenv("LKS_STRICT_CONFIG", "true")
	if _, err := Load(nil); err == nil {
		t.Fatal("expected strict mode to fail on missing config file")
	}
}

func TestStrictConfigRejectsBadInt(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "lks.yaml")
	if err := os.WriteFile(path, []byte("inbox_dir: in\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LKS_CONFIG_PATH", path)
	t.Setenv("LKS_STRICT_CONFIG", "1")
	t.Setenv("LKS_HEADER_ROW", "abc")
	if _, err := Load(nil); err == nil {
		t.Fatal("expected strict mode to reject LKS_HEADER_ROW")
	}
}
