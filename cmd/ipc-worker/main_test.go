package main

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Sentinel-Gate/ipcgate/internal/config"
)

func TestRun_WithoutDescriptorPrintsUsage(t *testing.T) {
	var stderr bytes.Buffer
	if code := run([]string{"ipc-worker"}, &stderr); code != 2 {
		t.Errorf("run() = %d, want 2", code)
	}
	out := stderr.String()
	if !strings.Contains(out, "self check ok") {
		t.Errorf("output missing self check result:\n%s", out)
	}
	if !strings.Contains(out, "usage: ipc-worker -ipcfd <fd>") {
		t.Errorf("output missing usage:\n%s", out)
	}
}

func TestRun_MalformedDescriptorIsNotSpawned(t *testing.T) {
	var stderr bytes.Buffer
	if code := run([]string{"ipc-worker", "-ipcfd", "three"}, &stderr); code != 2 {
		t.Errorf("run() = %d, want 2", code)
	}
}

func TestSelfCheck(t *testing.T) {
	if err := selfCheck(slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Fatalf("selfCheck() error: %v", err)
	}
}

func TestServeOptions(t *testing.T) {
	var cfg config.Config
	cfg.SetDefaults()
	cfg.Policy.DefaultAction = "deny"

	opts, shutdown, err := serveOptions(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("serveOptions() error: %v", err)
	}
	defer shutdown()
	if len(opts) != 4 {
		t.Errorf("serveOptions() returned %d options, want 4", len(opts))
	}
}

func TestServeOptions_AuditFile(t *testing.T) {
	var cfg config.Config
	cfg.SetDefaults()
	path := filepath.Join(t.TempDir(), "worker-calls.log")
	cfg.Audit.Output = "file://" + path

	_, shutdown, err := serveOptions(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("serveOptions() error: %v", err)
	}
	shutdown()
	if _, err := os.Stat(path); err != nil {
		t.Errorf("audit file not created: %v", err)
	}

	cfg.Audit.Output = "file://" + filepath.Join(path, "nested", "x.log")
	if _, _, err := serveOptions(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Error("serveOptions(unwritable audit output) error = nil")
	}
}
