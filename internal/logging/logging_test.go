package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewInvalidLevel(t *testing.T) {
	if _, _, err := New(Config{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNewFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tubempc.log")
	cfg := DefaultConfig()
	cfg.File = path
	cfg.Level = "debug"

	log, cleanup, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	log.Info("generated tube controller", "horizon", 5)
	log.V(1).Info("transition decay")
	log.V(3).Info("too verbose")
	cleanup()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %q", len(lines), data)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["msg"] != "generated tube controller" || entry["horizon"] != float64(5) {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestInfoLevelDropsVerbose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "info.log")
	log, cleanup, err := New(Config{File: path})
	if err != nil {
		t.Fatal(err)
	}
	log.V(1).Info("hidden")
	log.Info("shown")
	cleanup()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "hidden") || !strings.Contains(string(data), "shown") {
		t.Errorf("unexpected log contents %q", data)
	}
}
