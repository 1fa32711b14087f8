package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSaveCreatesParentDir(t *testing.T) {
	tmpDir := t.TempDir()
	// Nested path that doesn't exist yet
	path := filepath.Join(tmpDir, "nested", "deep", "config.json")

	if err := Save(DefaultConfig(), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatalf("Config file was not created: %s", path)
	}

	// No temp files left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("reading dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only config.json, got %d entries", len(entries))
	}
}

func TestSaveWritesDurationsAsStrings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	if err := Save(DefaultConfig(), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	var raw map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Config file contains invalid JSON: %v", err)
	}
	if got := raw["recovery"]["retry_delay"]; got != "1s" {
		t.Errorf("retry_delay written as %v, want \"1s\"", got)
	}
	if !strings.Contains(string(data), `"task_timeout": "10m0s"`) {
		t.Errorf("expected indented task_timeout, got:\n%s", data)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := DefaultConfig()
	cfg.Scheduler.TaskTimeout = Duration(90 * time.Second)
	cfg.Recovery.EnableRollback = true
	cfg.Executors["make"] = ExecutorConfig{
		Command:     "make",
		Args:        []string{"{{name}}"},
		Env:         map[string]string{"CI": "1"},
		UseWorktree: true,
	}

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Scheduler.TaskTimeout.Std() != 90*time.Second {
		t.Errorf("task_timeout mismatch: got %v", loaded.Scheduler.TaskTimeout)
	}
	if !loaded.Recovery.EnableRollback {
		t.Error("enable_rollback not persisted")
	}
	mk := loaded.Executors["make"]
	if mk.Command != "make" || len(mk.Args) != 1 || mk.Env["CI"] != "1" || !mk.UseWorktree {
		t.Errorf("make executor mismatch: %+v", mk)
	}
}

func TestSaveOverwritesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	first := DefaultConfig()
	first.Metrics.Addr = ":1111"
	if err := Save(first, path); err != nil {
		t.Fatalf("First save failed: %v", err)
	}

	second := DefaultConfig()
	second.Metrics.Addr = ":2222"
	if err := Save(second, path); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	loaded, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Metrics.Addr != ":2222" {
		t.Errorf("Expected ':2222', got '%s'", loaded.Metrics.Addr)
	}
}

func TestDurationUnmarshal(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: `"1m30s"`, want: 90 * time.Second},
		{in: `1000000`, want: time.Millisecond},
		{in: `"nope"`, wantErr: true},
		{in: `true`, wantErr: true},
	}
	for _, tt := range tests {
		var d Duration
		err := json.Unmarshal([]byte(tt.in), &d)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tt.in)
			}
			continue
		}
		if err != nil || d.Std() != tt.want {
			t.Errorf("%s: got %v, %v; want %v", tt.in, d, err, tt.want)
		}
	}
}
