package config

import (
	goerrors "errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-drift/mainloop/pkg/errors"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestResolveDefaults(t *testing.T) {
	dir := t.TempDir()
	r, err := Resolve(dir)
	if err != nil {
		t.Fatal(err)
	}
	if r.Version != DefaultVersion || r.DispatcherName != DefaultDispatcherName {
		t.Errorf("version=%q dispatcher=%q", r.Version, r.DispatcherName)
	}
	if !r.LockOSThread {
		t.Error("LockOSThread should default to true")
	}
	if r.PumpInterval != DefaultPumpInterval || r.ContinuationTimeout != DefaultContinuationTimeout {
		t.Errorf("pumpInterval=%s continuationTimeout=%s", r.PumpInterval, r.ContinuationTimeout)
	}
	if r.MaxRuns != DefaultMaxRuns || r.Workers != DefaultWorkers || r.Calls != DefaultCalls {
		t.Errorf("maxRuns=%d workers=%d calls=%d", r.MaxRuns, r.Workers, r.Calls)
	}
	if r.LogLevel != slog.LevelInfo || r.LogFormat != "text" {
		t.Errorf("level=%s format=%s", r.LogLevel, r.LogFormat)
	}
	if r.ModulePath != "" {
		t.Errorf("ModulePath = %q without go.mod", r.ModulePath)
	}
}

func TestResolveFromFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `version: v1.2.0
loop:
  lockOSThread: false
  pumpInterval: 5ms
dispatch:
  name: ui
testing:
  continuationTimeout: 3s
  maxRuns: 50
log:
  level: debug
  format: JSON
  verbose: true
demo:
  workers: 2
  calls: 7
`)
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example.com/app\n\ngo 1.24\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := Resolve(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := Resolved{
		Root:                dir,
		ModulePath:          "example.com/app",
		Version:             "v1.2.0",
		DispatcherName:      "ui",
		LockOSThread:        false,
		PumpInterval:        5 * time.Millisecond,
		ContinuationTimeout: 3 * time.Second,
		MaxRuns:             50,
		LogLevel:            slog.LevelDebug,
		LogFormat:           "json",
		Verbose:             true,
		Workers:             2,
		Calls:               7,
	}
	if *r != want {
		t.Errorf("Resolve() = %+v, want %+v", *r, want)
	}
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad yaml", "loop: [", "failed to parse"},
		{"bad version", "version: latest", "not a valid semantic version"},
		{"future version", "version: v2.0.0", "unsupported configuration version v2"},
		{"bad duration", "loop:\n  pumpInterval: soon", "loop.pumpInterval"},
		{"zero duration", "testing:\n  continuationTimeout: 0s", "must be positive"},
		{"negative runs", "testing:\n  maxRuns: -1", "testing.maxRuns"},
		{"bad level", "log:\n  level: loud", "log.level"},
		{"bad format", "log:\n  format: xml", "log.format"},
		{"negative workers", "demo:\n  workers: -3", "demo.workers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, tt.content)
			_, err := Resolve(dir)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Resolve() error = %v, want it to contain %q", err, tt.wantErr)
			}
			var de *errors.DispatchError
			if !goerrors.As(err, &de) || de.Kind != errors.KindConfig {
				t.Errorf("Resolve() error = %#v, want a config DispatchError", err)
			}
		})
	}
}

func TestVersionWithoutPrefix(t *testing.T) {
	if err := validateVersion("1.0.3"); err != nil {
		t.Errorf("validateVersion(1.0.3) = %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() of a missing file should fail")
	}
}

func TestMarshalResolved(t *testing.T) {
	r, err := Resolve(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	out, err := r.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"dispatcher: main", "pumpInterval: 16ms", "logLevel: INFO", "continuationTimeout: 10s"} {
		if !strings.Contains(string(out), want) {
			t.Errorf("Marshal() output missing %q:\n%s", want, out)
		}
	}
}
