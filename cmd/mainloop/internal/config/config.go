package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	drifterrors "github.com/go-drift/mainloop/pkg/errors"
	"golang.org/x/mod/modfile"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// FileName is the name of the optional configuration file.
const FileName = "mainloop.yaml"

// SchemaMajor is the configuration schema major version this build reads.
const SchemaMajor = "v1"

// Config represents the optional mainloop.yaml configuration.
type Config struct {
	Version  string         `yaml:"version,omitempty"`
	Loop     LoopConfig     `yaml:"loop"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Testing  TestingConfig  `yaml:"testing"`
	Log      LogConfig      `yaml:"log"`
	Demo     DemoConfig     `yaml:"demo"`
}

// LoopConfig contains main loop settings.
type LoopConfig struct {
	LockOSThread *bool  `yaml:"lockOSThread,omitempty"`
	PumpInterval string `yaml:"pumpInterval,omitempty"`
}

// DispatchConfig contains dispatcher settings.
type DispatchConfig struct {
	Name string `yaml:"name,omitempty"`
}

// TestingConfig contains section runner settings.
type TestingConfig struct {
	ContinuationTimeout string `yaml:"continuationTimeout,omitempty"`
	MaxRuns             int    `yaml:"maxRuns,omitempty"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string `yaml:"level,omitempty"`
	Format  string `yaml:"format,omitempty"`
	Verbose bool   `yaml:"verbose,omitempty"`
}

// DemoConfig sizes the load generated by the run command.
type DemoConfig struct {
	Workers int `yaml:"workers,omitempty"`
	Calls   int `yaml:"calls,omitempty"`
}

// Resolved contains resolved configuration values.
type Resolved struct {
	Root                string        `yaml:"root"`
	ModulePath          string        `yaml:"module,omitempty"`
	Version             string        `yaml:"version"`
	DispatcherName      string        `yaml:"dispatcher"`
	LockOSThread        bool          `yaml:"lockOSThread"`
	PumpInterval        time.Duration `yaml:"pumpInterval"`
	ContinuationTimeout time.Duration `yaml:"continuationTimeout"`
	MaxRuns             int           `yaml:"maxRuns"`
	LogLevel            slog.Level    `yaml:"logLevel"`
	LogFormat           string        `yaml:"logFormat"`
	Verbose             bool          `yaml:"verbose"`
	Workers             int           `yaml:"workers"`
	Calls               int           `yaml:"calls"`
}

// Defaults.
const (
	DefaultVersion             = "v1.0.0"
	DefaultDispatcherName      = "main"
	DefaultPumpInterval        = 16 * time.Millisecond
	DefaultContinuationTimeout = 10 * time.Second
	DefaultMaxRuns             = 1000
	DefaultWorkers             = 4
	DefaultCalls               = 100
)

// LoadOptional reads mainloop.yaml from dir if present.
func LoadOptional(dir string) (*Config, error) {
	cfg, err := Load(filepath.Join(dir, FileName))
	if errors.Is(err, os.ErrNotExist) {
		return &Config{}, nil
	}
	return cfg, err
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, invalid("config.Load", fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err))
	}

	return &cfg, nil
}

// Resolve loads mainloop.yaml (if present) from dir and resolves defaults.
func Resolve(dir string) (*Resolved, error) {
	cfg, err := LoadOptional(dir)
	if err != nil {
		return nil, err
	}
	return cfg.Resolve(dir)
}

// Resolve applies defaults and validates cfg. dir is the project root used
// to detect the module path. Validation errors are *errors.DispatchError
// values of kind errors.KindConfig.
func (cfg *Config) Resolve(dir string) (*Resolved, error) {
	r, err := cfg.resolve(dir)
	if err != nil {
		return nil, invalid("config.Resolve", err)
	}
	return r, nil
}

func invalid(op string, err error) error {
	return &drifterrors.DispatchError{
		Op:        op,
		Kind:      drifterrors.KindConfig,
		Err:       err,
		Timestamp: time.Now(),
	}
}

func (cfg *Config) resolve(dir string) (*Resolved, error) {
	r := &Resolved{
		Root:           dir,
		ModulePath:     modulePath(dir),
		Version:        strings.TrimSpace(cfg.Version),
		DispatcherName: strings.TrimSpace(cfg.Dispatch.Name),
		LockOSThread:   true,
		MaxRuns:        cfg.Testing.MaxRuns,
		LogFormat:      strings.ToLower(strings.TrimSpace(cfg.Log.Format)),
		Verbose:        cfg.Log.Verbose,
		Workers:        cfg.Demo.Workers,
		Calls:          cfg.Demo.Calls,
	}

	if r.Version == "" {
		r.Version = DefaultVersion
	}
	if err := validateVersion(r.Version); err != nil {
		return nil, err
	}
	if r.DispatcherName == "" {
		r.DispatcherName = DefaultDispatcherName
	}
	if cfg.Loop.LockOSThread != nil {
		r.LockOSThread = *cfg.Loop.LockOSThread
	}

	var err error
	if r.PumpInterval, err = duration("loop.pumpInterval", cfg.Loop.PumpInterval, DefaultPumpInterval); err != nil {
		return nil, err
	}
	if r.ContinuationTimeout, err = duration("testing.continuationTimeout", cfg.Testing.ContinuationTimeout, DefaultContinuationTimeout); err != nil {
		return nil, err
	}

	if r.MaxRuns < 0 {
		return nil, fmt.Errorf("testing.maxRuns must not be negative, got %d", r.MaxRuns)
	}
	if r.MaxRuns == 0 {
		r.MaxRuns = DefaultMaxRuns
	}

	if r.LogLevel, err = parseLevel(cfg.Log.Level); err != nil {
		return nil, err
	}
	switch r.LogFormat {
	case "":
		r.LogFormat = "text"
	case "text", "json":
	default:
		return nil, fmt.Errorf("log.format must be text or json, got %q", cfg.Log.Format)
	}

	if r.Workers < 0 || r.Calls < 0 {
		return nil, fmt.Errorf("demo.workers and demo.calls must not be negative")
	}
	if r.Workers == 0 {
		r.Workers = DefaultWorkers
	}
	if r.Calls == 0 {
		r.Calls = DefaultCalls
	}

	return r, nil
}

// FindProjectRoot walks up from the current directory to find mainloop.yaml
// or go.mod. It returns the current directory when neither exists.
func FindProjectRoot() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for dir := wd; ; {
		for _, marker := range []string{FileName, "go.mod"} {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return wd, nil
		}
		dir = parent
	}
}

// Marshal renders the resolved configuration as YAML.
func (r *Resolved) Marshal() ([]byte, error) {
	return yaml.Marshal(r)
}

func validateVersion(v string) error {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return fmt.Errorf("version %q is not a valid semantic version", v)
	}
	if major := semver.Major(v); major != SchemaMajor {
		return fmt.Errorf("unsupported configuration version %s (this build reads %s)", major, SchemaMajor)
	}
	return nil
}

func duration(key, value string, def time.Duration) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, value)
	}
	return d, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	s = strings.TrimSpace(s)
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

func modulePath(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, "go.mod"))
	if err != nil {
		return ""
	}
	return modfile.ModulePath(data)
}
