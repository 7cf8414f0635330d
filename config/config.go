// Package config loads and validates the server's YAML configuration and
// watches it for changes, grounded on claracore.go's startServer/
// watchConfigFile/validateConfig/debounce (the teacher's own top-level
// config handling, since its config layer lived in main rather than a
// separate package).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Server is the top-level YAML-backed server configuration (spec §6's
// persisted state layout, ambient-stack section).
type Server struct {
	Listen              string        `yaml:"listen"`
	DBPath              string        `yaml:"dbPath"`
	EngineLauncherPath  string        `yaml:"engineLauncherPath"`
	EnginePort          int           `yaml:"enginePort"`
	DownloadDir         string        `yaml:"downloadDir"`
	LogLevel            string        `yaml:"logLevel"`
	AdminAPIKey         string        `yaml:"adminApiKey"`
	HealthCheckTimeout  time.Duration `yaml:"healthCheckTimeout"`
}

// Load reads and parses the YAML config at path, applying defaults to
// Listen, DBPath, EnginePort, LogLevel and HealthCheckTimeout when they are
// zero-valued; other fields keep their zero value.
func Load(path string) (Server, error) {
	var cfg Server
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Server) {
	if cfg.Listen == "" {
		cfg.Listen = ":5800"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "core-orchestrator.db"
	}
	if cfg.EnginePort == 0 {
		cfg.EnginePort = 8003
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.HealthCheckTimeout == 0 {
		cfg.HealthCheckTimeout = 8 * time.Second
	}
}

// Validate mirrors validateConfig's checks, adapted to this server's fields.
func Validate(cfg Server) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.LogLevel)] {
		return fmt.Errorf("invalid logLevel: must be debug, info, warn, or error")
	}
	if cfg.HealthCheckTimeout < 0 {
		return fmt.Errorf("invalid healthCheckTimeout: must be non-negative")
	}
	if cfg.EnginePort < 1 || cfg.EnginePort > 65535 {
		return fmt.Errorf("invalid enginePort: must be between 1 and 65535")
	}
	if cfg.EngineLauncherPath == "" {
		return fmt.Errorf("engineLauncherPath is required")
	}
	return nil
}

// Watcher debounces fsnotify events on a single config file and invokes
// onChange at most once per debounce interval, matching claracore.go's
// watchConfigFile + debounce pair.
type Watcher struct {
	path     string
	onChange func()
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// WatchFile starts watching configPath's containing directory for writes,
// creates, removes, and Kubernetes ConfigMap atomic-symlink swaps, calling
// onChange (already expected to be debounced by the caller) on each.
func WatchFile(configPath string, onChange func()) (*Watcher, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	dir := filepath.Dir(absPath)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}

	w := &Watcher{path: absPath, onChange: onChange, watcher: fsw, done: make(chan struct{})}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	dataSymlink := filepath.Join(filepath.Dir(w.path), "..data")
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			relevant := ev.Name == w.path && (ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove))
			configMapSwap := ev.Name == dataSymlink && ev.Has(fsnotify.Create)
			if relevant || configMapSwap {
				w.onChange()
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

// Debounce returns a function that invokes f at most once per interval of
// rapid successive calls, matching claracore.go's debounce helper.
func Debounce(interval time.Duration, f func()) func() {
	var timer *time.Timer
	return func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(interval, f)
	}
}
