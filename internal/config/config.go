package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/petervdpas/protobench/internal/util"
)

// Profile selects the performance trade-offs of the workbench.
type Profile string

const (
	ProfileStandard    Profile = "standard"
	ProfileConstrained Profile = "constrained"
)

func (p Profile) Valid() bool {
	return p == ProfileStandard || p == ProfileConstrained
}

type Config struct {
	Profile Profile `json:"profile" yaml:"profile"`
	Paths   Paths   `json:"paths" yaml:"paths"`
	Editor  Editor  `json:"editor" yaml:"editor"`
	Preview Preview `json:"preview" yaml:"preview"`
	Storage Storage `json:"storage" yaml:"storage"`
	Import  Import  `json:"import" yaml:"import"`
	Viewer  Viewer  `json:"viewer" yaml:"viewer"`
}

type Paths struct {
	// DataDir holds the project database. Relative to the project directory.
	DataDir string `json:"data_dir" yaml:"data_dir"`
}

// Editor settings. Zero values fall back to the profile defaults.
type Editor struct {
	FlushMs          int  `json:"flush_ms" yaml:"flush_ms"`
	HistoryLimit     int  `json:"history_limit" yaml:"history_limit"`
	SignificantDelta int  `json:"significant_delta" yaml:"significant_delta"`
	AutoSave         bool `json:"auto_save" yaml:"auto_save"`
	AutoSaveMs       int  `json:"auto_save_ms" yaml:"auto_save_ms"`
}

type Preview struct {
	AutoRefresh bool `json:"auto_refresh" yaml:"auto_refresh"`
	RefreshMs   int  `json:"refresh_ms" yaml:"refresh_ms"`
	LogLimit    int  `json:"log_limit" yaml:"log_limit"`
	// Minify is "auto" (on for the constrained profile), "on" or "off".
	Minify string `json:"minify" yaml:"minify"`
	// KeyBy is "name" (flat) or "path".
	KeyBy    string `json:"key_by" yaml:"key_by"`
	Viewport string `json:"viewport" yaml:"viewport"`
}

type Storage struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Project   string `json:"project" yaml:"project"`
	Revisions int    `json:"revisions" yaml:"revisions"`
}

type Import struct {
	// Template seeds a project whose directory is empty ("" for the
	// built-in starter files).
	Template string   `json:"template" yaml:"template"`
	Watch    bool     `json:"watch" yaml:"watch"`
	Mirror   bool     `json:"mirror" yaml:"mirror"`
	Skip     []string `json:"skip" yaml:"skip"`
	SettleMs int      `json:"settle_ms" yaml:"settle_ms"`
}

type Viewer struct {
	HTTPAddr string `json:"http_addr" yaml:"http_addr"`
	Debug    bool   `json:"debug" yaml:"debug"`
	LogLimit int    `json:"log_limit" yaml:"log_limit"`
}

func Default() Config {
	return Config{
		Profile: ProfileStandard,
		Paths: Paths{
			DataDir: ".protobench",
		},
		Editor: Editor{
			AutoSave:   true,
			AutoSaveMs: 2000,
		},
		Preview: Preview{
			AutoRefresh: true,
			Minify:      "auto",
			KeyBy:       "name",
			Viewport:    "desktop",
		},
		Storage: Storage{
			Enabled:   true,
			Project:   "default",
			Revisions: 20,
		},
		Import: Import{
			Watch:    true,
			Mirror:   false,
			Skip:     []string{"node_modules"},
			SettleMs: 100,
		},
		Viewer: Viewer{
			HTTPAddr: "127.0.0.1:7878",
			LogLimit: 500,
		},
	}
}

func (c *Config) Validate() error {
	if !c.Profile.Valid() {
		return fmt.Errorf("profile must be %q or %q", ProfileStandard, ProfileConstrained)
	}
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir is required")
	}

	if c.Editor.FlushMs < 0 || c.Editor.AutoSaveMs < 0 {
		return errors.New("editor intervals must be >= 0")
	}
	if c.Editor.HistoryLimit != 0 && c.Editor.HistoryLimit < 2 {
		return errors.New("editor.history_limit must be 0 (profile default) or >= 2")
	}
	if c.Editor.SignificantDelta < 0 {
		return errors.New("editor.significant_delta must be >= 0")
	}

	if c.Preview.RefreshMs < 0 || c.Preview.LogLimit < 0 {
		return errors.New("preview.refresh_ms and preview.log_limit must be >= 0")
	}
	switch c.Preview.Minify {
	case "auto", "on", "off":
	default:
		return errors.New(`preview.minify must be "auto", "on" or "off"`)
	}
	switch c.Preview.KeyBy {
	case "name", "path":
	default:
		return errors.New(`preview.key_by must be "name" or "path"`)
	}
	switch c.Preview.Viewport {
	case "desktop", "tablet", "mobile":
	default:
		return errors.New("preview.viewport must be desktop, tablet or mobile")
	}

	if c.Storage.Enabled && strings.TrimSpace(c.Storage.Project) == "" {
		return errors.New("storage.project is required when storage is enabled")
	}
	if c.Storage.Revisions < 0 {
		return errors.New("storage.revisions must be >= 0")
	}

	if c.Import.SettleMs < 0 {
		return errors.New("import.settle_ms must be >= 0")
	}

	if strings.TrimSpace(c.Viewer.HTTPAddr) == "" {
		return errors.New("viewer.http_addr is required")
	}
	return nil
}

// Timings are the effective intervals and limits after applying the profile
// to any unset values.
type Timings struct {
	Flush            time.Duration
	Refresh          time.Duration
	AutoSave         time.Duration // zero when auto-save is off
	LogLimit         int
	HistoryLimit     int
	SignificantDelta int
	Minify           bool
}

func (c Config) Timings() Timings {
	t := Timings{
		Flush:            150 * time.Millisecond,
		Refresh:          500 * time.Millisecond,
		LogLimit:         200,
		HistoryLimit:     100,
		SignificantDelta: 10,
	}
	if c.Profile == ProfileConstrained {
		t.Flush = 500 * time.Millisecond
		t.Refresh = 1000 * time.Millisecond
		t.LogLimit = 50
		t.HistoryLimit = 50
		t.Minify = true
	}

	if c.Editor.FlushMs > 0 {
		t.Flush = util.Millis(c.Editor.FlushMs)
	}
	if c.Editor.HistoryLimit > 0 {
		t.HistoryLimit = c.Editor.HistoryLimit
	}
	if c.Editor.SignificantDelta > 0 {
		t.SignificantDelta = c.Editor.SignificantDelta
	}
	if c.Editor.AutoSave {
		t.AutoSave = 2 * time.Second
		if c.Editor.AutoSaveMs > 0 {
			t.AutoSave = util.Millis(c.Editor.AutoSaveMs)
		}
	}
	if c.Preview.RefreshMs > 0 {
		t.Refresh = util.Millis(c.Preview.RefreshMs)
	}
	if c.Preview.LogLimit > 0 {
		t.LogLimit = c.Preview.LogLimit
	}
	switch c.Preview.Minify {
	case "on":
		t.Minify = true
	case "off":
		t.Minify = false
	}
	return t
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing on Windows).
	b = stripBOM(b)

	// Start from defaults so missing fields remain initialized.
	cfg := Default()
	if isYAML(path) {
		err = yaml.Unmarshal(b, &cfg)
	} else {
		err = json.Unmarshal(b, &cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if !isYAML(path) {
		return util.WriteJSONFile(path, cfg)
	}

	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, b, 0o644)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
