// Package config provides configuration management for faceattend.
// It loads configuration from YAML files with sensible defaults and
// lets a handful of environment variables override the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all faceattend configuration.
type Config struct {
	Camera      CameraConfig      `yaml:"camera"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Timing      TimingConfig      `yaml:"timing"`
	UI          UIConfig          `yaml:"ui"`
	Storage     StorageConfig     `yaml:"storage"`
	Attendance  AttendanceConfig  `yaml:"attendance"`
	Display     DisplayConfig     `yaml:"display"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// CameraConfig holds camera settings.
type CameraConfig struct {
	Device           string `yaml:"device"`
	Width            int    `yaml:"width"`
	Height           int    `yaml:"height"`
	FPS              int    `yaml:"fps"`
	MaxFrameFailures int    `yaml:"max_frame_failures"`
}

// RecognitionConfig holds face recognition settings.
type RecognitionConfig struct {
	MatchThreshold float64 `yaml:"match_threshold"`
	ModelPath      string  `yaml:"model_path"`
	DetectScale    float64 `yaml:"detect_scale"`
}

// TimingConfig holds the recognition state machine timings, in seconds.
type TimingConfig struct {
	AnalyzingMinSeconds   float64 `yaml:"analyzing_min_seconds"`
	PollIntervalSeconds   float64 `yaml:"poll_interval_seconds"`
	MinDisplayTimeSeconds float64 `yaml:"min_display_time_seconds"`
	UnknownDisplaySeconds float64 `yaml:"unknown_display_seconds"`
	CooldownSeconds       float64 `yaml:"cooldown_seconds"`
}

// UIConfig holds the status overlay texts.
type UIConfig struct {
	AnalyzingText string `yaml:"analyzing_text"`
	WelcomeText   string `yaml:"welcome_text"`
	UnknownText   string `yaml:"unknown_text"`
}

// StorageConfig holds gallery storage settings.
type StorageConfig struct {
	DataDir           string `yaml:"data_dir"`
	GalleryFile       string `yaml:"gallery_file"`
	EncryptionEnabled bool   `yaml:"encryption_enabled"`
}

// AttendanceConfig holds attendance ledger settings.
type AttendanceConfig struct {
	Backend       string `yaml:"backend"` // "csv" or "sqlite"
	File          string `yaml:"file"`
	DBPath        string `yaml:"db_path"`
	RecordUnknown bool   `yaml:"record_unknown"`
}

// DisplayConfig holds preview output settings.
type DisplayConfig struct {
	PreviewFile       string `yaml:"preview_file"`
	PreviewIntervalMS int    `yaml:"preview_interval_ms"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Attendance backends.
const (
	BackendCSV    = "csv"
	BackendSQLite = "sqlite"
)

// Environment variables that override the configuration file.
const (
	EnvCameraDevice      = "FACEATTEND_CAMERA_DEVICE"
	EnvMatchThreshold    = "FACEATTEND_MATCH_THRESHOLD"
	EnvModelPath         = "FACEATTEND_MODEL_PATH"
	EnvDataDir           = "FACEATTEND_DATA_DIR"
	EnvLogLevel          = "FACEATTEND_LOG_LEVEL"
	EnvAttendanceBackend = "FACEATTEND_ATTENDANCE_BACKEND"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local/share/faceattend")
	return &Config{
		Camera: CameraConfig{
			Device:           "/dev/video0",
			Width:            640,
			Height:           480,
			FPS:              30,
			MaxFrameFailures: 30,
		},
		Recognition: RecognitionConfig{
			MatchThreshold: 0.50,
			ModelPath:      filepath.Join(dataDir, "models"),
			DetectScale:    0.25,
		},
		Timing: TimingConfig{
			AnalyzingMinSeconds:   1.0,
			PollIntervalSeconds:   0.1,
			MinDisplayTimeSeconds: 2.0,
			UnknownDisplaySeconds: 2.0,
			CooldownSeconds:       2.0,
		},
		UI: UIConfig{
			AnalyzingText: "Analyzing...",
			WelcomeText:   "Welcome,",
			UnknownText:   "Unknown Person",
		},
		Storage: StorageConfig{
			DataDir:           dataDir,
			GalleryFile:       "encodings.json",
			EncryptionEnabled: false,
		},
		Attendance: AttendanceConfig{
			Backend:       BackendCSV,
			File:          "attendance.csv",
			DBPath:        "attendance.db",
			RecordUnknown: false,
		},
		Display: DisplayConfig{
			PreviewFile:       "",
			PreviewIntervalMS: 200,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(dataDir, "faceattend.log"),
		},
	}
}

// Load loads configuration from the specified file.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, err
	}

	return config, nil
}

// LoadDefault tries to load configuration from default locations.
func LoadDefault() (*Config, error) {
	// Try system config first
	if _, err := os.Stat("/etc/faceattend/faceattend.yaml"); err == nil {
		return Load("/etc/faceattend/faceattend.yaml")
	}

	// Try user config
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	userConfig := filepath.Join(homeDir, ".config/faceattend/faceattend.yaml")
	if _, err := os.Stat(userConfig); err == nil {
		return Load(userConfig)
	}

	// Return defaults
	return DefaultConfig(), nil
}

// LoadDotEnv loads environment variables from the given .env files
// (or ./.env when none are given). A missing file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ApplyEnv overrides configuration values from FACEATTEND_* environment variables.
func (c *Config) ApplyEnv() error {
	if v := strings.TrimSpace(os.Getenv(EnvCameraDevice)); v != "" {
		c.Camera.Device = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvMatchThreshold)); v != "" {
		threshold, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvMatchThreshold, v, err)
		}
		c.Recognition.MatchThreshold = threshold
	}
	if v := strings.TrimSpace(os.Getenv(EnvModelPath)); v != "" {
		c.Recognition.ModelPath = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvDataDir)); v != "" {
		c.Storage.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvAttendanceBackend)); v != "" {
		c.Attendance.Backend = strings.ToLower(v)
	}
	return nil
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	// Validate camera settings
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("invalid camera resolution: %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.FPS <= 0 {
		return fmt.Errorf("invalid camera FPS: %d", c.Camera.FPS)
	}
	if c.Camera.MaxFrameFailures <= 0 {
		return fmt.Errorf("max_frame_failures must be positive, got %d", c.Camera.MaxFrameFailures)
	}

	// Validate recognition settings
	if c.Recognition.MatchThreshold <= 0 {
		return fmt.Errorf("match_threshold must be positive, got %f", c.Recognition.MatchThreshold)
	}
	if c.Recognition.DetectScale <= 0 || c.Recognition.DetectScale > 1 {
		return fmt.Errorf("detect_scale must be in (0, 1], got %f", c.Recognition.DetectScale)
	}

	// Validate timings
	timings := map[string]float64{
		"analyzing_min_seconds":    c.Timing.AnalyzingMinSeconds,
		"min_display_time_seconds": c.Timing.MinDisplayTimeSeconds,
		"unknown_display_seconds":  c.Timing.UnknownDisplaySeconds,
		"cooldown_seconds":         c.Timing.CooldownSeconds,
	}
	for name, v := range timings {
		if v < 0 {
			return fmt.Errorf("%s must not be negative, got %f", name, v)
		}
	}
	if c.Timing.PollIntervalSeconds <= 0 {
		return fmt.Errorf("poll_interval_seconds must be positive, got %f", c.Timing.PollIntervalSeconds)
	}

	// Validate attendance settings
	switch c.Attendance.Backend {
	case BackendCSV, BackendSQLite:
	default:
		return fmt.Errorf("invalid attendance backend: %s (must be csv or sqlite)", c.Attendance.Backend)
	}

	if c.Display.PreviewIntervalMS < 0 {
		return fmt.Errorf("preview_interval_ms must not be negative, got %d", c.Display.PreviewIntervalMS)
	}

	// Validate logging level
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Camera.Device = ExpandPath(c.Camera.Device)
	c.Recognition.ModelPath = ExpandPath(c.Recognition.ModelPath)
	c.Storage.DataDir = ExpandPath(c.Storage.DataDir)
	c.Storage.GalleryFile = ExpandPath(c.Storage.GalleryFile)
	c.Attendance.File = ExpandPath(c.Attendance.File)
	c.Attendance.DBPath = ExpandPath(c.Attendance.DBPath)
	c.Display.PreviewFile = ExpandPath(c.Display.PreviewFile)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// EnsureDirectories creates necessary directories for storage and logging.
func (c *Config) EnsureDirectories() error {
	// Create storage directory
	if err := os.MkdirAll(c.Storage.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	// Create models directory
	if err := os.MkdirAll(c.Recognition.ModelPath, 0755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	// Create log directory
	if c.Logging.File != "" {
		logDir := filepath.Dir(c.Logging.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	return nil
}

// dataPath resolves a relative file name against the data directory.
func (c *Config) dataPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Storage.DataDir, name)
}

// GalleryPath returns the path of the enrolled face gallery.
func (c *Config) GalleryPath() string {
	return c.dataPath(c.Storage.GalleryFile)
}

// AttendancePath returns the path of the attendance CSV ledger.
func (c *Config) AttendancePath() string {
	return c.dataPath(c.Attendance.File)
}

// AttendanceDBPath returns the path of the attendance SQLite database.
func (c *Config) AttendanceDBPath() string {
	return c.dataPath(c.Attendance.DBPath)
}

// AnalyzingMin returns the minimum time the analyzing message stays up.
func (t TimingConfig) AnalyzingMin() time.Duration { return seconds(t.AnalyzingMinSeconds) }

// PollInterval returns how long analyzing is extended while the match is pending.
func (t TimingConfig) PollInterval() time.Duration { return seconds(t.PollIntervalSeconds) }

// MatchedDisplay returns how long a welcome message is shown.
func (t TimingConfig) MatchedDisplay() time.Duration { return seconds(t.MinDisplayTimeSeconds) }

// UnknownDisplay returns how long the unknown-person message is shown.
func (t TimingConfig) UnknownDisplay() time.Duration { return seconds(t.UnknownDisplaySeconds) }

// Cooldown returns the quiet period after a recognition result.
func (t TimingConfig) Cooldown() time.Duration { return seconds(t.CooldownSeconds) }

// PreviewInterval returns the minimum time between preview writes.
func (d DisplayConfig) PreviewInterval() time.Duration {
	return time.Duration(d.PreviewIntervalMS) * time.Millisecond
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
