package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/awalling/gifcam/internal/logger"
)

// Poll interval and capture bounds enforced on load and on update.
const (
	MinPollIntervalSeconds = 1
	MaxPollIntervalSeconds = 30
	MinMaxFrames           = 5
	MaxMaxFrames           = 200
	MinFrameRate           = 0.5
	MaxFrameRate           = 10
)

// CameraConfig describes the camera still-image endpoint to poll
type CameraConfig struct {
	// StillURL is the per-camera still-image endpoint
	StillURL string `json:"still_url" yaml:"still_url"`
	// ProxyBase, when set, is prepended to StillURL to route fetches
	// through a same-origin proxy
	ProxyBase           string `json:"proxy_base,omitempty" yaml:"proxy_base,omitempty"`
	PollIntervalSeconds int    `json:"poll_interval_seconds" yaml:"poll_interval_seconds"`
}

// CaptureConfig bounds the in-memory frame buffer
type CaptureConfig struct {
	MaxFrames int `json:"max_frames" yaml:"max_frames"`
}

// GIFConfig controls GIF assembly
type GIFConfig struct {
	// FrameRate is the playback rate of the assembled GIF in frames per second
	FrameRate float64 `json:"frame_rate" yaml:"frame_rate"`
	// MaxWidth bounds the output width; frames are resized proportionally
	MaxWidth int `json:"max_width" yaml:"max_width"`
	// Engine selects the encoding backend: "auto", "ffmpeg" or "native"
	Engine string `json:"engine" yaml:"engine"`
	// OutputDir is where downloaded GIFs are saved when using the disk saver
	OutputDir string `json:"output_dir" yaml:"output_dir"`
}

// ViewConfig is persisted map-view preference state. It is non-essential:
// invalid values fall back to defaults on load, never to an error.
type ViewConfig struct {
	Lat  float64 `json:"lat" yaml:"lat"`
	Lng  float64 `json:"lng" yaml:"lng"`
	Zoom int     `json:"zoom" yaml:"zoom"`
}

// Config represents the application configuration
type Config struct {
	ServerPort int    `json:"server_port" yaml:"server_port"`
	LogLevel   string `json:"log_level" yaml:"log_level"`

	Camera  CameraConfig  `json:"camera" yaml:"camera"`
	Capture CaptureConfig `json:"capture" yaml:"capture"`
	GIF     GIFConfig     `json:"gif" yaml:"gif"`
	View    ViewConfig    `json:"view" yaml:"view"`
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// NewManager creates a new configuration manager
func NewManager(configFile string) (*Manager, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ".config", "gifcam")
	defaultConfigPath := filepath.Join(configDir, "config.yaml")

	actualConfigPath := defaultConfigPath
	if configFile != "" {
		actualConfigPath = configFile
	}

	if err := os.MkdirAll(filepath.Dir(actualConfigPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = Defaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("camera", m.config.Camera.StillURL).
		Int("max_frames", m.config.Capture.MaxFrames).
		Msg("Config loaded")

	return m, nil
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		ServerPort: 8080,
		LogLevel:   "info",
		Camera: CameraConfig{
			PollIntervalSeconds: 5,
		},
		Capture: CaptureConfig{
			MaxFrames: 30,
		},
		GIF: GIFConfig{
			FrameRate: 2,
			MaxWidth:  480,
			Engine:    "auto",
			OutputDir: ".",
		},
		View: ViewConfig{
			Lat:  51.505,
			Lng:  -0.09,
			Zoom: 4,
		},
	}
}

// load reads the configuration from disk
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	sanitize(&cfg)

	m.mu.Lock()
	m.config = &cfg
	m.mu.Unlock()
	return nil
}

// sanitize clamps bounded settings and resets invalid non-essential state
// to defaults. It never fails: a damaged config file yields a usable config.
func sanitize(cfg *Config) {
	def := Defaults()
	log := logger.WithComponent("config")

	if cfg.ServerPort <= 0 || cfg.ServerPort > 65535 {
		cfg.ServerPort = def.ServerPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}

	if cfg.Camera.PollIntervalSeconds < MinPollIntervalSeconds {
		cfg.Camera.PollIntervalSeconds = MinPollIntervalSeconds
	}
	if cfg.Camera.PollIntervalSeconds > MaxPollIntervalSeconds {
		cfg.Camera.PollIntervalSeconds = MaxPollIntervalSeconds
	}

	if cfg.Capture.MaxFrames == 0 {
		cfg.Capture.MaxFrames = def.Capture.MaxFrames
	}
	if cfg.Capture.MaxFrames < MinMaxFrames {
		cfg.Capture.MaxFrames = MinMaxFrames
	}
	if cfg.Capture.MaxFrames > MaxMaxFrames {
		cfg.Capture.MaxFrames = MaxMaxFrames
	}

	if cfg.GIF.FrameRate == 0 {
		cfg.GIF.FrameRate = def.GIF.FrameRate
	}
	if cfg.GIF.FrameRate < MinFrameRate {
		cfg.GIF.FrameRate = MinFrameRate
	}
	if cfg.GIF.FrameRate > MaxFrameRate {
		cfg.GIF.FrameRate = MaxFrameRate
	}
	if cfg.GIF.MaxWidth <= 0 {
		cfg.GIF.MaxWidth = def.GIF.MaxWidth
	}
	switch cfg.GIF.Engine {
	case "auto", "ffmpeg", "native":
	default:
		cfg.GIF.Engine = def.GIF.Engine
	}
	if cfg.GIF.OutputDir == "" {
		cfg.GIF.OutputDir = def.GIF.OutputDir
	}

	// View state is cosmetic: reject out-of-range coordinates wholesale
	if cfg.View.Lat < -90 || cfg.View.Lat > 90 ||
		cfg.View.Lng < -180 || cfg.View.Lng > 180 ||
		cfg.View.Zoom < 0 || cfg.View.Zoom > 22 {
		log.Warn().
			Float64("lat", cfg.View.Lat).
			Float64("lng", cfg.View.Lng).
			Int("zoom", cfg.View.Zoom).
			Msg("Invalid persisted view state, resetting to defaults")
		cfg.View = def.View
	}
}

// Save writes the configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	data, err := yaml.Marshal(m.config)
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.config
}

// GetConfigPath returns the path of the loaded config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// SetPort overrides the server port
func (m *Manager) SetPort(port int) {
	m.mu.Lock()
	m.config.ServerPort = port
	m.mu.Unlock()
}

// SetLogLevel overrides the log level
func (m *Manager) SetLogLevel(level string) {
	m.mu.Lock()
	m.config.LogLevel = level
	m.mu.Unlock()
}

// SetCameraURL overrides the camera still-image endpoint
func (m *Manager) SetCameraURL(url string) {
	m.mu.Lock()
	m.config.Camera.StillURL = url
	m.mu.Unlock()
}

// SetPollInterval overrides the poll cadence, clamped to the allowed range
func (m *Manager) SetPollInterval(seconds int) {
	if seconds < MinPollIntervalSeconds {
		seconds = MinPollIntervalSeconds
	}
	if seconds > MaxPollIntervalSeconds {
		seconds = MaxPollIntervalSeconds
	}
	m.mu.Lock()
	m.config.Camera.PollIntervalSeconds = seconds
	m.mu.Unlock()
}

// SetFrameRate overrides the GIF playback rate, clamped to the allowed range
func (m *Manager) SetFrameRate(fps float64) {
	if fps < MinFrameRate {
		fps = MinFrameRate
	}
	if fps > MaxFrameRate {
		fps = MaxFrameRate
	}
	m.mu.Lock()
	m.config.GIF.FrameRate = fps
	m.mu.Unlock()
}

// UpdateView persists new map-view preference state after validation.
// Invalid coordinates are ignored rather than saved.
func (m *Manager) UpdateView(view ViewConfig) error {
	if view.Lat < -90 || view.Lat > 90 ||
		view.Lng < -180 || view.Lng > 180 ||
		view.Zoom < 0 || view.Zoom > 22 {
		return fmt.Errorf("view state out of range: lat=%v lng=%v zoom=%d", view.Lat, view.Lng, view.Zoom)
	}
	m.mu.Lock()
	m.config.View = view
	m.mu.Unlock()
	return m.Save()
}
