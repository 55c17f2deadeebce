package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/surfacecast/surfacecast/internal/logger"
	"gopkg.in/yaml.v3"
)

// OverlayConfig controls the optional status caption burned into outgoing frames
type OverlayConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Text    string `json:"text" yaml:"text"`
}

// Config represents the application configuration
type Config struct {
	// Surface being streamed
	SurfaceName   string `json:"surface_name" yaml:"surface_name"`
	SurfaceWidth  int    `json:"surface_width" yaml:"surface_width"`
	SurfaceHeight int    `json:"surface_height" yaml:"surface_height"`

	// Whether the surface stores its bottom row first. The encoder consumes
	// rows top-down, so bottom-up surfaces are flipped during conversion.
	BottomUp bool `json:"bottom_up" yaml:"bottom_up"`

	// Stream settings
	FPS        int    `json:"fps" yaml:"fps"`
	OutputURL  string `json:"output_url" yaml:"output_url"`
	FFmpegPath string `json:"ffmpeg_path" yaml:"ffmpeg_path"`

	Overlay OverlayConfig `json:"overlay" yaml:"overlay"`

	// Server settings
	ServerPort int    `json:"server_port" yaml:"server_port"`
	LogLevel   string `json:"log_level" yaml:"log_level"`
}

// Validate checks the configuration for values the streaming pipeline cannot
// work with. FPS must be at least 2 so the frame period stays strictly below
// the keepalive interval of one second.
func (c *Config) Validate() error {
	if c.SurfaceName == "" {
		return fmt.Errorf("surface_name is required")
	}
	if c.SurfaceWidth <= 0 || c.SurfaceHeight <= 0 {
		return fmt.Errorf("invalid surface size: %dx%d", c.SurfaceWidth, c.SurfaceHeight)
	}
	if c.FPS < 2 {
		return fmt.Errorf("fps must be at least 2, got %d", c.FPS)
	}
	if c.OutputURL == "" {
		return fmt.Errorf("output_url is required")
	}
	if c.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg_path is required")
	}
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server_port: %d", c.ServerPort)
	}
	return nil
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

	configDir := filepath.Join(homeDir, ".config", "surfacecast")
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
		Str("surface", m.config.SurfaceName).
		Int("fps", m.config.FPS).
		Msg("Config loaded")

	return m, nil
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		SurfaceName:   "paint",
		SurfaceWidth:  1024,
		SurfaceHeight: 1024,
		FPS:           15,
		OutputURL:     "udp://127.0.0.1:1234?pkt_size=1316",
		FFmpegPath:    "ffmpeg",
		Overlay: OverlayConfig{
			Enabled: false,
			Text:    "",
		},
		ServerPort: 8080,
		LogLevel:   "info",
	}
}

// load reads the configuration from disk
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()

	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}

	cfg := *m.config
	return &cfg
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = Defaults()
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// Update replaces the configuration and persists it
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return m.Save()
}

// SetPort sets the server port
func (m *Manager) SetPort(port int) error {
	m.mu.Lock()
	m.config.ServerPort = port
	m.mu.Unlock()
	return m.Save()
}

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) error {
	m.mu.Lock()
	m.config.LogLevel = level
	m.mu.Unlock()
	return m.Save()
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
