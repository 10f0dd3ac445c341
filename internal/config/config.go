// Package config loads and saves the feedplay configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Player   PlayerConfig   `mapstructure:"player"`
	Playback PlaybackConfig `mapstructure:"playback"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Store    StoreConfig    `mapstructure:"store"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ServerConfig holds backend connection settings
type ServerConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"` // optional access token
}

// PlayerConfig holds media player configuration
type PlayerConfig struct {
	Command   string   `mapstructure:"command"`
	Args      []string `mapstructure:"args"`
	StartFlag string   `mapstructure:"start_flag"` // e.g., "--start=" or "--start-time="
}

// PlaybackConfig tunes the session controller
type PlaybackConfig struct {
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
	ResumeThreshold  time.Duration `mapstructure:"resume_threshold"`
	PrefetchBytes    int64         `mapstructure:"prefetch_bytes"`
	ProxyStreams     bool          `mapstructure:"proxy_streams"` // route upstream CDN URLs through the backend
	PlaylistID       string        `mapstructure:"playlist_id"`
}

// StreamConfig holds the recovery budgets
type StreamConfig struct {
	NetworkRetryLimit int           `mapstructure:"network_retry_limit"`
	MediaRetryLimit   int           `mapstructure:"media_retry_limit"`
	RebuildLimit      int           `mapstructure:"rebuild_limit"`
	RebuildDelay      time.Duration `mapstructure:"rebuild_delay"`
	HealDelay         time.Duration `mapstructure:"heal_delay"`
	HealMaxAttempts   int           `mapstructure:"heal_max_attempts"`
	HealWindow        time.Duration `mapstructure:"heal_window"`
}

// StoreConfig holds local persistence settings
type StoreConfig struct {
	Path           string        `mapstructure:"path"` // empty keeps records in memory
	RecordCapacity int           `mapstructure:"record_capacity"`
	FlushDelay     time.Duration `mapstructure:"flush_delay"`
}

// FeedConfig holds list paging settings
type FeedConfig struct {
	PageSize        int           `mapstructure:"page_size"`
	RefreshDebounce time.Duration `mapstructure:"refresh_debounce"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// MetricsConfig holds the Prometheus endpoint
type MetricsConfig struct {
	Listen string `mapstructure:"listen"` // e.g. "127.0.0.1:9464"; empty disables
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Player: PlayerConfig{
			Command: "mpv",
		},
		Playback: PlaybackConfig{
			ProgressInterval: time.Second,
			ResumeThreshold:  time.Second,
			PrefetchBytes:    512 * 1024,
		},
		Stream: StreamConfig{
			NetworkRetryLimit: 3,
			MediaRetryLimit:   2,
			RebuildLimit:      2,
			RebuildDelay:      1500 * time.Millisecond,
			HealDelay:         2500 * time.Millisecond,
			HealMaxAttempts:   3,
			HealWindow:        time.Minute,
		},
		Store: StoreConfig{
			Path:           defaultDataPath(),
			RecordCapacity: 180,
			FlushDelay:     800 * time.Millisecond,
		},
		Feed: FeedConfig{
			PageSize:        30,
			RefreshDebounce: 600 * time.Millisecond,
		},
		Logging: LoggingConfig{
			File:  filepath.Join(defaultDataPath(), "feedplay.log"),
			Level: "INFO",
		},
	}
}

// defaultDataPath returns the default data directory for the current OS
func defaultDataPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "feedplay")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "feedplay")
	}
}

// DefaultConfigPath returns the default config directory for the current OS
func DefaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "feedplay")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "feedplay")
	}
}

// LoadConfig loads configuration from the default location and environment
func LoadConfig() (*Config, error) {
	return Load(DefaultConfigPath(), ".")
}

// Load reads config.yaml from the first of dirs that has one. FEEDPLAY_*
// environment variables override file values, e.g. FEEDPLAY_SERVER_URL.
func Load(dirs ...string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, dir := range dirs {
		v.AddConfigPath(dir)
	}
	setDefaults(v, cfg)

	v.SetEnvPrefix("FEEDPLAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to the default config directory
func SaveConfig(cfg *Config) error {
	return Save(DefaultConfigPath(), cfg)
}

// Save writes cfg as config.yaml under dir
func Save(dir string, cfg *Config) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	setDefaults(v, cfg)

	configFile := filepath.Join(dir, "config.yaml")
	if err := v.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setDefaults registers every key so env overrides and writes use snake_case.
// Durations are stored in their string form ("1.5s").
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.url", cfg.Server.URL)
	v.SetDefault("server.token", cfg.Server.Token)

	v.SetDefault("player.command", cfg.Player.Command)
	v.SetDefault("player.args", cfg.Player.Args)
	v.SetDefault("player.start_flag", cfg.Player.StartFlag)

	v.SetDefault("playback.progress_interval", cfg.Playback.ProgressInterval.String())
	v.SetDefault("playback.resume_threshold", cfg.Playback.ResumeThreshold.String())
	v.SetDefault("playback.prefetch_bytes", cfg.Playback.PrefetchBytes)
	v.SetDefault("playback.proxy_streams", cfg.Playback.ProxyStreams)
	v.SetDefault("playback.playlist_id", cfg.Playback.PlaylistID)

	v.SetDefault("stream.network_retry_limit", cfg.Stream.NetworkRetryLimit)
	v.SetDefault("stream.media_retry_limit", cfg.Stream.MediaRetryLimit)
	v.SetDefault("stream.rebuild_limit", cfg.Stream.RebuildLimit)
	v.SetDefault("stream.rebuild_delay", cfg.Stream.RebuildDelay.String())
	v.SetDefault("stream.heal_delay", cfg.Stream.HealDelay.String())
	v.SetDefault("stream.heal_max_attempts", cfg.Stream.HealMaxAttempts)
	v.SetDefault("stream.heal_window", cfg.Stream.HealWindow.String())

	v.SetDefault("store.path", cfg.Store.Path)
	v.SetDefault("store.record_capacity", cfg.Store.RecordCapacity)
	v.SetDefault("store.flush_delay", cfg.Store.FlushDelay.String())

	v.SetDefault("feed.page_size", cfg.Feed.PageSize)
	v.SetDefault("feed.refresh_debounce", cfg.Feed.RefreshDebounce.String())

	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.level", cfg.Logging.Level)

	v.SetDefault("metrics.listen", cfg.Metrics.Listen)
}

// IsConfigured returns true once a server URL is set. The token is optional.
func (c *Config) IsConfigured() bool {
	return c.Server.URL != ""
}
