// Package config loads the daemon configuration from a TOML file.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the daemon configuration.
type Config struct {
	Subsonic   SubsonicConfig   `toml:"subsonic"`
	Daemon     DaemonConfig     `toml:"daemon"`
	Audio      AudioConfig      `toml:"audio"`
	Scrobbling ScrobblingConfig `toml:"scrobbling"`
}

// SubsonicConfig contains the music-catalog server settings.
type SubsonicConfig struct {
	ServerURL string `toml:"server_url"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	Timeout   int    `toml:"timeout"` // in seconds
}

// DaemonConfig contains listener and persistence settings.
type DaemonConfig struct {
	ListenAddress string `toml:"listen_address"` // line-protocol interface
	ListenPort    int    `toml:"listen_port"`
	WebEnabled    bool   `toml:"web_enabled"`
	WebAddress    string `toml:"web_address"`
	WebPort       int    `toml:"web_port"`
	StateFile     string `toml:"state_file"` // empty means DefaultStatePath
	LogLevel      string `toml:"log_level"`
}

// AudioConfig contains audio output settings.
type AudioConfig struct {
	Sink string `toml:"sink"` // "auto" or "oto", "stdout", "null"
}

// ScrobblingConfig contains scrobbling service settings.
type ScrobblingConfig struct {
	// Server enables server-side scrobbling through the catalog.
	Server       bool               `toml:"server"`
	LastFM       LastFMConfig       `toml:"lastfm"`
	ListenBrainz ListenBrainzConfig `toml:"listenbrainz"`
}

// LastFMConfig contains Last.fm scrobbling settings.
type LastFMConfig struct {
	Enabled  bool   `toml:"enabled"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	APIKey   string `toml:"api_key"`
	Secret   string `toml:"secret"`
}

// ListenBrainzConfig contains ListenBrainz scrobbling settings.
type ListenBrainzConfig struct {
	Enabled bool   `toml:"enabled"`
	Token   string `toml:"token"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Subsonic: SubsonicConfig{
			Timeout: 30,
		},
		Daemon: DaemonConfig{
			ListenAddress: "127.0.0.1",
			ListenPort:    6602,
			WebEnabled:    false,
			WebAddress:    "127.0.0.1",
			WebPort:       6680,
			LogLevel:      "info",
		},
		Audio: AudioConfig{
			Sink: "oto",
		},
		Scrobbling: ScrobblingConfig{
			Server: true,
		},
	}
}

// DefaultPath returns the default configuration file location, creating the
// directory if needed.
func DefaultPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}

	dir := filepath.Join(configDir, "tremolo")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	return filepath.Join(dir, "config.toml"), nil
}

// DefaultStatePath returns the default state-file location.
func DefaultStatePath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "tremolo", "state.json"), nil
}

// Load reads the configuration at path, or the default location when path is
// empty. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return nil, err
		}
	}

	config := DefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}
	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if c.Subsonic.ServerURL == "" {
		return &ValidationError{Field: "subsonic.server_url", Message: "server URL is required"}
	}
	if c.Subsonic.Username == "" {
		return &ValidationError{Field: "subsonic.username", Message: "username is required"}
	}
	if c.Daemon.ListenPort <= 0 || c.Daemon.ListenPort > 65535 {
		return &ValidationError{Field: "daemon.listen_port", Message: "port out of range"}
	}
	return nil
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
