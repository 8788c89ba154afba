package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	// Directory holding the playlist, status file, history and sockets
	// Default: ~/.local/share/cadenza
	DataDir string

	// Capacity of the command queue
	QueueCapacity int

	// Output format template for the now command
	// Default: "{{.Title}}"
	OutputFormat     string
	OutputWidth      int
	MarqueeEnabled   bool
	MarqueeSpeed     int
	MarqueeSeparator string

	Playback PlaybackConfig
	Engine   EngineConfig
	Instance InstanceConfig
	History  HistoryConfig
}

// PlaybackConfig holds the playback mode switches
type PlaybackConfig struct {
	Loop      bool
	Shuffle   bool
	Continue  bool
	AutoExit  bool
	AutoStart bool
	Expand    bool
	Dedup     bool
	Filter    bool
	Volume    int
}

// EngineConfig describes the synthesizer
type EngineConfig struct {
	Command      []string
	OutputDevice string
}

// InstanceConfig holds the single-instance startup policy
type InstanceConfig struct {
	Policy        string
	Retries       int
	RetryInterval time.Duration
	PollTimeout   time.Duration
}

// HistoryConfig controls the play log
type HistoryConfig struct {
	Enabled bool
	MaxAge  time.Duration
}

// envReplacer maps nested keys to CADENZA_PLAYBACK_LOOP style variables
var envReplacer = strings.NewReplacer(".", "_")

// settableKeys are the keys Set accepts
var settableKeys = []string{
	"output_format",
	"output_width",
	"playback.loop",
	"playback.shuffle",
	"playback.continue",
	"playback.auto_exit",
	"playback.auto_start",
	"playback.expand",
	"playback.dedup",
	"playback.filter",
	"playback.volume",
	"engine.output_device",
	"instance.policy",
}

// Load reads configuration from file and environment
func Load() (*Config, error) {
	return LoadFrom(getConfigDir())
}

// LoadFrom reads configuration from config.yaml in dir
func LoadFrom(dir string) (*Config, error) {
	v := newViper(dir)

	// Read config file (optional - don't fail if missing)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return fromViper(v), nil
}

// Watch loads the configuration in dir and calls onChange with the new
// configuration each time the file changes. A missing config.yaml is
// created empty so later Set calls are seen.
func Watch(dir string, onChange func(*Config)) (*Config, error) {
	v := newViper(dir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := createEmpty(filepath.Join(dir, "config.yaml")); err != nil {
			return nil, fmt.Errorf("failed to create config: %w", err)
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.OnConfigChange(func(fsnotify.Event) {
		onChange(fromViper(v))
	})
	v.WatchConfig()

	return fromViper(v), nil
}

// createEmpty creates path unless it already exists. Defaults and
// environment overrides are left out of the file.
func createEmpty(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return f.Close()
}

func newViper(dir string) *viper.Viper {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("queue_capacity", 48)
	v.SetDefault("output_format", "{{.Title}}")
	v.SetDefault("output_width", 0)
	v.SetDefault("marquee_enabled", false)
	v.SetDefault("marquee_speed", 2)
	v.SetDefault("marquee_separator", " • ")

	v.SetDefault("playback.loop", false)
	v.SetDefault("playback.shuffle", false)
	v.SetDefault("playback.continue", true)
	v.SetDefault("playback.auto_exit", false)
	v.SetDefault("playback.auto_start", true)
	v.SetDefault("playback.expand", true)
	v.SetDefault("playback.dedup", false)
	v.SetDefault("playback.filter", false)
	v.SetDefault("playback.volume", 100)

	v.SetDefault("engine.command", []string{"timidity", "-Os", "--volume={{volume}}"})
	v.SetDefault("engine.output_device", "")

	v.SetDefault("instance.policy", "forward")
	v.SetDefault("instance.retries", 10)
	v.SetDefault("instance.retry_interval_ms", 200)
	v.SetDefault("instance.poll_timeout_ms", 200)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.max_age_days", 365)

	v.SetEnvPrefix("CADENZA")
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()

	return v
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		DataDir:          expandHome(v.GetString("data_dir")),
		QueueCapacity:    v.GetInt("queue_capacity"),
		OutputFormat:     v.GetString("output_format"),
		OutputWidth:      v.GetInt("output_width"),
		MarqueeEnabled:   v.GetBool("marquee_enabled"),
		MarqueeSpeed:     v.GetInt("marquee_speed"),
		MarqueeSeparator: v.GetString("marquee_separator"),
		Playback: PlaybackConfig{
			Loop:      v.GetBool("playback.loop"),
			Shuffle:   v.GetBool("playback.shuffle"),
			Continue:  v.GetBool("playback.continue"),
			AutoExit:  v.GetBool("playback.auto_exit"),
			AutoStart: v.GetBool("playback.auto_start"),
			Expand:    v.GetBool("playback.expand"),
			Dedup:     v.GetBool("playback.dedup"),
			Filter:    v.GetBool("playback.filter"),
			Volume:    v.GetInt("playback.volume"),
		},
		Engine: EngineConfig{
			Command:      v.GetStringSlice("engine.command"),
			OutputDevice: v.GetString("engine.output_device"),
		},
		Instance: InstanceConfig{
			Policy:        v.GetString("instance.policy"),
			Retries:       v.GetInt("instance.retries"),
			RetryInterval: time.Duration(v.GetInt("instance.retry_interval_ms")) * time.Millisecond,
			PollTimeout:   time.Duration(v.GetInt("instance.poll_timeout_ms")) * time.Millisecond,
		},
		History: HistoryConfig{
			Enabled: v.GetBool("history.enabled"),
			MaxAge:  time.Duration(v.GetInt("history.max_age_days")) * 24 * time.Hour,
		},
	}
}

// Set writes a single key to config.yaml in dir, keeping the other values
// in the file
func Set(dir, key, value string) error {
	if !slices.Contains(settableKeys, key) {
		return fmt.Errorf("unknown setting %q", key)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.Set(key, value)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return v.WriteConfigAs(filepath.Join(dir, "config.yaml"))
}

// SettableKeys lists the keys accepted by Set
func SettableKeys() []string {
	return slices.Clone(settableKeys)
}

// getConfigDir returns the configuration directory path
// Creates the directory if it doesn't exist
func getConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	configDir := filepath.Join(homeDir, ".config", "cadenza")

	// Create config directory if it doesn't exist
	_ = os.MkdirAll(configDir, 0755)

	return configDir
}

// GetConfigDir returns the configuration directory path (public helper)
func GetConfigDir() string {
	return getConfigDir()
}

func defaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(homeDir, ".local", "share", "cadenza")
}

func expandHome(path string) string {
	if len(path) < 2 || path[:2] != "~/" {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, path[2:])
}

// Paths under the data directory

func (c *Config) LockPath() string     { return filepath.Join(c.DataDir, "cadenza.lock") }
func (c *Config) SocketPath() string   { return filepath.Join(c.DataDir, "cadenza.sock") }
func (c *Config) PlaylistPath() string { return filepath.Join(c.DataDir, "playlist.txt") }
func (c *Config) StatusPath() string   { return filepath.Join(c.DataDir, "status.json") }
func (c *Config) HistoryPath() string  { return filepath.Join(c.DataDir, "history.db") }
func (c *Config) CacheDir() string     { return filepath.Join(c.DataDir, "cache") }
