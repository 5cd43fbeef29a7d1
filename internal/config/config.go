// Package config loads the streaks daemon configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Config is the daemon configuration.
type Config struct {
	// Listen is the HTTP API (and peer websocket) address.
	Listen string `yaml:"listen" validate:"required,hostname_port"`
	// DataDir holds the database, key and replica id files.
	DataDir string `yaml:"data_dir" validate:"required"`
	// ReplicaID identifies this replica. Generated and persisted when empty.
	ReplicaID string `yaml:"replica_id"`

	Storage StorageConfig `yaml:"storage"`
	Sync    SyncConfig    `yaml:"sync"`
	Timers  TimersConfig  `yaml:"timers"`
	Log     LogConfig     `yaml:"log"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend string `yaml:"backend" validate:"oneof=sqlite badger"`
	// Encrypt seals the stored snapshot with a key kept in DataDir. Applies
	// to both backends.
	Encrypt bool `yaml:"encrypt"`
}

// SyncConfig selects and tunes the peer transport.
type SyncConfig struct {
	Transport      string        `yaml:"transport" validate:"oneof=websocket filedrop none"`
	PeerURL        string        `yaml:"peer_url" validate:"omitempty,url"`
	DropDir        string        `yaml:"drop_dir" validate:"required_if=Transport filedrop"`
	Rebroadcast    bool          `yaml:"rebroadcast"`
	InstantTimeout time.Duration `yaml:"instant_timeout" validate:"gt=0"`
	RedialEvery    time.Duration `yaml:"redial_every" validate:"gt=0"`
	PingInterval   time.Duration `yaml:"ping_interval" validate:"gt=0"`
}

// TimersConfig tunes derived timer values.
type TimersConfig struct {
	// PausedElapsed is "since_pause" or "zero".
	PausedElapsed string `yaml:"paused_elapsed" validate:"oneof=since_pause zero"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	dataDir := ".streaks"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".streaks")
	}
	return &Config{
		Listen:  "127.0.0.1:7466",
		DataDir: dataDir,
		Storage: StorageConfig{
			Backend: "sqlite",
			Encrypt: true,
		},
		Sync: SyncConfig{
			Transport:      "websocket",
			Rebroadcast:    true,
			InstantTimeout: 5 * time.Second,
			RedialEvery:    2 * time.Second,
			PingInterval:   30 * time.Second,
		},
		Timers: TimersConfig{PausedElapsed: "since_pause"},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Sync.Transport == "websocket" && c.Sync.PeerURL != "" &&
		!strings.HasPrefix(c.Sync.PeerURL, "ws://") && !strings.HasPrefix(c.Sync.PeerURL, "wss://") {
		return fmt.Errorf("sync.peer_url must use ws:// or wss://, got %q", c.Sync.PeerURL)
	}
	return nil
}

// Load reads the YAML file at path over the defaults. A missing file yields
// the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.Sync.DropDir = expandHome(cfg.Sync.DropDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// DefaultPath returns ~/.streaks/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".streaks", "config.yaml")
	}
	return filepath.Join(home, ".streaks", "config.yaml")
}

// Save writes cfg as YAML, creating parent directories if needed.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// EnsureReplicaID returns the configured replica id, or the one stored in
// DataDir, generating and storing a new one on first run.
func (c *Config) EnsureReplicaID() (string, error) {
	if c.ReplicaID != "" {
		return c.ReplicaID, nil
	}
	path := filepath.Join(c.DataDir, "replica_id")
	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			c.ReplicaID = id
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("reading replica id: %w", err)
	}

	if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
		return "", fmt.Errorf("creating data dir: %w", err)
	}
	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("writing replica id: %w", err)
	}
	c.ReplicaID = id
	return id, nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
