// Package config reads and writes the TOML configuration file.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config represents the main configuration for unison.
type Config struct {
	BaseDir string       `toml:"base_dir"`
	LogDir  string       `toml:"log_dir"`
	Backup  BackupConfig `toml:"backup"`
	Store   StoreConfig  `toml:"store"`
	Sync    SyncConfig   `toml:"sync"`
	Server  ServerConfig `toml:"server"`
}

// BackupConfig locates the device backup container on disk.
type BackupConfig struct {
	// Root is the default backup root directory: the directory holding
	// Manifest.db and the blob tree. CLI flags can override it per run.
	Root string `toml:"root"`
}

// StoreConfig represents configuration for the message store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StoreConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// SyncConfig holds reconciliation and rate-limit policy.
type SyncConfig struct {
	// DedupWindowSeconds is the idempotence window for message dedup.
	// Zero selects the built-in default.
	DedupWindowSeconds int `toml:"dedup_window_seconds"`

	// Per-category minimum intervals between completed sync runs.
	// Messages change often and get a short cooldown; contacts are heavy
	// and get a long one. Zero disables the cooldown for that category.
	ContactsCooldownSeconds int `toml:"contacts_cooldown_seconds"`
	MessagesCooldownSeconds int `toml:"messages_cooldown_seconds"`
	CallsCooldownSeconds    int `toml:"calls_cooldown_seconds"`
}

// ServerConfig holds the HTTP query surface settings.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// NewConfig creates a Config with defaults rooted at baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Store: StoreConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "data"),
		},
		Sync: SyncConfig{
			MessagesCooldownSeconds: 30,
			CallsCooldownSeconds:    60,
			ContactsCooldownSeconds: 300,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8743",
		},
	}
}

// Validate checks the configuration for internally inconsistent values.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseDir, validation.Required),
		validation.Field(&c.Store, validation.By(func(any) error { return c.Store.validate() })),
		validation.Field(&c.Sync, validation.By(func(any) error { return c.Sync.validate() })),
	)
}

func (s StoreConfig) validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Type, validation.Required, validation.In("sqlite", "memory")),
	)
}

func (s SyncConfig) validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.DedupWindowSeconds, validation.Min(0)),
		validation.Field(&s.ContactsCooldownSeconds, validation.Min(0)),
		validation.Field(&s.MessagesCooldownSeconds, validation.Min(0)),
		validation.Field(&s.CallsCooldownSeconds, validation.Min(0)),
	)
}

// DedupWindow returns the configured dedup window as a duration; zero means
// the caller should apply its default.
func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.Sync.DedupWindowSeconds) * time.Second
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config at %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
