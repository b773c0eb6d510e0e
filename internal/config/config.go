package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for verhist.
type Config struct {
	ServiceID  string           `toml:"service_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Storage    StorageConfig    `toml:"storage"`
	Database   DatabaseConfig   `toml:"database"`
	Staging    StagingConfig    `toml:"staging"`
	Filesystem FilesystemConfig `toml:"filesystem"`
	History    HistoryConfig    `toml:"history"`
}

// FilesystemConfig holds settings for scanning local project directories.
type FilesystemConfig struct {
	Ignore []string `toml:"ignore"`
}

// StorageConfig represents configuration for the blob store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StorageConfig struct {
	Type        string `toml:"type"`        // "memory", "filesystem" or "s3"
	Compression string `toml:"compression"` // "", "zstd" or "lz4"

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"` // for S3-compatible services

	// Static credentials; when empty the default AWS credential chain is used.
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
}

// DatabaseConfig represents configuration for the metadata database.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// StagingConfig represents configuration for the upload staging area.
type StagingConfig struct {
	Type       string `toml:"type"`                  // "memory" or "filesystem"
	StagingDir string `toml:"staging_dir,omitempty"` // only used for type=filesystem
	MaxSize    int64  `toml:"max_size"`              // max total size in bytes; must be positive
}

// HistoryConfig tunes the version-history engine.
type HistoryConfig struct {
	VersionedExtensions []string `toml:"versioned_extensions"`
	DiffTimeout         string   `toml:"diff_timeout"` // Go duration, e.g. "2m"
	DiffWorkers         int      `toml:"diff_workers"`
	FallbackToReplace   bool     `toml:"fallback_to_replace"`
}

// Timeout parses DiffTimeout. An empty value returns zero, which callers
// treat as the engine default.
func (h HistoryConfig) Timeout() (time.Duration, error) {
	if h.DiffTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(h.DiffTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid diff_timeout %q: %w", h.DiffTimeout, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid diff_timeout %q: must not be negative", h.DiffTimeout)
	}
	return d, nil
}

// DefaultStagingMaxSize is used by NewConfig.
const DefaultStagingMaxSize = 1 << 30

// NewConfig creates a new Config with local on-disk defaults under baseDir.
func NewConfig(serviceID, baseDir string) *Config {
	return &Config{
		ServiceID: serviceID,
		BaseDir:   baseDir,
		LogDir:    filepath.Join(baseDir, "log"),
		Storage: StorageConfig{
			Type:   "filesystem",
			FSRoot: filepath.Join(baseDir, "blobs"),
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Staging: StagingConfig{
			Type:       "filesystem",
			StagingDir: filepath.Join(baseDir, "staging"),
			MaxSize:    DefaultStagingMaxSize,
		},
		Filesystem: FilesystemConfig{
			Ignore: []string{".git/", "*.tmp", "*.qgs~", "*.gpkg-wal", "*.gpkg-shm"},
		},
		History: HistoryConfig{
			VersionedExtensions: []string{".gpkg", ".sqlite"},
			DiffTimeout:         "2m",
			DiffWorkers:         2,
		},
	}
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
	return cfg, nil
}

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

// Init writes cfg to a new config file at path. It refuses to overwrite.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
