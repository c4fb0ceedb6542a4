package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoConfiguration is returned when no config document can be located or a
// required key is absent.
var ErrNoConfiguration = errors.New("no configuration")

// EnvVar names the environment variable that overrides the config location.
const EnvVar = "S3_REPO_CFG"

// DefaultFile is the config file consulted when EnvVar is unset.
const DefaultFile = ".s3repo.cfg"

// Database holds relational store connection info.
type Database struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	PoolSize int    `json:"pool_size"`
}

// DSN renders the connection info as a pgx connection string.
func (d Database) DSN() string {
	port := d.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		d.Host, port, d.User, d.Password, d.Database)
}

// Config is the single configuration document for a repository process.
type Config struct {
	Database Database `json:"database"`

	S3AccessKey string `json:"s3_access_key"`
	S3SecretKey string `json:"s3_secret_key"`
	S3Endpoint  string `json:"s3.endpoint"`
	S3UseSSL    *bool  `json:"s3.use_ssl"`

	DefaultBucket string `json:"s3.default_bucket"`
	BackupBucket  string `json:"s3.backup_bucket"`

	LocalRoot string `json:"local_root"`

	PublishedStaleSeconds   int64 `json:"fs.published_stale_seconds"`
	UnpublishedStaleSeconds int64 `json:"fs.unpublished_stale_seconds"`

	BackupLocalPath string `json:"backup.local.path"`
	NumBackups      int    `json:"num_backups"`
}

// Defaults applied to absent optional keys.
const (
	DefaultS3Endpoint              = "s3.amazonaws.com"
	DefaultPublishedStaleSeconds   = 7 * 24 * 3600
	DefaultUnpublishedStaleSeconds = 7 * 24 * 3600
	DefaultNumBackups              = 10
)

// Load reads the configuration from $S3_REPO_CFG if set, otherwise from
// ~/.s3repo.cfg. A missing document or required key fails with
// ErrNoConfiguration.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("%w: cannot resolve home directory: %v", ErrNoConfiguration, err)
		}
		path = filepath.Join(home, DefaultFile)
	}
	return LoadFile(path)
}

// LoadFile reads and validates the configuration document at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoConfiguration, err)
	}
	return Parse(data)
}

// Parse decodes and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: invalid config document: %v", ErrNoConfiguration, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) validate() error {
	required := []struct {
		key   string
		value string
	}{
		{"database.host", c.Database.Host},
		{"database.user", c.Database.User},
		{"database.database", c.Database.Database},
		{"s3_access_key", c.S3AccessKey},
		{"s3_secret_key", c.S3SecretKey},
		{"s3.default_bucket", c.DefaultBucket},
		{"local_root", c.LocalRoot},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%w: missing required key %q", ErrNoConfiguration, r.key)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.S3Endpoint == "" {
		c.S3Endpoint = DefaultS3Endpoint
	}
	if c.BackupBucket == "" {
		c.BackupBucket = c.DefaultBucket
	}
	if c.PublishedStaleSeconds == 0 {
		c.PublishedStaleSeconds = DefaultPublishedStaleSeconds
	}
	if c.UnpublishedStaleSeconds == 0 {
		c.UnpublishedStaleSeconds = DefaultUnpublishedStaleSeconds
	}
	if c.NumBackups == 0 {
		c.NumBackups = DefaultNumBackups
	}
	if c.BackupLocalPath == "" {
		c.BackupLocalPath = "s3repo_backups"
	}
}

// Offline reports whether object-store calls are disabled for this process.
func Offline() bool {
	return os.Getenv("OFFLINE") == "1"
}
