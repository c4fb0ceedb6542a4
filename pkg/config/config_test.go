package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const validDoc = `{
	"database": {
		"host": "localhost",
		"port": 5432,
		"user": "s3repo",
		"password": "s3repo",
		"database": "s3repo"
	},
	"s3_access_key": "abc",
	"s3_secret_key": "def",
	"s3.default_bucket": "some-bucket",
	"local_root": "/tmp/s3repo"
}`

func TestParseValid(t *testing.T) {
	cfg, err := Parse([]byte(validDoc))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if cfg.DefaultBucket != "some-bucket" {
		t.Errorf("DefaultBucket = %q, want %q", cfg.DefaultBucket, "some-bucket")
	}

	// Defaults
	if cfg.BackupBucket != "some-bucket" {
		t.Errorf("BackupBucket should default to the default bucket, got %q", cfg.BackupBucket)
	}
	if cfg.NumBackups != DefaultNumBackups {
		t.Errorf("NumBackups = %d, want %d", cfg.NumBackups, DefaultNumBackups)
	}
	if cfg.S3Endpoint != DefaultS3Endpoint {
		t.Errorf("S3Endpoint = %q, want %q", cfg.S3Endpoint, DefaultS3Endpoint)
	}
	if cfg.PublishedStaleSeconds != DefaultPublishedStaleSeconds {
		t.Errorf("PublishedStaleSeconds = %d, want %d", cfg.PublishedStaleSeconds, DefaultPublishedStaleSeconds)
	}
}

func TestParseMissingRequiredKey(t *testing.T) {
	doc := `{"database": {"host": "localhost", "user": "u", "database": "d"}}`
	_, err := Parse([]byte(doc))
	if !errors.Is(err, ErrNoConfiguration) {
		t.Fatalf("Parse() error = %v, want ErrNoConfiguration", err)
	}
}

func TestParseInvalidJSON(t *testing.T) {
	_, err := Parse([]byte("{"))
	if !errors.Is(err, ErrNoConfiguration) {
		t.Fatalf("Parse() error = %v, want ErrNoConfiguration", err)
	}
}

func TestLoadFromEnvPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	if err := os.WriteFile(path, []byte(validDoc), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Database.Host != "localhost" {
		t.Errorf("Database.Host = %q, want localhost", cfg.Database.Host)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv(EnvVar, filepath.Join(t.TempDir(), "absent.json"))
	_, err := Load()
	if !errors.Is(err, ErrNoConfiguration) {
		t.Fatalf("Load() error = %v, want ErrNoConfiguration", err)
	}
}

func TestDSN(t *testing.T) {
	d := Database{Host: "db1", User: "u", Password: "p", Database: "s3repo"}
	want := "host=db1 port=5432 user=u password=p dbname=s3repo"
	if got := d.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

func TestOffline(t *testing.T) {
	t.Setenv("OFFLINE", "1")
	if !Offline() {
		t.Error("Offline() should be true when OFFLINE=1")
	}
	t.Setenv("OFFLINE", "")
	if Offline() {
		t.Error("Offline() should be false when OFFLINE is unset")
	}
}
