package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader(WithConfigPaths("nonexistent.yaml")).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.App.Name != "turbulence" {
		t.Errorf("app.name = %q", cfg.App.Name)
	}
	if cfg.Run.Instances != 100 {
		t.Errorf("run.instances = %d", cfg.Run.Instances)
	}
	if cfg.Run.Parallelism != 10 {
		t.Errorf("run.parallelism = %d", cfg.Run.Parallelism)
	}
	if cfg.Storage.Backend != "jsonl" {
		t.Errorf("storage.backend = %q", cfg.Storage.Backend)
	}
	if cfg.Run.HTTPTimeout != 30*time.Second {
		t.Errorf("run.http_timeout = %v", cfg.Run.HTTPTimeout)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "turbulence.yaml")
	content := []byte(`
app:
  name: my-turbulence
run:
  instances: 500
  parallelism: 25
storage:
  backend: sqlite
`)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader(WithConfigPaths(path)).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.App.Name != "my-turbulence" {
		t.Errorf("app.name = %q", cfg.App.Name)
	}
	if cfg.Run.Instances != 500 {
		t.Errorf("run.instances = %d", cfg.Run.Instances)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("storage.backend = %q", cfg.Storage.Backend)
	}
	// Незатронутые значения остаются дефолтными
	if cfg.Log.Level != "info" {
		t.Errorf("log.level = %q", cfg.Log.Level)
	}
}

func TestEnvOverridesDefaults(t *testing.T) {
	t.Setenv("TURBULENCE_RUN_INSTANCES", "7")
	t.Setenv("TURBULENCE_LOG_LEVEL", "debug")

	cfg, err := NewLoader(WithConfigPaths("nonexistent.yaml")).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Run.Instances != 7 {
		t.Errorf("run.instances = %d, want 7 from env", cfg.Run.Instances)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %q, want debug from env", cfg.Log.Level)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg, err := NewLoader(WithConfigPaths("nonexistent.yaml")).Load()
	if err != nil {
		t.Fatal(err)
	}

	cfg.Run.Instances = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should reject zero instances")
	}

	cfg.Run.Instances = 1
	cfg.Storage.Backend = "carrier_pigeon"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should reject unknown storage backend")
	}

	cfg.Storage.Backend = "jsonl"
	cfg.Log.Level = "loud"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should reject unknown log level")
	}
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{
		Host: "db", Port: 5432, Database: "turbulence",
		Username: "tb", Password: "secret", SSLMode: "disable",
	}
	want := "postgres://tb:secret@db:5432/turbulence?sslmode=disable"
	if got := d.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
