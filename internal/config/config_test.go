package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pg-dedump/internal/storage"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	c := Default()
	if c.ChunkSize != 10000 {
		t.Errorf("ChunkSize = %d, want 10000", c.ChunkSize)
	}
	if c.Database != storage.MemoryPath {
		t.Errorf("Database = %q", c.Database)
	}
	if c.OutputType != "parquet" {
		t.Errorf("OutputType = %q", c.OutputType)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, "pg-dedump.yaml", `
version: v1
chunk_size: 500
output_dir: /tmp/out
output_type: csv
progress_interval: 30s
`)

	c := Default()
	if err := c.LoadFile(path); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if c.ChunkSize != 500 || c.OutputDir != "/tmp/out" || c.OutputType != "csv" {
		t.Errorf("unexpected config: %+v", c)
	}
	if c.ProgressInterval != 30*time.Second {
		t.Errorf("ProgressInterval = %s", c.ProgressInterval)
	}
	if c.Database != storage.MemoryPath {
		t.Errorf("unset key overwritten: Database = %q", c.Database)
	}
}

func TestLoadFile_Version(t *testing.T) {
	c := Default()
	if err := c.LoadFile(writeFile(t, "legacy.yaml", "chunk_size: 7\n")); err != nil {
		t.Fatalf("legacy config rejected: %v", err)
	}
	if c.Version != ConfigVersionV1 {
		t.Errorf("Version = %q, want %q", c.Version, ConfigVersionV1)
	}

	if err := Default().LoadFile(writeFile(t, "future.yaml", "version: v9\n")); err == nil {
		t.Error("expected an error for an unsupported version")
	}
}

func TestLoadFile_Errors(t *testing.T) {
	if err := Default().LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
	if err := Default().LoadFile(writeFile(t, "bad.yaml", "chunk_size: [1\n")); err == nil {
		t.Error("expected an error for malformed YAML")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PG_DEDUMP_CHUNKS":            "42",
		"PG_DEDUMP_DB":                "dump.duckdb",
		"PG_DEDUMP_DROP_DB":           "true",
		"PG_DEDUMP_OUTPUT_TYPE":       "json",
		"PG_DEDUMP_PROGRESS_INTERVAL": "1m",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	c := Default()
	if err := c.applyEnv(lookup); err != nil {
		t.Fatalf("applyEnv() error = %v", err)
	}
	if c.ChunkSize != 42 || c.Database != "dump.duckdb" || !c.DropDatabase || c.OutputType != "json" {
		t.Errorf("unexpected config: %+v", c)
	}
	if c.ProgressInterval != time.Minute {
		t.Errorf("ProgressInterval = %s", c.ProgressInterval)
	}

	env["PG_DEDUMP_CHUNKS"] = "many"
	if err := Default().applyEnv(lookup); err == nil {
		t.Error("expected an error for a non-numeric chunk size")
	}
}

func TestLoadEnv_FilesAndProcessEnv(t *testing.T) {
	envFile := writeFile(t, ".env", "PG_DEDUMP_PREFIX=file_\nPG_DEDUMP_CHUNKS=5\n")
	t.Setenv("PG_DEDUMP_CHUNKS", "9")

	c := Default()
	if err := c.LoadEnv(envFile, filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("LoadEnv() error = %v", err)
	}
	if c.Prefix != "file_" {
		t.Errorf("Prefix = %q, want file_", c.Prefix)
	}
	if c.ChunkSize != 9 {
		t.Errorf("ChunkSize = %d, process environment should win", c.ChunkSize)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero chunk size", func(c *Config) { c.ChunkSize = 0 }},
		{"negative total", func(c *Config) { c.TotalLines = -1 }},
		{"empty database", func(c *Config) { c.Database = "" }},
		{"bad format", func(c *Config) { c.OutputType = "xlsx" }},
		{"bad dialect", func(c *Config) { c.Dialect = "mysql" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.modify(c)
			if err := c.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}

	c := Default()
	c.OutputType = "xlsx"
	if err := c.Validate(); !errors.Is(err, storage.ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}
