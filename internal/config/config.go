// Package config loads pg-dedump settings. Values are layered, lowest
// precedence first: built-in defaults, a YAML file, .env files and the
// process environment, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"pg-dedump/internal/parser"
	"pg-dedump/internal/storage"
)

const (
	ConfigVersionV1 = "v1"

	// EnvPrefix is prepended to every environment variable name.
	EnvPrefix = "PG_DEDUMP_"

	DefaultChunkSize        = 10000
	DefaultProgressInterval = 10 * time.Second
)

// Config holds every setting of a run.
type Config struct {
	Version          string        `yaml:"version"`
	ChunkSize        int           `yaml:"chunk_size"`
	TotalLines       int           `yaml:"total_lines"`
	Database         string        `yaml:"database"`
	DropDatabase     bool          `yaml:"drop_database"`
	OutputDir        string        `yaml:"output_dir"`
	Prefix           string        `yaml:"prefix"`
	OutputType       string        `yaml:"output_type"`
	Dialect          string        `yaml:"dialect"`
	KVURL            string        `yaml:"kv_url"`
	ProgressInterval time.Duration `yaml:"progress_interval"`
	MaxLineSize      int           `yaml:"max_line_size"`
	Verbose          bool          `yaml:"verbose"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version:          ConfigVersionV1,
		ChunkSize:        DefaultChunkSize,
		Database:         storage.MemoryPath,
		OutputDir:        ".",
		OutputType:       string(storage.FormatParquet),
		Dialect:          parser.DialectPostgres,
		ProgressInterval: DefaultProgressInterval,
		MaxLineSize:      parser.DefaultMaxLineSize,
	}
}

// LoadFile overlays the YAML file at path onto c. Keys missing from the file
// keep their current value.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	c.Version = ""
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	// Legacy configs without a version field are treated as v1
	if c.Version == "" {
		c.Version = ConfigVersionV1
	}
	if c.Version != ConfigVersionV1 {
		return fmt.Errorf("unsupported config version: %s (supported: %s)", c.Version, ConfigVersionV1)
	}
	return nil
}

// LoadEnv overlays PG_DEDUMP_* variables onto c. Variables set in the process
// environment take precedence over the env files; missing files are ignored.
func (c *Config) LoadEnv(files ...string) error {
	fileVars := map[string]string{}
	for _, f := range files {
		vars, err := godotenv.Read(f)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read env file %s: %w", f, err)
		}
		// earlier files win, as with godotenv.Load
		for k := range fileVars {
			delete(vars, k)
		}
		maps.Copy(fileVars, vars)
	}

	return c.applyEnv(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileVars[key]
		return v, ok
	})
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}
	flag := func(name string, dst *bool) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
		}
		*dst = b
		return nil
	}

	str("DB", &c.Database)
	str("OUTPUT", &c.OutputDir)
	str("PREFIX", &c.Prefix)
	str("OUTPUT_TYPE", &c.OutputType)
	str("DIALECT", &c.Dialect)
	str("KV_URL", &c.KVURL)

	if v, ok := lookup(EnvPrefix + "PROGRESS_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sPROGRESS_INTERVAL: %w", EnvPrefix, err)
		}
		c.ProgressInterval = d
	}

	return errors.Join(
		num("CHUNKS", &c.ChunkSize),
		num("TOTAL", &c.TotalLines),
		num("MAX_LINE_SIZE", &c.MaxLineSize),
		flag("DROP_DB", &c.DropDatabase),
		flag("VERBOSE", &c.Verbose),
	)
}

// Validate checks the settings that would otherwise fail mid-run.
func (c *Config) Validate() error {
	if c.ChunkSize < 1 {
		return fmt.Errorf("chunk size must be at least 1, got %d", c.ChunkSize)
	}
	if c.TotalLines < 0 {
		return fmt.Errorf("total lines must not be negative, got %d", c.TotalLines)
	}
	if c.MaxLineSize < 0 {
		return fmt.Errorf("max line size must not be negative, got %d", c.MaxLineSize)
	}
	if c.ProgressInterval < 0 {
		return fmt.Errorf("progress interval must not be negative, got %s", c.ProgressInterval)
	}
	if c.Database == "" {
		return errors.New("database path must not be empty")
	}
	if _, err := storage.ParseFormat(c.OutputType); err != nil {
		return err
	}
	if _, err := parser.NewSQLParser(c.Dialect); err != nil {
		return err
	}
	return nil
}

// Format returns the validated output format.
func (c *Config) Format() (storage.Format, error) {
	return storage.ParseFormat(c.OutputType)
}
