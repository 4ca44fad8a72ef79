package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"pg-dedump/internal/config"
	"pg-dedump/internal/ingest"
	"pg-dedump/internal/parser"
	"pg-dedump/internal/progress"
	"pg-dedump/internal/storage"
	"pg-dedump/internal/version"
)

const envFile = ".env"

var (
	configFile       string
	chunkSize        int
	totalLines       int
	dbPath           string
	dropDB           bool
	outputDir        string
	prefix           string
	outputType       string
	kvURL            string
	progressInterval time.Duration
	maxLineSize      int
	verbose          bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Note: slog might not be initialized here, so we'll use fmt
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pg-dedump [FILE...]",
		Short: "Convert PostgreSQL dumps into one columnar file per table",
		Long: `pg-dedump reads plain-text pg_dump output, recreates every table in a local
DuckDB database, loads the COPY data blocks in checkpointed chunks and writes each
table to its own parquet, csv or json file. Interrupted runs resume from the last
committed chunk when pointed at the same database file.

Files are read in order as one stream. With no FILE, or when FILE is -, the dump
is read from standard input.`,
		Version:       version.Get().String(),
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDedump,
	}

	// Define command-line flags
	flags := rootCmd.Flags()
	flags.StringVar(&configFile, "config", "", "Path to YAML config file")
	flags.IntVarP(&chunkSize, "chunks", "c", config.DefaultChunkSize, "Rows per committed chunk")
	flags.IntVarP(&totalLines, "total", "t", 0, "Expected number of input lines, for progress percentages")
	flags.StringVarP(&dbPath, "db", "d", storage.MemoryPath, "DuckDB database file (checkpoints live here)")
	flags.BoolVarP(&dropDB, "drop-db", "r", false, "Delete the database file before starting")
	flags.StringVarP(&outputDir, "output", "o", ".", "Output directory")
	flags.StringVarP(&prefix, "prefix", "p", "", "Prefix for output file names")
	flags.StringVar(&outputType, "output-type", string(storage.FormatParquet), "Output format: parquet, csv or json")
	flags.StringVar(&kvURL, "kv-url", "", "Redis URL to publish progress to")
	flags.DurationVar(&progressInterval, "progress-interval", config.DefaultProgressInterval, "Minimum time between progress log lines")
	flags.IntVar(&maxLineSize, "max-line-size", parser.DefaultMaxLineSize, "Longest accepted input line in bytes")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	return rootCmd
}

// loadConfig layers defaults, the config file, the environment and flags the
// user set explicitly, in that order.
func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	cfg := config.Default()

	if configFile != "" {
		if err := cfg.LoadFile(configFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.LoadEnv(envFile); err != nil {
		return nil, err
	}

	overrides := map[string]func(){
		"chunks":            func() { cfg.ChunkSize = chunkSize },
		"total":             func() { cfg.TotalLines = totalLines },
		"db":                func() { cfg.Database = dbPath },
		"drop-db":           func() { cfg.DropDatabase = dropDB },
		"output":            func() { cfg.OutputDir = outputDir },
		"prefix":            func() { cfg.Prefix = prefix },
		"output-type":       func() { cfg.OutputType = outputType },
		"kv-url":            func() { cfg.KVURL = kvURL },
		"progress-interval": func() { cfg.ProgressInterval = progressInterval },
		"max-line-size":     func() { cfg.MaxLineSize = maxLineSize },
		"verbose":           func() { cfg.Verbose = verbose },
	}
	flags.Visit(func(f *pflag.Flag) {
		if apply, ok := overrides[f.Name]; ok {
			apply()
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runDedump(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}

	// Set up structured logging
	logLevel := slog.LevelInfo
	if cfg.Verbose {
		logLevel = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: cfg.Verbose,
	}

	handler := slog.NewTextHandler(os.Stderr, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	format, err := cfg.Format()
	if err != nil {
		return err
	}

	runID := uuid.NewString()

	// Log startup configuration
	slog.Info("Starting pg-dedump",
		"version", version.Version,
		"run_id", runID,
		"inputs", inputNames(args),
		"database", cfg.Database,
		"chunk_size", cfg.ChunkSize,
		"output_dir", cfg.OutputDir,
		"output_type", format,
		"prefix", cfg.Prefix,
		"total_lines", cfg.TotalLines,
		"drop_db", cfg.DropDatabase,
		"kv_publishing", cfg.KVURL != "",
	)

	inputs, closeInputs, err := openInputs(args)
	if err != nil {
		return err
	}
	defer closeInputs()

	if cfg.DropDatabase {
		if err := storage.RemoveDatabase(cfg.Database); err != nil {
			return err
		}
		slog.Info("Dropped database", "path", cfg.Database)
	}

	store, err := storage.OpenDuckDB(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()
	store.WithLogger(logger)

	reporters := progress.Tee{progress.NewLogReporter(logger, cfg.ProgressInterval)}
	if cfg.KVURL != "" {
		kv, err := progress.NewRedisReporter(cfg.KVURL)
		if err != nil {
			return err
		}
		reporters = append(reporters, kv)
		slog.Info("Publishing progress", "key", progress.StateKey(runID), "channel", progress.Channel)
	}
	defer reporters.Close()

	ingester, err := ingest.NewIngester(store, ingest.Config{
		ChunkSize:  cfg.ChunkSize,
		OutputDir:  cfg.OutputDir,
		Prefix:     cfg.Prefix,
		Format:     format,
		Dialect:    cfg.Dialect,
		TotalLines: cfg.TotalLines,
		RunID:      runID,
	}, reporters)
	if err != nil {
		return fmt.Errorf("failed to create ingester: %w", err)
	}
	ingester.WithLogger(logger)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			slog.Warn("Received shutdown signal, stopping after the current chunk...")
			cancel()
		case <-ctx.Done():
		}
	}()

	lines := parser.NewLineReader(cfg.MaxLineSize, inputs...)
	if err := ingester.Run(ctx, lines); err != nil {
		stats := ingester.GetStatistics()
		slog.Error("Ingestion stopped",
			"line", lines.Line(),
			"rows_committed", stats.RowsCommitted,
			"error", err,
		)
		return fmt.Errorf("ingestion failed: %w", err)
	}

	return nil
}

// openInputs opens the named dump files. No names, or "-", means stdin.
func openInputs(names []string) ([]io.Reader, func(), error) {
	if len(names) == 0 {
		return []io.Reader{os.Stdin}, func() {}, nil
	}

	var (
		readers []io.Reader
		files   []*os.File
	)
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}

	for _, name := range names {
		if name == "-" {
			readers = append(readers, os.Stdin)
			continue
		}
		f, err := os.Open(name)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to open dump file: %w", err)
		}
		files = append(files, f)
		readers = append(readers, f)
	}

	return readers, closeAll, nil
}

func inputNames(args []string) []string {
	if len(args) == 0 {
		return []string{"-"}
	}
	return args
}
