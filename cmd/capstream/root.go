package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/capstream/pkg/capstream/checkpoint"
	"github.com/randalmurphal/capstream/pkg/capstream/config"
)

// StoreFile is the checkpoint database created under the data root when
// store.path is not set.
const StoreFile = "capstream.db"

var (
	cfgPath  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "capstream",
	Short: "Multi-source capture recorder",
	Long: `capstream merges screen, audio and input captures into one ordered
event stream per session and fans it out to file, broker and object
storage sinks.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "pipeline file (yaml or json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log_level from the pipeline")
}

// loadPipeline reads the pipeline named by --config and sets up logging.
func loadPipeline() (config.Pipeline, *slog.Logger, error) {
	p, err := config.LoadPipeline(cfgPath)
	if err != nil {
		return config.Pipeline{}, nil, fmt.Errorf("load pipeline: %w", err)
	}
	if logLevel != "" {
		p.LogLevel = logLevel
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: p.SlogLevel()}))
	slog.SetDefault(logger)
	return p, logger, nil
}

// openStore opens the SQLite checkpoint store of the pipeline.
func openStore(p config.Pipeline) (*checkpoint.SQLiteStore, error) {
	path := p.Store.Path
	if path == "" {
		path = filepath.Join(p.Session.DataRoot, StoreFile)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	store, err := checkpoint.NewSQLiteStore(path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	return store, nil
}
