// cmd/piiredact/root.go
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/David-Botos/pii-redact/pkg/config"
)

var (
	cfg    *config.Config
	logger *zap.Logger
)

// rootFlags override the environment configuration
var rootFlags struct {
	inputPath        string
	tablePath        string
	expectationsPath string
	storeDriver      string
	logLevel         string
	logFormat        string
}

var rootCmd = &cobra.Command{
	Use:   "piiredact",
	Short: "Quarantine and redact records that fail PII expectations",
	Long: `piiredact evaluates every column of an input table against a catalog of
constraint/action rules. Records that pass land in clean; records that fail land
in quarantine and are redacted into redacted using a projection that covers every
column that has ever failed. clean and redacted are merged into clean_processed.

Configuration is read from the environment (and a .env file); flags override it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig()
		if err != nil {
			return err
		}
		if err := applyRootFlags(cmd, cfg); err != nil {
			return err
		}

		logger, err = newLogger(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		zap.ReplaceGlobals(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&rootFlags.inputPath, "input-path", "", "input CSV file or snowflake://SCHEMA.TABLE, postgres://schema.table, sqlite://file.db#table")
	flags.StringVar(&rootFlags.tablePath, "table-path", "", "directory of the SQLite table store")
	flags.StringVar(&rootFlags.expectationsPath, "expectations-path", "", "rule catalog (JSON or YAML)")
	flags.StringVar(&rootFlags.storeDriver, "store", "", "table store driver (sqlite, postgres)")
	flags.StringVar(&rootFlags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&rootFlags.logFormat, "log-format", "", "log format (json, console)")
}

// applyRootFlags copies the flags that were set onto cfg and reloads the
// database settings they affect
func applyRootFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("input-path") {
		cfg.InputPath = rootFlags.inputPath
	}
	if flags.Changed("table-path") {
		cfg.TablePath = rootFlags.tablePath
	}
	if flags.Changed("expectations-path") {
		cfg.ExpectationsPath = rootFlags.expectationsPath
	}
	if flags.Changed("store") {
		cfg.StoreDriver = strings.ToLower(rootFlags.storeDriver)
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = rootFlags.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = rootFlags.logFormat
	}

	if err := cfg.LoadDatabases(); err != nil {
		return err
	}
	return cfg.Validate()
}

// newLogger builds the process logger
func newLogger(level, format string) (*zap.Logger, error) {
	var zcfg zap.Config
	switch strings.ToLower(format) {
	case "console":
		zcfg = zap.NewDevelopmentConfig()
	case "", "json":
		zcfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return zcfg.Build()
}
