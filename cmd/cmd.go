// Package cmd provides CLI commands for the evidify tool.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/evidify/evidify-cli/config"
	"github.com/evidify/evidify-cli/pkg/db"
	"github.com/evidify/evidify-cli/pkg/logging"
)

// defaultConfigFile is used when --config is not set explicitly.
const defaultConfigFile = "config.json"

// Global flags shared by all commands.
var (
	configPath string
	debugMode  bool
	jsonLogs   bool
)

// RegisterGlobalFlags attaches the flags every command honors to the root
// command.
func RegisterGlobalFlags(root *cobra.Command) {
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigFile, "pipeline config file (JSON or YAML)")
	root.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit logs as JSON")
}

// newLogger builds the command logger from the global flags.
func newLogger() logging.Logger {
	cfg := logging.DefaultConfig()
	cfg.ServiceName = "evidify-cli"
	cfg.JSONFormat = jsonLogs
	if debugMode {
		cfg.Level = logging.LevelDebug
	}
	return logging.NewLogger(cfg)
}

// loadAppConfig loads the pipeline configuration. When the default config
// file does not exist, built-in development defaults are used so the mock
// pipeline works out of the box.
func loadAppConfig() (*config.AppConfig, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) && configPath == defaultConfigFile {
		return config.DefaultConfig(), nil
	}
	return config.Load(configPath)
}

// connectPool opens the Postgres pool from DATABASE_URL or DB_* environment
// variables.
func connectPool(ctx context.Context) (*pgxpool.Pool, error) {
	dbCfg := db.ConfigFromEnv()
	pool, err := db.Connect(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return pool, nil
}

// outputJSON writes v to stdout as indented JSON.
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
