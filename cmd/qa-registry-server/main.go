// Package main provides the QA dataset registry server entry point.
package main

import (
	"flag"
	"os"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/llmeval/qa-registry/pkg/config"
	"github.com/llmeval/qa-registry/pkg/db"
	"github.com/llmeval/qa-registry/pkg/logging"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "qa-registry-server",
		Short: "QA dataset registry server",
		Long: `qa-registry-server serves the QA dataset registry API: standard
questions with immutable version history, rollback and comparison, and
curated dataset versions.

Configuration is read from --config (or $QAREG_CONFIG) and QAREG_*
environment variables, e.g. QAREG_DATABASE_DSN.`,
		Version:      version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML config file")

	load := func() *config.Config {
		cfg, err := config.Load(configPath)
		if err != nil {
			glog.Fatalf("Failed to load config: %v", err)
		}
		return cfg
	}

	rootCmd.AddCommand(newServeCmd(load))
	rootCmd.AddCommand(newMigrateCmd(load))
	rootCmd.AddCommand(newHealthcheckCmd())
	return rootCmd
}

// bootstrap builds the logger and opens the database, exiting on failure.
func bootstrap(cfg *config.Config) (*zap.Logger, *gorm.DB) {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		glog.Fatalf("Failed to build logger: %v", err)
	}
	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		glog.Fatalf("Failed to connect to database: %v", err)
	}
	logger.Info("connected to database", zap.String("type", cfg.Database.Type))
	return logger, gormDB
}

func main() {
	// glog only reports fatal start-up errors; send them to stderr.
	_ = flag.Set("logtostderr", "true")

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
