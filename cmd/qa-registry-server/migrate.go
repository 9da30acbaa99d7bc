package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/llmeval/qa-registry/pkg/config"
	"github.com/llmeval/qa-registry/pkg/db"
	"github.com/llmeval/qa-registry/pkg/ha"
	"github.com/llmeval/qa-registry/pkg/versioning"
)

func newMigrateCmd(load func() *config.Config) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the registry schema and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := load()
			logger, gormDB := bootstrap(cfg)
			defer func() {
				_ = logger.Sync()
				_ = db.Close(gormDB)
			}()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			start := time.Now()
			if err := ha.MigrateWithLock(ctx, gormDB, cfg.HA.MigrationLockEnabled, versioning.AutoMigrate); err != nil {
				logger.Error("migration failed", zap.Error(err))
				return err
			}
			logger.Info("migration complete",
				zap.String("database", cfg.Database.Type),
				zap.Duration("took", time.Since(start)))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Give up waiting for the migration lock after this long")
	return cmd
}
