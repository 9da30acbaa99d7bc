package main

import (
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/llmeval/qa-registry/pkg/config"
	"github.com/llmeval/qa-registry/pkg/db"
	"github.com/llmeval/qa-registry/pkg/ha"
	"github.com/llmeval/qa-registry/pkg/server"
	"github.com/llmeval/qa-registry/pkg/versioning"
)

func newServeCmd(load func() *config.Config) *cobra.Command {
	var listen string
	var skipMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the registry HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := load()
			if listen != "" {
				cfg.Server.ListenAddr = listen
			}

			logger, gormDB := bootstrap(cfg)
			defer func() {
				_ = logger.Sync()
				_ = db.Close(gormDB)
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if !skipMigrate {
				if err := ha.MigrateWithLock(ctx, gormDB, cfg.HA.MigrationLockEnabled, versioning.AutoMigrate); err != nil {
					glog.Fatalf("Failed to migrate database: %v", err)
				}
				logger.Info("database schema up to date")
			}

			srv, err := server.New(cfg, gormDB, logger)
			if err != nil {
				glog.Fatalf("Failed to build server: %v", err)
			}

			logger.Info("starting qa registry server",
				zap.String("version", version),
				zap.String("listen", cfg.Server.ListenAddr),
				zap.String("authMode", string(cfg.Auth.Mode)),
				zap.Bool("leaderElection", cfg.HA.LeaderElectionEnabled),
				zap.String("identity", cfg.HA.Identity))

			if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("server exited", zap.Error(err))
				return err
			}
			logger.Info("qa registry server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Address to listen on (overrides server.listenAddr)")
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "Do not migrate the schema on start-up")
	return cmd
}
