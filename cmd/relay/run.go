package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"bournemouth-hq/relay/pkg/config"
	"bournemouth-hq/relay/pkg/server"
	"bournemouth-hq/relay/pkg/service"
	"bournemouth-hq/relay/pkg/store"
	"bournemouth-hq/relay/pkg/telemetry/logging"
	"bournemouth-hq/relay/pkg/telemetry/metrics"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
	watchConfig   bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the relay server",
	Long: `Start the relay server with the specified configuration.

Examples:
  # Start with default config
  relay run

  # Start with custom config
  relay run --config /etc/relay/config.yaml

  # Override listen address
  relay run --listen 0.0.0.0:8080

  # Validate config without starting the server
  relay run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the server")
	runCmd.Flags().BoolVar(&runFlags.watchConfig, "watch-config", true, "reload log level when the config file changes")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	// Flag overrides
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	logger, err := logging.Setup(logging.Config{
		Level:         cfg.Telemetry.Logging.Level,
		Format:        cfg.Telemetry.Logging.Format,
		RedactSecrets: true,
	})
	if err != nil {
		return err
	}

	if runFlags.dryRun {
		fmt.Println("configuration valid")
		return nil
	}

	st, err := store.Open(store.Config{Path: cfg.Store.Path})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	m := metrics.New(metrics.DefaultNamespace)

	svc := service.New(service.Config{
		DefaultModel:   cfg.Upstream.DefaultModel,
		BaseURL:        cfg.Upstream.BaseURL,
		Timeout:        cfg.Upstream.Timeout,
		MaxClients:     cfg.Pool.MaxClients,
		StrictDecoding: cfg.Upstream.StrictDecoding,
		Metrics:        m.Pool,
	})

	srv, err := server.New(cfg, svc, st, m, logger)
	if err != nil {
		st.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pruner := store.NewPruner(st, store.PrunerConfig{
		Schedule:  cfg.Store.PruneSchedule,
		Retention: cfg.Store.Retention,
	}, logger)
	if err := pruner.Start(ctx); err != nil {
		logger.Warn("failed to start retention pruner", "error", err)
	} else {
		defer pruner.Stop()
	}

	if runFlags.watchConfig {
		watcher := config.NewWatcher(cfgFile, logger)
		go func() {
			err := watcher.Watch(ctx, func(next *config.Config) {
				if err := logging.SetLevel(next.Telemetry.Logging.Level); err != nil {
					logger.Error("failed to apply log level", "error", err)
					return
				}
				logger.Info("log level updated", "level", next.Telemetry.Logging.Level)
			})
			if err != nil {
				logger.Warn("configuration watcher exited", "error", err)
			}
		}()
	}

	return srv.Start(ctx)
}
