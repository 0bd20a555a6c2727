package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/manager"
	"github.com/cuemby/burrow/pkg/metrics"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "burrow",
	Short: "Burrow - declarative reconciler for hosting resources",
	Long: `Burrow keeps DNS zones, cron jobs, virtual hosts, TLS certificates and
container stacks on this host in line with their declared state.

Desired state is submitted through the API or "burrow apply". A pool of
workers renders each resource into files and commands, applies them, and
records every attempt.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Burrow version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (default ./burrow.yaml or /etc/burrow/burrow.yaml)")
	rootCmd.PersistentFlags().String("api", "", "API address for client commands (default from config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configsCmd)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	file, _ := cmd.Flags().GetString("config")
	return config.Load(file)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reconciler and the API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		log.Init(cfg.Log)
		metrics.SetVersion(Version)
		logger := log.WithComponent("serve")

		mgr, err := manager.NewManager(cfg.Manager())
		if err != nil {
			return fmt.Errorf("failed to create manager: %w", err)
		}
		mgr.Start()
		logger.Info().
			Str("data_dir", cfg.Store.DataDir).
			Int("workers", mgr.Reconciler().Workers()).
			Msg("Reconciler started")

		apiServer := api.NewServer(mgr)
		errCh := make(chan error, 1)
		go func() {
			errCh <- apiServer.Start(cfg.API.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		var runErr error
		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("Shutting down")
		case runErr = <-errCh:
			if runErr != nil {
				runErr = fmt.Errorf("API server error: %w", runErr)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
		defer cancel()
		if err := apiServer.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("API shutdown incomplete")
		}
		if err := mgr.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("Failed to close store")
		}

		logger.Info().Msg("Shutdown complete")
		return runErr
	},
}

var configsCmd = &cobra.Command{
	Use:   "configs",
	Short: "Display configurations currently loaded",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return cfg.Write(os.Stdout)
	},
}
