package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/osakka/agentorch/internal/server"
	"github.com/osakka/agentorch/pkg/auth"
	"github.com/osakka/agentorch/pkg/process"
	"github.com/osakka/agentorch/pkg/tracing"
)

const healthInterval = 30 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var pidFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, pidFile)
		},
	}
	cmd.Flags().StringVar(&pidFile, "pid-file", "", "PID file path (default: ~/.agentorch/agentorch.pid)")
	return cmd
}

func runServe(ctx context.Context, opts *rootOptions, pidFile string) error {
	a, err := newApp(opts, modeServer)
	if err != nil {
		return err
	}
	defer a.Close()

	if pidFile == "" {
		pidFile = a.paths.PIDFile
	}
	pm := process.NewPIDManager(pidFile, a.logger)
	if err := pm.WritePID(); err != nil {
		return err
	}
	defer pm.RemovePID()

	if ctx == nil {
		ctx = context.Background()
	}

	shutdownTracing, err := tracing.Setup(ctx, a.config.Tracing, Version, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialise tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			a.logger.Warn("tracing_shutdown_failed", "error", err)
		}
	}()

	version := fmt.Sprintf("%s (%s)", Version, Commit)
	serverOpts := []server.Option{server.WithVersion(version)}
	if a.store != nil {
		serverOpts = append(serverOpts, server.WithStore(a.store))
	}
	if admin := a.config.Server.Admin; admin.JWTSecret != "" {
		validator, err := auth.NewJWTValidator(auth.JWTConfig{
			Secret:   admin.JWTSecret,
			Issuer:   admin.Issuer,
			TokenTTL: admin.TokenTTL,
		}, a.logger, a.metrics)
		if err != nil {
			return err
		}
		serverOpts = append(serverOpts, server.WithAuth(validator))
	}

	srv, err := server.New(a.config.Server, a.orchestrator, a.logger, a.metrics, serverOpts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go srv.HealthManager().Monitor(ctx, healthInterval)

	a.logger.Info("agentorch_starting",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
		"address", srv.Addr(),
		"pid", os.Getpid(),
		"pid_file", pm.Path(),
		"capabilities", a.registry.Len())

	if err := srv.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("agentorch_stopped")
	return nil
}

func newStopCmd(opts *rootOptions) *cobra.Command {
	var (
		pidFile string
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if pidFile == "" {
				_, p, err := loadConfig(opts)
				if err != nil {
					return err
				}
				pidFile = p.PIDFile
			}
			pm := process.NewPIDManager(pidFile, logger(opts))
			if err := pm.Stop(force); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "agentorch stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&pidFile, "pid-file", "", "PID file path (default: ~/.agentorch/agentorch.pid)")
	cmd.Flags().BoolVar(&force, "force", false, "send SIGKILL instead of SIGTERM")
	return cmd
}
