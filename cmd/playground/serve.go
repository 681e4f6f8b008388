package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/playground/internal/config"
	"github.com/michaelbrown/playground/internal/logx"
	"github.com/michaelbrown/playground/internal/sandbox"
	"github.com/michaelbrown/playground/internal/server"
	"github.com/michaelbrown/playground/internal/storage/sqlite"
)

var portFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a local playground backend",
	Long: `Start the reference playground backend: one-shot runs on POST /run,
streaming runs on the /ws websocket, and shared workspaces under /share.

Programs run as local subprocesses, or in docker containers when
sandbox.runtime is "docker".

Examples:
  playground serve
  playground serve --port 9090`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := logx.Ctx(ctx)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Open storage
	store, err := sqlite.Open(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	sb := newSandbox(cfg.Sandbox)
	logger.Info("sandbox ready", "runtime", cfg.Sandbox.Runtime, "timeout", cfg.Sandbox.Timeout)

	// Determine port
	port := cfg.Server.Port
	if portFlag > 0 {
		port = portFlag
	}

	srv := server.New(store, sb, logger)

	// Graceful shutdown when the command context is cancelled
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if err := srv.Start(port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newSandbox(cfg config.SandboxConfig) sandbox.Sandbox {
	policy := sandbox.DefaultPolicy()
	if cfg.MaxMemory != "" {
		policy.MaxMemory = cfg.MaxMemory
	}
	if cfg.Timeout > 0 {
		policy.MaxTimeout = cfg.Timeout
	}
	if len(cfg.Images) > 0 {
		policy.Images = cfg.Images
	}
	policy.Network = cfg.Network

	if cfg.Runtime == config.RuntimeDocker {
		return sandbox.NewDockerSandbox(policy)
	}
	return sandbox.NewLocalSandbox(policy, cfg.PythonBin)
}
