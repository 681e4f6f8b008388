package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"pkt.systems/psi"
	"pkt.systems/pslog"

	"github.com/michaelbrown/playground/internal/config"
	"github.com/michaelbrown/playground/internal/logx"
	"github.com/michaelbrown/playground/internal/playground"
)

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "playground",
	Short: "Playground - edit and run multi-file programs",
	Long: `Playground keeps a small multi-file workspace on disk and runs its entry
file on a playground backend, streaming the output back as it happens.

Run "playground serve" to start a local backend.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default: ./playground.yaml or ~/.playground/playground.yaml)")
}

func main() {
	psi.Run(submain)
}

func submain(ctx context.Context) int {
	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(os.Stderr),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeConsole}),
	)
	ctx = pslog.ContextWithLogger(ctx, logger)
	log.SetOutput(pslog.LogLogger(logger).Writer())
	log.SetFlags(0)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// openApp loads the config and restores the persisted workspace.
func openApp(cmd *cobra.Command) (*playground.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	ctx := cmd.Context()
	return playground.New(ctx, cfg, playground.WithLogger(logx.Ctx(ctx)))
}
