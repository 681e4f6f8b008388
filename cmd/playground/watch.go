package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/playground/internal/config"
	"github.com/michaelbrown/playground/internal/logx"
	"github.com/michaelbrown/playground/internal/watcher"
	"github.com/michaelbrown/playground/internal/workspace"
)

var watchRunFlag bool

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Mirror a directory into the workspace",
	Long: `Mirror a local directory into the workspace, so files can be edited in any
editor. The workspace is replaced with the directory contents now and again
whenever a file changes. Hidden files and dependency directories are skipped.

With --run, the entry file is run after every change.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchRunFlag, "run", false, "Run the entry file after every change")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	p := newTranscriptPrinter(os.Stdout, os.Stderr)
	unsubscribe := app.Runner().Subscribe(p.print)
	defer unsubscribe()

	changes := make(chan workspace.Snapshot, 1)
	w := watcher.New(args[0], app.Workspace(),
		watcher.WithLogger(logx.Ctx(ctx)),
		watcher.WithOnSync(func(s workspace.Snapshot) {
			select {
			case changes <- s:
			default:
			}
		}),
	)
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Close()

	fmt.Printf("Watching %s (Ctrl+C to stop)\n", args[0])
	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-changes:
			fmt.Printf("\033[90m%d files, entry file %s\033[0m\n", len(s.Files), s.EntryFile)
			if !watchRunFlag || s.EntryFile == workspace.NoEntry {
				continue
			}
			fmt.Println(commandLine(s.EntryFile))
			if _, err := app.Run(ctx, config.ModeOneShot, ""); err != nil {
				fmt.Fprintf(os.Stderr, "\033[31merror: %s\033[0m\n", err)
				continue
			}
			res, _ := app.Runner().Wait(ctx)
			if err := finish(res); err != nil {
				fmt.Fprintf(os.Stderr, "\033[31m%s\033[0m\n", err)
			}
		}
	}
}
