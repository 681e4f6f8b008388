package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/playground/internal/share"
)

var shareCmd = &cobra.Command{
	Use:   "share",
	Short: "Publish the workspace and print a link to it",
	Args:  cobra.NoArgs,
	RunE:  runShare,
}

var openCmd = &cobra.Command{
	Use:   "open <id-or-link>",
	Short: "Replace the workspace with a shared one",
	Long: `Replace the workspace with a shared workspace, given its id or the link
printed by "playground share". The current workspace is overwritten.`,
	Args: cobra.ExactArgs(1),
	RunE: runOpen,
}

var themeCmd = &cobra.Command{
	Use:   "theme [dark|light]",
	Short: "Show or set the colour theme",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTheme,
}

func init() {
	rootCmd.AddCommand(shareCmd, openCmd, themeCmd)
}

func runShare(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	link, err := app.Share(cmd.Context())
	if err != nil {
		if errors.Is(err, share.ErrShareUnavailable) {
			return fmt.Errorf("%w (is the backend running?)", err)
		}
		return err
	}
	fmt.Println(link)
	return nil
}

func runOpen(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.OpenShared(cmd.Context(), args[0]); err != nil {
		return err
	}
	snap := app.Workspace().Snapshot()
	fmt.Printf("Opened shared workspace: %d files, entry file %s\n", len(snap.Files), snap.EntryFile)
	return nil
}

func runTheme(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	if len(args) == 0 {
		fmt.Println(app.Theme(cmd.Context()))
		return nil
	}
	t, err := app.SetTheme(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Theme: %s\n", t)
	return nil
}
