package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/playground/internal/playground"
	"github.com/michaelbrown/playground/internal/workspace"
)

var (
	addContentFlag string
	exportFormat   string
	exportOutput   string
)

var filesCmd = &cobra.Command{
	Use:     "files",
	Aliases: []string{"file", "f"},
	Short:   "Manage workspace files",
}

var filesListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List files, marking the entry file",
	Args:    cobra.NoArgs,
	RunE:    runFilesList,
}

var filesShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Print a file (default: the entry file)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runFilesShow,
}

var filesAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a file and make it the entry",
	Long: `Create a new file. Content comes from --content, or from stdin when it
is not a terminal. A file created without content starts with a comment.`,
	Args: cobra.ExactArgs(1),
	RunE: runFilesAdd,
}

var filesRemoveCmd = &cobra.Command{
	Use:     "rm <name>",
	Aliases: []string{"remove", "delete"},
	Short:   "Remove a file",
	Args:    cobra.ExactArgs(1),
	RunE:    runFilesRemove,
}

var filesRenameCmd = &cobra.Command{
	Use:     "mv <old> <new>",
	Aliases: []string{"rename"},
	Short:   "Rename a file",
	Args:    cobra.ExactArgs(2),
	RunE:    runFilesRename,
}

var filesEntryCmd = &cobra.Command{
	Use:   "entry [name]",
	Short: "Show or set the entry file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runFilesEntry,
}

var filesEditCmd = &cobra.Command{
	Use:   "edit [name]",
	Short: "Edit a file in $EDITOR, or replace it with stdin",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runFilesEdit,
}

var filesImportCmd = &cobra.Command{
	Use:   "import <path>...",
	Short: "Copy local files into the workspace",
	Long: `Copy local files into the workspace. Names without the default extension
get it appended, and names already taken get a numeric suffix.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFilesImport,
}

var filesExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the workspace as yaml, json or markdown",
	Args:  cobra.NoArgs,
	RunE:  runFilesExport,
}

var filesLoadCmd = &cobra.Command{
	Use:   "load <manifest>",
	Short: "Replace the workspace with an exported yaml or json manifest",
	Args:  cobra.ExactArgs(1),
	RunE:  runFilesLoad,
}

func init() {
	rootCmd.AddCommand(filesCmd)
	filesCmd.AddCommand(filesListCmd, filesShowCmd, filesAddCmd, filesRemoveCmd, filesRenameCmd,
		filesEntryCmd, filesEditCmd, filesImportCmd, filesExportCmd, filesLoadCmd)

	filesAddCmd.Flags().StringVarP(&addContentFlag, "content", "c", "", "Initial file content")

	filesExportCmd.Flags().StringVar(&exportFormat, "format", playground.FormatYAML, "Export format: yaml, json or markdown")
	filesExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")
}

func runFilesList(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	snap := app.Workspace().Snapshot()
	if len(snap.Files) == 0 {
		fmt.Println("Workspace is empty. Add a file with: playground files add <name>")
		return nil
	}

	fmt.Printf("  %-30s %s\n", "NAME", "LINES")
	fmt.Println(strings.Repeat("─", 40))
	for _, f := range snap.Files {
		marker := " "
		if f.Name == snap.EntryFile {
			marker = "*"
		}
		fmt.Printf("%s %-30s %d\n", marker, f.Name, lineCount(f.Content))
	}
	return nil
}

func runFilesShow(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	name := fileArg(app.Workspace(), args)
	content, err := app.Workspace().File(name)
	if err != nil {
		return err
	}
	fmt.Print(content)
	if content != "" && !strings.HasSuffix(content, "\n") {
		fmt.Println()
	}
	return nil
}

func runFilesAdd(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	content := addContentFlag
	if content == "" && !isTerminal(os.Stdin) {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		content = string(data)
	}
	if err := app.AddFile(cmd.Context(), args[0], content); err != nil {
		return err
	}
	fmt.Printf("Added %s (now the entry file).\n", strings.TrimSpace(args[0]))
	return nil
}

func runFilesRemove(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Workspace().RemoveFile(cmd.Context(), args[0]); err != nil {
		return err
	}
	entry := app.Workspace().Snapshot().EntryFile
	if entry == workspace.NoEntry {
		fmt.Printf("Removed %s. The workspace is now empty.\n", args[0])
		return nil
	}
	fmt.Printf("Removed %s. Entry file: %s\n", args[0], entry)
	return nil
}

func runFilesRename(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Workspace().RenameFile(cmd.Context(), args[0], strings.TrimSpace(args[1])); err != nil {
		return err
	}
	fmt.Printf("Renamed %s to %s.\n", args[0], strings.TrimSpace(args[1]))
	return nil
}

func runFilesEntry(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	if len(args) == 0 {
		entry := app.Workspace().Snapshot().EntryFile
		if entry == workspace.NoEntry {
			fmt.Println("(no entry file)")
			return nil
		}
		fmt.Println(entry)
		return nil
	}
	if err := app.Workspace().SetEntry(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Entry file: %s\n", args[0])
	return nil
}

func runFilesEdit(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	name := fileArg(app.Workspace(), args)
	current, err := app.Workspace().File(name)
	if err != nil {
		return err
	}

	var content string
	if isTerminal(os.Stdin) {
		content, err = editInEditor(name, current)
	} else {
		var data []byte
		data, err = io.ReadAll(os.Stdin)
		content = string(data)
	}
	if err != nil {
		return err
	}
	if content == current {
		fmt.Println("No changes.")
		return nil
	}
	if err := app.Workspace().EditFile(cmd.Context(), name, content); err != nil {
		return err
	}
	fmt.Printf("Saved %s.\n", name)
	return nil
}

func runFilesImport(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	for _, path := range args {
		name, err := app.ImportPath(cmd.Context(), path)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %s as %s\n", path, name)
	}
	return nil
}

func runFilesExport(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	data, err := app.Export(exportFormat)
	if err != nil {
		return err
	}
	if exportOutput != "" {
		if err := os.WriteFile(exportOutput, data, 0o644); err != nil {
			return fmt.Errorf("writing export: %w", err)
		}
		fmt.Printf("Exported to %s\n", exportOutput)
		return nil
	}
	fmt.Print(string(data))
	return nil
}

func runFilesLoad(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.LoadManifest(cmd.Context(), args[0]); err != nil {
		return err
	}
	snap := app.Workspace().Snapshot()
	fmt.Printf("Loaded %d files. Entry file: %s\n", len(snap.Files), snap.EntryFile)
	return nil
}

// fileArg returns the named file, or the entry file when no name is given.
func fileArg(store *workspace.Store, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return store.Snapshot().EntryFile
}

func lineCount(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// editInEditor opens content in $EDITOR (vi if unset) and returns the result.
func editInEditor(name, content string) (string, error) {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
	}

	pattern := "playground-*-" + strings.ReplaceAll(name, "/", "_")
	tmp, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing temp file: %w", err)
	}
	tmp.Close()

	c := exec.Command("sh", "-c", editor+` "$1"`, "editor", tmp.Name())
	c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := c.Run(); err != nil {
		return "", fmt.Errorf("running %s: %w", editor, err)
	}

	data, err := os.ReadFile(tmp.Name())
	if err != nil {
		return "", fmt.Errorf("reading edited file: %w", err)
	}
	return string(data), nil
}
