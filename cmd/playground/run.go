package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/michaelbrown/playground/internal/config"
	"github.com/michaelbrown/playground/internal/execution"
	"github.com/michaelbrown/playground/internal/playground"
	"github.com/michaelbrown/playground/internal/sandbox"
)

var (
	onceFlag      bool
	streamFlag    bool
	inputFlag     string
	inputFileFlag string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the entry file on the backend",
	Long: `Run the workspace's entry file on the configured backend.

Streaming runs show output as it is produced; lines typed while the program
runs are sent to its stdin. Ctrl+C cancels the run.

One-shot runs (--once) send all input up front and print the output when the
program finishes.

Examples:
  playground run
  playground run --once --input "3\n4"
  playground run --once --input-file answers.txt`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&onceFlag, "once", false, "One-shot run: send input up front, print output at the end")
	runCmd.Flags().BoolVar(&streamFlag, "stream", false, "Streaming run (overrides backend.mode)")
	runCmd.Flags().StringVar(&inputFlag, "input", "", `Input for one-shot runs ("\n" separates lines)`)
	runCmd.Flags().StringVar(&inputFileFlag, "input-file", "", "Read one-shot input from a file")
	runCmd.MarkFlagsMutuallyExclusive("once", "stream")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	mode := ""
	switch {
	case onceFlag:
		mode = config.ModeOneShot
	case streamFlag:
		mode = config.ModeStream
	}
	tr, err := app.Transport(mode)
	if err != nil {
		return err
	}

	if tr.Mode() == execution.ModeOneShot {
		return runOnce(cmd, app)
	}
	return runStreaming(cmd, app)
}

func runOnce(cmd *cobra.Command, app *playground.App) error {
	input, err := oneShotInput()
	if err != nil {
		return err
	}

	entry := app.Workspace().Snapshot().EntryFile
	fmt.Println(commandLine(entry))
	for _, line := range strings.SplitAfter(input, "\n") {
		if line != "" {
			fmt.Print("> " + strings.TrimSuffix(line, "\n") + "\n")
		}
	}

	p := newTranscriptPrinter(os.Stdout, os.Stderr)
	unsubscribe := app.Runner().Subscribe(p.print)
	defer unsubscribe()

	if _, err := app.Run(cmd.Context(), config.ModeOneShot, input); err != nil {
		return runError(err)
	}
	s := waitSettled(cmd.Context(), app.Runner())
	return finish(s)
}

func runStreaming(cmd *cobra.Command, app *playground.App) error {
	ctx := cmd.Context()
	entry := app.Workspace().Snapshot().EntryFile

	if !isTerminal(os.Stdin) {
		return runStreamingPiped(cmd, app)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "",
		InterruptPrompt: "^C",
		EOFPrompt:       "",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(rl.Stdout(), "\033[90m%s (Ctrl+C to cancel)\033[0m\n", commandLine(entry))

	p := newTranscriptPrinter(rl.Stdout(), rl.Stderr())
	unsubscribe := app.Runner().Subscribe(p.print)
	defer unsubscribe()

	if _, err := app.Run(ctx, config.ModeStream, ""); err != nil {
		return runError(err)
	}

	// Lines typed while the program runs become its stdin.
	go func() {
		for {
			line, err := rl.Readline()
			if errors.Is(err, readline.ErrInterrupt) {
				app.Cancel()
				return
			}
			if err != nil {
				return
			}
			if err := app.SendInput(line + "\n"); err != nil {
				fmt.Fprintf(rl.Stderr(), "\033[31merror: %s\033[0m\n", err)
			}
		}
	}()

	s := waitSettled(ctx, app.Runner())
	return finish(s)
}

// runStreamingPiped feeds a non-interactive stdin to a streaming run line
// by line.
func runStreamingPiped(cmd *cobra.Command, app *playground.App) error {
	p := newTranscriptPrinter(os.Stdout, os.Stderr)
	unsubscribe := app.Runner().Subscribe(p.print)
	defer unsubscribe()

	if _, err := app.Run(cmd.Context(), config.ModeStream, ""); err != nil {
		return runError(err)
	}

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			// Input sent before the program is running is dropped, so wait.
			if !waitRunning(app.Runner()) {
				return
			}
			app.SendInput(scanner.Text() + "\n")
		}
	}()

	s := waitSettled(cmd.Context(), app.Runner())
	return finish(s)
}

// waitRunning blocks until the session leaves Connecting. It reports whether
// the session is Running.
func waitRunning(c *execution.Controller) bool {
	ch := make(chan execution.State, 1)
	unsubscribe := c.Subscribe(func(s execution.Session) {
		if s.State != execution.Connecting {
			select {
			case ch <- s.State:
			default:
			}
		}
	})
	defer unsubscribe()

	state := c.Current().State
	if state == execution.Connecting {
		state = <-ch
	}
	return state == execution.Running
}

// waitSettled waits for the session to end. Once ctx is done the run is
// being cancelled with it, so keep waiting for that to land rather than
// reporting a session that is still active.
func waitSettled(ctx context.Context, c *execution.Controller) execution.Session {
	s, err := c.Wait(ctx)
	if err != nil {
		s, _ = c.Wait(context.Background())
	}
	return s
}

func finish(s execution.Session) error {
	switch s.State {
	case execution.Completed:
		fmt.Printf("\n\033[90m[Process exited with code %d in %.2fs]\033[0m\n", *s.ExitCode, s.ElapsedSeconds())
		return nil
	case execution.Failed:
		return fmt.Errorf("run failed: %s", s.Diagnostic)
	default:
		return fmt.Errorf("run ended in state %s", s.State)
	}
}

func runError(err error) error {
	if errors.Is(err, execution.ErrNoEntry) {
		return fmt.Errorf("%w: add a file with: playground files add <name>", err)
	}
	return err
}

func oneShotInput() (string, error) {
	if inputFileFlag != "" {
		data, err := os.ReadFile(inputFileFlag)
		if err != nil {
			return "", fmt.Errorf("reading input file: %w", err)
		}
		return string(data), nil
	}
	if inputFlag != "" {
		input := strings.ReplaceAll(inputFlag, `\n`, "\n")
		if !strings.HasSuffix(input, "\n") {
			input += "\n"
		}
		return input, nil
	}
	if !isTerminal(os.Stdin) {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}
	return "", nil
}

// commandLine is the shell-style header printed above a run.
func commandLine(entry string) string {
	lang, err := sandbox.LanguageFor(entry)
	if err != nil {
		return "$ " + entry
	}
	var argv []string
	for _, arg := range lang.Command(entry) {
		if !strings.HasPrefix(arg, "-") {
			argv = append(argv, arg)
		}
	}
	return "$ " + strings.Join(argv, " ")
}

// transcriptPrinter writes the chunks of each published session that have
// not been printed yet.
type transcriptPrinter struct {
	mu      sync.Mutex
	stdout  io.Writer
	stderr  io.Writer
	session string
	printed int
}

func newTranscriptPrinter(stdout, stderr io.Writer) *transcriptPrinter {
	return &transcriptPrinter{stdout: stdout, stderr: stderr}
}

func (p *transcriptPrinter) print(s execution.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.ID != p.session || len(s.Transcript) < p.printed {
		p.session = s.ID
		p.printed = 0
	}
	for _, c := range s.Transcript[p.printed:] {
		switch c.Stream {
		case execution.Stdout:
			fmt.Fprint(p.stdout, c.Data)
		case execution.Stderr:
			fmt.Fprintf(p.stderr, "\033[31m%s\033[0m", c.Data)
		default:
			fmt.Fprintf(p.stderr, "\033[33m%s\033[0m", c.Data)
		}
	}
	p.printed = len(s.Transcript)
}
