package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/michaelbrown/playground/internal/workspace"
)

var (
	ErrUnsafeName    = errors.New("unsafe file name")
	ErrEntryNotFound = errors.New("entry file not found")
	ErrUnsupported   = errors.New("unsupported entry file type")
	ErrStdinClosed   = errors.New("stdin is closed")
)

// Language maps an entry file extension to the interpreter that runs it.
type Language struct {
	Name    string
	Image   string // Docker image (e.g. "python:3.12-slim")
	Command func(entry string) []string
}

var languages = map[string]Language{
	".py": {
		Name:    "python",
		Image:   "python:3.12-slim",
		Command: func(entry string) []string { return []string{"python3", "-u", entry} },
	},
	".js": {
		Name:    "javascript",
		Image:   "node:22-slim",
		Command: func(entry string) []string { return []string{"node", entry} },
	},
	".rb": {
		Name:    "ruby",
		Image:   "ruby:3.3-slim",
		Command: func(entry string) []string { return []string{"ruby", entry} },
	},
	".go": {
		Name:    "go",
		Image:   "golang:1.23-alpine",
		Command: func(entry string) []string { return []string{"go", "run", entry} },
	},
	".sh": {
		Name:    "shell",
		Image:   "alpine:3.20",
		Command: func(entry string) []string { return []string{"sh", entry} },
	},
}

// LanguageFor returns the language that runs entry.
func LanguageFor(entry string) (Language, error) {
	lang, ok := languages[strings.ToLower(path.Ext(entry))]
	if !ok {
		return Language{}, fmt.Errorf("%w: %q", ErrUnsupported, entry)
	}
	return lang, nil
}

// ExecOpts describes a code execution request.
type ExecOpts struct {
	Files     workspace.Files
	EntryFile string

	// Stdin is fed to the program up front. Interactive runs ignore it and
	// take input through Process.Write instead.
	Stdin       string
	Interactive bool

	Stdout io.Writer
	Stderr io.Writer
}

// ExecResult is the output of a sandboxed execution.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Sandbox runs a workspace's entry file in an isolated environment.
type Sandbox interface {
	Start(ctx context.Context, opts ExecOpts) (*Process, error)
}

// Exec runs opts to completion and collects its output.
func Exec(ctx context.Context, sb Sandbox, opts ExecOpts) (*ExecResult, error) {
	var stdout, stderr bytes.Buffer
	opts.Stdout = &stdout
	opts.Stderr = &stderr
	opts.Interactive = false

	p, err := sb.Start(ctx, opts)
	if err != nil {
		return nil, err
	}
	code, err := p.Wait()
	if err != nil {
		return nil, err
	}
	return &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: code,
	}, nil
}

// Process is a started execution.
type Process struct {
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	cleanup func()

	mu    sync.Mutex
	stdin io.WriteCloser
}

// Write sends data to the program's stdin.
func (p *Process) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdin == nil {
		return 0, ErrStdinClosed
	}
	return p.stdin.Write(data)
}

// CloseStdin signals end of input.
func (p *Process) CloseStdin() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdin == nil {
		return nil
	}
	err := p.stdin.Close()
	p.stdin = nil
	return err
}

// Kill stops the program. Wait still has to be called.
func (p *Process) Kill() {
	p.cancel()
}

// Wait blocks until the program exits, then removes its workspace copy. A
// program killed by a signal reports exit code -1.
func (p *Process) Wait() (int, error) {
	defer p.cleanup()
	defer p.cancel()

	err := p.cmd.Wait()
	p.CloseStdin()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("waiting for program: %w", err)
	}
	return 0, nil
}

// start launches name args in dir with opts' streams. The process is killed
// once timeout elapses; zero means no limit.
func start(ctx context.Context, timeout time.Duration, dir string, argv []string, opts ExecOpts) (*Process, error) {
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = orDiscard(opts.Stdout)
	cmd.Stderr = orDiscard(opts.Stderr)

	p := &Process{cmd: cmd, cancel: cancel, cleanup: func() {}}
	if opts.Interactive {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			cancel()
			return nil, fmt.Errorf("opening stdin: %w", err)
		}
		p.stdin = stdin
	} else if opts.Stdin != "" {
		cmd.Stdin = strings.NewReader(opts.Stdin)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("starting %s: %w", argv[0], err)
	}
	return p, nil
}

// writeWorkspace copies files into a fresh temp dir. Names must be local
// relative paths.
func writeWorkspace(files workspace.Files, entry string) (string, error) {
	if !files.Has(entry) {
		return "", fmt.Errorf("%w: %q", ErrEntryNotFound, entry)
	}
	for _, f := range files {
		if !filepath.IsLocal(f.Name) {
			return "", fmt.Errorf("%w: %q", ErrUnsafeName, f.Name)
		}
	}

	dir, err := os.MkdirTemp("", "playground-run-*")
	if err != nil {
		return "", fmt.Errorf("creating temp dir: %w", err)
	}
	for _, f := range files {
		p := filepath.Join(dir, f.Name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			os.RemoveAll(dir)
			return "", fmt.Errorf("creating dir for %s: %w", f.Name, err)
		}
		if err := os.WriteFile(p, []byte(f.Content), 0o644); err != nil {
			os.RemoveAll(dir)
			return "", fmt.Errorf("writing %s: %w", f.Name, err)
		}
	}
	return dir, nil
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
