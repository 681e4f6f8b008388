package sandbox

import (
	"context"
	"os"
)

// LocalSandbox runs programs as plain subprocesses in a temp copy of the
// workspace. It offers no isolation beyond the timeout.
type LocalSandbox struct {
	Policy Policy
	// Interpreters overrides the binary per language name.
	Interpreters map[string]string
}

// NewLocalSandbox creates a local sandbox; pythonBin replaces the default
// python interpreter when set.
func NewLocalSandbox(policy Policy, pythonBin string) *LocalSandbox {
	s := &LocalSandbox{Policy: policy, Interpreters: map[string]string{}}
	if pythonBin != "" {
		s.Interpreters["python"] = pythonBin
	}
	return s
}

func (s *LocalSandbox) Start(ctx context.Context, opts ExecOpts) (*Process, error) {
	lang, err := LanguageFor(opts.EntryFile)
	if err != nil {
		return nil, err
	}
	dir, err := writeWorkspace(opts.Files, opts.EntryFile)
	if err != nil {
		return nil, err
	}

	argv := lang.Command(opts.EntryFile)
	if bin, ok := s.Interpreters[lang.Name]; ok {
		argv[0] = bin
	}

	p, err := start(ctx, s.Policy.MaxTimeout, dir, argv, opts)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	p.cleanup = func() { os.RemoveAll(dir) }
	return p, nil
}
