package sandbox

import (
	"context"
	"fmt"
	"os"
)

// DockerSandbox runs code in Docker containers.
type DockerSandbox struct {
	Policy Policy
}

// NewDockerSandbox creates a sandbox with the given policy.
func NewDockerSandbox(policy Policy) *DockerSandbox {
	return &DockerSandbox{Policy: policy}
}

func (d *DockerSandbox) Start(ctx context.Context, opts ExecOpts) (*Process, error) {
	lang, err := LanguageFor(opts.EntryFile)
	if err != nil {
		return nil, err
	}
	if !d.Policy.IsImageAllowed(lang.Image) {
		return nil, fmt.Errorf("image %q not in allowlist", lang.Image)
	}

	dir, err := writeWorkspace(opts.Files, opts.EntryFile)
	if err != nil {
		return nil, err
	}

	p, err := start(ctx, d.Policy.MaxTimeout, dir, d.args(dir, lang, opts), opts)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	p.cleanup = func() { os.RemoveAll(dir) }
	return p, nil
}

// args builds the docker command line for running the workspace in dir.
func (d *DockerSandbox) args(dir string, lang Language, opts ExecOpts) []string {
	args := []string{
		"docker", "run", "--rm",
		"--memory", d.Policy.MaxMemory,
		"--stop-timeout", fmt.Sprintf("%d", int(d.Policy.MaxTimeout.Seconds())),
		"-v", dir + ":/workspace:ro",
		"-w", "/workspace",
	}
	if opts.Interactive || opts.Stdin != "" {
		args = append(args, "-i")
	}
	if !d.Policy.Network {
		args = append(args, "--network=none")
	}

	args = append(args, lang.Image)
	args = append(args, lang.Command(opts.EntryFile)...)
	return args
}
