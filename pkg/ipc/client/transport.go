package client

import (
	"context"
	"fmt"
	"io"
	"os/exec"
)

// Transport starts a serve session and hands back its stdin and stdout.
type Transport interface {
	Start(ctx context.Context) (stdin io.WriteCloser, stdout io.ReadCloser, err error)
	// Wait blocks until the session has ended.
	Wait() error
}

// ProcessTransport runs "larder serve" as a child process.
type ProcessTransport struct {
	// Path to the larder binary.
	Path string
	// Args default to ["serve"].
	Args []string
	// Env is appended to the parent environment.
	Env    []string
	Stderr io.Writer

	cmd *exec.Cmd
}

// Start launches the process.
func (p *ProcessTransport) Start(ctx context.Context) (io.WriteCloser, io.ReadCloser, error) {
	args := p.Args
	if len(args) == 0 {
		args = []string{"serve"}
	}

	cmd := exec.CommandContext(ctx, p.Path, args...)
	cmd.Env = append(cmd.Environ(), p.Env...)
	cmd.Stderr = p.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start %s: %w", p.Path, err)
	}

	p.cmd = cmd
	return stdin, stdout, nil
}

// Wait waits for the process to exit.
func (p *ProcessTransport) Wait() error {
	if p.cmd == nil {
		return nil
	}
	return p.cmd.Wait()
}
