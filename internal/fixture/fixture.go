// Package fixture starts a long-running program, waits for it to print its
// readiness line, and later kills it. It is what a thread inspector's test
// harness does with a fixture process.
package fixture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
)

// ErrExited is returned by Start when stdout closes before the readiness
// line shows up.
var ErrExited = errors.New("process exited before it was ready")

// Process is a started fixture.
type Process struct {
	cmd  *exec.Cmd
	done chan struct{} // closed once stdout hit EOF and the process is reaped

	waitErr error // set before done is closed

	mu     sync.Mutex
	output []string // stdout lines other than the readiness line

	killOnce sync.Once
	killErr  error
}

// Start runs cmd and blocks until it writes a line equal to banner to
// stdout. cmd.Stdout must be unset. If the process exits first, or ctx is
// done first, the process is killed and reaped before Start returns.
func Start(ctx context.Context, cmd *exec.Cmd, banner string) (*Process, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}

	p := &Process{
		cmd:  cmd,
		done: make(chan struct{}),
	}
	ready := make(chan struct{})
	go p.run(stdout, banner, ready)

	select {
	case <-ready:
		return p, nil
	case <-p.done:
		select {
		case <-ready:
			// Printed the banner and exited right away.
			return p, nil
		default:
		}
		return nil, fmt.Errorf("%w: %v", ErrExited, p.waitErr)
	case <-ctx.Done():
		log.Printf("fixture: pid %d never printed %q, killing it", p.Pid(), banner)
		p.Kill()
		return nil, fmt.Errorf("waiting for %q: %w", banner, ctx.Err())
	}
}

// run reads stdout until EOF, then reaps the process. Reading continues
// past the banner so the child never blocks on a full pipe.
func (p *Process) run(stdout io.Reader, banner string, ready chan<- struct{}) {
	defer close(p.done)

	seen := false
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		if !seen && line == banner {
			seen = true
			close(ready)
			continue
		}
		p.mu.Lock()
		p.output = append(p.output, line)
		p.mu.Unlock()
	}
	if err := scanner.Err(); err != nil {
		// Line too long; keep the pipe drained anyway.
		io.Copy(io.Discard, stdout)
	}

	p.waitErr = p.cmd.Wait()
}

// Pid returns the process ID.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Output returns the stdout lines seen so far, except the readiness line.
func (p *Process) Output() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.output...)
}

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the process has exited and returns its exit error.
func (p *Process) Wait() error {
	<-p.done
	return p.waitErr
}

// Kill sends SIGKILL and waits until the process is reaped. It is safe to
// call more than once and after the process exited on its own.
func (p *Process) Kill() error {
	p.killOnce.Do(func() {
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.killErr = fmt.Errorf("failed to kill process %d: %w", p.Pid(), err)
			return
		}
		<-p.done
	})
	return p.killErr
}
