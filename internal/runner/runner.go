package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

const waitDelay = 2 * time.Second

// Runner executes external tools (the interpreter, venv, pip) with a shared
// working directory, environment and timeout.
type Runner struct {
	Logger  *log.Logger
	Dir     string
	Env     []string // nil inherits the launcher's environment
	Timeout time.Duration
}

// CommandError is returned when a tool ran but exited unsuccessfully.
type CommandError struct {
	Name     string
	Args     []string
	ExitCode int
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s %s exited with status %d", filepath.Base(e.Name), strings.Join(e.Args, " "), e.ExitCode)
	if e.Output != "" {
		msg += ": " + strings.TrimSpace(e.Output)
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExitCode reports the exit status carried by err, or 1 for any other
// non-nil error.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.ExitCode > 0 {
		return cmdErr.ExitCode
	}
	return 1
}

func (r *Runner) command(ctx context.Context, name string, args ...string) (*exec.Cmd, context.CancelFunc) {
	cancel := context.CancelFunc(func() {})
	if r.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir
	cmd.Env = r.Env
	// Grandchildren may keep the output pipes open after a kill.
	cmd.WaitDelay = waitDelay
	return cmd, cancel
}

// Output runs the tool and returns its combined stdout and stderr.
func (r *Runner) Output(ctx context.Context, name string, args ...string) (string, error) {
	cmd, cancel := r.command(ctx, name, args...)
	defer cancel()

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		return output.String(), wrapRunError(name, args, output.String(), err)
	}
	return output.String(), nil
}

// Stream runs the tool and forwards every output line to the logger as it
// arrives. Stdout lines are logged at info, stderr lines at warn.
func (r *Runner) Stream(ctx context.Context, name string, args ...string) error {
	cmd, cancel := r.command(ctx, name, args...)
	defer cancel()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout of %s: %w", name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open stderr of %s: %w", name, err)
	}

	logger := r.logger().With("cmd", filepath.Base(name))
	r.logger().Debug("running", "cmd", name, "args", strings.Join(args, " "), "dir", r.Dir)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", name, err)
	}

	// Keep the last stderr lines for the error message.
	tail := newLineTail(20)

	var g errgroup.Group
	g.Go(func() error {
		return pump(stdout, func(line string) { logger.Info(line) })
	})
	g.Go(func() error {
		return pump(stderr, func(line string) {
			tail.add(line)
			logger.Warn(line)
		})
	})

	// Pipes must be drained before Wait closes them.
	pumpErr := g.Wait()
	if err := cmd.Wait(); err != nil {
		return wrapRunError(name, args, tail.String(), err)
	}
	if pumpErr != nil {
		return fmt.Errorf("failed to read output of %s: %w", name, pumpErr)
	}
	return nil
}

func (r *Runner) logger() *log.Logger {
	if r.Logger == nil {
		return log.Default()
	}
	return r.Logger
}

func pump(rd io.Reader, emit func(string)) error {
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimRight(scanner.Text(), "\r"); line != "" {
			emit(line)
		}
	}
	return scanner.Err()
}

func wrapRunError(name string, args []string, output string, err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &CommandError{
			Name:     name,
			Args:     args,
			ExitCode: exitErr.ExitCode(),
			Output:   output,
			Err:      err,
		}
	}
	return fmt.Errorf("failed to run %s: %w", name, err)
}

type lineTail struct {
	limit int
	lines []string
}

func newLineTail(limit int) *lineTail {
	return &lineTail{limit: limit}
}

func (t *lineTail) add(line string) {
	t.lines = append(t.lines, line)
	if len(t.lines) > t.limit {
		t.lines = t.lines[len(t.lines)-t.limit:]
	}
}

func (t *lineTail) String() string {
	return strings.Join(t.lines, "\n")
}
