//go:build windows

package runner

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// Exec runs path with inherited stdio and waits for it, since Windows has no
// execve. A non-zero exit status comes back as a *CommandError.
func Exec(path string, argv []string, env []string, dir string) error {
	var args []string
	if len(argv) > 1 {
		args = argv[1:]
	}

	cmd := exec.Command(path, args...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &CommandError{Name: path, Args: args, ExitCode: exitErr.ExitCode(), Err: err}
		}
		return fmt.Errorf("failed to run %s: %w", path, err)
	}
	return nil
}
