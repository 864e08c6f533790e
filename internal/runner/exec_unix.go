//go:build unix

package runner

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Exec replaces the current process with path. It only returns on failure.
// argv[0] should be the program name, as with execve(2).
func Exec(path string, argv []string, env []string, dir string) error {
	if dir != "" {
		if err := os.Chdir(dir); err != nil {
			return fmt.Errorf("failed to enter %s: %w", dir, err)
		}
	}

	if err := unix.Exec(path, argv, env); err != nil {
		return fmt.Errorf("failed to exec %s: %w", path, err)
	}
	return nil
}
