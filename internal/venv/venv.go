package venv

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/charmbracelet/log"

	"botlauncher/internal/envfile"
)

// Runner runs a tool and streams its output to the log.
type Runner interface {
	Stream(ctx context.Context, name string, args ...string) error
}

// Env is a virtual environment on disk.
type Env struct {
	Dir     string
	Python  string
	Created bool
}

// BinDir is the directory holding the environment's executables.
func BinDir(dir string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(dir, "Scripts")
	}
	return filepath.Join(dir, "bin")
}

// PythonPath is the interpreter inside a virtual environment.
func PythonPath(dir string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(BinDir(dir), "python.exe")
	}
	return filepath.Join(BinDir(dir), "python")
}

// Exists reports whether dir holds a usable virtual environment.
func Exists(dir string) bool {
	info, err := os.Stat(PythonPath(dir))
	return err == nil && !info.IsDir()
}

// Ensure returns the virtual environment at dir, creating it with the base
// interpreter when it is missing.
func Ensure(ctx context.Context, r Runner, logger *log.Logger, basePython, dir string) (Env, error) {
	env := Env{Dir: dir, Python: PythonPath(dir)}
	if Exists(dir) {
		logger.Debug("using existing virtual environment", "dir", dir)
		return env, nil
	}

	if _, err := os.Stat(dir); err == nil {
		logger.Warn("virtual environment has no interpreter, recreating in place", "dir", dir)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return Env{}, fmt.Errorf("failed to inspect %s: %w", dir, err)
	}

	logger.Info("creating virtual environment", "dir", dir, "python", basePython)
	if err := r.Stream(ctx, basePython, "-m", "venv", dir); err != nil {
		return Env{}, fmt.Errorf("failed to create virtual environment: %w", err)
	}

	if !Exists(dir) {
		return Env{}, fmt.Errorf("virtual environment at %s has no interpreter after creation", dir)
	}

	env.Created = true
	return env, nil
}

// Activate returns environ adjusted the way sourcing bin/activate would:
// VIRTUAL_ENV set, the bin directory first on PATH and PYTHONHOME removed.
func (e Env) Activate(environ []string) []string {
	key, current := lookupPath(environ)

	path := BinDir(e.Dir)
	if current != "" {
		path += string(os.PathListSeparator) + current
	}

	return envfile.Merge(environ, map[string]string{
		"VIRTUAL_ENV": e.Dir,
		key:           path,
	}, "PYTHONHOME")
}

// lookupPath finds the PATH entry, keeping the spelling the environment
// already uses since Windows spells it "Path".
func lookupPath(environ []string) (key, value string) {
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if k == "PATH" || (runtime.GOOS == "windows" && strings.EqualFold(k, "PATH")) {
			return k, v
		}
	}
	return "PATH", ""
}
