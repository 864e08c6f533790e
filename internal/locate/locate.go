// Package locate finds the bot application relative to the launcher.
package locate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AppSubdir is the package directory the entry module lives in.
const AppSubdir = "bot"

var ErrNotFound = errors.New("bot application not found")

// Layout describes where the bot lives on disk.
type Layout struct {
	// Root is the project root: the working directory for the venv, the
	// requirements file, the .env file and the entry module.
	Root string
	// AppDir is the directory holding the marker file.
	AppDir string
	Marker string
}

// EntryFile is the full path of the marker file.
func (l Layout) EntryFile() string {
	return filepath.Join(l.AppDir, l.Marker)
}

// Resolve checks each directory in order for the marker file, first inside a
// bot/ subdirectory and then directly alongside. The first hit wins.
func Resolve(marker string, dirs ...string) (Layout, error) {
	if marker == "" {
		return Layout{}, fmt.Errorf("marker file name is empty")
	}

	var checked []string
	seen := make(map[string]bool)

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return Layout{}, fmt.Errorf("failed to resolve %s: %w", dir, err)
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true

		nested := filepath.Join(abs, AppSubdir, marker)
		checked = append(checked, nested)
		if isFile(nested) {
			return Layout{Root: abs, AppDir: filepath.Join(abs, AppSubdir), Marker: marker}, nil
		}

		adjacent := filepath.Join(abs, marker)
		checked = append(checked, adjacent)
		if isFile(adjacent) {
			return Layout{Root: filepath.Dir(abs), AppDir: abs, Marker: marker}, nil
		}
	}

	if len(checked) == 0 {
		return Layout{}, fmt.Errorf("%w: no directories to search", ErrNotFound)
	}
	return Layout{}, fmt.Errorf("%w: looked for %s", ErrNotFound, strings.Join(checked, ", "))
}

// ExecutableDir returns the directory of the running launcher binary with
// symlinks resolved.
func ExecutableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe), nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
