package python

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/hashicorp/go-version"
)

var (
	ErrNotFound           = errors.New("python interpreter not found")
	ErrUnparseableVersion = errors.New("unrecognised python version output")
	ErrVersionTooOld      = errors.New("python interpreter is too old")
)

// defaultCandidates are looked up on PATH, in order, when no interpreter is
// configured.
var defaultCandidates = []string{"python3", "python"}

// versionPattern matches "3.11.4", "3.10" and pre-releases like "3.13.0rc1".
var versionPattern = regexp.MustCompile(`\d+(?:\.\d+)+(?:(?:a|b|rc)\d+)?`)

// OutputRunner runs a command and returns its combined output.
type OutputRunner interface {
	Output(ctx context.Context, name string, args ...string) (string, error)
}

// Interpreter is a probed python executable.
type Interpreter struct {
	Path    string
	Version *version.Version
}

func (i Interpreter) String() string {
	return fmt.Sprintf("%s (%s)", i.Path, i.Version)
}

// Find resolves the interpreter to use. An explicit name is resolved through
// PATH when it is not already a path; otherwise python3 then python are tried.
func Find(name string) (string, error) {
	if name != "" {
		path, err := exec.LookPath(name)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %w", ErrNotFound, name, err)
		}
		return path, nil
	}

	for _, candidate := range defaultCandidates {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrNotFound, heredoc.Docf(`
		none of %s found on PATH.
		Install Python 3 or point the launcher at an interpreter with --python
		or BOTLAUNCHER_PYTHON.`, strings.Join(defaultCandidates, ", ")))
}

// ParseVersion extracts the interpreter version from "python --version"
// output such as "Python 3.11.4".
func ParseVersion(output string) (*version.Version, error) {
	raw := versionPattern.FindString(output)
	if raw == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnparseableVersion, strings.TrimSpace(output))
	}

	v, err := version.NewVersion(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrUnparseableVersion, raw, err)
	}
	return v, nil
}

// Probe asks the interpreter at path for its version.
func Probe(ctx context.Context, r OutputRunner, path string) (*version.Version, error) {
	out, err := r.Output(ctx, path, "--version")
	if err != nil {
		return nil, fmt.Errorf("failed to query %s version: %w", path, err)
	}
	return ParseVersion(out)
}

// AtLeast reports whether have is at or above the minimum. Fields are
// compared left to right and missing fields count as zero, so 3.10 equals
// 3.10.0. Pre-releases sort before their final release.
func AtLeast(have *version.Version, minimum string) (bool, error) {
	floor, err := version.NewVersion(minimum)
	if err != nil {
		return false, fmt.Errorf("invalid minimum version %q: %w", minimum, err)
	}
	return have.GreaterThanOrEqual(floor), nil
}

// Require finds and probes an interpreter and fails unless it satisfies the
// minimum version.
func Require(ctx context.Context, r OutputRunner, name, minimum string) (Interpreter, error) {
	path, err := Find(name)
	if err != nil {
		return Interpreter{}, err
	}

	v, err := Probe(ctx, r, path)
	if err != nil {
		return Interpreter{}, err
	}

	ok, err := AtLeast(v, minimum)
	if err != nil {
		return Interpreter{}, err
	}
	if !ok {
		return Interpreter{}, fmt.Errorf("%w: %s is %s, need %s or newer", ErrVersionTooOld, path, v, minimum)
	}

	return Interpreter{Path: path, Version: v}, nil
}
