package venv

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/charmbracelet/log"
)

// StampStore remembers which requirements digest was last installed.
type StampStore interface {
	GetInstallStamp(requirementsPath string) (string, error)
	PutInstallStamp(requirementsPath, digest string) error
	ClearInstallStamp(requirementsPath string) error
}

// InstallResult says what Install ended up doing.
type InstallResult int

const (
	// NoRequirements means there was no requirements file to install.
	NoRequirements InstallResult = iota
	// UpToDate means the stored digest matched and pip was not run.
	UpToDate
	// Installed means pip ran successfully.
	Installed
)

func (r InstallResult) String() string {
	switch r {
	case NoRequirements:
		return "no requirements"
	case UpToDate:
		return "up to date"
	case Installed:
		return "installed"
	default:
		return fmt.Sprintf("InstallResult(%d)", int(r))
	}
}

// Installer installs a requirements file into a virtual environment.
type Installer struct {
	Runner Runner
	Logger *log.Logger
	// Stamps may be nil, in which case every call installs.
	Stamps     StampStore
	Force      bool
	UpgradePip bool
}

// Install runs pip against requirements unless the file is absent or its
// digest matches the last successful install into an environment that was
// not just created.
func (i *Installer) Install(ctx context.Context, env Env, requirements string) (InstallResult, error) {
	digest, err := Digest(requirements)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			i.Logger.Info("no requirements file, skipping dependency install", "path", requirements)
			return NoRequirements, nil
		}
		return NoRequirements, err
	}

	if !i.Force && !env.Created && i.Stamps != nil {
		stored, err := i.Stamps.GetInstallStamp(requirements)
		if err != nil {
			// Not fatal, installing again is always safe.
			i.Logger.Warn("failed to read install stamp", "err", err)
		} else if stored == digest {
			i.Logger.Info("dependencies up to date", "requirements", requirements)
			return UpToDate, nil
		}
	}

	// A forced install that fails must not leave the old digest behind.
	if i.Force && i.Stamps != nil {
		if err := i.Stamps.ClearInstallStamp(requirements); err != nil {
			i.Logger.Warn("failed to clear install stamp", "err", err)
		}
	}

	if i.UpgradePip {
		i.Logger.Info("upgrading pip")
		if err := i.Runner.Stream(ctx, env.Python, "-m", "pip", "install", "--upgrade", "pip"); err != nil {
			return NoRequirements, fmt.Errorf("failed to upgrade pip: %w", err)
		}
	}

	i.Logger.Info("installing dependencies", "requirements", requirements)
	if err := i.Runner.Stream(ctx, env.Python, "-m", "pip", "install", "-r", requirements); err != nil {
		return NoRequirements, fmt.Errorf("failed to install dependencies: %w", err)
	}

	if i.Stamps != nil {
		if err := i.Stamps.PutInstallStamp(requirements, digest); err != nil {
			i.Logger.Warn("failed to store install stamp", "err", err)
		}
	}

	return Installed, nil
}

// Digest returns the hex SHA-256 of the file at path.
func Digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
