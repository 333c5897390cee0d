// Package local copies output artifacts into a directory on the local
// filesystem (a mounted volume or network share).
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the local exporter.
type Config struct {
	// BaseDir is the directory artifacts are copied into.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Exporter copies files into BaseDir.
type Exporter struct {
	baseDir string
}

// New creates a local exporter, creating BaseDir if needed and checking that
// it is writable.
func New(cfg Config) (*Exporter, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &Exporter{baseDir: cfg.BaseDir}, nil
}

// Export copies localPath into the base directory, replacing any previous
// copy atomically, and returns a file:// URI.
func (e *Exporter) Export(_ context.Context, localPath string) (string, error) {
	src, err := os.Open(localPath) //nolint:gosec // path comes from configuration
	if err != nil {
		return "", fmt.Errorf("open export source: %w", err)
	}
	defer src.Close() //nolint:errcheck // read-only

	dest := filepath.Join(e.baseDir, filepath.Base(localPath))
	if filepath.Clean(dest) == filepath.Clean(localPath) {
		return "", fmt.Errorf("export destination is the source file")
	}

	tmp, err := os.CreateTemp(e.baseDir, ".export-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()           //nolint:errcheck // already failing
		_ = os.Remove(tmp.Name()) //nolint:errcheck // best effort
		return "", fmt.Errorf("copy export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name()) //nolint:errcheck // best effort
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		_ = os.Remove(tmp.Name()) //nolint:errcheck // best effort
		return "", fmt.Errorf("replace export: %w", err)
	}
	return fmt.Sprintf("file://%s", dest), nil
}
