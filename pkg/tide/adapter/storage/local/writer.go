// Package local provides an object writer backed by the local file system.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	storageConfig "github.com/tigerroll/tide/pkg/tide/adapter/storage/config"
	"github.com/tigerroll/tide/pkg/tide/core/application/port"
	"github.com/tigerroll/tide/pkg/tide/support/util/logger"
)

// ProviderType is the storage type handled by this package.
const ProviderType = "local"

// Writer stores objects as files below BaseDir.
type Writer struct {
	baseDir string
}

var _ port.ObjectWriter = (*Writer)(nil)

// NewWriter creates a Writer, creating BaseDir when it does not exist.
func NewWriter(cfg storageConfig.StorageConfig) (*Writer, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("local storage: BaseDir must be specified in configuration")
	}
	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
			return nil, fmt.Errorf("local storage: failed to create BaseDir '%s': %w", cfg.BaseDir, err)
		}
	case err != nil:
		return nil, fmt.Errorf("local storage: failed to stat BaseDir '%s': %w", cfg.BaseDir, err)
	case !info.IsDir():
		return nil, fmt.Errorf("local storage: BaseDir '%s' is not a directory", cfg.BaseDir)
	}
	return &Writer{baseDir: cfg.BaseDir}, nil
}

// Write stores data under key, creating parent directories as needed.
func (w *Writer) Write(ctx context.Context, key string, data []byte) error {
	fullPath, err := w.resolvePath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for '%s': %w", fullPath, err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write file '%s': %w", fullPath, err)
	}
	logger.Debugf("Wrote %d bytes to '%s'.", len(data), fullPath)
	return nil
}

// resolvePath keeps keys inside BaseDir.
func (w *Writer) resolvePath(key string) (string, error) {
	base, err := filepath.Abs(w.baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve BaseDir '%s': %w", w.baseDir, err)
	}
	full := filepath.Join(base, filepath.FromSlash(key))
	if full != base && !strings.HasPrefix(full, base+string(os.PathSeparator)) {
		return "", fmt.Errorf("object key '%s' escapes BaseDir", key)
	}
	return full, nil
}
