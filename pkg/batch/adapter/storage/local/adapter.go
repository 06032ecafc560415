// Package local opens record sources on the local file system.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tigerroll/batchimport/pkg/batch/support/util/logger"
)

// Scheme is served for plain paths and file:// locators.
const Scheme = "file"

// Adapter opens local files. Relative paths are resolved against BaseDir when it is set.
type Adapter struct {
	baseDir string
}

// NewAdapter creates an Adapter. baseDir may be empty.
func NewAdapter(baseDir string) *Adapter {
	return &Adapter{baseDir: baseDir}
}

// Scheme returns "file".
func (a *Adapter) Scheme() string {
	return Scheme
}

// Open opens the file named by locator.
func (a *Adapter) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	path := a.resolvePath(locator)
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file '%s': %w", path, err)
	}
	logger.Debugf("Opened local file '%s'.", path)
	return file, nil
}

func (a *Adapter) resolvePath(locator string) string {
	path := strings.TrimPrefix(locator, "file://")
	if a.baseDir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(a.baseDir, path)
	}
	return filepath.Clean(path)
}

// Close does nothing for the local file system adapter as it holds no special resources.
func (a *Adapter) Close() error {
	return nil
}
