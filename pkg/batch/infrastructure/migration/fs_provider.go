package migration

import (
	"embed"
	"io/fs"

	"github.com/tigerroll/batchimport/pkg/batch/support/util/logger"
)

//go:embed resource
var rawFrameworkMigrationFS embed.FS

// FrameworkMigrationsFS returns the embedded migrations of the batch metadata tables.
// Each database type has its own directory: sqlite, mysql and postgres.
func FrameworkMigrationsFS() fs.FS {
	subFS, err := fs.Sub(rawFrameworkMigrationFS, "resource")
	if err != nil {
		logger.Fatalf("Failed to create subdirectory for framework migration FS: %v", err)
	}
	return subFS
}
