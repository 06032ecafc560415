// Command person-import imports the persons of a CSV file into the person table.
//
//	person-import [input.file.name=<locator>] [key=value ...] [--restart]
//
// The locator is a local path, a file://, gs:// or ftp:// URL. Without --restart every
// run is a new job instance; with it the given parameters resume their failed instance.
package main

import (
	"context"
	"embed"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/tigerroll/batchimport/pkg/batch/support/util/logger"

	"github.com/tigerroll/batchimport/example/person-import/internal/app"
)

// embeddedConfig is the application configuration, overridable by BATCH_* environment variables.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

// applicationMigrationsFS holds the person table migrations, one directory per database type.
//
//go:embed all:resources/migrations
var applicationMigrationsFS embed.FS

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handling for graceful shutdown (e.g., Ctrl+C)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Warnf("Received signal '%v'. Attempting to stop the job...", sig)
		cancel()
	}()

	envFilePath := os.Getenv("ENV_FILE_PATH")
	if envFilePath == "" {
		envFilePath = ".env"
	}

	migrations, err := fs.Sub(applicationMigrationsFS, "resources/migrations")
	if err != nil {
		logger.Fatalf("Failed to open the embedded migrations: %v", err)
	}

	code := app.RunApplication(ctx, envFilePath, embeddedConfig, migrations, os.Args[1:])
	_ = logger.Sync()
	os.Exit(code)
}
