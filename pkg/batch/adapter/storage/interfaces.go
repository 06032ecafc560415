// Package storage resolves record source locators to readable streams.
// Backends register by URL scheme: plain paths and file:// go to the local file system,
// gs:// to Google Cloud Storage and ftp:// to an FTP server.
package storage

import (
	"context"
	"io"
)

// Backend opens objects of one locator scheme.
type Backend interface {
	// Scheme returns the URL scheme served by the backend, e.g. "gs".
	Scheme() string
	// Open returns a stream over the object at locator. The caller closes it.
	Open(ctx context.Context, locator string) (io.ReadCloser, error)
	// Close releases clients held by the backend.
	Close() error
}

// Opener opens a record source by locator.
type Opener interface {
	Open(ctx context.Context, locator string) (io.ReadCloser, error)
}
