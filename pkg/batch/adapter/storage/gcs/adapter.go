// Package gcs opens record sources stored in Google Cloud Storage (gs://bucket/object).
package gcs

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/tigerroll/batchimport/pkg/batch/support/util/logger"
)

// Scheme is the locator scheme served by Adapter.
const Scheme = "gs"

// Config holds the client settings.
type Config struct {
	// CredentialsFile is a service account key. Empty uses application default credentials.
	CredentialsFile string
	// Endpoint overrides the API endpoint, e.g. for an emulator.
	Endpoint string
}

// Adapter reads GCS objects. The client is created on first use.
type Adapter struct {
	cfg    Config
	mu     sync.Mutex
	client *storage.Client
}

// NewAdapter creates an Adapter for cfg.
func NewAdapter(cfg Config) *Adapter {
	return &Adapter{cfg: cfg}
}

// Scheme returns "gs".
func (a *Adapter) Scheme() string {
	return Scheme
}

// Open returns a reader over the object named by locator.
func (a *Adapter) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	bucket, object, err := ParseLocator(locator)
	if err != nil {
		return nil, err
	}
	client, err := a.getClient(ctx)
	if err != nil {
		return nil, err
	}
	reader, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open gs://%s/%s: %w", bucket, object, err)
	}
	logger.Debugf("Opened GCS object gs://%s/%s (%d bytes).", bucket, object, reader.Attrs.Size)
	return reader, nil
}

func (a *Adapter) getClient(ctx context.Context) (*storage.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return a.client, nil
	}
	var opts []option.ClientOption
	if a.cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(a.cfg.CredentialsFile))
	}
	if a.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(a.cfg.Endpoint))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	a.client = client
	return client, nil
}

// Close closes the client if one was created.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return nil
	}
	err := a.client.Close()
	a.client = nil
	return err
}

// ParseLocator splits gs://bucket/path/to/object into bucket and object name.
func ParseLocator(locator string) (bucket, object string, err error) {
	u, err := url.Parse(locator)
	if err != nil {
		return "", "", fmt.Errorf("invalid GCS locator %q: %w", locator, err)
	}
	if u.Scheme != Scheme {
		return "", "", fmt.Errorf("invalid GCS locator %q: scheme must be %s", locator, Scheme)
	}
	object = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || object == "" {
		return "", "", fmt.Errorf("invalid GCS locator %q: expected gs://bucket/object", locator)
	}
	return u.Host, object, nil
}
