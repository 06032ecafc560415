package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/batchimport/pkg/batch/support/util/logger"
)

// LocalScheme is the scheme of plain file system paths.
const LocalScheme = "file"

// Resolver dispatches locators to the backend registered for their scheme.
type Resolver struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewResolver creates a Resolver with the given backends.
func NewResolver(backends ...Backend) *Resolver {
	r := &Resolver{backends: make(map[string]Backend, len(backends))}
	for _, b := range backends {
		r.Register(b)
	}
	return r
}

// Register adds b, replacing a backend of the same scheme.
func (r *Resolver) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.backends[b.Scheme()]; exists {
		logger.Warnf("Storage backend for scheme '%s' already registered. Overwriting.", b.Scheme())
	}
	r.backends[b.Scheme()] = b
}

// Open implements Opener.
func (r *Resolver) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	scheme := SchemeOf(locator)
	r.mu.RLock()
	b, ok := r.backends[scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no storage backend registered for scheme '%s' (locator %s)", scheme, locator)
	}
	logger.Debugf("Opening '%s' with the %s backend.", locator, scheme)
	return b.Open(ctx, locator)
}

// Close closes every backend.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result *multierror.Error
	for scheme, b := range r.backends {
		if err := b.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close %s backend: %w", scheme, err))
		}
	}
	return result.ErrorOrNil()
}

// SchemeOf returns the scheme of locator. Paths without one, including Windows drive
// paths, are local.
func SchemeOf(locator string) string {
	i := strings.Index(locator, "://")
	if i <= 1 {
		return LocalScheme
	}
	u, err := url.Parse(locator)
	if err != nil || u.Scheme == "" {
		return LocalScheme
	}
	return strings.ToLower(u.Scheme)
}

var _ Opener = (*Resolver)(nil)
