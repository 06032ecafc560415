package storage

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/batchimport/pkg/batch/adapter/storage/ftp"
	"github.com/tigerroll/batchimport/pkg/batch/adapter/storage/gcs"
	"github.com/tigerroll/batchimport/pkg/batch/adapter/storage/local"
	config "github.com/tigerroll/batchimport/pkg/batch/core/config"
)

// NewConfiguredResolver registers the local, GCS and FTP backends for cfg.
func NewConfiguredResolver(cfg config.StorageConfig) *Resolver {
	return NewResolver(
		local.NewAdapter(cfg.BaseDir),
		gcs.NewAdapter(gcs.Config{CredentialsFile: cfg.GCS.CredentialsFile, Endpoint: cfg.GCS.Endpoint}),
		ftp.NewAdapter(cfg.FTP.Timeout),
	)
}

func newResolver(lc fx.Lifecycle, cfg *config.StorageConfig) *Resolver {
	r := NewConfiguredResolver(*cfg)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return r.Close()
		},
	})
	return r
}

// Module provides the Resolver, also as Opener.
var Module = fx.Options(
	fx.Provide(newResolver),
	fx.Provide(func(r *Resolver) Opener { return r }),
)
