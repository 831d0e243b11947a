package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/openmined/docsync/internal/config"
	"github.com/openmined/docsync/internal/docstore"
	"github.com/openmined/docsync/internal/docstore/remote"
	"github.com/openmined/docsync/internal/utils"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openStore builds the store named by cfg. The closer releases the local
// database, if any.
func openStore(ctx context.Context, cfg *config.StoreConfig) (docstore.Store, io.Closer, error) {
	switch cfg.Kind {
	case config.StoreRemote:
		s, err := remote.Dial(ctx, cfg.Remote())
		if err != nil {
			return nil, nil, err
		}
		return s, nopCloser{}, nil

	case config.StoreSQLite:
		r, err := openReplica(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return r, r, nil

	default:
		return nil, nil, fmt.Errorf("unknown store kind %q", cfg.Kind)
	}
}

func openReplica(ctx context.Context, cfg *config.StoreConfig) (*docstore.Replica, error) {
	var opts []docstore.ReplicaOption
	if cfg.Blob == config.BlobS3 {
		blobs, err := docstore.NewS3BlobsFromConfig(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("s3 blobs: %w", err)
		}
		slog.Debug("s3 blobs", "bucket", cfg.S3.Bucket, "endpoint", cfg.S3.Endpoint, "access_key", utils.MaskSecret(cfg.S3.AccessKey))
		opts = append(opts, docstore.WithBlobs(blobs))
	}
	return docstore.OpenReplica(cfg.DBPath, opts...)
}
