// Package gcs provides an object writer backed by a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	storageConfig "github.com/tigerroll/tide/pkg/tide/adapter/storage/config"
	"github.com/tigerroll/tide/pkg/tide/core/application/port"
	"github.com/tigerroll/tide/pkg/tide/support/util/logger"
)

// ProviderType is the storage type handled by this package.
const ProviderType = "gcs"

// Writer uploads objects to one bucket.
type Writer struct {
	client *storage.Client
	bucket string
}

var _ port.ObjectWriter = (*Writer)(nil)

// NewWriter creates a storage client for cfg.BucketName. Extra client options
// (endpoint, HTTP client) are appended after the credentials option.
func NewWriter(ctx context.Context, cfg storageConfig.StorageConfig, opts ...option.ClientOption) (*Writer, error) {
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("gcs storage: bucket_name must be specified in configuration")
	}
	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	clientOpts = append(clientOpts, opts...)

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gcs storage: failed to create client: %w", err)
	}
	logger.Infof("GCS writer ready for bucket '%s'.", cfg.BucketName)
	return &Writer{client: client, bucket: cfg.BucketName}, nil
}

// Write uploads data as a JSON object named key.
func (w *Writer) Write(ctx context.Context, key string, data []byte) error {
	ow := w.client.Bucket(w.bucket).Object(key).NewWriter(ctx)
	ow.ContentType = "application/json"
	if _, err := ow.Write(data); err != nil {
		_ = ow.Close()
		return fmt.Errorf("failed to upload gs://%s/%s: %w", w.bucket, key, err)
	}
	if err := ow.Close(); err != nil {
		return fmt.Errorf("failed to finalize gs://%s/%s: %w", w.bucket, key, err)
	}
	logger.Debugf("Uploaded %d bytes to gs://%s/%s.", len(data), w.bucket, key)
	return nil
}

// Close releases the storage client.
func (w *Writer) Close() error {
	return w.client.Close()
}
