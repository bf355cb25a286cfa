// Package blob uploads message attachments to S3-compatible object storage.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/beacon-im/beacon/internal/config"
	"github.com/beacon-im/beacon/internal/model"
)

// Store wraps a minio client for one bucket.
type Store struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// NewStore creates a client from the storage config.
func NewStore(cfg config.Storage, logger *zap.Logger) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// Put uploads an attachment under key, reporting percentage progress as
// bytes leave the reader. Cancelling ctx aborts the transfer. Returns the
// object's public URL.
func (s *Store) Put(ctx context.Context, key string, att *model.Attachment, onProgress func(percent int)) (string, error) {
	reader := &countingReader{
		r:     bytes.NewReader(att.Data),
		total: att.Size(),
		cb:    onProgress,
	}

	_, err := s.client.PutObject(ctx, s.bucket, key, reader, att.Size(), minio.PutObjectOptions{
		ContentType: att.MimeType,
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s", s.client.EndpointURL(), s.bucket, key)
	if s.logger != nil {
		s.logger.Info("attachment uploaded",
			zap.String("key", key),
			zap.Int64("size", att.Size()),
			zap.String("mime", att.MimeType))
	}
	return url, nil
}

// countingReader reports cumulative read percentage to cb.
type countingReader struct {
	r     *bytes.Reader
	total int64
	read  int64
	cb    func(int)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 && c.cb != nil && c.total > 0 {
		c.read += int64(n)
		c.cb(int(c.read * 100 / c.total))
	}
	return n, err
}

var _ io.Reader = (*countingReader)(nil)
