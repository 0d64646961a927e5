// Package minio implements the object store on MinIO and other S3 compatible
// servers through minio-go.
package minio

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/italolelis/cloudcast/internal/logctx"
	"github.com/italolelis/cloudcast/internal/objectstore"
	"github.com/italolelis/cloudcast/internal/progress"
	"github.com/italolelis/cloudcast/internal/storage"
	"github.com/italolelis/cloudcast/internal/transfer"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds the connection settings of a MinIO bucket.
type Config struct {
	Endpoint  string // URL of the server, e.g. http://localhost:9000
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	PartSize  uint64
}

// Client moves files between the local filesystem and one bucket.
type Client struct {
	client   *minio.Client
	bucket   string
	partSize uint64
}

// NewClient builds a client from cfg. Plain http endpoints disable TLS.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("minio bucket is required")
	}

	u, err := url.Parse(cfg.Endpoint)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid minio endpoint %q", cfg.Endpoint)
	}

	client, err := minio.New(u.Host, &minio.Options{
		Region: cfg.Region,
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: u.Scheme != "http",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to setup minio client: %w", err)
	}

	return &Client{client: client, bucket: cfg.Bucket, partSize: cfg.PartSize}, nil
}

// Upload sends localPath to remoteKey and returns the key the server confirmed.
func (c *Client) Upload(ctx context.Context, remoteKey, localPath string, fn progress.Func) (string, error) {
	src, err := objectstore.OpenSource(localPath)
	if err != nil {
		return "", err
	}
	defer src.Close()

	tracker := progress.NewTracker(src.Size, fn)

	logctx.LoggerFromContext(ctx).Debug("uploading object", "bucket", c.bucket, "key", remoteKey, "content_type", src.ContentType)

	info, err := c.client.PutObject(ctx, c.bucket, remoteKey, src.File, src.Size, minio.PutObjectOptions{
		ContentType: src.ContentType,
		Progress:    tracker,
		PartSize:    c.partSize,
	})
	if err != nil {
		return "", remoteError(storage.Upload, remoteKey, err)
	}

	tracker.Finish()

	if info.Key != "" {
		return info.Key, nil
	}

	return remoteKey, nil
}

// Download fetches remoteKey into localPath.
func (c *Client) Download(ctx context.Context, remoteKey, localPath string, fn progress.Func) (string, error) {
	obj, err := c.client.GetObject(ctx, c.bucket, remoteKey, minio.GetObjectOptions{})
	if err != nil {
		return "", remoteError(storage.Download, remoteKey, err)
	}
	defer obj.Close()

	stat, err := obj.Stat()
	if err != nil {
		return "", remoteError(storage.Download, remoteKey, err)
	}

	logctx.LoggerFromContext(ctx).Debug("downloading object", "bucket", c.bucket, "key", remoteKey, "size", stat.Size)

	if err := objectstore.WriteFile(localPath, obj, stat.Size, fn); err != nil {
		var localErr *transfer.LocalIOError
		if errors.As(err, &localErr) {
			return "", err
		}

		return "", remoteError(storage.Download, remoteKey, err)
	}

	return remoteKey, nil
}

func remoteError(dir storage.Direction, remoteKey string, err error) error {
	return &transfer.RemoteTransferError{
		Direction: dir,
		RemoteKey: remoteKey,
		Code:      minio.ToErrorResponse(err).Code,
		Err:       err,
	}
}
