// Package s3 implements the object store on Amazon S3 and S3 compatible
// services through the AWS SDK.
package s3

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/italolelis/cloudcast/internal/logctx"
	"github.com/italolelis/cloudcast/internal/objectstore"
	"github.com/italolelis/cloudcast/internal/progress"
	"github.com/italolelis/cloudcast/internal/storage"
	"github.com/italolelis/cloudcast/internal/transfer"
)

// Config holds the connection settings of an S3 bucket.
type Config struct {
	Bucket       string
	Region       string
	Endpoint     string // Non-empty for S3 compatible services; enables path-style addressing
	AccessKey    string
	SecretKey    string
	SessionToken string
	PartSize     int64
	Concurrency  int

	// ChecksumWhenRequired only sends and validates checksums on operations
	// that require them. Some S3 compatible services reject the defaults.
	ChecksumWhenRequired bool
}

// Client moves files between the local filesystem and one S3 bucket.
type Client struct {
	s3       *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// NewClient builds a client from cfg. Without an access key the default AWS
// credential chain is used.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}

	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken),
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}

		if cfg.ChecksumWhenRequired {
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		}
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		if cfg.PartSize > 0 {
			u.PartSize = cfg.PartSize
		}

		if cfg.Concurrency > 0 {
			u.Concurrency = cfg.Concurrency
		}
	})

	return &Client{s3: client, uploader: uploader, bucket: cfg.Bucket}, nil
}

// Upload sends localPath to remoteKey and returns the key S3 confirmed.
func (c *Client) Upload(ctx context.Context, remoteKey, localPath string, fn progress.Func) (string, error) {
	src, err := objectstore.OpenSource(localPath)
	if err != nil {
		return "", err
	}
	defer src.Close()

	body := src.Body(fn)

	logctx.LoggerFromContext(ctx).Debug("uploading object", "bucket", c.bucket, "key", remoteKey, "content_type", src.ContentType)

	out, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(remoteKey),
		Body:          body,
		ContentLength: aws.Int64(src.Size),
		ContentType:   aws.String(src.ContentType),
	})
	if err != nil {
		return "", remoteError(storage.Upload, remoteKey, err)
	}

	body.Tracker().Finish()

	if key := aws.ToString(out.Key); key != "" {
		return key, nil
	}

	return remoteKey, nil
}

// Download fetches remoteKey into localPath.
func (c *Client) Download(ctx context.Context, remoteKey, localPath string, fn progress.Func) (string, error) {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(remoteKey),
	})
	if err != nil {
		return "", remoteError(storage.Download, remoteKey, err)
	}
	defer out.Body.Close()

	logctx.LoggerFromContext(ctx).Debug("downloading object", "bucket", c.bucket, "key", remoteKey, "size", aws.ToInt64(out.ContentLength))

	if err := objectstore.WriteFile(localPath, out.Body, aws.ToInt64(out.ContentLength), fn); err != nil {
		var localErr *transfer.LocalIOError
		if errors.As(err, &localErr) {
			return "", err
		}

		return "", remoteError(storage.Download, remoteKey, err)
	}

	return remoteKey, nil
}

func remoteError(dir storage.Direction, remoteKey string, err error) error {
	remoteErr := &transfer.RemoteTransferError{Direction: dir, RemoteKey: remoteKey, Err: err}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		remoteErr.Code = apiErr.ErrorCode()
	}

	return remoteErr
}
