package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/me/mlledger/internal/logging"
)

// S3Options configures an S3Store.
type S3Options struct {
	Bucket string
	Region string

	// Endpoint overrides the service endpoint and forces path-style
	// addressing (MinIO, LocalStack).
	Endpoint string

	// Static credentials; when empty the default AWS credential chain is used.
	AccessKeyID     string
	SecretAccessKey string
}

// S3Store is a Store backed by one S3 bucket.
type S3Store struct {
	client     *s3.Client
	downloader *manager.Downloader
	bucket     string
	logger     *slog.Logger
}

// NewS3Store loads AWS configuration and returns a store for opts.Bucket.
func NewS3Store(ctx context.Context, opts S3Options, logger *slog.Logger) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 store: bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3 store: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3StoreFromClient(client, opts.Bucket, logger), nil
}

// NewS3StoreFromClient wraps an existing S3 client.
func NewS3StoreFromClient(client *s3.Client, bucket string, logger *slog.Logger) *S3Store {
	if logger == nil {
		logger = logging.Discard()
	}
	return &S3Store{
		client: client,
		downloader: manager.NewDownloader(client, func(d *manager.Downloader) {
			// Ledgers are small; one ranged GET covers them.
			d.Concurrency = 1
		}),
		bucket: bucket,
		logger: logger.With("component", "s3-store", "bucket", bucket),
	}
}

// Fetch downloads the object.
func (s *S3Store) Fetch(ctx context.Context, key string) ([]byte, error) {
	s.logger.Debug("s3", "op", "get", "key", key)

	buf := manager.NewWriteAtBuffer([]byte{})
	n, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, newError("fetch", key, classifyS3(err), err)
	}
	s.logger.Debug("s3", "op", "get", "key", key, "bytes", n)
	return buf.Bytes(), nil
}

// Put uploads data, replacing any existing object.
func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	s.logger.Debug("s3", "op", "put", "key", key, "bytes", len(data))

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType(key)),
	})
	if err != nil {
		return newError("put", key, classifyS3(err), err)
	}
	return nil
}

// Exists issues a HEAD request for the object.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	s.logger.Debug("s3", "op", "head", "key", key)

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	kind := classifyS3(err)
	if errors.Is(kind, ErrNotFound) {
		return false, nil
	}
	return false, newError("exists", key, kind, err)
}

// classifyS3 maps an SDK error to ErrNotFound, ErrAccessDenied or nil.
func classifyS3(err error) error {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return ErrNotFound
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return ErrNotFound
		case "AccessDenied", "Forbidden", "AllAccessDisabled", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return ErrAccessDenied
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return ErrNotFound
		case http.StatusForbidden:
			return ErrAccessDenied
		}
	}
	return nil
}

func contentType(key string) string {
	switch path.Ext(key) {
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	}
	return "application/octet-stream"
}
