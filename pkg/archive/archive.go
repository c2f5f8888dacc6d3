// Package archive copies notifications to S3 before retention deletes them.
//
// Every batch becomes one JSON-lines object under
// <prefix>/YYYY/MM/DD/<uuid>.jsonl, dated by the archive run.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/notifications"
)

// S3Client is the part of *s3.Client the archiver uses.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver implements notifications.Archiver.
type S3Archiver struct {
	client S3Client
	bucket string
	prefix string
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

var _ notifications.Archiver = (*S3Archiver)(nil)

// Option configures an S3Archiver.
type Option func(*S3Archiver)

// WithS3Client replaces the SDK client, mostly for tests.
func WithS3Client(c S3Client) Option {
	return func(a *S3Archiver) { a.client = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *S3Archiver) {
		if l != nil {
			a.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *S3Archiver) {
		if now != nil {
			a.now = now
		}
	}
}

// WithIDGenerator overrides the object name generator.
func WithIDGenerator(fn func() string) Option {
	return func(a *S3Archiver) {
		if fn != nil {
			a.newID = fn
		}
	}
}

// NewS3Archiver builds an archiver. Without WithS3Client the SDK client is
// created from cfg and the default AWS credential chain.
func NewS3Archiver(ctx context.Context, cfg Config, opts ...Option) (*S3Archiver, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, ErrInvalidConfig
	}
	a := &S3Archiver{
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: slog.Default(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(logger.Component("archive"))

	if a.client == nil {
		loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
		if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
			loadOpts = append(loadOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
			))
		}
		awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, errors.Join(ErrFailedToLoadConfig, err)
		}
		a.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			o.UsePathStyle = cfg.ForcePathStyle
		})
	}
	return a, nil
}

// Archive uploads batch as one object. An empty batch is a no-op.
func (a *S3Archiver) Archive(ctx context.Context, batch []notifications.Notification) error {
	if len(batch) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, n := range batch {
		if err := enc.Encode(n); err != nil {
			return fmt.Errorf("encode notification %s: %w", n.ID, err)
		}
	}

	key := a.key()
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentLength: aws.Int64(int64(buf.Len())),
		ContentType:   aws.String("application/x-ndjson"),
		Metadata:      map[string]string{"count": fmt.Sprint(len(batch))},
	})
	if err != nil {
		return classify(err)
	}

	a.logger.InfoContext(ctx, "notifications archived", slog.String("key", key), logger.Count(len(batch)))
	return nil
}

func (a *S3Archiver) key() string {
	day := a.now().UTC().Format("2006/01/02")
	return path.Join(a.prefix, day, a.newID()+".jsonl")
}

func classify(err error) error {
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return errors.Join(ErrBucketNotFound, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket":
			return errors.Join(ErrBucketNotFound, err)
		case "AccessDenied":
			return errors.Join(ErrAccessDenied, err)
		case "SlowDown", "ServiceUnavailable", "RequestTimeout":
			return errors.Join(ErrUnavailable, err)
		}
	}
	return errors.Join(ErrUploadFailed, err)
}
