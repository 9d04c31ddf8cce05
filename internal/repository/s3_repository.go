package repository

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	s3config "imgpipe/internal/config"
)

// RemoteStore is the boundary to the blob storage protocol. One logical
// call per item; retries, multipart and pooling are the SDK's concern.
type RemoteStore interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string, metadata map[string]string) error
}

type s3Store struct {
	client *s3.Client
	cfg    *s3config.S3Config
	log    *zap.Logger
}

// NewS3Store builds an S3 client against an R2/MinIO style endpoint with
// static credentials and path-style addressing.
func NewS3Store(ctx context.Context, cfg *s3config.S3Config, log *zap.Logger) (RemoteStore, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	log.Info("remote store client initialized",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("bucket", cfg.BucketName))

	return &s3Store{
		client: client,
		cfg:    cfg,
		log:    log,
	}, nil
}

func (r *s3Store) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string, metadata map[string]string) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(r.cfg.BucketName),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	}
	if r.cfg.CacheControl != "" {
		input.CacheControl = aws.String(r.cfg.CacheControl)
	}
	if len(metadata) > 0 {
		input.Metadata = metadata
	}

	if _, err := r.client.PutObject(ctx, input); err != nil {
		r.log.Error("failed to upload object",
			zap.String("key", key),
			zap.Error(err))
		return err
	}

	r.log.Info("object uploaded",
		zap.String("key", key),
		zap.Int64("size", size))

	return nil
}
