package upstream

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/llmflow/graphrag/pkg/config"
	"github.com/llmflow/graphrag/pkg/domain"
)

// ObjectStore downloads uploaded source files from S3-compatible storage
// (MinIO in the reference deployment).
type ObjectStore struct {
	client *s3.Client
	bucket string
	logger zerolog.Logger
}

// NewObjectStore builds the S3 client against the configured endpoint.
// Path-style addressing is required for MinIO.
func NewObjectStore(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (*ObjectStore, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	return &ObjectStore{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// Download fetches an object to a temp file and returns its path. The caller
// removes the file when done.
func (o *ObjectStore) Download(ctx context.Context, key string) (string, error) {
	resp, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("%w: object %s: %v", domain.ErrNotFound, key, err)
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp("", "graphrag-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	written, err := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("download object %s: %w", key, err)
	}
	if closeErr != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close temp file: %w", closeErr)
	}

	o.logger.Debug().Str("key", key).Int64("bytes", written).Msg("object downloaded")
	return tmp.Name(), nil
}
