package demo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vango-dev/netsync/pkg/compress"
)

// ArchiveExtension is appended to uploaded recordings.
const ArchiveExtension = ".zst"

// ObjectPutter stores objects. *s3.Client satisfies it.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ArchiverConfig configures an Archiver.
type ArchiverConfig struct {
	Bucket string
	Prefix string // Key prefix, e.g. "demos/"
	Logger *slog.Logger
}

// Archiver compresses finished recordings and stores them in a bucket.
type Archiver struct {
	client ObjectPutter
	bucket string
	prefix string
	logger *slog.Logger
}

// NewArchiver returns an Archiver writing through client.
func NewArchiver(client ObjectPutter, cfg ArchiverConfig) *Archiver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: logger.With("component", "demo.archive"),
	}
}

// Key returns the object key used for the recording at path.
func (a *Archiver) Key(path string) string {
	return a.prefix + filepath.Base(path) + ArchiveExtension
}

// Upload zstd-compresses the recording at path and stores it. It returns
// the object key.
func (a *Archiver) Upload(ctx context.Context, path string) (string, error) {
	if a.bucket == "" {
		return "", errors.New("demo: no bucket configured")
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("demo: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	zw, err := compress.NewArchiveWriter(&buf)
	if err != nil {
		return "", err
	}
	n, err := io.Copy(zw, f)
	if err != nil {
		zw.Close()
		return "", fmt.Errorf("demo: read %s: %w", path, err)
	}
	if err := zw.Close(); err != nil {
		return "", err
	}

	key := a.Key(path)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/zstd"),
		Metadata: map[string]string{
			"original-filename": filepath.Base(path),
			"original-size":     fmt.Sprint(n),
			"upload-time":       time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return "", fmt.Errorf("demo: upload %s: %w", key, err)
	}

	a.logger.Info("demo archived",
		"path", path,
		"bucket", a.bucket,
		"key", key,
		"size", n,
		"archived", buf.Len(),
	)
	return key, nil
}

// S3Config selects the bucket endpoint for NewS3Client.
type S3Config struct {
	Region string

	// Endpoint overrides the AWS endpoint, for MinIO and similar stores.
	Endpoint string

	// PathStyle addresses buckets as endpoint/bucket instead of
	// bucket.endpoint.
	PathStyle bool
}

// NewS3Client returns an S3 client using credentials from the standard
// AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY and AWS_SESSION_TOKEN variables.
func NewS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  aws.CredentialsProviderFunc(envCredentials),
		UsePathStyle: cfg.PathStyle,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(strings.TrimSuffix(cfg.Endpoint, "/"))
	}
	return s3.New(opts)
}

func envCredentials(context.Context) (aws.Credentials, error) {
	id := os.Getenv("AWS_ACCESS_KEY_ID")
	secret := os.Getenv("AWS_SECRET_ACCESS_KEY")
	if id == "" || secret == "" {
		return aws.Credentials{}, errors.New("demo: AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set")
	}
	return aws.Credentials{
		AccessKeyID:     id,
		SecretAccessKey: secret,
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		Source:          "environment",
	}, nil
}
