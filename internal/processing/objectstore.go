package processing

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/zombor/receipt-pipeline/internal/fault"
)

// ObjectStore is the file-retrieval collaborator. Uploaded source documents
// are fetched by key; failures are transient and safe to retry.
type ObjectStore interface {
	// Fetch retrieves the object bytes for a key
	Fetch(ctx context.Context, key string) ([]byte, error)

	// Put stores object bytes under a key
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Delete removes an object
	Delete(ctx context.Context, key string) error
}

// LocalStore implements ObjectStore on the local filesystem.
type LocalStore struct {
	basePath string
}

// NewLocalStore creates a LocalStore rooted at basePath.
func NewLocalStore(basePath string) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &LocalStore{basePath: basePath}, nil
}

func (l *LocalStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(l.basePath, key))
	if err != nil {
		return nil, fault.Retryable("fetching object", err)
	}
	return data, nil
}

func (l *LocalStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	path := filepath.Join(l.basePath, key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating object directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing object: %w", err)
	}
	return nil
}

func (l *LocalStore) Delete(ctx context.Context, key string) error {
	if err := os.Remove(filepath.Join(l.basePath, key)); err != nil {
		return fmt.Errorf("deleting object: %w", err)
	}
	return nil
}

// S3Config configures an S3-compatible object store (AWS S3, minio, R2).
type S3Config struct {
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
}

// S3Store implements ObjectStore against an S3-compatible service.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store creates an S3Store and ensures its bucket exists. With static
// credentials it talks to the configured endpoint (path-style, for minio);
// without them it falls back to the ambient AWS credential chain.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var client *s3.Client
	if cfg.AccessKeyID != "" {
		opts := s3.Options{
			Region:      cfg.Region,
			Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		}
		if cfg.Endpoint != "" {
			opts.BaseEndpoint = &cfg.Endpoint
			opts.UsePathStyle = true
		}
		client = s3.New(opts)
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("loading aws config: %w", err)
		}
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = &cfg.Endpoint
				o.UsePathStyle = true
			}
		})
	}

	store := &S3Store{client: client, bucket: cfg.Bucket}
	if err := store.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &s.bucket}); err == nil {
		return nil
	}
	if _, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: &s.bucket}); err != nil {
		return fmt.Errorf("creating bucket %s: %w", s.bucket, err)
	}
	slog.Info("Created object store bucket", "bucket", s.bucket)
	return nil
}

func (s *S3Store) Fetch(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fault.Retryable("fetching object", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fault.Retryable("reading object body", err)
	}
	return data, nil
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = &contentType
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("s3 put object failed: %w", err)
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	}); err != nil {
		return fmt.Errorf("s3 delete object failed: %w", err)
	}
	return nil
}
