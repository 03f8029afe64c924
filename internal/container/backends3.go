package container

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cadellanderson/omnicore/internal/corerr"
)

// S3BackendConfig configures an S3Backend: bucket, object key, region,
// endpoint, static credentials and provider name.
type S3BackendConfig struct {
	Bucket    string
	Key       string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Provider  string // "aws", "minio", or any S3-compatible provider name
}

// S3Backend implements Backend on top of a single S3-compatible object.
// Because S3 objects are not addressable for in-place patches, the backend
// keeps the full object materialized in memory (downloaded on first use)
// and re-uploads the whole object after every Create, Append and PatchAt;
// reads are served from the in-memory copy.
type S3Backend struct {
	cfg    S3BackendConfig
	client *s3.Client

	mu  sync.Mutex
	buf []byte
}

// NewS3Backend constructs a backend bound to cfg without touching the
// network; Exists/Create/ReadAt trigger the first remote calls.
func NewS3Backend(ctx context.Context, cfg S3BackendConfig) (*S3Backend, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("container: load aws config: %w", corerr.ErrIOError)
	}

	var opts []func(*s3.Options)
	if cfg.Endpoint != "" && cfg.Provider != "aws" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Backend{cfg: cfg, client: s3.NewFromConfig(awsCfg, opts...)}, nil
}

func (b *S3Backend) Exists() (bool, error) {
	_, err := b.client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.cfg.Key),
	})
	if err == nil {
		return true, nil
	}
	return false, nil
}

func (b *S3Backend) Create(headerBytes []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append([]byte(nil), headerBytes...)
	return b.upload()
}

func (b *S3Backend) download() error {
	out, err := b.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.cfg.Key),
	})
	if err != nil {
		return fmt.Errorf("container: download object: %w", corerr.ErrIOError)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return fmt.Errorf("container: read object body: %w", corerr.ErrIOError)
	}
	b.buf = data
	return nil
}

func (b *S3Backend) upload() error {
	_, err := b.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.cfg.Key),
		Body:   bytes.NewReader(b.buf),
	})
	if err != nil {
		return fmt.Errorf("container: upload object: %w", corerr.ErrIOError)
	}
	return nil
}

func (b *S3Backend) ensureLoaded() error {
	if b.buf != nil {
		return nil
	}
	return b.download()
}

func (b *S3Backend) ReadAt(p []byte, off int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureLoaded(); err != nil {
		return err
	}
	if off < 0 || off+int64(len(p)) > int64(len(b.buf)) {
		return fmt.Errorf("container: read out of range: %w", corerr.ErrIOError)
	}
	copy(p, b.buf[off:off+int64(len(p))])
	return nil
}

func (b *S3Backend) Append(p []byte) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureLoaded(); err != nil {
		return 0, err
	}
	off := int64(len(b.buf))
	b.buf = append(b.buf, p...)
	if err := b.upload(); err != nil {
		return 0, err
	}
	return off, nil
}

func (b *S3Backend) PatchAt(p []byte, off int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureLoaded(); err != nil {
		return err
	}
	if off < 0 || off+int64(len(p)) > int64(len(b.buf)) {
		return fmt.Errorf("container: patch out of range: %w", corerr.ErrIOError)
	}
	copy(b.buf[off:off+int64(len(p))], p)
	return b.upload()
}

func (b *S3Backend) Size() (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureLoaded(); err != nil {
		return 0, err
	}
	return int64(len(b.buf)), nil
}

func (b *S3Backend) Close() error { return nil }
