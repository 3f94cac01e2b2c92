// internal/storage/sink.go
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// BackupSink mirrors backup files outside the validated directory
type BackupSink interface {
	// Name identifies the backend in logs and API responses
	Name() string

	// Put stores data under name and returns the location written
	Put(ctx context.Context, name string, data io.Reader) (string, error)
}

// SinkType selects a BackupSink backend
type SinkType string

const (
	SinkTypeNone  SinkType = "none"
	SinkTypeLocal SinkType = "local"
	SinkTypeS3    SinkType = "s3"
)

// SinkConfig holds configuration for the backup mirror
type SinkConfig struct {
	Type         SinkType
	LocalPath    string
	S3Bucket     string
	S3Region     string
	S3Prefix     string
	AWSAccessKey string
	AWSSecretKey string
}

// NewBackupSink creates the configured sink; SinkTypeNone returns nil
func NewBackupSink(ctx context.Context, cfg SinkConfig) (BackupSink, error) {
	switch cfg.Type {
	case SinkTypeNone, "":
		return nil, nil
	case SinkTypeLocal:
		return NewLocalSink(cfg.LocalPath)
	case SinkTypeS3:
		return NewS3Sink(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown backup sink type: %s", cfg.Type)
	}
}

// LocalSink copies backups into another directory
type LocalSink struct {
	dir string
}

// NewLocalSink creates dir if needed
func NewLocalSink(dir string) (*LocalSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("local sink requires a directory")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create mirror directory: %w", err)
	}
	return &LocalSink{dir: dir}, nil
}

func (s *LocalSink) Name() string { return string(SinkTypeLocal) }

// Put writes data to <dir>/<name> through a temp file
func (s *LocalSink) Put(ctx context.Context, name string, data io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	target := filepath.Join(s.dir, filepath.Base(name))
	content, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read backup: %w", err)
	}
	if err := writeAtomic(target, content); err != nil {
		return "", err
	}
	return target, nil
}

// s3PutAPI is the part of *s3.Client the sink uses
type s3PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads backups to an S3 bucket
type S3Sink struct {
	client s3PutAPI
	bucket string
	prefix string
}

// NewS3Sink loads AWS config, using static credentials when both keys are
// set and the default provider chain otherwise
func NewS3Sink(ctx context.Context, cfg SinkConfig) (*S3Sink, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 sink requires a bucket")
	}

	var awsCfg aws.Config
	var err error

	if cfg.AWSAccessKey != "" && cfg.AWSSecretKey != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.S3Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AWSAccessKey,
				cfg.AWSSecretKey,
				"",
			)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.S3Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return newS3Sink(s3.NewFromConfig(awsCfg), cfg.S3Bucket, cfg.S3Prefix), nil
}

func newS3Sink(client s3PutAPI, bucket, prefix string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Sink) Name() string { return string(SinkTypeS3) }

// Put uploads data to s3://bucket/prefix+name
func (s *S3Sink) Put(ctx context.Context, name string, data io.Reader) (string, error) {
	key := s.key(name)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	return "s3://" + s.bucket + "/" + key, nil
}

func (s *S3Sink) key(name string) string {
	prefix := strings.TrimLeft(s.prefix, "/")
	if prefix == "" {
		return path.Base(name)
	}
	return path.Join(prefix, path.Base(name))
}
