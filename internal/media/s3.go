package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// putObjectAPI is the part of *s3.Client the store uses.
type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config selects the bucket and how to reach it. Endpoint is set for S3-compatible
// services such as MinIO; AccessKey/SecretKey override the default credential chain.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Prefix    string
	MaxBytes  int64
}

// S3Store uploads avatars as objects. The reference is the object key.
type S3Store struct {
	client   putObjectAPI
	bucket   string
	prefix   string
	maxBytes int64
	now      func() time.Time
}

// NewS3Store builds an S3 client from cfg.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("media: S3 bucket is empty")
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("media: aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Store(client, cfg), nil
}

func newS3Store(client putObjectAPI, cfg S3Config) *S3Store {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "avatars"
	}
	return &S3Store{client: client, bucket: cfg.Bucket, prefix: prefix, maxBytes: cfg.MaxBytes, now: time.Now}
}

// Save buffers up (bounded by MaxBytes) and puts it under prefix/.
func (s *S3Store) Save(ctx context.Context, up Upload) (string, error) {
	if up.Body == nil {
		return "", errors.New("media: empty upload")
	}
	data, err := io.ReadAll(limitBody(up.Body, s.maxBytes))
	if err != nil {
		return "", err
	}
	key := path.Join(s.prefix, FileName(up.Filename, s.now()))
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if up.ContentType != "" {
		in.ContentType = aws.String(up.ContentType)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("media: put object: %w", err)
	}
	return key, nil
}
