// Package objectstore provides the S3-backed artifact store used by the
// analysis pipeline and the safety-event sink.
//
// All keys live in a single configured bucket. The bucket may be given either
// as a plain name or as an ARN of the form arn:aws:s3:::name; ResolveBucketName
// reduces the latter to the plain name.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// api is the slice of the S3 client the store uses. Narrowing the dependency
// to an interface keeps unit tests free of real AWS calls.
type api interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Store reads and writes objects in one bucket.
type Store struct {
	client api
	bucket string
}

// Config holds the credentials and bucket settings for NewStore.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string

	// Bucket is a plain bucket name or an arn:aws:s3:::name ARN.
	Bucket string
}

// NewStore builds an S3 client from cfg and returns a Store bound to the
// resolved bucket name.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("objectstore: bucket must not be empty")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("objectstore: load aws config: %w", err)
	}
	return &Store{
		client: s3.NewFromConfig(awsCfg),
		bucket: ResolveBucketName(cfg.Bucket),
	}, nil
}

// NewStoreWithClient wires a caller-supplied client. Used in tests.
func NewStoreWithClient(client api, bucket string) *Store {
	return &Store{client: client, bucket: ResolveBucketName(bucket)}
}

// ResolveBucketName reduces an arn:aws:s3:::name ARN to the plain bucket
// name. Plain names pass through unchanged.
func ResolveBucketName(bucket string) string {
	if !strings.HasPrefix(bucket, "arn:") {
		return bucket
	}
	parts := strings.SplitN(bucket, ":::", 2)
	if len(parts) == 2 && parts[1] != "" {
		return parts[1]
	}
	return bucket
}

// Bucket returns the resolved bucket name.
func (s *Store) Bucket() string { return s.bucket }

// Ping checks that the bucket exists and is reachable with the configured
// credentials. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	}); err != nil {
		return fmt.Errorf("objectstore: head bucket %q: %w", s.bucket, err)
	}
	return nil
}

// DownloadToFile streams the object at key into localPath, creating or
// truncating the destination file.
func (s *Store) DownloadToFile(ctx context.Context, key, localPath string) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("objectstore: get %s: %w", key, err)
	}
	defer out.Body.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("objectstore: create %s: %w", localPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, out.Body); err != nil {
		return fmt.Errorf("objectstore: download %s: %w", key, err)
	}
	return nil
}

// UploadFile streams the file at localPath to key. contentType may be empty.
func (s *Store) UploadFile(ctx context.Context, key, localPath, contentType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("objectstore: open %s: %w", localPath, err)
	}
	defer f.Close()

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   f,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("objectstore: put %s: %w", key, err)
	}
	return nil
}

// Put uploads body at key. contentType may be empty.
func (s *Store) Put(ctx context.Context, key string, body []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("objectstore: put %s: %w", key, err)
	}
	return nil
}

// PutJSON serialises value as indented JSON and uploads it at key with
// content type application/json.
func (s *Store) PutJSON(ctx context.Context, key string, value any) error {
	body, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("objectstore: marshal %s: %w", key, err)
	}
	return s.Put(ctx, key, body, "application/json")
}
