package filestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type S3Options struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// S3FileStore keeps uploads in a bucket of any S3 compatible object store (AWS, MinIO, SeaweedFS).
type S3FileStore struct {
	client        *s3.Client
	bucket        string
	publicBaseURL string
}

func NewS3FileStore(ctx context.Context, options S3Options, publicBaseURL string) (*S3FileStore, error) {
	if options.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket must not be empty")
	}

	loadOptions := []func(*config.LoadOptions) error{
		config.WithRegion(options.Region),
	}
	// Without static keys the default AWS credential chain applies.
	if options.AccessKey != "" {
		loadOptions = append(loadOptions, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(options.AccessKey, options.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if options.Endpoint != "" {
			o.BaseEndpoint = aws.String(options.Endpoint)
		}
		o.UsePathStyle = true // Required for many S3-compatible stores including MinIO and SeaweedFS
	})

	if publicBaseURL == "" {
		publicBaseURL = fmt.Sprintf("%s/%s", strings.TrimRight(options.Endpoint, "/"), options.Bucket)
	}

	store := &S3FileStore{
		client:        client,
		bucket:        options.Bucket,
		publicBaseURL: publicBaseURL,
	}
	if err := store.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *S3FileStore) Save(ctx context.Context, originalFilename string, content io.Reader) (string, error) {
	name := generateFilename(originalFilename)

	// Request signing needs a seekable body.
	body, ok := content.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(content)
		if err != nil {
			return "", fmt.Errorf("%w: failed to read upload %s: %w", ErrStorageWrite, originalFilename, err)
		}
		body = bytes.NewReader(data)
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(name),
		Body:        body,
		ContentType: aws.String(contentType(name)),
	})
	if err != nil {
		return "", fmt.Errorf("%w: failed to upload %s to bucket %s: %w", ErrStorageWrite, name, s.bucket, err)
	}
	return name, nil
}

// Delete relies on S3 semantics: deleting a missing key succeeds.
func (s *S3FileStore) Delete(ctx context.Context, storedFilename string) error {
	if !isValidStoredName(storedFilename) {
		return fmt.Errorf("invalid stored filename %q", storedFilename)
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(storedFilename),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s from bucket %s: %w", storedFilename, s.bucket, err)
	}
	return nil
}

func (s *S3FileStore) ResolveURL(storedFilename string) string {
	return joinURL(s.publicBaseURL, storedFilename)
}

func (s *S3FileStore) Close() error {
	return nil
}

// ensureBucket checks if bucket exists, creating it if necessary
func (s *S3FileStore) ensureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}

	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func contentType(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
