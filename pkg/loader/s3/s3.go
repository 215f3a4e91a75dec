package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/sd8capricon/graph-rag/pkg/loader"
)

// S3GraphFileLoader is a GraphFileLoader implementation that loads file
// contents from an S3 compatible bucket.
//
// Paths of the form s3://bucket/key override the configured bucket.
type S3GraphFileLoader struct {
	bucket string
	client *s3.Client
	cache  *loader.Cache
}

// NewS3GraphFileLoaderWithClient creates a new S3GraphFileLoader using an
// existing s3.Client.
func NewS3GraphFileLoaderWithClient(bucket string, client *s3.Client) *S3GraphFileLoader {
	return &S3GraphFileLoader{
		bucket: bucket,
		client: client,
		cache:  loader.NewCache(),
	}
}

// NewS3GraphFileLoaderParams defines the configuration parameters for
// creating a new S3GraphFileLoader.
//
// Endpoint allows overriding the S3 endpoint (useful for S3-compatible
// storage like MinIO).
type NewS3GraphFileLoaderParams struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// NewS3GraphFileLoader initializes an S3 client with static credentials and
// the given endpoint/region.
//
// Example:
//
//	l, err := s3.NewS3GraphFileLoader(ctx, s3.NewS3GraphFileLoaderParams{
//		Bucket:    "documents",
//		Endpoint:  "http://localhost:9000",
//		Region:    "us-east-1",
//		AccessKey: util.GetEnv("AWS_ACCESS_KEY"),
//		SecretKey: util.GetEnv("AWS_SECRET_KEY"),
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
func NewS3GraphFileLoader(ctx context.Context, params NewS3GraphFileLoaderParams) (*S3GraphFileLoader, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(params.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			params.AccessKey,
			params.SecretKey,
			"",
		)),
	}
	if params.Endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(params.Endpoint))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = params.Endpoint != ""
	})
	return NewS3GraphFileLoaderWithClient(params.Bucket, client), nil
}

// ParsePath splits a file path into bucket and key. Plain keys use
// defaultBucket.
func ParsePath(path, defaultBucket string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(path, "s3://")
	if !ok {
		return defaultBucket, strings.TrimPrefix(path, "/"), nil
	}
	bucket, key, found := strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 path %q", path)
	}
	return bucket, key, nil
}

// GetFileText retrieves the contents of the given GraphFile from S3.
func (l *S3GraphFileLoader) GetFileText(ctx context.Context, file loader.GraphFile) ([]byte, error) {
	return l.cache.Load(file, func() ([]byte, error) {
		bucket, key, err := ParsePath(file.Path, l.bucket)
		if err != nil {
			return nil, err
		}

		out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, err
		}
		defer out.Body.Close()

		buf := new(bytes.Buffer)
		if _, err := io.Copy(buf, out.Body); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	})
}
