package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/sd8capricon/graph-rag/internal/util"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// NewS3Client builds a path-style client from the AWS_* environment.
func NewS3Client(ctx context.Context) (*s3.Client, error) {
	region := util.GetEnvString("AWS_REGION", "us-east-1")
	endpoint := util.GetEnvString("AWS_ENDPOINT", "")
	accessKey := util.GetEnv("AWS_ACCESS_KEY")
	secretKey := util.GetEnv("AWS_SECRET_KEY")

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey,
			secretKey,
			"",
		)),
	}
	if endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(endpoint))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load s3 config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return client, nil
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader writes uploaded source files to one bucket.
type Uploader struct {
	client objectPutter
	bucket string
}

func NewUploader(client *s3.Client, bucket string) *Uploader {
	return &Uploader{client: client, bucket: bucket}
}

// PutFile stores file under prefix with a fresh key and returns its
// s3://bucket/key path, ready to be passed to an ingestion job.
func (u *Uploader) PutFile(ctx context.Context, prefix, name string, file io.ReadSeeker) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", err
	}
	key := objectKey(prefix, id, name)

	input := &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   file,
	}
	if mimeType := mime.TypeByExtension(path.Ext(name)); mimeType != "" {
		input.ContentType = aws.String(mimeType)
	}
	if _, err := u.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("failed to upload file to S3: %w", err)
	}

	return "s3://" + u.bucket + "/" + key, nil
}

// objectKey keeps the original extension so loaders and browsers can
// still tell the content type.
func objectKey(prefix, id, name string) string {
	key := id + strings.ToLower(path.Ext(name))
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}
