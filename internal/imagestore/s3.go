package imagestore

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 puts images into a bucket.
type S3 struct {
	client        objectPutter
	bucket        string
	publicBaseURL string
}

// NewS3 builds the client from static credentials. A custom endpoint
// switches to path style addressing for S3 compatible servers.
func NewS3(ctx context.Context, settings Settings) (*S3, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(settings.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			settings.S3AccessKey,
			settings.S3SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("in internal/imagestore/s3.go/NewS3(): error while `config.LoadDefaultConfig()` calling: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if settings.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(settings.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewS3WithClient(client, settings.S3Bucket, settings.PublicBaseURL), nil
}

// NewS3WithClient uses an existing client.
func NewS3WithClient(client objectPutter, bucket, publicBaseURL string) *S3 {
	return &S3{
		client:        client,
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

// Save puts the object and returns its public URL, or its key when no
// public URL is configured.
func (s *S3) Save(ctx context.Context, upload Upload) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(upload.Key),
		Body:        bytes.NewReader(upload.Data),
		ContentType: aws.String(upload.ContentType),
	})
	if err != nil {
		return "", fmt.Errorf("in internal/imagestore/s3.go/Save(): error while `s.client.PutObject()` calling: %w", err)
	}

	if s.publicBaseURL == "" {
		return upload.Key, nil
	}
	return s.publicBaseURL + "/" + upload.Key, nil
}
