// Package presign issues pre-signed S3 PUT URLs of the kind the service uploads previews to.
package presign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrMissingTarget is returned when bucket or key is empty.
var ErrMissingTarget = errors.New("bucket and key are required")

// Options selects the storage endpoint and credentials.
// Empty credentials fall back to the default AWS provider chain.
type Options struct {
	Region          string
	Endpoint        string // S3-compatible endpoint such as MinIO or R2; empty for AWS
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool
}

// Signer produces pre-signed PUT URLs.
type Signer struct {
	client *s3.PresignClient
}

// NewSigner loads the AWS configuration and builds a presign client.
func NewSigner(ctx context.Context, opts Options) (*Signer, error) {
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	loaders := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if opts.AccessKeyID != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})
	return &Signer{client: s3.NewPresignClient(client)}, nil
}

// PutURL returns a URL that accepts one PUT of bucket/key until ttl elapses.
// When contentType is set the upload must send the same Content-Type.
func (s *Signer) PutURL(ctx context.Context, bucket, key, contentType string, ttl time.Duration) (string, error) {
	if bucket == "" || key == "" {
		return "", ErrMissingTarget
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	req, err := s.client.PresignPutObject(ctx, input, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign put %s/%s: %w", bucket, key, err)
	}
	return req.URL, nil
}
