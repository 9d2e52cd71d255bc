// Package objectstore mirrors badge images into an S3-compatible bucket so
// the leaderboard does not hot-link the assessment service.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// UploadResult describes a stored object.
type UploadResult struct {
	Key      string
	Location string
	ETag     string
}

// Uploader stores objects and resolves their public URLs.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, body io.ReadSeeker) (UploadResult, error)
	PublicURL(key string) string
}

// S3Config configures an S3Uploader. Endpoint is optional and selects an
// S3-compatible service (R2, MinIO) addressed path-style.
type S3Config struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string
}

// S3Uploader implements Uploader over aws-sdk-go-v2.
type S3Uploader struct {
	client        *s3.Client
	bucket        string
	publicBaseURL string
}

var _ Uploader = (*S3Uploader)(nil)

// NewS3Uploader builds an uploader. Static keys are used when both are set,
// otherwise the default AWS credential chain applies.
func NewS3Uploader(ctx context.Context, cfg S3Config) (*S3Uploader, error) {
	if cfg.Bucket == "" || cfg.PublicBaseURL == "" {
		return nil, fmt.Errorf("%w: bucket and public base url are required", ErrInvalidConfig)
	}
	if _, err := url.Parse(cfg.PublicBaseURL); err != nil {
		return nil, fmt.Errorf("%w: public base url: %w", ErrInvalidConfig, err)
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	sdkCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(sdkCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Uploader{
		client:        client,
		bucket:        cfg.Bucket,
		publicBaseURL: cfg.PublicBaseURL,
	}, nil
}

// Upload puts body under key.
func (u *S3Uploader) Upload(ctx context.Context, key, contentType string, body io.ReadSeeker) (UploadResult, error) {
	out, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return UploadResult{}, fmt.Errorf("%w (key: %s): %w", ErrUpload, key, err)
	}

	etag := ""
	if out.ETag != nil {
		etag = strings.Trim(*out.ETag, "\"")
	}
	return UploadResult{Key: key, Location: u.PublicURL(key), ETag: etag}, nil
}

// PublicURL joins the public base URL and key.
func (u *S3Uploader) PublicURL(key string) string {
	return joinPublicURL(u.publicBaseURL, key)
}

func joinPublicURL(base, key string) string {
	if base == "" || key == "" {
		return ""
	}
	joined, err := url.JoinPath(base, strings.TrimPrefix(key, "/"))
	if err != nil {
		return ""
	}
	return joined
}
