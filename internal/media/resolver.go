// Package media turns stored media references into URLs a provider can download.
package media

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"wacampaign/internal/config"
)

// PassthroughResolver accepts absolute http(s) URLs as they are
type PassthroughResolver struct{}

// Resolve validates raw and returns it unchanged
func (PassthroughResolver) Resolve(_ context.Context, raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid media url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported media url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("media url %q has no host", raw)
	}
	return u.String(), nil
}

// S3Resolver presigns s3://bucket/key references and passes http(s) URLs through
type S3Resolver struct {
	presigner *s3.PresignClient
	expiry    time.Duration
}

// NewS3Resolver creates a resolver from static credentials. Presigning is local,
// so no request reaches S3 until the provider downloads the object.
func NewS3Resolver(cfg config.MediaConfig) (*S3Resolver, error) {
	if cfg.S3AccessKey == "" || cfg.S3SecretKey == "" {
		return nil, fmt.Errorf("S3 credentials not configured")
	}

	awsCfg := aws.Config{
		Region:      cfg.S3Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3PathStyle
	})

	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = time.Hour
	}

	log.Info().
		Str("region", cfg.S3Region).
		Str("endpoint", cfg.S3Endpoint).
		Bool("pathStyle", cfg.S3PathStyle).
		Msg("S3 media resolver initialized")

	return &S3Resolver{presigner: s3.NewPresignClient(client), expiry: expiry}, nil
}

// Resolve returns a downloadable URL for raw
func (r *S3Resolver) Resolve(ctx context.Context, raw string) (string, error) {
	bucket, key, ok := parseS3URL(raw)
	if !ok {
		return PassthroughResolver{}.Resolve(ctx, raw)
	}

	req, err := r.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(r.expiry))
	if err != nil {
		return "", fmt.Errorf("failed to presign s3://%s/%s: %w", bucket, key, err)
	}
	return req.URL, nil
}

func parseS3URL(raw string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(strings.TrimSpace(raw), "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}
