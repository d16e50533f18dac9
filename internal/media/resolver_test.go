package media

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wacampaign/internal/config"
)

func TestPassthroughResolver(t *testing.T) {
	r := PassthroughResolver{}

	got, err := r.Resolve(context.Background(), " https://cdn.example.com/promo.jpg ")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/promo.jpg", got)

	_, err = r.Resolve(context.Background(), "s3://bucket/key.jpg")
	assert.Error(t, err)

	_, err = r.Resolve(context.Background(), "ftp://host/file")
	assert.Error(t, err)

	_, err = r.Resolve(context.Background(), "/relative/path.png")
	assert.Error(t, err)
}

func TestNewS3Resolver_RequiresCredentials(t *testing.T) {
	_, err := NewS3Resolver(config.MediaConfig{S3Region: "us-east-1"})
	assert.Error(t, err)
}

func TestS3Resolver_Presigns(t *testing.T) {
	r, err := NewS3Resolver(config.MediaConfig{
		S3Region:      "us-east-1",
		S3Endpoint:    "http://localhost:9000",
		S3AccessKey:   "AKIDEXAMPLE",
		S3SecretKey:   "secret",
		S3PathStyle:   true,
		PresignExpiry: 10 * time.Minute,
	})
	require.NoError(t, err)

	got, err := r.Resolve(context.Background(), "s3://campaign-media/tenant-1/promo.jpg")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "http://localhost:9000/campaign-media/tenant-1/promo.jpg?"), got)
	assert.Contains(t, got, "X-Amz-Signature=")
	assert.Contains(t, got, "X-Amz-Expires=600")

	plain, err := r.Resolve(context.Background(), "https://cdn.example.com/a.png")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.png", plain)
}

func TestParseS3URL(t *testing.T) {
	bucket, key, ok := parseS3URL("s3://b/dir/file.pdf")
	assert.True(t, ok)
	assert.Equal(t, "b", bucket)
	assert.Equal(t, "dir/file.pdf", key)

	_, _, ok = parseS3URL("s3://bucket-only")
	assert.False(t, ok)
	_, _, ok = parseS3URL("https://x/y")
	assert.False(t, ok)
}
