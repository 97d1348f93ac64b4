//go:build integration

// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared utilities for integration tests against a
// live S3-compatible endpoint (MinIO, Ceph RGW, AWS).
package testutil

import (
	"bytes"
	"context"
	"io"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/s3clone/pkg/s3client"
	"github.com/LeeDigitalWorks/s3clone/pkg/store"
	"github.com/LeeDigitalWorks/s3clone/pkg/tagging"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// DefaultTimeout is the default timeout for test operations
const DefaultTimeout = 30 * time.Second

// GetEnv returns the environment variable value or a default
func GetEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// DefaultS3Config returns the connection settings for local testing.
func DefaultS3Config() *s3client.Config {
	pathStyle, _ := strconv.ParseBool(GetEnv("S3_PATH_STYLE", "true"))
	return &s3client.Config{
		Endpoint:        GetEnv("S3_ENDPOINT", "http://localhost:9000"),
		Region:          GetEnv("S3_REGION", "us-east-1"),
		AccessKeyID:     GetEnv("S3_ACCESS_KEY_ID", "minioadmin"),
		SecretAccessKey: GetEnv("S3_SECRET_ACCESS_KEY", "minioadmin"),
		PathStyle:       pathStyle,
	}
}

// WithTimeout creates a context with the default timeout
func WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, DefaultTimeout)
}

// UniqueBucket returns a valid, unique bucket name.
func UniqueBucket(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

// S3Client wraps the AWS S3 client with test helpers
type S3Client struct {
	*s3.Client
	t *testing.T
}

// NewS3Client creates an S3 client for testing. The pool is closed on cleanup.
func NewS3Client(t *testing.T, pool *s3client.Pool, cfg *s3client.Config) *S3Client {
	t.Helper()

	ctx, cancel := WithTimeout(context.Background())
	defer cancel()
	client, err := pool.GetClient(ctx, cfg)
	require.NoError(t, err, "failed to create S3 client")

	return &S3Client{Client: client, t: t}
}

// CreateVersionedBucket creates a bucket with versioning enabled and removes
// it, with every version, when the test ends.
func (c *S3Client) CreateVersionedBucket(bucket string) {
	c.t.Helper()

	ctx, cancel := WithTimeout(context.Background())
	defer cancel()

	_, err := c.Client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	require.NoError(c.t, err, "failed to create bucket %s", bucket)
	c.t.Cleanup(func() { c.deleteBucket(bucket) })

	_, err = c.Client.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
		Bucket: aws.String(bucket),
		VersioningConfiguration: &s3types.VersioningConfiguration{
			Status: s3types.BucketVersioningStatusEnabled,
		},
	})
	require.NoError(c.t, err, "failed to enable versioning on %s", bucket)
}

// PutVersion uploads a new version of key and returns its version id.
func (c *S3Client) PutVersion(bucket, key string, body []byte, tags store.TagSet) string {
	c.t.Helper()

	ctx, cancel := WithTimeout(context.Background())
	defer cancel()

	in := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}
	if len(tags) > 0 {
		in.Tagging = aws.String(tagging.Encode(tags))
	}
	out, err := c.Client.PutObject(ctx, in)
	require.NoError(c.t, err, "failed to put %s/%s", bucket, key)
	return aws.ToString(out.VersionId)
}

// GetBody returns the content of one version. An empty version id reads the
// current version.
func (c *S3Client) GetBody(bucket, key, versionID string) []byte {
	c.t.Helper()

	ctx, cancel := WithTimeout(context.Background())
	defer cancel()

	in := &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}
	if versionID != "" {
		in.VersionId = aws.String(versionID)
	}
	out, err := c.Client.GetObject(ctx, in)
	require.NoError(c.t, err, "failed to get %s/%s", bucket, key)
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	require.NoError(c.t, err)
	return data
}

func (c *S3Client) deleteBucket(bucket string) {
	ctx, cancel := WithTimeout(context.Background())
	defer cancel()

	var keyMarker, versionMarker *string
	for {
		out, err := c.Client.ListObjectVersions(ctx, &s3.ListObjectVersionsInput{
			Bucket:          aws.String(bucket),
			KeyMarker:       keyMarker,
			VersionIdMarker: versionMarker,
		})
		if err != nil {
			c.t.Logf("cleanup: list versions of %s: %v", bucket, err)
			return
		}
		var ids []s3types.ObjectIdentifier
		for _, v := range out.Versions {
			ids = append(ids, s3types.ObjectIdentifier{Key: v.Key, VersionId: v.VersionId})
		}
		for _, m := range out.DeleteMarkers {
			ids = append(ids, s3types.ObjectIdentifier{Key: m.Key, VersionId: m.VersionId})
		}
		for _, id := range ids {
			_, err := c.Client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: id.Key, VersionId: id.VersionId})
			if err != nil {
				c.t.Logf("cleanup: delete %s/%s: %v", bucket, aws.ToString(id.Key), err)
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		keyMarker, versionMarker = out.NextKeyMarker, out.NextVersionIdMarker
	}

	if _, err := c.Client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil {
		c.t.Logf("cleanup: delete bucket %s: %v", bucket, err)
	}
}
