// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package s3client

import (
	"context"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_GetClient_Caches(t *testing.T) {
	t.Parallel()

	p := NewPool(time.Second, 10)
	defer p.Close()

	cfg := &Config{
		Endpoint:        "http://127.0.0.1:9000",
		Region:          "us-east-1",
		AccessKeyID:     "AKIATEST",
		SecretAccessKey: "secret",
		PathStyle:       true,
	}

	c1, err := p.GetClient(context.Background(), cfg)
	require.NoError(t, err)
	c2, err := p.GetClient(context.Background(), cfg)
	require.NoError(t, err)
	assert.Same(t, c1, c2)

	other := *cfg
	other.Region = "eu-west-1"
	c3, err := p.GetClient(context.Background(), &other)
	require.NoError(t, err)
	assert.NotSame(t, c1, c3)
}

func TestPool_GetKMSClient(t *testing.T) {
	t.Parallel()

	p := NewPool(0, 0)
	defer p.Close()

	client, err := p.GetKMSClient(context.Background(), &Config{
		Region:          "us-east-1",
		AccessKeyID:     "AKIATEST",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestPool_CABundle(t *testing.T) {
	var heads atomic.Int32
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			heads.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	bundle := filepath.Join(t.TempDir(), "ca.pem")
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	require.NoError(t, os.WriteFile(bundle, certPEM, 0o600))
	t.Setenv("AWS_CA_BUNDLE", bundle)
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(t.TempDir(), "missing"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "missing"))

	p := NewPool(10*time.Second, 0)
	defer p.Close()

	cfg := &Config{
		Endpoint:        srv.URL,
		Region:          "us-east-1",
		AccessKeyID:     "AKIATEST",
		SecretAccessKey: "secret",
		PathStyle:       true,
		MaxAttempts:     1,
	}

	client, err := p.GetClient(context.Background(), cfg)
	require.NoError(t, err)

	// The server certificate is only trusted through the bundle.
	_, err = client.HeadBucket(context.Background(), &s3.HeadBucketInput{Bucket: aws.String("src")})
	require.NoError(t, err)
	assert.EqualValues(t, 1, heads.Load())

	kmsClient, err := p.GetKMSClient(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotNil(t, kmsClient)
}

type fakeKMS struct {
	out *kms.DescribeKeyOutput
	err error
}

func (f *fakeKMS) DescribeKey(ctx context.Context, params *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error) {
	return f.out, f.err
}

func TestVerifyKMSKey(t *testing.T) {
	t.Parallel()

	enabled := &kms.DescribeKeyOutput{KeyMetadata: &kmstypes.KeyMetadata{
		KeyId:    aws.String("key-1"),
		Enabled:  true,
		KeyState: kmstypes.KeyStateEnabled,
		KeyUsage: kmstypes.KeyUsageTypeEncryptDecrypt,
	}}
	disabled := &kms.DescribeKeyOutput{KeyMetadata: &kmstypes.KeyMetadata{
		KeyId:    aws.String("key-2"),
		KeyState: kmstypes.KeyStateDisabled,
	}}
	signing := &kms.DescribeKeyOutput{KeyMetadata: &kmstypes.KeyMetadata{
		KeyId:    aws.String("key-3"),
		Enabled:  true,
		KeyState: kmstypes.KeyStateEnabled,
		KeyUsage: kmstypes.KeyUsageTypeSignVerify,
	}}

	require.NoError(t, VerifyKMSKey(context.Background(), &fakeKMS{out: enabled}, "key-1"))

	err := VerifyKMSKey(context.Background(), &fakeKMS{out: disabled}, "key-2")
	assert.ErrorIs(t, err, ErrKMSKeyUnusable)

	err = VerifyKMSKey(context.Background(), &fakeKMS{out: signing}, "key-3")
	assert.ErrorIs(t, err, ErrKMSKeyUnusable)

	cause := errors.New("NotFoundException")
	err = VerifyKMSKey(context.Background(), &fakeKMS{err: cause}, "missing")
	assert.ErrorIs(t, err, cause)

	err = VerifyKMSKey(context.Background(), &fakeKMS{out: &kms.DescribeKeyOutput{}}, "empty")
	assert.Error(t, err)
}
