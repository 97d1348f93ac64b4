// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package s3client builds and caches AWS SDK clients for S3-compatible
// endpoints. Source and destination buckets share a client when their
// connection settings are identical.
package s3client

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/s3clone/pkg/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// DefaultMaxAttempts is the SDK retry budget per call, first attempt included.
const DefaultMaxAttempts = 5

// Config holds configuration for connecting to an S3 service.
type Config struct {
	// Endpoint overrides the AWS endpoint (MinIO, Ceph, ...). Empty uses AWS.
	Endpoint string
	Region   string

	// Static credentials. When AccessKeyID is empty the default AWS
	// credential chain (env, shared config, instance role) is used.
	AccessKeyID     string
	SecretAccessKey string

	// RoleARN, when set, is assumed through STS on top of the base credentials.
	RoleARN string

	PathStyle bool

	// MaxAttempts bounds SDK retries of transient errors. 0 uses DefaultMaxAttempts.
	MaxAttempts int
}

func (c *Config) cacheKey() string {
	return fmt.Sprintf("%s|%s|%s|%s|%t", c.Endpoint, c.Region, c.AccessKeyID, c.RoleARN, c.PathStyle)
}

// Pool manages a pool of S3 clients for different endpoints.
// Clients are cached by their connection settings for connection reuse.
type Pool struct {
	mu      sync.RWMutex
	clients map[string]*s3.Client
	configs map[string]aws.Config
	timeout time.Duration
	maxIdle int

	// Shared HTTP client for connection reuse. The SDK derives its own copy
	// from it when AWS_CA_BUNDLE is set.
	httpClient *awshttp.BuildableClient
}

// NewPool creates a new client pool with the given timeout and max idle connections.
func NewPool(timeout time.Duration, maxIdleConns int) *Pool {
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	if maxIdleConns == 0 {
		maxIdleConns = 100
	}

	return &Pool{
		clients: make(map[string]*s3.Client),
		configs: make(map[string]aws.Config),
		timeout: timeout,
		maxIdle: maxIdleConns,
		httpClient: awshttp.NewBuildableClient().
			WithTimeout(timeout).
			WithTransportOptions(func(tr *http.Transport) {
				tr.MaxIdleConns = maxIdleConns
				tr.MaxIdleConnsPerHost = max(maxIdleConns/10, 1) // 10% per host
				tr.IdleConnTimeout = 90 * time.Second
			}),
	}
}

// GetClient returns an S3 client configured for the given config.
func (p *Pool) GetClient(ctx context.Context, cfg *Config) (*s3.Client, error) {
	key := cfg.cacheKey()

	p.mu.RLock()
	client, exists := p.clients[key]
	p.mu.RUnlock()
	if exists {
		return client, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	if client, exists := p.clients[key]; exists {
		return client, nil
	}

	awsCfg, err := p.awsConfigLocked(ctx, cfg)
	if err != nil {
		return nil, err
	}

	opts := []func(*s3.Options){
		func(o *s3.Options) {
			o.UsePathStyle = cfg.PathStyle
		},
	}
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	client = s3.NewFromConfig(awsCfg, opts...)
	p.clients[key] = client

	logger.Debug().
		Str("endpoint", cfg.Endpoint).
		Str("region", cfg.Region).
		Bool("assume_role", cfg.RoleARN != "").
		Msg("Created new S3 client")

	return client, nil
}

// GetKMSClient returns a KMS client sharing the credentials and region of cfg.
// KMS always talks to AWS; the S3 endpoint override does not apply.
func (p *Pool) GetKMSClient(ctx context.Context, cfg *Config) (*kms.Client, error) {
	p.mu.Lock()
	awsCfg, err := p.awsConfigLocked(ctx, cfg)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return kms.NewFromConfig(awsCfg), nil
}

// awsConfigLocked loads (or returns the cached) aws.Config for cfg. p.mu must be held.
func (p *Pool) awsConfigLocked(ctx context.Context, cfg *Config) (aws.Config, error) {
	key := cfg.cacheKey()
	if awsCfg, ok := p.configs[key]; ok {
		return awsCfg, nil
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithHTTPClient(p.httpClient),
		config.WithRetryMode(aws.RetryModeStandard),
		config.WithRetryMaxAttempts(maxAttempts),
	}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				"", // session token (empty for permanent credentials)
			),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}

	if cfg.RoleARN != "" {
		stsClient := sts.NewFromConfig(awsCfg)
		awsCfg.Credentials = aws.NewCredentialsCache(
			stscreds.NewAssumeRoleProvider(stsClient, cfg.RoleARN, func(o *stscreds.AssumeRoleOptions) {
				o.RoleSessionName = "s3clone"
			}),
		)
	}

	p.configs[key] = awsCfg
	return awsCfg, nil
}

// Close closes the client pool and releases resources.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, cfg := range p.configs {
		// A CA bundle makes the SDK use a derived client with its own transport.
		if c, ok := cfg.HTTPClient.(interface{ CloseIdleConnections() }); ok {
			c.CloseIdleConnections()
		}
	}
	p.clients = make(map[string]*s3.Client)
	p.configs = make(map[string]aws.Config)
	p.httpClient.CloseIdleConnections()

	return nil
}
