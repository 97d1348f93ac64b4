// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/LeeDigitalWorks/s3clone/pkg/debug"
	"github.com/LeeDigitalWorks/s3clone/pkg/logger"
	"github.com/LeeDigitalWorks/s3clone/pkg/replication"
	"github.com/LeeDigitalWorks/s3clone/pkg/s3client"
	"github.com/LeeDigitalWorks/s3clone/pkg/store"
	"github.com/LeeDigitalWorks/s3clone/pkg/store/s3store"
	"github.com/LeeDigitalWorks/s3clone/pkg/utils"
	"github.com/LeeDigitalWorks/s3clone/pkg/window"

	"github.com/dustin/go-humanize"
	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type CloneOpts struct {
	Src       string
	Dst       string
	StartDate string
	EndDate   string
	LogLevel  string
	DryRun    bool
	Prefix    string

	// Connection
	Endpoint        string
	Region          string
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
	RoleARN         string
	MaxAttempts     int
	Timeout         time.Duration

	SSEKMSKeyID string

	Concurrency int
	RateLimit   int
	DebugPort   int
	Strict      bool

	// Set by Validate.
	window window.Window
	level  zerolog.Level
}

func addCloneFlags(c *cobra.Command) {
	f := c.Flags()
	f.StringP("src", "s", "", "Source bucket (required)")
	f.StringP("dst", "d", "", "Destination bucket (required)")
	f.String("start-date", "", "Only copy versions modified strictly after this ISO-8601 time (UTC if no offset)")
	f.String("end-date", "", "Only copy versions modified strictly before this ISO-8601 time (UTC if no offset)")
	f.StringP("log-level", "l", "INFO", "Log level ("+strings.Join(logger.Levels, ", ")+")")
	f.Bool("dry-run", false, "Log what would be copied without copying anything (--dry-run or --dry-run=true; a separate value such as \"--dry-run true\" is rejected)")
	f.String("prefix", "", "Only copy keys starting with this prefix")

	f.String("endpoint", "", "S3 endpoint URL for S3-compatible services (default AWS)")
	f.String("region", "", "AWS region (default from the AWS config chain)")
	f.Bool("path-style", false, "Use path-style bucket addressing")
	f.String("access-key-id", "", "Static access key (default from the AWS credential chain)")
	f.String("secret-access-key", "", "Static secret key (prefer S3CLONE_SECRET_ACCESS_KEY)")
	f.String("role-arn", "", "IAM role to assume through STS for all S3 calls")
	f.Int("max-attempts", s3client.DefaultMaxAttempts, "Attempts per S3 call, first try included, for throttling and transient errors (1 = no retries)")
	f.Duration("timeout", 15*time.Minute, "HTTP timeout per S3 call")

	f.String("sse-kms-key-id", "", "Encrypt copies with this KMS key (checked before the run)")

	f.Int("concurrency", 1, "Number of keys copied in parallel (versions of one key are always sequential)")
	f.Int("rate-limit", 0, "Maximum keys started per second (0 = unlimited)")
	f.Int("debug-port", 0, "Serve /metrics, /health and pprof on this port (0 = disabled)")
	f.Bool("strict", false, "Exit with status 2 if any version or key failed")
}

func loadCloneOpts(cmd *cobra.Command) CloneOpts {
	f := NewFlagLoader(cmd)

	return CloneOpts{
		Src:             f.String("src"),
		Dst:             f.String("dst"),
		StartDate:       f.String("start-date"),
		EndDate:         f.String("end-date"),
		LogLevel:        f.String("log-level"),
		DryRun:          f.Bool("dry-run"),
		Prefix:          f.String("prefix"),
		Endpoint:        f.String("endpoint"),
		Region:          f.String("region"),
		PathStyle:       f.Bool("path-style"),
		AccessKeyID:     f.String("access-key-id"),
		SecretAccessKey: f.String("secret-access-key"),
		RoleARN:         f.String("role-arn"),
		MaxAttempts:     f.Int("max-attempts"),
		Timeout:         f.Duration("timeout"),
		SSEKMSKeyID:     f.String("sse-kms-key-id"),
		Concurrency:     f.Int("concurrency"),
		RateLimit:       f.Int("rate-limit"),
		DebugPort:       f.Int("debug-port"),
		Strict:          f.Bool("strict"),
	}
}

// Validate checks the options and parses the time window and log level.
func (o *CloneOpts) Validate() error {
	var errs []error
	if o.Src == "" {
		errs = append(errs, errors.New("--src is required"))
	}
	if o.Dst == "" {
		errs = append(errs, errors.New("--dst is required"))
	}
	if o.Src != "" && o.Src == o.Dst {
		errs = append(errs, errors.New("--src and --dst must be different buckets"))
	}

	w, err := window.New(o.StartDate, o.EndDate)
	if err != nil {
		errs = append(errs, fmt.Errorf("invalid time window: %w", err))
	}
	o.window = w

	level, err := logger.ParseLevel(o.LogLevel)
	if err != nil {
		errs = append(errs, fmt.Errorf("--log-level: %w", err))
	}
	o.level = level

	if (o.AccessKeyID == "") != (o.SecretAccessKey == "") {
		errs = append(errs, errors.New("--access-key-id and --secret-access-key must be set together"))
	}
	if o.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("--max-attempts must be at least 1, got %d", o.MaxAttempts))
	}
	if o.Timeout < 0 {
		errs = append(errs, fmt.Errorf("--timeout must not be negative, got %s", o.Timeout))
	}
	if o.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("--concurrency must be at least 1, got %d", o.Concurrency))
	}
	if o.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("--rate-limit must not be negative, got %d", o.RateLimit))
	}
	if o.DebugPort < 0 || o.DebugPort > 65535 {
		errs = append(errs, fmt.Errorf("--debug-port out of range: %d", o.DebugPort))
	}
	return errors.Join(errs...)
}

func (o *CloneOpts) s3Config() *s3client.Config {
	return &s3client.Config{
		Endpoint:        o.Endpoint,
		Region:          o.Region,
		AccessKeyID:     o.AccessKeyID,
		SecretAccessKey: o.SecretAccessKey,
		RoleARN:         o.RoleARN,
		PathStyle:       o.PathStyle,
		MaxAttempts:     o.MaxAttempts,
	}
}

// newStore opens the store a clone runs against. Tests replace it.
var newStore = newS3Store

func newS3Store(ctx context.Context, opts *CloneOpts) (store.Store, func(), error) {
	pool := s3client.NewPool(opts.Timeout, 0)
	cfg := opts.s3Config()

	client, err := pool.GetClient(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("create s3 client: %w", err)
	}

	if opts.SSEKMSKeyID != "" {
		kmsClient, err := pool.GetKMSClient(ctx, cfg)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("create kms client: %w", err)
		}
		if err := s3client.VerifyKMSKey(ctx, kmsClient, opts.SSEKMSKeyID); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info().Str("kms_key_id", opts.SSEKMSKeyID).Msg("KMS key verified")
	}

	return s3store.New(client), func() { pool.Close() }, nil
}

func runClone(cmd *cobra.Command, args []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return &ExitError{Code: ExitFatal, Err: fmt.Errorf("bind flags: %w", err)}
	}
	if _, err := utils.LoadConfiguration("s3clone", false); err != nil {
		return &ExitError{Code: ExitFatal, Err: fmt.Errorf("load config: %w", err)}
	}

	opts := loadCloneOpts(cmd)
	if err := opts.Validate(); err != nil {
		return &ExitError{Code: ExitFatal, Err: err}
	}
	logger.SetLevel(opts.level)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.DebugPort > 0 {
		srv, err := debug.Start("", opts.DebugPort)
		if err != nil {
			logger.Warn().Err(err).Int("debug_port", opts.DebugPort).Msg("failed to start debug server")
		} else {
			defer srv.Shutdown(context.Background())
		}
	}

	st, closeStore, err := newStore(ctx, &opts)
	if err != nil {
		sentry.CaptureException(err)
		return &ExitError{Code: ExitFatal, Err: err}
	}
	defer closeStore()

	driver := replication.NewDriver(st, replication.DriverConfig{
		Options: replication.Options{
			SourceBucket: opts.Src,
			DestBucket:   opts.Dst,
			Window:       opts.window,
			DryRun:       opts.DryRun,
			SSEKMSKeyID:  opts.SSEKMSKeyID,
			Logger:       logger.Global(),
		},
		Prefix:      opts.Prefix,
		Concurrency: opts.Concurrency,
		RateLimit:   opts.RateLimit,
	})

	debug.SetReady()
	defer debug.SetNotReady()

	summary, err := driver.Run(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("replication aborted")
		sentry.CaptureException(err)
		return &ExitError{Code: ExitFatal, Err: err}
	}

	printSummary(cmd.OutOrStdout(), summary, opts.DryRun)

	if opts.Strict && summary.HasFailures() {
		return &ExitError{Code: ExitFailures, Err: fmt.Errorf("run %s finished with failures", summary.RunID)}
	}
	return nil
}

func printSummary(w io.Writer, s *replication.Summary, dryRun bool) {
	title := "Replication summary"
	if dryRun {
		title += " (dry run, nothing was copied)"
	}
	fmt.Fprintln(w, title)
	fmt.Fprintf(w, "  Run ID:            %s\n", s.RunID)
	fmt.Fprintf(w, "  Keys processed:    %s\n", humanize.Comma(s.KeysProcessed))
	fmt.Fprintf(w, "  Keys failed:       %s\n", humanize.Comma(s.KeysFailed))
	fmt.Fprintf(w, "  Versions copied:   %s (%s)\n", humanize.Comma(s.Copied), humanize.Bytes(uint64(max(s.BytesCopied, 0))))
	if dryRun {
		fmt.Fprintf(w, "  Would copy:        %s\n", humanize.Comma(s.SkippedDryRun))
	}
	fmt.Fprintf(w, "  Outside window:    %s\n", humanize.Comma(s.SkippedFilter))
	fmt.Fprintf(w, "  Versions failed:   %s\n", humanize.Comma(s.Failed))
	if s.Cancelled > 0 {
		fmt.Fprintf(w, "  Versions skipped:  %s (cancelled)\n", humanize.Comma(s.Cancelled))
	}
	if s.Incomplete {
		fmt.Fprintln(w, "  Status:            incomplete, not every key was processed")
	}
	fmt.Fprintf(w, "  Duration:          %s\n", s.Duration.Round(time.Millisecond))
}
