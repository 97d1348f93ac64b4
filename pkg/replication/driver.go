// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package replication

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/s3clone/pkg/logger"
	"github.com/LeeDigitalWorks/s3clone/pkg/store"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DriverConfig configures a Driver.
type DriverConfig struct {
	Options

	// Prefix restricts the run to keys starting with it.
	Prefix string

	// Concurrency is the number of keys replicated in parallel. Each key is
	// always handled by a single worker. Values below 1 mean 1.
	Concurrency int

	// RateLimit caps the number of keys started per second. 0 disables it.
	RateLimit int
}

// Summary aggregates the outcomes of a run.
type Summary struct {
	RunID string

	Copied        int64
	SkippedFilter int64
	SkippedDryRun int64
	Failed        int64
	Cancelled     int64

	KeysProcessed int64
	// KeysFailed counts keys that could not be processed at all (listing
	// failures, integrity errors). Failed versions are counted in Failed.
	KeysFailed int64

	BytesCopied int64

	// Incomplete is set when key enumeration stopped early because it failed
	// or the run was cancelled.
	Incomplete bool

	Duration time.Duration
}

// HasFailures reports whether anything in the run did not go through.
func (s *Summary) HasFailures() bool {
	return s.Failed > 0 || s.KeysFailed > 0 || s.Cancelled > 0 || s.Incomplete
}

func (s *Summary) add(outcomes []Outcome) {
	for _, o := range outcomes {
		switch o.Status {
		case StatusCopied:
			s.Copied++
			s.BytesCopied += o.Version.Size
		case StatusSkippedByFilter:
			s.SkippedFilter++
		case StatusSkippedDryRun:
			s.SkippedDryRun++
		case StatusFailed:
			s.Failed++
		case StatusCancelled:
			s.Cancelled++
		}
	}
}

// Driver runs the engine over every key of the source bucket.
type Driver struct {
	store store.Store
	cfg   DriverConfig
}

// NewDriver creates a driver. Nothing is contacted until Run.
func NewDriver(st store.Store, cfg DriverConfig) *Driver {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Driver{
		store: st,
		cfg:   cfg,
	}
}

// Run checks that both buckets are accessible and replicates every source
// key. The only error it returns is a *BucketInaccessibleError; failures of
// single versions or keys are logged and counted in the Summary.
func (d *Driver) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	summary := &Summary{RunID: uuid.NewString()}

	log := d.cfg.loggerFor(ctx).With().
		Str("run_id", summary.RunID).
		Str("src_bucket", d.cfg.SourceBucket).
		Str("dst_bucket", d.cfg.DestBucket).
		Bool("dry_run", d.cfg.DryRun).
		Logger()

	if err := d.checkBucket(ctx, d.cfg.SourceBucket, "source"); err != nil {
		return nil, err
	}
	if err := d.checkBucket(ctx, d.cfg.DestBucket, "destination"); err != nil {
		return nil, err
	}

	log.Info().
		Stringer("window", d.cfg.Window).
		Str("prefix", d.cfg.Prefix).
		Int("concurrency", d.cfg.Concurrency).
		Int("rate_limit", d.cfg.RateLimit).
		Msg("starting replication run")

	ctx = logger.WithLogger(ctx, &log)
	opts := d.cfg.Options
	opts.Logger = nil
	engine := NewEngine(d.store, opts)

	var limiter *rate.Limiter
	if d.cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(d.cfg.RateLimit), 1)
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		keys = make(chan string)
	)
	markIncomplete := func() {
		mu.Lock()
		summary.Incomplete = true
		mu.Unlock()
	}

	for range d.cfg.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for key := range keys {
				if ctx.Err() != nil {
					markIncomplete()
					continue
				}
				outcomes, err := d.replicateKey(ctx, engine, key)

				mu.Lock()
				summary.KeysProcessed++
				if err != nil {
					summary.KeysFailed++
				}
				summary.add(outcomes)
				mu.Unlock()

				if err != nil {
					logKeyError(log, key, err)
				}
			}
		}()
	}

enumerate:
	for key, err := range d.store.ListKeys(ctx, d.cfg.SourceBucket, d.cfg.Prefix) {
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Msg("failed to list source keys, stopping")
				sentry.CaptureException(err)
			}
			markIncomplete()
			break
		}
		if ctx.Err() != nil {
			markIncomplete()
			break
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				markIncomplete()
				break
			}
		}
		select {
		case keys <- key:
		case <-ctx.Done():
			markIncomplete()
			break enumerate
		}
	}
	close(keys)
	wg.Wait()

	summary.Duration = time.Since(start)

	event := log.Info()
	if summary.Incomplete {
		event = log.Warn()
	}
	event.
		Int64("keys_processed", summary.KeysProcessed).
		Int64("keys_failed", summary.KeysFailed).
		Int64("copied", summary.Copied).
		Int64("skipped_filter", summary.SkippedFilter).
		Int64("skipped_dry_run", summary.SkippedDryRun).
		Int64("failed", summary.Failed).
		Int64("cancelled", summary.Cancelled).
		Int64("bytes_copied", summary.BytesCopied).
		Bool("incomplete", summary.Incomplete).
		Dur("duration", summary.Duration).
		Msg("replication run finished")

	return summary, nil
}

func (d *Driver) replicateKey(ctx context.Context, engine *Engine, key string) ([]Outcome, error) {
	WorkersActive.Inc()
	defer WorkersActive.Dec()

	timer := prometheus.NewTimer(KeyDuration)
	defer timer.ObserveDuration()

	outcomes, err := engine.ReplicateKey(ctx, key)
	if err != nil {
		KeysTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	KeysTotal.WithLabelValues("ok").Inc()
	return outcomes, nil
}

func (d *Driver) checkBucket(ctx context.Context, bucket, role string) error {
	ok, err := d.store.BucketAccessible(ctx, bucket)
	if err != nil || !ok {
		return &BucketInaccessibleError{Bucket: bucket, Role: role, Err: err}
	}
	return nil
}

func logKeyError(log zerolog.Logger, key string, err error) {
	event := log.Error().Err(err).Str("key", key)
	var ie *IntegrityError
	if errors.As(err, &ie) {
		event = event.Int("latest_count", ie.LatestCount)
	}
	event.Msg("failed to replicate key, skipping")

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("key", key)
		sentry.CaptureException(err)
	})
}
