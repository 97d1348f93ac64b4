// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package replication copies the version history of every key from a source
// bucket into a destination bucket. Copy order is the only way to choose
// which version ends up current in the destination, so for each key every
// non-latest version is copied before the latest one.
package replication

import (
	"context"
	"errors"
	"fmt"

	"github.com/LeeDigitalWorks/s3clone/pkg/logger"
	"github.com/LeeDigitalWorks/s3clone/pkg/store"
	"github.com/LeeDigitalWorks/s3clone/pkg/tagging"
	"github.com/LeeDigitalWorks/s3clone/pkg/window"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
)

// Options configures an Engine.
type Options struct {
	SourceBucket string
	DestBucket   string

	// Window restricts which versions are copied. The zero value copies all.
	Window window.Window

	// DryRun logs every copy that would be made instead of making it.
	DryRun bool

	// SSEKMSKeyID, when set, encrypts every copy with this KMS key.
	SSEKMSKeyID string

	// Logger, when nil, is taken from the context of each call
	// (logger.Ctx), which falls back to the global logger.
	Logger *zerolog.Logger
}

// Engine replicates the versions of one key at a time.
type Engine struct {
	store store.Store
	opts  Options
}

// NewEngine creates an engine copying from opts.SourceBucket to opts.DestBucket.
func NewEngine(st store.Store, opts Options) *Engine {
	return &Engine{
		store: st,
		opts:  opts,
	}
}

func (o *Options) loggerFor(ctx context.Context) *zerolog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return logger.Ctx(ctx)
}

// ReplicateKey copies the in-window versions of key. Non-latest versions are
// processed in the order the backend lists them, then the latest version,
// whatever happened to the others. A failure on one version is reported in
// its Outcome and does not stop the rest.
//
// The returned error is key-level: the versions could not be listed or the
// key does not have exactly one latest version (*IntegrityError). Nothing is
// copied in that case.
//
// If ctx is cancelled while the key is in progress, the remaining non-latest
// versions are reported as StatusCancelled and the latest version is still
// processed, so the destination is never left with older copies applied but
// the latest missing.
func (e *Engine) ReplicateKey(ctx context.Context, key string) ([]Outcome, error) {
	log := e.opts.loggerFor(ctx).With().Str("key", key).Logger()

	nonLatest, latest, err := e.partition(ctx, key)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Int("non_latest", len(nonLatest)).
		Str("latest_version_id", latest.VersionID).
		Msg("replicating key")

	outcomes := make([]Outcome, 0, len(nonLatest)+1)
	for i, v := range nonLatest {
		if err := ctx.Err(); err != nil {
			log.Warn().
				Int("skipped", len(nonLatest)-i).
				Msg("run cancelled, skipping remaining older versions")
			for _, rest := range nonLatest[i:] {
				outcomes = append(outcomes, e.record(Outcome{Version: rest, Status: StatusCancelled, Err: err}))
			}
			break
		}
		outcomes = append(outcomes, e.replicateVersion(ctx, log, v))
	}

	outcomes = append(outcomes, e.replicateVersion(context.WithoutCancel(ctx), log, latest))
	return outcomes, nil
}

// partition drains the version listing of key and splits off the single
// latest version.
func (e *Engine) partition(ctx context.Context, key string) ([]store.ObjectVersion, store.ObjectVersion, error) {
	var (
		nonLatest []store.ObjectVersion
		latest    store.ObjectVersion
		count     int
	)
	for v, err := range e.store.ListVersions(ctx, e.opts.SourceBucket, key) {
		if err != nil {
			return nil, store.ObjectVersion{}, fmt.Errorf("list versions: %w", err)
		}
		if v.IsLatest {
			latest = v
			count++
			continue
		}
		nonLatest = append(nonLatest, v)
	}
	if count != 1 {
		return nil, store.ObjectVersion{}, &IntegrityError{Key: key, LatestCount: count}
	}
	return nonLatest, latest, nil
}

func (e *Engine) replicateVersion(ctx context.Context, log zerolog.Logger, v store.ObjectVersion) Outcome {
	vlog := log.With().
		Str("version_id", v.VersionID).
		Time("last_modified", v.LastModified).
		Bool("is_latest", v.IsLatest).
		Logger()

	if !e.opts.Window.Include(v.LastModified) {
		vlog.Debug().Stringer("window", e.opts.Window).Msg("version outside time window, skipping")
		return e.record(Outcome{Version: v, Status: StatusSkippedByFilter})
	}

	if e.opts.DryRun {
		vlog.Info().
			Str("src_bucket", e.opts.SourceBucket).
			Str("dst_bucket", e.opts.DestBucket).
			Str("storage_class", v.StorageClass).
			Msg("dry run: would copy version")
		return e.record(Outcome{Version: v, Status: StatusSkippedDryRun})
	}

	newID, err := e.copyVersion(ctx, v)
	if err != nil {
		vlog.Error().Err(err).Msg("failed to copy version")
		captureCopyError(err)
		return e.record(Outcome{Version: v, Status: StatusFailed, Err: err})
	}

	vlog.Info().
		Str("new_version_id", newID).
		Str("storage_class", v.StorageClass).
		Int64("size", v.Size).
		Msg("copied version")
	return e.record(Outcome{Version: v, Status: StatusCopied, NewVersionID: newID})
}

// copyVersion fetches the tags and ACL of v, copies it with the provenance
// tag set and applies the ACL to the new destination version.
func (e *Engine) copyVersion(ctx context.Context, v store.ObjectVersion) (string, error) {
	fail := func(stage Stage, err error) (string, error) {
		return "", &VersionCopyError{Key: v.Key, VersionID: v.VersionID, Stage: stage, Err: err}
	}

	tags, err := e.store.GetTags(ctx, e.opts.SourceBucket, v.Key, v.VersionID)
	if err != nil {
		return fail(StageGetTags, err)
	}

	acl, err := e.store.GetACL(ctx, e.opts.SourceBucket, v.Key, v.VersionID)
	if err != nil {
		return fail(StageGetACL, err)
	}

	newID, err := e.store.CopyVersion(ctx, store.CopyRequest{
		SourceBucket: e.opts.SourceBucket,
		Key:          v.Key,
		VersionID:    v.VersionID,
		DestBucket:   e.opts.DestBucket,
		StorageClass: v.StorageClass,
		Tags:         tagging.BuildTagSet(e.opts.SourceBucket, v, tags),
		SSEKMSKeyID:  e.opts.SSEKMSKeyID,
	})
	if err != nil {
		return fail(StageCopy, err)
	}

	if err := e.store.PutACL(ctx, e.opts.DestBucket, v.Key, newID, acl); err != nil {
		return fail(StagePutACL, err)
	}
	return newID, nil
}

func (e *Engine) record(o Outcome) Outcome {
	VersionsTotal.WithLabelValues(o.Status.String()).Inc()
	switch o.Status {
	case StatusCopied:
		BytesCopiedTotal.Add(float64(o.Version.Size))
	case StatusFailed:
		var vce *VersionCopyError
		if errors.As(o.Err, &vce) {
			CopyFailuresTotal.WithLabelValues(string(vce.Stage)).Inc()
		}
	}
	return o
}

func captureCopyError(err error) {
	var vce *VersionCopyError
	if !errors.As(err, &vce) {
		sentry.CaptureException(err)
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("stage", string(vce.Stage))
		scope.SetTag("key", vce.Key)
		scope.SetTag("version_id", vce.VersionID)
		scope.SetTag("transient", fmt.Sprint(store.IsTransient(err)))
		sentry.CaptureException(err)
	})
}
