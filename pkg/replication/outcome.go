// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package replication

import (
	"errors"
	"fmt"

	"github.com/LeeDigitalWorks/s3clone/pkg/store"
)

// Status is the result of processing one version.
type Status int

const (
	StatusCopied Status = iota
	StatusSkippedByFilter
	StatusSkippedDryRun
	StatusFailed
	// StatusCancelled marks non-latest versions left unprocessed because the
	// run was cancelled while their key was in progress.
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusCopied:
		return "copied"
	case StatusSkippedByFilter:
		return "skipped_filter"
	case StatusSkippedDryRun:
		return "skipped_dry_run"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome is the per-version result reported by ReplicateKey.
type Outcome struct {
	Version store.ObjectVersion
	Status  Status

	// Err is a *VersionCopyError when Status is StatusFailed.
	Err error

	// NewVersionID is the destination version id of a successful copy.
	NewVersionID string
}

// Stage names the step of the single-version copy that failed.
type Stage string

const (
	StageGetTags Stage = "get_tags"
	StageGetACL  Stage = "get_acl"
	StageCopy    Stage = "copy"
	StagePutACL  Stage = "put_acl"
)

// VersionCopyError reports a failure copying one version. It never aborts
// the key or the run.
type VersionCopyError struct {
	Key       string
	VersionID string
	Stage     Stage
	Err       error
}

func (e *VersionCopyError) Error() string {
	return fmt.Sprintf("copy %s (version %s): %s: %v", e.Key, e.VersionID, e.Stage, e.Err)
}

func (e *VersionCopyError) Unwrap() error {
	return e.Err
}

// IntegrityError is returned when a key does not have exactly one latest
// version. The key is skipped.
type IntegrityError struct {
	Key         string
	LatestCount int
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("key %s has %d latest versions, want exactly 1", e.Key, e.LatestCount)
}

// ErrBucketInaccessible is matched by every *BucketInaccessibleError.
var ErrBucketInaccessible = errors.New("bucket inaccessible")

// BucketInaccessibleError aborts a run before any key is processed.
type BucketInaccessibleError struct {
	Bucket string
	// Role is "source" or "destination".
	Role string
	// Err is the failure of the accessibility check itself, if any.
	Err error
}

func (e *BucketInaccessibleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s bucket %s: %v: %v", e.Role, e.Bucket, ErrBucketInaccessible, e.Err)
	}
	return fmt.Sprintf("%s bucket %s does not exist or access is denied", e.Role, e.Bucket)
}

func (e *BucketInaccessibleError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrBucketInaccessible, e.Err}
	}
	return []error{ErrBucketInaccessible}
}
