// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"errors"
	"strings"
)

// Op names a Store operation in errors, logs and metrics.
type Op string

const (
	OpHeadBucket   Op = "head_bucket"
	OpListKeys     Op = "list_keys"
	OpListVersions Op = "list_versions"
	OpGetTags      Op = "get_tags"
	OpGetACL       Op = "get_acl"
	OpCopyVersion  Op = "copy_version"
	OpPutACL       Op = "put_acl"
)

// Error is returned by every Store implementation.
type Error struct {
	Op        Op
	Bucket    string
	Key       string
	VersionID string

	// Transient is set when the failure was retryable (throttling, timeouts,
	// 5xx). Implementations have already retried by the time it is returned.
	Transient bool

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Op))
	if e.Bucket != "" {
		b.WriteString(" ")
		b.WriteString(e.Bucket)
		if e.Key != "" {
			b.WriteString("/")
			b.WriteString(e.Key)
		}
	}
	if e.VersionID != "" {
		b.WriteString(" (version ")
		b.WriteString(e.VersionID)
		b.WriteString(")")
	}
	if e.Transient {
		b.WriteString(" [transient]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err wraps a transient *Error.
func IsTransient(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Transient
}
