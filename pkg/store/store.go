// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package store defines the object-storage capability the replication engine
// needs, independent of any concrete backend.
package store

import (
	"context"
	"iter"
	"time"
)

// ObjectVersion is one immutable version of a key, as reported by the backend.
type ObjectVersion struct {
	Key          string
	VersionID    string
	LastModified time.Time
	IsLatest     bool
	StorageClass string
	Size         int64
	ETag         string
}

// Tag is a single object tag.
type Tag struct {
	Key   string
	Value string
}

// TagSet is an ordered list of tags belonging to one version.
type TagSet []Tag

// Owner identifies the owner of an object.
type Owner struct {
	ID          string
	DisplayName string
}

// Grantee is the subject of a grant. Type is one of CanonicalUser,
// AmazonCustomerByEmail or Group.
type Grantee struct {
	Type         string
	ID           string
	DisplayName  string
	EmailAddress string
	URI          string
}

// Grant pairs a grantee with a permission (FULL_CONTROL, READ, ...).
type Grant struct {
	Grantee    Grantee
	Permission string
}

// AccessControlPolicy is copied verbatim from a source version to its
// destination copy.
type AccessControlPolicy struct {
	Owner  *Owner
	Grants []Grant
}

// CopyRequest describes a server-side copy of one source version.
type CopyRequest struct {
	SourceBucket string
	Key          string
	VersionID    string
	DestBucket   string

	// StorageClass is applied to the copy verbatim. Empty keeps the backend default.
	StorageClass string

	// Tags fully replace the tag set of the copy.
	Tags TagSet

	// SSEKMSKeyID, when set, encrypts the copy with this KMS key.
	SSEKMSKeyID string
}

// Store is the capability set the replication engine uses. Metadata is always
// copied as-is; only the destination bucket is ever mutated.
type Store interface {
	// BucketAccessible reports whether the bucket exists and can be accessed.
	// A missing or forbidden bucket yields (false, nil).
	BucketAccessible(ctx context.Context, bucket string) (bool, error)

	// ListKeys lazily enumerates the keys of a bucket in backend order.
	ListKeys(ctx context.Context, bucket, prefix string) iter.Seq2[string, error]

	// ListVersions lazily enumerates every version of exactly one key.
	// Delete markers are not included.
	ListVersions(ctx context.Context, bucket, key string) iter.Seq2[ObjectVersion, error]

	GetTags(ctx context.Context, bucket, key, versionID string) (TagSet, error)
	GetACL(ctx context.Context, bucket, key, versionID string) (*AccessControlPolicy, error)

	// CopyVersion copies one source version and returns the version id the
	// destination assigned to the copy (empty for unversioned buckets).
	CopyVersion(ctx context.Context, req CopyRequest) (string, error)

	// PutACL applies an ACL to a destination version.
	PutACL(ctx context.Context, bucket, key, versionID string, acl *AccessControlPolicy) error
}
