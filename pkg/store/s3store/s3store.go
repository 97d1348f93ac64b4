// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package s3store implements store.Store on top of the AWS SDK S3 client.
package s3store

import (
	"context"
	"errors"
	"iter"
	"net/url"
	"strings"

	"github.com/LeeDigitalWorks/s3clone/pkg/store"
	"github.com/LeeDigitalWorks/s3clone/pkg/tagging"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// API is the subset of *s3.Client used by Store.
type API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	ListObjectVersions(ctx context.Context, params *s3.ListObjectVersionsInput, optFns ...func(*s3.Options)) (*s3.ListObjectVersionsOutput, error)
	GetObjectTagging(ctx context.Context, params *s3.GetObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.GetObjectTaggingOutput, error)
	GetObjectAcl(ctx context.Context, params *s3.GetObjectAclInput, optFns ...func(*s3.Options)) (*s3.GetObjectAclOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	PutObjectAcl(ctx context.Context, params *s3.PutObjectAclInput, optFns ...func(*s3.Options)) (*s3.PutObjectAclOutput, error)
}

// DefaultPageSize is the MaxKeys used for listings (the S3 maximum).
const DefaultPageSize = 1000

// Store adapts an S3 API client to store.Store.
type Store struct {
	client   API
	pageSize int32
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithPageSize overrides the listing page size. Values outside 1..1000 are ignored.
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 && n <= DefaultPageSize {
			s.pageSize = int32(n)
		}
	}
}

// New wraps an S3 client.
func New(client API, opts ...Option) *Store {
	s := &Store{
		client:   client,
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BucketAccessible issues HeadBucket. Any 4xx (missing bucket, access denied,
// wrong region) means the bucket is not accessible; other failures are returned.
func (s *Store) BucketAccessible(ctx context.Context, bucket string) (bool, error) {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err == nil {
		return true, nil
	}
	if isClientError(err) {
		return false, nil
	}
	return false, s.wrap(store.OpHeadBucket, bucket, "", "", err)
}

// ListKeys pages through ListObjectsV2.
func (s *Store) ListKeys(ctx context.Context, bucket, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		var continuationToken *string
		for {
			input := &s3.ListObjectsV2Input{
				Bucket:            aws.String(bucket),
				MaxKeys:           aws.Int32(s.pageSize),
				ContinuationToken: continuationToken,
			}
			if prefix != "" {
				input.Prefix = aws.String(prefix)
			}

			output, err := s.client.ListObjectsV2(ctx, input)
			if err != nil {
				yield("", s.wrap(store.OpListKeys, bucket, prefix, "", err))
				return
			}

			for _, obj := range output.Contents {
				if !yield(aws.ToString(obj.Key), nil) {
					return
				}
			}

			if !aws.ToBool(output.IsTruncated) || output.NextContinuationToken == nil {
				return
			}
			continuationToken = output.NextContinuationToken
		}
	}
}

// ListVersions pages through ListObjectVersions using the key as prefix and
// keeps only exact key matches. Listings are sorted by key, so paging stops
// as soon as a key sorting after the requested one shows up.
func (s *Store) ListVersions(ctx context.Context, bucket, key string) iter.Seq2[store.ObjectVersion, error] {
	return func(yield func(store.ObjectVersion, error) bool) {
		var keyMarker, versionIDMarker *string
		for {
			output, err := s.client.ListObjectVersions(ctx, &s3.ListObjectVersionsInput{
				Bucket:          aws.String(bucket),
				Prefix:          aws.String(key),
				MaxKeys:         aws.Int32(s.pageSize),
				KeyMarker:       keyMarker,
				VersionIdMarker: versionIDMarker,
			})
			if err != nil {
				yield(store.ObjectVersion{}, s.wrap(store.OpListVersions, bucket, key, "", err))
				return
			}

			for _, v := range output.Versions {
				k := aws.ToString(v.Key)
				if k != key {
					if k > key {
						return
					}
					continue
				}
				if !yield(toObjectVersion(v), nil) {
					return
				}
			}

			if !aws.ToBool(output.IsTruncated) {
				return
			}
			if next := aws.ToString(output.NextKeyMarker); next > key {
				return
			}
			keyMarker = output.NextKeyMarker
			versionIDMarker = output.NextVersionIdMarker
		}
	}
}

func (s *Store) GetTags(ctx context.Context, bucket, key, versionID string) (store.TagSet, error) {
	input := &s3.GetObjectTaggingInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if versionID != "" {
		input.VersionId = aws.String(versionID)
	}

	output, err := s.client.GetObjectTagging(ctx, input)
	if err != nil {
		return nil, s.wrap(store.OpGetTags, bucket, key, versionID, err)
	}

	tags := make(store.TagSet, 0, len(output.TagSet))
	for _, t := range output.TagSet {
		tags = append(tags, store.Tag{Key: aws.ToString(t.Key), Value: aws.ToString(t.Value)})
	}
	return tags, nil
}

func (s *Store) GetACL(ctx context.Context, bucket, key, versionID string) (*store.AccessControlPolicy, error) {
	input := &s3.GetObjectAclInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if versionID != "" {
		input.VersionId = aws.String(versionID)
	}

	output, err := s.client.GetObjectAcl(ctx, input)
	if err != nil {
		return nil, s.wrap(store.OpGetACL, bucket, key, versionID, err)
	}
	return fromS3ACL(output.Owner, output.Grants), nil
}

// CopyVersion performs a server-side CopyObject of one source version with
// the metadata copied and the tag set replaced.
func (s *Store) CopyVersion(ctx context.Context, req store.CopyRequest) (string, error) {
	input := &s3.CopyObjectInput{
		Bucket:            aws.String(req.DestBucket),
		Key:               aws.String(req.Key),
		CopySource:        aws.String(CopySource(req.SourceBucket, req.Key, req.VersionID)),
		MetadataDirective: s3types.MetadataDirectiveCopy,
		TaggingDirective:  s3types.TaggingDirectiveReplace,
		Tagging:           aws.String(tagging.Encode(req.Tags)),
	}
	if req.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(req.StorageClass)
	}
	if req.SSEKMSKeyID != "" {
		input.ServerSideEncryption = s3types.ServerSideEncryptionAwsKms
		input.SSEKMSKeyId = aws.String(req.SSEKMSKeyID)
	}

	output, err := s.client.CopyObject(ctx, input)
	if err != nil {
		return "", s.wrap(store.OpCopyVersion, req.DestBucket, req.Key, req.VersionID, err)
	}
	return aws.ToString(output.VersionId), nil
}

func (s *Store) PutACL(ctx context.Context, bucket, key, versionID string, acl *store.AccessControlPolicy) error {
	if acl == nil {
		return s.wrap(store.OpPutACL, bucket, key, versionID, errors.New("nil access control policy"))
	}

	input := &s3.PutObjectAclInput{
		Bucket:              aws.String(bucket),
		Key:                 aws.String(key),
		AccessControlPolicy: toS3ACL(acl),
	}
	if versionID != "" {
		input.VersionId = aws.String(versionID)
	}

	if _, err := s.client.PutObjectAcl(ctx, input); err != nil {
		return s.wrap(store.OpPutACL, bucket, key, versionID, err)
	}
	return nil
}

func (s *Store) wrap(op store.Op, bucket, key, versionID string, err error) error {
	return &store.Error{
		Op:        op,
		Bucket:    bucket,
		Key:       key,
		VersionID: versionID,
		Transient: IsTransient(err),
		Err:       err,
	}
}

// CopySource renders the x-amz-copy-source value for one version. Key
// segments are percent-encoded ("/" is kept, spaces become %20).
func CopySource(bucket, key, versionID string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = strings.ReplaceAll(url.QueryEscape(seg), "+", "%20")
	}
	src := bucket + "/" + strings.Join(segments, "/")
	if versionID != "" {
		src += "?versionId=" + url.QueryEscape(versionID)
	}
	return src
}

// IsTransient reports whether the SDK considers err retryable.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return retry.IsErrorRetryables(retry.DefaultRetryables).IsErrorRetryable(err) == aws.TrueTernary
}

type httpStatusError interface {
	HTTPStatusCode() int
}

func isClientError(err error) bool {
	var statusErr httpStatusError
	if errors.As(err, &statusErr) {
		code := statusErr.HTTPStatusCode()
		return code >= 300 && code < 500
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchBucket", "Forbidden", "AccessDenied", "PermanentRedirect":
			return true
		}
	}
	return false
}

func toObjectVersion(v s3types.ObjectVersion) store.ObjectVersion {
	ov := store.ObjectVersion{
		Key:          aws.ToString(v.Key),
		VersionID:    aws.ToString(v.VersionId),
		IsLatest:     aws.ToBool(v.IsLatest),
		StorageClass: string(v.StorageClass),
		Size:         aws.ToInt64(v.Size),
		ETag:         aws.ToString(v.ETag),
	}
	if v.LastModified != nil {
		ov.LastModified = v.LastModified.UTC()
	}
	return ov
}

func fromS3ACL(owner *s3types.Owner, grants []s3types.Grant) *store.AccessControlPolicy {
	acl := &store.AccessControlPolicy{
		Grants: make([]store.Grant, 0, len(grants)),
	}
	if owner != nil {
		acl.Owner = &store.Owner{
			ID:          aws.ToString(owner.ID),
			DisplayName: aws.ToString(owner.DisplayName),
		}
	}
	for _, g := range grants {
		grant := store.Grant{Permission: string(g.Permission)}
		if g.Grantee != nil {
			grant.Grantee = store.Grantee{
				Type:         string(g.Grantee.Type),
				ID:           aws.ToString(g.Grantee.ID),
				DisplayName:  aws.ToString(g.Grantee.DisplayName),
				EmailAddress: aws.ToString(g.Grantee.EmailAddress),
				URI:          aws.ToString(g.Grantee.URI),
			}
		}
		acl.Grants = append(acl.Grants, grant)
	}
	return acl
}

func toS3ACL(acl *store.AccessControlPolicy) *s3types.AccessControlPolicy {
	policy := &s3types.AccessControlPolicy{
		Grants: make([]s3types.Grant, 0, len(acl.Grants)),
	}
	if acl.Owner != nil {
		policy.Owner = &s3types.Owner{
			ID:          optString(acl.Owner.ID),
			DisplayName: optString(acl.Owner.DisplayName),
		}
	}
	for _, g := range acl.Grants {
		policy.Grants = append(policy.Grants, s3types.Grant{
			Permission: s3types.Permission(g.Permission),
			Grantee: &s3types.Grantee{
				Type:         s3types.Type(g.Grantee.Type),
				ID:           optString(g.Grantee.ID),
				DisplayName:  optString(g.Grantee.DisplayName),
				EmailAddress: optString(g.Grantee.EmailAddress),
				URI:          optString(g.Grantee.URI),
			},
		})
	}
	return policy
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}
