// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory provides an in-memory, versioned store.Store. It records
// every call in order and supports fault injection, which makes it suitable
// for exercising replication ordering and failure handling in tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/s3clone/pkg/store"
)

// ErrNoSuchBucket and ErrNoSuchVersion are wrapped in *store.Error.
var (
	ErrNoSuchBucket  = errors.New("no such bucket")
	ErrNoSuchVersion = errors.New("no such version")
)

// Call is one recorded Store invocation.
type Call struct {
	Op        store.Op
	Bucket    string
	Key       string
	VersionID string

	// Copy is set for OpCopyVersion.
	Copy *store.CopyRequest
}

// Fault makes matching calls fail with Err. Empty Bucket, Key or VersionID
// match anything. Times limits how often the fault fires (0 = always).
type Fault struct {
	Op        store.Op
	Bucket    string
	Key       string
	VersionID string
	Err       error
	Transient bool
	Times     int
}

type object struct {
	version store.ObjectVersion
	tags    store.TagSet
	acl     *store.AccessControlPolicy
}

type bucket struct {
	versioned bool
	keys      []string
	// versions per key, oldest first
	objects map[string][]*object
}

// Store is an in-memory store.Store. The zero value is not usable; call New.
type Store struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	calls   []Call
	faults  []*Fault
	seq     int
	now     func() time.Time
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		buckets: make(map[string]*bucket),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// DefaultOwner owns every object that is not given an explicit ACL.
var DefaultOwner = store.Owner{ID: "memory-owner", DisplayName: "memory"}

func defaultACL() *store.AccessControlPolicy {
	owner := DefaultOwner
	return &store.AccessControlPolicy{
		Owner: &owner,
		Grants: []store.Grant{{
			Grantee:    store.Grantee{Type: "CanonicalUser", ID: owner.ID, DisplayName: owner.DisplayName},
			Permission: "FULL_CONTROL",
		}},
	}
}

// CreateBucket adds an empty bucket. Unversioned buckets keep one version per key.
func (s *Store) CreateBucket(name string, versioned bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets[name] = &bucket{versioned: versioned, objects: make(map[string][]*object)}
}

// PutVersion creates a new latest version of key and returns its version id.
// A nil acl gives the object the default owner-only ACL.
func (s *Store) PutVersion(bucketName, key string, lastModified time.Time, tags store.TagSet, acl *store.AccessControlPolicy) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.mustBucket(bucketName)
	s.seq++
	v := store.ObjectVersion{
		Key:          key,
		VersionID:    fmt.Sprintf("ver-%06d", s.seq),
		LastModified: lastModified.UTC(),
		IsLatest:     true,
		StorageClass: "STANDARD",
		Size:         int64(len(key)),
		ETag:         fmt.Sprintf("%q", fmt.Sprintf("etag-%06d", s.seq)),
	}
	s.insertLocked(b, v, tags, acl)
	return v.VersionID
}

// AddVersion appends v exactly as given, without touching the IsLatest flag
// of other versions. It exists to build histories that violate the
// one-latest-per-key invariant.
func (s *Store) AddVersion(bucketName string, v store.ObjectVersion, tags store.TagSet, acl *store.AccessControlPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.mustBucket(bucketName)
	if _, ok := b.objects[v.Key]; !ok {
		b.keys = append(b.keys, v.Key)
	}
	b.objects[v.Key] = append(b.objects[v.Key], &object{version: v, tags: cloneTags(tags), acl: cloneACL(orDefault(acl))})
}

// InjectFault registers a fault.
func (s *Store) InjectFault(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, &f)
}

// Calls returns a copy of every recorded call, in order.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// CallsFor returns the recorded calls of one operation, in order.
func (s *Store) CallsFor(op store.Op) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// MutatingCalls returns the CopyVersion and PutACL calls, in order.
func (s *Store) MutatingCalls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if c.Op == store.OpCopyVersion || c.Op == store.OpPutACL {
			out = append(out, c)
		}
	}
	return out
}

// Versions returns the versions of key, newest first.
func (s *Store) Versions(bucketName, key string) []store.ObjectVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[bucketName]
	if !ok {
		return nil
	}
	objs := b.objects[key]
	out := make([]store.ObjectVersion, 0, len(objs))
	for i := len(objs) - 1; i >= 0; i-- {
		out = append(out, objs[i].version)
	}
	return out
}

// Current returns the latest version of key.
func (s *Store) Current(bucketName, key string) (store.ObjectVersion, bool) {
	for _, v := range s.Versions(bucketName, key) {
		if v.IsLatest {
			return v, true
		}
	}
	return store.ObjectVersion{}, false
}

// Tags returns the stored tags of one version.
func (s *Store) Tags(bucketName, key, versionID string) store.TagSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	if obj := s.findLocked(bucketName, key, versionID); obj != nil {
		return cloneTags(obj.tags)
	}
	return nil
}

// ACL returns the stored ACL of one version.
func (s *Store) ACL(bucketName, key, versionID string) *store.AccessControlPolicy {
	s.mu.Lock()
	defer s.mu.Unlock()
	if obj := s.findLocked(bucketName, key, versionID); obj != nil {
		return cloneACL(obj.acl)
	}
	return nil
}

func (s *Store) BucketAccessible(ctx context.Context, bucketName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.recordLocked(Call{Op: store.OpHeadBucket, Bucket: bucketName}); err != nil {
		return false, err
	}
	_, ok := s.buckets[bucketName]
	return ok, nil
}

// ListKeys yields keys in insertion order. Keys whose versions are all
// non-latest are listed too.
func (s *Store) ListKeys(ctx context.Context, bucketName, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		s.mu.Lock()
		b, ok := s.buckets[bucketName]
		if !ok {
			s.mu.Unlock()
			yield("", &store.Error{Op: store.OpListKeys, Bucket: bucketName, Err: ErrNoSuchBucket})
			return
		}
		keys := slices.Clone(b.keys)
		s.mu.Unlock()

		for _, key := range keys {
			if !strings.HasPrefix(key, prefix) {
				continue
			}
			s.mu.Lock()
			err := s.recordLocked(Call{Op: store.OpListKeys, Bucket: bucketName, Key: key})
			s.mu.Unlock()
			if err != nil {
				yield("", err)
				return
			}
			if !yield(key, nil) {
				return
			}
		}
	}
}

// ListVersions yields the versions of exactly key, newest first.
func (s *Store) ListVersions(ctx context.Context, bucketName, key string) iter.Seq2[store.ObjectVersion, error] {
	return func(yield func(store.ObjectVersion, error) bool) {
		s.mu.Lock()
		if err := s.recordLocked(Call{Op: store.OpListVersions, Bucket: bucketName, Key: key}); err != nil {
			s.mu.Unlock()
			yield(store.ObjectVersion{}, err)
			return
		}
		b, ok := s.buckets[bucketName]
		if !ok {
			s.mu.Unlock()
			yield(store.ObjectVersion{}, &store.Error{Op: store.OpListVersions, Bucket: bucketName, Key: key, Err: ErrNoSuchBucket})
			return
		}
		objs := b.objects[key]
		versions := make([]store.ObjectVersion, 0, len(objs))
		for i := len(objs) - 1; i >= 0; i-- {
			versions = append(versions, objs[i].version)
		}
		s.mu.Unlock()

		for _, v := range versions {
			if !yield(v, nil) {
				return
			}
		}
	}
}

func (s *Store) GetTags(ctx context.Context, bucketName, key, versionID string) (store.TagSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.recordLocked(Call{Op: store.OpGetTags, Bucket: bucketName, Key: key, VersionID: versionID}); err != nil {
		return nil, err
	}
	obj := s.findLocked(bucketName, key, versionID)
	if obj == nil {
		return nil, &store.Error{Op: store.OpGetTags, Bucket: bucketName, Key: key, VersionID: versionID, Err: ErrNoSuchVersion}
	}
	return cloneTags(obj.tags), nil
}

func (s *Store) GetACL(ctx context.Context, bucketName, key, versionID string) (*store.AccessControlPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.recordLocked(Call{Op: store.OpGetACL, Bucket: bucketName, Key: key, VersionID: versionID}); err != nil {
		return nil, err
	}
	obj := s.findLocked(bucketName, key, versionID)
	if obj == nil {
		return nil, &store.Error{Op: store.OpGetACL, Bucket: bucketName, Key: key, VersionID: versionID, Err: ErrNoSuchVersion}
	}
	return cloneACL(obj.acl), nil
}

// CopyVersion copies a source version into the destination as its new latest
// version. The copy gets the default ACL until PutACL is called.
func (s *Store) CopyVersion(ctx context.Context, req store.CopyRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reqCopy := req
	reqCopy.Tags = cloneTags(req.Tags)
	call := Call{Op: store.OpCopyVersion, Bucket: req.DestBucket, Key: req.Key, VersionID: req.VersionID, Copy: &reqCopy}
	if err := s.recordLocked(call); err != nil {
		return "", err
	}

	src := s.findLocked(req.SourceBucket, req.Key, req.VersionID)
	if src == nil {
		return "", &store.Error{Op: store.OpCopyVersion, Bucket: req.SourceBucket, Key: req.Key, VersionID: req.VersionID, Err: ErrNoSuchVersion}
	}
	dst, ok := s.buckets[req.DestBucket]
	if !ok {
		return "", &store.Error{Op: store.OpCopyVersion, Bucket: req.DestBucket, Key: req.Key, Err: ErrNoSuchBucket}
	}

	s.seq++
	v := src.version
	v.VersionID = fmt.Sprintf("ver-%06d", s.seq)
	v.LastModified = s.now()
	v.IsLatest = true
	if req.StorageClass != "" {
		v.StorageClass = req.StorageClass
	}
	s.insertLocked(dst, v, req.Tags, nil)

	if !dst.versioned {
		return "", nil
	}
	return v.VersionID, nil
}

func (s *Store) PutACL(ctx context.Context, bucketName, key, versionID string, acl *store.AccessControlPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.recordLocked(Call{Op: store.OpPutACL, Bucket: bucketName, Key: key, VersionID: versionID}); err != nil {
		return err
	}
	if acl == nil {
		return &store.Error{Op: store.OpPutACL, Bucket: bucketName, Key: key, VersionID: versionID, Err: errors.New("nil access control policy")}
	}
	obj := s.findLocked(bucketName, key, versionID)
	if obj == nil {
		return &store.Error{Op: store.OpPutACL, Bucket: bucketName, Key: key, VersionID: versionID, Err: ErrNoSuchVersion}
	}
	obj.acl = cloneACL(acl)
	return nil
}

func (s *Store) mustBucket(name string) *bucket {
	b, ok := s.buckets[name]
	if !ok {
		panic("memory: unknown bucket " + name)
	}
	return b
}

func (s *Store) insertLocked(b *bucket, v store.ObjectVersion, tags store.TagSet, acl *store.AccessControlPolicy) {
	obj := &object{version: v, tags: cloneTags(tags), acl: cloneACL(orDefault(acl))}

	existing, ok := b.objects[v.Key]
	if !ok {
		b.keys = append(b.keys, v.Key)
	}
	if !b.versioned {
		obj.version.VersionID = "null"
		b.objects[v.Key] = []*object{obj}
		return
	}
	for _, o := range existing {
		o.version.IsLatest = false
	}
	b.objects[v.Key] = append(existing, obj)
}

// findLocked resolves a version. An empty or "null" id resolves to the
// latest version.
func (s *Store) findLocked(bucketName, key, versionID string) *object {
	b, ok := s.buckets[bucketName]
	if !ok {
		return nil
	}
	objs := b.objects[key]
	for i := len(objs) - 1; i >= 0; i-- {
		o := objs[i]
		if versionID == "" || versionID == "null" {
			if o.version.IsLatest || !b.versioned {
				return o
			}
			continue
		}
		if o.version.VersionID == versionID {
			return o
		}
	}
	return nil
}

// recordLocked appends the call and returns the injected fault, if any.
func (s *Store) recordLocked(c Call) error {
	s.calls = append(s.calls, c)
	for _, f := range s.faults {
		if f.Op != c.Op {
			continue
		}
		if f.Bucket != "" && f.Bucket != c.Bucket {
			continue
		}
		if f.Key != "" && f.Key != c.Key {
			continue
		}
		if f.VersionID != "" && f.VersionID != c.VersionID {
			continue
		}
		if f.Times < 0 {
			continue
		}
		if f.Times > 0 {
			f.Times--
			if f.Times == 0 {
				f.Times = -1
			}
		}
		return &store.Error{Op: c.Op, Bucket: c.Bucket, Key: c.Key, VersionID: c.VersionID, Transient: f.Transient, Err: f.Err}
	}
	return nil
}

func orDefault(acl *store.AccessControlPolicy) *store.AccessControlPolicy {
	if acl == nil {
		return defaultACL()
	}
	return acl
}

func cloneTags(tags store.TagSet) store.TagSet {
	if tags == nil {
		return nil
	}
	return slices.Clone(tags)
}

func cloneACL(acl *store.AccessControlPolicy) *store.AccessControlPolicy {
	if acl == nil {
		return nil
	}
	out := &store.AccessControlPolicy{Grants: slices.Clone(acl.Grants)}
	if acl.Owner != nil {
		owner := *acl.Owner
		out.Owner = &owner
	}
	return out
}
