// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package tagging builds the tag set written onto every replicated version.
package tagging

import (
	"net/url"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/s3clone/pkg/store"
)

// Provenance tag keys, in the order they are emitted.
const (
	KeySourceBucket    = "src-bucket-name"
	KeyLastModified    = "last-modified"
	KeySourceVersionID = "src-object-versionId"
)

// BuildTagSet returns the provenance tags for v followed by the original tags
// in their original order. Keys are not deduplicated: if an original tag
// reuses a provenance key (or repeats an earlier key) both entries are kept
// and the backend decides. S3 rejects such sets with InvalidTag.
func BuildTagSet(srcBucket string, v store.ObjectVersion, original store.TagSet) store.TagSet {
	tags := make(store.TagSet, 0, 3+len(original))
	tags = append(tags,
		store.Tag{Key: KeySourceBucket, Value: srcBucket},
		store.Tag{Key: KeyLastModified, Value: v.LastModified.UTC().Format(time.RFC3339)},
		store.Tag{Key: KeySourceVersionID, Value: v.VersionID},
	)
	return append(tags, original...)
}

// Encode renders tags in the URL query form used by the x-amz-tagging
// header, preserving order. Spaces are encoded as %20.
func Encode(tags store.TagSet) string {
	var b strings.Builder
	for i, t := range tags {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(escape(t.Key))
		b.WriteByte('=')
		b.WriteString(escape(t.Value))
	}
	return b.String()
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
