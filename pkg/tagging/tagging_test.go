// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package tagging

import (
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/s3clone/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testVersion = store.ObjectVersion{
	Key:          "file.txt",
	VersionID:    "3HL4kqtJlcpXroDTDmJ+rmSpXd3dIbrHY",
	LastModified: time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("CET", 3600)),
}

func TestBuildTagSet_ProvenanceFirst(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, 7} {
		t.Run(fmt.Sprintf("%d original tags", n), func(t *testing.T) {
			t.Parallel()

			original := make(store.TagSet, 0, n)
			for i := range n {
				original = append(original, store.Tag{Key: fmt.Sprintf("k%d", i), Value: fmt.Sprintf("v%d", i)})
			}

			tags := BuildTagSet("src", testVersion, original)
			require.Len(t, tags, 3+n)
			assert.Equal(t, store.Tag{Key: KeySourceBucket, Value: "src"}, tags[0])
			assert.Equal(t, store.Tag{Key: KeyLastModified, Value: "2024-01-02T02:04:05Z"}, tags[1])
			assert.Equal(t, store.Tag{Key: KeySourceVersionID, Value: testVersion.VersionID}, tags[2])
			assert.Equal(t, original, tags[3:])
		})
	}
}

func TestBuildTagSet_KeepsCollisions(t *testing.T) {
	t.Parallel()

	original := store.TagSet{
		{Key: KeySourceBucket, Value: "older-origin"},
		{Key: "team", Value: "a"},
		{Key: "team", Value: "b"},
	}

	tags := BuildTagSet("src", testVersion, original)
	require.Len(t, tags, 6)
	assert.Equal(t, "src", tags[0].Value)
	assert.Equal(t, "older-origin", tags[3].Value)
	assert.Equal(t, "b", tags[5].Value)
}

func TestBuildTagSet_DoesNotAliasOriginal(t *testing.T) {
	t.Parallel()

	original := store.TagSet{{Key: "a", Value: "1"}}
	tags := BuildTagSet("src", testVersion, original)
	tags[3].Value = "changed"
	assert.Equal(t, "1", original[0].Value)
}

func TestEncode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", Encode(nil))

	tags := BuildTagSet("my bucket", testVersion, store.TagSet{
		{Key: "path", Value: "a/b c"},
		{Key: "expr", Value: "x=1&y=2"},
	})
	encoded := Encode(tags)
	assert.Equal(t,
		"src-bucket-name=my%20bucket&last-modified=2024-01-02T02%3A04%3A05Z&src-object-versionId=3HL4kqtJlcpXroDTDmJ%2BrmSpXd3dIbrHY&path=a%2Fb%20c&expr=x%3D1%26y%3D2",
		encoded)

	values, err := url.ParseQuery(encoded)
	require.NoError(t, err)
	assert.Equal(t, "my bucket", values.Get(KeySourceBucket))
	assert.Equal(t, testVersion.VersionID, values.Get(KeySourceVersionID))
	assert.Equal(t, "x=1&y=2", values.Get("expr"))
}
