// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	t.Parallel()

	cause := errors.New("access denied")
	err := &Error{
		Op:        OpGetACL,
		Bucket:    "src",
		Key:       "file.txt",
		VersionID: "v1",
		Err:       cause,
	}

	assert.Equal(t, "get_acl src/file.txt (version v1): access denied", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsTransient(err))
}

func TestError_BucketOnly(t *testing.T) {
	t.Parallel()

	err := &Error{Op: OpListKeys, Bucket: "src", Transient: true, Err: errors.New("slow down")}
	assert.Equal(t, "list_keys src [transient]: slow down", err.Error())
}

func TestIsTransient_Wrapped(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("copy: %w", &Error{Op: OpCopyVersion, Transient: true})
	assert.True(t, IsTransient(err))
	assert.False(t, IsTransient(errors.New("plain")))
	assert.False(t, IsTransient(nil))
}
