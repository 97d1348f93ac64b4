// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package replication

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/s3clone/pkg/store"
	"github.com/LeeDigitalWorks/s3clone/pkg/store/memory"
	"github.com/LeeDigitalWorks/s3clone/pkg/tagging"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDriver(st store.Store, mutate ...func(*DriverConfig)) *Driver {
	cfg := DriverConfig{
		Options: Options{SourceBucket: "src", DestBucket: "dst", Logger: quietLogger()},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return NewDriver(st, cfg)
}

func TestRun_GetACLFailureDoesNotFailRun(t *testing.T) {
	t.Parallel()

	st, v1, _ := newFileStore(t)
	st.InjectFault(memory.Fault{Op: store.OpGetACL, VersionID: v1, Err: errors.New("denied")})

	summary, err := newTestDriver(st).Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, summary.Copied)
	assert.EqualValues(t, 1, summary.Failed)
	assert.EqualValues(t, 1, summary.KeysProcessed)
	assert.Zero(t, summary.KeysFailed)
	assert.True(t, summary.HasFailures())
	assert.NotEmpty(t, summary.RunID)
}

func TestRun_DryRun(t *testing.T) {
	t.Parallel()

	st, _, _ := newFileStore(t)
	st.PutVersion("src", "other.txt", jan3, nil, nil)

	summary, err := newTestDriver(st, func(c *DriverConfig) { c.DryRun = true }).Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, summary.SkippedDryRun)
	assert.Zero(t, summary.Copied)
	assert.EqualValues(t, 2, summary.KeysProcessed)
	assert.False(t, summary.HasFailures())
	assert.Empty(t, st.MutatingCalls())
}

func TestRun_BucketInaccessible(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		setup    func(*memory.Store)
		wantRole string
		wantErr  error
	}{
		{
			name:     "missing source",
			setup:    func(s *memory.Store) { s.CreateBucket("dst", true) },
			wantRole: "source",
		},
		{
			name:     "missing destination",
			setup:    func(s *memory.Store) { s.CreateBucket("src", true) },
			wantRole: "destination",
		},
		{
			name: "head bucket error",
			setup: func(s *memory.Store) {
				s.CreateBucket("src", true)
				s.CreateBucket("dst", true)
				s.InjectFault(memory.Fault{Op: store.OpHeadBucket, Bucket: "dst", Err: errTimeout})
			},
			wantRole: "destination",
			wantErr:  errTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			st := memory.New()
			tt.setup(st)

			summary, err := newTestDriver(st).Run(context.Background())
			assert.Nil(t, summary)
			require.ErrorIs(t, err, ErrBucketInaccessible)

			var bie *BucketInaccessibleError
			require.ErrorAs(t, err, &bie)
			assert.Equal(t, tt.wantRole, bie.Role)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Empty(t, st.CallsFor(store.OpListKeys))
			assert.Empty(t, st.MutatingCalls())
		})
	}
}

var errTimeout = errors.New("i/o timeout")

func TestRun_IntegrityErrorSkipsKey(t *testing.T) {
	t.Parallel()

	st, _, _ := newFileStore(t)
	st.AddVersion("src", store.ObjectVersion{Key: "broken", VersionID: "x", LastModified: jan1}, nil, nil)
	st.PutVersion("src", "after.txt", jan1, nil, nil)

	summary, err := newTestDriver(st).Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, summary.KeysProcessed)
	assert.EqualValues(t, 1, summary.KeysFailed)
	assert.EqualValues(t, 3, summary.Copied)
	assert.Empty(t, st.Versions("dst", "broken"))
	assert.Len(t, st.Versions("dst", "after.txt"), 1)
}

func TestRun_ListKeysFailureMarksIncomplete(t *testing.T) {
	t.Parallel()

	st := memory.New()
	st.CreateBucket("src", true)
	st.CreateBucket("dst", true)
	st.PutVersion("src", "a", jan1, nil, nil)
	st.PutVersion("src", "b", jan1, nil, nil)
	st.InjectFault(memory.Fault{Op: store.OpListKeys, Key: "b", Err: errors.New("throttled")})

	summary, err := newTestDriver(st).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Incomplete)
	assert.EqualValues(t, 1, summary.KeysProcessed)
	assert.EqualValues(t, 1, summary.Copied)
	assert.True(t, summary.HasFailures())
}

func TestRun_Prefix(t *testing.T) {
	t.Parallel()

	st := memory.New()
	st.CreateBucket("src", true)
	st.CreateBucket("dst", true)
	st.PutVersion("src", "logs/a", jan1, nil, nil)
	st.PutVersion("src", "data/b", jan1, nil, nil)

	summary, err := newTestDriver(st, func(c *DriverConfig) { c.Prefix = "logs/" }).Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, summary.KeysProcessed)
	assert.Len(t, st.Versions("dst", "logs/a"), 1)
	assert.Empty(t, st.Versions("dst", "data/b"))
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	t.Parallel()

	st, _, _ := newFileStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := newTestDriver(st).Run(ctx)
	require.NoError(t, err)
	assert.True(t, summary.Incomplete)
	assert.Zero(t, summary.KeysProcessed)
	assert.Empty(t, st.MutatingCalls())
}

func TestRun_CancelStopsAtKeyBoundary(t *testing.T) {
	t.Parallel()

	mem := memory.New()
	mem.CreateBucket("src", true)
	mem.CreateBucket("dst", true)
	a1 := mem.PutVersion("src", "a", jan1, nil, nil)
	a2 := mem.PutVersion("src", "a", jan2, nil, nil)
	mem.PutVersion("src", "b", jan1, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := &cancelOnCopy{Store: mem, versionID: a1, cancel: cancel}

	summary, err := newTestDriver(st).Run(ctx)
	require.NoError(t, err)
	assert.True(t, summary.Incomplete)
	assert.EqualValues(t, 1, summary.KeysProcessed)
	assert.EqualValues(t, 2, summary.Copied)
	assert.Equal(t, []string{a1, a2}, copiedIDs(mem.Calls()), "key a finished, key b never started")
}

func TestRun_RateLimit(t *testing.T) {
	t.Parallel()

	st := memory.New()
	st.CreateBucket("src", true)
	st.CreateBucket("dst", true)
	for i := range 5 {
		st.PutVersion("src", fmt.Sprintf("k%d", i), jan1, nil, nil)
	}

	summary, err := newTestDriver(st, func(c *DriverConfig) { c.RateLimit = 1000 }).Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 5, summary.Copied)
}

// TestRun_OrderingProperty replicates many randomly shaped keys in parallel
// and checks, per key, that exactly the in-window versions were copied once
// and that the latest one was copied after all the others.
func TestRun_OrderingProperty(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(7, 11))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	start := base.Add(10 * 24 * time.Hour)
	end := base.Add(20 * 24 * time.Hour)

	st := memory.New()
	st.CreateBucket("src", true)
	st.CreateBucket("dst", true)
	const keys = 60
	for k := range keys {
		n := 1 + rng.IntN(6)
		for range n {
			lm := base.Add(time.Duration(rng.IntN(30*24)) * time.Hour)
			if rng.IntN(8) == 0 {
				lm = start // exactly on the bound
			}
			st.PutVersion("src", fmt.Sprintf("key-%03d", k), lm, nil, nil)
		}
	}

	summary, err := newTestDriver(st, func(c *DriverConfig) {
		c.Window = mustWindow(t, start.Format(time.RFC3339), end.Format(time.RFC3339))
		c.Concurrency = 4
	}).Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, keys, summary.KeysProcessed)
	assert.Zero(t, summary.Failed)

	copies := make(map[string][]string)
	for _, c := range st.CallsFor(store.OpCopyVersion) {
		copies[c.Key] = append(copies[c.Key], c.VersionID)
	}

	var total int64
	for k := range keys {
		key := fmt.Sprintf("key-%03d", k)
		var want []string
		var latest string
		for _, v := range st.Versions("src", key) {
			if v.LastModified.After(start) && v.LastModified.Before(end) {
				want = append(want, v.VersionID)
				if v.IsLatest {
					latest = v.VersionID
				}
			}
		}
		got := copies[key]
		total += int64(len(got))

		assert.ElementsMatch(t, want, got, key)
		if latest != "" {
			require.NotEmpty(t, got, key)
			assert.Equal(t, latest, got[len(got)-1], "%s: latest must be copied last", key)
			assert.Equal(t, 1, countOf(got, latest), key)

			cur, ok := st.Current("dst", key)
			require.True(t, ok, key)
			assert.True(t, slices.Contains(st.Tags("dst", key, cur.VersionID),
				store.Tag{Key: tagging.KeySourceVersionID, Value: latest}), key)
		}
	}
	assert.Equal(t, total, summary.Copied)
}

func countOf(s []string, v string) int {
	n := 0
	for _, x := range s {
		if x == v {
			n++
		}
	}
	return n
}

// Not parallel: reads global counters.
func TestRun_Metrics(t *testing.T) {
	copied := testutil.ToFloat64(VersionsTotal.WithLabelValues("copied"))
	failed := testutil.ToFloat64(VersionsTotal.WithLabelValues("failed"))
	aclFailures := testutil.ToFloat64(CopyFailuresTotal.WithLabelValues(string(StageGetACL)))
	keysOK := testutil.ToFloat64(KeysTotal.WithLabelValues("ok"))
	bytes := testutil.ToFloat64(BytesCopiedTotal)

	st, v1, _ := newFileStore(t)
	st.InjectFault(memory.Fault{Op: store.OpGetACL, VersionID: v1, Err: errors.New("denied")})

	_, err := newTestDriver(st).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, copied+1, testutil.ToFloat64(VersionsTotal.WithLabelValues("copied")))
	assert.Equal(t, failed+1, testutil.ToFloat64(VersionsTotal.WithLabelValues("failed")))
	assert.Equal(t, aclFailures+1, testutil.ToFloat64(CopyFailuresTotal.WithLabelValues(string(StageGetACL))))
	assert.Equal(t, keysOK+1, testutil.ToFloat64(KeysTotal.WithLabelValues("ok")))
	assert.Equal(t, bytes+float64(len("file.txt")), testutil.ToFloat64(BytesCopiedTotal))
	assert.Zero(t, testutil.ToFloat64(WorkersActive))
}

func TestRun_VersionLogsCarryRunID(t *testing.T) {
	t.Parallel()

	st := memory.New()
	st.CreateBucket("src", true)
	st.CreateBucket("dst", true)
	st.PutVersion("src", "a", jan1, nil, nil)
	st.PutVersion("src", "a", jan2, nil, nil)

	var buf bytes.Buffer
	l := zerolog.New(zerolog.SyncWriter(&buf))
	d := newTestDriver(st, func(c *DriverConfig) { c.Logger = &l })

	summary, err := d.Run(context.Background())
	require.NoError(t, err)

	var copied int
	for line := range strings.Lines(buf.String()) {
		if !strings.Contains(line, `"message":"copied version"`) {
			continue
		}
		copied++
		assert.Contains(t, line, `"run_id":"`+summary.RunID+`"`)
		assert.Contains(t, line, `"key":"a"`)
	}
	assert.Equal(t, 2, copied)
}
