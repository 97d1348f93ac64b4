// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package replication

import (
	"github.com/LeeDigitalWorks/s3clone/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// VersionsTotal counts processed versions by outcome status
	VersionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "s3clone",
		Subsystem: "replication",
		Name:      "versions_total",
		Help:      "Total number of versions processed",
	}, []string{"status"})

	// CopyFailuresTotal counts failed version copies by stage
	CopyFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "s3clone",
		Subsystem: "replication",
		Name:      "copy_failures_total",
		Help:      "Total number of failed version copies",
	}, []string{"stage"})

	// KeysTotal counts processed keys by result
	KeysTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "s3clone",
		Subsystem: "replication",
		Name:      "keys_total",
		Help:      "Total number of keys processed",
	}, []string{"result"}) // result: "ok", "failed"

	// BytesCopiedTotal tracks bytes of successfully copied versions
	BytesCopiedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "s3clone",
		Subsystem: "replication",
		Name:      "bytes_copied_total",
		Help:      "Total size of successfully copied versions",
	})

	// KeyDuration tracks time spent replicating one key
	KeyDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "s3clone",
		Subsystem: "replication",
		Name:      "key_duration_seconds",
		Help:      "Time spent replicating all versions of a key",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
	})

	// WorkersActive tracks keys currently being replicated
	WorkersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "s3clone",
		Subsystem: "replication",
		Name:      "workers_active",
		Help:      "Number of workers currently replicating a key",
	})
)

func init() {
	debug.Registry().MustRegister(
		VersionsTotal,
		CopyFailuresTotal,
		KeysTotal,
		BytesCopiedTotal,
		KeyDuration,
		WorkersActive,
	)
}
