/*
Copyright 2025 The llm-d Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics holds the Prometheus collectors of the scorer.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"k8s.io/klog/v2"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

// Query operations.
const (
	OpUnigram     = "unigram"
	OpProbability = "probability"
	OpTrigram     = "trigram"
	OpFingerprint = "trigram_fingerprint"
)

// Fingerprint probe results.
const (
	FingerprintHit      = "hit"
	FingerprintMiss     = "miss"
	FingerprintMismatch = "mismatch"
)

var (
	// Queries counts probability queries by operation.
	Queries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lm", Subsystem: "scorer", Name: "queries_total",
		Help: "Total number of probability queries",
	}, []string{"operation"})

	// FingerprintProbes counts fingerprinted trigram queries by cache result.
	// A mismatch is a supplied fingerprint that did not belong to the
	// queried trigram.
	FingerprintProbes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lm", Subsystem: "fingerprint", Name: "probes_total",
		Help: "Number of fingerprinted trigram queries by cache result",
	}, []string{"result"})

	// QueryLatency logs latency of probability queries.
	QueryLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lm", Subsystem: "scorer", Name: "query_latency_seconds",
		Help:    "Latency of probability queries in seconds",
		Buckets: []float64{1e-7, 5e-7, 1e-6, 5e-6, 1e-5, 5e-5, 1e-4, 1e-3, 1e-2},
	}, []string{"operation"})
)

// Collectors returns a slice of all registered Prometheus collectors.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		Queries, FingerprintProbes, QueryLatency,
	}
}

var registerMetricsOnce = sync.Once{}

// Register registers all metrics with K8s registry.
func Register() {
	registerMetricsOnce.Do(func() {
		metrics.Registry.MustRegister(Collectors()...)
	})
}

// StartMetricsLogging spawns a goroutine that logs current metric values every
// interval until ctx is done.
func StartMetricsLogging(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logMetrics(ctx)
			}
		}
	}()
}

// Snapshot is a point-in-time read of the counters.
type Snapshot struct {
	Queries      map[string]float64
	Fingerprints map[string]float64
	LatencyCount uint64
	LatencySum   float64
}

// Read returns the current counter values.
func Read() (*Snapshot, error) {
	snap := &Snapshot{
		Queries:      make(map[string]float64),
		Fingerprints: make(map[string]float64),
	}

	for _, op := range []string{OpUnigram, OpProbability, OpTrigram, OpFingerprint} {
		var m dto.Metric
		if err := Queries.WithLabelValues(op).Write(&m); err != nil {
			return nil, err
		}
		snap.Queries[op] = m.GetCounter().GetValue()

		var latency dto.Metric
		observer, ok := QueryLatency.WithLabelValues(op).(prometheus.Metric)
		if !ok {
			continue
		}
		if err := observer.Write(&latency); err != nil {
			return nil, err
		}
		snap.LatencyCount += latency.GetHistogram().GetSampleCount()
		snap.LatencySum += latency.GetHistogram().GetSampleSum()
	}

	for _, result := range []string{FingerprintHit, FingerprintMiss, FingerprintMismatch} {
		var m dto.Metric
		if err := FingerprintProbes.WithLabelValues(result).Write(&m); err != nil {
			return nil, err
		}
		snap.Fingerprints[result] = m.GetCounter().GetValue()
	}

	return snap, nil
}

func logMetrics(ctx context.Context) {
	snap, err := Read()
	if err != nil {
		return
	}

	var latencyAvg float64
	if snap.LatencyCount > 0 {
		latencyAvg = snap.LatencySum / float64(snap.LatencyCount)
	}

	klog.FromContext(ctx).WithName("metrics").Info("metrics beat",
		"unigrams", snap.Queries[OpUnigram],
		"probabilities", snap.Queries[OpProbability],
		"trigrams", snap.Queries[OpTrigram],
		"fingerprinted_trigrams", snap.Queries[OpFingerprint],
		"fingerprint_hits", snap.Fingerprints[FingerprintHit],
		"fingerprint_misses", snap.Fingerprints[FingerprintMiss],
		"fingerprint_mismatches", snap.Fingerprints[FingerprintMismatch],
		"latency_count", snap.LatencyCount,
		"latency_avg", latencyAvg,
	)
}
