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

package fingerprint

import (
	"fmt"
	"unsafe"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/dustin/go-humanize"
)

const (
	defaultBufferItems = 64 // default buffer size for ristretto
	minNumCounters     = 1024
	// countersPerEntry follows ristretto's advice of tracking ~10x the
	// number of items expected when the cache is full.
	countersPerEntry = 10
)

// entryCost is the approximate footprint of one cached trigram: the entry
// itself plus ristretto's per-item bookkeeping.
var entryCost = int64(unsafe.Sizeof(entry{})) + 48

// CostAwareCacheConfig holds the configuration for the CostAwareCache.
type CostAwareCacheConfig struct {
	// Size is the maximum memory the cache may use.
	// Supports human-readable formats like "64MiB", "500KiB", "1GB", etc.
	Size string `json:"size,omitempty"`
}

// DefaultCostAwareCacheConfig returns the default CostAwareCache
// configuration.
func DefaultCostAwareCacheConfig() *CostAwareCacheConfig {
	return &CostAwareCacheConfig{
		Size: "64MiB",
	}
}

// CostAwareCache bounds the cache by memory rather than entry count and
// admits trigrams by access frequency.
//
// Puts are applied asynchronously: a Get right after a Put may miss. Call
// Wait to flush pending writes.
type CostAwareCache struct {
	data *ristretto.Cache[uint64, *entry]
}

var _ Cache = &CostAwareCache{}

// NewCostAwareCache creates a new CostAwareCache instance.
func NewCostAwareCache(cfg *CostAwareCacheConfig) (*CostAwareCache, error) {
	if cfg == nil {
		cfg = DefaultCostAwareCacheConfig()
	}

	sizeBytes, err := humanize.ParseBytes(cfg.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cost aware cache: %w", err)
	}

	maxCost := int64(sizeBytes) // #nosec G115
	numCounters := max(countersPerEntry*(maxCost/entryCost), minNumCounters)

	cache, err := ristretto.NewCache(&ristretto.Config[uint64, *entry]{
		NumCounters:        numCounters,
		MaxCost:            maxCost,
		BufferItems:        defaultBufferItems,
		IgnoreInternalCost: true,
		Metrics:            true, // needed by Len
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cost aware cache: %w", err)
	}

	return &CostAwareCache{data: cache}, nil
}

// MaxCost returns the configured memory bound in bytes.
func (c *CostAwareCache) MaxCost() int64 {
	return c.data.MaxCost()
}

// Get returns the probability cached for key under fp.
func (c *CostAwareCache) Get(fp Fingerprint, key Key) (float64, bool) {
	e, ok := c.data.Get(uint64(fp))
	if !ok || !e.matches(fp, key) {
		return 0, false
	}
	return e.logProb, true
}

// Put caches the probability of key under fp. The write may be dropped by
// the admission policy.
func (c *CostAwareCache) Put(fp Fingerprint, key Key, logProb float64) {
	c.data.Set(uint64(fp), &entry{fp: fp, key: key, logProb: logProb}, entryCost)
}

// Wait blocks until all pending Puts have been applied.
func (c *CostAwareCache) Wait() {
	c.data.Wait()
}

// Len returns the number of cached entries.
func (c *CostAwareCache) Len() int {
	return int(c.data.Metrics.KeysAdded() - c.data.Metrics.KeysEvicted()) //nolint:gosec // bounded by MaxCost
}

// Close stops the cache's background goroutines.
func (c *CostAwareCache) Close() {
	c.data.Close()
}
