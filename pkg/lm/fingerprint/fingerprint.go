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

// Package fingerprint accelerates repeated trigram probes. A Fingerprint is a
// 64-bit hash of an id triple that callers can carry alongside the triple;
// caches index results by it but only ever return an entry after checking
// the exact triple it was computed for.
package fingerprint

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/vocab"
)

// Fingerprint is a cheap-to-compare token for a trigram probe.
type Fingerprint uint64

// Key is the exact trigram a cached probability was computed for.
type Key [3]vocab.ID

// Of returns the fingerprint of the triple (id0, id1, id2): xxhash64 over
// the three ids as little-endian uint32s.
func Of(id0, id1, id2 vocab.ID) Fingerprint {
	var buf [12]byte
	binary.LittleEndian.PutUint32(buf[0:], uint32(id0)) //nolint:gosec // bit reinterpretation
	binary.LittleEndian.PutUint32(buf[4:], uint32(id1)) //nolint:gosec // bit reinterpretation
	binary.LittleEndian.PutUint32(buf[8:], uint32(id2)) //nolint:gosec // bit reinterpretation
	return Fingerprint(xxhash.Sum64(buf[:]))
}

// Fingerprint returns the fingerprint of k.
func (k Key) Fingerprint() Fingerprint {
	return Of(k[0], k[1], k[2])
}

// String returns the fingerprint in hex.
func (f Fingerprint) String() string {
	return fmt.Sprintf("%016x", uint64(f))
}

// entry is an immutable cached result. Caches publish entries whole.
type entry struct {
	fp      Fingerprint
	key     Key
	logProb float64
}

func (e *entry) matches(fp Fingerprint, key Key) bool {
	return e != nil && e.fp == fp && e.key == key
}

// Cache stores trigram probabilities by fingerprint.
//
// Get must only report a hit for an entry that was Put with the same
// fingerprint and the same exact key. Put is idempotent: storing the same
// key twice, concurrently or not, leaves one valid entry. Implementations are
// safe for concurrent use and never expose a partially written entry.
type Cache interface {
	// Get returns the probability cached for key under fp.
	Get(fp Fingerprint, key Key) (float64, bool)
	// Put caches the probability of key under fp. Caches may drop or
	// evict entries at any time.
	Put(fp Fingerprint, key Key, logProb float64)
	// Len returns the number of cached entries.
	Len() int
}

// Config holds the configuration for the fingerprint cache.
// If multiple backends are configured, only the first one will be used.
type Config struct {
	// DirectMappedConfig configures the lock-free direct-mapped cache.
	DirectMappedConfig *DirectMappedCacheConfig `json:"directMappedConfig"`
	// LRUConfig configures the LRU cache.
	LRUConfig *LRUCacheConfig `json:"lruConfig"`
	// CostAwareConfig configures the memory-bounded cache.
	CostAwareConfig *CostAwareCacheConfig `json:"costAwareConfig"`
}

// DefaultConfig returns the default fingerprint cache configuration.
func DefaultConfig() *Config {
	return &Config{
		DirectMappedConfig: DefaultDirectMappedCacheConfig(),
	}
}

// NewCache creates the Cache selected by cfg.
func NewCache(cfg *Config) (Cache, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	switch {
	case cfg.DirectMappedConfig != nil:
		return NewDirectMappedCache(cfg.DirectMappedConfig), nil
	case cfg.LRUConfig != nil:
		cache, err := NewLRUCache(cfg.LRUConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create LRU fingerprint cache: %w", err)
		}
		return cache, nil
	case cfg.CostAwareConfig != nil:
		cache, err := NewCostAwareCache(cfg.CostAwareConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create cost-aware fingerprint cache: %w", err)
		}
		return cache, nil
	default:
		return nil, fmt.Errorf("no valid fingerprint cache configuration provided")
	}
}
