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
	"math/bits"
	"sync/atomic"
)

const defaultDirectMappedSlots = 1 << 16

// DirectMappedCacheConfig holds the configuration for the DirectMappedCache.
type DirectMappedCacheConfig struct {
	// Slots is the number of cache slots, rounded up to a power of two.
	Slots int `json:"slots"`
}

// DefaultDirectMappedCacheConfig returns the default DirectMappedCache
// configuration.
func DefaultDirectMappedCacheConfig() *DirectMappedCacheConfig {
	return &DirectMappedCacheConfig{
		Slots: defaultDirectMappedSlots,
	}
}

// DirectMappedCache is a fixed-size, lock-free cache. Each fingerprint maps
// to one slot holding a pointer to an immutable entry, so readers see either
// an old complete entry or a new complete entry. Colliding fingerprints
// simply replace each other.
type DirectMappedCache struct {
	slots []atomic.Pointer[entry]
	mask  uint64
}

var _ Cache = &DirectMappedCache{}

// NewDirectMappedCache creates a new DirectMappedCache instance.
func NewDirectMappedCache(cfg *DirectMappedCacheConfig) *DirectMappedCache {
	if cfg == nil {
		cfg = DefaultDirectMappedCacheConfig()
	}

	slots := cfg.Slots
	if slots < 1 {
		slots = defaultDirectMappedSlots
	}
	size := uint64(1) << bits.Len64(uint64(slots-1)) //nolint:gosec // slots is positive

	return &DirectMappedCache{
		slots: make([]atomic.Pointer[entry], size),
		mask:  size - 1,
	}
}

// Get returns the probability cached for key under fp.
func (c *DirectMappedCache) Get(fp Fingerprint, key Key) (float64, bool) {
	e := c.slots[uint64(fp)&c.mask].Load()
	if !e.matches(fp, key) {
		return 0, false
	}
	return e.logProb, true
}

// Put caches the probability of key under fp.
func (c *DirectMappedCache) Put(fp Fingerprint, key Key, logProb float64) {
	c.slots[uint64(fp)&c.mask].Store(&entry{fp: fp, key: key, logProb: logProb})
}

// Len returns the number of occupied slots.
func (c *DirectMappedCache) Len() int {
	n := 0
	for i := range c.slots {
		if c.slots[i].Load() != nil {
			n++
		}
	}
	return n
}

// Slots returns the number of slots.
func (c *DirectMappedCache) Slots() int {
	return len(c.slots)
}
