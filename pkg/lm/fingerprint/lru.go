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

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultLRUCacheSize = 1 << 16

// LRUCacheConfig holds the configuration for the LRUCache.
type LRUCacheConfig struct {
	// Size is the maximum number of trigrams kept in the cache.
	Size int `json:"size"`
}

// DefaultLRUCacheConfig returns a default configuration for the LRUCache.
func DefaultLRUCacheConfig() *LRUCacheConfig {
	return &LRUCacheConfig{
		Size: defaultLRUCacheSize,
	}
}

// LRUCache keeps the most recently used trigram probabilities.
type LRUCache struct {
	data *lru.Cache[Fingerprint, *entry]
}

var _ Cache = &LRUCache{}

// NewLRUCache creates a new LRUCache instance.
func NewLRUCache(cfg *LRUCacheConfig) (*LRUCache, error) {
	if cfg == nil {
		cfg = DefaultLRUCacheConfig()
	}

	cache, err := lru.New[Fingerprint, *entry](cfg.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LRU cache: %w", err)
	}

	return &LRUCache{data: cache}, nil
}

// Get returns the probability cached for key under fp.
func (c *LRUCache) Get(fp Fingerprint, key Key) (float64, bool) {
	e, ok := c.data.Get(fp)
	if !ok || !e.matches(fp, key) {
		return 0, false
	}
	return e.logProb, true
}

// Put caches the probability of key under fp.
func (c *LRUCache) Put(fp Fingerprint, key Key, logProb float64) {
	c.data.Add(fp, &entry{fp: fp, key: key, logProb: logProb})
}

// Len returns the number of cached entries.
func (c *LRUCache) Len() int {
	return c.data.Len()
}
