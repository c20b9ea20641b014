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

package fingerprint_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/llm-d/llm-d-lm-scorer/pkg/lm/fingerprint"
	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/vocab"
)

// waiter is implemented by caches that apply writes asynchronously.
type waiter interface {
	Wait()
}

func flush(cache Cache) {
	if w, ok := cache.(waiter); ok {
		w.Wait()
	}
}

// testCommonCacheBehavior runs the behaviour every Cache must share.
func testCommonCacheBehavior(t *testing.T, cacheFactory func(t *testing.T) Cache) {
	t.Helper()

	t.Run("PutThenGet", func(t *testing.T) {
		cache := cacheFactory(t)
		key := Key{3, 4, 5}
		fp := key.Fingerprint()

		cache.Put(fp, key, -0.25)
		flush(cache)

		got, ok := cache.Get(fp, key)
		require.True(t, ok)
		assert.Equal(t, -0.25, got)
		assert.Equal(t, 1, cache.Len())
	})

	t.Run("MissOnEmpty", func(t *testing.T) {
		cache := cacheFactory(t)
		key := Key{1, 2, 3}
		_, ok := cache.Get(key.Fingerprint(), key)
		assert.False(t, ok)
		assert.Zero(t, cache.Len())
	})

	t.Run("RejectsOtherKeyUnderSameFingerprint", func(t *testing.T) {
		cache := cacheFactory(t)
		key := Key{3, 4, 5}
		fp := key.Fingerprint()
		cache.Put(fp, key, -0.25)
		flush(cache)

		_, ok := cache.Get(fp, Key{3, 4, 6})
		assert.False(t, ok, "a fingerprint must never vouch for a different trigram")
	})

	t.Run("RejectsStaleFingerprint", func(t *testing.T) {
		cache := cacheFactory(t)
		key := Key{3, 4, 5}
		cache.Put(key.Fingerprint(), key, -0.25)
		flush(cache)

		_, ok := cache.Get(Key{7, 7, 7}.Fingerprint(), key)
		assert.False(t, ok)
		_, ok = cache.Get(0, key)
		assert.False(t, ok)
	})

	t.Run("PutIsIdempotent", func(t *testing.T) {
		cache := cacheFactory(t)
		key := Key{0, 1, 2}
		fp := key.Fingerprint()
		for range 3 {
			cache.Put(fp, key, -1.5)
		}
		flush(cache)

		got, ok := cache.Get(fp, key)
		require.True(t, ok)
		assert.Equal(t, -1.5, got)
		assert.Equal(t, 1, cache.Len())
	})

	t.Run("ConcurrentAccess", func(t *testing.T) {
		cache := cacheFactory(t)
		var wg sync.WaitGroup
		for g := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range 500 {
					key := Key{vocab.ID(i % 50), vocab.ID(g), vocab.ID(i % 7)}
					want := -float64(key[0]+key[1]+key[2]) / 10
					fp := key.Fingerprint()
					if got, ok := cache.Get(fp, key); ok {
						assert.Equal(t, want, got)
						continue
					}
					cache.Put(fp, key, want)
				}
			}()
		}
		wg.Wait()
	})
}
