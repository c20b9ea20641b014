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

package ngram_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/llm-d/llm-d-lm-scorer/pkg/lm/ngram"
	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/vocab"
)

// catWords is the vocabulary of the small model shared by the store tests.
var catWords = []string{"<unk>", "<s>", "</s>", "cat", "sat", "mat"}

// newCatTables builds a trigram model over catWords.
func newCatTables(t *testing.T) *Tables {
	t.Helper()
	tables, err := NewBuilder(len(catWords), 3).
		SetUnigram(0, -2.0).
		SetUnigram(1, -99).
		SetUnigram(2, -1.0).
		SetUnigram(3, -1.2).
		SetUnigram(4, -1.5).
		SetUnigram(5, -1.7).
		AddBigram(1, 3, -0.3, -0.1).
		AddBigram(3, 4, -0.5, -0.2).
		AddBigram(4, 5, -0.4, 0.05).
		AddBigram(5, 2, -0.1, 0).
		AddTrigram(3, 4, 5, -0.25).
		AddTrigram(4, 5, 2, -0.05).
		Tables()
	require.NoError(t, err)
	return tables
}

// testCommonStoreBehavior runs the behaviour every Store implementation must
// share. storeFactory returns a fresh store over the given tables.
func testCommonStoreBehavior(t *testing.T, storeFactory func(t *testing.T, tables *Tables) Store) {
	t.Helper()

	t.Run("Metadata", func(t *testing.T) {
		store := storeFactory(t, newCatTables(t))
		assert.Equal(t, 3, store.Order())
		assert.Equal(t, len(catWords), store.VocabularySize())
		assert.Equal(t, Stats{Order: 3, Unigrams: 6, Bigrams: 4, Trigrams: 2}, store.Stats())
	})

	t.Run("Unigrams", func(t *testing.T) {
		store := storeFactory(t, newCatTables(t))
		assert.Equal(t, -1.2, store.Unigram(3))
		assert.Equal(t, -99.0, store.Unigram(vocab.SentenceStartID))
		assert.Equal(t, LogZero, store.Unigram(-1))
		assert.Equal(t, LogZero, store.Unigram(6))
	})

	t.Run("Bigrams", func(t *testing.T) {
		store := storeFactory(t, newCatTables(t))

		e, ok := store.Bigram(3, 4)
		require.True(t, ok)
		assert.Equal(t, BigramEntry{LogProb: -0.5, Backoff: -0.2}, e)

		e, ok = store.Bigram(4, 5)
		require.True(t, ok)
		assert.Equal(t, 0.05, e.Backoff, "positive back-off weights are legal")

		for _, pair := range [][2]vocab.ID{{4, 3}, {0, 0}, {3, 99}, {-1, 3}, {5, 1}} {
			_, ok := store.Bigram(pair[0], pair[1])
			assert.False(t, ok, "bigram %v", pair)
		}
	})

	t.Run("Trigrams", func(t *testing.T) {
		store := storeFactory(t, newCatTables(t))

		p, ok := store.Trigram(3, 4, 5)
		require.True(t, ok)
		assert.Equal(t, -0.25, p)

		p, ok = store.Trigram(4, 5, 2)
		require.True(t, ok)
		assert.Equal(t, -0.05, p)

		for _, triple := range [][3]vocab.ID{{1, 3, 4}, {3, 4, 4}, {3, 5, 5}, {9, 4, 5}, {3, 4, -5}} {
			_, ok := store.Trigram(triple[0], triple[1], triple[2])
			assert.False(t, ok, "trigram %v", triple)
		}
	})

	t.Run("ConcurrentReads", func(t *testing.T) {
		store := storeFactory(t, newCatTables(t))

		var wg sync.WaitGroup
		for g := 0; g < 32; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 200; i++ {
					e, ok := store.Bigram(1, 3)
					assert.True(t, ok)
					assert.Equal(t, -0.1, e.Backoff)
					p, ok := store.Trigram(3, 4, 5)
					assert.True(t, ok)
					assert.Equal(t, -0.25, p)
				}
			}()
		}
		wg.Wait()
	})
}
