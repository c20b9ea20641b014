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

package ngram

import (
	"fmt"
	"slices"

	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/vocab"
)

// SortedStore is a compact Store with O(log n) lookups. N-grams are kept in
// flat arrays sorted by ids and grouped by their leading id: the rows that
// start with id live in [offsets[id], offsets[id+1]), so a lookup only
// binary-searches a single group.
type SortedStore struct {
	order    int
	unigrams []float64

	bigramOffsets  []uint32
	bigramKeys     []uint32 // id1
	bigramProbs    []float64
	bigramBackoffs []float64

	trigramOffsets []uint32
	trigramKeys    []uint64 // id1<<32 | id2
	trigramProbs   []float64
}

var _ Store = &SortedStore{}

// NewSortedStore validates tables and creates a SortedStore.
func NewSortedStore(tables *Tables) (*SortedStore, error) {
	if err := tables.Validate(); err != nil {
		return nil, err
	}

	t := tables.sorted()
	size := len(t.Unigrams)

	s := &SortedStore{
		order:          t.Order,
		unigrams:       t.Unigrams,
		bigramOffsets:  make([]uint32, size+1),
		bigramKeys:     make([]uint32, len(t.Bigrams)),
		bigramProbs:    make([]float64, len(t.Bigrams)),
		bigramBackoffs: make([]float64, len(t.Bigrams)),
		trigramOffsets: make([]uint32, size+1),
		trigramKeys:    make([]uint64, len(t.Trigrams)),
		trigramProbs:   make([]float64, len(t.Trigrams)),
	}

	for i, row := range t.Bigrams {
		s.bigramOffsets[row.ID0+1]++
		s.bigramKeys[i] = uint32(row.ID1) //nolint:gosec // validated non-negative
		s.bigramProbs[i] = row.LogProb
		s.bigramBackoffs[i] = row.Backoff
	}
	for i, row := range t.Trigrams {
		s.trigramOffsets[row.ID0+1]++
		s.trigramKeys[i] = packSortedTrigramKey(row.ID1, row.ID2)
		s.trigramProbs[i] = row.LogProb
	}
	prefixSum(s.bigramOffsets)
	prefixSum(s.trigramOffsets)

	return s, nil
}

// Order returns the highest n-gram order held by the store.
func (s *SortedStore) Order() int { return s.order }

// VocabularySize returns the number of unigram entries.
func (s *SortedStore) VocabularySize() int { return len(s.unigrams) }

// Unigram returns log10 P(id).
func (s *SortedStore) Unigram(id vocab.ID) float64 {
	if id < 0 || int(id) >= len(s.unigrams) {
		return LogZero
	}
	return s.unigrams[id]
}

// Bigram returns the entry of the bigram (id0, id1) if it was observed.
func (s *SortedStore) Bigram(id0, id1 vocab.ID) (BigramEntry, bool) {
	if !s.inRange(id0) || !s.inRange(id1) {
		return BigramEntry{}, false
	}
	lo, hi := s.bigramOffsets[id0], s.bigramOffsets[id0+1]
	i, ok := slices.BinarySearch(s.bigramKeys[lo:hi], uint32(id1)) //nolint:gosec // checked non-negative
	if !ok {
		return BigramEntry{}, false
	}
	idx := int(lo) + i
	return BigramEntry{LogProb: s.bigramProbs[idx], Backoff: s.bigramBackoffs[idx]}, true
}

// Trigram returns log10 P(id2 | id0, id1) if the trigram was observed.
func (s *SortedStore) Trigram(id0, id1, id2 vocab.ID) (float64, bool) {
	if !s.inRange(id0) || !s.inRange(id1) || !s.inRange(id2) {
		return 0, false
	}
	lo, hi := s.trigramOffsets[id0], s.trigramOffsets[id0+1]
	i, ok := slices.BinarySearch(s.trigramKeys[lo:hi], packSortedTrigramKey(id1, id2))
	if !ok {
		return 0, false
	}
	return s.trigramProbs[int(lo)+i], true
}

// Stats returns the table sizes.
func (s *SortedStore) Stats() Stats {
	return Stats{
		Order:    s.order,
		Unigrams: len(s.unigrams),
		Bigrams:  len(s.bigramKeys),
		Trigrams: len(s.trigramKeys),
	}
}

// String returns a short description of the store.
func (s *SortedStore) String() string {
	st := s.Stats()
	return fmt.Sprintf("sorted(order=%d, 1-grams=%d, 2-grams=%d, 3-grams=%d)",
		st.Order, st.Unigrams, st.Bigrams, st.Trigrams)
}

func (s *SortedStore) inRange(id vocab.ID) bool {
	return id >= 0 && int(id) < len(s.unigrams)
}

func packSortedTrigramKey(id1, id2 vocab.ID) uint64 {
	return uint64(uint32(id1))<<32 | uint64(uint32(id2)) //nolint:gosec // bit packing
}

// prefixSum turns per-group counts stored at [id+1] into group offsets.
func prefixSum(offsets []uint32) {
	for i := 1; i < len(offsets); i++ {
		offsets[i] += offsets[i-1]
	}
}
