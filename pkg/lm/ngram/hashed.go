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

	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/vocab"
)

// narrowIDBits is the width of one id inside a packed trigram key.
const narrowIDBits = 21

// HashedStore is an in-memory Store with average O(1) lookups. Bigrams are
// keyed by two packed 32-bit ids. Trigrams are packed into 3x21 bits when the
// vocabulary allows it and keyed by the id triple otherwise.
type HashedStore struct {
	order    int
	unigrams []float64
	bigrams  map[uint64]BigramEntry

	// exactly one of the trigram maps is used.
	trigrams     map[uint64]float64
	wideTrigrams map[[3]vocab.ID]float64
}

var _ Store = &HashedStore{}

// NewHashedStore validates tables and creates a HashedStore.
func NewHashedStore(tables *Tables) (*HashedStore, error) {
	if err := tables.Validate(); err != nil {
		return nil, err
	}

	s := &HashedStore{
		order:    tables.Order,
		unigrams: append([]float64(nil), tables.Unigrams...),
		bigrams:  make(map[uint64]BigramEntry, len(tables.Bigrams)),
	}

	for _, row := range tables.Bigrams {
		s.bigrams[packBigram(row.ID0, row.ID1)] = BigramEntry{LogProb: row.LogProb, Backoff: row.Backoff}
	}

	if len(s.unigrams) <= 1<<narrowIDBits {
		s.trigrams = make(map[uint64]float64, len(tables.Trigrams))
		for _, row := range tables.Trigrams {
			s.trigrams[packTrigram(row.ID0, row.ID1, row.ID2)] = row.LogProb
		}
	} else {
		s.wideTrigrams = make(map[[3]vocab.ID]float64, len(tables.Trigrams))
		for _, row := range tables.Trigrams {
			s.wideTrigrams[[3]vocab.ID{row.ID0, row.ID1, row.ID2}] = row.LogProb
		}
	}

	return s, nil
}

// Order returns the highest n-gram order held by the store.
func (s *HashedStore) Order() int { return s.order }

// VocabularySize returns the number of unigram entries.
func (s *HashedStore) VocabularySize() int { return len(s.unigrams) }

// Unigram returns log10 P(id).
func (s *HashedStore) Unigram(id vocab.ID) float64 {
	if id < 0 || int(id) >= len(s.unigrams) {
		return LogZero
	}
	return s.unigrams[id]
}

// Bigram returns the entry of the bigram (id0, id1) if it was observed.
func (s *HashedStore) Bigram(id0, id1 vocab.ID) (BigramEntry, bool) {
	if !s.inRange(id0) || !s.inRange(id1) {
		return BigramEntry{}, false
	}
	e, ok := s.bigrams[packBigram(id0, id1)]
	return e, ok
}

// Trigram returns log10 P(id2 | id0, id1) if the trigram was observed.
func (s *HashedStore) Trigram(id0, id1, id2 vocab.ID) (float64, bool) {
	if !s.inRange(id0) || !s.inRange(id1) || !s.inRange(id2) {
		return 0, false
	}
	if s.wideTrigrams != nil {
		p, ok := s.wideTrigrams[[3]vocab.ID{id0, id1, id2}]
		return p, ok
	}
	p, ok := s.trigrams[packTrigram(id0, id1, id2)]
	return p, ok
}

// Stats returns the table sizes.
func (s *HashedStore) Stats() Stats {
	trigrams := len(s.trigrams)
	if s.wideTrigrams != nil {
		trigrams = len(s.wideTrigrams)
	}
	return Stats{
		Order:    s.order,
		Unigrams: len(s.unigrams),
		Bigrams:  len(s.bigrams),
		Trigrams: trigrams,
	}
}

// String returns a short description of the store.
func (s *HashedStore) String() string {
	st := s.Stats()
	return fmt.Sprintf("hashed(order=%d, 1-grams=%d, 2-grams=%d, 3-grams=%d)",
		st.Order, st.Unigrams, st.Bigrams, st.Trigrams)
}

func (s *HashedStore) inRange(id vocab.ID) bool {
	return id >= 0 && int(id) < len(s.unigrams)
}

func packTrigram(id0, id1, id2 vocab.ID) uint64 {
	return uint64(id0)<<(2*narrowIDBits) | uint64(id1)<<narrowIDBits | uint64(id2) //nolint:gosec // ids are checked non-negative
}
