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
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/fxamacker/cbor/v2"

	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/vocab"
)

// BigramRow is one observed bigram. It is encoded as an array to keep
// published tables compact.
type BigramRow struct {
	_       struct{} `msgpack:",array" cbor:",toarray"`
	ID0     vocab.ID
	ID1     vocab.ID
	LogProb float64
	Backoff float64
}

// TrigramRow is one observed trigram.
type TrigramRow struct {
	_       struct{} `msgpack:",array" cbor:",toarray"`
	ID0     vocab.ID
	ID1     vocab.ID
	ID2     vocab.ID
	LogProb float64
}

// Tables is the plain, loader-facing form of a model: the unigram column
// indexed by id plus the observed bigram and trigram rows.
// Stores are built from Tables and never keep a reference to them.
type Tables struct {
	Order    int
	Unigrams []float64
	Bigrams  []BigramRow
	Trigrams []TrigramRow
}

// Validate checks the construction invariants: a supported order, a finite
// non-positive unigram for every id, n-grams only up to the order, no id
// outside the vocabulary and no duplicated n-gram.
func (t *Tables) Validate() error {
	if t == nil {
		return fmt.Errorf("%w: nil tables", ErrInvalidModel)
	}
	if t.Order < 1 || t.Order > MaxOrder {
		return fmt.Errorf("%w: %d", ErrUnsupportedOrder, t.Order)
	}

	size := len(t.Unigrams)
	if size == 0 {
		return fmt.Errorf("%w: empty unigram table", ErrMissingUnigram)
	}
	for id, p := range t.Unigrams {
		if !isLogProb(p) {
			return fmt.Errorf("%w: unigram %d has log probability %v", ErrInvalidModel, id, p)
		}
	}

	if t.Order < 2 && len(t.Bigrams) > 0 {
		return fmt.Errorf("%w: %d bigrams in an order-%d model", ErrInvalidModel, len(t.Bigrams), t.Order)
	}
	if t.Order < 3 && len(t.Trigrams) > 0 {
		return fmt.Errorf("%w: %d trigrams in an order-%d model", ErrInvalidModel, len(t.Trigrams), t.Order)
	}

	inRange := func(ids ...vocab.ID) bool {
		for _, id := range ids {
			if id < 0 || int(id) >= size {
				return false
			}
		}
		return true
	}

	bigrams := make(map[uint64]struct{}, len(t.Bigrams))
	for _, row := range t.Bigrams {
		if !inRange(row.ID0, row.ID1) {
			return fmt.Errorf("%w: bigram (%d,%d) with vocabulary size %d", ErrDanglingID, row.ID0, row.ID1, size)
		}
		if !isLogProb(row.LogProb) || math.IsNaN(row.Backoff) || math.IsInf(row.Backoff, 0) {
			return fmt.Errorf("%w: bigram (%d,%d) has values (%v,%v)",
				ErrInvalidModel, row.ID0, row.ID1, row.LogProb, row.Backoff)
		}
		key := packBigram(row.ID0, row.ID1)
		if _, dup := bigrams[key]; dup {
			return fmt.Errorf("%w: duplicate bigram (%d,%d)", ErrInvalidModel, row.ID0, row.ID1)
		}
		bigrams[key] = struct{}{}
	}

	trigrams := make(map[[3]vocab.ID]struct{}, len(t.Trigrams))
	for _, row := range t.Trigrams {
		if !inRange(row.ID0, row.ID1, row.ID2) {
			return fmt.Errorf("%w: trigram (%d,%d,%d) with vocabulary size %d",
				ErrDanglingID, row.ID0, row.ID1, row.ID2, size)
		}
		if !isLogProb(row.LogProb) {
			return fmt.Errorf("%w: trigram (%d,%d,%d) has log probability %v",
				ErrInvalidModel, row.ID0, row.ID1, row.ID2, row.LogProb)
		}
		key := [3]vocab.ID{row.ID0, row.ID1, row.ID2}
		if _, dup := trigrams[key]; dup {
			return fmt.Errorf("%w: duplicate trigram (%d,%d,%d)", ErrInvalidModel, row.ID0, row.ID1, row.ID2)
		}
		trigrams[key] = struct{}{}
	}

	return nil
}

// Stats returns the table sizes.
func (t *Tables) Stats() Stats {
	return Stats{
		Order:    t.Order,
		Unigrams: len(t.Unigrams),
		Bigrams:  len(t.Bigrams),
		Trigrams: len(t.Trigrams),
	}
}

// sorted returns a copy of t whose rows are ordered by ids.
func (t *Tables) sorted() *Tables {
	out := &Tables{
		Order:    t.Order,
		Unigrams: slices.Clone(t.Unigrams),
		Bigrams:  slices.Clone(t.Bigrams),
		Trigrams: slices.Clone(t.Trigrams),
	}
	slices.SortFunc(out.Bigrams, compareBigramRows)
	slices.SortFunc(out.Trigrams, compareTrigramRows)
	return out
}

func compareBigramRows(a, b BigramRow) int {
	return cmp.Or(cmp.Compare(a.ID0, b.ID0), cmp.Compare(a.ID1, b.ID1))
}

func compareTrigramRows(a, b TrigramRow) int {
	return cmp.Or(cmp.Compare(a.ID0, b.ID0), cmp.Compare(a.ID1, b.ID1), cmp.Compare(a.ID2, b.ID2))
}

// Digest returns a deterministic 64-bit identity of the tables. Row order
// does not matter, nor does a nil table differ from an empty one. Two stores built from tables with equal digests answer
// every query identically.
func Digest(t *Tables) (uint64, error) {
	encOpts := cbor.CanonicalEncOptions() // deterministic
	encOpts.NilContainers = cbor.NilContainerAsEmpty
	encMode, err := encOpts.EncMode()
	if err != nil {
		return 0, fmt.Errorf("failed to create CBOR encoder: %w", err)
	}

	s := t.sorted()
	b, err := encMode.Marshal([]interface{}{s.Order, s.Unigrams, s.Bigrams, s.Trigrams})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal tables to CBOR: %w", err)
	}

	return xxhash.Sum64(b), nil
}

func isLogProb(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0) && p <= 0
}

func packBigram(id0, id1 vocab.ID) uint64 {
	return uint64(uint32(id0))<<32 | uint64(uint32(id1)) //nolint:gosec // bit packing
}
