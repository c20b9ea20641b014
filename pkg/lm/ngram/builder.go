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

// Builder collects the statistics handed over by a model loader and turns
// them into validated Tables. Values are recorded as given; every invariant
// is checked once in Tables.
//
// A Builder is not safe for concurrent use.
type Builder struct {
	order    int
	unigrams []float64
	set      []bool
	bigrams  map[[2]vocab.ID]BigramEntry
	trigrams map[[3]vocab.ID]float64
	misses   []vocab.ID
}

// NewBuilder creates a Builder for a vocabulary of vocabSize ids and the
// given model order.
func NewBuilder(vocabSize, order int) *Builder {
	if vocabSize < 0 {
		vocabSize = 0
	}
	return &Builder{
		order:    order,
		unigrams: make([]float64, vocabSize),
		set:      make([]bool, vocabSize),
		bigrams:  make(map[[2]vocab.ID]BigramEntry),
		trigrams: make(map[[3]vocab.ID]float64),
	}
}

// SetUnigram records log10 P(id).
func (b *Builder) SetUnigram(id vocab.ID, logProb float64) *Builder {
	if id < 0 || int(id) >= len(b.unigrams) {
		b.misses = append(b.misses, id)
		return b
	}
	b.unigrams[id] = logProb
	b.set[id] = true
	return b
}

// AddBigram records an observed bigram. A later call for the same pair
// replaces the earlier one.
func (b *Builder) AddBigram(id0, id1 vocab.ID, logProb, backoff float64) *Builder {
	b.bigrams[[2]vocab.ID{id0, id1}] = BigramEntry{LogProb: logProb, Backoff: backoff}
	return b
}

// AddTrigram records an observed trigram. A later call for the same triple
// replaces the earlier one.
func (b *Builder) AddTrigram(id0, id1, id2 vocab.ID, logProb float64) *Builder {
	b.trigrams[[3]vocab.ID{id0, id1, id2}] = logProb
	return b
}

// Tables validates the collected statistics and returns them with rows in
// id order.
func (b *Builder) Tables() (*Tables, error) {
	if len(b.misses) > 0 {
		return nil, fmt.Errorf("%w: unigram for id %d with vocabulary size %d",
			ErrDanglingID, b.misses[0], len(b.unigrams))
	}
	for id, ok := range b.set {
		if !ok {
			return nil, fmt.Errorf("%w: id %d", ErrMissingUnigram, id)
		}
	}

	t := &Tables{
		Order:    b.order,
		Unigrams: append([]float64(nil), b.unigrams...),
		Bigrams:  make([]BigramRow, 0, len(b.bigrams)),
		Trigrams: make([]TrigramRow, 0, len(b.trigrams)),
	}
	for k, e := range b.bigrams {
		t.Bigrams = append(t.Bigrams, BigramRow{ID0: k[0], ID1: k[1], LogProb: e.LogProb, Backoff: e.Backoff})
	}
	for k, p := range b.trigrams {
		t.Trigrams = append(t.Trigrams, TrigramRow{ID0: k[0], ID1: k[1], ID2: k[2], LogProb: p})
	}
	t = t.sorted()

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// BuildHashed returns a HashedStore over the collected statistics.
func (b *Builder) BuildHashed() (*HashedStore, error) {
	t, err := b.Tables()
	if err != nil {
		return nil, err
	}
	return NewHashedStore(t)
}

// BuildSorted returns a SortedStore over the collected statistics.
func (b *Builder) BuildSorted() (*SortedStore, error) {
	t, err := b.Tables()
	if err != nil {
		return nil, err
	}
	return NewSortedStore(t)
}
