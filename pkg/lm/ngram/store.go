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

// Package ngram holds the read-only probability tables of a back-off n-gram
// language model. All values are log10 probabilities.
package ngram

import (
	"errors"
	"fmt"

	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/vocab"
)

const (
	// MaxOrder is the highest n-gram order the tables can hold.
	MaxOrder = 3
	// LogZero is the log10 probability used for impossible events.
	LogZero = -99.0
	// DefaultBackoff is the back-off weight applied when a context was never
	// observed.
	DefaultBackoff = 0.0
)

var (
	// ErrInvalidModel is the root of every construction-time error.
	ErrInvalidModel = errors.New("invalid model")
	// ErrUnsupportedOrder is returned for orders outside [1, MaxOrder].
	ErrUnsupportedOrder = fmt.Errorf("%w: unsupported order", ErrInvalidModel)
	// ErrMissingUnigram is returned when a vocabulary id has no unigram.
	ErrMissingUnigram = fmt.Errorf("%w: missing unigram", ErrInvalidModel)
	// ErrDanglingID is returned when an n-gram references an id outside the
	// vocabulary.
	ErrDanglingID = fmt.Errorf("%w: dangling id", ErrInvalidModel)
	// ErrCorruptImage is returned when a mapped model image cannot be read.
	ErrCorruptImage = fmt.Errorf("%w: corrupt image", ErrInvalidModel)
)

// BigramEntry is the stored statistic of an observed bigram.
type BigramEntry struct {
	// LogProb is log10 P(id1 | id0).
	LogProb float64
	// Backoff is the weight applied when backing off from the context
	// (id0, id1) to (id1).
	Backoff float64
}

// Stats reports the table sizes of a store.
type Stats struct {
	Order    int `json:"order"`
	Unigrams int `json:"unigrams"`
	Bigrams  int `json:"bigrams"`
	Trigrams int `json:"trigrams"`
}

// Store defines the interface for the tiered probability tables.
//
// Every id passed to a Store is expected to be resolved against the
// vocabulary already; out-of-range ids never match an n-gram and yield
// LogZero as a unigram.
//
// Stores are immutable after construction and safe for concurrent use
// without locking.
type Store interface {
	// Order returns the highest n-gram order held by the store.
	Order() int
	// VocabularySize returns the number of unigram entries.
	VocabularySize() int
	// Unigram returns log10 P(id).
	Unigram(id vocab.ID) float64
	// Bigram returns the entry of the bigram (id0, id1) if it was observed.
	Bigram(id0, id1 vocab.ID) (BigramEntry, bool)
	// Trigram returns log10 P(id2 | id0, id1) if the trigram was observed.
	Trigram(id0, id1, id2 vocab.ID) (float64, bool)
	// Stats returns the table sizes.
	Stats() Stats
}

// Layout selects the in-memory representation of a Store.
type Layout string

const (
	// LayoutHashed keeps n-grams in hash maps keyed by packed ids.
	LayoutHashed Layout = "hashed"
	// LayoutSorted keeps n-grams in sorted arrays grouped by leading id.
	LayoutSorted Layout = "sorted"
)

// StoreConfig holds the configuration for building a Store from Tables.
type StoreConfig struct {
	// Layout is the representation to build. Empty means LayoutHashed.
	Layout Layout `json:"layout"`
}

// DefaultStoreConfig returns the default Store configuration.
func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{
		Layout: LayoutHashed,
	}
}

// NewStore validates tables and builds a Store with the configured layout.
func NewStore(tables *Tables, cfg *StoreConfig) (Store, error) {
	if cfg == nil {
		cfg = DefaultStoreConfig()
	}

	switch cfg.Layout {
	case LayoutHashed, "":
		store, err := NewHashedStore(tables)
		if err != nil {
			return nil, fmt.Errorf("failed to create hashed store: %w", err)
		}
		return store, nil
	case LayoutSorted:
		store, err := NewSortedStore(tables)
		if err != nil {
			return nil, fmt.Errorf("failed to create sorted store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported store layout: %q", cfg.Layout)
	}
}
