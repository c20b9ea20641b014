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

// Package lm scores word sequences with an n-gram back-off language model.
//
// A Model is assembled from an immutable vocabulary and an ngram.Store. All
// query operations are pure functions of the loaded tables and are safe to
// call concurrently; out-of-vocabulary ids are scored as <unk> and never
// produce an error.
package lm

import (
	"context"
	"fmt"
	"time"

	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/fingerprint"
	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/metrics"
	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/ngram"
	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/vocab"
)

// Config holds the configuration of a Model.
type Config struct {
	// FingerprintCacheConfig configures the cache behind
	// TriGramProbabilityWithFingerprint.
	FingerprintCacheConfig *fingerprint.Config `json:"fingerprintCacheConfig"`

	// EnableMetrics toggles whether queries and fingerprint probes are
	// recorded.
	EnableMetrics bool `json:"enableMetrics"`
	// MetricsLoggingInterval defines the interval at which metrics are logged.
	// If zero, metrics logging is disabled.
	// Requires `EnableMetrics` to be true.
	MetricsLoggingInterval time.Duration `json:"metricsLoggingInterval"`
}

// DefaultConfig returns a default configuration for a Model.
func DefaultConfig() *Config {
	return &Config{
		FingerprintCacheConfig: fingerprint.DefaultConfig(),
		EnableMetrics:          false,
	}
}

// NewModel creates a Model over vocabulary and store, wrapped in metrics
// when cfg enables them.
func NewModel(ctx context.Context, vocabulary *vocab.Vocabulary, store ngram.Store, cfg *Config) (Model, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	scorer, err := NewScorer(ctx, vocabulary, store, cfg)
	if err != nil {
		return nil, err
	}

	var model Model = scorer
	// wrap in metrics only if enabled
	if cfg.EnableMetrics {
		model = NewInstrumentedModel(model)
		metrics.Register()
		if cfg.MetricsLoggingInterval > 0 {
			// this is non-blocking
			metrics.StartMetricsLogging(ctx, cfg.MetricsLoggingInterval)
		}
	}

	return model, nil
}

// Model is the query contract of a language model.
//
// All probabilities are log10. Probability inputs may be any id: ids outside
// the vocabulary are scored as vocab.UnknownID.
type Model interface {
	// UnigramProbability returns log10 P(id).
	UnigramProbability(id vocab.ID) float64
	// Probability returns log10 P(ids[n-1] | ids[:n-1]). Context older than
	// Order()-1 ids is ignored.
	Probability(ids ...vocab.ID) float64
	// TriGramProbability returns log10 P(id2 | id0 id1), identical to
	// Probability(id0, id1, id2).
	TriGramProbability(id0, id1, id2 vocab.ID) float64
	// TriGramProbabilityWithFingerprint returns the same value as
	// TriGramProbability for every fp. A fingerprint matching
	// fingerprint.Of(id0, id1, id2) lets repeated probes skip the back-off
	// walk.
	TriGramProbabilityWithFingerprint(id0, id1, id2 vocab.ID, fp fingerprint.Fingerprint) float64
	// Word returns the word of id, or an error wrapping
	// vocab.ErrInvalidArgument when id is out of range.
	Word(id vocab.ID) (string, error)
	// Order returns the maximum n-gram order.
	Order() int
	// Vocabulary returns the shared, read-only vocabulary.
	Vocabulary() *vocab.Vocabulary
	// Close releases the resources of the fingerprint cache. The model
	// must not be queried afterwards.
	Close()
}

// validate checks that vocabulary and store describe the same id space.
func validate(vocabulary *vocab.Vocabulary, store ngram.Store) error {
	if vocabulary == nil {
		return fmt.Errorf("%w: nil vocabulary", ngram.ErrInvalidModel)
	}
	if store == nil {
		return fmt.Errorf("%w: nil store", ngram.ErrInvalidModel)
	}
	if vocabulary.Size() != store.VocabularySize() {
		return fmt.Errorf("%w: vocabulary has %d words but store covers %d ids",
			ngram.ErrInvalidModel, vocabulary.Size(), store.VocabularySize())
	}
	if order := store.Order(); order < 1 || order > ngram.MaxOrder {
		return fmt.Errorf("%w: %d", ngram.ErrUnsupportedOrder, order)
	}
	return nil
}
