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

package lm

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/backoff"
	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/fingerprint"
	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/metrics"
	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/ngram"
	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/vocab"
	"github.com/llm-d/llm-d-lm-scorer/pkg/utils/logging"
)

// Scorer is the Model implementation: a back-off resolver over a store plus
// a fingerprint cache for repeated trigram probes.
type Scorer struct {
	vocabulary *vocab.Vocabulary
	resolver   *backoff.Resolver
	cache      fingerprint.Cache
	trace      logr.Logger
}

var _ Model = &Scorer{}

// NewScorer creates a Scorer. The diagnostic logger is taken from ctx.
// It fails with ngram.ErrInvalidModel when vocabulary and store disagree.
func NewScorer(ctx context.Context, vocabulary *vocab.Vocabulary, store ngram.Store, cfg *Config) (*Scorer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if err := validate(vocabulary, store); err != nil {
		return nil, fmt.Errorf("failed to create scorer: %w", err)
	}

	cache, err := fingerprint.NewCache(cfg.FingerprintCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create scorer: %w", err)
	}

	logger := klog.FromContext(ctx)
	return &Scorer{
		vocabulary: vocabulary,
		resolver:   backoff.New(store, logger),
		cache:      cache,
		trace:      logger.WithName("lm.Scorer").V(logging.TRACE),
	}, nil
}

// UnigramProbability returns log10 P(id).
func (s *Scorer) UnigramProbability(id vocab.ID) float64 {
	return s.resolver.Unigram(id)
}

// Probability returns log10 P(ids[n-1] | ids[:n-1]).
func (s *Scorer) Probability(ids ...vocab.ID) float64 {
	return s.resolver.Probability(ids)
}

// TriGramProbability returns log10 P(id2 | id0 id1).
func (s *Scorer) TriGramProbability(id0, id1, id2 vocab.ID) float64 {
	return s.resolver.Trigram(id0, id1, id2)
}

// TriGramProbabilityWithFingerprint returns log10 P(id2 | id0 id1). fp is a
// hint only: a wrong fingerprint costs a full computation, never a wrong
// answer.
func (s *Scorer) TriGramProbabilityWithFingerprint(id0, id1, id2 vocab.ID, fp fingerprint.Fingerprint) float64 {
	logProb, _ := s.probeTrigram(id0, id1, id2, fp)
	return logProb
}

// probeTrigram is TriGramProbabilityWithFingerprint reporting how the cache
// was used: one of metrics.FingerprintHit, FingerprintMiss or
// FingerprintMismatch.
func (s *Scorer) probeTrigram(id0, id1, id2 vocab.ID, fp fingerprint.Fingerprint) (float64, string) {
	key := fingerprint.Key{id0, id1, id2}
	if logProb, ok := s.cache.Get(fp, key); ok {
		return logProb, metrics.FingerprintHit
	}

	logProb := s.resolver.Trigram(id0, id1, id2)

	result := metrics.FingerprintMiss
	actual := key.Fingerprint()
	if actual != fp {
		result = metrics.FingerprintMismatch
		s.trace.Info("fingerprint does not match trigram", "ids", key, "fingerprint", fp, "expected", actual)
	}
	s.cache.Put(actual, key, logProb)

	return logProb, result
}

// Word returns the word of id.
func (s *Scorer) Word(id vocab.ID) (string, error) {
	word, err := s.vocabulary.WordOf(id)
	if err != nil {
		return "", fmt.Errorf("failed to resolve word: %w", err)
	}
	return word, nil
}

// Order returns the maximum n-gram order.
func (s *Scorer) Order() int {
	return s.resolver.Order()
}

// Vocabulary returns the shared vocabulary.
func (s *Scorer) Vocabulary() *vocab.Vocabulary {
	return s.vocabulary
}

// Close stops the background workers of the fingerprint cache, if any.
// The store is owned by the caller and stays open.
func (s *Scorer) Close() {
	if closer, ok := s.cache.(interface{ Close() }); ok {
		closer.Close()
	}
}
