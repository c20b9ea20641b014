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

// Package backoff resolves n-gram probabilities with hierarchical back-off:
// the longest observed n-gram wins, and every shortened context adds the
// back-off weight of the context it dropped.
package backoff

import (
	"github.com/go-logr/logr"

	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/ngram"
	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/vocab"
	"github.com/llm-d/llm-d-lm-scorer/pkg/utils"
	"github.com/llm-d/llm-d-lm-scorer/pkg/utils/logging"
)

// Resolver computes back-off probabilities over a Store. It holds no
// mutable state and is safe for concurrent use.
type Resolver struct {
	store ngram.Store
	order int
	size  int
	trace logr.Logger
}

// New creates a Resolver over store. logger receives anomaly reports at
// TRACE verbosity; pass logr.Discard() to drop them.
func New(store ngram.Store, logger logr.Logger) *Resolver {
	return &Resolver{
		store: store,
		order: store.Order(),
		size:  store.VocabularySize(),
		trace: logger.WithName("backoff.Resolver").V(logging.TRACE),
	}
}

// Order returns the order of the underlying store.
func (r *Resolver) Order() int {
	return r.order
}

// Probability returns log10 P(ids[n-1] | ids[:n-1]). Context beyond the
// model order is ignored and out-of-vocabulary ids are scored as <unk>.
// An empty query scores ngram.LogZero.
func (r *Resolver) Probability(ids []vocab.ID) float64 {
	if len(ids) == 0 {
		r.trace.Info("empty probability query")
		return ngram.LogZero
	}

	ids = utils.LastN(ids, r.order)
	switch len(ids) {
	case 1:
		return r.Unigram(ids[0])
	case 2:
		return r.bigram(r.resolve(ids[0]), r.resolve(ids[1]))
	default:
		return r.trigram(r.resolve(ids[0]), r.resolve(ids[1]), r.resolve(ids[2]))
	}
}

// Trigram returns log10 P(id2 | id0, id1). It is the fixed-arity form of
// Probability and returns bit-identical results.
func (r *Resolver) Trigram(id0, id1, id2 vocab.ID) float64 {
	switch r.order {
	case 1:
		return r.Unigram(id2)
	case 2:
		return r.bigram(r.resolve(id1), r.resolve(id2))
	default:
		return r.trigram(r.resolve(id0), r.resolve(id1), r.resolve(id2))
	}
}

// Bigram returns log10 P(id1 | id0), or the unigram of id1 for an order-1
// model.
func (r *Resolver) Bigram(id0, id1 vocab.ID) float64 {
	if r.order < 2 {
		return r.Unigram(id1)
	}
	return r.bigram(r.resolve(id0), r.resolve(id1))
}

// Unigram returns log10 P(id), scoring out-of-vocabulary ids as <unk>.
func (r *Resolver) Unigram(id vocab.ID) float64 {
	return r.store.Unigram(r.resolve(id))
}

// BackoffWeight returns the weight added when backing off from context.
// Only observed bigram contexts carry a weight; any other context
// contributes ngram.DefaultBackoff.
func (r *Resolver) BackoffWeight(context []vocab.ID) float64 {
	if len(context) != 2 {
		return ngram.DefaultBackoff
	}
	return r.backoff(r.resolve(context[0]), r.resolve(context[1]))
}

func (r *Resolver) trigram(id0, id1, id2 vocab.ID) float64 {
	if p, ok := r.store.Trigram(id0, id1, id2); ok {
		return p
	}
	return r.backoff(id0, id1) + r.bigram(id1, id2)
}

func (r *Resolver) bigram(id0, id1 vocab.ID) float64 {
	if e, ok := r.store.Bigram(id0, id1); ok {
		return e.LogProb
	}
	// unigram contexts carry no back-off weight
	return ngram.DefaultBackoff + r.store.Unigram(id1)
}

func (r *Resolver) backoff(id0, id1 vocab.ID) float64 {
	if e, ok := r.store.Bigram(id0, id1); ok {
		return e.Backoff
	}
	return ngram.DefaultBackoff
}

func (r *Resolver) resolve(id vocab.ID) vocab.ID {
	if id >= 0 && int(id) < r.size {
		return id
	}
	r.trace.Info("out-of-vocabulary id scored as <unk>", "id", id)
	return vocab.UnknownID
}
