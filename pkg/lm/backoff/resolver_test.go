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

package backoff_test

import (
	"math"
	"testing"

	"github.com/go-logr/logr"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llm-d/llm-d-lm-scorer/examples/testdata"
	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/backoff"
	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/ngram"
	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/vocab"
	"github.com/llm-d/llm-d-lm-scorer/pkg/utils"
)

const (
	start = vocab.SentenceStartID
	end   = vocab.SentenceEndID
	cat   = testdata.Cat
	sat   = testdata.Sat
	on    = testdata.On
	the   = testdata.The
	mat   = testdata.Mat
)

func newCatResolver(t *testing.T) *backoff.Resolver {
	t.Helper()
	store, err := ngram.NewHashedStore(testdata.CatTables())
	require.NoError(t, err)
	return backoff.New(store, logr.Discard())
}

// TestMinimalScenario uses the five-word vocabulary
// {<unk>, <s>, </s>, cat, sat}.
func TestMinimalScenario(t *testing.T) {
	store, err := ngram.NewBuilder(5, 3).
		SetUnigram(0, -2).
		SetUnigram(1, -99).
		SetUnigram(2, -1).
		SetUnigram(3, -1.2).
		SetUnigram(4, -1.3).
		AddBigram(3, 4, -0.5, 0).
		AddBigram(1, 3, -0.4, -0.1).
		BuildSorted()
	require.NoError(t, err)
	r := backoff.New(store, logr.Discard())

	assert.InDelta(t, -0.6, r.Probability([]vocab.ID{1, 3, 4}), 1e-12)
	assert.Equal(t, r.Probability([]vocab.ID{0, 3, 4}), r.Probability([]vocab.ID{99, 3, 4}),
		"out-of-range ids score as <unk>")
	assert.Equal(t, -1.2, r.Unigram(3))
}

func TestProbabilityBackoffChain(t *testing.T) {
	r := newCatResolver(t)

	cases := []struct {
		name string
		ids  []vocab.ID
		want float64
	}{
		{name: "unigram", ids: []vocab.ID{cat}, want: -1.2},
		{name: "observed bigram", ids: []vocab.ID{cat, sat}, want: -0.5},
		{name: "unobserved bigram falls to unigram", ids: []vocab.ID{sat, cat}, want: -1.2},
		{name: "observed trigram", ids: []vocab.ID{the, cat, sat}, want: -0.3},
		{name: "trigram backs off to bigram", ids: []vocab.ID{start, cat, sat}, want: -0.1 + -0.5},
		{
			name: "trigram backs off twice",
			ids:  []vocab.ID{start, the, sat},
			want: -0.15 + -1.4,
		},
		{
			name: "unobserved context backs off without weight",
			ids:  []vocab.ID{mat, cat, sat},
			want: -0.5,
		},
		{
			name: "observed context with positive weight",
			ids:  []vocab.ID{mat, end, cat},
			want: 0.1 + -1.2,
		},
		{
			name: "observed context backs off to unigram",
			ids:  []vocab.ID{the, mat, cat},
			want: -0.35 + -1.2,
		},
		{name: "context beyond order is dropped", ids: []vocab.ID{mat, mat, the, cat, sat}, want: -0.3},
		{name: "oov context", ids: []vocab.ID{-7, cat, sat}, want: -0.5},
		{name: "oov word", ids: []vocab.ID{the, cat, 1000}, want: -0.2 + -2.5},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := r.Probability(c.ids)
			assert.InDelta(t, c.want, got, 1e-12)
			if len(c.ids) >= 3 {
				tail := utils.LastN(c.ids, 3)
				assert.Equal(t, got, r.Trigram(tail[0], tail[1], tail[2]))
			}
		})
	}
}

func TestProbabilityEmptyQuery(t *testing.T) {
	r := newCatResolver(t)
	assert.Equal(t, ngram.LogZero, r.Probability(nil))
	assert.Equal(t, ngram.LogZero, r.Probability([]vocab.ID{}))
}

func TestBackoffWeight(t *testing.T) {
	r := newCatResolver(t)

	assert.Equal(t, -0.1, r.BackoffWeight([]vocab.ID{start, cat}))
	assert.Equal(t, 0.1, r.BackoffWeight([]vocab.ID{mat, end}))
	assert.Equal(t, ngram.DefaultBackoff, r.BackoffWeight([]vocab.ID{cat, cat}))
	assert.Equal(t, ngram.DefaultBackoff, r.BackoffWeight([]vocab.ID{cat}))
	assert.Equal(t, ngram.DefaultBackoff, r.BackoffWeight(nil))
}

func TestLowerOrderModels(t *testing.T) {
	for _, order := range []int{1, 2} {
		tables := testdata.RandomTables(uint64(order), 9, order)
		store, err := ngram.NewHashedStore(tables)
		require.NoError(t, err)
		r := backoff.New(store, logr.Discard())
		require.Equal(t, order, r.Order())

		for a := vocab.ID(-1); a < 10; a++ {
			for b := vocab.ID(0); b < 9; b++ {
				for c := vocab.ID(0); c < 10; c++ {
					ids := []vocab.ID{a, b, c}
					assert.Equal(t, r.Probability(utils.LastN(ids, order)), r.Trigram(a, b, c))
				}
			}
		}
		if order == 1 {
			assert.Equal(t, r.Unigram(3), r.Bigram(2, 3))
			assert.Equal(t, r.Unigram(3), r.Probability([]vocab.ID{7, 3}))
		}
	}
}

func TestResolverProperties(t *testing.T) {
	const size = 12
	tables := testdata.RandomTables(42, size, 3)

	for _, layout := range []ngram.Layout{ngram.LayoutHashed, ngram.LayoutSorted} {
		t.Run(string(layout), func(t *testing.T) {
			store, err := ngram.NewStore(tables, &ngram.StoreConfig{Layout: layout})
			require.NoError(t, err)
			r := backoff.New(store, logr.Discard())

			ids := gen.IntRange(-3, size+3)
			toIDs := func(xs []int) []vocab.ID {
				return utils.SliceMap(xs, func(x int) vocab.ID { return vocab.ID(x) })
			}

			properties := gopter.NewProperties(nil)

			properties.Property("unigrams are finite and non-positive", prop.ForAll(
				func(id int) bool {
					p := r.Unigram(vocab.ID(id))
					return !math.IsInf(p, 0) && !math.IsNaN(p) && p <= 0
				},
				gen.IntRange(0, size-1),
			))

			properties.Property("context beyond the order is ignored", prop.ForAll(
				func(xs []int) bool {
					seq := toIDs(xs)
					if len(seq) <= r.Order() {
						return true
					}
					return r.Probability(seq) == r.Probability(seq[len(seq)-r.Order():])
				},
				gen.SliceOf(ids),
			))

			properties.Property("trigram path equals generic path", prop.ForAll(
				func(a, b, c int) bool {
					return r.Trigram(vocab.ID(a), vocab.ID(b), vocab.ID(c)) ==
						r.Probability([]vocab.ID{vocab.ID(a), vocab.ID(b), vocab.ID(c)})
				},
				ids, ids, ids,
			))

			properties.Property("missing trigram backs off to bigram", prop.ForAll(
				func(a, b, c int) bool {
					x, y, z := vocab.ID(a), vocab.ID(b), vocab.ID(c)
					if _, ok := store.Trigram(x, y, z); ok {
						return true
					}
					return r.Probability([]vocab.ID{x, y, z}) ==
						r.BackoffWeight([]vocab.ID{x, y})+r.Probability([]vocab.ID{y, z})
				},
				gen.IntRange(0, size-1), gen.IntRange(0, size-1), gen.IntRange(0, size-1),
			))

			properties.Property("out-of-range ids score as <unk>", prop.ForAll(
				func(a, b, c int) bool {
					resolve := func(x int) vocab.ID {
						if x < 0 || x >= size {
							return vocab.UnknownID
						}
						return vocab.ID(x)
					}
					return r.Probability([]vocab.ID{vocab.ID(a), vocab.ID(b), vocab.ID(c)}) ==
						r.Probability([]vocab.ID{resolve(a), resolve(b), resolve(c)})
				},
				ids, ids, ids,
			))

			properties.Property("repeated queries are bit-identical", prop.ForAll(
				func(xs []int) bool {
					seq := toIDs(xs)
					first := r.Probability(seq)
					return math.Float64bits(first) == math.Float64bits(r.Probability(seq))
				},
				gen.SliceOf(ids),
			))

			properties.TestingRun(t, gopter.ConsoleReporter(false))
		})
	}
}
