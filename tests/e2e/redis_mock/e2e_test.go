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

//nolint:testpackage // allow tests to run in the same package
package e2e

import (
	"math"

	"github.com/llm-d/llm-d-lm-scorer/examples/testdata"
	"github.com/llm-d/llm-d-lm-scorer/pkg/lm"
	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/fingerprint"
	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/ngram"
	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/vocab"
)

// TestBasicE2E verifies that a replica loading the published model scores
// the back-off scenario and an out-of-vocabulary context.
func (s *LMScorerSuite) TestBasicE2E() {
	model := s.loadModel(defaultModelName, ngram.LayoutHashed)

	s.Equal(3, model.Order())
	s.Equal(len(testdata.CatWords), model.Vocabulary().Size())

	p := model.Probability(vocab.SentenceStartID, testdata.Cat, testdata.Sat)
	s.InDelta(-0.6, p, 1e-9, "expected back-off weight of (<s>,cat) plus bigram (cat,sat)")
	s.Equal(model.Probability(vocab.UnknownID, testdata.Cat, testdata.Sat),
		model.Probability(99, testdata.Cat, testdata.Sat))
}

// TestReplicasAgree loads the model into both layouts and checks that every
// sentence scores bit-identically.
func (s *LMScorerSuite) TestReplicasAgree() {
	hashed := s.loadModel(defaultModelName, ngram.LayoutHashed)
	sorted := s.loadModel(defaultModelName, ngram.LayoutSorted)

	hashedScores, err := lm.ScoreSentences(s.ctx, hashed, testdata.Sentences(), 2)
	s.Require().NoError(err)
	sortedScores, err := lm.ScoreSentences(s.ctx, sorted, testdata.Sentences(), 4)
	s.Require().NoError(err)

	s.Require().Len(sortedScores, len(hashedScores))
	for i := range hashedScores {
		s.T().Logf("%q: %+v", hashedScores[i].Words, hashedScores[i])
		s.Equal(math.Float64bits(hashedScores[i].LogProb), math.Float64bits(sortedScores[i].LogProb))
	}
}

// TestFingerprintedDecoding slides a window over every sentence the way a
// decoder does and checks that fingerprinted probes agree with plain ones.
func (s *LMScorerSuite) TestFingerprintedDecoding() {
	model := s.loadModel(defaultModelName, ngram.LayoutSorted)

	for round := 0; round < 2; round++ {
		for _, words := range testdata.Sentences() {
			ids := append([]vocab.ID{vocab.SentenceStartID, vocab.SentenceStartID},
				model.Vocabulary().IDsOf(words)...)
			ids = append(ids, vocab.SentenceEndID)

			for i := 2; i < len(ids); i++ {
				id0, id1, id2 := ids[i-2], ids[i-1], ids[i]
				want := model.TriGramProbability(id0, id1, id2)
				s.Equal(want, model.TriGramProbabilityWithFingerprint(id0, id1, id2, fingerprint.Of(id0, id1, id2)))
				s.Equal(want, model.TriGramProbabilityWithFingerprint(id0, id1, id2, fingerprint.Of(id2, id1, id0)))
			}
		}
	}
}

// TestRepublish replaces the model and checks that new replicas see the
// new tables while the old replica keeps its snapshot.
func (s *LMScorerSuite) TestRepublish() {
	before := s.loadModel(defaultModelName, ngram.LayoutHashed)
	p := before.Probability(testdata.The, testdata.Cat, testdata.Sat)

	tables := testdata.CatTables()
	tables.Trigrams = tables.Trigrams[:0]
	s.Require().NoError(s.mirror.Publish(s.ctx, defaultModelName, tables, testdata.CatWords))

	after := s.loadModel(defaultModelName, ngram.LayoutHashed)
	s.InDelta(-0.3, p, 1e-9)
	s.Equal(p, before.Probability(testdata.The, testdata.Cat, testdata.Sat))
	s.InDelta(-0.2+-0.5, after.Probability(testdata.The, testdata.Cat, testdata.Sat), 1e-9)
}

// TestMissingModel checks that loading an unpublished model fails.
func (s *LMScorerSuite) TestMissingModel() {
	s.Require().NoError(s.mirror.Delete(s.ctx, defaultModelName))

	_, _, err := s.mirror.Load(s.ctx, defaultModelName)
	s.ErrorIs(err, ngram.ErrModelNotFound)
}
