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
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/fingerprint"
	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/vocab"
	"github.com/llm-d/llm-d-lm-scorer/pkg/utils"
)

// SentenceScore is the score of one word sequence.
type SentenceScore struct {
	// Words is the scored sentence, without boundary markers.
	Words []string `json:"words"`
	// LogProb is log10 P(</s> words... | <s>).
	LogProb float64 `json:"logProb"`
	// Perplexity is 10^(-LogProb/N) where N counts the words plus </s>.
	Perplexity float64 `json:"perplexity"`
	// OOVs is the number of words scored as <unk>.
	OOVs int `json:"oovs"`
}

// SentenceLogProb returns the log10 probability of words as a whole
// sentence: every word and the closing </s> are predicted from the
// preceding Order()-1 ids, starting from <s>. In trigram models full
// windows go through the fingerprint cache.
func SentenceLogProb(model Model, words []string) float64 {
	ids := make([]vocab.ID, 0, len(words)+2)
	ids = append(ids, vocab.SentenceStartID)
	ids = append(ids, model.Vocabulary().IDsOf(words)...)
	ids = append(ids, vocab.SentenceEndID)

	order := model.Order()
	total := 0.0
	for i := 1; i < len(ids); i++ {
		window := utils.LastN(ids[:i+1], order)
		if order == 3 && len(window) == 3 {
			total += model.TriGramProbabilityWithFingerprint(window[0], window[1], window[2],
				fingerprint.Of(window[0], window[1], window[2]))
			continue
		}
		total += model.Probability(window...)
	}
	return total
}

// Perplexity returns the per-token perplexity of words as a sentence.
func Perplexity(model Model, words []string) float64 {
	return perplexity(SentenceLogProb(model, words), len(words)+1)
}

func perplexity(logProb float64, tokens int) float64 {
	return math.Pow(10, -logProb/float64(tokens))
}

// Score scores words as a sentence.
func Score(model Model, words []string) SentenceScore {
	vocabulary := model.Vocabulary()
	oovs := 0
	for _, word := range words {
		if word != vocab.UnknownWord && vocabulary.IDOf(word) == vocab.UnknownID {
			oovs++
		}
	}

	logProb := SentenceLogProb(model, words)
	return SentenceScore{
		Words:      words,
		LogProb:    logProb,
		Perplexity: perplexity(logProb, len(words)+1),
		OOVs:       oovs,
	}
}

// ScoreSentences scores sentences with up to workers goroutines, defaulting
// to GOMAXPROCS. Results keep the order of sentences. It only fails when ctx
// is canceled.
func ScoreSentences(ctx context.Context, model Model, sentences [][]string, workers int) ([]SentenceScore, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	scores := make([]SentenceScore, len(sentences))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, words := range sentences {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			scores[i] = Score(model, words)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to score sentences: %w", err)
	}
	return scores, nil
}
