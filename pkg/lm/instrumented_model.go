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
	"github.com/prometheus/client_golang/prometheus"

	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/fingerprint"
	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/metrics"
	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/vocab"
)

// trigramProber is implemented by models that can report the fingerprint
// cache outcome of a probe.
type trigramProber interface {
	probeTrigram(id0, id1, id2 vocab.ID, fp fingerprint.Fingerprint) (float64, string)
}

type instrumentedModel struct {
	next Model
}

// NewInstrumentedModel wraps next so that every query is counted and timed.
func NewInstrumentedModel(next Model) Model {
	return &instrumentedModel{next: next}
}

func observe(op string) *prometheus.Timer {
	metrics.Queries.WithLabelValues(op).Inc()
	return prometheus.NewTimer(metrics.QueryLatency.WithLabelValues(op))
}

func (m *instrumentedModel) UnigramProbability(id vocab.ID) float64 {
	defer observe(metrics.OpUnigram).ObserveDuration()
	return m.next.UnigramProbability(id)
}

func (m *instrumentedModel) Probability(ids ...vocab.ID) float64 {
	defer observe(metrics.OpProbability).ObserveDuration()
	return m.next.Probability(ids...)
}

func (m *instrumentedModel) TriGramProbability(id0, id1, id2 vocab.ID) float64 {
	defer observe(metrics.OpTrigram).ObserveDuration()
	return m.next.TriGramProbability(id0, id1, id2)
}

func (m *instrumentedModel) TriGramProbabilityWithFingerprint(
	id0, id1, id2 vocab.ID,
	fp fingerprint.Fingerprint,
) float64 {
	defer observe(metrics.OpFingerprint).ObserveDuration()

	prober, ok := m.next.(trigramProber)
	if !ok {
		return m.next.TriGramProbabilityWithFingerprint(id0, id1, id2, fp)
	}

	logProb, result := prober.probeTrigram(id0, id1, id2, fp)
	metrics.FingerprintProbes.WithLabelValues(result).Inc()
	return logProb
}

func (m *instrumentedModel) Word(id vocab.ID) (string, error) {
	return m.next.Word(id)
}

func (m *instrumentedModel) Order() int {
	return m.next.Order()
}

func (m *instrumentedModel) Vocabulary() *vocab.Vocabulary {
	return m.next.Vocabulary()
}

func (m *instrumentedModel) Close() {
	m.next.Close()
}
