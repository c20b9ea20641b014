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

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/llm-d/llm-d-lm-scorer/pkg/lm"
)

func newScoreCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "score [sentence...]",
		Short: "Score sentences",
		Long: `Score each sentence and print its log10 probability, perplexity and
number of out-of-vocabulary words. Sentences are read from the arguments,
or one per line from stdin when no argument is given. Words are separated
by whitespace.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolve(cmd)
			if err != nil {
				return err
			}

			sentences, err := readSentences(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			loaded, err := loadModel(ctx, cfg)
			if err != nil {
				return err
			}
			defer loaded.close() //nolint:errcheck // read-only mapping

			model, err := newModel(ctx, cfg, loaded)
			if err != nil {
				return err
			}
			defer model.Close()

			scores, err := lm.ScoreSentences(ctx, model, sentences, cfg.Workers)
			if err != nil {
				return err
			}

			return writeScores(cmd.OutOrStdout(), scores, opts.jsonOutput)
		},
	}
}

func readSentences(r io.Reader, args []string) ([][]string, error) {
	var sentences [][]string
	if len(args) > 0 {
		for _, arg := range args {
			sentences = append(sentences, strings.Fields(arg))
		}
		return sentences, nil
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		sentences = append(sentences, strings.Fields(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sentences: %w", err)
	}
	return sentences, nil
}

func writeScores(w io.Writer, scores []lm.SentenceScore, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		for _, score := range scores {
			if err := enc.Encode(score); err != nil {
				return err
			}
		}
		return nil
	}

	for _, score := range scores {
		if _, err := fmt.Fprintf(w, "%.4f\t%.4f\t%d\t%s\n",
			score.LogProb, score.Perplexity, score.OOVs, strings.Join(score.Words, " ")); err != nil {
			return err
		}
	}
	return nil
}
