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
	"encoding/json"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// modelInfo is the output of the inspect command.
type modelInfo struct {
	Order      int    `json:"order"`
	Vocabulary int    `json:"vocabulary"`
	Unigrams   int    `json:"unigrams"`
	Bigrams    int    `json:"bigrams"`
	Trigrams   int    `json:"trigrams"`
	SizeBytes  int    `json:"sizeBytes,omitempty"`
	Digest     string `json:"digest"`
}

func newInspectCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Show model order, table sizes and digest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.resolve(cmd)
			if err != nil {
				return err
			}

			loaded, err := loadModel(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer loaded.close() //nolint:errcheck // read-only mapping

			stats := loaded.store.Stats()
			info := modelInfo{
				Order:      stats.Order,
				Vocabulary: loaded.vocabulary.Size(),
				Unigrams:   stats.Unigrams,
				Bigrams:    stats.Bigrams,
				Trigrams:   stats.Trigrams,
				SizeBytes:  loaded.sizeBytes,
				Digest:     fmt.Sprintf("%016x", loaded.digest),
			}
			return writeInfo(cmd.OutOrStdout(), &info, opts.jsonOutput)
		},
	}
}

func writeInfo(w io.Writer, info *modelInfo, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	size := "-"
	if info.SizeBytes > 0 {
		size = humanize.IBytes(uint64(info.SizeBytes)) //nolint:gosec // positive
	}

	_, err := fmt.Fprintf(w,
		"order:      %d\nvocabulary: %s\nunigrams:   %s\nbigrams:    %s\ntrigrams:   %s\nsize:       %s\ndigest:     %s\n",
		info.Order,
		humanize.Comma(int64(info.Vocabulary)),
		humanize.Comma(int64(info.Unigrams)),
		humanize.Comma(int64(info.Bigrams)),
		humanize.Comma(int64(info.Trigrams)),
		size,
		info.Digest,
	)
	return err
}
