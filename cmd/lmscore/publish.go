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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/ngram"
)

func newPublishCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Publish a model image to the Redis mirror",
		Long: `Verify a model image and publish its tables and vocabulary to Redis under
--redis-name, replacing any model previously stored under that name.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.resolve(cmd)
			if err != nil {
				return err
			}
			if cfg.Model == "" || cfg.Redis.Name == "" {
				return fmt.Errorf("publish needs both --model and --redis-name")
			}

			store, err := ngram.OpenMapped(cfg.Model)
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck // read-only mapping

			if err := store.Verify(); err != nil {
				return err
			}
			tables, err := store.Tables()
			if err != nil {
				return err
			}

			mirror, err := ngram.NewRedisMirror(&ngram.RedisMirrorConfig{
				Address:   cfg.Redis.Address,
				KeyPrefix: cfg.Redis.KeyPrefix,
			})
			if err != nil {
				return err
			}
			defer mirror.RedisClient.Close()

			if err := mirror.Publish(cmd.Context(), cfg.Redis.Name, tables, store.Words()); err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "published %s (%016x)\n", cfg.Redis.Name, store.Digest())
			return err
		},
	}
}
