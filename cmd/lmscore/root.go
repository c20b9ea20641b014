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
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-lm-scorer/pkg/lm"
	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/ngram"
	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/vocab"
)

// options are the persistent flags. Set flags override the YAML config.
type options struct {
	configPath string
	model      string
	redisAddr  string
	redisName  string
	cacheKind  string
	cacheSize  string
	workers    int
	metrics    bool
	jsonOutput bool
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "lmscore",
		Short: "Score sentences with an n-gram back-off language model",
		Long: `lmscore scores sentences with a trigram back-off language model.

The model is either a model image (--model) or a model mirrored in Redis
(--redis-name). Settings may also come from a YAML file (--config); flags
take precedence.

Examples:
  lmscore score --model cat.img "the cat sat on the mat"
  lmscore inspect --model cat.img
  lmscore publish --model cat.img --redis-name cat
  lmscore score --redis-name cat --cache lru < sentences.txt`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML config file")
	flags.StringVarP(&opts.model, "model", "m", "", "Path to a model image")
	flags.StringVar(&opts.redisAddr, "redis", "", "Redis address of the model mirror")
	flags.StringVar(&opts.redisName, "redis-name", "", "Name of the model in the Redis mirror")
	flags.StringVar(&opts.cacheKind, "cache", "", "Fingerprint cache kind: direct, lru or cost-aware")
	flags.StringVar(&opts.cacheSize, "cache-size", "", "Fingerprint cache size (slots, entries or bytes such as 64MiB)")
	flags.IntVarP(&opts.workers, "workers", "w", 0, "Number of scoring workers (default GOMAXPROCS)")
	flags.BoolVar(&opts.metrics, "metrics", false, "Record Prometheus metrics for queries")
	flags.BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")

	root.AddCommand(newScoreCommand(opts))
	root.AddCommand(newInspectCommand(opts))
	root.AddCommand(newPublishCommand(opts))

	return root
}

// resolve loads the YAML config and applies the flags that were set.
func (o *options) resolve(cmd *cobra.Command) (*cliConfig, error) {
	cfg, err := loadCLIConfig(o.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("model") {
		cfg.Model = o.model
	}
	if flags.Changed("redis") {
		cfg.Redis.Address = o.redisAddr
	}
	if flags.Changed("redis-name") {
		cfg.Redis.Name = o.redisName
	}
	if flags.Changed("cache") {
		cfg.Cache.Kind = o.cacheKind
	}
	if flags.Changed("cache-size") {
		cfg.Cache.Size = o.cacheSize
	}
	if flags.Changed("workers") {
		cfg.Workers = o.workers
	}
	if flags.Changed("metrics") {
		cfg.Metrics = o.metrics
	}

	return cfg, nil
}

// loadedModel is a store with its vocabulary and provenance.
type loadedModel struct {
	store      ngram.Store
	vocabulary *vocab.Vocabulary
	digest     uint64
	// sizeBytes is the image size; zero for models loaded from Redis.
	sizeBytes int
	close     func() error
}

// loadModel opens the model named by cfg, preferring the image.
func loadModel(ctx context.Context, cfg *cliConfig) (*loadedModel, error) {
	logger := klog.FromContext(ctx).WithName("lmscore")

	var loaded *loadedModel
	var err error
	switch {
	case cfg.Model != "":
		loaded, err = loadImage(cfg.Model)
	case cfg.Redis.Name != "":
		loaded, err = loadFromRedis(ctx, cfg)
	default:
		return nil, errNoModelSource
	}
	if err != nil {
		return nil, err
	}

	if cfg.Order != 0 && cfg.Order != loaded.store.Order() {
		_ = loaded.close()
		return nil, fmt.Errorf("%w: model has order %d, config expects %d",
			ngram.ErrInvalidModel, loaded.store.Order(), cfg.Order)
	}

	logger.V(1).Info("loaded model", "stats", loaded.store.Stats(), "digest", fmt.Sprintf("%016x", loaded.digest))
	return loaded, nil
}

func loadImage(path string) (*loadedModel, error) {
	store, err := ngram.OpenMapped(path)
	if err != nil {
		return nil, err
	}

	vocabulary, err := vocab.New(store.Words())
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to load vocabulary: %w", err), store.Close())
	}

	return &loadedModel{
		store:      store,
		vocabulary: vocabulary,
		digest:     store.Digest(),
		sizeBytes:  store.SizeBytes(),
		close:      store.Close,
	}, nil
}

func loadFromRedis(ctx context.Context, cfg *cliConfig) (*loadedModel, error) {
	mirror, err := ngram.NewRedisMirror(&ngram.RedisMirrorConfig{
		Address:   cfg.Redis.Address,
		KeyPrefix: cfg.Redis.KeyPrefix,
	})
	if err != nil {
		return nil, err
	}
	defer mirror.RedisClient.Close()

	tables, words, err := mirror.Load(ctx, cfg.Redis.Name)
	if err != nil {
		return nil, err
	}

	store, err := ngram.NewStore(tables, &ngram.StoreConfig{Layout: ngram.Layout(cfg.Layout)})
	if err != nil {
		return nil, err
	}

	vocabulary, err := vocab.New(words)
	if err != nil {
		return nil, fmt.Errorf("failed to load vocabulary: %w", err)
	}

	digest, err := ngram.Digest(tables)
	if err != nil {
		return nil, err
	}

	return &loadedModel{
		store:      store,
		vocabulary: vocabulary,
		digest:     digest,
		close:      func() error { return nil },
	}, nil
}

// newModel builds the scoring model of loaded.
func newModel(ctx context.Context, cfg *cliConfig, loaded *loadedModel) (lm.Model, error) {
	modelCfg, err := cfg.modelConfig()
	if err != nil {
		return nil, err
	}
	return lm.NewModel(ctx, loaded.vocabulary, loaded.store, modelCfg)
}
