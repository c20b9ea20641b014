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
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/llm-d/llm-d-lm-scorer/pkg/lm"
	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/fingerprint"
	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/ngram"
)

// Fingerprint cache kinds accepted by the cache.kind setting.
const (
	cacheDirect    = "direct"
	cacheLRU       = "lru"
	cacheCostAware = "cost-aware"
)

var errNoModelSource = errors.New("no model source: set --model or --redis-name")

// cliConfig is the YAML configuration of lmscore. Flags override it.
type cliConfig struct {
	// Model is the path of a model image.
	Model string `yaml:"model"`
	// Order, when set, must match the order of the loaded model.
	Order int `yaml:"order"`
	// Layout is the store layout for models loaded from Redis.
	Layout string `yaml:"layout"`

	Redis   redisConfig `yaml:"redis"`
	Cache   cacheConfig `yaml:"cache"`
	Workers int         `yaml:"workers"`
	Metrics bool        `yaml:"metrics"`
}

type redisConfig struct {
	Address   string `yaml:"address"`
	KeyPrefix string `yaml:"keyPrefix"`
	Name      string `yaml:"name"`
}

type cacheConfig struct {
	// Kind is one of direct, lru or cost-aware.
	Kind string `yaml:"kind"`
	// Size is a slot count for direct, an entry count for lru and a
	// byte size such as "64MiB" for cost-aware.
	Size string `yaml:"size"`
}

func defaultCLIConfig() *cliConfig {
	return &cliConfig{
		Layout: string(ngram.LayoutHashed),
		Redis: redisConfig{
			Address:   ngram.DefaultRedisMirrorConfig().Address,
			KeyPrefix: ngram.DefaultRedisMirrorConfig().KeyPrefix,
		},
		Cache: cacheConfig{Kind: cacheDirect},
	}
}

// loadCLIConfig reads path over the defaults. An empty path yields the
// defaults.
func loadCLIConfig(path string) (*cliConfig, error) {
	cfg := defaultCLIConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// fingerprintConfig translates the cache section.
func (c *cacheConfig) fingerprintConfig() (*fingerprint.Config, error) {
	switch c.Kind {
	case cacheDirect, "":
		cfg := fingerprint.DefaultDirectMappedCacheConfig()
		if c.Size != "" {
			slots, err := strconv.Atoi(c.Size)
			if err != nil {
				return nil, fmt.Errorf("invalid direct cache size %q: %w", c.Size, err)
			}
			cfg.Slots = slots
		}
		return &fingerprint.Config{DirectMappedConfig: cfg}, nil
	case cacheLRU:
		cfg := fingerprint.DefaultLRUCacheConfig()
		if c.Size != "" {
			size, err := strconv.Atoi(c.Size)
			if err != nil {
				return nil, fmt.Errorf("invalid lru cache size %q: %w", c.Size, err)
			}
			cfg.Size = size
		}
		return &fingerprint.Config{LRUConfig: cfg}, nil
	case cacheCostAware:
		cfg := fingerprint.DefaultCostAwareCacheConfig()
		if c.Size != "" {
			cfg.Size = c.Size
		}
		return &fingerprint.Config{CostAwareConfig: cfg}, nil
	default:
		return nil, fmt.Errorf("unknown cache kind %q", c.Kind)
	}
}

// modelConfig returns the lm.Config for this configuration.
func (c *cliConfig) modelConfig() (*lm.Config, error) {
	cacheCfg, err := c.Cache.fingerprintConfig()
	if err != nil {
		return nil, err
	}

	cfg := lm.DefaultConfig()
	cfg.FingerprintCacheConfig = cacheCfg
	cfg.EnableMetrics = c.Metrics
	return cfg, nil
}
