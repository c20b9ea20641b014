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

package ngram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-lm-scorer/pkg/utils/logging"
)

const defaultRedisChunkSize = 4096

// ErrModelNotFound is returned by RedisMirror.Load for unknown model names.
var ErrModelNotFound = errors.New("model not found")

// RedisMirrorConfig holds the configuration for the RedisMirror.
type RedisMirrorConfig struct {
	// Address is the Redis server address.
	Address string `json:"address,omitempty"`
	// KeyPrefix namespaces every key written by the mirror.
	KeyPrefix string `json:"keyPrefix,omitempty"`
	// ChunkSize is the number of n-gram rows stored per hash field.
	ChunkSize int `json:"chunkSize,omitempty"`
}

// DefaultRedisMirrorConfig returns the default RedisMirror configuration.
func DefaultRedisMirrorConfig() *RedisMirrorConfig {
	return &RedisMirrorConfig{
		Address:   "redis://127.0.0.1:6379",
		KeyPrefix: "lm",
		ChunkSize: defaultRedisChunkSize,
	}
}

// RedisMirror publishes model tables to Redis and loads them back, so that
// many scorer replicas can share one model without shipping files.
// The mirror only moves tables; every loaded model is validated and served
// from memory.
type RedisMirror struct {
	RedisClient *redis.Client
	prefix      string
	chunkSize   int
}

// NewRedisMirror creates a new RedisMirror instance.
func NewRedisMirror(config *RedisMirrorConfig) (*RedisMirror, error) {
	if config == nil {
		config = DefaultRedisMirrorConfig()
	}

	address := config.Address
	if !strings.HasPrefix(address, "redis://") &&
		!strings.HasPrefix(address, "rediss://") &&
		!strings.HasPrefix(address, "unix://") {
		address = "redis://" + address
	}

	redisOpt, err := redis.ParseURL(address)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redisURL: %w", err)
	}

	redisClient := redis.NewClient(redisOpt)
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = DefaultRedisMirrorConfig().KeyPrefix
	}
	chunkSize := config.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultRedisChunkSize
	}

	return &RedisMirror{
		RedisClient: redisClient,
		prefix:      prefix,
		chunkSize:   chunkSize,
	}, nil
}

func (r *RedisMirror) key(name, part string) string {
	return r.prefix + ":" + name + ":" + part
}

// Publish validates tables and atomically replaces the model stored under
// name. words, if given, must hold one word per unigram.
func (r *RedisMirror) Publish(ctx context.Context, name string, tables *Tables, words []string) error {
	if err := tables.Validate(); err != nil {
		return err
	}
	if len(words) > 0 && len(words) != len(tables.Unigrams) {
		return fmt.Errorf("%w: %d words for %d unigrams", ErrInvalidModel, len(words), len(tables.Unigrams))
	}

	digest, err := Digest(tables)
	if err != nil {
		return err
	}

	unigrams, err := msgpack.Marshal(tables.Unigrams)
	if err != nil {
		return fmt.Errorf("failed to encode unigrams: %w", err)
	}
	wordsBlob, err := msgpack.Marshal(words)
	if err != nil {
		return fmt.Errorf("failed to encode words: %w", err)
	}
	bigramChunks, err := encodeChunks(tables.Bigrams, r.chunkSize)
	if err != nil {
		return fmt.Errorf("failed to encode bigrams: %w", err)
	}
	trigramChunks, err := encodeChunks(tables.Trigrams, r.chunkSize)
	if err != nil {
		return fmt.Errorf("failed to encode trigrams: %w", err)
	}

	// MULTI/EXEC so readers never observe a half-published model
	pipe := r.RedisClient.TxPipeline()
	pipe.Del(ctx, r.key(name, "meta"), r.key(name, "words"), r.key(name, "1"), r.key(name, "2"), r.key(name, "3"))
	pipe.Set(ctx, r.key(name, "words"), wordsBlob, 0)
	pipe.Set(ctx, r.key(name, "1"), unigrams, 0)
	if len(bigramChunks) > 0 {
		pipe.HSet(ctx, r.key(name, "2"), bigramChunks)
	}
	if len(trigramChunks) > 0 {
		pipe.HSet(ctx, r.key(name, "3"), trigramChunks)
	}
	pipe.HSet(ctx, r.key(name, "meta"),
		"order", tables.Order,
		"digest", strconv.FormatUint(digest, 16),
		"bigramChunks", len(bigramChunks),
		"trigramChunks", len(trigramChunks),
	)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish model to Redis: %w", err)
	}

	klog.FromContext(ctx).V(logging.DEBUG).WithName("ngram.RedisMirror.Publish").Info("published model",
		"name", name, "stats", tables.Stats(), "digest", strconv.FormatUint(digest, 16))
	return nil
}

// Load reads the model stored under name, checks it against the digest
// recorded at publish time and returns its tables and words.
func (r *RedisMirror) Load(ctx context.Context, name string) (*Tables, []string, error) {
	// MULTI/EXEC so a concurrent Publish cannot land between the reads
	pipe := r.RedisClient.TxPipeline()
	metaCmd := pipe.HGetAll(ctx, r.key(name, "meta"))
	wordsCmd := pipe.Get(ctx, r.key(name, "words"))
	unigramsCmd := pipe.Get(ctx, r.key(name, "1"))
	bigramsCmd := pipe.HGetAll(ctx, r.key(name, "2"))
	trigramsCmd := pipe.HGetAll(ctx, r.key(name, "3"))

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, nil, fmt.Errorf("redis pipeline execution failed: %w", err)
	}

	meta, err := metaCmd.Result()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read model metadata: %w", err)
	}
	if len(meta) == 0 {
		return nil, nil, fmt.Errorf("%w: %q", ErrModelNotFound, name)
	}

	order, err := strconv.Atoi(meta["order"])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: order %q", ErrInvalidModel, meta["order"])
	}
	digest, err := strconv.ParseUint(meta["digest"], 16, 64)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: digest %q", ErrInvalidModel, meta["digest"])
	}

	t := &Tables{Order: order}

	unigrams, err := unigramsCmd.Bytes()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read unigrams: %w", err)
	}
	if err := msgpack.Unmarshal(unigrams, &t.Unigrams); err != nil {
		return nil, nil, fmt.Errorf("failed to decode unigrams: %w", err)
	}

	var words []string
	if blob, err := wordsCmd.Bytes(); err == nil {
		if err := msgpack.Unmarshal(blob, &words); err != nil {
			return nil, nil, fmt.Errorf("failed to decode words: %w", err)
		}
	} else if !errors.Is(err, redis.Nil) {
		return nil, nil, fmt.Errorf("failed to read words: %w", err)
	}

	if t.Bigrams, err = decodeChunks[BigramRow](bigramsCmd, meta["bigramChunks"]); err != nil {
		return nil, nil, fmt.Errorf("failed to decode bigrams: %w", err)
	}
	if t.Trigrams, err = decodeChunks[TrigramRow](trigramsCmd, meta["trigramChunks"]); err != nil {
		return nil, nil, fmt.Errorf("failed to decode trigrams: %w", err)
	}

	if err := t.Validate(); err != nil {
		return nil, nil, err
	}
	got, err := Digest(t)
	if err != nil {
		return nil, nil, err
	}
	if got != digest {
		return nil, nil, fmt.Errorf("%w: digest %x, published %x", ErrInvalidModel, got, digest)
	}

	return t, words, nil
}

// Delete removes the model stored under name.
func (r *RedisMirror) Delete(ctx context.Context, name string) error {
	err := r.RedisClient.Del(ctx,
		r.key(name, "meta"), r.key(name, "words"), r.key(name, "1"), r.key(name, "2"), r.key(name, "3"),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to delete model from Redis: %w", err)
	}
	return nil
}

// encodeChunks splits rows into msgpack blobs keyed by chunk index.
func encodeChunks[T any](rows []T, chunkSize int) (map[string]interface{}, error) {
	chunks := make(map[string]interface{})
	for i := 0; i*chunkSize < len(rows); i++ {
		end := min((i+1)*chunkSize, len(rows))
		b, err := msgpack.Marshal(rows[i*chunkSize : end])
		if err != nil {
			return nil, err
		}
		chunks[strconv.Itoa(i)] = b
	}
	return chunks, nil
}

func decodeChunks[T any](cmd *redis.MapStringStringCmd, want string) ([]T, error) {
	chunks, err := cmd.Result()
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(want)
	if err != nil || n != len(chunks) {
		return nil, fmt.Errorf("%w: %d chunks, metadata says %q", ErrInvalidModel, len(chunks), want)
	}

	var rows []T
	for i := 0; i < n; i++ {
		blob, ok := chunks[strconv.Itoa(i)]
		if !ok {
			return nil, fmt.Errorf("%w: missing chunk %d", ErrInvalidModel, i)
		}
		var part []T
		if err := msgpack.Unmarshal([]byte(blob), &part); err != nil {
			return nil, err
		}
		rows = append(rows, part...)
	}
	return rows, nil
}
