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
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/suite"

	"github.com/llm-d/llm-d-lm-scorer/examples/testdata"
	"github.com/llm-d/llm-d-lm-scorer/pkg/lm"
	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/ngram"
	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/vocab"
)

const (
	defaultModelName = testdata.ModelName
)

// LMScorerSuite defines a testify test suite for end-to-end testing of a
// model published to and loaded from Redis.
// It uses a mock Redis server (miniredis) shared by a publisher and the
// scorer replicas under test.
type LMScorerSuite struct {
	suite.Suite

	ctx    context.Context
	cancel context.CancelFunc
	server *miniredis.Miniredis
	mirror *ngram.RedisMirror
	config *lm.Config
}

// SetupTest starts the mock Redis and publishes the cat model before each test.
func (s *LMScorerSuite) SetupTest() {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	var err error
	s.server, err = miniredis.Run()
	s.Require().NoError(err)

	mirrorCfg := ngram.DefaultRedisMirrorConfig()
	mirrorCfg.Address = s.server.Addr()
	mirrorCfg.ChunkSize = 3 // several chunks per table
	s.mirror, err = ngram.NewRedisMirror(mirrorCfg)
	s.Require().NoError(err)

	s.config = lm.DefaultConfig()
	s.config.EnableMetrics = true

	s.Require().NoError(s.mirror.Publish(s.ctx, defaultModelName, testdata.CatTables(), testdata.CatWords))
}

// TearDownTest cleans up resources and stops the mock Redis after each test.
func (s *LMScorerSuite) TearDownTest() {
	s.cancel()
	if s.mirror != nil {
		s.Require().NoError(s.mirror.RedisClient.Close())
	}
	if s.server != nil {
		s.server.Close()
	}
}

// loadModel plays a scorer replica: it loads the named model from Redis
// into the given layout.
func (s *LMScorerSuite) loadModel(name string, layout ngram.Layout) lm.Model {
	tables, words, err := s.mirror.Load(s.ctx, name)
	s.Require().NoError(err)

	store, err := ngram.NewStore(tables, &ngram.StoreConfig{Layout: layout})
	s.Require().NoError(err)

	vocabulary, err := vocab.New(words)
	s.Require().NoError(err)

	model, err := lm.NewModel(s.ctx, vocabulary, store, s.config)
	s.Require().NoError(err)
	s.T().Cleanup(model.Close)
	return model
}

// TestLMScorerSuite runs the LMScorerSuite using testify's suite runner.
func TestLMScorerSuite(t *testing.T) {
	suite.Run(t, new(LMScorerSuite))
}
