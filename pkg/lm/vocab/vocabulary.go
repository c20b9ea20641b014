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

// Package vocab maps words to the dense integer ids used by the n-gram
// tables and back.
package vocab

import (
	"errors"
	"fmt"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/llm-d/llm-d-lm-scorer/pkg/utils"
)

// ID is a dense, zero-based vocabulary id.
type ID int32

const (
	// UnknownWord is the surface form of the unknown token.
	UnknownWord = "<unk>"
	// SentenceStartWord is the surface form of the sentence-start token.
	SentenceStartWord = "<s>"
	// SentenceEndWord is the surface form of the sentence-end token.
	SentenceEndWord = "</s>"
)

const (
	// UnknownID is the id every out-of-vocabulary word or id resolves to.
	UnknownID ID = iota
	// SentenceStartID is the id of <s>.
	SentenceStartID
	// SentenceEndID is the id of </s>.
	SentenceEndID

	reservedCount
)

var (
	// ErrInvalidArgument is returned when an id outside [0, Size()) is asked
	// to resolve to a word.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrDuplicateWord is returned when two ids would share a word.
	ErrDuplicateWord = errors.New("duplicate word")
	// ErrReservedWord is returned when the reserved tokens are missing or
	// out of place.
	ErrReservedWord = errors.New("reserved word mismatch")
)

// Vocabulary is an immutable word<->id bijection. Ids are dense in
// [0, Size()) and the first three ids are always <unk>, <s> and </s>.
//
// A Vocabulary is safe for concurrent use; it is never mutated after New.
type Vocabulary struct {
	words []string
	ids   map[string]ID
}

// New builds a Vocabulary from an ordered word list. The list must start
// with <unk>, <s>, </s> and must not contain duplicates.
func New(words []string) (*Vocabulary, error) {
	reserved := []string{UnknownWord, SentenceStartWord, SentenceEndWord}
	if len(words) < len(reserved) {
		return nil, fmt.Errorf("%w: need at least %d words, got %d",
			ErrReservedWord, len(reserved), len(words))
	}
	for i, w := range reserved {
		if words[i] != w {
			return nil, fmt.Errorf("%w: id %d must be %q, got %q", ErrReservedWord, i, w, words[i])
		}
	}

	seen := sets.New[string]()
	ids := make(map[string]ID, len(words))
	for i, w := range words {
		if seen.Has(w) {
			return nil, fmt.Errorf("%w: %q at id %d was already mapped to id %d",
				ErrDuplicateWord, w, i, ids[w])
		}
		seen.Insert(w)
		ids[w] = ID(i) //nolint:gosec // vocabulary sizes are far below 2^31
	}

	return &Vocabulary{
		words: append([]string(nil), words...),
		ids:   ids,
	}, nil
}

// MustNew is like New but panics on error.
func MustNew(words []string) *Vocabulary {
	v, err := New(words)
	if err != nil {
		panic(err)
	}
	return v
}

// Size returns the number of ids in the vocabulary.
func (v *Vocabulary) Size() int {
	return len(v.words)
}

// IDOf returns the id of word, or UnknownID if the word was never observed.
func (v *Vocabulary) IDOf(word string) ID {
	if id, ok := v.ids[word]; ok {
		return id
	}
	return UnknownID
}

// IDsOf maps each word to its id.
func (v *Vocabulary) IDsOf(words []string) []ID {
	return utils.SliceMap(words, v.IDOf)
}

// WordOf returns the word mapped to id. It fails with ErrInvalidArgument if
// id is outside [0, Size()).
func (v *Vocabulary) WordOf(id ID) (string, error) {
	if !v.Contains(id) {
		return "", fmt.Errorf("%w: id %d outside [0, %d)", ErrInvalidArgument, id, len(v.words))
	}
	return v.words[id], nil
}

// WordsOf maps each id back to its word, failing on the first id out of
// range.
func (v *Vocabulary) WordsOf(ids []ID) ([]string, error) {
	return utils.SliceMapE(ids, v.WordOf)
}

// Contains reports whether id is inside [0, Size()).
func (v *Vocabulary) Contains(id ID) bool {
	return id >= 0 && int(id) < len(v.words)
}

// Resolve returns id unchanged when it is in range and UnknownID otherwise.
func (v *Vocabulary) Resolve(id ID) ID {
	if v.Contains(id) {
		return id
	}
	return UnknownID
}

// Words returns a copy of the ordered word list.
func (v *Vocabulary) Words() []string {
	return append([]string(nil), v.words...)
}

// IsReserved reports whether id is one of <unk>, <s>, </s>.
func IsReserved(id ID) bool {
	return id >= 0 && id < reservedCount
}
