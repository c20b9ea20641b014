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
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/llm-d/llm-d-lm-scorer/pkg/lm/vocab"
)

// ErrStoreClosed is returned by operations on a closed MappedStore.
var ErrStoreClosed = errors.New("mapped store is closed")

// MappedStore serves a model image written by WriteImage straight from a
// read-only memory mapping. It uses the SortedStore layout, so large models
// cost page cache rather than heap.
//
// Lookups are safe for concurrent use. Close must not race with lookups;
// after Close every lookup misses.
type MappedStore struct {
	data   []byte
	header *imageHeader

	unigrams       []byte
	bigramOffsets  []byte
	bigramKeys     []byte
	bigramProbs    []byte
	bigramBackoffs []byte
	trigramOffsets []byte
	trigramKeys    []byte
	trigramProbs   []byte

	closed atomic.Bool
}

var _ Store = &MappedStore{}

// OpenMapped maps the model image at path read-only.
func OpenMapped(path string) (*MappedStore, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mmap: open model image: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("mmap: stat model image: %w", err)
	}
	if stat.Size() < int64(len(imageMagic)+4) {
		return nil, fmt.Errorf("%w: image size %d", ErrCorruptImage, stat.Size())
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(stat.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: map model image: %w", err)
	}

	s, err := newMappedStore(data)
	if err != nil {
		_ = unix.Munmap(data)
		return nil, err
	}
	return s, nil
}

func newMappedStore(data []byte) (*MappedStore, error) {
	header, sections, err := parseImage(data)
	if err != nil {
		return nil, err
	}

	s := &MappedStore{
		data:           data,
		header:         header,
		unigrams:       sections[0],
		bigramOffsets:  sections[1],
		bigramKeys:     sections[2],
		bigramProbs:    sections[3],
		bigramBackoffs: sections[4],
		trigramOffsets: sections[5],
		trigramKeys:    sections[6],
		trigramProbs:   sections[7],
	}

	if err := checkOffsets(s.bigramOffsets, header.Bigrams); err != nil {
		return nil, fmt.Errorf("%w: bigram offsets: %w", ErrCorruptImage, err)
	}
	if err := checkOffsets(s.trigramOffsets, header.Trigrams); err != nil {
		return nil, fmt.Errorf("%w: trigram offsets: %w", ErrCorruptImage, err)
	}

	return s, nil
}

func checkOffsets(offsets []byte, total int) error {
	prev := uint32(0)
	for i := 0; i < len(offsets)/4; i++ {
		cur := binary.LittleEndian.Uint32(offsets[i*4:])
		if cur < prev {
			return fmt.Errorf("not monotonic at %d", i)
		}
		prev = cur
	}
	if int(prev) != total {
		return fmt.Errorf("last offset %d, want %d", prev, total)
	}
	return nil
}

// Order returns the highest n-gram order held by the store.
func (s *MappedStore) Order() int { return s.header.Order }

// VocabularySize returns the number of unigram entries.
func (s *MappedStore) VocabularySize() int { return s.header.VocabularySize }

// Words returns the vocabulary stored in the image, if any.
func (s *MappedStore) Words() []string {
	return append([]string(nil), s.header.Words...)
}

// Digest returns the digest recorded when the image was written.
func (s *MappedStore) Digest() uint64 { return s.header.Digest }

// SizeBytes returns the size of the mapping.
func (s *MappedStore) SizeBytes() int { return len(s.data) }

// Unigram returns log10 P(id).
func (s *MappedStore) Unigram(id vocab.ID) float64 {
	if s.closed.Load() || !s.inRange(id) {
		return LogZero
	}
	return f64At(s.unigrams, int(id))
}

// Bigram returns the entry of the bigram (id0, id1) if it was observed.
func (s *MappedStore) Bigram(id0, id1 vocab.ID) (BigramEntry, bool) {
	if s.closed.Load() || !s.inRange(id0) || !s.inRange(id1) {
		return BigramEntry{}, false
	}
	lo, hi := int(u32At(s.bigramOffsets, int(id0))), int(u32At(s.bigramOffsets, int(id0)+1))
	target := uint32(id1) //nolint:gosec // checked non-negative
	i := lo + sort.Search(hi-lo, func(i int) bool {
		return u32At(s.bigramKeys, lo+i) >= target
	})
	if i >= hi || u32At(s.bigramKeys, i) != target {
		return BigramEntry{}, false
	}
	return BigramEntry{LogProb: f64At(s.bigramProbs, i), Backoff: f64At(s.bigramBackoffs, i)}, true
}

// Trigram returns log10 P(id2 | id0, id1) if the trigram was observed.
func (s *MappedStore) Trigram(id0, id1, id2 vocab.ID) (float64, bool) {
	if s.closed.Load() || !s.inRange(id0) || !s.inRange(id1) || !s.inRange(id2) {
		return 0, false
	}
	lo, hi := int(u32At(s.trigramOffsets, int(id0))), int(u32At(s.trigramOffsets, int(id0)+1))
	target := packSortedTrigramKey(id1, id2)
	i := lo + sort.Search(hi-lo, func(i int) bool {
		return u64At(s.trigramKeys, lo+i) >= target
	})
	if i >= hi || u64At(s.trigramKeys, i) != target {
		return 0, false
	}
	return f64At(s.trigramProbs, i), true
}

// Stats returns the table sizes.
func (s *MappedStore) Stats() Stats {
	return Stats{
		Order:    s.header.Order,
		Unigrams: s.header.VocabularySize,
		Bigrams:  s.header.Bigrams,
		Trigrams: s.header.Trigrams,
	}
}

// Tables decodes the mapped image back into Tables.
func (s *MappedStore) Tables() (*Tables, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	h := s.header
	t := &Tables{
		Order:    h.Order,
		Unigrams: make([]float64, h.VocabularySize),
		Bigrams:  make([]BigramRow, 0, h.Bigrams),
		Trigrams: make([]TrigramRow, 0, h.Trigrams),
	}
	for i := range t.Unigrams {
		t.Unigrams[i] = f64At(s.unigrams, i)
	}
	for id0 := 0; id0 < h.VocabularySize; id0++ {
		for i := u32At(s.bigramOffsets, id0); i < u32At(s.bigramOffsets, id0+1); i++ {
			t.Bigrams = append(t.Bigrams, BigramRow{
				ID0:     vocab.ID(id0), //nolint:gosec // bounded by vocabulary size
				ID1:     vocab.ID(u32At(s.bigramKeys, int(i))),
				LogProb: f64At(s.bigramProbs, int(i)),
				Backoff: f64At(s.bigramBackoffs, int(i)),
			})
		}
		for i := u32At(s.trigramOffsets, id0); i < u32At(s.trigramOffsets, id0+1); i++ {
			key := u64At(s.trigramKeys, int(i))
			t.Trigrams = append(t.Trigrams, TrigramRow{
				ID0:     vocab.ID(id0),       //nolint:gosec // bounded by vocabulary size
				ID1:     vocab.ID(key >> 32), //nolint:gosec // packed 32-bit id
				ID2:     vocab.ID(uint32(key)),
				LogProb: f64At(s.trigramProbs, int(i)),
			})
		}
	}
	return t, nil
}

// Verify recomputes the digest of the mapped tables and compares it with
// the one recorded in the image.
func (s *MappedStore) Verify() error {
	t, err := s.Tables()
	if err != nil {
		return err
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptImage, err)
	}
	digest, err := Digest(t)
	if err != nil {
		return err
	}
	if digest != s.header.Digest {
		return fmt.Errorf("%w: digest %x, recorded %x", ErrCorruptImage, digest, s.header.Digest)
	}
	return nil
}

// Close releases the memory mapping. It is safe to call Close multiple
// times; subsequent calls are no-ops.
func (s *MappedStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := unix.Munmap(s.data); err != nil {
		return fmt.Errorf("mmap: munmap: %w", err)
	}
	return nil
}

func (s *MappedStore) inRange(id vocab.ID) bool {
	return id >= 0 && int(id) < s.header.VocabularySize
}

func u32At(b []byte, i int) uint32 {
	return binary.LittleEndian.Uint32(b[i*4:])
}

func u64At(b []byte, i int) uint64 {
	return binary.LittleEndian.Uint64(b[i*8:])
}

func f64At(b []byte, i int) float64 {
	return math.Float64frombits(u64At(b, i))
}
