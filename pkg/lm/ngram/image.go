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
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// imageMagic opens every model image.
var imageMagic = [8]byte{'L', 'M', 'S', 'C', 'O', 'R', 'E', 0}

const imageVersion = 1

// imageHeader is the CBOR-encoded descriptor that follows the magic and
// the header length. Section sizes are derived from its counts.
type imageHeader struct {
	Version        int      `cbor:"version"`
	Order          int      `cbor:"order"`
	VocabularySize int      `cbor:"vocabularySize"`
	Bigrams        int      `cbor:"bigrams"`
	Trigrams       int      `cbor:"trigrams"`
	Digest         uint64   `cbor:"digest"`
	Words          []string `cbor:"words,omitempty"`
}

// sectionSizes returns the byte length of every data section in file order.
func (h *imageHeader) sectionSizes() []int {
	v, b, t := h.VocabularySize, h.Bigrams, h.Trigrams
	return []int{
		v * 8,       // unigrams
		(v + 1) * 4, // bigram offsets
		b * 4,       // bigram keys
		b * 8,       // bigram probabilities
		b * 8,       // bigram back-off weights
		(v + 1) * 4, // trigram offsets
		t * 8,       // trigram keys
		t * 8,       // trigram probabilities
	}
}

// WriteImage writes tables in the sorted layout to w so that OpenMapped can
// serve them without decoding. words, if given, must hold one word per
// unigram and is stored alongside the tables.
func WriteImage(w io.Writer, tables *Tables, words []string) error {
	if len(words) > 0 && len(words) != len(tables.Unigrams) {
		return fmt.Errorf("%w: %d words for %d unigrams", ErrInvalidModel, len(words), len(tables.Unigrams))
	}

	s, err := NewSortedStore(tables)
	if err != nil {
		return err
	}
	digest, err := Digest(tables)
	if err != nil {
		return err
	}

	header := imageHeader{
		Version:        imageVersion,
		Order:          s.order,
		VocabularySize: len(s.unigrams),
		Bigrams:        len(s.bigramKeys),
		Trigrams:       len(s.trigramKeys),
		Digest:         digest,
		Words:          words,
	}

	encMode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return fmt.Errorf("failed to create CBOR encoder: %w", err)
	}
	hb, err := encMode.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal image header: %w", err)
	}

	bw := bufio.NewWriter(w)
	sections := []interface{}{
		imageMagic,
		uint32(len(hb)), //nolint:gosec // headers are small
		hb,
		s.unigrams,
		s.bigramOffsets,
		s.bigramKeys,
		s.bigramProbs,
		s.bigramBackoffs,
		s.trigramOffsets,
		s.trigramKeys,
		s.trigramProbs,
	}
	for _, section := range sections {
		if err := binary.Write(bw, binary.LittleEndian, section); err != nil {
			return fmt.Errorf("failed to write model image: %w", err)
		}
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write model image: %w", err)
	}
	return nil
}

// parseImage splits an image into its header and data sections.
func parseImage(data []byte) (*imageHeader, [][]byte, error) {
	prefix := len(imageMagic) + 4
	if len(data) < prefix || !bytes.Equal(data[:len(imageMagic)], imageMagic[:]) {
		return nil, nil, fmt.Errorf("%w: bad magic", ErrCorruptImage)
	}

	hlen := int(binary.LittleEndian.Uint32(data[len(imageMagic):prefix]))
	if hlen > len(data)-prefix {
		return nil, nil, fmt.Errorf("%w: header length %d exceeds image size %d", ErrCorruptImage, hlen, len(data))
	}

	var header imageHeader
	if err := cbor.Unmarshal(data[prefix:prefix+hlen], &header); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrCorruptImage, err)
	}
	if header.Version != imageVersion {
		return nil, nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptImage, header.Version)
	}
	if header.Order < 1 || header.Order > MaxOrder {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnsupportedOrder, header.Order)
	}
	if header.VocabularySize <= 0 || header.Bigrams < 0 || header.Trigrams < 0 {
		return nil, nil, fmt.Errorf("%w: bad table sizes", ErrCorruptImage)
	}
	// Every counted entry occupies at least 8 bytes, which also keeps the
	// section size arithmetic from overflowing.
	if limit := len(data) / 8; header.VocabularySize > limit || header.Bigrams > limit || header.Trigrams > limit {
		return nil, nil, fmt.Errorf("%w: table sizes %d/%d/%d exceed image size %d", ErrCorruptImage,
			header.VocabularySize, header.Bigrams, header.Trigrams, len(data))
	}
	if len(header.Words) > 0 && len(header.Words) != header.VocabularySize {
		return nil, nil, fmt.Errorf("%w: %d words for %d unigrams", ErrCorruptImage,
			len(header.Words), header.VocabularySize)
	}

	sizes := header.sectionSizes()
	sections := make([][]byte, len(sizes))
	off := prefix + hlen
	for i, n := range sizes {
		if n < 0 || n > len(data)-off {
			return nil, nil, fmt.Errorf("%w: section %d truncated", ErrCorruptImage, i)
		}
		sections[i] = data[off : off+n]
		off += n
	}

	return &header, sections, nil
}
