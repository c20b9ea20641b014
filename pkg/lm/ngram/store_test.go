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

package ngram_test

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/llm-d/llm-d-lm-scorer/pkg/lm/ngram"
)

func TestHashedStoreBehavior(t *testing.T) {
	testCommonStoreBehavior(t, func(t *testing.T, tables *Tables) Store {
		t.Helper()
		store, err := NewHashedStore(tables)
		require.NoError(t, err)
		return store
	})
}

func TestSortedStoreBehavior(t *testing.T) {
	testCommonStoreBehavior(t, func(t *testing.T, tables *Tables) Store {
		t.Helper()
		store, err := NewSortedStore(tables)
		require.NoError(t, err)
		return store
	})
}

// writeImageForTesting writes tables to a temporary image file.
func writeImageForTesting(t *testing.T, tables *Tables, words []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.img")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, WriteImage(f, tables, words))
	require.NoError(t, f.Close())
	return path
}

func TestMappedStoreBehavior(t *testing.T) {
	testCommonStoreBehavior(t, func(t *testing.T, tables *Tables) Store {
		t.Helper()
		store, err := OpenMapped(writeImageForTesting(t, tables, catWords))
		require.NoError(t, err)
		t.Cleanup(func() {
			assert.NoError(t, store.Close())
		})
		return store
	})
}

func TestNewStoreLayouts(t *testing.T) {
	tables := newCatTables(t)

	store, err := NewStore(tables, nil)
	require.NoError(t, err)
	assert.IsType(t, &HashedStore{}, store)

	store, err = NewStore(tables, &StoreConfig{Layout: LayoutSorted})
	require.NoError(t, err)
	assert.IsType(t, &SortedStore{}, store)

	_, err = NewStore(tables, &StoreConfig{Layout: "quantum"})
	assert.Error(t, err)
}

func TestMappedStoreRoundTrip(t *testing.T) {
	tables := newCatTables(t)
	store, err := OpenMapped(writeImageForTesting(t, tables, catWords))
	require.NoError(t, err)

	assert.Equal(t, catWords, store.Words())
	require.NoError(t, store.Verify())

	want, err := Digest(tables)
	require.NoError(t, err)
	assert.Equal(t, want, store.Digest())

	decoded, err := store.Tables()
	require.NoError(t, err)
	assert.Equal(t, tables, decoded)

	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "Close is idempotent")
	_, ok := store.Bigram(3, 4)
	assert.False(t, ok, "closed store misses")
	assert.Equal(t, LogZero, store.Unigram(3))
	_, err = store.Tables()
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestMappedStoreRejectsCorruptImages(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteImage(&buf, newCatTables(t), nil))
	image := buf.Bytes()

	write := func(t *testing.T, data []byte) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "bad.img")
		require.NoError(t, os.WriteFile(path, data, 0o600))
		return path
	}

	t.Run("BadMagic", func(t *testing.T) {
		bad := bytes.Clone(image)
		bad[0] = 'X'
		_, err := OpenMapped(write(t, bad))
		assert.ErrorIs(t, err, ErrCorruptImage)
	})

	t.Run("Truncated", func(t *testing.T) {
		_, err := OpenMapped(write(t, image[:len(image)-4]))
		assert.ErrorIs(t, err, ErrCorruptImage)
	})

	t.Run("TooSmall", func(t *testing.T) {
		_, err := OpenMapped(write(t, image[:3]))
		assert.ErrorIs(t, err, ErrCorruptImage)
	})

	t.Run("OversizedCounts", func(t *testing.T) {
		for name, header := range map[string]map[string]any{
			"Vocabulary": {"version": 1, "order": 3, "vocabularySize": 1 << 61},
			"Bigrams":    {"version": 1, "order": 3, "vocabularySize": 4, "bigrams": 1 << 62},
			"Trigrams":   {"version": 1, "order": 3, "vocabularySize": 4, "trigrams": 1 << 40},
		} {
			t.Run(name, func(t *testing.T) {
				encoded, err := cbor.Marshal(header)
				require.NoError(t, err)

				bad := append([]byte("LMSCORE\x00"), binary.LittleEndian.AppendUint32(nil, uint32(len(encoded)))...)
				bad = append(bad, encoded...)
				bad = append(bad, make([]byte, 64)...)

				require.NotPanics(t, func() {
					_, err = OpenMapped(write(t, bad))
				})
				assert.ErrorIs(t, err, ErrCorruptImage)
			})
		}
	})

	t.Run("FlippedProbability", func(t *testing.T) {
		bad := bytes.Clone(image)
		bad[len(bad)-1] ^= 0x01
		store, err := OpenMapped(write(t, bad))
		require.NoError(t, err)
		defer store.Close()
		assert.ErrorIs(t, store.Verify(), ErrCorruptImage)
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := OpenMapped(filepath.Join(t.TempDir(), "nope.img"))
		assert.Error(t, err)
	})
}

func TestWriteImageRejectsWordMismatch(t *testing.T) {
	var buf bytes.Buffer
	err := WriteImage(&buf, newCatTables(t), []string{"<unk>"})
	assert.ErrorIs(t, err, ErrInvalidModel)
}
