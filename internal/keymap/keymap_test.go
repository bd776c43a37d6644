package keymap

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertAndLookup(t *testing.T) {
	m := New()

	stored, err := m.Insert("object42", ChunkSubchunk{Chunk: 7, Subchunk: 3})
	require.NoError(t, err)
	assert.Equal(t, ChunkSubchunk{Chunk: 7, Subchunk: 3}, stored)

	got, ok := m.Lookup("object42")
	require.True(t, ok)
	assert.Equal(t, stored, got)

	_, ok = m.Lookup("missing")
	assert.False(t, ok)
}

// TestDuplicateInsertKeepsFirst pins the first-writer-wins contract: the
// duplicate reports the stored mapping and never overwrites it.
func TestDuplicateInsertKeepsFirst(t *testing.T) {
	m := New()
	_, err := m.Insert("object42", ChunkSubchunk{Chunk: 7, Subchunk: 3})
	require.NoError(t, err)

	stored, err := m.Insert("object42", ChunkSubchunk{Chunk: 9, Subchunk: 9})
	require.ErrorIs(t, err, ErrDuplicateKey)
	assert.Equal(t, ChunkSubchunk{Chunk: 7, Subchunk: 3}, stored, "duplicate must report the existing mapping")

	got, ok := m.Lookup("object42")
	require.True(t, ok)
	assert.Equal(t, ChunkSubchunk{Chunk: 7, Subchunk: 3}, got, "map must be unchanged")
}

// TestIdempotentRetry covers the client's retry path: the same triple
// inserted twice keeps the same mapping, and the second attempt is the
// duplicate error.
func TestIdempotentRetry(t *testing.T) {
	m := New()
	cs := ChunkSubchunk{Chunk: 1, Subchunk: 2}
	_, err := m.Insert("k", cs)
	require.NoError(t, err)
	stored, err := m.Insert("k", cs)
	require.ErrorIs(t, err, ErrDuplicateKey)
	assert.Equal(t, cs, stored)
}

func TestStats(t *testing.T) {
	m := New()
	assert.Equal(t, 0, m.Stats().Keys)
	for i := 0; i < 5; i++ {
		_, err := m.Insert(fmt.Sprintf("k%d", i), ChunkSubchunk{Chunk: int32(i)})
		require.NoError(t, err)
	}
	assert.Equal(t, 5, m.Stats().Keys)
}

// TestConcurrentInsertSingleWinner races many writers at one key: exactly
// one wins and everyone observes the winner's mapping.
func TestConcurrentInsertSingleWinner(t *testing.T) {
	m := New()
	const writers = 32

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := m.Insert("contested", ChunkSubchunk{Chunk: int32(i)})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one insert must win")
	_, ok := m.Lookup("contested")
	assert.True(t, ok)
	assert.Equal(t, 1, m.Stats().Keys)
}
