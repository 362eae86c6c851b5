package sharded

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapStoreLoad(t *testing.T) {
	m := NewMap[int](16)

	m.Store("a", 1)
	m.Store("b", 2)

	v, ok := m.Load("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = m.Load("missing")
	assert.False(t, ok)

	assert.True(t, m.Has("b"))
	assert.Equal(t, 2, m.Count())
}

func TestMapDeleteAndClear(t *testing.T) {
	m := NewMap[string](4)
	m.Store("x", "1")
	m.Store("y", "2")

	m.Delete("x")
	assert.False(t, m.Has("x"))
	assert.Equal(t, 1, m.Count())

	m.Clear()
	assert.Equal(t, 0, m.Count())
}

func TestMapItemsSnapshot(t *testing.T) {
	m := NewMap[int](8)
	for i := 0; i < 100; i++ {
		m.Store(fmt.Sprintf("key-%d", i), i)
	}

	items := m.Items()
	require.Len(t, items, 100)
	assert.Equal(t, 42, items["key-42"])
	assert.Len(t, m.Keys(), 100)
}

func TestMapConcurrentAccess(t *testing.T) {
	m := NewMap[int](64)
	var wg sync.WaitGroup

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				key := fmt.Sprintf("w%d-%d", w, i)
				m.Store(key, i)
				_, ok := m.Load(key)
				assert.True(t, ok)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 8*1000, m.Count())
}

func TestNewMapRequiresPowerOfTwo(t *testing.T) {
	assert.Panics(t, func() { NewMap[int](3) })
}
