package tiered

import (
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tierstore/tierstore/internal/authority"
	"github.com/tierstore/tierstore/internal/hot"
	"github.com/tierstore/tierstore/pkg/errors"
	"github.com/tierstore/tierstore/pkg/types"
)

func newTestStore(t *testing.T, hotEntries int, authorityEntries int64) *Store {
	t.Helper()

	auth := authority.NewHeap(authorityEntries, nil, types.NoAdvice{}, nil)
	caching := hot.New(hotEntries, time.Second, nil)
	auth.SetDropListener(caching.Invalidate)

	store := New(caching, auth, nil, nil)
	require.NoError(t, store.Start())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestReadAfterWrite(t *testing.T) {
	store := newTestStore(t, 2, 100)

	require.NoError(t, store.Put("k", "v"))

	holder, err := store.Get("k")
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, "v", holder.Value())
}

func TestWriteInvalidatesCachedCopy(t *testing.T) {
	store := newTestStore(t, 10, 100)

	require.NoError(t, store.Put("k", "v1"))

	// fault the entry into the caching tier, then overwrite it
	_, err := store.Get("k")
	require.NoError(t, err)
	require.NoError(t, store.Put("k", "v2"))

	holder, err := store.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v2", holder.Value())
}

func TestRemovedKeyStaysAbsent(t *testing.T) {
	store := newTestStore(t, 2, 100)

	// a small caching tier over a larger dataset forces mixed hits and
	// faults before the removal
	for i := 1; i <= 10; i++ {
		require.NoError(t, store.Put(fmt.Sprintf("key-%d", i), i))
	}
	for i := 1; i <= 10; i++ {
		holder, err := store.Get(fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
		require.NotNil(t, holder)
	}

	removed, err := store.Remove("key-5")
	require.NoError(t, err)
	assert.True(t, removed)

	holder, err := store.Get("key-5")
	require.NoError(t, err)
	assert.Nil(t, holder, "removed key must not be resurrected by any tier")

	for i := 1; i <= 10; i++ {
		if i == 5 {
			continue
		}
		holder, err := store.Get(fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
		require.NotNil(t, holder)
		assert.Equal(t, i, holder.Value())
	}
}

func TestPutIfAbsent(t *testing.T) {
	store := newTestStore(t, 2, 100)

	prev, err := store.PutIfAbsent("k", "first")
	require.NoError(t, err)
	assert.Nil(t, prev)

	prev, err = store.PutIfAbsent("k", "second")
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, "first", prev.Value())
}

func TestReplace(t *testing.T) {
	store := newTestStore(t, 2, 100)

	replaced, err := store.Replace("k", "v")
	require.NoError(t, err)
	assert.False(t, replaced)

	require.NoError(t, store.Put("k", "v1"))
	replaced, err = store.Replace("k", "v2")
	require.NoError(t, err)
	assert.True(t, replaced)

	holder, err := store.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v2", holder.Value())
}

func TestCompute(t *testing.T) {
	store := newTestStore(t, 2, 100)

	holder, err := store.Compute("k", func(key string, current *types.ValueHolder) (interface{}, bool) {
		assert.Nil(t, current)
		return 1, true
	})
	require.NoError(t, err)
	assert.Equal(t, 1, holder.Value())

	holder, err = store.Compute("k", func(key string, current *types.ValueHolder) (interface{}, bool) {
		return current.Value().(int) + 1, true
	})
	require.NoError(t, err)
	assert.Equal(t, 2, holder.Value())
}

func TestComputeIfAbsent(t *testing.T) {
	store := newTestStore(t, 2, 100)

	calls := 0
	fn := func(string) (interface{}, error) {
		calls++
		return "loaded", nil
	}

	holder, err := store.ComputeIfAbsent("k", fn)
	require.NoError(t, err)
	assert.Equal(t, "loaded", holder.Value())

	holder, err = store.ComputeIfAbsent("k", fn)
	require.NoError(t, err)
	assert.Equal(t, "loaded", holder.Value())
	assert.Equal(t, 1, calls)
}

func TestBulkOperations(t *testing.T) {
	store := newTestStore(t, 2, 100)

	entries := map[string]interface{}{"a": 1, "b": 2, "c": 3}
	require.NoError(t, store.PutAll(entries))

	got, err := store.GetAll([]string{"a", "b", "c", "missing"})
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, 2, got["b"].Value())

	require.NoError(t, store.RemoveAll([]string{"a", "c"}))

	got, err = store.GetAll([]string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestIterator(t *testing.T) {
	store := newTestStore(t, 2, 100)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Put(fmt.Sprintf("key-%d", i), i))
	}

	it, err := store.Iterator()
	require.NoError(t, err)

	collect := func() []string {
		var keys []string
		for {
			entry, ok := it.Next()
			if !ok {
				break
			}
			keys = append(keys, entry.Key)
		}
		sort.Strings(keys)
		return keys
	}

	first := collect()
	assert.Len(t, first, 5)

	it.Rewind()
	assert.Equal(t, first, collect())
}

func TestIteratorIsSnapshot(t *testing.T) {
	store := newTestStore(t, 2, 100)

	require.NoError(t, store.Put("a", 1))
	it, err := store.Iterator()
	require.NoError(t, err)

	require.NoError(t, store.Put("b", 2))

	count := 0
	for {
		if _, ok := it.Next(); !ok {
			break
		}
		count++
	}
	assert.Equal(t, 1, count)
}

func TestClear(t *testing.T) {
	store := newTestStore(t, 2, 100)

	require.NoError(t, store.Put("k", "v"))
	_, err := store.Get("k")
	require.NoError(t, err)

	require.NoError(t, store.Clear())

	holder, err := store.Get("k")
	require.NoError(t, err)
	assert.Nil(t, holder)
}

func TestStatsCoverBothTiers(t *testing.T) {
	store := newTestStore(t, 2, 100)

	require.NoError(t, store.Put("k", "v"))
	_, err := store.Get("k") // fault
	require.NoError(t, err)
	_, err = store.Get("k") // caching tier hit
	require.NoError(t, err)

	stats := store.Stats()
	assert.Equal(t, uint64(1), stats.Caching.Faults)
	assert.Equal(t, uint64(1), stats.Caching.Hits)
	assert.Equal(t, uint64(1), stats.Authority.Puts)
}

func TestUnstartedStoreRejectsOperations(t *testing.T) {
	auth := authority.NewHeap(10, nil, nil, nil)
	store := New(hot.New(2, 0, nil), auth, nil, nil)

	_, err := store.Get("k")
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotInitialized))
}

func TestDoubleStart(t *testing.T) {
	store := newTestStore(t, 2, 100)

	err := store.Start()
	assert.True(t, errors.IsCode(err, errors.ErrCodeAlreadyStarted))
}

func TestCloseIsIdempotent(t *testing.T) {
	auth := authority.NewHeap(10, nil, nil, nil)
	store := New(hot.New(2, 0, nil), auth, nil, nil)
	require.NoError(t, store.Start())

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err := store.Get("k")
	assert.True(t, errors.IsCode(err, errors.ErrCodeStoreClosed))
}

func TestAuthorityEvictionInvalidatesCachedCopy(t *testing.T) {
	auth := authority.NewHeap(3, nil, types.NoAdvice{}, nil)
	caching := hot.New(10, time.Second, nil)
	auth.SetDropListener(caching.Invalidate)

	store := New(caching, auth, nil, nil)
	require.NoError(t, store.Start())
	defer store.Close()

	require.NoError(t, store.Put("a", 1))
	_, err := store.Get("a")
	require.NoError(t, err)

	// overflow the authority so something gets evicted
	for i := 0; i < 10; i++ {
		require.NoError(t, store.Put(fmt.Sprintf("key-%d", i), i))
	}

	// every caching tier entry must still be readable through the authority
	it, err := store.Iterator()
	require.NoError(t, err)
	for {
		entry, ok := it.Next()
		if !ok {
			break
		}
		holder, err := store.Get(entry.Key)
		require.NoError(t, err)
		assert.NotNil(t, holder)
	}
}
