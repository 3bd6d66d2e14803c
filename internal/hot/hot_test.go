package hot

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tierstore/tierstore/pkg/errors"
	"github.com/tierstore/tierstore/pkg/types"
)

func holderFor(value interface{}) *types.ValueHolder {
	return types.NewValueHolder(1, value, time.Now(), 0)
}

func loaderOf(value interface{}) types.Loader {
	return func(string) (*types.ValueHolder, error) {
		return holderFor(value), nil
	}
}

func TestGetOrFaultLoadsOnMiss(t *testing.T) {
	tier := New(10, 0, nil)
	require.NoError(t, tier.Start())
	defer tier.Stop()

	holder, err := tier.GetOrFault("k", loaderOf("v"))
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, "v", holder.Value())

	stats := tier.Stats()
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(1), stats.Faults)
}

func TestGetOrFaultServesLocalCopy(t *testing.T) {
	tier := New(10, 0, nil)
	require.NoError(t, tier.Start())
	defer tier.Stop()

	calls := int32(0)
	loader := func(string) (*types.ValueHolder, error) {
		atomic.AddInt32(&calls, 1)
		return holderFor("v"), nil
	}

	for i := 0; i < 5; i++ {
		holder, err := tier.GetOrFault("k", loader)
		require.NoError(t, err)
		require.NotNil(t, holder)
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, uint64(4), tier.Stats().Hits)
}

func TestGetOrFaultAbsenceCreatesNoEntry(t *testing.T) {
	tier := New(10, 0, nil)
	require.NoError(t, tier.Start())
	defer tier.Stop()

	holder, err := tier.GetOrFault("k", func(string) (*types.ValueHolder, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.Nil(t, holder)
	assert.Equal(t, int64(0), tier.Stats().Occupancy)
}

func TestConcurrentFaultsShareOneLoad(t *testing.T) {
	tier := New(10, 0, nil)
	require.NoError(t, tier.Start())
	defer tier.Stop()

	var calls int32
	release := make(chan struct{})
	loader := func(string) (*types.ValueHolder, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return holderFor("shared"), nil
	}

	const goroutines = 16
	var started, done sync.WaitGroup
	started.Add(goroutines)
	done.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func() {
			defer done.Done()
			started.Done()
			holder, err := tier.GetOrFault("k", loader)
			assert.NoError(t, err)
			if assert.NotNil(t, holder) {
				assert.Equal(t, "shared", holder.Value())
			}
		}()
	}

	started.Wait()
	time.Sleep(20 * time.Millisecond) // let every goroutine reach the flight
	close(release)
	done.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// fault count reflects loader invocations, not waiters
	stats := tier.Stats()
	assert.Equal(t, uint64(1), stats.Faults)
	assert.Equal(t, uint64(goroutines), stats.Misses)
}

func TestFaultTimeout(t *testing.T) {
	tier := New(10, 20*time.Millisecond, nil)
	require.NoError(t, tier.Start())
	defer tier.Stop()

	release := make(chan struct{})
	defer close(release)

	_, err := tier.GetOrFault("k", func(string) (*types.ValueHolder, error) {
		<-release
		return holderFor("late"), nil
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeFaultTimeout))
}

func TestLRUEviction(t *testing.T) {
	tier := New(2, 0, nil)
	require.NoError(t, tier.Start())
	defer tier.Stop()

	for i := 0; i < 3; i++ {
		_, err := tier.GetOrFault(fmt.Sprintf("key-%d", i), loaderOf(i))
		require.NoError(t, err)
	}

	stats := tier.Stats()
	assert.Equal(t, int64(2), stats.Occupancy)
	assert.Equal(t, uint64(1), stats.Evictions)

	// key-0 was the coldest entry
	calls := int32(0)
	_, err := tier.GetOrFault("key-0", func(string) (*types.ValueHolder, error) {
		atomic.AddInt32(&calls, 1)
		return holderFor(0), nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls)
}

func TestInvalidateRemovesCopy(t *testing.T) {
	tier := New(10, 0, nil)
	require.NoError(t, tier.Start())
	defer tier.Stop()

	_, err := tier.GetOrFault("k", loaderOf("v"))
	require.NoError(t, err)

	tier.Invalidate("k")
	assert.Equal(t, int64(0), tier.Stats().Occupancy)

	calls := int32(0)
	_, err = tier.GetOrFault("k", func(string) (*types.ValueHolder, error) {
		atomic.AddInt32(&calls, 1)
		return holderFor("v2"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls)
}

func TestInvalidateFencesInFlightFault(t *testing.T) {
	tier := New(10, 0, nil)
	require.NoError(t, tier.Start())
	defer tier.Stop()

	loading := make(chan struct{})
	release := make(chan struct{})
	loader := func(string) (*types.ValueHolder, error) {
		close(loading)
		<-release
		return holderFor("stale"), nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = tier.GetOrFault("k", loader)
	}()

	<-loading
	tier.Invalidate("k")
	close(release)
	<-done

	// the fault result must not have been installed behind the invalidation
	assert.Equal(t, int64(0), tier.Stats().Occupancy)
}

func TestInstallDiscardsResultFromBeforeInvalidation(t *testing.T) {
	tier := New(10, 0, nil)
	require.NoError(t, tier.Start())
	defer tier.Stop()

	// a load that began at this epoch races an invalidation that lands
	// after the load's own epoch check would have passed
	stale := atomic.LoadUint64(&tier.epoch)
	tier.Invalidate("k")

	tier.install("k", holderFor("stale"), stale)
	assert.Equal(t, int64(0), tier.Stats().Occupancy,
		"result loaded before the invalidation must not be installed")

	tier.install("k", holderFor("fresh"), atomic.LoadUint64(&tier.epoch))
	assert.Equal(t, int64(1), tier.Stats().Occupancy)

	holder, err := tier.GetOrFault("k", loaderOf("unused"))
	require.NoError(t, err)
	assert.Equal(t, "fresh", holder.Value())
}

func TestInvalidateAll(t *testing.T) {
	tier := New(10, 0, nil)
	require.NoError(t, tier.Start())
	defer tier.Stop()

	for i := 0; i < 5; i++ {
		_, err := tier.GetOrFault(fmt.Sprintf("key-%d", i), loaderOf(i))
		require.NoError(t, err)
	}

	tier.InvalidateAll()
	assert.Equal(t, int64(0), tier.Stats().Occupancy)
}

func TestExpiredLocalCopyFaultsAgain(t *testing.T) {
	tier := New(10, 0, nil)
	require.NoError(t, tier.Start())
	defer tier.Stop()

	expired := types.NewValueHolder(1, "old", time.Now().Add(-time.Minute), time.Millisecond)
	_, err := tier.GetOrFault("k", func(string) (*types.ValueHolder, error) {
		return expired, nil
	})
	require.NoError(t, err)

	holder, err := tier.GetOrFault("k", loaderOf("fresh"))
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, "fresh", holder.Value())
}

func TestStoppedTierRejectsReads(t *testing.T) {
	tier := New(10, 0, nil)
	require.NoError(t, tier.Start())
	require.NoError(t, tier.Stop())

	_, err := tier.GetOrFault("k", loaderOf("v"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeStoreClosed))
}
