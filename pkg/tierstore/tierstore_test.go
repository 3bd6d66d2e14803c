package tierstore

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tierstore/tierstore/internal/config"
	"github.com/tierstore/tierstore/pkg/errors"
)

func TestOpenWithDefaults(t *testing.T) {
	store, err := Open(nil, nil)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Put("k", "v"))
	holder, err := store.Get("k")
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, "v", holder.Value())
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := config.NewDefault()
	cfg.Pools.CachingEntries = 0

	_, err := Open(cfg, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConfigValidation))
}

func TestOpenOffheapRequiresSerializer(t *testing.T) {
	cfg := config.NewDefault()
	cfg.Pools.Authority.Mode = "offheap"
	cfg.Pools.Authority.Size = "1MB"

	_, err := Open(cfg, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidConfig))
}

func TestOpenOffheapRoundTrip(t *testing.T) {
	cfg := config.NewDefault()
	cfg.Pools.Authority.Mode = "offheap"
	cfg.Pools.Authority.Size = "1MB"

	store, err := Open(cfg, &Options{Serializer: StringSerializer{}})
	require.NoError(t, err)
	defer store.Close()

	for i := 0; i < 20; i++ {
		require.NoError(t, store.Put(fmt.Sprintf("key-%d", i), fmt.Sprintf("value-%d", i)))
	}
	for i := 0; i < 20; i++ {
		holder, err := store.Get(fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
		require.NotNil(t, holder)
		assert.Equal(t, fmt.Sprintf("value-%d", i), holder.Value())
	}
}

func TestDiskModeSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	cfg := config.NewDefault()
	cfg.Pools.Authority.Mode = "disk"
	cfg.Pools.Authority.Size = "1MB"
	cfg.Persistence.Directory = dir

	store, err := Open(cfg, &Options{Serializer: StringSerializer{}})
	require.NoError(t, err)
	require.NoError(t, store.Put("a", "x"))
	require.NoError(t, store.Put("b", "y"))
	require.NoError(t, store.Close())

	reopened, err := Open(cfg, &Options{Serializer: StringSerializer{}})
	require.NoError(t, err)
	defer reopened.Close()

	holder, err := reopened.Get("a")
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, "x", holder.Value())

	holder, err = reopened.Get("b")
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, "y", holder.Value())
}

func TestMetricsHandler(t *testing.T) {
	cfg := config.NewDefault()
	cfg.Metrics.Enabled = true

	store, err := Open(cfg, nil)
	require.NoError(t, err)
	defer store.Close()

	assert.NotNil(t, store.MetricsHandler())
}

func TestMetricsHandlerNilWhenDisabled(t *testing.T) {
	store, err := Open(nil, nil)
	require.NoError(t, err)
	defer store.Close()

	assert.Nil(t, store.MetricsHandler())
}

func TestClosedStoreRejectsReads(t *testing.T) {
	store, err := Open(nil, nil)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = store.Get("k")
	assert.True(t, errors.IsCode(err, errors.ErrCodeStoreClosed))
}
