package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tierstore/tierstore/pkg/types"
)

func fixedStats() types.StoreStats {
	return types.StoreStats{
		Caching: types.TierStats{
			Hits: 8, Misses: 2, Faults: 2,
			Occupancy: 5, Capacity: 10, HitRate: 0.8, Utilization: 0.5,
		},
		Authority: types.TierStats{
			Hits: 2, Misses: 0, Puts: 5,
			Occupancy: 5, Capacity: 100, HitRate: 1.0, Utilization: 0.05,
		},
	}
}

func TestCollectorRegisters(t *testing.T) {
	c := NewCollector("test", fixedStats)

	registry := prometheus.NewRegistry()
	require.NoError(t, registry.Register(c))

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 11)

	for _, family := range families {
		assert.True(t, strings.HasPrefix(family.GetName(), "test_store_"),
			"unexpected metric name %q", family.GetName())
		// one series per tier
		assert.Len(t, family.GetMetric(), 2)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	c := NewCollector("", fixedStats)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `tierstore_store_hits_total{tier="caching"} 8`)
	assert.Contains(t, body, `tierstore_store_capacity{tier="authority"} 100`)
}
