package authority

import (
	"sync/atomic"

	"github.com/tierstore/tierstore/pkg/types"
)

// counters tracks tier activity with lock-free increments.
type counters struct {
	hits        uint64
	misses      uint64
	faults      uint64
	puts        uint64
	removes     uint64
	evictions   uint64
	expirations uint64
}

func (c *counters) snapshot(occupancy, capacity int64) types.TierStats {
	s := types.TierStats{
		Hits:        atomic.LoadUint64(&c.hits),
		Misses:      atomic.LoadUint64(&c.misses),
		Faults:      atomic.LoadUint64(&c.faults),
		Puts:        atomic.LoadUint64(&c.puts),
		Removes:     atomic.LoadUint64(&c.removes),
		Evictions:   atomic.LoadUint64(&c.evictions),
		Expirations: atomic.LoadUint64(&c.expirations),
		Occupancy:   occupancy,
		Capacity:    capacity,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	if capacity > 0 {
		s.Utilization = float64(occupancy) / float64(capacity)
	}
	return s
}
