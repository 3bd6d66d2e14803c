package authority

import (
	"time"

	"github.com/tierstore/tierstore/pkg/types"
)

// evictionSampleSize bounds how many entries a victim search inspects.
// Sampling keeps eviction O(1) relative to tier size at the cost of an
// approximate, not global, LRU choice.
const evictionSampleSize = 8

// selectVictim picks an eviction victim from the metadata map: sample up to
// evictionSampleSize entries the advisor does not protect, prefer an
// already-expired one, otherwise take the coldest by last access with the
// lowest holder id breaking ties. When every sampled entry is advised
// against, advice yields: a full tier must still make room.
func selectVictim(entries map[string]*types.ValueHolder, advisor types.EvictionAdvisor, now time.Time) (string, bool) {
	var (
		victim       string
		victimHolder *types.ValueHolder
		fallback     string
		fallbackOK   bool
		sampled      int
	)

	for key, holder := range entries {
		if holder.IsExpired(now) {
			return key, true
		}

		if advisor != nil && advisor.AdviseAgainstEviction(key, holder) {
			if !fallbackOK {
				fallback, fallbackOK = key, true
			}
			continue
		}

		if victimHolder == nil || colder(holder, victimHolder) {
			victim, victimHolder = key, holder
		}

		sampled++
		if sampled >= evictionSampleSize {
			break
		}
	}

	if victimHolder != nil {
		return victim, true
	}
	return fallback, fallbackOK
}

func colder(a, b *types.ValueHolder) bool {
	if !a.LastAccessTime().Equal(b.LastAccessTime()) {
		return a.LastAccessTime().Before(b.LastAccessTime())
	}
	return a.ID() < b.ID()
}
