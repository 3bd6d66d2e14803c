package authority

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const lockStripes = 128

// keyLock provides per-key mutual exclusion via a fixed set of striped
// mutexes. Read-modify-write sequences lock the key's stripe so atomicity
// never depends on a tier-wide lock.
type keyLock struct {
	stripes [lockStripes]sync.Mutex
}

func (l *keyLock) lock(key string) *sync.Mutex {
	m := &l.stripes[xxhash.Sum64String(key)%lockStripes]
	m.Lock()
	return m
}
