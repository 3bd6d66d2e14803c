// Package hot implements the caching tier: a small, entry-bounded LRU kept
// in front of the authoritative tier. The tier is lossy on purpose; it may
// drop any entry at any time and is never the only holder of data.
package hot

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tierstore/tierstore/pkg/errors"
	"github.com/tierstore/tierstore/pkg/logging"
	"github.com/tierstore/tierstore/pkg/types"
)

// Tier is the LRU caching tier. Misses fault through to the loader with at
// most one in-flight load per key; concurrent callers share the result.
type Tier struct {
	capacity     int
	faultTimeout time.Duration
	log          *logging.Logger

	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List // front is most recently used

	group singleflight.Group

	// epoch advances on every invalidation. A fault that started before an
	// invalidation must not install its result, or a stale copy could
	// outlive the write that invalidated it.
	epoch uint64

	stats  counters
	closed int32
}

type lruEntry struct {
	key    string
	holder *types.ValueHolder
}

// New creates a caching tier holding at most capacity entries. A zero
// faultTimeout waits indefinitely on a shared in-flight load.
func New(capacity int, faultTimeout time.Duration, log *logging.Logger) *Tier {
	if log == nil {
		log = logging.Nop()
	}
	return &Tier{
		capacity:     capacity,
		faultTimeout: faultTimeout,
		log:          log.WithComponent("hot"),
		entries:      make(map[string]*list.Element),
		lru:          list.New(),
	}
}

// Start brings the tier into service.
func (t *Tier) Start() error { return nil }

// GetOrFault returns the local copy of key if present and unexpired,
// otherwise invokes loader, coordinated so concurrent misses on the same
// key trigger at most one load. A fault blocked longer than the configured
// timeout fails with a retryable fault-timeout error; the caller is
// expected to fall back to reading the authority directly.
func (t *Tier) GetOrFault(key string, loader types.Loader) (*types.ValueHolder, error) {
	if atomic.LoadInt32(&t.closed) == 1 {
		return nil, errors.NewError(errors.ErrCodeStoreClosed, "caching tier is stopped").
			WithComponent("hot").WithOperation("get_or_fault")
	}

	now := time.Now()

	t.mu.Lock()
	if elem, ok := t.entries[key]; ok {
		entry := elem.Value.(*lruEntry)
		if entry.holder.IsExpired(now) {
			t.removeLocked(key, elem)
			atomic.AddUint64(&t.stats.expirations, 1)
		} else {
			t.lru.MoveToFront(elem)
			holder := entry.holder
			t.mu.Unlock()
			atomic.AddUint64(&t.stats.hits, 1)
			return holder, nil
		}
	}
	t.mu.Unlock()

	atomic.AddUint64(&t.stats.misses, 1)

	start := atomic.LoadUint64(&t.epoch)
	ch := t.group.DoChan(key, func() (interface{}, error) {
		atomic.AddUint64(&t.stats.faults, 1)
		holder, err := loader(key)
		if err != nil {
			return nil, err
		}
		if holder != nil {
			t.install(key, holder, start)
		}
		return holder, nil
	})

	var timeout <-chan time.Time
	if t.faultTimeout > 0 {
		timer := time.NewTimer(t.faultTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Val == nil {
			return nil, nil
		}
		return res.Val.(*types.ValueHolder), nil
	case <-timeout:
		return nil, errors.NewError(errors.ErrCodeFaultTimeout, "fault wait exceeded budget").
			WithComponent("hot").WithOperation("get_or_fault").
			WithContext("key", key).WithContext("timeout", t.faultTimeout.String())
	}
}

// Invalidate removes the local copy of key, if any, and fences in-flight
// faults so they cannot install a result loaded before this call.
func (t *Tier) Invalidate(key string) {
	atomic.AddUint64(&t.epoch, 1)
	t.group.Forget(key)

	t.mu.Lock()
	defer t.mu.Unlock()
	if elem, ok := t.entries[key]; ok {
		t.removeLocked(key, elem)
	}
}

// InvalidateAll removes every local copy.
func (t *Tier) InvalidateAll() {
	atomic.AddUint64(&t.epoch, 1)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]*list.Element)
	t.lru.Init()
}

// Stats returns the tier's counters.
func (t *Tier) Stats() types.TierStats {
	t.mu.Lock()
	occupancy := int64(len(t.entries))
	t.mu.Unlock()
	return t.stats.snapshot(occupancy, int64(t.capacity))
}

// Stop takes the tier out of service and drops its contents.
func (t *Tier) Stop() error {
	atomic.StoreInt32(&t.closed, 1)
	t.InvalidateAll()
	return nil
}

// install stores a faulted-in holder, evicting from the cold end to stay
// within capacity. The epoch is re-checked under the lock: an invalidation
// that ran after the load began wins, so the stale result is discarded
// instead of installed.
func (t *Tier) install(key string, holder *types.ValueHolder, epoch uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if atomic.LoadUint64(&t.epoch) != epoch {
		return
	}

	if elem, ok := t.entries[key]; ok {
		elem.Value.(*lruEntry).holder = holder
		t.lru.MoveToFront(elem)
		return
	}

	for len(t.entries) >= t.capacity {
		back := t.lru.Back()
		if back == nil {
			break
		}
		t.removeLocked(back.Value.(*lruEntry).key, back)
		atomic.AddUint64(&t.stats.evictions, 1)
	}

	t.entries[key] = t.lru.PushFront(&lruEntry{key: key, holder: holder})
}

func (t *Tier) removeLocked(key string, elem *list.Element) {
	t.lru.Remove(elem)
	delete(t.entries, key)
}
