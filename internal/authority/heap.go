// Package authority implements the authoritative tier: the complete,
// bounded dataset behind the caching tier. Two backings share the same
// contract, a heap map bounded by entry count and a segment store bounded
// by bytes.
package authority

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tierstore/tierstore/pkg/errors"
	"github.com/tierstore/tierstore/pkg/logging"
	"github.com/tierstore/tierstore/pkg/types"
)

// Heap is the map-backed authoritative tier, bounded by entry count.
type Heap struct {
	locks keyLock

	mu      sync.RWMutex
	entries map[string]*types.ValueHolder

	capacity int64
	expiry   types.ExpiryPolicy
	advisor  types.EvictionAdvisor
	log      *logging.Logger
	nextID   uint64
	stats    counters
	closed   int32
	onDrop   func(key string)
}

// SetDropListener registers a callback invoked whenever the tier discards
// an entry on its own, by eviction or expiry. The tiered store uses it to
// invalidate stale caching tier copies. Must be set before Start.
func (h *Heap) SetDropListener(fn func(key string)) { h.onDrop = fn }

func (h *Heap) notifyDrop(key string) {
	if h.onDrop != nil {
		h.onDrop(key)
	}
}

// NewHeap creates a heap-backed tier holding at most capacity entries.
func NewHeap(capacity int64, expiry types.ExpiryPolicy, advisor types.EvictionAdvisor, log *logging.Logger) *Heap {
	if expiry == nil {
		expiry = types.NoExpiry{}
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Heap{
		entries:  make(map[string]*types.ValueHolder),
		capacity: capacity,
		expiry:   expiry,
		advisor:  advisor,
		log:      log.WithComponent("authority.heap"),
	}
}

// Start brings the tier into service. The heap backing has nothing to
// recover.
func (h *Heap) Start() error { return nil }

// Get returns the holder for key, recording the access, or nil when the key
// is absent or expired. Expired entries are removed on sight.
func (h *Heap) Get(key string) (*types.ValueHolder, error) {
	if err := h.checkOpen("get"); err != nil {
		return nil, err
	}

	lock := h.locks.lock(key)
	defer lock.Unlock()

	now := time.Now()

	h.mu.RLock()
	holder, ok := h.entries[key]
	h.mu.RUnlock()

	if !ok {
		atomic.AddUint64(&h.stats.misses, 1)
		return nil, nil
	}
	if holder.IsExpired(now) {
		h.removeExpired(key, holder)
		atomic.AddUint64(&h.stats.misses, 1)
		return nil, nil
	}

	ttl, renew := h.expiry.ForAccess(key, holder)
	accessed := holder.WithAccess(now, ttl, renew)

	h.mu.Lock()
	if h.entries[key] == holder {
		h.entries[key] = accessed
	}
	h.mu.Unlock()

	atomic.AddUint64(&h.stats.hits, 1)
	return accessed, nil
}

// Put installs a new holder for key, evicting as needed to stay within
// capacity.
func (h *Heap) Put(key string, value interface{}) error {
	if err := h.checkOpen("put"); err != nil {
		return err
	}

	lock := h.locks.lock(key)
	defer lock.Unlock()

	now := time.Now()
	holder := h.newHolder(key, value, now)

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.installLocked(key, holder, now); err != nil {
		return err
	}
	atomic.AddUint64(&h.stats.puts, 1)
	return nil
}

// PutIfAbsent installs value only when key is absent or expired. It returns
// the existing holder when one is present.
func (h *Heap) PutIfAbsent(key string, value interface{}) (*types.ValueHolder, error) {
	if err := h.checkOpen("put_if_absent"); err != nil {
		return nil, err
	}

	lock := h.locks.lock(key)
	defer lock.Unlock()

	now := time.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.entries[key]; ok && !existing.IsExpired(now) {
		atomic.AddUint64(&h.stats.hits, 1)
		return existing, nil
	}

	holder := h.newHolder(key, value, now)
	if err := h.installLocked(key, holder, now); err != nil {
		return nil, err
	}
	atomic.AddUint64(&h.stats.puts, 1)
	return nil, nil
}

// Replace installs value only when key is already present and unexpired.
func (h *Heap) Replace(key string, value interface{}) (bool, error) {
	if err := h.checkOpen("replace"); err != nil {
		return false, err
	}

	lock := h.locks.lock(key)
	defer lock.Unlock()

	now := time.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	existing, ok := h.entries[key]
	if !ok || existing.IsExpired(now) {
		return false, nil
	}

	h.entries[key] = h.newHolder(key, value, now)
	atomic.AddUint64(&h.stats.puts, 1)
	return true, nil
}

// Remove deletes key and reports whether a live mapping existed.
func (h *Heap) Remove(key string) (bool, error) {
	if err := h.checkOpen("remove"); err != nil {
		return false, err
	}

	lock := h.locks.lock(key)
	defer lock.Unlock()

	now := time.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	existing, ok := h.entries[key]
	if !ok {
		return false, nil
	}

	delete(h.entries, key)
	if existing.IsExpired(now) {
		atomic.AddUint64(&h.stats.expirations, 1)
		return false, nil
	}
	atomic.AddUint64(&h.stats.removes, 1)
	return true, nil
}

// Compute atomically remaps key through fn. Returning false from fn removes
// the mapping; the result holder is nil in that case. fn runs under the
// key's lock only, so a slow remap never stalls operations on other keys.
func (h *Heap) Compute(key string, fn types.RemappingFunc) (*types.ValueHolder, error) {
	if err := h.checkOpen("compute"); err != nil {
		return nil, err
	}

	lock := h.locks.lock(key)
	defer lock.Unlock()

	now := time.Now()

	h.mu.Lock()
	current, ok := h.entries[key]
	if ok && current.IsExpired(now) {
		delete(h.entries, key)
		atomic.AddUint64(&h.stats.expirations, 1)
		h.notifyDrop(key)
		current, ok = nil, false
	}
	h.mu.Unlock()
	if !ok {
		current = nil
	}

	value, keep := fn(key, current)

	h.mu.Lock()
	defer h.mu.Unlock()

	if !keep {
		if current != nil && h.entries[key] == current {
			delete(h.entries, key)
			atomic.AddUint64(&h.stats.removes, 1)
		}
		return nil, nil
	}

	holder := h.newHolder(key, value, now)
	if err := h.installLocked(key, holder, now); err != nil {
		return nil, err
	}
	atomic.AddUint64(&h.stats.puts, 1)
	return holder, nil
}

// ComputeIfAbsent returns the existing holder or atomically installs the
// mapped value. The mapping function runs at most once per concurrent
// absence of key. A nil mapped value installs nothing.
func (h *Heap) ComputeIfAbsent(key string, fn types.MappingFunc) (*types.ValueHolder, error) {
	if err := h.checkOpen("compute_if_absent"); err != nil {
		return nil, err
	}

	lock := h.locks.lock(key)
	defer lock.Unlock()

	now := time.Now()

	h.mu.RLock()
	existing, ok := h.entries[key]
	h.mu.RUnlock()

	if ok && !existing.IsExpired(now) {
		atomic.AddUint64(&h.stats.hits, 1)
		return existing, nil
	}

	atomic.AddUint64(&h.stats.faults, 1)
	value, err := fn(key)
	if err != nil {
		return nil, err
	}
	if value == nil {
		atomic.AddUint64(&h.stats.misses, 1)
		return nil, nil
	}

	holder := h.newHolder(key, value, now)

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.installLocked(key, holder, now); err != nil {
		return nil, err
	}
	atomic.AddUint64(&h.stats.puts, 1)
	return holder, nil
}

// Snapshot returns a point-in-time copy of all live entries.
func (h *Heap) Snapshot() []types.Entry {
	now := time.Now()

	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]types.Entry, 0, len(h.entries))
	for key, holder := range h.entries {
		if holder.IsExpired(now) {
			continue
		}
		out = append(out, types.Entry{Key: key, Holder: holder})
	}
	return out
}

// Clear discards every entry.
func (h *Heap) Clear() error {
	if err := h.checkOpen("clear"); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = make(map[string]*types.ValueHolder)
	return nil
}

// Stats returns the tier's counters.
func (h *Heap) Stats() types.TierStats {
	h.mu.RLock()
	occupancy := int64(len(h.entries))
	h.mu.RUnlock()
	return h.stats.snapshot(occupancy, h.capacity)
}

// Close takes the tier out of service.
func (h *Heap) Close() error {
	atomic.StoreInt32(&h.closed, 1)
	return nil
}

func (h *Heap) checkOpen(op string) error {
	if atomic.LoadInt32(&h.closed) == 1 {
		return errors.NewError(errors.ErrCodeStoreClosed, "authoritative tier is closed").
			WithComponent("authority.heap").WithOperation(op)
	}
	return nil
}

func (h *Heap) newHolder(key string, value interface{}, now time.Time) *types.ValueHolder {
	id := atomic.AddUint64(&h.nextID, 1)
	return types.NewValueHolder(id, value, now, h.expiry.ForCreation(key, value))
}

// installLocked stores the holder and evicts synchronously so occupancy
// never exceeds capacity after a growing insert. Caller holds h.mu.
func (h *Heap) installLocked(key string, holder *types.ValueHolder, now time.Time) error {
	_, replacing := h.entries[key]
	for !replacing && int64(len(h.entries)) >= h.capacity {
		victim, ok := selectVictim(h.entries, h.advisor, now)
		if !ok {
			return errors.NewError(errors.ErrCodeResourceExhausted, "no entry eligible for eviction").
				WithComponent("authority.heap").WithOperation("put").
				WithContext("capacity", strconv.FormatInt(h.capacity, 10))
		}
		evicted := h.entries[victim]
		delete(h.entries, victim)
		if evicted.IsExpired(now) {
			atomic.AddUint64(&h.stats.expirations, 1)
		} else {
			atomic.AddUint64(&h.stats.evictions, 1)
		}
		h.notifyDrop(victim)
	}

	h.entries[key] = holder
	return nil
}

// removeExpired deletes key only if it still maps to the observed holder.
func (h *Heap) removeExpired(key string, holder *types.ValueHolder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.entries[key] == holder {
		delete(h.entries, key)
		atomic.AddUint64(&h.stats.expirations, 1)
		h.notifyDrop(key)
	}
}
