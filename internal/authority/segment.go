package authority

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tierstore/tierstore/internal/segment"
	"github.com/tierstore/tierstore/pkg/errors"
	"github.com/tierstore/tierstore/pkg/logging"
	"github.com/tierstore/tierstore/pkg/types"
)

// SegmentTier is the segment-backed authoritative tier, bounded by bytes.
// Holder metadata stays on heap; serialized values live in the segment
// region and are bound to metadata snapshots on the way out.
type SegmentTier struct {
	locks keyLock

	mu   sync.RWMutex
	meta map[string]*types.ValueHolder

	seg     *segment.Store
	ser     types.Serializer
	expiry  types.ExpiryPolicy
	advisor types.EvictionAdvisor
	log     *logging.Logger
	nextID  uint64
	stats   counters
	closed  int32
	onDrop  func(key string)
}

// SetDropListener registers a callback invoked whenever the tier discards
// an entry on its own, by eviction or expiry. Must be set before Start.
func (s *SegmentTier) SetDropListener(fn func(key string)) { s.onDrop = fn }

// NewSegmentTier creates a tier over the given segment store. The
// serializer must round-trip every value the application stores.
func NewSegmentTier(seg *segment.Store, ser types.Serializer, expiry types.ExpiryPolicy, advisor types.EvictionAdvisor, log *logging.Logger) *SegmentTier {
	if expiry == nil {
		expiry = types.NoExpiry{}
	}
	if log == nil {
		log = logging.Nop()
	}
	return &SegmentTier{
		meta:    make(map[string]*types.ValueHolder),
		seg:     seg,
		ser:     ser,
		expiry:  expiry,
		advisor: advisor,
		log:     log.WithComponent("authority.segment"),
	}
}

// Start rebuilds holder metadata for records the segment store recovered
// from its backing file. Recovered entries restart their expiry clock.
func (s *SegmentTier) Start() error {
	recovered := s.seg.Recovered()
	if len(recovered) == 0 {
		return nil
	}

	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range recovered {
		_, data, err := s.seg.Read(entry.Ref)
		if err != nil {
			s.log.Warn("dropping recovered entry", map[string]interface{}{
				"key":   entry.Key,
				"error": err.Error(),
			})
			s.seg.Delete([]byte(entry.Key), entry.Ref)
			_ = s.seg.Reclaim(entry.Ref)
			continue
		}
		value, err := s.ser.Deserialize(data)
		if err != nil {
			s.log.Warn("dropping undeserializable recovered entry", map[string]interface{}{
				"key":   entry.Key,
				"error": err.Error(),
			})
			s.seg.Delete([]byte(entry.Key), entry.Ref)
			_ = s.seg.Reclaim(entry.Ref)
			continue
		}
		s.meta[entry.Key] = s.newHolder(entry.Key, value, now)
	}

	s.log.Info("segment tier restored", map[string]interface{}{"entries": len(s.meta)})
	return nil
}

// Get returns a holder carrying the deserialized value, or nil when absent
// or expired.
func (s *SegmentTier) Get(key string) (*types.ValueHolder, error) {
	if err := s.checkOpen("get"); err != nil {
		return nil, err
	}

	lock := s.locks.lock(key)
	defer lock.Unlock()

	now := time.Now()

	s.mu.RLock()
	holder, ok := s.meta[key]
	s.mu.RUnlock()

	if !ok {
		atomic.AddUint64(&s.stats.misses, 1)
		return nil, nil
	}
	if holder.IsExpired(now) {
		s.mu.Lock()
		s.dropLocked(key, holder, true)
		s.mu.Unlock()
		atomic.AddUint64(&s.stats.misses, 1)
		return nil, nil
	}

	value, err := s.readValue(key)
	if err != nil {
		return nil, err
	}
	if value == nil {
		atomic.AddUint64(&s.stats.misses, 1)
		return nil, nil
	}

	ttl, renew := s.expiry.ForAccess(key, holder)
	accessed := holder.WithAccess(now, ttl, renew)

	s.mu.Lock()
	if s.meta[key] == holder {
		s.meta[key] = accessed
	}
	s.mu.Unlock()

	atomic.AddUint64(&s.stats.hits, 1)
	return accessed.Bind(value), nil
}

// Put serializes value and installs it, evicting entries until the record
// fits or nothing evictable remains.
func (s *SegmentTier) Put(key string, value interface{}) error {
	if err := s.checkOpen("put"); err != nil {
		return err
	}

	data, err := s.serialize(value)
	if err != nil {
		return err
	}

	lock := s.locks.lock(key)
	defer lock.Unlock()

	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.installLocked(key, data, s.newHolder(key, value, now), now); err != nil {
		return err
	}
	atomic.AddUint64(&s.stats.puts, 1)
	return nil
}

// PutIfAbsent installs value only when key is absent or expired, returning
// the existing holder otherwise.
func (s *SegmentTier) PutIfAbsent(key string, value interface{}) (*types.ValueHolder, error) {
	if err := s.checkOpen("put_if_absent"); err != nil {
		return nil, err
	}

	lock := s.locks.lock(key)
	defer lock.Unlock()

	now := time.Now()

	s.mu.RLock()
	existing, ok := s.meta[key]
	s.mu.RUnlock()

	if ok && !existing.IsExpired(now) {
		current, err := s.readValue(key)
		if err != nil {
			return nil, err
		}
		if current != nil {
			atomic.AddUint64(&s.stats.hits, 1)
			return existing.Bind(current), nil
		}
	}

	data, err := s.serialize(value)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.installLocked(key, data, s.newHolder(key, value, now), now); err != nil {
		return nil, err
	}
	atomic.AddUint64(&s.stats.puts, 1)
	return nil, nil
}

// Replace installs value only when key is present and unexpired.
func (s *SegmentTier) Replace(key string, value interface{}) (bool, error) {
	if err := s.checkOpen("replace"); err != nil {
		return false, err
	}

	lock := s.locks.lock(key)
	defer lock.Unlock()

	now := time.Now()

	s.mu.RLock()
	existing, ok := s.meta[key]
	s.mu.RUnlock()

	if !ok || existing.IsExpired(now) {
		return false, nil
	}

	data, err := s.serialize(value)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.installLocked(key, data, s.newHolder(key, value, now), now); err != nil {
		return false, err
	}
	atomic.AddUint64(&s.stats.puts, 1)
	return true, nil
}

// Remove deletes key and reports whether a live mapping existed.
func (s *SegmentTier) Remove(key string) (bool, error) {
	if err := s.checkOpen("remove"); err != nil {
		return false, err
	}

	lock := s.locks.lock(key)
	defer lock.Unlock()

	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.meta[key]
	if !ok {
		return false, nil
	}

	expired := existing.IsExpired(now)
	s.dropLocked(key, existing, expired)
	if expired {
		return false, nil
	}
	atomic.AddUint64(&s.stats.removes, 1)
	return true, nil
}

// Compute atomically remaps key through fn.
func (s *SegmentTier) Compute(key string, fn types.RemappingFunc) (*types.ValueHolder, error) {
	if err := s.checkOpen("compute"); err != nil {
		return nil, err
	}

	lock := s.locks.lock(key)
	defer lock.Unlock()

	now := time.Now()

	var current *types.ValueHolder
	s.mu.RLock()
	holder, ok := s.meta[key]
	s.mu.RUnlock()

	if ok && !holder.IsExpired(now) {
		value, err := s.readValue(key)
		if err != nil {
			return nil, err
		}
		if value != nil {
			current = holder.Bind(value)
		}
	} else if ok {
		s.mu.Lock()
		s.dropLocked(key, holder, true)
		s.mu.Unlock()
	}

	value, keep := fn(key, current)
	if !keep {
		if current != nil {
			s.mu.Lock()
			if existing, still := s.meta[key]; still {
				s.dropLocked(key, existing, false)
				atomic.AddUint64(&s.stats.removes, 1)
			}
			s.mu.Unlock()
		}
		return nil, nil
	}

	data, err := s.serialize(value)
	if err != nil {
		return nil, err
	}

	next := s.newHolder(key, value, now)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.installLocked(key, data, next, now); err != nil {
		return nil, err
	}
	atomic.AddUint64(&s.stats.puts, 1)
	return next.Bind(value), nil
}

// ComputeIfAbsent returns the existing holder or installs the mapped value.
// The mapping function runs under the key's lock, so concurrent callers
// trigger at most one load.
func (s *SegmentTier) ComputeIfAbsent(key string, fn types.MappingFunc) (*types.ValueHolder, error) {
	if err := s.checkOpen("compute_if_absent"); err != nil {
		return nil, err
	}

	lock := s.locks.lock(key)
	defer lock.Unlock()

	now := time.Now()

	s.mu.RLock()
	existing, ok := s.meta[key]
	s.mu.RUnlock()

	if ok && !existing.IsExpired(now) {
		value, err := s.readValue(key)
		if err != nil {
			return nil, err
		}
		if value != nil {
			atomic.AddUint64(&s.stats.hits, 1)
			return existing.Bind(value), nil
		}
	}

	atomic.AddUint64(&s.stats.faults, 1)
	value, err := fn(key)
	if err != nil {
		return nil, err
	}
	if value == nil {
		atomic.AddUint64(&s.stats.misses, 1)
		return nil, nil
	}

	data, err := s.serialize(value)
	if err != nil {
		return nil, err
	}

	holder := s.newHolder(key, value, now)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.installLocked(key, data, holder, now); err != nil {
		return nil, err
	}
	atomic.AddUint64(&s.stats.puts, 1)
	return holder.Bind(value), nil
}

// Snapshot returns a point-in-time copy of all live entries with their
// values deserialized. Entries that fail to read are skipped.
func (s *SegmentTier) Snapshot() []types.Entry {
	now := time.Now()

	s.mu.RLock()
	keys := make([]string, 0, len(s.meta))
	holders := make([]*types.ValueHolder, 0, len(s.meta))
	for key, holder := range s.meta {
		if holder.IsExpired(now) {
			continue
		}
		keys = append(keys, key)
		holders = append(holders, holder)
	}
	s.mu.RUnlock()

	out := make([]types.Entry, 0, len(keys))
	for i, key := range keys {
		value, err := s.readValue(key)
		if err != nil || value == nil {
			continue
		}
		out = append(out, types.Entry{Key: key, Holder: holders[i].Bind(value)})
	}
	return out
}

// Clear discards every entry and resets the segment region.
func (s *SegmentTier) Clear() error {
	if err := s.checkOpen("clear"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.seg.Clear(); err != nil {
		return err
	}
	s.meta = make(map[string]*types.ValueHolder)
	return nil
}

// Stats returns the tier's counters. Occupancy and capacity are in bytes.
func (s *SegmentTier) Stats() types.TierStats {
	return s.stats.snapshot(s.seg.Used(), s.seg.Capacity())
}

// Close takes the tier out of service and releases the segment store.
func (s *SegmentTier) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	return s.seg.Close()
}

func (s *SegmentTier) checkOpen(op string) error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return errors.NewError(errors.ErrCodeStoreClosed, "authoritative tier is closed").
			WithComponent("authority.segment").WithOperation(op)
	}
	return nil
}

func (s *SegmentTier) newHolder(key string, value interface{}, now time.Time) *types.ValueHolder {
	id := atomic.AddUint64(&s.nextID, 1)
	return types.NewValueHolder(id, nil, now, s.expiry.ForCreation(key, value))
}

func (s *SegmentTier) serialize(value interface{}) ([]byte, error) {
	data, err := s.ser.Serialize(value)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeSerializationFailure, "failed to serialize value").
			WithComponent("authority.segment").WithCause(err)
	}
	return data, nil
}

// readValue fetches and deserializes the stored bytes for key. A reclaimed
// slot reads as absence; corruption propagates as a persistence failure.
func (s *SegmentTier) readValue(key string) (interface{}, error) {
	ref, ok := s.seg.Lookup([]byte(key))
	if !ok {
		return nil, nil
	}
	_, data, err := s.seg.Read(ref)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeSlotReclaimed) {
			return nil, nil
		}
		return nil, err
	}
	value, err := s.ser.Deserialize(data)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeSerializationFailure, "failed to deserialize stored value").
			WithComponent("authority.segment").WithContext("key", key).WithCause(err)
	}
	return value, nil
}

// installLocked writes the record, evicting until it fits, then swaps the
// index mapping and metadata. A replace in a full region reclaims the key's
// own old record before retrying allocation; past that point a failed write
// loses the old value, which a failed write leaves uncertain anyway. Caller
// holds s.mu and the key's lock.
func (s *SegmentTier) installLocked(key string, data []byte, holder *types.ValueHolder, now time.Time) error {
	keyBytes := []byte(key)
	old, hadOld := s.seg.Lookup(keyBytes)

	payload := len(keyBytes) + len(data)
	ref, err := s.allocateLocked(payload, key, now)
	if err != nil && hadOld && errors.IsCode(err, errors.ErrCodeResourceExhausted) {
		s.seg.Delete(keyBytes, old)
		_ = s.seg.Reclaim(old)
		delete(s.meta, key)
		hadOld = false
		ref, err = s.allocateLocked(payload, key, now)
	}
	if err != nil {
		return err
	}

	if err := s.seg.Write(ref, keyBytes, data); err != nil {
		_ = s.seg.Reclaim(ref)
		return err
	}

	if hadOld {
		s.seg.Delete(keyBytes, old)
		_ = s.seg.Reclaim(old)
	}
	s.seg.Insert(keyBytes, ref)
	s.meta[key] = holder
	return nil
}

// allocateLocked reserves space, evicting one victim per failed attempt.
// The key being installed is never chosen as its own victim. Caller holds
// s.mu.
func (s *SegmentTier) allocateLocked(payload int, installing string, now time.Time) (segment.SlotRef, error) {
	for {
		ref, err := s.seg.Allocate(payload)
		if err == nil {
			return ref, nil
		}
		if !errors.IsCode(err, errors.ErrCodeResourceExhausted) {
			return segment.SlotRef{}, err
		}

		victim, ok := selectVictim(s.meta, s.advisor, now)
		if !ok || victim == installing {
			return segment.SlotRef{}, err
		}
		holder := s.meta[victim]
		expired := holder.IsExpired(now)
		s.dropLocked(victim, holder, expired)
		if !expired {
			atomic.AddUint64(&s.stats.evictions, 1)
		}
	}
}

// dropLocked removes key from the metadata map and reclaims its slot.
// Caller holds s.mu.
func (s *SegmentTier) dropLocked(key string, holder *types.ValueHolder, expired bool) {
	if s.meta[key] != holder {
		return
	}
	delete(s.meta, key)
	keyBytes := []byte(key)
	if ref, ok := s.seg.Lookup(keyBytes); ok {
		s.seg.Delete(keyBytes, ref)
		_ = s.seg.Reclaim(ref)
	}
	if expired {
		atomic.AddUint64(&s.stats.expirations, 1)
	}
	if s.onDrop != nil {
		s.onDrop(key)
	}
}
