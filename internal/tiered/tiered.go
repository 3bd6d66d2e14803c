// Package tiered composes a caching tier and an authoritative tier into a
// single store. Reads go through the caching tier and fault in from the
// authority; writes commit to the authority first and then invalidate the
// caching tier's copy, so a read never observes a value newer than what the
// authority holds.
package tiered

import (
	"sync/atomic"

	"github.com/tierstore/tierstore/pkg/errors"
	"github.com/tierstore/tierstore/pkg/logging"
	"github.com/tierstore/tierstore/pkg/retry"
	"github.com/tierstore/tierstore/pkg/types"
)

// Store coordinates the two tiers behind the types.Store contract.
type Store struct {
	caching   types.CachingTier
	authority types.AuthoritativeTier
	retryer   *retry.Retryer
	log       *logging.Logger
	started   int32
	closed    int32
}

// New composes the tiers. The retryer bounds the direct authority reads
// attempted after a fault wait times out; nil uses the default policy.
func New(caching types.CachingTier, authority types.AuthoritativeTier, retryer *retry.Retryer, log *logging.Logger) *Store {
	if retryer == nil {
		retryer = retry.New(retry.DefaultConfig())
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Store{
		caching:   caching,
		authority: authority,
		retryer:   retryer,
		log:       log.WithComponent("tiered"),
	}
}

// Start brings both tiers into service, authority first so the caching
// tier never faults into an unstarted source of truth.
func (s *Store) Start() error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "store is already started").
			WithComponent("tiered").WithOperation("start")
	}
	if err := s.authority.Start(); err != nil {
		return err
	}
	return s.caching.Start()
}

// Get returns the holder for key, or nil when absent. A caching tier miss
// faults in from the authority; a timed-out fault degrades to direct
// authority reads with backoff.
func (s *Store) Get(key string) (*types.ValueHolder, error) {
	if err := s.checkOpen("get"); err != nil {
		return nil, err
	}

	holder, err := s.caching.GetOrFault(key, s.authority.Get)
	if err == nil {
		return holder, nil
	}
	if !errors.IsCode(err, errors.ErrCodeFaultTimeout) {
		return nil, err
	}

	s.log.Warn("fault wait timed out, reading authority directly", map[string]interface{}{"key": key})

	var direct *types.ValueHolder
	if rerr := s.retryer.Do(func() error {
		h, e := s.authority.Get(key)
		direct = h
		return e
	}); rerr != nil {
		return nil, rerr
	}
	return direct, nil
}

// Put stores value under key. The authority commits first; the caching
// tier copy is invalidated afterwards even when the write fails, because a
// failed write leaves the authority's state uncertain.
func (s *Store) Put(key string, value interface{}) error {
	if err := s.checkOpen("put"); err != nil {
		return err
	}
	err := s.authority.Put(key, value)
	s.caching.Invalidate(key)
	return err
}

// PutIfAbsent stores value only when key has no live mapping, returning
// the existing holder otherwise.
func (s *Store) PutIfAbsent(key string, value interface{}) (*types.ValueHolder, error) {
	if err := s.checkOpen("put_if_absent"); err != nil {
		return nil, err
	}
	prev, err := s.authority.PutIfAbsent(key, value)
	if prev == nil {
		s.caching.Invalidate(key)
	}
	return prev, err
}

// Replace stores value only when key has a live mapping.
func (s *Store) Replace(key string, value interface{}) (bool, error) {
	if err := s.checkOpen("replace"); err != nil {
		return false, err
	}
	replaced, err := s.authority.Replace(key, value)
	s.caching.Invalidate(key)
	return replaced, err
}

// Remove deletes key from both tiers and reports whether a live mapping
// existed. A removed key stays absent until written again; no tier may
// resurrect it.
func (s *Store) Remove(key string) (bool, error) {
	if err := s.checkOpen("remove"); err != nil {
		return false, err
	}
	removed, err := s.authority.Remove(key)
	s.caching.Invalidate(key)
	return removed, err
}

// Compute atomically remaps key through fn against the authority.
func (s *Store) Compute(key string, fn types.RemappingFunc) (*types.ValueHolder, error) {
	if err := s.checkOpen("compute"); err != nil {
		return nil, err
	}
	holder, err := s.authority.Compute(key, fn)
	s.caching.Invalidate(key)
	return holder, err
}

// ComputeIfAbsent returns the live holder for key or atomically installs
// the mapped value in the authority.
func (s *Store) ComputeIfAbsent(key string, fn types.MappingFunc) (*types.ValueHolder, error) {
	if err := s.checkOpen("compute_if_absent"); err != nil {
		return nil, err
	}
	holder, err := s.authority.ComputeIfAbsent(key, fn)
	s.caching.Invalidate(key)
	return holder, err
}

// GetAll looks up each key; absent keys are omitted from the result.
func (s *Store) GetAll(keys []string) (map[string]*types.ValueHolder, error) {
	out := make(map[string]*types.ValueHolder, len(keys))
	for _, key := range keys {
		holder, err := s.Get(key)
		if err != nil {
			return nil, err
		}
		if holder != nil {
			out[key] = holder
		}
	}
	return out, nil
}

// PutAll stores every entry. The operation is not atomic across keys; a
// failure leaves earlier entries written.
func (s *Store) PutAll(entries map[string]interface{}) error {
	for key, value := range entries {
		if err := s.Put(key, value); err != nil {
			return err
		}
	}
	return nil
}

// RemoveAll deletes every key. Not atomic across keys.
func (s *Store) RemoveAll(keys []string) error {
	for _, key := range keys {
		if _, err := s.Remove(key); err != nil {
			return err
		}
	}
	return nil
}

// Iterator returns a restartable iterator over a point-in-time snapshot of
// the authority. Writes after this call are not reflected.
func (s *Store) Iterator() (types.Iterator, error) {
	if err := s.checkOpen("iterator"); err != nil {
		return nil, err
	}
	return &snapshotIterator{entries: s.authority.Snapshot()}, nil
}

// Clear discards the entire dataset from both tiers.
func (s *Store) Clear() error {
	if err := s.checkOpen("clear"); err != nil {
		return err
	}
	if err := s.authority.Clear(); err != nil {
		return err
	}
	s.caching.InvalidateAll()
	return nil
}

// Stats returns both tiers' counters.
func (s *Store) Stats() types.StoreStats {
	return types.StoreStats{
		Caching:   s.caching.Stats(),
		Authority: s.authority.Stats(),
	}
}

// Close stops the caching tier and then closes the authority, flushing any
// file-backed state. Close is idempotent.
func (s *Store) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	if err := s.caching.Stop(); err != nil {
		s.log.Warn("caching tier stop failed", map[string]interface{}{"error": err.Error()})
	}
	return s.authority.Close()
}

func (s *Store) checkOpen(op string) error {
	if atomic.LoadInt32(&s.started) == 0 {
		return errors.NewError(errors.ErrCodeNotInitialized, "store is not started").
			WithComponent("tiered").WithOperation(op)
	}
	if atomic.LoadInt32(&s.closed) == 1 {
		return errors.NewError(errors.ErrCodeStoreClosed, "store is closed").
			WithComponent("tiered").WithOperation(op)
	}
	return nil
}

// snapshotIterator walks a fixed snapshot and can be rewound to its start.
type snapshotIterator struct {
	entries []types.Entry
	pos     int
}

func (it *snapshotIterator) Next() (types.Entry, bool) {
	if it.pos >= len(it.entries) {
		return types.Entry{}, false
	}
	entry := it.entries[it.pos]
	it.pos++
	return entry, true
}

func (it *snapshotIterator) Rewind() { it.pos = 0 }
