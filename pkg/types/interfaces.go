package types

import "time"

// ExpiryPolicy computes per-entry time-to-live. It is consulted by tiers at
// creation and at each access. Returned durations are relative to the
// current time; a duration <= 0 means the entry never expires.
type ExpiryPolicy interface {
	// ForCreation returns the time-to-live for a newly created entry.
	ForCreation(key string, value interface{}) time.Duration

	// ForAccess returns the time-to-live to apply after an access. The
	// second return value is false when the expiration should not change.
	ForAccess(key string, holder *ValueHolder) (time.Duration, bool)
}

// EvictionAdvisor is a pure predicate protecting chosen entries from
// automatic eviction candidate selection. Advised entries are still subject
// to explicit removal and expiry.
type EvictionAdvisor interface {
	AdviseAgainstEviction(key string, holder *ValueHolder) bool
}

// Serializer converts values to and from their stored byte form. It must
// round-trip exactly and is supplied externally per store.
type Serializer interface {
	Serialize(value interface{}) ([]byte, error)
	Deserialize(data []byte) (interface{}, error)
}

// Loader fetches the authoritative holder for a key during a fault-in. A
// nil holder with a nil error reports absence.
type Loader func(key string) (*ValueHolder, error)

// RemappingFunc computes the replacement value for a key during Compute.
// The current holder is nil when the key is absent. Returning false removes
// the key (or leaves it absent).
type RemappingFunc func(key string, current *ValueHolder) (interface{}, bool)

// MappingFunc computes the value for an absent key during ComputeIfAbsent.
type MappingFunc func(key string) (interface{}, error)

// Iterator produces a lazy, restartable sequence of entries reflecting a
// point-in-time snapshot of the authoritative tier.
type Iterator interface {
	// Next returns the next entry; ok is false once the sequence is done.
	Next() (entry Entry, ok bool)

	// Rewind restarts the iterator at the beginning of the same snapshot.
	Rewind()
}

// Store is the cache contract consumed by application code. Absence is
// reported as a nil holder with a nil error, never as a failure.
type Store interface {
	Get(key string) (*ValueHolder, error)
	Put(key string, value interface{}) error
	PutIfAbsent(key string, value interface{}) (*ValueHolder, error)
	Replace(key string, value interface{}) (bool, error)
	Remove(key string) (bool, error)
	Compute(key string, fn RemappingFunc) (*ValueHolder, error)
	ComputeIfAbsent(key string, fn MappingFunc) (*ValueHolder, error)
	GetAll(keys []string) (map[string]*ValueHolder, error)
	PutAll(entries map[string]interface{}) error
	RemoveAll(keys []string) error
	Iterator() (Iterator, error)
	Clear() error
	Stats() StoreStats
	Close() error
}

// CachingTier is the bounded, best-effort accelerator over a subset of
// keys. It may silently drop entries and is never the sole holder of data.
type CachingTier interface {
	// GetOrFault returns the tier's own copy if present and unexpired,
	// otherwise invokes loader at most once per key under concurrent access
	// and stores the result locally. Absence from the loader creates no
	// local entry.
	GetOrFault(key string, loader Loader) (*ValueHolder, error)

	// Invalidate removes the local copy of key, if any.
	Invalidate(key string)

	// InvalidateAll removes all local copies.
	InvalidateAll()

	Stats() TierStats
	Start() error
	Stop() error
}

// AuthoritativeTier owns the complete dataset and is the fallback source of
// truth on every caching tier miss.
type AuthoritativeTier interface {
	Get(key string) (*ValueHolder, error)
	Put(key string, value interface{}) error
	PutIfAbsent(key string, value interface{}) (*ValueHolder, error)
	Replace(key string, value interface{}) (bool, error)
	Remove(key string) (bool, error)
	Compute(key string, fn RemappingFunc) (*ValueHolder, error)
	ComputeIfAbsent(key string, fn MappingFunc) (*ValueHolder, error)

	// Snapshot returns a point-in-time copy of all live entries.
	Snapshot() []Entry

	Clear() error
	Stats() TierStats
	Start() error
	Close() error
}
