package types

import (
	"fmt"
	"time"
)

// ValueHolder wraps a single stored value together with its access and
// expiry metadata. Holders are immutable snapshots: tiers install a
// replacement holder instead of mutating one in place, and callers never
// receive a reference into tier-internal storage.
type ValueHolder struct {
	id             uint64
	value          interface{}
	creationTime   time.Time
	lastAccessTime time.Time
	expirationTime time.Time // zero means never
	hits           uint64
}

// NewValueHolder creates a holder for a freshly stored value. A ttl <= 0
// means the value never expires.
func NewValueHolder(id uint64, value interface{}, now time.Time, ttl time.Duration) *ValueHolder {
	h := &ValueHolder{
		id:             id,
		value:          value,
		creationTime:   now,
		lastAccessTime: now,
	}
	if ttl > 0 {
		h.expirationTime = now.Add(ttl)
	}
	return h
}

// ID returns the holder's unique, monotonically increasing identifier.
func (h *ValueHolder) ID() uint64 { return h.id }

// Value returns the stored value.
func (h *ValueHolder) Value() interface{} { return h.value }

// CreationTime returns the time the entry was first stored.
func (h *ValueHolder) CreationTime() time.Time { return h.creationTime }

// LastAccessTime returns the time of the most recent access.
func (h *ValueHolder) LastAccessTime() time.Time { return h.lastAccessTime }

// Expiration returns the absolute expiration time. The second return value
// is false when the holder never expires.
func (h *ValueHolder) Expiration() (time.Time, bool) {
	return h.expirationTime, !h.expirationTime.IsZero()
}

// IsExpired reports whether the holder is expired at the given instant.
// Tiers check this on every read and treat an expired holder as absent.
func (h *ValueHolder) IsExpired(now time.Time) bool {
	return !h.expirationTime.IsZero() && !h.expirationTime.After(now)
}

// Hits returns the cumulative access count.
func (h *ValueHolder) Hits() uint64 { return h.hits }

// HitRate returns the access rate in hits per second, estimated over the
// smaller of the holder's age and the given window.
func (h *ValueHolder) HitRate(now time.Time, window time.Duration) float64 {
	age := now.Sub(h.creationTime)
	if age <= 0 {
		return 0
	}
	if window > 0 && age > window {
		age = window
	}
	return float64(h.hits) / age.Seconds()
}

// WithAccess returns a replacement holder recording one more access at now.
// When renew is true the expiration is recomputed from ttl (ttl <= 0 means
// never); otherwise the existing expiration is kept.
func (h *ValueHolder) WithAccess(now time.Time, ttl time.Duration, renew bool) *ValueHolder {
	next := *h
	next.lastAccessTime = now
	next.hits++
	if renew {
		if ttl > 0 {
			next.expirationTime = now.Add(ttl)
		} else {
			next.expirationTime = time.Time{}
		}
	}
	return &next
}

// Bind returns a copy of the holder carrying the given value. Tiers that
// keep values out of band (e.g. in a byte region) use this to attach the
// deserialized value to the metadata snapshot they hand out.
func (h *ValueHolder) Bind(value interface{}) *ValueHolder {
	next := *h
	next.value = value
	return &next
}

// TierRole identifies which tier a resource pool descriptor applies to.
type TierRole int

const (
	// RoleCaching is the small, fast, lossy tier in front of the data.
	RoleCaching TierRole = iota
	// RoleAuthority is the tier holding the complete, durable dataset.
	RoleAuthority
)

// String returns the role name.
func (r TierRole) String() string {
	switch r {
	case RoleCaching:
		return "caching"
	case RoleAuthority:
		return "authority"
	default:
		return "unknown"
	}
}

// ResourceUnit is the unit a resource pool size is expressed in.
type ResourceUnit int

const (
	// UnitEntries counts cache entries (hot tier).
	UnitEntries ResourceUnit = iota
	// UnitBytes counts stored bytes (segment-backed tiers).
	UnitBytes
)

// String returns the unit name.
func (u ResourceUnit) String() string {
	switch u {
	case UnitEntries:
		return "entries"
	case UnitBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// ResourcePool declares a capacity limit for one tier role.
type ResourcePool struct {
	Role TierRole     `json:"role"`
	Size int64        `json:"size"`
	Unit ResourceUnit `json:"unit"`
}

// Validate checks that the descriptor is well formed.
func (p ResourcePool) Validate() error {
	if p.Size <= 0 {
		return fmt.Errorf("resource pool for %s tier: size must be positive, got %d", p.Role, p.Size)
	}
	return nil
}

// TierStats represents one tier's performance counters.
type TierStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Faults      uint64  `json:"faults"`
	Puts        uint64  `json:"puts"`
	Removes     uint64  `json:"removes"`
	Evictions   uint64  `json:"evictions"`
	Expirations uint64  `json:"expirations"`
	Occupancy   int64   `json:"occupancy"`
	Capacity    int64   `json:"capacity"`
	HitRate     float64 `json:"hit_rate"`
	Utilization float64 `json:"utilization"`
}

// StoreStats combines the statistics of both tiers behind a tiered store.
type StoreStats struct {
	Caching   TierStats `json:"caching"`
	Authority TierStats `json:"authority"`
}

// Entry pairs a key with its holder snapshot.
type Entry struct {
	Key    string
	Holder *ValueHolder
}
