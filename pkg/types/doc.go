/*
Package types provides the core contracts and data structures of the tiered
cache engine.

The engine composes two tiers behind the Store contract: a small, lossy
CachingTier in front of an AuthoritativeTier that owns the complete dataset.
Reads delegate to the caching tier and fault into the authority on miss;
writes go to the authority first and then invalidate the cached copy.

ValueHolder is the unit both tiers trade in: an immutable snapshot of a
stored value plus its access and expiry metadata. ResourcePool describes a
tier's capacity in entries or bytes. ExpiryPolicy and EvictionAdvisor are
the pluggable per-entry policies tiers consult; Serializer is the external
codec used by segment-backed tiers.

Implementations of these contracts are expected to be safe for concurrent
use; the tiers in the internal packages all are.
*/
package types
