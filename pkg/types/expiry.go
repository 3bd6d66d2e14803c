package types

import "time"

// NoExpiry is an ExpiryPolicy under which entries never expire.
type NoExpiry struct{}

// ForCreation always returns "never".
func (NoExpiry) ForCreation(string, interface{}) time.Duration { return 0 }

// ForAccess never changes the expiration.
func (NoExpiry) ForAccess(string, *ValueHolder) (time.Duration, bool) { return 0, false }

// TTLExpiry expires entries a fixed duration after creation. Accesses do
// not extend the lifetime.
type TTLExpiry struct {
	TTL time.Duration
}

// ForCreation returns the configured time-to-live.
func (p TTLExpiry) ForCreation(string, interface{}) time.Duration { return p.TTL }

// ForAccess keeps the creation-time expiration.
func (p TTLExpiry) ForAccess(string, *ValueHolder) (time.Duration, bool) { return 0, false }

// AccessExpiry expires entries a fixed duration after the most recent
// access (time-to-idle).
type AccessExpiry struct {
	TTI time.Duration
}

// ForCreation starts the idle clock at creation.
func (p AccessExpiry) ForCreation(string, interface{}) time.Duration { return p.TTI }

// ForAccess renews the idle window on every access.
func (p AccessExpiry) ForAccess(string, *ValueHolder) (time.Duration, bool) { return p.TTI, true }

// NoAdvice is an EvictionAdvisor that protects nothing; every entry is a
// candidate for automatic eviction.
type NoAdvice struct{}

// AdviseAgainstEviction always returns false.
func (NoAdvice) AdviseAgainstEviction(string, *ValueHolder) bool { return false }
