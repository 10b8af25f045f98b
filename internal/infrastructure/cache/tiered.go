package cache

import (
	"context"
	"time"
)

// SharedStore is a cache tier shared between processes
type SharedStore interface {
	Get(ctx context.Context, key string) (Entry, bool)
	Set(ctx context.Context, key string, entry Entry)
	Clear(ctx context.Context)
}

// Tiered puts a process-local ResultCache in front of an optional shared
// store. Reads fall through to the shared tier and promote fresh hits; writes
// go to both tiers.
type Tiered struct {
	local  *ResultCache
	shared SharedStore
}

// NewTiered creates a tiered cache. shared may be nil for a local-only cache.
func NewTiered(local *ResultCache, shared SharedStore) *Tiered {
	return &Tiered{local: local, shared: shared}
}

func (t *Tiered) Get(ctx context.Context, key string) (Entry, bool) {
	if e, ok := t.local.Get(key); ok {
		return e, true
	}
	if t.shared == nil {
		return Entry{}, false
	}

	e, ok := t.shared.Get(ctx, key)
	if !ok {
		return Entry{}, false
	}
	// The shared tier's TTL is coarse; hold it to the local freshness rule
	if t.local.clock.Now().Sub(e.Timestamp) >= t.local.Expiry() {
		return Entry{}, false
	}
	t.local.Set(key, e)
	return e, true
}

func (t *Tiered) Set(ctx context.Context, key string, entry Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = t.local.clock.Now()
	}
	t.local.Set(key, entry)
	if t.shared != nil {
		t.shared.Set(ctx, key, entry)
	}
}

func (t *Tiered) Clear(ctx context.Context) {
	t.local.Clear()
	if t.shared != nil {
		t.shared.Clear(ctx)
	}
}

// Size reports the local tier's entry count
func (t *Tiered) Size() int {
	return t.local.Size()
}

// Expiry returns the freshness window applied to both tiers
func (t *Tiered) Expiry() time.Duration {
	return t.local.Expiry()
}
