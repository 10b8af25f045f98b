package cache

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Ayoub94x/esa-forecast-manager/internal/domain/forecast"
	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/clock"
)

// Entry is one cached filter result
type Entry struct {
	Data         []forecast.Record    `json:"data"`
	Statistics   *forecast.Statistics `json:"statistics,omitempty"`
	MatchedCount int                  `json:"matched_count"`
	TotalCount   int                  `json:"total_count"`
	Timestamp    time.Time            `json:"timestamp"`
	// QueryHash is the cache key the entry was written under
	QueryHash string `json:"query_hash"`
}

// ResultConfig configures a ResultCache
type ResultConfig struct {
	Expiry  time.Duration
	MaxSize int
	Policy  EvictionPolicy
	Clock   clock.Clock
}

// ResultCache is a bounded in-process map of filter results. An entry is fresh
// while now - Timestamp < Expiry; stale entries are dropped when read.
// Operations never fail: anything unusable is a miss.
type ResultCache struct {
	logger  *zap.Logger
	expiry  time.Duration
	maxSize int
	policy  EvictionPolicy
	clock   clock.Clock

	mu      sync.Mutex
	entries map[string]Entry
}

// NewResultCache creates an empty cache
func NewResultCache(cfg ResultConfig, logger *zap.Logger) *ResultCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Policy == nil {
		cfg.Policy = OldestFirst{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1
	}
	return &ResultCache{
		logger:  logger,
		expiry:  cfg.Expiry,
		maxSize: cfg.MaxSize,
		policy:  cfg.Policy,
		clock:   cfg.Clock,
		entries: make(map[string]Entry),
	}
}

// Get returns the entry stored under key if it is still fresh
func (c *ResultCache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	if !c.fresh(entry) {
		delete(c.entries, key)
		return Entry{}, false
	}
	return entry, true
}

// Set stores entry under key. When the cache is full, the eviction policy
// frees room first so the cache never holds more than MaxSize entries.
func (c *ResultCache) Set(key string, entry Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = c.clock.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		excess := len(c.entries) - c.maxSize + 1
		victims := c.policy.Victims(c.entries, excess)
		for _, k := range victims {
			delete(c.entries, k)
		}
		if len(victims) > 0 {
			c.logger.Debug("evicted cache entries", zap.Int("count", len(victims)), zap.Int("max_size", c.maxSize))
		}
	}
	c.entries[key] = entry
}

// Clear drops every entry
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry)
}

// Size returns the number of stored entries, fresh or not
func (c *ResultCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Expiry returns the freshness window
func (c *ResultCache) Expiry() time.Duration {
	return c.expiry
}

func (c *ResultCache) fresh(e Entry) bool {
	return c.clock.Now().Sub(e.Timestamp) < c.expiry
}
