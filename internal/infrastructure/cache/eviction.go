package cache

import (
	"sort"
)

// EvictionPolicy picks which entries to drop when the cache is full
type EvictionPolicy interface {
	// Victims returns up to n keys of entries to remove
	Victims(entries map[string]Entry, n int) []string
}

// OldestFirst evicts the entries with the earliest timestamps. Ties are broken
// by key so the choice is deterministic.
type OldestFirst struct{}

func (OldestFirst) Victims(entries map[string]Entry, n int) []string {
	if n <= 0 || len(entries) == 0 {
		return nil
	}

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := entries[keys[i]].Timestamp, entries[keys[j]].Timestamp
		if a.Equal(b) {
			return keys[i] < keys[j]
		}
		return a.Before(b)
	})

	if n > len(keys) {
		n = len(keys)
	}
	return keys[:n]
}
