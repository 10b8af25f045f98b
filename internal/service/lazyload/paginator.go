// Package lazyload reveals a locally held result set page by page and maps a
// scroll viewport onto the rows that need rendering.
package lazyload

import (
	"sync"
	"time"

	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/clock"
)

// Paginator exposes a growing prefix of a collection. Page n shows the first
// (n+1)*PageSize items.
type Paginator[T any] struct {
	clock    clock.Clock
	pageSize int
	latency  time.Duration

	mu      sync.Mutex
	items   []T
	page    int
	loading bool
	timer   clock.Timer
	gen     uint64
	onPage  func()
}

// NewPaginator creates a paginator. latency delays each LoadMore so the
// reveal can be paced like a network fetch.
func NewPaginator[T any](c clock.Clock, pageSize int, latency time.Duration) *Paginator[T] {
	if c == nil {
		c = clock.Real{}
	}
	if pageSize <= 0 {
		pageSize = 1
	}
	return &Paginator[T]{clock: c, pageSize: pageSize, latency: latency}
}

// OnPage registers f to run after each completed LoadMore
func (p *Paginator[T]) OnPage(f func()) {
	p.mu.Lock()
	p.onPage = f
	p.mu.Unlock()
}

// SetItems replaces the collection and rewinds to the first page
func (p *Paginator[T]) SetItems(items []T) {
	p.mu.Lock()
	p.items = items
	p.rewind()
	p.mu.Unlock()
}

// Reset rewinds to the first page and abandons any load in flight
func (p *Paginator[T]) Reset() {
	p.mu.Lock()
	p.rewind()
	p.mu.Unlock()
}

func (p *Paginator[T]) rewind() {
	p.page = 0
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.loading = false
}

// Visible returns the revealed prefix
func (p *Paginator[T]) Visible() []T {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.shown()
	out := make([]T, n)
	copy(out, p.items[:n])
	return out
}

// HasMore reports whether items remain hidden
func (p *Paginator[T]) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shown() < len(p.items)
}

// Loading reports whether a LoadMore is in flight
func (p *Paginator[T]) Loading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loading
}

// Page returns the current zero-based page
func (p *Paginator[T]) Page() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.page
}

// LoadMore schedules the next page. It reports false, and does nothing, while
// another load is in flight or when everything is already shown.
func (p *Paginator[T]) LoadMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loading || p.shown() >= len(p.items) {
		return false
	}
	p.loading = true
	gen := p.gen
	p.timer = p.clock.AfterFunc(p.latency, func() {
		p.mu.Lock()
		if gen != p.gen {
			p.mu.Unlock()
			return
		}
		p.page++
		p.loading = false
		p.timer = nil
		onPage := p.onPage
		p.mu.Unlock()

		if onPage != nil {
			onPage()
		}
	})
	return true
}

func (p *Paginator[T]) shown() int {
	n := (p.page + 1) * p.pageSize
	if n > len(p.items) {
		n = len(p.items)
	}
	return n
}
