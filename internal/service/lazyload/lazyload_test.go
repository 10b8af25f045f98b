package lazyload

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/clock"
)

func newTestPaginator(t *testing.T, n, pageSize int) (*Paginator[int], *clock.Mock) {
	t.Helper()
	clk := clock.NewMock(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC))
	p := NewPaginator[int](clk, pageSize, 100*time.Millisecond)
	items := make([]int, n)
	for i := range items {
		items[i] = i
	}
	p.SetItems(items)
	return p, clk
}

func TestPaginator_GrowingPrefix(t *testing.T) {
	p, clk := newTestPaginator(t, 25, 10)

	assert.Len(t, p.Visible(), 10)
	assert.True(t, p.HasMore())

	require.True(t, p.LoadMore())
	assert.True(t, p.Loading())
	assert.Len(t, p.Visible(), 10, "page advances only after the latency")

	clk.Advance(100 * time.Millisecond)
	assert.False(t, p.Loading())
	assert.Len(t, p.Visible(), 20)
	assert.Equal(t, 1, p.Page())

	require.True(t, p.LoadMore())
	clk.Advance(100 * time.Millisecond)
	assert.Equal(t, 25, len(p.Visible()))
	assert.False(t, p.HasMore())
	assert.False(t, p.LoadMore())
}

func TestPaginator_ReentrantLoadMoreIgnored(t *testing.T) {
	p, clk := newTestPaginator(t, 100, 10)

	pages := 0
	p.OnPage(func() { pages++ })

	assert.True(t, p.LoadMore())
	assert.False(t, p.LoadMore())
	assert.False(t, p.LoadMore())

	clk.Advance(time.Second)
	assert.Equal(t, 1, pages)
	assert.Len(t, p.Visible(), 20)
}

func TestPaginator_ResetAbandonsInFlightLoad(t *testing.T) {
	p, clk := newTestPaginator(t, 100, 10)

	require.True(t, p.LoadMore())
	clk.Advance(100 * time.Millisecond)
	require.True(t, p.LoadMore())

	p.Reset()
	assert.False(t, p.Loading())
	clk.Advance(time.Second)

	assert.Equal(t, 0, p.Page())
	assert.Len(t, p.Visible(), 10)
}

func TestPaginator_SetItemsRewinds(t *testing.T) {
	p, clk := newTestPaginator(t, 30, 10)
	p.LoadMore()
	clk.Advance(100 * time.Millisecond)
	require.Equal(t, 1, p.Page())

	p.SetItems([]int{1, 2, 3})
	assert.Equal(t, []int{1, 2, 3}, p.Visible())
	assert.False(t, p.HasMore())
	assert.False(t, p.LoadMore())
}

func TestPaginator_Empty(t *testing.T) {
	p := NewPaginator[string](nil, 10, 0)
	assert.Empty(t, p.Visible())
	assert.False(t, p.HasMore())
	assert.False(t, p.LoadMore())
}

func TestWindow(t *testing.T) {
	tests := []struct {
		name string
		v    Viewport
		want Range
	}{
		{
			name: "top of list",
			v:    Viewport{ItemCount: 1000, ItemHeight: 20, Height: 100},
			want: Range{Start: 0, End: 5, Offset: 0, TotalHeight: 20000},
		},
		{
			name: "partial rows with overscan",
			v:    Viewport{ItemCount: 1000, ItemHeight: 20, Height: 100, ScrollOffset: 30, Overscan: 2},
			want: Range{Start: 0, End: 9, Offset: 0, TotalHeight: 20000},
		},
		{
			name: "middle of list",
			v:    Viewport{ItemCount: 1000, ItemHeight: 20, Height: 100, ScrollOffset: 1000, Overscan: 3},
			want: Range{Start: 47, End: 58, Offset: 940, TotalHeight: 20000},
		},
		{
			name: "scroll past the end is clamped",
			v:    Viewport{ItemCount: 10, ItemHeight: 20, Height: 100, ScrollOffset: 5000, Overscan: 1},
			want: Range{Start: 4, End: 10, Offset: 80, TotalHeight: 200},
		},
		{
			name: "list shorter than viewport",
			v:    Viewport{ItemCount: 3, ItemHeight: 20, Height: 100, ScrollOffset: 40},
			want: Range{Start: 0, End: 3, Offset: 0, TotalHeight: 60},
		},
		{
			name: "empty list",
			v:    Viewport{ItemHeight: 20, Height: 100},
			want: Range{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Window(tt.v))
		})
	}
}
