package lazyload

// Viewport describes a fixed-row-height scroll container
type Viewport struct {
	ItemCount    int
	ItemHeight   float64
	Height       float64
	ScrollOffset float64
	Overscan     int
}

// Range is the slice of rows to render, [Start, End), and where to place them
type Range struct {
	Start       int     `json:"start"`
	End         int     `json:"end"`
	Offset      float64 `json:"offset"`
	TotalHeight float64 `json:"total_height"`
}

// Window computes which rows intersect the viewport, widened by Overscan rows
// on each side and clamped to the collection.
func Window(v Viewport) Range {
	if v.ItemCount <= 0 || v.ItemHeight <= 0 {
		return Range{}
	}
	total := float64(v.ItemCount) * v.ItemHeight

	scroll := v.ScrollOffset
	if scroll < 0 {
		scroll = 0
	}
	if maxScroll := total - v.Height; maxScroll > 0 && scroll > maxScroll {
		scroll = maxScroll
	} else if maxScroll <= 0 {
		scroll = 0
	}

	first := int(scroll / v.ItemHeight)
	height := v.Height
	if height < 0 {
		height = 0
	}
	last := int((scroll + height) / v.ItemHeight)
	if float64(last)*v.ItemHeight < scroll+height {
		last++
	}

	start := clamp(first-v.Overscan, 0, v.ItemCount)
	end := clamp(last+v.Overscan, start, v.ItemCount)

	return Range{
		Start:       start,
		End:         end,
		Offset:      float64(start) * v.ItemHeight,
		TotalHeight: total,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
