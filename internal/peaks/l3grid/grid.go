package l3grid

import (
	"image"

	"github.com/banshee-data/peaks.report/internal/peaks/l1frames"
	"github.com/banshee-data/peaks.report/internal/peaks/l2filter"
)

// Cell is one tile of a partitioned region.
type Cell struct {
	Index    int // row-major position in the grid
	Col, Row int
	Rect     image.Rectangle // tile of the parent bounding rectangle
	Region   l1frames.RegionMask
	// Parent is the bounding rectangle of the partitioned region.
	// Integration samples and mirrors against it, not against Rect.
	Parent image.Rectangle
}

// Partition splits parent's bounding rectangle into cfg.HCells x
// cfg.VCells tiles of ceiling-rounded size and clips parent to each. The
// cells cover parent exactly; each pixel belongs to one cell. Trailing
// cells may be smaller than the rest, or empty when the grid has more
// columns or rows than the region has pixels.
func Partition(parent l1frames.RegionMask, cfg GridConfig) ([]Cell, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := parent.Bounds()
	cw := ceilDiv(b.Dx(), cfg.HCells)
	ch := ceilDiv(b.Dy(), cfg.VCells)

	cells := make([]Cell, 0, cfg.Cells())
	for row := 0; row < cfg.VCells; row++ {
		for col := 0; col < cfg.HCells; col++ {
			r := image.Rect(
				b.Min.X+col*cw, b.Min.Y+row*ch,
				b.Min.X+(col+1)*cw, b.Min.Y+(row+1)*ch,
			).Intersect(b)
			cells = append(cells, Cell{
				Index:  len(cells),
				Col:    col,
				Row:    row,
				Rect:   r,
				Region: l1frames.Clip(parent, r),
				Parent: b,
			})
		}
	}
	tracef("partitioned %v into %dx%d cells of %dx%d", b, cfg.HCells, cfg.VCells, cw, ch)
	return cells, nil
}

// Window is the cell rectangle grown by the DoG margin for radius plus
// one pixel, clipped to frame. The extra pixel is the detection
// neighbourhood of cell border pixels, whose own DoG values need the full
// margin.
func (c Cell) Window(frame image.Rectangle, radius float64) image.Rectangle {
	m := l2filter.Margin(radius) + 1
	return c.Rect.Inset(-m).Intersect(frame)
}

// Filter computes the DoG of src over the cell's padded window. Inside
// c.Rect grown by one pixel the result equals l2filter.DoG over the whole
// frame.
func (c Cell) Filter(src l1frames.PixelBuffer, radius float64, threads int) *l1frames.Image[float64] {
	return l2filter.DoGWindow(src, c.Window(src.Bounds(), radius), radius, threads)
}

// SampleBounds is the rectangle integration mirrors against: Parent, or
// Rect for a cell built by hand without one.
func (c Cell) SampleBounds() image.Rectangle {
	if c.Parent.Empty() {
		return c.Rect
	}
	return c.Parent
}

// Empty reports whether the cell contains no pixels of the parent region.
func (c Cell) Empty() bool { return c.Region.Len() == 0 }

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
