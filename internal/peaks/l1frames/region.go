package l1frames

import (
	"image"
	"iter"
	"sort"
)

// RegionMask is an iterable, boundable set of integer pixel coordinates
// defining a search area.
type RegionMask interface {
	// Bounds is the smallest rectangle containing every point.
	Bounds() image.Rectangle
	Contains(x, y int) bool
	// Points yields every member in row-major order.
	Points() iter.Seq[image.Point]
	// Len is the number of member pixels.
	Len() int
}

// RectRegion is a rectangular region mask.
type RectRegion struct {
	Rect image.Rectangle
}

// NewRectRegion returns the region covering r.
func NewRectRegion(r image.Rectangle) RectRegion {
	return RectRegion{Rect: r.Canon()}
}

// WholeFrame is the region covering every pixel of buf.
func WholeFrame(buf PixelBuffer) RectRegion {
	return NewRectRegion(buf.Bounds())
}

func (r RectRegion) Bounds() image.Rectangle { return r.Rect }

func (r RectRegion) Contains(x, y int) bool {
	return image.Point{X: x, Y: y}.In(r.Rect)
}

func (r RectRegion) Len() int { return r.Rect.Dx() * r.Rect.Dy() }

func (r RectRegion) Points() iter.Seq[image.Point] {
	return func(yield func(image.Point) bool) {
		for y := r.Rect.Min.Y; y < r.Rect.Max.Y; y++ {
			for x := r.Rect.Min.X; x < r.Rect.Max.X; x++ {
				if !yield(image.Point{X: x, Y: y}) {
					return
				}
			}
		}
	}
}

// PointRegion is an arbitrary set of pixels, such as a hand-drawn ROI.
type PointRegion struct {
	bounds image.Rectangle
	points []image.Point
	index  map[image.Point]struct{}
}

// NewPointRegion builds a region from pts. Duplicates are dropped and the
// points are stored in row-major order.
func NewPointRegion(pts []image.Point) *PointRegion {
	pr := &PointRegion{index: make(map[image.Point]struct{}, len(pts))}
	for _, p := range pts {
		if _, dup := pr.index[p]; dup {
			continue
		}
		pr.index[p] = struct{}{}
		pr.points = append(pr.points, p)
		pr.bounds = pr.bounds.Union(image.Rectangle{Min: p, Max: p.Add(image.Pt(1, 1))})
	}
	sort.Slice(pr.points, func(i, j int) bool {
		if pr.points[i].Y != pr.points[j].Y {
			return pr.points[i].Y < pr.points[j].Y
		}
		return pr.points[i].X < pr.points[j].X
	})
	return pr
}

func (r *PointRegion) Bounds() image.Rectangle { return r.bounds }

func (r *PointRegion) Contains(x, y int) bool {
	_, ok := r.index[image.Point{X: x, Y: y}]
	return ok
}

func (r *PointRegion) Len() int { return len(r.points) }

func (r *PointRegion) Points() iter.Seq[image.Point] {
	return func(yield func(image.Point) bool) {
		for _, p := range r.points {
			if !yield(p) {
				return
			}
		}
	}
}

// Clip restricts region to rect. Rectangular regions stay rectangular.
func Clip(region RegionMask, rect image.Rectangle) RegionMask {
	if rr, ok := region.(RectRegion); ok {
		return NewRectRegion(rr.Rect.Intersect(rect))
	}
	var pts []image.Point
	for p := range region.Points() {
		if p.In(rect) {
			pts = append(pts, p)
		}
	}
	return NewPointRegion(pts)
}
