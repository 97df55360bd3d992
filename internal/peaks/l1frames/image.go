package l1frames

import (
	"fmt"
	"image"
	"math"
)

// Pixel is the set of numeric element types an Image can store.
type Pixel interface {
	~uint8 | ~uint16 | ~int16 | ~int32 | ~float32 | ~float64
}

// PixelBuffer is the only view of pixel data the algorithms use.
// Coordinates are absolute: (Bounds().Min.X, Bounds().Min.Y) is the first
// stored pixel, which lets a cropped window keep frame coordinates.
type PixelBuffer interface {
	Bounds() image.Rectangle
	At(x, y int) float64
	Set(x, y int, v float64)
}

// Image is a dense, row-major pixel buffer over a concrete element type.
type Image[T Pixel] struct {
	Pix    []T
	Stride int
	Rect   image.Rectangle
}

// NewImage allocates a zeroed image covering r.
func NewImage[T Pixel](r image.Rectangle) *Image[T] {
	r = r.Canon()
	return &Image[T]{
		Pix:    make([]T, r.Dx()*r.Dy()),
		Stride: r.Dx(),
		Rect:   r,
	}
}

// NewFloatImage is shorthand for the working type every filter produces.
func NewFloatImage(width, height int) *Image[float64] {
	return NewImage[float64](image.Rect(0, 0, width, height))
}

// Bounds implements PixelBuffer.
func (m *Image[T]) Bounds() image.Rectangle { return m.Rect }

func (m *Image[T]) offset(x, y int) int {
	return (y-m.Rect.Min.Y)*m.Stride + (x - m.Rect.Min.X)
}

// At returns the pixel at (x, y) as float64. Out-of-bounds reads return 0.
func (m *Image[T]) At(x, y int) float64 {
	if !(image.Point{X: x, Y: y}.In(m.Rect)) {
		return 0
	}
	return float64(m.Pix[m.offset(x, y)])
}

// Set stores v at (x, y), clamping and rounding for integer element types.
// Out-of-bounds writes are ignored.
func (m *Image[T]) Set(x, y int, v float64) {
	if !(image.Point{X: x, Y: y}.In(m.Rect)) {
		return
	}
	m.Pix[m.offset(x, y)] = convert[T](v)
}

// Row returns the backing slice for row y.
func (m *Image[T]) Row(y int) []T {
	i := m.offset(m.Rect.Min.X, y)
	return m.Pix[i : i+m.Rect.Dx()]
}

func convert[T Pixel](v float64) T {
	var zero T
	switch any(zero).(type) {
	case float32, float64:
		return T(v)
	}
	if math.IsNaN(v) {
		return zero
	}
	lo, hi := limits(zero)
	v = math.Round(v)
	if v < lo {
		v = lo
	} else if v > hi {
		v = hi
	}
	return T(v)
}

func limits(v any) (float64, float64) {
	switch v.(type) {
	case uint8:
		return 0, math.MaxUint8
	case uint16:
		return 0, math.MaxUint16
	case int16:
		return math.MinInt16, math.MaxInt16
	case int32:
		return math.MinInt32, math.MaxInt32
	}
	// Named types over the same kinds fall through to the widest range.
	return -math.MaxFloat64, math.MaxFloat64
}

// ToFloat copies any PixelBuffer restricted to r into a float64 image that
// keeps absolute coordinates.
func ToFloat(src PixelBuffer, r image.Rectangle) *Image[float64] {
	r = r.Intersect(src.Bounds())
	dst := NewImage[float64](r)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := dst.Row(y)
		for x := r.Min.X; x < r.Max.X; x++ {
			row[x-r.Min.X] = src.At(x, y)
		}
	}
	return dst
}

// FromImage converts a decoded image.Image into a PixelBuffer. Gray and
// Gray16 images keep their native depth; everything else is reduced to
// 16-bit luminance.
func FromImage(img image.Image) (PixelBuffer, error) {
	if img == nil {
		return nil, fmt.Errorf("nil image")
	}
	b := img.Bounds()
	switch src := img.(type) {
	case *image.Gray16:
		dst := NewImage[uint16](b)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := dst.Row(y)
			for x := b.Min.X; x < b.Max.X; x++ {
				row[x-b.Min.X] = src.Gray16At(x, y).Y
			}
		}
		return dst, nil
	case *image.Gray:
		dst := NewImage[uint8](b)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			copy(dst.Row(y), src.Pix[src.PixOffset(b.Min.X, y):src.PixOffset(b.Max.X, y)])
		}
		return dst, nil
	}
	dst := NewImage[uint16](b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := dst.Row(y)
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			// ITU-R BT.601 luma on 16-bit channels.
			row[x-b.Min.X] = uint16((19595*r + 38470*g + 7471*bl + 1<<15) >> 16)
		}
	}
	return dst, nil
}
