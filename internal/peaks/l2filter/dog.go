package l2filter

import (
	"image"
	"math"
	"runtime"

	"github.com/banshee-data/peaks.report/internal/peaks/l1frames"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// truncation is the kernel half-width in units of sigma.
const truncation = 3.0

// Sigmas returns the two Gaussian widths used by DoG for radius.
func Sigmas(radius float64) (narrow, wide float64) {
	return radius, radius * math.Sqrt2
}

// Margin is the number of pixels on each side of a pixel that influence its
// DoG value. Windows padded by Margin filter identically to the full frame.
func Margin(radius float64) int {
	if radius <= 0 {
		return 0
	}
	_, wide := Sigmas(radius)
	return int(math.Ceil(truncation * wide))
}

// Kernel returns a normalised 1D Gaussian kernel of width 2*ceil(3σ)+1.
func Kernel(sigma float64) []float64 {
	half := int(math.Ceil(truncation * sigma))
	k := make([]float64, 2*half+1)
	inv := 1 / (2 * sigma * sigma)
	for i := -half; i <= half; i++ {
		k[i+half] = math.Exp(-float64(i*i) * inv)
	}
	floats.Scale(1/floats.Sum(k), k)
	return k
}

// DoG computes Gaussian(radius) - Gaussian(radius*sqrt2) of src over its
// full bounds. threads <= 0 uses GOMAXPROCS.
//
// A radius <= 0 is the identity: the result is a float64 copy of src.
func DoG(src l1frames.PixelBuffer, radius float64, threads int) *l1frames.Image[float64] {
	return DoGWindow(src, src.Bounds(), radius, threads)
}

// DoGWindow filters only the pixels inside window, reading src beyond it
// where available. Boundaries of window are mirrored, so callers that need
// values matching a whole-frame filter must pad window by Margin(radius).
func DoGWindow(src l1frames.PixelBuffer, window image.Rectangle, radius float64, threads int) *l1frames.Image[float64] {
	in := l1frames.ToFloat(src, window)
	if radius <= 0 || in.Rect.Empty() {
		return in
	}
	if threads <= 0 {
		threads = runtime.GOMAXPROCS(0)
	}

	narrow, wide := Sigmas(radius)
	a := convolve(in, Kernel(narrow), threads)
	b := convolve(in, Kernel(wide), threads)
	for i := range a.Pix {
		a.Pix[i] -= b.Pix[i]
	}
	return a
}

// convolve applies the separable kernel k along x then y.
func convolve(in *l1frames.Image[float64], k []float64, threads int) *l1frames.Image[float64] {
	r := in.Rect
	tmp := l1frames.NewImage[float64](r)
	out := l1frames.NewImage[float64](r)
	half := len(k) / 2

	rowPass(r, threads, func(y int) {
		src, dst := in.Row(y), tmp.Row(y)
		w := len(src)
		for x := 0; x < w; x++ {
			var s float64
			for i, kv := range k {
				s += kv * src[mirror(x+i-half, w)]
			}
			dst[x] = s
		}
	})
	rowPass(r, threads, func(y int) {
		dst := out.Row(y)
		h := r.Dy()
		yy := y - r.Min.Y
		for x := range dst {
			var s float64
			for i, kv := range k {
				s += kv * tmp.Pix[mirror(yy+i-half, h)*tmp.Stride+x]
			}
			dst[x] = s
		}
	})
	return out
}

// rowPass runs fn for every row of r, split into contiguous bands.
func rowPass(r image.Rectangle, threads int, fn func(y int)) {
	rows := r.Dy()
	if threads > rows {
		threads = rows
	}
	if threads <= 1 {
		for y := r.Min.Y; y < r.Max.Y; y++ {
			fn(y)
		}
		return
	}
	band := (rows + threads - 1) / threads
	var g errgroup.Group
	g.SetLimit(threads)
	for start := r.Min.Y; start < r.Max.Y; start += band {
		start, end := start, min(start+band, r.Max.Y)
		g.Go(func() error {
			for y := start; y < end; y++ {
				fn(y)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// mirror reflects i into [0, n) with the edge pixel repeated.
func mirror(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i - 1
		} else {
			i = 2*n - i - 1
		}
	}
	return i
}
