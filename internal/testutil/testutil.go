// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability. Most fixtures build
// synthetic fluorescence frames: flat backgrounds with Gaussian spots and
// optional seeded noise.
package testutil

import (
	"image"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/banshee-data/peaks.report/internal/peaks/l1frames"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// Spot is a symmetric 2D Gaussian added on top of a background.
type Spot struct {
	X, Y      float64
	Amplitude float64 // peak height above background; negative for dark spots
	Sigma     float64
}

// Value is the spot's contribution at pixel (x, y).
func (s Spot) Value(x, y int) float64 {
	dx, dy := float64(x)-s.X, float64(y)-s.Y
	return s.Amplitude * math.Exp(-(dx*dx+dy*dy)/(2*s.Sigma*s.Sigma))
}

// SpotImage renders spots over a flat background into a float64 frame.
func SpotImage(width, height int, background float64, spots ...Spot) *l1frames.Image[float64] {
	img := l1frames.NewFloatImage(width, height)
	render(img, background, spots)
	return img
}

// SpotImage16 renders spots into a 16-bit frame; values are rounded.
func SpotImage16(width, height int, background float64, spots ...Spot) *l1frames.Image[uint16] {
	img := l1frames.NewImage[uint16](image.Rect(0, 0, width, height))
	render(img, background, spots)
	return img
}

func render(img l1frames.PixelBuffer, background float64, spots []Spot) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := background
			for _, s := range spots {
				v += s.Value(x, y)
			}
			img.Set(x, y, v)
		}
	}
}

// AddNoise adds uniform noise in [-amplitude, amplitude] using a seeded
// generator, so the same seed always produces the same frame.
func AddNoise(img l1frames.PixelBuffer, amplitude float64, seed uint64) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			img.Set(x, y, img.At(x, y)+amplitude*(2*rng.Float64()-1))
		}
	}
}

// MovingSpotStack renders frames frames of a single spot starting at
// (x0, y0) and moving by (vx, vy) per frame, with seeded noise.
func MovingSpotStack(frames, width, height int, background, noise float64, start Spot, vx, vy float64) *l1frames.StackSource {
	bufs := make([]l1frames.PixelBuffer, frames)
	for t := range frames {
		s := start
		s.X += vx * float64(t)
		s.Y += vy * float64(t)
		img := SpotImage16(width, height, background, s)
		if noise > 0 {
			AddNoise(img, noise, uint64(t)+1)
		}
		bufs[t] = img
	}
	return l1frames.NewStackSource(bufs...)
}
