package l1frames

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Image
// ---------------------------------------------------------------------------

func TestImageSetClampsIntegerTypes(t *testing.T) {
	t.Parallel()

	img := NewImage[uint8](image.Rect(0, 0, 2, 1))
	img.Set(0, 0, 300.7)
	img.Set(1, 0, -4)
	assert.Equal(t, 255.0, img.At(0, 0))
	assert.Equal(t, 0.0, img.At(1, 0))

	i16 := NewImage[int16](image.Rect(0, 0, 1, 1))
	i16.Set(0, 0, -12.6)
	assert.Equal(t, -13.0, i16.At(0, 0))

	f := NewImage[float32](image.Rect(0, 0, 1, 1))
	f.Set(0, 0, 1.25)
	assert.Equal(t, 1.25, f.At(0, 0))
}

func TestImageKeepsAbsoluteCoordinates(t *testing.T) {
	t.Parallel()

	img := NewImage[float64](image.Rect(10, 20, 13, 22))
	img.Set(11, 21, 5)
	assert.Equal(t, 5.0, img.At(11, 21))
	assert.Equal(t, 0.0, img.At(0, 0), "out of bounds reads are zero")
	img.Set(0, 0, 9) // ignored

	crop := ToFloat(img, image.Rect(11, 20, 20, 30))
	assert.Equal(t, image.Rect(11, 20, 13, 22), crop.Bounds())
	assert.Equal(t, 5.0, crop.At(11, 21))
}

func TestFromImageGray16(t *testing.T) {
	t.Parallel()

	src := image.NewGray16(image.Rect(0, 0, 3, 2))
	src.Pix[2*(1*3+2)] = 0x12
	src.Pix[2*(1*3+2)+1] = 0x34

	buf, err := FromImage(src)
	require.NoError(t, err)
	assert.Equal(t, float64(0x1234), buf.At(2, 1))

	_, err = FromImage(nil)
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Regions
// ---------------------------------------------------------------------------

func TestRectRegionPointsRowMajor(t *testing.T) {
	t.Parallel()

	r := NewRectRegion(image.Rect(1, 1, 3, 3))
	var got []image.Point
	for p := range r.Points() {
		got = append(got, p)
	}
	assert.Equal(t, []image.Point{{1, 1}, {2, 1}, {1, 2}, {2, 2}}, got)
	assert.Equal(t, 4, r.Len())
	assert.True(t, r.Contains(2, 2))
	assert.False(t, r.Contains(3, 2))
}

func TestPointRegionDeduplicatesAndSorts(t *testing.T) {
	t.Parallel()

	r := NewPointRegion([]image.Point{{5, 2}, {1, 2}, {5, 2}, {3, 0}})
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, image.Rect(1, 0, 6, 3), r.Bounds())

	var got []image.Point
	for p := range r.Points() {
		got = append(got, p)
	}
	assert.Equal(t, []image.Point{{3, 0}, {1, 2}, {5, 2}}, got)
}

func TestClip(t *testing.T) {
	t.Parallel()

	rect := Clip(NewRectRegion(image.Rect(0, 0, 10, 10)), image.Rect(5, 5, 20, 20))
	assert.Equal(t, image.Rect(5, 5, 10, 10), rect.Bounds())

	pts := Clip(NewPointRegion([]image.Point{{1, 1}, {6, 6}}), image.Rect(5, 5, 20, 20))
	assert.Equal(t, 1, pts.Len())
	assert.True(t, pts.Contains(6, 6))
}

// ---------------------------------------------------------------------------
// Sources
// ---------------------------------------------------------------------------

func TestStackSource(t *testing.T) {
	t.Parallel()

	a := NewFloatImage(2, 2)
	b := NewFloatImage(2, 2)
	src := NewStackSource(a, b)

	first, last, err := src.FrameRange(0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), first)
	assert.Equal(t, int64(1), last)

	got, err := src.Frame(0, 1)
	require.NoError(t, err)
	assert.Same(t, b, got)

	_, err = src.Frame(0, 2)
	assert.Error(t, err)
	_, err = src.Frame(1, 0)
	assert.Error(t, err)
}

func TestDirSourceLoadsFramesInNameOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for i, v := range []uint16{100, 200} {
		img := image.NewGray16(image.Rect(0, 0, 4, 4))
		for j := 0; j < len(img.Pix); j += 2 {
			img.Pix[j] = byte(v >> 8)
			img.Pix[j+1] = byte(v)
		}
		f, err := os.Create(filepath.Join(dir, []string{"t001.png", "t000.png"}[i]))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, img))
		require.NoError(t, f.Close())
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	src, err := NewDirSource(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, src.Len())

	f0, err := src.Frame(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 200.0, f0.At(1, 1), "t000.png sorts first")

	f1, err := src.Frame(0, 1)
	require.NoError(t, err)
	assert.Equal(t, 100.0, f1.At(3, 3))

	again, err := src.Frame(0, 1)
	require.NoError(t, err)
	assert.Same(t, f1, again, "frames are cached")

	_, err = src.Frame(1, 0)
	assert.Error(t, err)
}

func TestDirSourceEmptyDirectory(t *testing.T) {
	t.Parallel()

	_, err := NewDirSource(t.TempDir())
	assert.Error(t, err)
}

func TestDirSourceRejectsEscapingLinks(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dir := filepath.Join(root, "frames")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	outside := filepath.Join(root, "outside.png")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))
	require.NoError(t, os.Symlink(outside, filepath.Join(dir, "t000.png")))

	_, err := NewDirSource(dir)
	assert.ErrorContains(t, err, "t000.png")
}
