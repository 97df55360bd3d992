package l1frames

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/tiff" // 16-bit TIFF stacks

	"github.com/banshee-data/peaks.report/internal/security"
)

// FrameSource exposes one 2D pixel buffer per (channel, time) index.
// Implementations must be safe for concurrent use; the scheduler reads
// different frames from many goroutines at once.
type FrameSource interface {
	Frame(channel int, t int64) (PixelBuffer, error)
	// FrameRange returns the inclusive time range available for channel.
	FrameRange(channel int) (first, last int64, err error)
}

// StackSource is an in-memory FrameSource, mostly used for synthetic data
// and tests. Frames are indexed [channel][t].
type StackSource struct {
	Channels [][]PixelBuffer
}

// NewStackSource wraps a single-channel stack.
func NewStackSource(frames ...PixelBuffer) *StackSource {
	return &StackSource{Channels: [][]PixelBuffer{frames}}
}

func (s *StackSource) Frame(channel int, t int64) (PixelBuffer, error) {
	if channel < 0 || channel >= len(s.Channels) {
		return nil, fmt.Errorf("channel %d out of range [0,%d)", channel, len(s.Channels))
	}
	frames := s.Channels[channel]
	if t < 0 || t >= int64(len(frames)) {
		return nil, fmt.Errorf("frame %d out of range [0,%d)", t, len(frames))
	}
	return frames[t], nil
}

func (s *StackSource) FrameRange(channel int) (int64, int64, error) {
	if channel < 0 || channel >= len(s.Channels) {
		return 0, 0, fmt.Errorf("channel %d out of range [0,%d)", channel, len(s.Channels))
	}
	return 0, int64(len(s.Channels[channel])) - 1, nil
}

// supportedExt lists the extensions DirSource will pick up.
var supportedExt = map[string]bool{
	".tif": true, ".tiff": true, ".png": true, ".jpg": true, ".jpeg": true, ".bmp": true,
}

// DirSource reads one frame per image file from a directory. Files are
// ordered lexically, so zero-padded names (t0000.tif, t0001.tif, ...) map
// to ascending time. Only channel 0 is available.
//
// Decoded frames are cached, since the preview path and the full run may
// request the same frame.
type DirSource struct {
	paths []string

	mu    sync.RWMutex
	cache map[int64]PixelBuffer
}

// NewDirSource scans dir for supported image files.
func NewDirSource(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !supportedExt[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := security.ValidatePathWithinDirectory(path, dir); err != nil {
			return nil, fmt.Errorf("frame %s: %w", e.Name(), err)
		}
		paths = append(paths, path)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no image frames found in %s", dir)
	}
	sort.Strings(paths)
	return &DirSource{paths: paths, cache: make(map[int64]PixelBuffer)}, nil
}

// Len returns the number of frames.
func (s *DirSource) Len() int { return len(s.paths) }

func (s *DirSource) FrameRange(channel int) (int64, int64, error) {
	if channel != 0 {
		return 0, 0, fmt.Errorf("directory sources have a single channel, got %d", channel)
	}
	return 0, int64(len(s.paths)) - 1, nil
}

func (s *DirSource) Frame(channel int, t int64) (PixelBuffer, error) {
	if channel != 0 {
		return nil, fmt.Errorf("directory sources have a single channel, got %d", channel)
	}
	if t < 0 || t >= int64(len(s.paths)) {
		return nil, fmt.Errorf("frame %d out of range [0,%d)", t, len(s.paths))
	}

	s.mu.RLock()
	buf, ok := s.cache[t]
	s.mu.RUnlock()
	if ok {
		return buf, nil
	}

	img, err := imaging.Open(s.paths[t])
	if err != nil {
		return nil, fmt.Errorf("decode frame %d (%s): %w", t, filepath.Base(s.paths[t]), err)
	}
	buf, err = FromImage(img)
	if err != nil {
		return nil, fmt.Errorf("convert frame %d: %w", t, err)
	}
	s.mu.Lock()
	s.cache[t] = buf
	s.mu.Unlock()
	return buf, nil
}

// Evict drops a cached frame.
func (s *DirSource) Evict(t int64) {
	s.mu.Lock()
	delete(s.cache, t)
	s.mu.Unlock()
}
