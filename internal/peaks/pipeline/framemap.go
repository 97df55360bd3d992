package pipeline

import (
	"fmt"
	"sync/atomic"

	"github.com/banshee-data/peaks.report/internal/peaks/l4peaks"
)

// FramePeakMap holds the peaks of every (frame, cell) slot of a run. Each
// slot is written at most once, by the task that owns it, and no locking
// is needed between writers. Reads are only valid after Seal.
type FramePeakMap struct {
	first  int64
	frames int
	cells  int

	slots   [][]l4peaks.Peak
	written []atomic.Bool
	sealed  atomic.Bool
}

// NewFramePeakMap sizes a map for frames first..last and cells cells.
func NewFramePeakMap(first, last int64, cells int) *FramePeakMap {
	frames := 0
	if last >= first {
		frames = int(last - first + 1)
	}
	n := frames * cells
	return &FramePeakMap{
		first:   first,
		frames:  frames,
		cells:   cells,
		slots:   make([][]l4peaks.Peak, n),
		written: make([]atomic.Bool, n),
	}
}

func (m *FramePeakMap) index(frame int64, cell int) (int, bool) {
	f := frame - m.first
	if f < 0 || f >= int64(m.frames) || cell < 0 || cell >= m.cells {
		return 0, false
	}
	return int(f)*m.cells + cell, true
}

// Put stores peaks for (frame, cell). A slot can only be written once and
// only before Seal.
func (m *FramePeakMap) Put(frame int64, cell int, peaks []l4peaks.Peak) error {
	if m.sealed.Load() {
		return fmt.Errorf("frame %d cell %d: map is sealed", frame, cell)
	}
	i, ok := m.index(frame, cell)
	if !ok {
		return fmt.Errorf("frame %d cell %d: out of range", frame, cell)
	}
	if !m.written[i].CompareAndSwap(false, true) {
		return fmt.Errorf("frame %d cell %d: already written", frame, cell)
	}
	if peaks == nil {
		peaks = []l4peaks.Peak{}
	}
	m.slots[i] = peaks
	return nil
}

// Seal ends the write phase. Callers must not Seal until every writer has
// returned; the scheduler does so after its barrier.
func (m *FramePeakMap) Seal() { m.sealed.Store(true) }

// Sealed reports whether the map is readable.
func (m *FramePeakMap) Sealed() bool { return m.sealed.Load() }

// Has reports whether (frame, cell) was written.
func (m *FramePeakMap) Has(frame int64, cell int) bool {
	i, ok := m.index(frame, cell)
	return ok && m.written[i].Load()
}

// Cell returns the peaks of one slot, or nil if unsealed or unwritten.
func (m *FramePeakMap) Cell(frame int64, cell int) []l4peaks.Peak {
	if !m.Sealed() {
		return nil
	}
	i, ok := m.index(frame, cell)
	if !ok {
		return nil
	}
	return m.slots[i]
}

// Frame returns the peaks of all cells of frame, in cell order.
func (m *FramePeakMap) Frame(frame int64) []l4peaks.Peak {
	var out []l4peaks.Peak
	for c := 0; c < m.cells; c++ {
		out = append(out, m.Cell(frame, c)...)
	}
	return out
}

// Frames lists the frames with at least one written slot, ascending.
func (m *FramePeakMap) Frames() []int64 {
	var out []int64
	for f := 0; f < m.frames; f++ {
		for c := 0; c < m.cells; c++ {
			if m.written[f*m.cells+c].Load() {
				out = append(out, m.first+int64(f))
				break
			}
		}
	}
	return out
}

// Len is the total number of peaks across all slots.
func (m *FramePeakMap) Len() int {
	n := 0
	for _, s := range m.slots {
		n += len(s)
	}
	return n
}
