// Package l1frames owns Layer 1 (Frames) of the peak-tracking data model.
//
// Responsibilities: numeric pixel buffers, region masks, and the
// FrameSource contract through which every later layer reads pixels.
// Key types: PixelBuffer, Image, RegionMask, FrameSource.
//
// Dependency rule: L1 depends on nothing else in internal/peaks.
// No file-format parsing beyond plain image decoding lives here; OME
// metadata and archive formats are handled by external collaborators.
package l1frames
