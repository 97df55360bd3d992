// Package pipeline provides the peak-tracking pipeline that orchestrates
// processing stages from L1 Frames through L5 Tracks.
//
// This package is the composition root: it imports from layer packages
// (l1frames, l3grid, l4peaks, l5tracks), but none of those packages
// import pipeline/. Persistence is reached through the TrajectorySink
// interface so storage stays a leaf.
//
// A run has two phases separated by a barrier. Detection tasks, one per
// (frame, grid cell), run on a bounded worker pool and each write their
// own FramePeakMap slot. Once every task has finished, each cell is
// linked by its own Linker in time order and the trajectories of all
// cells are merged.
package pipeline
