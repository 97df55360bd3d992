// Package l2filter owns Layer 2 (Filtering) of the peak-tracking data model.
//
// Responsibilities: the Difference-of-Gaussians noise suppression filter
// that turns a raw frame into the working image used for peak detection.
//
// Dependency rule: L2 may depend on L1 only.
package l2filter
