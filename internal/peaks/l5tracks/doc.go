// Package l5tracks owns Layer 5 (Tracks) of the peak-tracking data model.
//
// Responsibilities: linking per-frame peaks into trajectories by gated
// nearest-candidate matching, the trajectory lifecycle (open, closed,
// accepted, discarded), trajectory identifiers, and per-trajectory
// summaries.
// Key types: Linker, Trajectory, TrackerConfig, IDGenerator.
//
// Dependency rule: L5 may depend on L1-L4, but never on storage or
// pipeline packages. No SQL/database code is allowed in this package.
package l5tracks
