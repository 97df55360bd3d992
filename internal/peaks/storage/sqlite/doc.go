// Package sqlite contains the SQLite trajectory archive.
//
// All database read/write operations for archive runs, trajectories and
// their per-frame points belong here rather than in the domain layer
// packages (L1-L5). ArchiveBuilder converts accepted trajectories into
// archive records in physical units and hands them to ArchiveStore.
package sqlite
