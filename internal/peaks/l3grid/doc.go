// Package l3grid owns Layer 3 (Grid) of the peak-tracking data model.
//
// Responsibilities: partitioning a search region into an hCells x vCells
// grid of cells, and filtering each cell on a padded window so per-cell
// DoG values match a whole-frame filter inside the cell.
// Key types: GridConfig, Cell.
//
// Dependency rule: L3 may depend on L1-L2, but never on L4+.
package l3grid
