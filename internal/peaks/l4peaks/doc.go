// Package l4peaks owns Layer 4 (Peaks) of the peak-tracking data model.
//
// Responsibilities: local-extremum detection, Levenberg-Marquardt 2D
// Gaussian sub-pixel localization, strongest-first duplicate
// suppression, and annulus background-corrected intensity integration.
// Key types: Peak, Fit, Integration, Config, DetectionStats.
//
// Dependency rule: L4 may depend on L1-L3, but never on L5+.
// No SQL/database code is allowed in this package.
package l4peaks
