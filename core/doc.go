// Package core defines the domain model for OBuoy.
//
// # Overview
//
// The core package provides:
//   - Domain types (Buoy, Observation, Marker)
//   - Validation of domain values before they are stored
//   - Constants shared by the storage, feed and web layers
//
// Types carry both bson and json tags so the same value can be persisted in
// MongoDB and rendered to the map widget without an intermediate mapping.
package core
