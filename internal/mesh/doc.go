// Package mesh owns the triangle surface consumed by the landmarking
// pipeline.
//
// Responsibilities: the Mesh type and its validation, bounds, surface
// readers (Wavefront OBJ, STL, legacy VTK POLYDATA) and a synthetic
// icosphere used for calibration and tests.
//
// A Mesh is immutable once loaded; every pipeline stage reads it
// concurrently without locking.
package mesh
