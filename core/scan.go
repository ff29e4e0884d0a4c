package core

import (
	"context"
)

// ScanRequest is what the planner hands to the scan engine.
type ScanRequest struct {
	// Paths are rendered partition paths; an empty list scans nothing.
	Paths []string
	// Where is the pushed-down predicate. Empty means no filter.
	Where string
	// Columns is the projection. Empty means all columns.
	Columns []string
	// DropColumns are removed from the output when Columns is empty.
	DropColumns []string
	OrderBy     []string
	// Limit of 0 is count-only mode: no rows are materialized.
	Limit  int
	Offset int
}

// ScanResult holds the total match count and one page of rows.
type ScanResult struct {
	Total   int64
	Columns []string
	Rows    []map[string]any
}

// ScanEngine executes a planned scan over partition paths.
type ScanEngine interface {
	// Initialize sets up the engine
	Initialize() error

	// Scan counts matching rows and returns the requested page
	Scan(ctx context.Context, req ScanRequest) (*ScanResult, error)

	// Close releases resources
	Close() error
}
