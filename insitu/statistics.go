package insitu

import (
	"context"
	"fmt"
	"slices"

	"github.com/gigapi/gigapi-insitu/core"
	"golang.org/x/sync/errgroup"
)

// Extents is the result of the single pass over a dataset.
// Min/max values are zero when Rows is zero.
type Extents struct {
	Rows     int64
	MinLat   float64
	MaxLat   float64
	MinLon   float64
	MaxLon   float64
	MinDepth float64
	MaxDepth float64
	// MinTime and MaxTime are epoch seconds.
	MinTime float64
	MaxTime float64
}

// Dataset is a scannable set of rows, typically one partition.
type Dataset interface {
	// Extents computes the row count and all min/max values in one pass.
	Extents(ctx context.Context) (Extents, error)
	// MinDepthExcluding returns the minimum depth over rows whose depth is not
	// the given value. ok is false when no such row exists.
	MinDepthExcluding(ctx context.Context, missing float64) (depth float64, ok bool, err error)
	// CountNonNull counts rows where column is populated.
	CountNonNull(ctx context.Context, column string) (int64, error)
}

// StatisticsSummary holds the extents and observation counts of a dataset.
type StatisticsSummary struct {
	TotalRows         int64            `json:"total"`
	MinLat            float64          `json:"min_lat"`
	MaxLat            float64          `json:"max_lat"`
	MinLon            float64          `json:"min_lon"`
	MaxLon            float64          `json:"max_lon"`
	MinDepth          float64          `json:"min_depth"`
	MaxDepth          float64          `json:"max_depth"`
	MinTime           float64          `json:"min_datetime"`
	MaxTime           float64          `json:"max_datetime"`
	ObservationCounts map[string]int64 `json:"observation_counts"`
	FailedVariables   []string         `json:"failed_variables,omitempty"`
}

// Aggregator computes a StatisticsSummary for a Dataset.
type Aggregator struct {
	MissingDepth float64
	Variables    []string
	// Parallelism bounds concurrent observation counts; <= 0 means unbounded.
	Parallelism int
}

func NewAggregator(missingDepth float64, variables []string) *Aggregator {
	return &Aggregator{
		MissingDepth: missingDepth,
		Variables:    variables,
		Parallelism:  4,
	}
}

// Aggregate scans the dataset once for extents. If the minimum depth is the
// missing-depth value, a second pass recovers the minimum over real depths.
// A failed observation count is recorded as 0 and does not fail the call.
func (a *Aggregator) Aggregate(ctx context.Context, ds Dataset) (*StatisticsSummary, error) {
	ext, err := ds.Extents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compute extents: %w", err)
	}

	if ext.Rows > 0 && ext.MinDepth == a.MissingDepth {
		depth, ok, err := ds.MinDepthExcluding(ctx, a.MissingDepth)
		if err != nil {
			return nil, fmt.Errorf("failed to compute min depth: %w", err)
		}
		if ok {
			ext.MinDepth = depth
		}
	}

	counts, failed := a.countObservations(ctx, ds)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &StatisticsSummary{
		TotalRows:         ext.Rows,
		MinLat:            ext.MinLat,
		MaxLat:            ext.MaxLat,
		MinLon:            ext.MinLon,
		MaxLon:            ext.MaxLon,
		MinDepth:          ext.MinDepth,
		MaxDepth:          ext.MaxDepth,
		MinTime:           ext.MinTime,
		MaxTime:           ext.MaxTime,
		ObservationCounts: counts,
		FailedVariables:   failed,
	}, nil
}

// countObservations runs one count per variable. Failures are isolated: a
// sibling count is never cancelled because another failed.
func (a *Aggregator) countObservations(ctx context.Context, ds Dataset) (map[string]int64, []string) {
	counts := make([]int64, len(a.Variables))
	errs := make([]error, len(a.Variables))

	var g errgroup.Group
	if a.Parallelism > 0 {
		g.SetLimit(a.Parallelism)
	}
	for i, v := range a.Variables {
		g.Go(func() error {
			n, err := ds.CountNonNull(ctx, v)
			if err != nil {
				errs[i] = &core.PartialStatisticsError{Variable: v, Err: err}
				return nil
			}
			counts[i] = n
			return nil
		})
	}
	_ = g.Wait()

	res := make(map[string]int64, len(a.Variables))
	var failed []string
	for i, v := range a.Variables {
		if errs[i] != nil {
			core.Warnf(ctx, "%v; recording 0", errs[i])
			failed = append(failed, v)
		}
		res[v] = counts[i]
	}
	return res, failed
}

// MergeSummaries combines per-partition summaries. A partition holding only
// missing depths does not drag the merged minimum down to the missing value.
func MergeSummaries(missingDepth float64, summaries ...*StatisticsSummary) *StatisticsSummary {
	res := &StatisticsSummary{ObservationCounts: map[string]int64{}}
	seen := false
	realMinDepth := false
	failed := map[string]struct{}{}

	for _, s := range summaries {
		if s == nil {
			continue
		}
		for k, v := range s.ObservationCounts {
			res.ObservationCounts[k] += v
		}
		for _, v := range s.FailedVariables {
			failed[v] = struct{}{}
		}
		if s.TotalRows == 0 {
			continue
		}
		res.TotalRows += s.TotalRows
		if !seen {
			seen = true
			res.MinLat, res.MaxLat = s.MinLat, s.MaxLat
			res.MinLon, res.MaxLon = s.MinLon, s.MaxLon
			res.MinDepth, res.MaxDepth = s.MinDepth, s.MaxDepth
			res.MinTime, res.MaxTime = s.MinTime, s.MaxTime
			realMinDepth = s.MinDepth != missingDepth
			continue
		}
		res.MinLat = min(res.MinLat, s.MinLat)
		res.MaxLat = max(res.MaxLat, s.MaxLat)
		res.MinLon = min(res.MinLon, s.MinLon)
		res.MaxLon = max(res.MaxLon, s.MaxLon)
		res.MaxDepth = max(res.MaxDepth, s.MaxDepth)
		res.MinTime = min(res.MinTime, s.MinTime)
		res.MaxTime = max(res.MaxTime, s.MaxTime)
		switch {
		case s.MinDepth == missingDepth:
		case !realMinDepth:
			res.MinDepth = s.MinDepth
			realMinDepth = true
		default:
			res.MinDepth = min(res.MinDepth, s.MinDepth)
		}
	}

	for v := range failed {
		res.FailedVariables = append(res.FailedVariables, v)
	}
	slices.Sort(res.FailedVariables)
	return res
}
