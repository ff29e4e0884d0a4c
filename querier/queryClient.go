package querier

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gigapi/gigapi-insitu/catalog"
	"github.com/gigapi/gigapi-insitu/config"
	"github.com/gigapi/gigapi-insitu/core"
	"github.com/gigapi/gigapi-insitu/insitu"
	"github.com/gigapi/gigapi-insitu/metrics"
	"github.com/gigapi/gigapi-insitu/scan"
	"github.com/gigapi/gigapi-insitu/structure"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// Client is what the HTTP and Flight servers need from a query client.
type Client interface {
	Query(ctx context.Context, dataset string, params *insitu.QueryParameters) (*QueryResult, error)
	Statistics(ctx context.Context, dataset string, params *insitu.QueryParameters) (*insitu.StatisticsSummary, error)
	Datasets(ctx context.Context) ([]string, error)
}

// Ensure QueryClient implements Client interface
var _ Client = (*QueryClient)(nil)

// QueryResult is the total match count and one page of rows.
type QueryResult struct {
	Total   int64
	Columns []string
	Rows    []map[string]any
	// Partitions are the partition paths that were scanned.
	Partitions []string
}

// QueryClient plans queries against a dataset root and runs them on DuckDB.
type QueryClient struct {
	Config  *config.Config
	Setting *structure.FileStructureSetting
	Engine  *scan.Engine
	Lookup  *catalog.Lookup
	// Fs lists datasets under a local root.
	Fs afero.Fs

	opts    insitu.PredicateOptions
	closers []func()
}

// NewQueryClient creates a query client. setting may be nil, in which case the
// default column conventions apply.
func NewQueryClient(cfg *config.Config, setting *structure.FileStructureSetting, engine *scan.Engine, index catalog.Index) *QueryClient {
	opts := insitu.DefaultPredicateOptions()
	opts.MissingDepth = cfg.Depth.Missing
	opts.PartitionPruning = cfg.Partition.Pruning
	if setting != nil && setting.QualityPostfix() != "" {
		opts.QualityPostfix = setting.QualityPostfix()
	}
	return &QueryClient{
		Config:  cfg,
		Setting: setting,
		Engine:  engine,
		Lookup:  catalog.NewLookup(cfg.Root, cfg.PathStyle(), insitu.NewEnumerator(cfg.Partition.Earliest), index),
		Fs:      afero.NewOsFs(),
		opts:    opts,
	}
}

// Initialize sets up the scan engine
func (q *QueryClient) Initialize() error {
	return q.Engine.Initialize()
}

// Query returns the rows of dataset matching params. A page size of 0 only
// counts.
func (q *QueryClient) Query(ctx context.Context, dataset string, params *insitu.QueryParameters) (*QueryResult, error) {
	start := time.Now()
	defer func() {
		metrics.QueryDuration.WithLabelValues("query").Observe(time.Since(start).Seconds())
	}()

	if err := q.checkDataset(dataset); err != nil {
		return nil, err
	}
	paths, err := q.Lookup.Partitions(ctx, dataset, params)
	if err != nil {
		return nil, err
	}

	pred := insitu.BuildPredicate(params, q.opts)
	req := core.ScanRequest{
		Paths:       paths,
		Where:       pred.Where(),
		Columns:     pred.Columns,
		DropColumns: q.dropColumns(),
		OrderBy:     q.orderBy(),
		Limit:       params.PageSize,
		Offset:      params.StartIndex,
	}
	if params.CountOnly() {
		req.Limit = 0
	}
	core.Debugf(ctx, "dataset %s: scanning %d partitions where %s", dataset, len(paths), req.Where)

	res, err := q.Engine.Scan(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("query %s failed: %w", dataset, err)
	}
	core.Infof(ctx, "dataset %s: %d matching rows, %d returned in %v", dataset, res.Total, len(res.Rows), time.Since(start))
	return &QueryResult{
		Total:      res.Total,
		Columns:    res.Columns,
		Rows:       res.Rows,
		Partitions: paths,
	}, nil
}

// Statistics summarizes the rows of dataset matching params. Each partition
// is aggregated on its own and the summaries are merged once all finish.
func (q *QueryClient) Statistics(ctx context.Context, dataset string, params *insitu.QueryParameters) (*insitu.StatisticsSummary, error) {
	start := time.Now()
	defer func() {
		metrics.QueryDuration.WithLabelValues("statistics").Observe(time.Since(start).Seconds())
	}()

	if err := q.checkDataset(dataset); err != nil {
		return nil, err
	}
	paths, err := q.Lookup.Partitions(ctx, dataset, params)
	if err != nil {
		return nil, err
	}
	variables, err := q.variables(params)
	if err != nil {
		return nil, err
	}
	// Rows without any of the variables still count towards the extents.
	filter := *params
	filter.Variables = nil
	where := insitu.BuildPredicate(&filter, q.opts).Where()

	summaries := make([]*insitu.StatisticsSummary, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	if q.Config.Stats.Parallelism > 0 {
		g.SetLimit(q.Config.Stats.Parallelism)
	}
	for i, p := range paths {
		g.Go(func() error {
			ds, ok, err := q.Engine.Dataset(gctx, p, where, scan.DatasetOptions{Columns: q.opts.Columns})
			if err != nil || !ok {
				return err
			}
			agg := insitu.NewAggregator(q.opts.MissingDepth, variables)
			agg.Parallelism = q.Config.Stats.Parallelism
			s, err := agg.Aggregate(gctx, ds)
			if core.IsMissingPartition(err) {
				core.Warnf(ctx, "Partition %s removed during statistics, counted as empty", p)
				return nil
			}
			if err != nil {
				return fmt.Errorf("statistics for %s failed: %w", p, err)
			}
			summaries[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := insitu.MergeSummaries(q.opts.MissingDepth, summaries...)
	for _, v := range variables {
		if _, ok := res.ObservationCounts[v]; !ok {
			res.ObservationCounts[v] = 0
		}
	}
	for _, v := range res.FailedVariables {
		metrics.StatisticsFailures.WithLabelValues(v).Inc()
	}
	core.Infof(ctx, "dataset %s: statistics over %d partitions in %v", dataset, len(paths), time.Since(start))
	return res, nil
}

// Datasets lists the served datasets: the configured list, or the directories
// under a local root.
func (q *QueryClient) Datasets(ctx context.Context) ([]string, error) {
	if len(q.Config.Datasets) > 0 || strings.HasPrefix(q.Config.Root, "s3://") {
		return slices.Clone(q.Config.Datasets), nil
	}
	entries, err := afero.ReadDir(q.Fs, q.Config.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", q.Config.Root, err)
	}
	res := []string{}
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			res = append(res, e.Name())
		}
	}
	core.Debugf(ctx, "found %d datasets under %s", len(res), q.Config.Root)
	return res, nil
}

func (q *QueryClient) checkDataset(dataset string) error {
	if dataset == "" {
		return core.ErrValidation("dataset", "is required")
	}
	if strings.ContainsAny(dataset, "/\\") || dataset == "." || dataset == ".." {
		return core.ErrValidation("dataset", "invalid name %q", dataset)
	}
	if !q.Config.HasDataset(dataset) {
		return core.ErrValidation("dataset", "unknown dataset %q", dataset)
	}
	return nil
}

// variables returns the requested variables, or every data column of the
// structure setting when none were requested.
func (q *QueryClient) variables(params *insitu.QueryParameters) ([]string, error) {
	if len(params.Variables) > 0 || q.Setting == nil {
		return params.Variables, nil
	}
	cols, err := q.Setting.DataColumns()
	if err != nil {
		return nil, err
	}
	return cols, nil
}

func (q *QueryClient) dropColumns() []string {
	if q.Setting != nil {
		if cols := q.Setting.ColumnFilters().RemovingColumns; len(cols) > 0 {
			return cols
		}
	}
	return q.opts.Columns.Derived()
}

func (q *QueryClient) orderBy() []string {
	if q.Setting == nil {
		return nil
	}
	return q.Setting.SortMechanism().SortingColumns
}

// AddCloser registers a function run by Close after the engine is closed.
func (q *QueryClient) AddCloser(fn func()) {
	q.closers = append(q.closers, fn)
}

// Close releases resources
func (q *QueryClient) Close() error {
	err := q.Engine.Close()
	for _, fn := range q.closers {
		fn()
	}
	return err
}
