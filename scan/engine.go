// Package scan executes planned scans over parquet partitions with DuckDB.
package scan

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gigapi/gigapi-insitu/core"
	_ "github.com/marcboeker/go-duckdb/v2"
)

// Ensure Engine implements core.ScanEngine interface
var _ core.ScanEngine = (*Engine)(nil)

// Engine runs scans against an embedded DuckDB instance.
type Engine struct {
	DB *sql.DB
	// Settings are executed once after the connection is opened, e.g.
	// "LOAD httpfs" or "SET s3_region='eu-west-1'".
	Settings []string
}

func NewEngine(settings ...string) *Engine {
	return &Engine{Settings: settings}
}

// Initialize sets up the DuckDB connection
func (e *Engine) Initialize() error {
	db, err := sql.Open("duckdb", "?access_mode=READ_WRITE")
	if err != nil {
		return fmt.Errorf("failed to initialize DuckDB: %w", err)
	}
	for _, s := range e.Settings {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return fmt.Errorf("failed to apply %q: %w", s, err)
		}
	}
	e.DB = db
	return nil
}

// scanAttempts bounds how often Scan probes the partitions again after one
// disappeared between the probe and the read.
const scanAttempts = 3

// Scan counts the rows matching req.Where over all partitions and, unless
// req.Limit is 0, returns one page of them. Partitions with no parquet files
// contribute zero rows, including ones removed while the scan runs.
func (e *Engine) Scan(ctx context.Context, req core.ScanRequest) (*core.ScanResult, error) {
	var err error
	for attempt := 0; attempt < scanAttempts; attempt++ {
		var sources []string
		sources, err = e.Sources(ctx, req.Paths)
		if err != nil {
			return nil, err
		}
		var res *core.ScanResult
		res, err = e.scan(ctx, req, sources)
		if !core.IsMissingPartition(err) {
			return res, err
		}
		core.Warnf(ctx, "Partition removed during scan, probing again: %v", err)
	}
	return nil, err
}

func (e *Engine) scan(ctx context.Context, req core.ScanRequest, sources []string) (*core.ScanResult, error) {
	res := &core.ScanResult{Columns: req.Columns, Rows: []map[string]any{}}
	if len(sources) == 0 {
		return res, nil
	}
	from := ReadParquet(sources)
	where := ""
	if req.Where != "" {
		where = " WHERE " + req.Where
	}

	start := time.Now()
	countQuery := "SELECT count(*) FROM " + from + where
	if err := e.DB.QueryRowContext(ctx, countQuery).Scan(&res.Total); err != nil {
		return nil, engineError(req.Paths, fmt.Errorf("count failed: %w", err))
	}
	core.Debugf(ctx, "Counted %d rows in %d partitions in: %v", res.Total, len(sources), time.Since(start))
	if req.Limit <= 0 || res.Total == 0 {
		return res, nil
	}

	var q strings.Builder
	q.WriteString("SELECT ")
	if len(req.Columns) == 0 {
		q.WriteString("*")
	} else {
		for i, c := range req.Columns {
			if i > 0 {
				q.WriteString(", ")
			}
			q.WriteString(QuoteIdent(c))
		}
	}
	q.WriteString(" FROM " + from + where)
	if len(req.OrderBy) > 0 {
		order := make([]string, len(req.OrderBy))
		for i, c := range req.OrderBy {
			order[i] = QuoteIdent(c)
		}
		q.WriteString(" ORDER BY " + strings.Join(order, ", "))
	}
	fmt.Fprintf(&q, " LIMIT %d OFFSET %d", req.Limit, req.Offset)

	start = time.Now()
	rows, err := e.DB.QueryContext(ctx, q.String())
	if err != nil {
		return nil, engineError(req.Paths, fmt.Errorf("query execution failed: %w", err))
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	keep := make([]bool, len(columns))
	res.Columns = make([]string, 0, len(columns))
	for i, c := range columns {
		keep[i] = len(req.Columns) > 0 || !slices.Contains(req.DropColumns, c)
		if keep[i] {
			res.Columns = append(res.Columns, c)
		}
	}

	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("error scanning row: %w", err)
		}
		row := make(map[string]any, len(res.Columns))
		for i, col := range columns {
			if keep[i] {
				row[col] = values[i]
			}
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, engineError(req.Paths, fmt.Errorf("error iterating rows: %w", err))
	}
	core.Debugf(ctx, "Got %d rows in: %v", len(res.Rows), time.Since(start))
	return res, nil
}

// Sources returns the file patterns for the partitions that hold at least one
// parquet file. Missing partitions are dropped.
func (e *Engine) Sources(ctx context.Context, paths []string) ([]string, error) {
	res := make([]string, 0, len(paths))
	for _, p := range paths {
		pattern := Pattern(p)
		ok, err := e.exists(ctx, pattern)
		if err != nil {
			return nil, &core.ScanEngineError{Path: p, Err: err}
		}
		if !ok {
			core.Debugf(ctx, "No parquet files under %s", p)
			continue
		}
		res = append(res, pattern)
	}
	return res, nil
}

func (e *Engine) exists(ctx context.Context, pattern string) (bool, error) {
	var n int64
	err := e.DB.QueryRowContext(ctx, "SELECT count(*) FROM glob("+QuoteLiteral(pattern)+")").Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// engineError wraps a DuckDB failure. When DuckDB found no files for one of
// the partition patterns the error names that partition and is marked Missing.
func engineError(paths []string, err error) *core.ScanEngineError {
	msg := err.Error()
	if !strings.Contains(msg, "No files found") {
		return &core.ScanEngineError{Err: err}
	}
	res := &core.ScanEngineError{Missing: true, Err: err}
	for _, p := range paths {
		if strings.Contains(msg, Pattern(p)) {
			res.Path = p
			break
		}
	}
	return res
}

// Dataset returns the statistics view of one partition filtered by where.
// ok is false when the partition holds no parquet files.
func (e *Engine) Dataset(ctx context.Context, path, where string, opts DatasetOptions) (ds *Dataset, ok bool, err error) {
	sources, err := e.Sources(ctx, []string{path})
	if err != nil {
		return nil, false, err
	}
	if len(sources) == 0 {
		return nil, false, nil
	}
	opts.Path = path
	return NewDataset(e.DB, ReadParquet(sources), where, opts), true, nil
}

// Close releases resources
func (e *Engine) Close() error {
	if e.DB != nil {
		return e.DB.Close()
	}
	return nil
}

// Pattern turns a partition path into a recursive parquet glob. A path that
// already names a parquet file is returned unchanged.
func Pattern(path string) string {
	if strings.HasSuffix(path, ".parquet") {
		return path
	}
	return strings.TrimRight(path, "/") + "/**/*.parquet"
}

// ReadParquet renders the read_parquet table function over the given patterns.
// Partition directories are not interpreted as columns; the files carry
// year and month themselves.
func ReadParquet(patterns []string) string {
	quoted := make([]string, len(patterns))
	for i, p := range patterns {
		quoted[i] = QuoteLiteral(p)
	}
	return fmt.Sprintf("read_parquet([%s], union_by_name=true, hive_partitioning=false)", strings.Join(quoted, ", "))
}

func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func QuoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
