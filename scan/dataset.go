package scan

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gigapi/gigapi-insitu/insitu"
)

// Ensure Dataset implements insitu.Dataset interface
var _ insitu.Dataset = (*Dataset)(nil)

// DatasetOptions names the columns the statistics queries read.
type DatasetOptions struct {
	Columns insitu.Columns
	// Path is the partition behind the relation, reported when its files
	// disappear.
	Path string
}

// Dataset computes statistics with SQL over any DuckDB relation: a table
// name or a read_parquet(...) call.
type Dataset struct {
	db    *sql.DB
	from  string
	where string
	cols  insitu.Columns
	path  string
}

func NewDataset(db *sql.DB, from, where string, opts DatasetOptions) *Dataset {
	return &Dataset{db: db, from: from, where: where, cols: opts.Columns, path: opts.Path}
}

func (d *Dataset) filter(extra string) string {
	switch {
	case d.where == "" && extra == "":
		return ""
	case d.where == "":
		return " WHERE " + extra
	case extra == "":
		return " WHERE " + d.where
	}
	return " WHERE (" + d.where + ") AND " + extra
}

func (d *Dataset) Extents(ctx context.Context) (insitu.Extents, error) {
	c := d.cols
	q := fmt.Sprintf(`SELECT count(*),
		min(%[1]s), max(%[1]s), min(%[2]s), max(%[2]s), min(%[3]s), max(%[3]s),
		CAST(epoch(min(%[4]s)) AS DOUBLE), CAST(epoch(max(%[4]s)) AS DOUBLE)
		FROM %[5]s%[6]s`,
		QuoteIdent(c.Lat), QuoteIdent(c.Lon), QuoteIdent(c.Depth), QuoteIdent(c.TimeObj), d.from, d.filter(""))

	var (
		e    insitu.Extents
		vals [8]sql.NullFloat64
	)
	err := d.db.QueryRowContext(ctx, q).Scan(&e.Rows,
		&vals[0], &vals[1], &vals[2], &vals[3], &vals[4], &vals[5], &vals[6], &vals[7])
	if err != nil {
		return insitu.Extents{}, d.error(fmt.Errorf("extents query failed: %w", err))
	}
	e.MinLat, e.MaxLat = vals[0].Float64, vals[1].Float64
	e.MinLon, e.MaxLon = vals[2].Float64, vals[3].Float64
	e.MinDepth, e.MaxDepth = vals[4].Float64, vals[5].Float64
	e.MinTime, e.MaxTime = vals[6].Float64, vals[7].Float64
	return e, nil
}

func (d *Dataset) MinDepthExcluding(ctx context.Context, missing float64) (float64, bool, error) {
	col := QuoteIdent(d.cols.Depth)
	q := fmt.Sprintf("SELECT min(%s) FROM %s%s", col, d.from,
		d.filter(fmt.Sprintf("%s <> %v", col, missing)))
	var v sql.NullFloat64
	if err := d.db.QueryRowContext(ctx, q).Scan(&v); err != nil {
		return 0, false, d.error(fmt.Errorf("min depth query failed: %w", err))
	}
	return v.Float64, v.Valid, nil
}

func (d *Dataset) CountNonNull(ctx context.Context, column string) (int64, error) {
	q := fmt.Sprintf("SELECT count(%s) FROM %s%s", QuoteIdent(column), d.from, d.filter(""))
	var n int64
	if err := d.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, d.error(fmt.Errorf("count query failed: %w", err))
	}
	return n, nil
}

func (d *Dataset) error(err error) error {
	res := engineError([]string{d.path}, err)
	if res.Missing && res.Path == "" {
		res.Path = d.path
	}
	return res
}
