package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Queryer is the part of pgxpool.Pool the index uses.
type Queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresIndex reads partition metadata from a table maintained by the
// ingestion pipeline:
//
//	CREATE TABLE insitu_partitions (
//	    dataset   text NOT NULL,
//	    path      text NOT NULL,
//	    row_count bigint,
//	    min_time  timestamptz,
//	    max_time  timestamptz,
//	    PRIMARY KEY (dataset, path)
//	);
type PostgresIndex struct {
	db    Queryer
	query string
}

func NewPostgresIndex(db Queryer, table string) *PostgresIndex {
	return &PostgresIndex{
		db: db,
		query: fmt.Sprintf(
			"SELECT path, row_count, min_time, max_time FROM %s WHERE dataset = $1 AND path = ANY($2)",
			pgx.Identifier{table}.Sanitize()),
	}
}

// ConnectPostgresIndex opens a pool for dsn. Close the pool when done.
func ConnectPostgresIndex(ctx context.Context, dsn, table string) (*PostgresIndex, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	return NewPostgresIndex(pool, table), pool, nil
}

func (x *PostgresIndex) Name() string { return "postgres" }

func (x *PostgresIndex) Partitions(ctx context.Context, dataset string, candidates []string) ([]PartitionEntry, error) {
	rows, err := x.db.Query(ctx, x.query, dataset, candidates)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]PartitionEntry, 0, len(candidates))
	for rows.Next() {
		var (
			path             string
			rowCount         *int64
			minTime, maxTime *time.Time
		)
		if err := rows.Scan(&path, &rowCount, &minTime, &maxTime); err != nil {
			return nil, err
		}
		entry := PartitionEntry{Path: path, RowCount: -1, MinTime: minTime, MaxTime: maxTime}
		if rowCount != nil {
			entry.RowCount = *rowCount
		}
		res = append(res, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}
