package querier

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/gigapi/gigapi-insitu/core"
)

// ArrowFormatter writes the page as an Arrow IPC stream. The total is sent in
// the X-Total-Count header.
func ArrowFormatter(ctx context.Context, res *QueryResult, w http.ResponseWriter) error {
	rec := convertResultsToArrow(ctx, memory.DefaultAllocator, res.Columns, res.Rows)
	defer rec.Release()

	w.Header().Set("Content-Type", "application/vnd.apache.arrow.stream")
	w.Header().Set("X-Total-Count", strconv.FormatInt(res.Total, 10))
	writer := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()))
	if err := writer.Write(rec); err != nil {
		return fmt.Errorf("failed to write record batch: %w", err)
	}
	return writer.Close()
}

// convertResultsToArrow builds one record with a field per column, in order.
// Each field takes the type of the first non-null value in its column; values
// of another type are written as null and logged.
func convertResultsToArrow(ctx context.Context, mem memory.Allocator, columns []string, rows []map[string]any) arrow.Record {
	fields := make([]arrow.Field, len(columns))
	for i, col := range columns {
		fields[i] = arrow.Field{Name: col, Type: inferColumnType(col, rows), Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	for i, col := range columns {
		fb := b.Field(i)
		mismatched := 0
		for _, row := range rows {
			if !appendValue(fb, row[col]) {
				mismatched++
			}
		}
		if mismatched > 0 {
			core.Warnf(ctx, "column %s: %d values do not fit %s and were written as null", col, mismatched, fields[i].Type)
		}
	}
	return b.NewRecord()
}

func inferColumnType(col string, rows []map[string]any) arrow.DataType {
	for _, row := range rows {
		switch row[col].(type) {
		case nil:
			continue
		case float64, float32:
			return arrow.PrimitiveTypes.Float64
		case int, int8, int16, int32, int64, uint8, uint16, uint32, uint64:
			return arrow.PrimitiveTypes.Int64
		case bool:
			return arrow.FixedWidthTypes.Boolean
		case time.Time:
			return arrow.FixedWidthTypes.Timestamp_us
		default:
			return arrow.BinaryTypes.String
		}
	}
	return arrow.BinaryTypes.String
}

// appendValue appends val to b and reports whether it fit the builder's type.
func appendValue(b array.Builder, val any) bool {
	if val == nil {
		b.AppendNull()
		return true
	}
	switch b := b.(type) {
	case *array.Float64Builder:
		if f, ok := toFloat64(val); ok {
			b.Append(f)
			return true
		}
	case *array.Int64Builder:
		if n, ok := toInt64(val); ok {
			b.Append(n)
			return true
		}
	case *array.BooleanBuilder:
		if v, ok := val.(bool); ok {
			b.Append(v)
			return true
		}
	case *array.TimestampBuilder:
		if t, ok := val.(time.Time); ok {
			b.Append(arrow.Timestamp(t.UTC().UnixMicro()))
			return true
		}
	case *array.StringBuilder:
		switch v := val.(type) {
		case string:
			b.Append(v)
		case []byte:
			b.Append(string(v))
		default:
			b.Append(fmt.Sprintf("%v", v))
		}
		return true
	}
	b.AppendNull()
	return false
}

func toFloat64(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	}
	if n, ok := toInt64(val); ok {
		return float64(n), true
	}
	return 0, false
}

func toInt64(val any) (int64, bool) {
	switch v := val.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		return int64(v), true
	}
	return 0, false
}
