package querier

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"
)

func JsonFormatter(ctx context.Context, res *QueryResult, w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(QueryResponse{
		Total:   res.Total,
		Results: ProcessResultsForJSON(res.Rows),
	})
}

// NDJsonFormatter writes one object per row. The total is sent in the
// X-Total-Count header.
func NDJsonFormatter(ctx context.Context, res *QueryResult, w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("X-Total-Count", strconv.FormatInt(res.Total, 10))
	enc := json.NewEncoder(w)
	for _, row := range ProcessResultsForJSON(res.Rows) {
		if err := enc.Encode(row); err != nil {
			return err
		}
	}
	return nil
}

// ProcessResultsForJSON prepares results for JSON serialization
func ProcessResultsForJSON(results []map[string]any) []map[string]any {
	processedResults := make([]map[string]any, len(results))

	for i, row := range results {
		processedRow := make(map[string]any, len(row))

		for key, value := range row {
			switch v := value.(type) {
			case nil:
				processedRow[key] = nil
			case int64:
				// Convert int64 to string for JSON
				processedRow[key] = strconv.FormatInt(v, 10)
			case time.Time:
				processedRow[key] = v.UTC().Format(time.RFC3339Nano)
			case []byte:
				processedRow[key] = string(v)
			case float64:
				// JSON has no NaN or Inf
				if math.IsNaN(v) || math.IsInf(v, 0) {
					processedRow[key] = nil
				} else {
					processedRow[key] = v
				}
			case float32:
				if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
					processedRow[key] = nil
				} else {
					processedRow[key] = v
				}
			default:
				processedRow[key] = v
			}
		}

		processedResults[i] = processedRow
	}

	return processedResults
}
