package querier

import (
	"context"
	"net/http"
)

type formatterFn func(ctx context.Context, res *QueryResult, w http.ResponseWriter) error

var formatters = map[string]formatterFn{
	"json":   JsonFormatter,
	"ndjson": NDJsonFormatter,
	"arrow":  ArrowFormatter,
}
