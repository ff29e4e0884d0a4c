// Package catalog resolves the partitions of a dataset that may hold rows for
// a query, using a partition index to drop candidates that do not exist, are
// empty or lie outside the requested time range.
package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/gigapi/gigapi-insitu/core"
	"github.com/gigapi/gigapi-insitu/insitu"
	"github.com/gigapi/gigapi-insitu/metrics"
)

// PartitionEntry is what an index knows about one existing partition.
type PartitionEntry struct {
	Path string
	// RowCount is -1 when unknown.
	RowCount int64
	// MinTime and MaxTime are nil when unknown.
	MinTime *time.Time
	MaxTime *time.Time
}

// Index reports which candidate partitions exist. Candidates that do not exist
// are left out of the result; that is not an error.
type Index interface {
	Name() string
	Partitions(ctx context.Context, dataset string, candidates []string) ([]PartitionEntry, error)
}

// Lookup turns query parameters into the partition paths to scan.
type Lookup struct {
	Root       string
	Style      insitu.PathStyle
	Enumerator *insitu.Enumerator
	Index      Index
}

func NewLookup(root string, style insitu.PathStyle, enumerator *insitu.Enumerator, index Index) *Lookup {
	return &Lookup{
		Root:       root,
		Style:      style,
		Enumerator: enumerator,
		Index:      index,
	}
}

// Template returns the partition template for a dataset.
func (l *Lookup) Template(dataset string) insitu.PartitionPath {
	return insitu.NewPartitionTemplate(JoinPath(l.Root, dataset), l.Style)
}

// Partitions returns the rendered paths to scan, in enumeration order. Without
// time bounds the dataset root itself is the only candidate. An empty result is
// a valid answer; only an unreachable index is an error.
func (l *Lookup) Partitions(ctx context.Context, dataset string, params *insitu.QueryParameters) ([]string, error) {
	tmpl := l.Template(dataset)
	candidates, expanded := l.Enumerator.Enumerate([]insitu.PartitionPath{tmpl}, params.MinTime, params.MaxTime)
	if !expanded {
		candidates = []insitu.PartitionPath{tmpl}
	}
	if len(candidates) == 0 {
		return []string{}, nil
	}
	paths := insitu.RenderPaths(candidates)
	metrics.PartitionsEnumerated.WithLabelValues(dataset).Add(float64(len(paths)))

	entries, err := l.Index.Partitions(ctx, dataset, paths)
	if err != nil {
		metrics.IndexErrors.WithLabelValues(l.Index.Name()).Inc()
		return nil, &core.IndexUnavailableError{Index: l.Index.Name(), Err: err}
	}

	known := make(map[string]PartitionEntry, len(entries))
	for _, e := range entries {
		known[e.Path] = e
	}
	res := make([]string, 0, len(entries))
	for _, p := range paths {
		e, ok := known[p]
		if !ok || !keep(e, params) {
			continue
		}
		res = append(res, p)
	}

	if pruned := len(paths) - len(res); pruned > 0 {
		metrics.PartitionsPruned.WithLabelValues(dataset).Add(float64(pruned))
	}
	core.Debugf(ctx, "dataset %s: %d candidate partitions, %d kept", dataset, len(paths), len(res))
	return res, nil
}

func keep(e PartitionEntry, params *insitu.QueryParameters) bool {
	if e.RowCount == 0 {
		return false
	}
	if params.MinTime != nil && e.MaxTime != nil && e.MaxTime.Before(*params.MinTime) {
		return false
	}
	if params.MaxTime != nil && e.MinTime != nil && e.MinTime.After(*params.MaxTime) {
		return false
	}
	return true
}

// JoinPath joins slash separated path elements, keeping a scheme such as s3://.
func JoinPath(root string, elem ...string) string {
	res := strings.TrimRight(root, "/")
	if res == "" && strings.HasPrefix(root, "/") {
		res = "/"
	}
	for _, e := range elem {
		e = strings.Trim(e, "/")
		switch {
		case e == "":
		case res == "":
			res = e
		case res == "/":
			res += e
		default:
			res += "/" + e
		}
	}
	return res
}
