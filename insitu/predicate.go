package insitu

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PredicateOptions configures the column names and conventions the builder uses.
type PredicateOptions struct {
	Columns        Columns
	MissingDepth   float64
	QualityPostfix string
	// PartitionPruning adds year bounds next to the time bounds so engines
	// reading hive partitions can skip directories.
	PartitionPruning bool
}

func DefaultPredicateOptions() PredicateOptions {
	return PredicateOptions{
		Columns:        DefaultColumns(),
		MissingDepth:   DefaultMissingDepth,
		QualityPostfix: DefaultQualityPostfix,
	}
}

// Predicate is the filter and projection pushed down to the scan engine.
type Predicate struct {
	// Conditions are joined with AND.
	Conditions []string
	// Columns is the projection; nil selects all columns.
	Columns []string
}

// Where renders the conditions as one expression, or "" when there are none.
func (p Predicate) Where() string {
	return strings.Join(p.Conditions, " AND ")
}

// AllColumns reports whether the projection selects every column.
func (p Predicate) AllColumns() bool {
	return len(p.Columns) == 0
}

// predicateBuilder accumulates the clauses for a single query.
type predicateBuilder struct {
	params     *QueryParameters
	opts       PredicateOptions
	conditions []string
}

// BuildPredicate converts query parameters into a conjunctive predicate. Values
// are interpolated without escaping; QueryParameters.Validate guards them.
func BuildPredicate(params *QueryParameters, opts PredicateOptions) Predicate {
	b := &predicateBuilder{params: params, opts: opts}
	b.addBoundingBox()
	b.addTimeRange()
	b.addDepth()
	b.addVariables()
	b.addMetadataFilters()
	return Predicate{
		Conditions: b.conditions,
		Columns:    b.projection(),
	}
}

func (b *predicateBuilder) add(format string, args ...any) {
	b.conditions = append(b.conditions, fmt.Sprintf(format, args...))
}

// addBoundingBox emits the corners independently; an inverted box is passed through.
func (b *predicateBuilder) addBoundingBox() {
	c := b.opts.Columns
	if ll := b.params.MinLatLon; ll != nil {
		b.add("%s >= %s", c.Lat, formatFloat(ll.Lat))
		b.add("%s >= %s", c.Lon, formatFloat(ll.Lon))
	}
	if ll := b.params.MaxLatLon; ll != nil {
		b.add("%s <= %s", c.Lat, formatFloat(ll.Lat))
		b.add("%s <= %s", c.Lon, formatFloat(ll.Lon))
	}
}

func (b *predicateBuilder) addTimeRange() {
	c := b.opts.Columns
	if t := b.params.MinTime; t != nil {
		if b.opts.PartitionPruning {
			b.add("%s >= %d", c.Year, t.UTC().Year())
		}
		b.add("%s >= '%s'", c.TimeObj, FormatTimeLiteral(*t))
	}
	if t := b.params.MaxTime; t != nil {
		if b.opts.PartitionPruning {
			b.add("%s <= %d", c.Year, t.UTC().Year())
		}
		b.add("%s <= '%s'", c.TimeObj, FormatTimeLiteral(*t))
	}
}

// addDepth admits rows with the missing-depth value whenever the requested
// range includes the surface, since unknown depth is treated as surface.
func (b *predicateBuilder) addDepth() {
	minDepth, maxDepth := b.params.MinDepth, b.params.MaxDepth
	if minDepth == nil && maxDepth == nil {
		return
	}
	col := b.opts.Columns.Depth
	var parts []string
	includeSurface := true
	if minDepth != nil {
		parts = append(parts, fmt.Sprintf("%s >= %s", col, formatFloat(*minDepth)))
		includeSurface = *minDepth <= 0
	}
	if maxDepth != nil {
		parts = append(parts, fmt.Sprintf("%s <= %s", col, formatFloat(*maxDepth)))
		includeSurface = includeSurface && *maxDepth >= 0
	}
	clause := parts[0]
	if len(parts) > 1 {
		clause = "(" + strings.Join(parts, " AND ") + ")"
	}
	if includeSurface {
		clause = fmt.Sprintf("(%s OR %s = %s)", clause, col, formatFloat(b.opts.MissingDepth))
	}
	b.conditions = append(b.conditions, clause)
}

// addVariables requires at least one of the requested variables to be present.
func (b *predicateBuilder) addVariables() {
	if len(b.params.Variables) == 0 {
		return
	}
	checks := make([]string, len(b.params.Variables))
	for i, v := range b.params.Variables {
		checks[i] = v + " IS NOT NULL"
	}
	b.conditions = append(b.conditions, "("+strings.Join(checks, " OR ")+")")
}

func (b *predicateBuilder) addMetadataFilters() {
	c := b.opts.Columns
	if b.params.Provider != "" {
		b.add("%s = '%s'", c.Provider, b.params.Provider)
	}
	if b.params.Project != "" {
		b.add("%s = '%s'", c.Project, b.params.Project)
	}
	if len(b.params.Platforms) > 0 {
		quoted := make([]string, len(b.params.Platforms))
		for i, p := range b.params.Platforms {
			quoted[i] = "'" + p + "'"
		}
		b.add("%s IN (%s)", c.Platform, strings.Join(quoted, ", "))
	}
}

// projection returns nil when no explicit columns were requested.
func (b *predicateBuilder) projection() []string {
	if len(b.params.Columns) == 0 {
		return nil
	}
	cols := make([]string, 0, len(b.params.Columns)+2*len(b.params.Variables)+4)
	cols = append(cols, b.params.Columns...)
	for _, v := range b.params.Variables {
		cols = append(cols, v)
		if b.params.QualityFlag {
			cols = append(cols, v+b.opts.QualityPostfix)
		}
	}
	cols = append(cols, b.opts.Columns.Projected()...)
	return uniqueStrings(cols)
}

// FormatTimeLiteral renders t in UTC as ISO-8601 without a zone suffix.
func FormatTimeLiteral(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.999999")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	res := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		res = append(res, s)
	}
	return res
}
