package insitu

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// PathStyle selects how partition keys are rendered.
type PathStyle int

const (
	// PlainStyle renders root/2021/03.
	PlainStyle PathStyle = iota
	// HiveStyle renders root/year=2021/month=3, as written by Spark.
	HiveStyle
)

func ParsePathStyle(s string) (PathStyle, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "plain":
		return PlainStyle, nil
	case "hive":
		return HiveStyle, nil
	}
	return PlainStyle, fmt.Errorf("unknown partition style %q", s)
}

func (s PathStyle) String() string {
	if s == HiveStyle {
		return "hive"
	}
	return "plain"
}

// PartitionPath is one candidate partition: a dataset root plus a year and an
// optional month. A zero year makes it a template that renders as its root.
// Values are immutable; the With* methods return modified copies.
type PartitionPath struct {
	root  string
	year  int
	month int
	style PathStyle
}

// NewPartitionTemplate returns the template for one dataset root.
func NewPartitionTemplate(root string, style PathStyle) PartitionPath {
	return PartitionPath{root: strings.TrimRight(root, "/"), style: style}
}

func (p PartitionPath) Root() string     { return p.root }
func (p PartitionPath) Year() int        { return p.year }
func (p PartitionPath) Month() int       { return p.month }
func (p PartitionPath) Style() PathStyle { return p.style }

// IsTemplate reports whether no year has been set.
func (p PartitionPath) IsTemplate() bool { return p.year == 0 }

// IsWholeYear reports whether the partition covers a full year.
func (p PartitionPath) IsWholeYear() bool { return p.year != 0 && p.month == 0 }

func (p PartitionPath) WithYear(year int) PartitionPath {
	p.year = year
	return p
}

// WithMonth sets the month, 1-12. Any other value clears it.
func (p PartitionPath) WithMonth(month int) PartitionPath {
	if month < 1 || month > 12 {
		month = 0
	}
	p.month = month
	return p
}

// WholeYear clears the month.
func (p PartitionPath) WholeYear() PartitionPath {
	p.month = 0
	return p
}

// RenderPath joins root/year[/month] into the storage path.
func (p PartitionPath) RenderPath() string {
	parts := make([]string, 0, 3)
	if p.root != "" {
		parts = append(parts, p.root)
	}
	if p.year != 0 {
		if p.style == HiveStyle {
			parts = append(parts, fmt.Sprintf("year=%d", p.year))
			if p.month != 0 {
				parts = append(parts, fmt.Sprintf("month=%d", p.month))
			}
		} else {
			parts = append(parts, fmt.Sprintf("%04d", p.year))
			if p.month != 0 {
				parts = append(parts, fmt.Sprintf("%02d", p.month))
			}
		}
	}
	return strings.Join(parts, "/")
}

func (p PartitionPath) String() string {
	return p.RenderPath()
}

// Compare orders by year then month; a whole-year partition sorts before its months.
func (p PartitionPath) Compare(o PartitionPath) int {
	if c := cmp.Compare(p.year, o.year); c != 0 {
		return c
	}
	return cmp.Compare(p.month, o.month)
}

// Equal compares the time key only.
func (p PartitionPath) Equal(o PartitionPath) bool {
	return p.year == o.year && p.month == o.month
}

// SortPartitions orders partitions by time key, keeping the relative order of equal keys.
func SortPartitions(ps []PartitionPath) {
	slices.SortStableFunc(ps, PartitionPath.Compare)
}

// Dedupe drops partitions whose rendered path was already seen.
func Dedupe(ps []PartitionPath) []PartitionPath {
	seen := make(map[string]struct{}, len(ps))
	res := make([]PartitionPath, 0, len(ps))
	for _, p := range ps {
		key := p.RenderPath()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		res = append(res, p)
	}
	return res
}

func RenderPaths(ps []PartitionPath) []string {
	res := make([]string, len(ps))
	for i, p := range ps {
		res[i] = p.RenderPath()
	}
	return res
}
