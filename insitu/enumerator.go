package insitu

import (
	"time"
)

// Enumerator expands a time range into the partitions that may hold rows in it.
// It favors coverage over precision: a whole month or year is included even when
// only part of it was requested, but no partition that could match is left out.
type Enumerator struct {
	// Earliest is the first month holding data. It replaces a missing lower
	// bound.
	Earliest time.Time
}

func NewEnumerator(earliestYear int) *Enumerator {
	if earliestYear <= 0 {
		earliestYear = 1900
	}
	return &Enumerator{
		Earliest: time.Date(earliestYear, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Enumerate expands every template over [minTime, maxTime]. The result keeps
// template order and is ascending by year and month within each template.
// The second result is false when the range cannot be bounded: no bounds, no
// upper bound, or an upper bound older than Earliest. The caller then scans
// the template roots and relies on the predicate.
func (e *Enumerator) Enumerate(templates []PartitionPath, minTime, maxTime *time.Time) ([]PartitionPath, bool) {
	if maxTime == nil {
		// rows may be dated in the future
		return nil, false
	}
	start, end := e.Earliest, maxTime.UTC()
	if minTime != nil {
		start = minTime.UTC()
	} else if end.Before(start) {
		return nil, false
	}
	if start.After(end) {
		return []PartitionPath{}, true
	}

	res := make([]PartitionPath, 0, len(templates)*monthSpan(start, end))
	for _, t := range templates {
		res = append(res, expandTemplate(t, start, end)...)
	}
	return Dedupe(res), true
}

func expandTemplate(t PartitionPath, start, end time.Time) []PartitionPath {
	minYear, minMonth := start.Year(), int(start.Month())
	maxYear, maxMonth := end.Year(), int(end.Month())

	// Same year is always enumerated by month, even for a January to December range.
	if minYear == maxYear {
		return monthRange(t.WithYear(minYear), minMonth, maxMonth)
	}

	var res []PartitionPath
	if minMonth == 1 {
		res = append(res, t.WithYear(minYear).WholeYear())
	} else {
		res = append(res, monthRange(t.WithYear(minYear), minMonth, 12)...)
	}
	for y := minYear + 1; y < maxYear; y++ {
		res = append(res, t.WithYear(y).WholeYear())
	}
	if maxMonth == 12 {
		res = append(res, t.WithYear(maxYear).WholeYear())
	} else {
		res = append(res, monthRange(t.WithYear(maxYear), 1, maxMonth)...)
	}
	return res
}

func monthRange(t PartitionPath, from, to int) []PartitionPath {
	res := make([]PartitionPath, 0, to-from+1)
	for m := from; m <= to; m++ {
		res = append(res, t.WithMonth(m))
	}
	return res
}

func monthSpan(start, end time.Time) int {
	n := (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month()) + 1
	if n < 1 || n > 24 {
		return 24
	}
	return n
}
