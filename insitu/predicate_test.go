package insitu

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func float(f float64) *float64 { return &f }

func TestBuildPredicateDepth(t *testing.T) {
	tests := []struct {
		name     string
		min, max *float64
		want     string
	}{
		{name: "range spanning surface", min: float(-5), max: float(10), want: "((depth >= -5 AND depth <= 10) OR depth = -99999)"},
		{name: "range starting at surface", min: float(0), max: float(10), want: "((depth >= 0 AND depth <= 10) OR depth = -99999)"},
		{name: "range below surface", min: float(5), max: float(10), want: "(depth >= 5 AND depth <= 10)"},
		{name: "range above surface", min: float(-10), max: float(-5), want: "(depth >= -10 AND depth <= -5)"},
		{name: "min only crossing zero", min: float(-1), want: "(depth >= -1 OR depth = -99999)"},
		{name: "min only deep", min: float(100), want: "depth >= 100"},
		{name: "max only crossing zero", max: float(50.5), want: "(depth <= 50.5 OR depth = -99999)"},
		{name: "max only above", max: float(-1), want: "depth <= -1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := BuildPredicate(&QueryParameters{MinDepth: tt.min, MaxDepth: tt.max}, DefaultPredicateOptions())
			assert.Equal(t, []string{tt.want}, p.Conditions)
		})
	}
}

func TestBuildPredicateVariablesAreDisjunction(t *testing.T) {
	p := BuildPredicate(&QueryParameters{Variables: []string{"TEMP", "PSAL", "DOXY"}}, DefaultPredicateOptions())
	assert.Equal(t, []string{"(TEMP IS NOT NULL OR PSAL IS NOT NULL OR DOXY IS NOT NULL)"}, p.Conditions)
	assert.NotContains(t, p.Where(), " AND ")
}

func TestBuildPredicateFull(t *testing.T) {
	params := &QueryParameters{
		MinLatLon: &LatLon{Lat: -10, Lon: 20},
		MaxLatLon: &LatLon{Lat: 10.5, Lon: 30},
		MinTime:   date(2021, 3, 1),
		MaxTime:   date(2021, 7, 15),
		MinDepth:  float(0),
		Variables: []string{"TEMP"},
		Provider:  "coriolis",
		Project:   "argo",
		Platforms: []string{"A", "B"},
	}

	p := BuildPredicate(params, DefaultPredicateOptions())
	assert.Equal(t, []string{
		"latitude >= -10",
		"longitude >= 20",
		"latitude <= 10.5",
		"longitude <= 30",
		"time_obj >= '2021-03-01T00:00:00'",
		"time_obj <= '2021-07-15T00:00:00'",
		"(depth >= 0 OR depth = -99999)",
		"(TEMP IS NOT NULL)",
		"provider = 'coriolis'",
		"project = 'argo'",
		"platform_code IN ('A', 'B')",
	}, p.Conditions)
	assert.Equal(t, strings.Join(p.Conditions, " AND "), p.Where())
	assert.True(t, p.AllColumns())
}

func TestBuildPredicatePartitionPruning(t *testing.T) {
	opts := DefaultPredicateOptions()
	opts.PartitionPruning = true
	p := BuildPredicate(&QueryParameters{MinTime: date(2020, 11, 1), MaxTime: date(2022, 2, 1)}, opts)
	assert.Equal(t, []string{
		"year >= 2020",
		"time_obj >= '2020-11-01T00:00:00'",
		"year <= 2022",
		"time_obj <= '2022-02-01T00:00:00'",
	}, p.Conditions)
}

func TestBuildPredicateEmpty(t *testing.T) {
	p := BuildPredicate(&QueryParameters{PageSize: 10}, DefaultPredicateOptions())
	assert.Empty(t, p.Conditions)
	assert.Equal(t, "", p.Where())
	assert.Nil(t, p.Columns)
}

func TestBuildPredicateProjection(t *testing.T) {
	tests := []struct {
		name   string
		params QueryParameters
		want   []string
	}{
		{
			name:   "no explicit columns selects all",
			params: QueryParameters{Variables: []string{"TEMP"}},
			want:   nil,
		},
		{
			name:   "columns with variables",
			params: QueryParameters{Columns: []string{"platform_code"}, Variables: []string{"TEMP", "PSAL"}},
			want:   []string{"platform_code", "TEMP", "PSAL", "time", "depth", "latitude", "longitude"},
		},
		{
			name: "quality columns",
			params: QueryParameters{
				Columns:     []string{"platform_code"},
				Variables:   []string{"TEMP"},
				QualityFlag: true,
			},
			want: []string{"platform_code", "TEMP", "TEMP_quality", "time", "depth", "latitude", "longitude"},
		},
		{
			name:   "defaults are not repeated",
			params: QueryParameters{Columns: []string{"depth", "time"}},
			want:   []string{"depth", "time", "latitude", "longitude"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := BuildPredicate(&tt.params, DefaultPredicateOptions())
			assert.Equal(t, tt.want, p.Columns)
		})
	}
}

func TestFormatTimeLiteral(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	assert.Equal(t, "2021-03-01T09:30:00", FormatTimeLiteral(time.Date(2021, 3, 1, 10, 30, 0, 0, loc)))
	assert.Equal(t, "2021-03-01T09:30:00.25", FormatTimeLiteral(time.Date(2021, 3, 1, 9, 30, 0, 250000000, time.UTC)))
}
