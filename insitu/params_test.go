package insitu

import (
	"math"
	"net/url"
	"testing"
	"time"

	"github.com/gigapi/gigapi-insitu/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQueryJSON(t *testing.T) {
	doc := `{
		"start_from": 10,
		"size": 50,
		"min_depth": -5,
		"max_depth": 100.5,
		"min_time": "2021-03-01T00:00:00Z",
		"max_time": "2021-07-15",
		"min_lat_lon": [-10, 20],
		"max_lat_lon": [10.5, 30],
		"variable": ["TEMP", "PSAL"],
		"columns": ["platform_code"],
		"quality_flag": true,
		"provider": "coriolis",
		"platform": ["6901234", "6901235"]
	}`

	p, err := ParseQueryJSON([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, 10, p.StartIndex)
	assert.Equal(t, 50, p.PageSize)
	require.NotNil(t, p.MinDepth)
	assert.Equal(t, -5.0, *p.MinDepth)
	require.NotNil(t, p.MaxDepth)
	assert.Equal(t, 100.5, *p.MaxDepth)
	require.NotNil(t, p.MinTime)
	assert.Equal(t, time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC), *p.MinTime)
	require.NotNil(t, p.MaxTime)
	assert.Equal(t, time.Date(2021, 7, 15, 0, 0, 0, 0, time.UTC), *p.MaxTime)
	assert.Equal(t, &LatLon{Lat: -10, Lon: 20}, p.MinLatLon)
	assert.Equal(t, &LatLon{Lat: 10.5, Lon: 30}, p.MaxLatLon)
	assert.Equal(t, []string{"TEMP", "PSAL"}, p.Variables)
	assert.Equal(t, []string{"platform_code"}, p.Columns)
	assert.True(t, p.QualityFlag)
	assert.Equal(t, "coriolis", p.Provider)
	assert.Equal(t, []string{"6901234", "6901235"}, p.Platforms)
}

func TestParseQueryJSONRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "missing size", doc: `{"start_from": 0}`},
		{name: "negative start", doc: `{"start_from": -1, "size": 10}`},
		{name: "depth as string", doc: `{"start_from": 0, "size": 10, "min_depth": "deep"}`},
		{name: "short lat lon", doc: `{"start_from": 0, "size": 10, "min_lat_lon": [1]}`},
		{name: "bad timestamp", doc: `{"start_from": 0, "size": 10, "min_time": "yesterday"}`},
		{name: "inverted time", doc: `{"start_from": 0, "size": 10, "min_time": "2022-01-01", "max_time": "2021-01-01"}`},
		{name: "injected column", doc: `{"start_from": 0, "size": 10, "columns": ["a; DROP TABLE x"]}`},
		{name: "quoted provider", doc: `{"start_from": 0, "size": 10, "provider": "x' OR '1'='1"}`},
		{name: "not json", doc: `{"start_from": `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseQueryJSON([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, core.IsValidation(err), "expected validation error, got %v", err)
		})
	}
}

func TestParseQueryValues(t *testing.T) {
	v := url.Values{}
	v.Set("startIndex", "5")
	v.Set("itemsPerPage", "20")
	v.Set("minDepth", "0")
	v.Set("maxDepth", "200")
	v.Set("startTime", "2020-11-05T12:00:00Z")
	v.Set("endTime", "2022-02-01T00:00:00Z")
	v.Set("bbox", "-30,10,-20,40")
	v.Set("variable", "TEMP, PSAL")
	v.Set("platform", "a,,b")
	v.Set("qualityFlag", "true")

	p, err := ParseQueryValues(v)
	require.NoError(t, err)

	assert.Equal(t, 5, p.StartIndex)
	assert.Equal(t, 20, p.PageSize)
	assert.Equal(t, &LatLon{Lat: 10, Lon: -30}, p.MinLatLon)
	assert.Equal(t, &LatLon{Lat: 40, Lon: -20}, p.MaxLatLon)
	assert.Equal(t, []string{"TEMP", "PSAL"}, p.Variables)
	assert.Equal(t, []string{"a", "b"}, p.Platforms)
	assert.Nil(t, p.Columns)
	assert.True(t, p.QualityFlag)
	assert.Equal(t, 2020, p.MinTime.Year())
	assert.Equal(t, time.February, p.MaxTime.Month())
	assert.False(t, p.CountOnly())
}

func TestParseQueryValuesRejects(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "bad start", key: "startIndex", value: "x"},
		{name: "bad depth", key: "minDepth", value: "deep"},
		{name: "short bbox", key: "bbox", value: "1,2,3"},
		{name: "bad bbox number", key: "bbox", value: "1,2,x,4"},
		{name: "bad time", key: "startTime", value: "03/01/2021"},
		{name: "bad quality flag", key: "qualityFlag", value: "maybe"},
		{name: "nan depth", key: "maxDepth", value: "NaN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseQueryValues(url.Values{tt.key: []string{tt.value}})
			require.Error(t, err)
			assert.True(t, core.IsValidation(err))
		})
	}
}

func TestParseQueryValuesDefaultsToCountOnly(t *testing.T) {
	p, err := ParseQueryValues(url.Values{})
	require.NoError(t, err)
	assert.True(t, p.CountOnly())
	assert.Nil(t, p.MinTime)
	assert.Nil(t, p.MaxTime)
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{in: "2021-03-01", want: time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)},
		{in: "2021-03-01T10:20:30", want: time.Date(2021, 3, 1, 10, 20, 30, 0, time.UTC)},
		{in: "2021-03-01T10:20:30+02:00", want: time.Date(2021, 3, 1, 8, 20, 30, 0, time.UTC)},
		{in: "2021-03-01T10:20:30.5Z", want: time.Date(2021, 3, 1, 10, 20, 30, 500000000, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTime(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestValidateReportsFirstInvalidField(t *testing.T) {
	nan, inf := math.NaN(), math.Inf(1)
	p := &QueryParameters{
		MinDepth:  &nan,
		MaxDepth:  &inf,
		MinLatLon: &LatLon{Lat: nan},
		MaxLatLon: &LatLon{Lon: inf},
		Provider:  "o'brien",
		Project:   "x'y",
	}
	// the order is stable across runs
	for i := 0; i < 20; i++ {
		assert.EqualError(t, p.Validate(), "invalid query: min_depth: must be a finite number")
	}

	p.MinDepth, p.MaxDepth = nil, nil
	assert.EqualError(t, p.Validate(), "invalid query: min_lat_lon: must be finite numbers")

	p.MinLatLon, p.MaxLatLon = nil, nil
	assert.EqualError(t, p.Validate(), "invalid query: provider: must not contain quotes")
}
