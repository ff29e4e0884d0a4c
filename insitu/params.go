package insitu

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gigapi/gigapi-insitu/core"
	"github.com/xeipuuv/gojsonschema"
)

// LatLon is a bounding box corner in (lat, lon) order.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// QueryParameters is a validated query. Build it with ParseQueryJSON,
// ParseQueryValues or by filling the struct and calling Validate.
type QueryParameters struct {
	StartIndex  int
	PageSize    int
	MinDepth    *float64
	MaxDepth    *float64
	MinTime     *time.Time
	MaxTime     *time.Time
	MinLatLon   *LatLon
	MaxLatLon   *LatLon
	Variables   []string
	Columns     []string
	QualityFlag bool
	Provider    string
	Project     string
	Platforms   []string
}

const queryPropsSchema = `{
  "type": "object",
  "properties": {
    "start_from": {"type": "integer", "minimum": 0},
    "size": {"type": "integer", "minimum": 0},
    "columns": {"type": "array", "items": {"type": "string"}, "minItems": 0},
    "variable": {"type": "array", "items": {"type": "string"}, "minItems": 0},
    "quality_flag": {"type": "boolean"},
    "provider": {"type": "string"},
    "project": {"type": "string"},
    "platform": {"type": "array", "items": {"type": "string"}},
    "min_depth": {"type": "number"},
    "max_depth": {"type": "number"},
    "min_time": {"type": "string"},
    "max_time": {"type": "string"},
    "min_lat_lon": {"type": "array", "items": {"type": "number"}, "minItems": 2, "maxItems": 2},
    "max_lat_lon": {"type": "array", "items": {"type": "number"}, "minItems": 2, "maxItems": 2}
  },
  "required": ["start_from", "size"]
}`

var (
	querySchema = mustCompileSchema(queryPropsSchema)
	identRegex  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)
)

func mustCompileSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("invalid query schema: %v", err))
	}
	return schema
}

type queryJSON struct {
	StartFrom   int       `json:"start_from"`
	Size        int       `json:"size"`
	MinDepth    *float64  `json:"min_depth"`
	MaxDepth    *float64  `json:"max_depth"`
	MinTime     *string   `json:"min_time"`
	MaxTime     *string   `json:"max_time"`
	MinLatLon   []float64 `json:"min_lat_lon"`
	MaxLatLon   []float64 `json:"max_lat_lon"`
	Variable    []string  `json:"variable"`
	Columns     []string  `json:"columns"`
	QualityFlag bool      `json:"quality_flag"`
	Provider    string    `json:"provider"`
	Project     string    `json:"project"`
	Platform    []string  `json:"platform"`
}

// ParseQueryJSON decodes and validates a JSON query document.
func ParseQueryJSON(data []byte) (*QueryParameters, error) {
	result, err := querySchema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, core.ErrValidation("", "malformed query document: %v", err)
	}
	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return nil, core.ErrValidation("", "%s", strings.Join(errs, "; "))
	}

	var in queryJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, core.ErrValidation("", "malformed query document: %v", err)
	}

	p := &QueryParameters{
		StartIndex:  in.StartFrom,
		PageSize:    in.Size,
		MinDepth:    in.MinDepth,
		MaxDepth:    in.MaxDepth,
		Variables:   in.Variable,
		Columns:     in.Columns,
		QualityFlag: in.QualityFlag,
		Provider:    in.Provider,
		Project:     in.Project,
		Platforms:   in.Platform,
	}
	if p.MinTime, err = parseOptionalTime("min_time", in.MinTime); err != nil {
		return nil, err
	}
	if p.MaxTime, err = parseOptionalTime("max_time", in.MaxTime); err != nil {
		return nil, err
	}
	if len(in.MinLatLon) == 2 {
		p.MinLatLon = &LatLon{Lat: in.MinLatLon[0], Lon: in.MinLatLon[1]}
	}
	if len(in.MaxLatLon) == 2 {
		p.MaxLatLon = &LatLon{Lat: in.MaxLatLon[0], Lon: in.MaxLatLon[1]}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseQueryValues reads query parameters from an HTTP query string.
// bbox is "west,south,east,north".
func ParseQueryValues(v url.Values) (*QueryParameters, error) {
	p := &QueryParameters{}
	var err error

	if p.StartIndex, err = parseInt(v, "startIndex", 0); err != nil {
		return nil, err
	}
	if p.PageSize, err = parseInt(v, "itemsPerPage", 0); err != nil {
		return nil, err
	}
	if p.MinDepth, err = parseOptionalFloat(v, "minDepth"); err != nil {
		return nil, err
	}
	if p.MaxDepth, err = parseOptionalFloat(v, "maxDepth"); err != nil {
		return nil, err
	}
	if s := v.Get("startTime"); s != "" {
		if p.MinTime, err = parseOptionalTime("startTime", &s); err != nil {
			return nil, err
		}
	}
	if s := v.Get("endTime"); s != "" {
		if p.MaxTime, err = parseOptionalTime("endTime", &s); err != nil {
			return nil, err
		}
	}
	if s := v.Get("bbox"); s != "" {
		box, err := parseFloatList("bbox", s, 4)
		if err != nil {
			return nil, err
		}
		p.MinLatLon = &LatLon{Lat: box[1], Lon: box[0]}
		p.MaxLatLon = &LatLon{Lat: box[3], Lon: box[2]}
	}
	p.Variables = splitList(v.Get("variable"))
	p.Columns = splitList(v.Get("columns"))
	p.Platforms = splitList(v.Get("platform"))
	p.Provider = v.Get("provider")
	p.Project = v.Get("project")
	if s := v.Get("qualityFlag"); s != "" {
		if p.QualityFlag, err = strconv.ParseBool(s); err != nil {
			return nil, core.ErrValidation("qualityFlag", "not a boolean: %q", s)
		}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the invariants the planner relies on. Identifiers and
// literals are interpolated into predicates unescaped, so they are checked here.
func (p *QueryParameters) Validate() error {
	if p.StartIndex < 0 {
		return core.ErrValidation("start_from", "must not be negative, got %d", p.StartIndex)
	}
	if p.PageSize < 0 {
		return core.ErrValidation("size", "must not be negative, got %d", p.PageSize)
	}
	depths := []struct {
		name string
		v    *float64
	}{{"min_depth", p.MinDepth}, {"max_depth", p.MaxDepth}}
	for _, d := range depths {
		if d.v != nil && (math.IsNaN(*d.v) || math.IsInf(*d.v, 0)) {
			return core.ErrValidation(d.name, "must be a finite number")
		}
	}
	corners := []struct {
		name string
		v    *LatLon
	}{{"min_lat_lon", p.MinLatLon}, {"max_lat_lon", p.MaxLatLon}}
	for _, c := range corners {
		if c.v != nil && (math.IsNaN(c.v.Lat) || math.IsNaN(c.v.Lon) || math.IsInf(c.v.Lat, 0) || math.IsInf(c.v.Lon, 0)) {
			return core.ErrValidation(c.name, "must be finite numbers")
		}
	}
	if p.MinTime != nil && p.MaxTime != nil && p.MinTime.After(*p.MaxTime) {
		return core.ErrValidation("min_time", "%s is after max_time %s",
			p.MinTime.Format(time.RFC3339), p.MaxTime.Format(time.RFC3339))
	}
	for _, name := range p.Variables {
		if !identRegex.MatchString(name) {
			return core.ErrValidation("variable", "invalid column name %q", name)
		}
	}
	for _, name := range p.Columns {
		if !identRegex.MatchString(name) {
			return core.ErrValidation("columns", "invalid column name %q", name)
		}
	}
	if strings.ContainsRune(p.Provider, '\'') {
		return core.ErrValidation("provider", "must not contain quotes")
	}
	if strings.ContainsRune(p.Project, '\'') {
		return core.ErrValidation("project", "must not contain quotes")
	}
	for _, lit := range p.Platforms {
		if strings.ContainsRune(lit, '\'') {
			return core.ErrValidation("platform", "must not contain quotes")
		}
	}
	return nil
}

// CountOnly reports whether the caller asked only for the total.
func (p *QueryParameters) CountOnly() bool {
	return p.PageSize == 0
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTime parses an ISO-8601 timestamp and normalizes it to UTC.
func ParseTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func parseOptionalTime(field string, s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := ParseTime(strings.TrimSpace(*s))
	if err != nil {
		return nil, core.ErrValidation(field, "invalid timestamp %q", *s)
	}
	return &t, nil
}

func parseInt(v url.Values, key string, def int) (int, error) {
	s := v.Get(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, core.ErrValidation(key, "not an integer: %q", s)
	}
	return n, nil
}

func parseOptionalFloat(v url.Values, key string) (*float64, error) {
	s := v.Get(key)
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil, core.ErrValidation(key, "not a number: %q", s)
	}
	return &f, nil
}

func parseFloatList(key, s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, core.ErrValidation(key, "expected %d comma separated numbers, got %q", n, s)
	}
	res := make([]float64, n)
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, core.ErrValidation(key, "not a number: %q", part)
		}
		res[i] = f
	}
	return res, nil
}

func splitList(s string) []string {
	var res []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			res = append(res, part)
		}
	}
	return res
}
