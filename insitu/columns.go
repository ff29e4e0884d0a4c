// Package insitu plans queries over in-situ observation collections stored as
// Parquet files partitioned by year and month.
package insitu

// DefaultMissingDepth is the depth value written for observations whose depth is unknown.
const DefaultMissingDepth = -99999.0

// DefaultQualityPostfix names the quality column paired with each variable.
const DefaultQualityPostfix = "_quality"

// Columns names the fixed columns of an in-situ collection.
type Columns struct {
	Time     string
	TimeObj  string
	Depth    string
	Lat      string
	Lon      string
	Year     string
	Month    string
	Provider string
	Project  string
	Platform string
}

func DefaultColumns() Columns {
	return Columns{
		Time:     "time",
		TimeObj:  "time_obj",
		Depth:    "depth",
		Lat:      "latitude",
		Lon:      "longitude",
		Year:     "year",
		Month:    "month",
		Provider: "provider",
		Project:  "project",
		Platform: "platform_code",
	}
}

// Projected returns the columns always added to an explicit projection.
func (c Columns) Projected() []string {
	return []string{c.Time, c.Depth, c.Lat, c.Lon}
}

// Derived returns the columns the writer adds for partitioning and time
// comparison; they are dropped from full-row results.
func (c Columns) Derived() []string {
	return []string{c.TimeObj, c.Year, c.Month}
}
