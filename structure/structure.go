// Package structure loads the file structure setting that describes how an
// in-situ collection is laid out: partition columns, derived columns, the
// default projection, sort order and statistics instructions.
package structure

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/gigapi/gigapi-insitu/core"
	"github.com/spf13/afero"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed metaschema.json
var metaSchemaJSON string

var metaSchema *gojsonschema.Schema

func init() {
	var err error
	metaSchema, err = gojsonschema.NewSchema(gojsonschema.NewStringLoader(metaSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("invalid structure meta-schema: %v", err))
	}
}

// ColumnFilters configures the projection applied to query results.
type ColumnFilters struct {
	DefaultColumns            []string `json:"default_columns"`
	RemovingColumns           []string `json:"removing_columns"`
	MandatoryColumnFilterKey  string   `json:"mandatory_column_filter_key"`
	AdditionalColumnFilterKey string   `json:"additional_column_filter_key"`
}

// SortMechanism configures result ordering and pagination.
type SortMechanism struct {
	SortingColumns       []string `json:"sorting_columns"`
	PageSizeKey          string   `json:"page_size_key"`
	PaginationMarkerKey  string   `json:"pagination_marker_key"`
	PaginationMarkerTime string   `json:"pagination_marker_time"`
}

type StatsColumns struct {
	Min []string `json:"min"`
	Max []string `json:"max"`
	Sum []string `json:"sum"`
}

type DataStats struct {
	IsIncluded bool   `json:"is_included"`
	Stats      string `json:"stats"`
	DataPrefix string `json:"data_prefix"`
}

type StatisticsInstructions struct {
	GroupBy          []string     `json:"group_by"`
	IncludeDataStats bool         `json:"include_data_stats"`
	Stats            StatsColumns `json:"stats"`
	DataStats        DataStats    `json:"data_stats"`
}

// FileDataStat is one entry of parquet_file_data_stats.
type FileDataStat struct {
	OutputName      string   `json:"output_name"`
	StatType        string   `json:"stat_type"`
	SpecialDataType string   `json:"special_data_type,omitempty"`
	Column          string   `json:"column,omitempty"`
	Columns         []string `json:"columns,omitempty"`
}

type settingDoc struct {
	PartitioningColumns    []string               `json:"partitioning_columns"`
	NonDataColumns         []string               `json:"non_data_columns"`
	DerivedColumns         map[string]any         `json:"derived_columns"`
	FileMetadataKeys       []string               `json:"file_metadata_keys"`
	DataArrayKey           string                 `json:"data_array_key"`
	DataDictKey            string                 `json:"data_dict_key"`
	HasDataQuality         bool                   `json:"has_data_quality"`
	QualityKeyPostfix      string                 `json:"quality_key_postfix"`
	ParquetFileDataStats   []FileDataStat         `json:"parquet_file_data_stats"`
	ColumnFilters          ColumnFilters          `json:"query_input_column_filters"`
	SortMechanism          SortMechanism          `json:"query_sort_mechanism"`
	StatisticsInstructions StatisticsInstructions `json:"query_statistics_instructions"`
	ParquetConditions      map[string]any         `json:"query_input_parquet_conditions"`
	TransformerSchema      map[string]any         `json:"query_input_transformer_schema"`
	MetadataSearch         map[string]any         `json:"query_input_metadata_search_instructions"`
	IndexSchemaStats       map[string]any         `json:"es_index_schema_parquet_stats"`
}

// FileStructureSetting is a validated structure configuration paired with the
// in-situ data schema. It is read-only after construction.
type FileStructureSetting struct {
	doc        settingDoc
	dataSchema map[string]any
}

// New validates structureConfig against the meta-schema. Any failure is a
// ConfigurationError.
func New(dataSchema, structureConfig map[string]any) (*FileStructureSetting, error) {
	if structureConfig == nil {
		return nil, core.ErrConfiguration(nil, "structure config is empty")
	}
	result, err := metaSchema.Validate(gojsonschema.NewGoLoader(structureConfig))
	if err != nil {
		return nil, core.ErrConfiguration(err, "invalid structure config")
	}
	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return nil, core.ErrConfiguration(nil, "invalid structure config: %s", strings.Join(errs, "; "))
	}

	raw, err := json.Marshal(structureConfig)
	if err != nil {
		return nil, core.ErrConfiguration(err, "invalid structure config")
	}
	s := &FileStructureSetting{dataSchema: dataSchema}
	if err := json.Unmarshal(raw, &s.doc); err != nil {
		return nil, core.ErrConfiguration(err, "invalid structure config")
	}
	return s, nil
}

// Load reads the structure config and the data schema as JSON documents.
func Load(fs afero.Fs, structurePath, schemaPath string) (*FileStructureSetting, error) {
	structureConfig, err := readJSON(fs, structurePath)
	if err != nil {
		return nil, err
	}
	var dataSchema map[string]any
	if schemaPath != "" {
		if dataSchema, err = readJSON(fs, schemaPath); err != nil {
			return nil, err
		}
	}
	return New(dataSchema, structureConfig)
}

func readJSON(fs afero.Fs, path string) (map[string]any, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, core.ErrConfiguration(err, "failed to read %s", path)
	}
	var res map[string]any
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, core.ErrConfiguration(err, "failed to parse %s", path)
	}
	return res, nil
}

func (s *FileStructureSetting) QualityPostfix() string { return s.doc.QualityKeyPostfix }
func (s *FileStructureSetting) HasDataQuality() bool { return s.doc.HasDataQuality }
func (s *FileStructureSetting) PartitioningColumns() []string { return slices.Clone(s.doc.PartitioningColumns) }
func (s *FileStructureSetting) NonDataColumns() []string { return slices.Clone(s.doc.NonDataColumns) }
func (s *FileStructureSetting) FileMetadataKeys() []string { return slices.Clone(s.doc.FileMetadataKeys) }
func (s *FileStructureSetting) DataArrayKey() string { return s.doc.DataArrayKey }
func (s *FileStructureSetting) DataDictKey() string { return s.doc.DataDictKey }
func (s *FileStructureSetting) FileDataStats() []FileDataStat { return slices.Clone(s.doc.ParquetFileDataStats) }
func (s *FileStructureSetting) SortMechanism() SortMechanism { return s.doc.SortMechanism }
func (s *FileStructureSetting) ColumnFilters() ColumnFilters { return s.doc.ColumnFilters }
func (s *FileStructureSetting) DataSchema() map[string]any { return s.dataSchema }
func (s *FileStructureSetting) ParquetConditions() map[string]any { return s.doc.ParquetConditions }

func (s *FileStructureSetting) StatisticsInstructions() StatisticsInstructions {
	return s.doc.StatisticsInstructions
}

// DerivedColumns returns the names of the columns the writer derives, sorted.
func (s *FileStructureSetting) DerivedColumns() []string {
	res := make([]string, 0, len(s.doc.DerivedColumns))
	for k := range s.doc.DerivedColumns {
		res = append(res, k)
	}
	slices.Sort(res)
	return res
}

// DataColumnDefinitions returns definitions[data_dict_key].properties of the data schema.
func (s *FileStructureSetting) DataColumnDefinitions() (map[string]any, error) {
	defs, ok := s.dataSchema["definitions"].(map[string]any)
	if !ok {
		return nil, core.ErrConfiguration(nil, "missing definitions in data schema")
	}
	obs, ok := defs[s.doc.DataDictKey].(map[string]any)
	if !ok {
		return nil, core.ErrConfiguration(nil, "missing %s in data schema definitions", s.doc.DataDictKey)
	}
	props, ok := obs["properties"].(map[string]any)
	if !ok {
		return nil, core.ErrConfiguration(nil, "missing properties in data schema definitions.%s", s.doc.DataDictKey)
	}
	return props, nil
}

// DataColumns lists the observation variables: every column in the data
// schema that is neither a non-data column nor a quality column. Sorted.
func (s *FileStructureSetting) DataColumns() ([]string, error) {
	props, err := s.DataColumnDefinitions()
	if err != nil {
		return nil, err
	}
	res := make([]string, 0, len(props))
	for k := range props {
		if slices.Contains(s.doc.NonDataColumns, k) {
			continue
		}
		if s.doc.QualityKeyPostfix != "" && strings.HasSuffix(k, s.doc.QualityKeyPostfix) {
			continue
		}
		res = append(res, k)
	}
	slices.Sort(res)
	return res, nil
}
