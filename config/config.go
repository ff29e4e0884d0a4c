// Package config loads the insitu planner settings. Server ports, data root
// and mode come from gigapi-config; everything specific to in-situ
// collections is read here from INSITU_* variables and an optional config file.
package config

import (
	"os"
	"strings"

	"github.com/gigapi/gigapi-insitu/core"
	"github.com/gigapi/gigapi-insitu/insitu"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

const EnvPrefix = "INSITU_"

// FileEnv names the variable holding an optional config file path.
const FileEnv = "INSITU_CONFIG"

const (
	IndexFS       = "fs"
	IndexS3       = "s3"
	IndexPostgres = "postgres"
)

type StructureConfig struct {
	Path   string `mapstructure:"path"`
	Schema string `mapstructure:"schema"`
}

type DepthConfig struct {
	Missing float64 `mapstructure:"missing"`
}

type PartitionConfig struct {
	Style    string `mapstructure:"style"`
	Earliest int    `mapstructure:"earliest"`
	Pruning  bool   `mapstructure:"pruning"`
}

type S3Config struct {
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	Key       string `mapstructure:"key"`
	Secret    string `mapstructure:"secret"`
	PathStyle bool   `mapstructure:"pathstyle"`
}

type PostgresConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

type IndexConfig struct {
	Kind     string         `mapstructure:"kind"`
	S3       S3Config       `mapstructure:"s3"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type StatsConfig struct {
	Parallelism int `mapstructure:"parallelism"`
}

type Config struct {
	// Root is the directory or s3:// prefix holding one folder per dataset.
	Root      string          `mapstructure:"root"`
	Datasets  []string        `mapstructure:"datasets"`
	Structure StructureConfig `mapstructure:"structure"`
	Depth     DepthConfig     `mapstructure:"depth"`
	Partition PartitionConfig `mapstructure:"partition"`
	Index     IndexConfig     `mapstructure:"index"`
	Stats     StatsConfig     `mapstructure:"stats"`
}

func setDefaults(v *viper.Viper, root string) {
	v.SetDefault("root", root)
	v.SetDefault("datasets", []string{})
	v.SetDefault("depth.missing", insitu.DefaultMissingDepth)
	v.SetDefault("partition.style", insitu.PlainStyle.String())
	v.SetDefault("partition.earliest", 1900)
	v.SetDefault("partition.pruning", false)
	v.SetDefault("index.kind", IndexFS)
	v.SetDefault("index.postgres.table", "insitu_partitions")
	v.SetDefault("stats.parallelism", 4)
}

// Load merges defaults, the optional config file named by INSITU_CONFIG and
// INSITU_* environment variables, in increasing priority. INSITU_INDEX_S3_REGION
// maps to index.s3.region. root is the fallback data root.
func Load(fs afero.Fs, root string) (*Config, error) {
	v := viper.New()
	v.SetFs(fs)
	setDefaults(v, root)

	if file := os.Getenv(FileEnv); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, core.ErrConfiguration(err, "failed to read %s", file)
		}
	}

	for _, env := range os.Environ() {
		key, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) || key == FileEnv {
			continue
		}
		propKey := strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(key, EnvPrefix), "_", "."))
		v.Set(propKey, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, core.ErrConfiguration(err, "failed to unmarshal config")
	}
	cfg.Datasets = cleanList(cfg.Datasets)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if _, err := insitu.ParsePathStyle(c.Partition.Style); err != nil {
		return core.ErrConfiguration(err, "partition.style")
	}
	switch c.Index.Kind {
	case IndexFS:
	case IndexS3:
		if !strings.HasPrefix(c.Root, "s3://") {
			return core.ErrConfiguration(nil, "index.kind s3 needs an s3:// root, got %q", c.Root)
		}
	case IndexPostgres:
		if c.Index.Postgres.DSN == "" {
			return core.ErrConfiguration(nil, "index.postgres.dsn is required")
		}
	default:
		return core.ErrConfiguration(nil, "unknown index.kind %q", c.Index.Kind)
	}
	if c.Stats.Parallelism <= 0 {
		return core.ErrConfiguration(nil, "stats.parallelism must be positive, got %d", c.Stats.Parallelism)
	}
	if c.Partition.Earliest <= 0 {
		return core.ErrConfiguration(nil, "partition.earliest must be positive, got %d", c.Partition.Earliest)
	}
	return nil
}

// PathStyle returns the parsed partition style. Validate has already checked it.
func (c *Config) PathStyle() insitu.PathStyle {
	s, _ := insitu.ParsePathStyle(c.Partition.Style)
	return s
}

// HasDataset reports whether name is served. An empty dataset list serves any
// dataset under the root.
func (c *Config) HasDataset(name string) bool {
	if len(c.Datasets) == 0 {
		return true
	}
	for _, d := range c.Datasets {
		if d == name {
			return true
		}
	}
	return false
}

func cleanList(in []string) []string {
	res := make([]string, 0, len(in))
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				res = append(res, part)
			}
		}
	}
	return res
}
