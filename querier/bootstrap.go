package querier

import (
	"context"
	"fmt"
	"strings"

	"github.com/gigapi/gigapi-insitu/catalog"
	"github.com/gigapi/gigapi-insitu/config"
	"github.com/gigapi/gigapi-insitu/core"
	"github.com/gigapi/gigapi-insitu/scan"
	"github.com/gigapi/gigapi-insitu/structure"
	"github.com/spf13/afero"
)

// NewClientFromConfig wires a QueryClient for cfg: the structure setting when
// one is configured, the partition index named by index.kind and a DuckDB
// engine able to read the root. The client is not initialized.
func NewClientFromConfig(ctx context.Context, fs afero.Fs, cfg *config.Config) (*QueryClient, error) {
	var setting *structure.FileStructureSetting
	if cfg.Structure.Path != "" {
		var err error
		if setting, err = structure.Load(fs, cfg.Structure.Path, cfg.Structure.Schema); err != nil {
			return nil, err
		}
		core.Infof(ctx, "Loaded structure setting from %s", cfg.Structure.Path)
	}

	var (
		index  catalog.Index
		closer func()
	)
	switch cfg.Index.Kind {
	case config.IndexS3:
		index = catalog.NewS3Index(catalog.NewS3Client(s3Options(cfg)))
	case config.IndexPostgres:
		pgIndex, pool, err := catalog.ConnectPostgresIndex(ctx, cfg.Index.Postgres.DSN, cfg.Index.Postgres.Table)
		if err != nil {
			return nil, core.ErrConfiguration(err, "failed to connect partition index")
		}
		index, closer = pgIndex, pool.Close
	default:
		index = catalog.NewFSIndex(fs)
	}
	core.Infof(ctx, "Using %s partition index for %s", index.Name(), cfg.Root)

	client := NewQueryClient(cfg, setting, scan.NewEngine(EngineSettings(cfg)...), index)
	client.Fs = fs
	if closer != nil {
		client.AddCloser(closer)
	}
	return client, nil
}

func s3Options(cfg *config.Config) catalog.S3Options {
	return catalog.S3Options{
		Region:    cfg.Index.S3.Region,
		Endpoint:  cfg.Index.S3.Endpoint,
		KeyID:     cfg.Index.S3.Key,
		Secret:    cfg.Index.S3.Secret,
		PathStyle: cfg.Index.S3.PathStyle,
	}
}

// EngineSettings returns the DuckDB statements needed to read cfg.Root.
func EngineSettings(cfg *config.Config) []string {
	if !strings.HasPrefix(cfg.Root, "s3://") {
		return nil
	}
	s3 := cfg.Index.S3
	res := []string{"INSTALL httpfs", "LOAD httpfs"}
	if s3.Region != "" {
		res = append(res, setting("s3_region", s3.Region))
	}
	if s3.Endpoint != "" {
		endpoint := s3.Endpoint
		if rest, ok := strings.CutPrefix(endpoint, "http://"); ok {
			endpoint = rest
			res = append(res, "SET s3_use_ssl=false")
		}
		endpoint = strings.TrimPrefix(endpoint, "https://")
		res = append(res, setting("s3_endpoint", strings.TrimRight(endpoint, "/")))
	}
	if s3.Key != "" {
		res = append(res, setting("s3_access_key_id", s3.Key), setting("s3_secret_access_key", s3.Secret))
	}
	if s3.PathStyle {
		res = append(res, "SET s3_url_style='path'")
	}
	return res
}

func setting(name, value string) string {
	return fmt.Sprintf("SET %s=%s", name, scan.QuoteLiteral(value))
}
