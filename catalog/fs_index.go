package catalog

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gigapi/gigapi-insitu/core"
	"github.com/spf13/afero"
)

// Metadata is the metadata.json written next to parquet files by the gigapi
// writer. Times are nanoseconds since the epoch.
type Metadata struct {
	Type             string         `json:"type"`
	ParquetSizeBytes int64          `json:"parquet_size_bytes"`
	RowCount         int64          `json:"row_count"`
	MinTime          int64          `json:"min_time"`
	MaxTime          int64          `json:"max_time"`
	Files            []MetadataFile `json:"files"`
}

// MetadataFile is a single parquet file listed in metadata.json.
type MetadataFile struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	RowCount  int64  `json:"row_count"`
	MinTime   int64  `json:"min_time"`
	MaxTime   int64  `json:"max_time"`
}

// merge folds another partition's metadata in, the way per-hour metadata is
// combined into table metadata.
func (m *Metadata) merge(o *Metadata) {
	m.ParquetSizeBytes += o.ParquetSizeBytes
	switch {
	case o.RowCount <= 0:
	case m.RowCount == 0:
		m.MinTime, m.MaxTime = o.MinTime, o.MaxTime
	default:
		m.MinTime = min(m.MinTime, o.MinTime)
		m.MaxTime = max(m.MaxTime, o.MaxTime)
	}
	m.RowCount += o.RowCount
	m.Files = append(m.Files, o.Files...)
}

// FSIndex resolves partitions on a filesystem. A partition exists when its
// directory does. Row counts and time ranges come from metadata.json files
// when every directory holding parquet files has one.
type FSIndex struct {
	fs afero.Fs
}

func NewFSIndex(fs afero.Fs) *FSIndex {
	return &FSIndex{fs: fs}
}

func (x *FSIndex) Name() string { return "fs" }

func (x *FSIndex) Partitions(ctx context.Context, dataset string, candidates []string) ([]PartitionEntry, error) {
	res := make([]PartitionEntry, 0, len(candidates))
	for _, path := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, ok, err := x.entry(ctx, path)
		if err != nil {
			return nil, err
		}
		if ok {
			res = append(res, entry)
		}
	}
	return res, nil
}

func (x *FSIndex) entry(ctx context.Context, path string) (PartitionEntry, bool, error) {
	info, err := x.fs.Stat(path)
	if os.IsNotExist(err) {
		return PartitionEntry{}, false, nil
	}
	if err != nil {
		return PartitionEntry{}, false, err
	}
	entry := PartitionEntry{Path: path, RowCount: -1}
	if !info.IsDir() {
		return entry, strings.HasSuffix(path, ".parquet"), nil
	}

	var (
		combined    Metadata
		covered     = map[string]bool{}
		parquetDirs = map[string]bool{}
	)
	err = afero.Walk(x.fs, path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		dir := filepath.Dir(p)
		switch {
		case info.Name() == "metadata.json":
			meta, err := x.readMetadata(p)
			if err != nil {
				core.Warnf(ctx, "Failed to read %s: %v", p, err)
				return nil
			}
			combined.merge(meta)
			covered[dir] = true
		case strings.HasSuffix(info.Name(), ".parquet"):
			parquetDirs[dir] = true
		}
		return nil
	})
	if err != nil {
		return PartitionEntry{}, false, err
	}

	if len(parquetDirs) == 0 && len(covered) == 0 {
		entry.RowCount = 0
		return entry, true, nil
	}
	for dir := range parquetDirs {
		if !covered[dir] {
			return entry, true, nil
		}
	}
	entry.RowCount = combined.RowCount
	if combined.RowCount > 0 {
		minTime, maxTime := time.Unix(0, combined.MinTime).UTC(), time.Unix(0, combined.MaxTime).UTC()
		entry.MinTime, entry.MaxTime = &minTime, &maxTime
	}
	return entry, true, nil
}

func (x *FSIndex) readMetadata(path string) (*Metadata, error) {
	data, err := afero.ReadFile(x.fs, path)
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}
