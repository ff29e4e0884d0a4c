package catalog

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gigapi/gigapi-insitu/insitu"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMetadata(t *testing.T, fs afero.Fs, dir string, meta Metadata) {
	t.Helper()
	data, err := json.Marshal(meta)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, dir+"/metadata.json", data, 0o644))
}

func touch(t *testing.T, fs afero.Fs, path string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte("PAR1"), 0o644))
}

func TestFSIndexPartitions(t *testing.T) {
	fs := afero.NewMemMapFs()
	jan := time.Date(2021, 1, 10, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2021, 2, 20, 0, 0, 0, 0, time.UTC)

	// 2021/01 and 2021/02 both have metadata
	touch(t, fs, "/data/argo/2021/01/a.parquet")
	writeMetadata(t, fs, "/data/argo/2021/01", Metadata{RowCount: 5, MinTime: jan.UnixNano(), MaxTime: jan.Add(time.Hour).UnixNano()})
	touch(t, fs, "/data/argo/2021/02/b.parquet")
	writeMetadata(t, fs, "/data/argo/2021/02", Metadata{RowCount: 7, MinTime: feb.UnixNano(), MaxTime: feb.Add(time.Hour).UnixNano()})
	// 2022/03 has parquet files but no metadata
	touch(t, fs, "/data/argo/2022/03/c.parquet")
	// 2022/04 exists but is empty
	require.NoError(t, fs.MkdirAll("/data/argo/2022/04", 0o755))
	// 2022/05 has metadata that cannot be parsed
	touch(t, fs, "/data/argo/2022/05/d.parquet")
	require.NoError(t, afero.WriteFile(fs, "/data/argo/2022/05/metadata.json", []byte("{"), 0o644))

	idx := NewFSIndex(fs)
	got, err := idx.Partitions(context.Background(), "argo", []string{
		"/data/argo/2021",
		"/data/argo/2021/01",
		"/data/argo/2022/03",
		"/data/argo/2022/04",
		"/data/argo/2022/05",
		"/data/argo/2023",
	})
	require.NoError(t, err)
	require.Len(t, got, 5)

	year := got[0]
	assert.Equal(t, "/data/argo/2021", year.Path)
	assert.Equal(t, int64(12), year.RowCount)
	require.NotNil(t, year.MinTime)
	require.NotNil(t, year.MaxTime)
	assert.True(t, jan.Equal(*year.MinTime))
	assert.True(t, feb.Add(time.Hour).Equal(*year.MaxTime))

	assert.Equal(t, "/data/argo/2021/01", got[1].Path)
	assert.Equal(t, int64(5), got[1].RowCount)

	assert.Equal(t, unknown("/data/argo/2022/03"), got[2])
	assert.Equal(t, PartitionEntry{Path: "/data/argo/2022/04", RowCount: 0}, got[3])
	assert.Equal(t, unknown("/data/argo/2022/05"), got[4])
}

func TestFSIndexPartialMetadataIsUnknown(t *testing.T) {
	fs := afero.NewMemMapFs()
	touch(t, fs, "/data/argo/2021/01/a.parquet")
	writeMetadata(t, fs, "/data/argo/2021/01", Metadata{RowCount: 5})
	touch(t, fs, "/data/argo/2021/02/b.parquet")

	got, err := NewFSIndex(fs).Partitions(context.Background(), "argo", []string{"/data/argo/2021"})
	require.NoError(t, err)
	assert.Equal(t, []PartitionEntry{unknown("/data/argo/2021")}, got)
}

func TestFSIndexWithLookup(t *testing.T) {
	fs := afero.NewMemMapFs()
	touch(t, fs, "/data/argo/2021/03/a.parquet")
	touch(t, fs, "/data/argo/2021/05/a.parquet")
	require.NoError(t, fs.MkdirAll("/data/argo/2021/06", 0o755))

	l := NewLookup("/data", insitu.PlainStyle, insitu.NewEnumerator(0), NewFSIndex(fs))

	got, err := l.Partitions(context.Background(), "argo", &insitu.QueryParameters{MinTime: ts(2021, 3, 1), MaxTime: ts(2021, 7, 1)})
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/argo/2021/03", "/data/argo/2021/05"}, got)
}

func TestLookupOneSidedRangeKeepsOutlyingPartitions(t *testing.T) {
	fs := afero.NewMemMapFs()
	touch(t, fs, "/data/argo/1850/06/part.parquet")
	touch(t, fs, "/data/argo/2090/06/part.parquet")
	l := NewLookup("/data", insitu.PlainStyle, insitu.NewEnumerator(1900), NewFSIndex(fs))

	tests := []struct {
		name   string
		params *insitu.QueryParameters
		want   []string
	}{
		{name: "max before earliest", params: &insitu.QueryParameters{MaxTime: ts(1850, 12, 31)}, want: []string{"/data/argo"}},
		{name: "min in the future", params: &insitu.QueryParameters{MinTime: ts(2090, 1, 1)}, want: []string{"/data/argo"}},
		{name: "bounded", params: &insitu.QueryParameters{MinTime: ts(2090, 1, 1), MaxTime: ts(2090, 12, 31)}, want: []string{"/data/argo/2090/06"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := l.Partitions(context.Background(), "argo", tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
