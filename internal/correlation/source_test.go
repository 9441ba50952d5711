package correlation

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	apperrors "fxbuckets/internal/errors"
	"fxbuckets/internal/shared/testutil"
)

const sampleTable = `Correlation export,,,,,,
generated,2024-05-01,,,,,
pair1,pair2,m5,m15,h1,h4,daily,weekly
EURUSD,GBPUSD,90,88,86,84,82.5,80
EURUSD,USDJPY,-10,-12,-14,-16,-71,-20
GBPUSD,USDJPY,1,2,3,4,5,6
AUDUSD,NZDUSD,1,2,3,4,not-a-number,6
AUDUSD,NZDUSD,1,2
,,,,,,,
AUDUSD,EURUSD,1,2,3,4,33,6
`

func testLoader() *Loader {
	return NewLoader(DefaultTableOptions(), StorageOptions{}, slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func TestReadCSVDetectsHeader(t *testing.T) {
	table, err := ReadCSV(strings.NewReader(sampleTable), DefaultTableOptions())
	require.NoError(t, err)

	assert.Equal(t, 6, table.ValueColumn)
	assert.Equal(t, "daily", table.ValueName)
	assert.Equal(t, 1, table.Short)
	require.Len(t, table.Rows, 5)
	assert.Equal(t, Row{A: "EURUSD", B: "GBPUSD", Value: "82.5"}, table.Rows[0])
	assert.Equal(t, Row{A: "AUDUSD", B: "EURUSD", Value: "33"}, table.Rows[4])
}

func TestReadCSVValueColumnByName(t *testing.T) {
	opts := DefaultTableOptions()
	opts.ValueColumn = "H4"

	table, err := ReadCSV(strings.NewReader(sampleTable), opts)
	require.NoError(t, err)

	assert.Equal(t, 5, table.ValueColumn)
	assert.Equal(t, "84", table.Rows[0].Value)
}

func TestReadCSVErrors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		column   string
		wantType apperrors.ErrorType
	}{
		{"no header", "a,b,c\n1,2,3\n", "6", apperrors.ErrTypeData},
		{"unknown column name", sampleTable, "monthly", apperrors.ErrTypeConfig},
		{"column overlaps pair", sampleTable, "1", apperrors.ErrTypeConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultTableOptions()
			opts.ValueColumn = tt.column

			_, err := ReadCSV(strings.NewReader(tt.input), opts)
			require.Error(t, err)
			assert.Equal(t, tt.wantType, apperrors.TypeOf(err))
		})
	}
}

func TestLoaderLoadReader(t *testing.T) {
	idx, stats, err := testLoader().LoadReader(context.Background(), strings.NewReader(sampleTable), FormatCSV)
	require.NoError(t, err)

	assert.Equal(t, 6, stats.Rows)
	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, 4, stats.Items)
	assert.Equal(t, 4, stats.Pairs)
	assert.Equal(t, "daily", stats.ValueColumn)
	assert.Equal(t, -71.0, idx.Lookup("USDJPY", "EURUSD"))
	assert.Equal(t, MissingValue, idx.Lookup("AUDUSD", "NZDUSD"))
}

func TestLoaderLogsEachSkippedRow(t *testing.T) {
	logger, logs := testutil.NewLogger(t)
	loader := NewLoader(DefaultTableOptions(), StorageOptions{}, logger)

	_, stats, err := loader.LoadReader(context.Background(), strings.NewReader(sampleTable), FormatCSV)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Skipped)

	rec := logs.RequireLogged(t, slog.LevelDebug, "skipping correlation row")
	assert.Equal(t, 1, logs.Count(slog.LevelDebug))
	assert.EqualValues(t, 3, rec.Attrs["row"])
	assert.Equal(t, "AUDUSD", rec.Attrs["a"])
	assert.Equal(t, "not-a-number", rec.Attrs["value"])
	assert.Equal(t, "correlation.loader", rec.Attrs["component"])

	warn := logs.RequireLogged(t, slog.LevelWarn, "skipped malformed correlation rows")
	assert.EqualValues(t, 1, warn.Attrs["short_rows"])
}

func TestLoaderRejectsEmptyTable(t *testing.T) {
	_, _, err := testLoader().LoadReader(context.Background(), strings.NewReader("pair1,pair2,a,b,c,d,daily\n"), FormatCSV)
	require.Error(t, err)
	assert.True(t, apperrors.IsData(err))
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLoaderLoadCompressedFiles(t *testing.T) {
	dir := t.TempDir()

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, err := gw.Write([]byte(sampleTable))
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	zst := enc.EncodeAll([]byte(sampleTable), nil)
	require.NoError(t, enc.Close())

	var lz bytes.Buffer
	lw := lz4.NewWriter(&lz)
	_, err = lw.Write([]byte(sampleTable))
	require.NoError(t, err)
	require.NoError(t, lw.Close())

	files := map[string][]byte{
		"plain.csv":     []byte(sampleTable),
		"table.csv.gz":  gz.Bytes(),
		"table.csv.zst": zst,
		"table.csv.lz4": lz.Bytes(),
	}

	for name, data := range files {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, dir, name, data)

			idx, stats, err := testLoader().Load(context.Background(), path)
			require.NoError(t, err)

			assert.Equal(t, path, stats.Source)
			assert.Equal(t, FormatCSV, stats.Format)
			assert.Equal(t, 4, idx.Len())
			assert.Equal(t, 82.5, idx.Lookup("GBPUSD", "EURUSD"))
		})
	}
}

func TestLoaderLoadXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]interface{}{
		{"Correlations"},
		{"pair1", "pair2", "m5", "m15", "h1", "h4", "daily"},
		{"EURUSD", "GBPUSD", 1, 2, 3, 4, 77.25},
		{"EURUSD", "USDJPY", 1, 2, 3, 4, -12},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}

	path := filepath.Join(t.TempDir(), "table.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	idx, stats, err := testLoader().Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, FormatXLSX, stats.Format)
	assert.Equal(t, 77.25, idx.Lookup("GBPUSD", "EURUSD"))
	assert.Equal(t, -12.0, idx.Lookup("EURUSD", "USDJPY"))
}

func TestLoaderMissingFile(t *testing.T) {
	_, _, err := testLoader().Load(context.Background(), filepath.Join(t.TempDir(), "absent.csv"))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrTypeNotFound, apperrors.TypeOf(err))
}

func TestLoaderS3RequiresEndpoint(t *testing.T) {
	_, _, err := testLoader().Load(context.Background(), "s3://tables/correlation.csv")
	require.Error(t, err)
	assert.True(t, apperrors.IsConfig(err))
}

func TestParseS3URL(t *testing.T) {
	bucket, key, err := ParseS3URL("s3://fx-data/2024/05/correlation.csv.zst")
	require.NoError(t, err)
	assert.Equal(t, "fx-data", bucket)
	assert.Equal(t, "2024/05/correlation.csv.zst", key)

	for _, bad := range []string{"s3://", "s3://bucket", "s3://bucket/", "s3:///key"} {
		_, _, err := ParseS3URL(bad)
		assert.Error(t, err, bad)
	}
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatXLSX, DetectFormat("report.XLSX"))
	assert.Equal(t, FormatCSV, DetectFormat("report.csv"))
	assert.Equal(t, FormatCSV, DetectFormat("report"))
}
