package services

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxbuckets/internal/bucketing"
	"fxbuckets/internal/config"
	"fxbuckets/internal/correlation"
	apperrors "fxbuckets/internal/errors"
	"fxbuckets/internal/shared/testutil"
)

type fakeLoader struct {
	idx   *correlation.Index
	stats correlation.LoadStats
	err   error

	sources []string
}

func (f *fakeLoader) Load(ctx context.Context, source string) (*correlation.Index, correlation.LoadStats, error) {
	f.sources = append(f.sources, source)
	return f.idx, f.stats, f.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// abcdIndex has an obvious two-bucket answer: A-B and C-D are highly correlated
func abcdIndex(t *testing.T) *correlation.Index {
	t.Helper()
	idx := correlation.NewIndex()
	pairs := []struct {
		a, b string
		v    float64
	}{
		{"A", "B", 90}, {"C", "D", 90},
		{"A", "C", 10}, {"A", "D", 10},
		{"B", "C", 10}, {"B", "D", 10},
	}
	for _, p := range pairs {
		require.NoError(t, idx.Set(p.a, p.b, p.v))
	}
	return idx
}

func testConfig() bucketing.Config {
	cfg := bucketing.DefaultConfig()
	cfg.Buckets = 2
	cfg.Restarts = 10
	cfg.Seed = 42
	return cfg
}

func TestLoadTable(t *testing.T) {
	idx := abcdIndex(t)
	loader := &fakeLoader{idx: idx, stats: correlation.LoadStats{Rows: 6, Items: 4, Pairs: 6}}
	svc := NewBucketingService(loader, nil, nil, quietLogger())

	got, stats, err := svc.LoadTable(context.Background(), "corr.csv")
	require.NoError(t, err)
	assert.Same(t, idx, got)
	assert.Equal(t, 4, stats.Items)
	assert.Equal(t, []string{"corr.csv"}, loader.sources)
}

func TestLoadTableWrapsError(t *testing.T) {
	loader := &fakeLoader{err: apperrors.NewNotFoundError("corr.csv")}
	svc := NewBucketingService(loader, nil, nil, quietLogger())

	_, _, err := svc.LoadTable(context.Background(), "corr.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corr.csv")
	assert.Equal(t, apperrors.ErrTypeNotFound, apperrors.TypeOf(err))
}

func TestPartitionSeparatesCorrelatedPairs(t *testing.T) {
	svc := NewBucketingService(&fakeLoader{}, nil, nil, quietLogger())

	var mu sync.Mutex
	var seen int
	run, err := svc.Partition(context.Background(), abcdIndex(t), testConfig(), PartitionOptions{
		Source: "test",
		Observer: func(bucketing.RestartResult) {
			mu.Lock()
			seen++
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "test", run.Source)
	assert.Equal(t, 0, run.Result.Score.HighCount)
	assert.Equal(t, 10, seen)
	assert.NotEqual(t, run.Result.Partition.BucketOf("A"), run.Result.Partition.BucketOf("B"))
	assert.NotEqual(t, run.Result.Partition.BucketOf("C"), run.Result.Partition.BucketOf("D"))
	require.NoError(t, run.Result.Partition.Validate([]string{"A", "B", "C", "D"}))
}

func TestPartitionRejectsInvalidConfig(t *testing.T) {
	svc := NewBucketingService(&fakeLoader{}, nil, nil, quietLogger())
	cfg := testConfig()
	cfg.Buckets = 0

	_, err := svc.Partition(context.Background(), abcdIndex(t), cfg, PartitionOptions{})
	require.Error(t, err)
	assert.True(t, apperrors.IsConfig(err))
}

func TestPartitionEmptyIndex(t *testing.T) {
	svc := NewBucketingService(&fakeLoader{}, nil, nil, quietLogger())

	run, err := svc.Partition(context.Background(), correlation.NewIndex(), testConfig(), PartitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, run.Result.Partition.Len())
	assert.Len(t, run.Result.Partition, 2)
}

func TestWriteReports(t *testing.T) {
	svc := NewBucketingService(&fakeLoader{}, nil, nil, quietLogger())
	run, err := svc.Partition(context.Background(), abcdIndex(t), testConfig(), PartitionOptions{ValueColumn: "Daily"})
	require.NoError(t, err)

	dir := t.TempDir()
	out := config.OutputConfig{
		Markdown: filepath.Join(dir, "reports", "buckets.md"),
		CSV:      filepath.Join(dir, "reports", "buckets.csv"),
		XLSX:     filepath.Join(dir, "xlsx", "buckets.xlsx"),
	}
	require.NoError(t, svc.WriteReports(context.Background(), run, out))

	md, err := os.ReadFile(out.Markdown)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(md), "# FX Pair Correlation Buckets"))
	assert.Contains(t, string(md), "## Bucket 1")
	assert.Contains(t, string(md), "## Bucket 2")

	csvData, err := os.ReadFile(out.CSV)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(csvData), "bucket,item,bucket_size,high_pairs,sum_abs"))

	info, err := os.Stat(out.XLSX)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestWriteReportsSkipsEmptyPaths(t *testing.T) {
	svc := NewBucketingService(&fakeLoader{}, nil, nil, quietLogger())
	run, err := svc.Partition(context.Background(), abcdIndex(t), testConfig(), PartitionOptions{})
	require.NoError(t, err)

	assert.NoError(t, svc.WriteReports(context.Background(), run, config.OutputConfig{}))
}

func TestPartitionWarnsAboutMissingPairs(t *testing.T) {
	idx := correlation.NewIndex()
	require.NoError(t, idx.Set("A", "B", 20))
	require.NoError(t, idx.Set("C", "D", 20))

	logger, logs := testutil.NewLogger(t)
	svc := NewBucketingService(nil, nil, nil, logger)

	run, err := svc.Partition(context.Background(), idx, testConfig(), PartitionOptions{Source: "test"})
	require.NoError(t, err)
	require.NoError(t, run.Result.Partition.Validate(idx.Items()))

	warn := logs.RequireLogged(t, slog.LevelWarn, "missing pairs score as maximal")
	assert.EqualValues(t, 4, warn.Attrs["missing_pairs"])
	assert.Equal(t, "bucketing_service", warn.Attrs["component"])
	assert.Equal(t, run.ID, warn.Attrs["run_id"])
}
