package correlation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "fxbuckets/internal/errors"
)

func TestIndexBuildSkipsBadRows(t *testing.T) {
	rows := []Row{
		{A: "EURUSD", B: "GBPUSD", Value: "85.2"},
		{A: "EURUSD", B: "USDJPY", Value: "-40"},
		{A: "AUDUSD", B: "NZDUSD", Value: "n/a"},
		{A: "", B: "NZDUSD", Value: "12"},
		{A: "USDCAD", B: "USDCAD", Value: "100"},
		{A: "USDCHF", B: "EURUSD", Value: "NaN"},
		{A: "USDCHF", B: "EURUSD", Value: " -91.5 "},
	}

	idx, skipped := NewIndexFromRows(rows)

	assert.Equal(t, 4, skipped)
	assert.Equal(t, 3, idx.Len())
	assert.Equal(t, []string{"EURUSD", "GBPUSD", "USDCHF", "USDJPY"}, idx.Items())
	assert.Equal(t, 4, idx.ItemCount())
	assert.Equal(t, -91.5, idx.Lookup("EURUSD", "USDCHF"))
}

func TestIndexLookupIsSymmetric(t *testing.T) {
	idx := NewIndex()
	require.NoError(t, idx.Set("B", "A", 72))
	require.NoError(t, idx.Set("C", "D", -10))

	tests := []struct {
		a, b string
		want float64
	}{
		{"A", "B", 72},
		{"B", "A", 72},
		{"C", "D", -10},
		{"D", "C", -10},
		{"A", "C", MissingValue},
		{"C", "A", MissingValue},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, idx.Lookup(tt.a, tt.b), "%s/%s", tt.a, tt.b)
	}

	_, ok := idx.Get("A", "D")
	assert.False(t, ok)
	v, ok := idx.Get("A", "B")
	assert.True(t, ok)
	assert.Equal(t, 72.0, v)
}

func TestIndexLaterRowWins(t *testing.T) {
	idx, skipped := NewIndexFromRows([]Row{
		{A: "A", B: "B", Value: "10"},
		{A: "B", B: "A", Value: "70"},
	})

	assert.Zero(t, skipped)
	assert.Equal(t, 1, idx.Len())
	assert.Equal(t, 70.0, idx.Lookup("A", "B"))
	assert.Equal(t, 70.0, idx.Lookup("B", "A"))
}

func TestIndexSetRejectsMalformedPairs(t *testing.T) {
	idx := NewIndex()

	for _, tc := range []struct{ a, b string }{{"", "B"}, {"A", " "}, {"A", "A"}} {
		err := idx.Set(tc.a, tc.b, 1)
		require.Error(t, err)
		assert.True(t, apperrors.IsData(err))
	}
	assert.Zero(t, idx.Len())
	assert.Empty(t, idx.Items())
}

func TestIndexEntriesAndMissing(t *testing.T) {
	idx := NewIndex()
	require.NoError(t, idx.Set("GBPUSD", "EURUSD", 80))
	require.NoError(t, idx.Set("AUDUSD", "EURUSD", 30))

	assert.Equal(t, []Entry{
		{A: "AUDUSD", B: "EURUSD", Value: 30},
		{A: "EURUSD", B: "GBPUSD", Value: 80},
	}, idx.Entries())

	missing := idx.Missing(idx.Items())
	assert.Equal(t, []Entry{{A: "AUDUSD", B: "GBPUSD", Value: MissingValue}}, missing)
}

func TestItemsReturnsCopy(t *testing.T) {
	idx := NewIndex()
	require.NoError(t, idx.Set("A", "B", 1))

	items := idx.Items()
	items[0] = "Z"
	assert.Equal(t, []string{"A", "B"}, idx.Items())
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"42", 42, false},
		{" -65.5 ", -65.5, false},
		{"12%", 12, false},
		{"", 0, true},
		{"abc", 0, true},
		{"Inf", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseValue(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIndexItemsStaySortedAcrossInserts(t *testing.T) {
	idx := NewIndex()
	require.NoError(t, idx.Set("USDJPY", "EURUSD", 1))
	assert.Equal(t, []string{"EURUSD", "USDJPY"}, idx.Items())

	require.NoError(t, idx.Set("AUDUSD", "GBPUSD", 2))
	require.NoError(t, idx.Set("EURUSD", "NZDUSD", 3))
	assert.Equal(t, []string{"AUDUSD", "EURUSD", "GBPUSD", "NZDUSD", "USDJPY"}, idx.Items())
	assert.Equal(t, 5, idx.ItemCount())
	assert.Equal(t, 3, idx.Len())

	items := idx.Items()
	items[0] = "changed"
	assert.Equal(t, "AUDUSD", idx.Items()[0])
}

func TestIndexConcurrentReads(t *testing.T) {
	idx, _ := NewIndexFromRows([]Row{
		{A: "A", B: "B", Value: "10"},
		{A: "C", B: "D", Value: "20"},
		{A: "B", B: "C", Value: "30"},
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, []string{"A", "B", "C", "D"}, idx.Items())
			assert.Equal(t, 30.0, idx.Lookup("C", "B"))
			assert.Len(t, idx.Missing(idx.Items()), 3)
		}()
	}
	wg.Wait()
}
