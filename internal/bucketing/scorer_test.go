package bucketing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// mapIndex is a minimal Lookuper keyed by "a|b" in either order
type mapIndex map[string]float64

func (m mapIndex) Lookup(a, b string) float64 {
	if v, ok := m[a+"|"+b]; ok {
		return v
	}
	if v, ok := m[b+"|"+a]; ok {
		return v
	}
	return 100.0
}

func (m mapIndex) set(a, b string, v float64) mapIndex {
	m[a+"|"+b] = v
	return m
}

// fullIndex fills every pair of items with v, then applies overrides
func fullIndex(items []string, v float64, overrides map[[2]string]float64) mapIndex {
	m := mapIndex{}
	for i := range items {
		for j := i + 1; j < len(items); j++ {
			m.set(items[i], items[j], v)
		}
	}
	for pair, val := range overrides {
		delete(m, pair[1]+"|"+pair[0])
		m.set(pair[0], pair[1], val)
	}
	return m
}

// bruteForce recomputes the score independently of Scorer
func bruteForce(p Partition, idx Lookuper, threshold float64) (float64, int) {
	sum := 0.0
	high := 0
	maxHigh := 0
	for _, bucket := range p {
		bh := 0
		for _, a := range bucket {
			for _, b := range bucket {
				if a >= b {
					continue
				}
				v := math.Abs(idx.Lookup(a, b))
				sum += v
				if v >= threshold {
					high++
					bh++
				}
			}
		}
		if bh > maxHigh {
			maxHigh = bh
		}
	}
	return float64(high)*10000 + float64(maxHigh)*100000 + sum, high
}

func abcdIndex() mapIndex {
	return fullIndex([]string{"A", "B", "C", "D"}, 10, map[[2]string]float64{
		{"A", "B"}: 90,
		{"C", "D"}: -80,
	})
}

func TestScorerMatchesBruteForce(t *testing.T) {
	idx := mapIndex{}.
		set("EURUSD", "GBPUSD", 82.5).
		set("USDJPY", "EURUSD", -71).
		set("AUDUSD", "NZDUSD", 91).
		set("USDCAD", "AUDUSD", -40.25).
		set("GBPUSD", "USDCAD", 65).
		set("NZDUSD", "USDJPY", -64.99)

	tests := []struct {
		name string
		p    Partition
	}{
		{"empty partition", Partition{}},
		{"all empty buckets", Partition{{}, {}, {}}},
		{"singletons", Partition{{"EURUSD"}, {"GBPUSD"}, {"USDJPY"}}},
		{"one bucket", Partition{{"EURUSD", "GBPUSD", "USDJPY", "AUDUSD", "NZDUSD", "USDCAD"}}},
		{"mixed", Partition{{"EURUSD", "GBPUSD"}, {}, {"AUDUSD", "NZDUSD", "USDJPY"}, {"USDCAD"}}},
		{"missing pairs", Partition{{"EURUSD", "AUDUSD", "XAUUSD"}, {"GBPUSD", "USDCAD"}}},
	}

	s := NewScorer(DefaultThreshold)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want, wantHigh := bruteForce(tt.p, idx, DefaultThreshold)
			got := s.Score(tt.p, idx)

			assert.InDelta(t, want, got.Value, 1e-9)
			assert.Equal(t, wantHigh, got.HighCount)
			assert.Len(t, got.BucketHighCounts, len(tt.p))
			assert.Equal(t, got.Value, s.Value(tt.p, idx))
		})
	}
}

func TestScorerThresholdBoundary(t *testing.T) {
	idx := mapIndex{}.set("A", "B", -65).set("C", "D", 64.999)
	s := NewScorer(65)

	res := s.Score(Partition{{"A", "B"}, {"C", "D"}}, idx)
	assert.Equal(t, 1, res.HighCount)
	assert.Equal(t, []int{1, 0}, res.BucketHighCounts)
	assert.Equal(t, 1, res.MaxBucketHigh())
	assert.InDelta(t, 10000+100000+65+64.999, res.Value, 1e-9)
}

func TestScorerMissingPairUsesSentinel(t *testing.T) {
	idx := mapIndex{}
	res := NewScorer(DefaultThreshold).Score(Partition{{"X", "Y"}}, idx)

	assert.InDelta(t, 100.0, res.SumAbs, 1e-12)
	assert.Equal(t, 1, res.HighCount)
	assert.InDelta(t, 10000+100000+100.0, res.Value, 1e-9)
}

func TestScorerIsPure(t *testing.T) {
	idx := abcdIndex()
	p := Partition{{"A", "C"}, {"B", "D"}}
	s := NewScorer(DefaultThreshold)

	first := s.Score(p, idx)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, s.Score(p, idx))
	}
	assert.Equal(t, Partition{{"A", "C"}, {"B", "D"}}, p)
}

func TestScorerABCDScenario(t *testing.T) {
	idx := abcdIndex()
	s := NewScorer(DefaultThreshold)

	clustered := s.Score(Partition{{"A", "B"}, {"C", "D"}}, idx)
	assert.Equal(t, 2, clustered.HighCount)
	assert.Equal(t, 1, clustered.MaxBucketHigh())
	assert.InDelta(t, 2*10000+1*100000+170, clustered.Value, 1e-9)

	for _, p := range []Partition{{{"A", "C"}, {"B", "D"}}, {{"A", "D"}, {"B", "C"}}} {
		spread := s.Score(p, idx)
		assert.Equal(t, 0, spread.HighCount)
		assert.InDelta(t, 20.0, spread.Value, 1e-9)
	}

	lumped := s.Score(Partition{{"A", "B", "C", "D"}, {}}, idx)
	assert.Equal(t, 2, lumped.MaxBucketHigh())
}

func TestNewScorerDefaultsThreshold(t *testing.T) {
	assert.Equal(t, DefaultThreshold, NewScorer(0).Threshold)
	assert.Equal(t, DefaultThreshold, NewScorer(-3).Threshold)
	assert.Equal(t, 50.0, NewScorer(50).Threshold)
}
