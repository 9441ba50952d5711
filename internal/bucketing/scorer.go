package bucketing

import (
	"math"
)

const (
	// DefaultThreshold is the |correlation| at which a pair counts as highly correlated
	DefaultThreshold = 65.0

	// HighCountWeight multiplies the number of high-correlation pairs
	HighCountWeight = 10000.0
	// MaxBucketWeight multiplies the largest per-bucket high-correlation count
	MaxBucketWeight = 100000.0
)

// Lookuper returns the correlation magnitude of an unordered pair.
// Implementations must be symmetric and must not fail for unknown pairs.
type Lookuper interface {
	Lookup(a, b string) float64
}

// Score is the breakdown of a partition's badness
type Score struct {
	Value            float64 `json:"score"`
	HighCount        int     `json:"high_count"`
	BucketHighCounts []int   `json:"bucket_high_counts"`
	SumAbs           float64 `json:"sum_abs"`
}

// MaxBucketHigh returns the largest per-bucket high-correlation count (0 with no buckets)
func (s Score) MaxBucketHigh() int {
	m := 0
	for _, c := range s.BucketHighCounts {
		if c > m {
			m = c
		}
	}
	return m
}

// Scorer evaluates partitions against a correlation index
type Scorer struct {
	Threshold float64
}

// NewScorer creates a scorer; a non-positive threshold selects DefaultThreshold
func NewScorer(threshold float64) Scorer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Scorer{Threshold: threshold}
}

// Score computes the full score breakdown of p
func (s Scorer) Score(p Partition, idx Lookuper) Score {
	res := Score{BucketHighCounts: make([]int, len(p))}

	for b, bucket := range p {
		for i := 0; i < len(bucket); i++ {
			for j := i + 1; j < len(bucket); j++ {
				v := math.Abs(idx.Lookup(bucket[i], bucket[j]))
				res.SumAbs += v
				if v >= s.Threshold {
					res.HighCount++
					res.BucketHighCounts[b]++
				}
			}
		}
	}

	res.Value = composite(res.HighCount, res.MaxBucketHigh(), res.SumAbs)
	return res
}

// Value computes only the scalar score of p without allocating.
// It always equals Score(p, idx).Value.
func (s Scorer) Value(p Partition, idx Lookuper) float64 {
	var (
		sum     float64
		high    int
		maxHigh int
	)

	for _, bucket := range p {
		bucketHigh := 0
		for i := 0; i < len(bucket); i++ {
			for j := i + 1; j < len(bucket); j++ {
				v := math.Abs(idx.Lookup(bucket[i], bucket[j]))
				sum += v
				if v >= s.Threshold {
					high++
					bucketHigh++
				}
			}
		}
		if bucketHigh > maxHigh {
			maxHigh = bucketHigh
		}
	}

	return composite(high, maxHigh, sum)
}

func composite(high, maxHigh int, sum float64) float64 {
	return float64(high)*HighCountWeight + float64(maxHigh)*MaxBucketWeight + sum
}
