package report

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"

	"fxbuckets/internal/bucketing"
)

// AssignmentHeaders are the columns of the assignment CSV
var AssignmentHeaders = []string{"bucket", "item", "bucket_size", "high_pairs", "sum_abs"}

// ItemStats summarizes one item against its bucket mates
type ItemStats struct {
	Bucket     int     `json:"bucket"`
	Item       string  `json:"item"`
	BucketSize int     `json:"bucket_size"`
	HighPairs  int     `json:"high_pairs"`
	SumAbs     float64 `json:"sum_abs"`
}

// Assignments computes per-item statistics; buckets are numbered from 1
func Assignments(p bucketing.Partition, m Matrix, threshold float64) []ItemStats {
	if threshold <= 0 {
		threshold = bucketing.DefaultThreshold
	}

	stats := make([]ItemStats, 0, p.Len())
	for i, bucket := range p {
		for _, a := range bucket {
			s := ItemStats{Bucket: i + 1, Item: a, BucketSize: len(bucket)}
			for _, b := range bucket {
				if a == b {
					continue
				}
				v := math.Abs(m.Lookup(a, b))
				s.SumAbs += v
				if v >= threshold {
					s.HighPairs++
				}
			}
			stats = append(stats, s)
		}
	}
	return stats
}

// WriteAssignmentCSV writes one row per item with its bucket and exposure
func WriteAssignmentCSV(w io.Writer, p bucketing.Partition, m Matrix, threshold float64) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(AssignmentHeaders); err != nil {
		return err
	}
	for _, s := range Assignments(p, m, threshold) {
		record := []string{
			strconv.Itoa(s.Bucket),
			s.Item,
			strconv.Itoa(s.BucketSize),
			strconv.Itoa(s.HighPairs),
			strconv.FormatFloat(s.SumAbs, 'f', 2, 64),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
