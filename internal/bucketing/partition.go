package bucketing

import (
	"fmt"
	"math/rand"
	"sort"

	apperrors "fxbuckets/internal/errors"
)

// Partition is an ordered list of buckets. Every item belongs to exactly one bucket;
// buckets may be empty.
type Partition [][]string

// NewPartition returns k empty buckets
func NewPartition(k int) Partition {
	return make(Partition, k)
}

// initialPartition deals a shuffled copy of items round-robin into k buckets
func initialPartition(items []string, k int, rng *rand.Rand) Partition {
	shuffled := make([]string, len(items))
	copy(shuffled, items)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	p := NewPartition(k)
	for i, item := range shuffled {
		p[i%k] = append(p[i%k], item)
	}
	return p
}

// Clone returns a deep copy
func (p Partition) Clone() Partition {
	out := make(Partition, len(p))
	for i, bucket := range p {
		out[i] = append([]string(nil), bucket...)
	}
	return out
}

// Len returns the total number of items across all buckets
func (p Partition) Len() int {
	n := 0
	for _, bucket := range p {
		n += len(bucket)
	}
	return n
}

// Items returns every item in the partition, sorted
func (p Partition) Items() []string {
	items := make([]string, 0, p.Len())
	for _, bucket := range p {
		items = append(items, bucket...)
	}
	sort.Strings(items)
	return items
}

// BucketOf returns the index of the bucket holding item, or -1
func (p Partition) BucketOf(item string) int {
	for i, bucket := range p {
		for _, it := range bucket {
			if it == item {
				return i
			}
		}
	}
	return -1
}

// Validate checks that the buckets hold exactly the given items, each once.
func (p Partition) Validate(items []string) error {
	want := make(map[string]bool, len(items))
	for _, item := range items {
		want[item] = true
	}

	seen := make(map[string]int, len(items))
	for b, bucket := range p {
		for _, item := range bucket {
			if prev, dup := seen[item]; dup {
				return apperrors.NewInternalError(
					fmt.Sprintf("item %q appears in buckets %d and %d", item, prev+1, b+1), nil)
			}
			if !want[item] {
				return apperrors.NewInternalError(fmt.Sprintf("unexpected item %q in bucket %d", item, b+1), nil)
			}
			seen[item] = b
		}
	}

	if len(seen) != len(want) {
		for item := range want {
			if _, ok := seen[item]; !ok {
				return apperrors.NewInternalError(fmt.Sprintf("item %q is not assigned to any bucket", item), nil)
			}
		}
	}
	return nil
}

// move relocates the item at position pos of bucket from to the end of bucket to.
func (p Partition) move(from, pos, to int) {
	item := p[from][pos]
	p[from] = append(p[from][:pos], p[from][pos+1:]...)
	p[to] = append(p[to], item)
}

// undo reverts move(from, pos, to), restoring the original position.
func (p Partition) undo(from, pos, to int) {
	last := len(p[to]) - 1
	item := p[to][last]
	p[to] = p[to][:last]

	p[from] = append(p[from], "")
	copy(p[from][pos+1:], p[from][pos:])
	p[from][pos] = item
}
