package correlation

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	apperrors "fxbuckets/internal/errors"
)

// MissingValue is returned by Lookup for pairs that were never ingested
const MissingValue = 100.0

// Row is one raw (a, b, value) triple as read from a table
type Row struct {
	A     string `json:"a"`
	B     string `json:"b"`
	Value string `json:"value"`
}

// Entry is one stored pair with its parsed value
type Entry struct {
	A     string  `json:"a"`
	B     string  `json:"b"`
	Value float64 `json:"value"`
}

type pairKey struct {
	lo, hi string
}

func keyOf(a, b string) pairKey {
	if b < a {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

// Index is a symmetric lookup from unordered item pairs to correlation values.
// Reads never mutate it, so it is safe for concurrent readers once built.
type Index struct {
	values map[pairKey]float64
	items  map[string]struct{}
	sorted []string
}

// NewIndex returns an empty index
func NewIndex() *Index {
	return &Index{
		values: make(map[pairKey]float64),
		items:  make(map[string]struct{}),
	}
}

// NewIndexFromRows builds an index from raw rows and reports how many were skipped
func NewIndexFromRows(rows []Row) (*Index, int) {
	idx := NewIndex()
	_, skipped := idx.Build(rows)
	return idx, skipped
}

// Build ingests rows, skipping any row whose labels are empty or identical or
// whose value is not a finite number. A later row for the same pair replaces
// the earlier one. It returns the distinct items of the index and the number of
// rows skipped.
func (idx *Index) Build(rows []Row) ([]string, int) {
	skipped := idx.Ingest(rows, nil)
	return idx.Items(), skipped
}

// Ingest is Build with a hook: onSkip, when non-nil, receives the position,
// the row and the reason of every skipped row. It returns the skip count.
func (idx *Index) Ingest(rows []Row, onSkip func(i int, row Row, err error)) int {
	skipped := 0
	for i, row := range rows {
		v, err := ParseValue(row.Value)
		if err == nil {
			err = idx.Set(row.A, row.B, v)
		}
		if err != nil {
			skipped++
			if onSkip != nil {
				onSkip(i, row, err)
			}
		}
	}
	return skipped
}

// Set stores the value for the unordered pair (a, b)
func (idx *Index) Set(a, b string, v float64) error {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	switch {
	case a == "" || b == "":
		return apperrors.NewDataError("pair labels must not be empty", nil)
	case a == b:
		return apperrors.NewDataError(fmt.Sprintf("pair %q relates an item to itself", a), nil)
	case math.IsNaN(v) || math.IsInf(v, 0):
		return apperrors.NewDataError(fmt.Sprintf("pair (%s, %s) has non-finite value", a, b), nil)
	}

	idx.values[keyOf(a, b)] = v
	for _, item := range [2]string{a, b} {
		if _, ok := idx.items[item]; ok {
			continue
		}
		idx.items[item] = struct{}{}
		i := sort.SearchStrings(idx.sorted, item)
		idx.sorted = append(idx.sorted, "")
		copy(idx.sorted[i+1:], idx.sorted[i:])
		idx.sorted[i] = item
	}
	return nil
}

// Get returns the value for (a, b) in either order and whether it exists
func (idx *Index) Get(a, b string) (float64, bool) {
	v, ok := idx.values[keyOf(a, b)]
	return v, ok
}

// Lookup returns the value for (a, b) in either order, or MissingValue
func (idx *Index) Lookup(a, b string) float64 {
	if v, ok := idx.values[keyOf(a, b)]; ok {
		return v
	}
	return MissingValue
}

// Items returns the distinct items, sorted
func (idx *Index) Items() []string {
	return append([]string(nil), idx.sorted...)
}

// ItemCount returns the number of distinct items
func (idx *Index) ItemCount() int {
	return len(idx.items)
}

// Len returns the number of stored pairs
func (idx *Index) Len() int {
	return len(idx.values)
}

// Entries returns every stored pair, sorted by (A, B)
func (idx *Index) Entries() []Entry {
	entries := make([]Entry, 0, len(idx.values))
	for k, v := range idx.values {
		entries = append(entries, Entry{A: k.lo, B: k.hi, Value: v})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].A != entries[j].A {
			return entries[i].A < entries[j].A
		}
		return entries[i].B < entries[j].B
	})
	return entries
}

// Missing returns the unordered pairs of items that have no stored value
func (idx *Index) Missing(items []string) []Entry {
	var missing []Entry
	for i := range items {
		for j := i + 1; j < len(items); j++ {
			if _, ok := idx.Get(items[i], items[j]); !ok {
				k := keyOf(items[i], items[j])
				missing = append(missing, Entry{A: k.lo, B: k.hi, Value: MissingValue})
			}
		}
	}
	return missing
}

// ParseValue parses a correlation cell, tolerating surrounding spaces and a trailing percent sign
func ParseValue(s string) (float64, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, apperrors.NewParsingError(fmt.Sprintf("invalid correlation value %q", s), err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, apperrors.NewParsingError(fmt.Sprintf("non-finite correlation value %q", s), nil)
	}
	return v, nil
}
