package report

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"fxbuckets/internal/bucketing"
)

// Matrix gives read access to the correlations of a partition's items
type Matrix interface {
	Get(a, b string) (float64, bool)
	Lookup(a, b string) float64
}

// MarkdownOptions controls the Markdown report
type MarkdownOptions struct {
	Title       string
	ValueColumn string
	Threshold   float64
}

// DefaultMarkdownOptions returns the options of the standard bucket report
func DefaultMarkdownOptions() MarkdownOptions {
	return MarkdownOptions{
		Title:       "FX Pair Correlation Buckets",
		ValueColumn: "Daily",
		Threshold:   bucketing.DefaultThreshold,
	}
}

// WriteMarkdown renders one correlation matrix per bucket. Cells of pairs at or
// above the threshold are highlighted in red; pairs without data read N/A.
func WriteMarkdown(w io.Writer, p bucketing.Partition, m Matrix, opts MarkdownOptions) error {
	if opts.Title == "" {
		opts.Title = DefaultMarkdownOptions().Title
	}
	if opts.ValueColumn == "" {
		opts.ValueColumn = DefaultMarkdownOptions().ValueColumn
	}
	if opts.Threshold <= 0 {
		opts.Threshold = bucketing.DefaultThreshold
	}

	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "# %s\n\n", opts.Title)
	fmt.Fprintf(bw, "Pairs grouped into %d buckets to minimize intra-bucket absolute correlation (%s).\n\n",
		len(p), opts.ValueColumn)

	for i, bucket := range p {
		fmt.Fprintf(bw, "## Bucket %d\n\n", i+1)
		fmt.Fprintf(bw, "| | %s |\n", strings.Join(bucket, " | "))
		fmt.Fprintf(bw, "|---%s|\n", strings.Repeat("|---", len(bucket)))

		for _, a := range bucket {
			row := make([]string, 0, len(bucket)+1)
			row = append(row, a)
			for _, b := range bucket {
				row = append(row, matrixCell(m, a, b, opts.Threshold))
			}
			fmt.Fprintf(bw, "| %s |\n", strings.Join(row, " | "))
		}
		bw.WriteString("\n")
	}

	return bw.Flush()
}

func matrixCell(m Matrix, a, b string, threshold float64) string {
	if a == b {
		return "100"
	}
	v, ok := m.Get(a, b)
	if !ok {
		return "N/A"
	}
	if math.Abs(v) >= threshold {
		return fmt.Sprintf(`<span style="color:red">**%s**</span>`, FormatValue(v))
	}
	return FormatValue(v)
}

// FormatValue prints v in its shortest form, keeping one decimal for whole numbers
func FormatValue(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', 1, 64)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
