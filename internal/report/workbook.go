package report

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/xuri/excelize/v2"

	"fxbuckets/internal/bucketing"
)

const summarySheet = "Summary"

// Workbook builds an XLSX workbook with a summary sheet and one matrix sheet per bucket.
// The caller owns the returned file and must close it.
func Workbook(p bucketing.Partition, m Matrix, threshold float64) (*excelize.File, error) {
	if threshold <= 0 {
		threshold = bucketing.DefaultThreshold
	}

	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), summarySheet); err != nil {
		f.Close()
		return nil, err
	}

	high, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Color: "FF0000"}})
	if err != nil {
		f.Close()
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, err
	}

	if err := writeSummary(f, p, m, threshold, bold); err != nil {
		f.Close()
		return nil, err
	}

	for i, bucket := range p {
		if err := writeBucketSheet(f, fmt.Sprintf("Bucket %d", i+1), bucket, m, threshold, high, bold); err != nil {
			f.Close()
			return nil, err
		}
	}

	f.SetActiveSheet(0)
	return f, nil
}

// WriteWorkbook saves the workbook to path
func WriteWorkbook(path string, p bucketing.Partition, m Matrix, threshold float64) error {
	f, err := Workbook(p, m, threshold)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.SaveAs(path)
}

// WriteWorkbookTo streams the workbook to w
func WriteWorkbookTo(w io.Writer, p bucketing.Partition, m Matrix, threshold float64) error {
	f, err := Workbook(p, m, threshold)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

func writeSummary(f *excelize.File, p bucketing.Partition, m Matrix, threshold float64, bold int) error {
	header := []interface{}{"Bucket", "Items", "Size", "High pairs", "Sum |corr|"}
	if err := f.SetSheetRow(summarySheet, "A1", &header); err != nil {
		return err
	}
	if err := f.SetCellStyle(summarySheet, "A1", "E1", bold); err != nil {
		return err
	}

	score := bucketing.NewScorer(threshold).Score(p, m)
	for i, bucket := range p {
		sum := 0.0
		for a := 0; a < len(bucket); a++ {
			for b := a + 1; b < len(bucket); b++ {
				sum += math.Abs(m.Lookup(bucket[a], bucket[b]))
			}
		}
		row := []interface{}{i + 1, strings.Join(bucket, ", "), len(bucket), score.BucketHighCounts[i], sum}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return err
		}
	}

	totals := []interface{}{"Score", score.Value, "High pairs", score.HighCount, score.SumAbs}
	cell, err := excelize.CoordinatesToCellName(1, len(p)+3)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(summarySheet, cell, &totals); err != nil {
		return err
	}
	return f.SetColWidth(summarySheet, "B", "B", 60)
}

func writeBucketSheet(f *excelize.File, sheet string, bucket []string, m Matrix, threshold float64, high, bold int) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	header := make([]interface{}, 0, len(bucket)+1)
	header = append(header, "")
	for _, item := range bucket {
		header = append(header, item)
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}

	for r, a := range bucket {
		rowNum := r + 2
		if err := f.SetCellValue(sheet, fmt.Sprintf("A%d", rowNum), a); err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, fmt.Sprintf("A%d", rowNum), fmt.Sprintf("A%d", rowNum), bold); err != nil {
			return err
		}

		for c, b := range bucket {
			cell, err := excelize.CoordinatesToCellName(c+2, rowNum)
			if err != nil {
				return err
			}

			if a == b {
				if err := f.SetCellValue(sheet, cell, 100); err != nil {
					return err
				}
				continue
			}
			v, ok := m.Get(a, b)
			if !ok {
				if err := f.SetCellValue(sheet, cell, "N/A"); err != nil {
					return err
				}
				continue
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
			if math.Abs(v) >= threshold {
				if err := f.SetCellStyle(sheet, cell, cell, high); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
