// Package report renders a bucket partition for people and spreadsheets:
// a Markdown correlation matrix per bucket, a per-item CSV assignment and an
// XLSX workbook.
package report
