// Package correlation loads pairwise correlation tables and serves them as a
// symmetric in-memory Index.
//
// Tables are CSV or XLSX exports in which a header row names the two pair
// columns (pair1, pair2 by default); everything above the header is ignored
// and a single value column is chosen at load time. Rows that cannot be used
// are skipped and counted, never fatal. Pairs that were never loaded read as
// MissingValue (100), the maximal correlation.
package correlation
