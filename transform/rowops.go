// Package transform is a small library of row-oriented DataFrame operators —
// map, filter, flatMap, reduceByKey, and a hash join — meant to be called
// from inside an ObjectTask's Transform function. Each operator takes and
// returns backend.DataFrame rather than opening files itself, so the same
// logic works whether the frame came from FileSystem-backed JSON storage or
// was decoded from a parquet table upstream.
package transform

import "github.com/jeffrey82221/batchdag/backend"

// Map applies fn to every row of df and returns the transformed frame. The
// output column set is whatever fn returns for the first row; fn is expected
// to return the same set of columns for every row.
func Map(df backend.DataFrame, fn func(row map[string]any) map[string]any) backend.DataFrame {
	out := backend.DataFrame{Rows: make([]map[string]any, 0, len(df.Rows))}
	for i, row := range df.Rows {
		mapped := fn(row)
		if i == 0 {
			out.Columns = columnsOf(mapped)
		}
		out.Rows = append(out.Rows, mapped)
	}
	if out.Columns == nil {
		out.Columns = df.Columns
	}
	return out
}

// Filter keeps only the rows for which pred returns true. Column order is
// preserved from df.
func Filter(df backend.DataFrame, pred func(row map[string]any) bool) backend.DataFrame {
	out := backend.DataFrame{Columns: df.Columns, Rows: make([]map[string]any, 0, len(df.Rows))}
	for _, row := range df.Rows {
		if pred(row) {
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}

// FlatMap applies fn to every row, flattening the zero-or-more rows it
// returns into the output frame. Used for tokenization-style expansions
// where one input row fans out into many output rows.
func FlatMap(df backend.DataFrame, fn func(row map[string]any) []map[string]any) backend.DataFrame {
	out := backend.DataFrame{Rows: make([]map[string]any, 0, len(df.Rows))}
	for _, row := range df.Rows {
		for _, produced := range fn(row) {
			if out.Columns == nil {
				out.Columns = columnsOf(produced)
			}
			out.Rows = append(out.Rows, produced)
		}
	}
	return out
}

// ReduceByKey groups df's rows by the value of keyCol and folds valCol
// through reduce, seeded with zero. The result has two columns, keyCol and
// valCol, one row per distinct key.
func ReduceByKey(df backend.DataFrame, keyCol, valCol string, zero any, reduce func(acc, val any) any) backend.DataFrame {
	order := make([]any, 0)
	acc := make(map[any]any)
	for _, row := range df.Rows {
		key := row[keyCol]
		cur, seen := acc[key]
		if !seen {
			cur = zero
			order = append(order, key)
		}
		acc[key] = reduce(cur, row[valCol])
	}
	out := backend.DataFrame{Columns: []string{keyCol, valCol}, Rows: make([]map[string]any, 0, len(order))}
	for _, key := range order {
		out.Rows = append(out.Rows, map[string]any{keyCol: key, valCol: acc[key]})
	}
	return out
}

// Join performs an inner hash join of left and right on leftKey/rightKey:
// left is built into a lookup table keyed by leftKey, then right is probed
// row by row. Matching rows are merged into a single map, with right's
// fields taking precedence over left's on a name collision.
func Join(left, right backend.DataFrame, leftKey, rightKey string) backend.DataFrame {
	index := make(map[any][]map[string]any, len(left.Rows))
	for _, row := range left.Rows {
		k := row[leftKey]
		index[k] = append(index[k], row)
	}

	out := backend.DataFrame{Rows: make([]map[string]any, 0)}
	for _, rrow := range right.Rows {
		matches, ok := index[rrow[rightKey]]
		if !ok {
			continue
		}
		for _, lrow := range matches {
			merged := make(map[string]any, len(lrow)+len(rrow))
			for k, v := range lrow {
				merged[k] = v
			}
			for k, v := range rrow {
				merged[k] = v
			}
			if out.Columns == nil {
				out.Columns = columnsOf(merged)
			}
			out.Rows = append(out.Rows, merged)
		}
	}
	return out
}

func columnsOf(row map[string]any) []string {
	cols := make([]string, 0, len(row))
	for k := range row {
		cols = append(cols, k)
	}
	return cols
}
