package backend

// DataFrame is a row-oriented view of a tabular result, the Go analogue of
// the original framework's cursor.df(). No dataframe library appears in the
// retrieval pack (dataframe-library choice is an explicit Non-goal per
// spec.md §1), so this is a deliberately minimal stdlib type: callers that
// want the richer representation use Cursor.Arrow() instead, which is backed
// by arrow-go (see DESIGN.md for the justification).
type DataFrame struct {
	Columns []string
	Rows    []map[string]any
}

// Len returns the number of rows.
func (df DataFrame) Len() int { return len(df.Rows) }
