package transform

import (
	"context"
	"strings"
	"testing"

	"github.com/jeffrey82221/batchdag/backend"
	"github.com/jeffrey82221/batchdag/task"
)

func frame(cols []string, rows ...map[string]any) backend.DataFrame {
	return backend.DataFrame{Columns: cols, Rows: rows}
}

func TestMapAppliesRowFunction(t *testing.T) {
	in := frame([]string{"word"},
		map[string]any{"word": "Hello"},
		map[string]any{"word": "World"},
	)
	out := Map(in, func(row map[string]any) map[string]any {
		return map[string]any{"word": strings.ToLower(row["word"].(string))}
	})
	if out.Rows[0]["word"] != "hello" || out.Rows[1]["word"] != "world" {
		t.Fatalf("unexpected rows: %+v", out.Rows)
	}
}

func TestFilterKeepsMatchingRows(t *testing.T) {
	in := frame([]string{"n"},
		map[string]any{"n": 1},
		map[string]any{"n": 2},
		map[string]any{"n": 3},
	)
	out := Filter(in, func(row map[string]any) bool { return row["n"].(int) > 1 })
	if len(out.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(out.Rows))
	}
}

func TestFlatMapExpandsRows(t *testing.T) {
	in := frame([]string{"line"}, map[string]any{"line": "go is fun"})
	out := FlatMap(in, func(row map[string]any) []map[string]any {
		words := strings.Fields(row["line"].(string))
		produced := make([]map[string]any, len(words))
		for i, w := range words {
			produced[i] = map[string]any{"word": w}
		}
		return produced
	})
	if len(out.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(out.Rows))
	}
}

func TestReduceByKeyCountsOccurrences(t *testing.T) {
	in := frame([]string{"word", "n"},
		map[string]any{"word": "go", "n": 1},
		map[string]any{"word": "go", "n": 1},
		map[string]any{"word": "rust", "n": 1},
	)
	out := ReduceByKey(in, "word", "n", 0, func(acc, val any) any {
		return acc.(int) + val.(int)
	})
	counts := map[string]int{}
	for _, row := range out.Rows {
		counts[row["word"].(string)] = row["n"].(int)
	}
	if counts["go"] != 2 || counts["rust"] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestJoinMatchesOnKey(t *testing.T) {
	left := frame([]string{"id", "name"},
		map[string]any{"id": 1, "name": "alice"},
		map[string]any{"id": 2, "name": "bob"},
	)
	right := frame([]string{"id", "score"},
		map[string]any{"id": 1, "score": 90},
		map[string]any{"id": 3, "score": 10},
	)
	out := Join(left, right, "id", "id")
	if len(out.Rows) != 1 {
		t.Fatalf("expected 1 matching row, got %d", len(out.Rows))
	}
	if out.Rows[0]["name"] != "alice" || out.Rows[0]["score"] != 90 {
		t.Fatalf("unexpected merged row: %+v", out.Rows[0])
	}
}

// dataFrameStorage is an in-memory ObjectStorage[backend.DataFrame] test
// double, the DataFrame analogue of task.memStorage.
type dataFrameStorage struct {
	values map[string]backend.DataFrame
}

func newDataFrameStorage() *dataFrameStorage {
	return &dataFrameStorage{values: map[string]backend.DataFrame{}}
}

func (s *dataFrameStorage) Upload(ctx context.Context, id string, df backend.DataFrame) error {
	s.values[id] = df
	return nil
}

func (s *dataFrameStorage) Download(ctx context.Context, id string) (backend.DataFrame, error) {
	return s.values[id], nil
}

func (s *dataFrameStorage) CheckExists(ctx context.Context, id string) (bool, error) {
	_, ok := s.values[id]
	return ok, nil
}

func (s *dataFrameStorage) Drop(ctx context.Context, id string) error {
	delete(s.values, id)
	return nil
}

// TestObjectTaskUsesRowOperators wires Filter+Map+ReduceByKey into an
// ObjectTask's Transform, the shape a word-count pipeline's task body takes.
func TestObjectTaskUsesRowOperators(t *testing.T) {
	storage := newDataFrameStorage()
	storage.values["lines"] = frame([]string{"word"},
		map[string]any{"word": "go"},
		map[string]any{"word": "a"},
		map[string]any{"word": "go"},
		map[string]any{"word": "rust"},
	)

	wordCount := func(ctx context.Context, inputs []backend.DataFrame, opts map[string]any) ([]backend.DataFrame, error) {
		longWords := Filter(inputs[0], func(row map[string]any) bool { return len(row["word"].(string)) > 1 })
		withCounts := Map(longWords, func(row map[string]any) map[string]any {
			return map[string]any{"word": row["word"], "n": 1}
		})
		return []backend.DataFrame{ReduceByKey(withCounts, "word", "n", 0, func(acc, val any) any {
			return acc.(int) + val.(int)
		})}, nil
	}

	counter, err := task.NewObjectTask("counter", []string{"lines"}, []string{"counts"}, nil, storage, storage, wordCount, nil)
	if err != nil {
		t.Fatalf("NewObjectTask: %v", err)
	}
	if err := counter.Body(context.Background(), nil); err != nil {
		t.Fatalf("Body: %v", err)
	}

	got := storage.values["counts"]
	counts := map[string]int{}
	for _, row := range got.Rows {
		counts[row["word"].(string)] = row["n"].(int)
	}
	if counts["go"] != 2 || counts["rust"] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
	if _, ok := counts["a"]; ok {
		t.Fatalf("expected short word to be filtered out, got %v", counts)
	}
}
