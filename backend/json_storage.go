package backend

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jeffrey82221/batchdag/errs"
)

// JSONStorage is an ObjectStorage[T] over a FileSystem, encoding each value
// as a ".json" file keyed by id + ".json". T is typically a struct or a
// plain map/slice — anything encoding/json can round-trip.
type JSONStorage[T any] struct {
	FS FileSystem
}

func NewJSONStorage[T any](fs FileSystem) *JSONStorage[T] {
	return &JSONStorage[T]{FS: fs}
}

func (s *JSONStorage[T]) key(id string) string { return id + ".json" }

func (s *JSONStorage[T]) Upload(ctx context.Context, id string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errs.Wrap(errs.ContractViolation, fmt.Sprintf("marshalling %q", id), err)
	}
	return s.FS.Upload(ctx, s.key(id), data)
}

func (s *JSONStorage[T]) Download(ctx context.Context, id string) (T, error) {
	var out T
	data, err := s.FS.Download(ctx, s.key(id))
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, errs.Wrap(errs.ContractViolation, fmt.Sprintf("unmarshalling %q", id), err)
	}
	return out, nil
}

func (s *JSONStorage[T]) CheckExists(ctx context.Context, id string) (bool, error) {
	return s.FS.CheckExists(ctx, s.key(id))
}

func (s *JSONStorage[T]) Drop(ctx context.Context, id string) error {
	return s.FS.Drop(ctx, s.key(id))
}
