// Package mapreduce implements the MapReduce decorator: it wraps a
// tabular ObjectTask into a partitioned fan-out/fan-in Group — a
// row-number partition key, N-way divide, N clones, and a concatenating
// merge — without the inner task ever knowing it was partitioned.
package mapreduce

import (
	"context"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/google/uuid"

	"github.com/jeffrey82221/batchdag/backend"
	"github.com/jeffrey82221/batchdag/errs"
	"github.com/jeffrey82221/batchdag/task"
)

// New wraps inner into a Group that partitions its inputs into partitions
// shards, runs partitions clones of inner concurrently, and merges their
// outputs back under inner's own output identifiers. Both the inner task's
// input and output element types are fixed to arrow.Table: partitioning is
// a row-level operation and arrow.Table is the framework's columnar value
// type (see DESIGN.md).
//
// scratch holds the intermediate "full" and per-partition tables; they are
// dropped by the returned Group's end sentinel via drop_internal_objs.
func New(
	inner *task.ObjectTask[arrow.Table, arrow.Table],
	partitions int,
	rdb backend.RDB,
	scratch backend.FileSystem,
	exposeInputsExternal bool,
) (*task.Group, error) {
	if partitions < 1 {
		return nil, errs.New(errs.ContractViolation, fmt.Sprintf(
			"mapreduce %q: partitions must be >= 1, got %d", inner.Name(), partitions))
	}

	scratchTables := backend.NewTableFileStorage(scratch)
	groupName := inner.Name() + "_mapreduce"

	externalIDs := []string(nil)
	if exposeInputsExternal {
		externalIDs = append(externalIDs, inner.InputIDs()...)
	}
	group, err := task.NewGroup(groupName, inner.InputIDs(), inner.OutputIDs(), externalIDs)
	if err != nil {
		return nil, err
	}

	addPartitionKey, err := buildAddPartitionKey(inner, partitions, rdb, scratchTables)
	if err != nil {
		return nil, err
	}
	group.AddChild(addPartitionKey)

	for _, id := range inner.InputIDs() {
		divide, err := buildDivide(inner, id, partitions, rdb, scratchTables)
		if err != nil {
			return nil, err
		}
		group.AddChild(divide)
	}

	for k := 0; k < partitions; k++ {
		clone, err := buildClone(inner, k, scratchTables)
		if err != nil {
			return nil, err
		}
		group.AddChild(clone)
	}

	for _, id := range inner.OutputIDs() {
		merge, err := buildMerge(inner, id, partitions, rdb, scratchTables)
		if err != nil {
			return nil, err
		}
		group.AddChild(merge)
	}

	return group, nil
}

func fullName(inner *task.ObjectTask[arrow.Table, arrow.Table], id string) string {
	return fmt.Sprintf("%s_%s_full", inner.Name(), id)
}

func partName(inner *task.ObjectTask[arrow.Table, arrow.Table], id string, k int) string {
	return fmt.Sprintf("%s_%s_%d", inner.Name(), id, k)
}

// buildAddPartitionKey produces one "full" table per input identifier: the
// input plus row_id (a zero-based row_number) and partition = row_id mod P.
func buildAddPartitionKey(
	inner *task.ObjectTask[arrow.Table, arrow.Table],
	partitions int,
	rdb backend.RDB,
	scratchTables backend.ObjectStorage[arrow.Table],
) (*task.SqlTask, error) {
	outputIDs := make([]string, len(inner.InputIDs()))
	for i, id := range inner.InputIDs() {
		outputIDs[i] = fullName(inner, id)
	}

	sqls := func(opts map[string]any) (map[string]string, error) {
		out := make(map[string]string, len(inner.InputIDs()))
		for _, id := range inner.InputIDs() {
			out[fullName(inner, id)] = fmt.Sprintf(
				`SELECT *, (ROW_NUMBER() OVER () - 1) AS row_id, MOD(ROW_NUMBER() OVER () - 1, %d) AS partition FROM %s`,
				partitions, backend.QuoteIdentifier(id))
		}
		return out, nil
	}

	return task.NewSqlTask(
		inner.Name()+".add_partition_key",
		inner.InputIDs(), outputIDs, nil,
		rdb, inner.InputStorage, scratchTables,
		sqls,
	)
}

// buildDivide reads the "full" table for one input identifier and emits one
// sub-table per partition, excluding the synthetic row_id/partition columns.
// Its End hook enforces that every partition is non-empty per the
// empty-partitions-are-fatal invariant.
func buildDivide(
	inner *task.ObjectTask[arrow.Table, arrow.Table],
	id string,
	partitions int,
	rdb backend.RDB,
	scratchTables backend.ObjectStorage[arrow.Table],
) (*task.SqlTask, error) {
	outputIDs := make([]string, partitions)
	for k := 0; k < partitions; k++ {
		outputIDs[k] = partName(inner, id, k)
	}

	sqls := func(opts map[string]any) (map[string]string, error) {
		out := make(map[string]string, partitions)
		for k := 0; k < partitions; k++ {
			out[partName(inner, id, k)] = fmt.Sprintf(
				`SELECT * EXCLUDE (row_id, partition) FROM %s WHERE partition = %d`,
				backend.QuoteIdentifier(fullName(inner, id)), k)
		}
		return out, nil
	}

	divide, err := task.NewSqlTask(
		fmt.Sprintf("%s.divide_%s", inner.Name(), id),
		[]string{fullName(inner, id)}, outputIDs, nil,
		rdb, scratchTables, scratchTables,
		sqls,
	)
	if err != nil {
		return nil, err
	}
	divide.EndFn = requireNonEmpty(outputIDs, scratchTables)
	return divide, nil
}

func requireNonEmpty(ids []string, storage backend.ObjectStorage[arrow.Table]) func(ctx context.Context, opts map[string]any) error {
	return func(ctx context.Context, opts map[string]any) error {
		for _, id := range ids {
			table, err := storage.Download(ctx, id)
			if err != nil {
				return err
			}
			if table.NumRows() == 0 {
				return errs.New(errs.ContractViolation, fmt.Sprintf("mapreduce: partition %q is empty", id))
			}
		}
		return nil
	}
}

// buildClone returns the k-th concrete partition clone of inner: a distinct
// ObjectTask value reading/writing only partition k's keys, carrying the
// same Transform by reference. A concrete value per clone (rather than a
// closure captured over a loop variable) replaces the source framework's
// dynamic closure-capture trick per SPEC_FULL.md's Design Notes resolution.
func buildClone(inner *task.ObjectTask[arrow.Table, arrow.Table], k int, scratchTables backend.ObjectStorage[arrow.Table]) (*task.ObjectTask[arrow.Table, arrow.Table], error) {
	cloneInputIDs := make([]string, len(inner.InputIDs()))
	for i, id := range inner.InputIDs() {
		cloneInputIDs[i] = partName(inner, id, k)
	}
	cloneOutputIDs := make([]string, len(inner.OutputIDs()))
	for i, id := range inner.OutputIDs() {
		cloneOutputIDs[i] = partName(inner, id, k)
	}

	partition := k
	transform := func(ctx context.Context, inputs []arrow.Table, opts map[string]any) ([]arrow.Table, error) {
		outputs, err := inner.Transform(ctx, inputs, opts)
		if err != nil {
			return nil, fmt.Errorf("partition %d: %w", partition, err)
		}
		return outputs, nil
	}

	return task.NewObjectTask(
		fmt.Sprintf("%s_clone_%d_%s", inner.Name(), k, uuid.NewString()[:8]),
		cloneInputIDs, cloneOutputIDs, nil,
		scratchTables, scratchTables,
		transform, nil,
	)
}

// buildMerge concatenates the P partition tables for one output identifier,
// in partition order, into the inner task's own output storage.
func buildMerge(
	inner *task.ObjectTask[arrow.Table, arrow.Table],
	id string,
	partitions int,
	rdb backend.RDB,
	scratchTables backend.ObjectStorage[arrow.Table],
) (*task.SqlTask, error) {
	inputIDs := make([]string, partitions)
	selects := make([]string, partitions)
	for k := 0; k < partitions; k++ {
		inputIDs[k] = partName(inner, id, k)
		selects[k] = fmt.Sprintf("SELECT * FROM %s", backend.QuoteIdentifier(partName(inner, id, k)))
	}

	sqls := func(opts map[string]any) (map[string]string, error) {
		return map[string]string{id: strings.Join(selects, " UNION ALL ")}, nil
	}

	return task.NewSqlTask(
		fmt.Sprintf("%s.merge_%s", inner.Name(), id),
		inputIDs, []string{id}, nil,
		rdb, scratchTables, inner.OutputStorage,
		sqls,
	)
}
