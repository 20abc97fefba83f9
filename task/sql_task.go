package task

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/jeffrey82221/batchdag/backend"
	"github.com/jeffrey82221/batchdag/dag"
	"github.com/jeffrey82221/batchdag/errs"
)

// SqlTask is the task shape whose body is a map of output identifier to
// SELECT text, executed against an RDB. InputTables/OutputTables are
// optional: when set they move data between a FileSystem-backed table
// storage and the RDB (register on the way in, upload on the way out);
// when OutputTables is nil, results are materialised as tables inside the
// RDB itself.
type SqlTask struct {
	Base

	RDB          backend.RDB
	InputTables  backend.ObjectStorage[arrow.Table] // nil: no input registration
	OutputTables backend.ObjectStorage[arrow.Table] // nil: materialise inside RDB

	// Sqls returns, for this execution, the SELECT text for each output id.
	// Its key set must equal OutputIDs exactly.
	Sqls func(opts map[string]any) (map[string]string, error)

	StartFn func(ctx context.Context, opts map[string]any) error
	EndFn   func(ctx context.Context, opts map[string]any) error
}

// NewSqlTask validates the base contract plus the '.'-free identifier
// constraint reserved for MapReduce partition suffixes.
func NewSqlTask(
	name string,
	inputIDs, outputIDs, externalInputIDs []string,
	rdb backend.RDB,
	inputTables, outputTables backend.ObjectStorage[arrow.Table],
	sqls func(opts map[string]any) (map[string]string, error),
) (*SqlTask, error) {
	base, err := NewBase(name, inputIDs, outputIDs, externalInputIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range append(append([]string{}, inputIDs...), outputIDs...) {
		if strings.Contains(id, ".") {
			return nil, errs.New(errs.ContractViolation, fmt.Sprintf("task %q: identifier %q must not contain '.'", name, id))
		}
	}
	return &SqlTask{
		Base:         base,
		RDB:          rdb,
		InputTables:  inputTables,
		OutputTables: outputTables,
		Sqls:         sqls,
	}, nil
}

func (t *SqlTask) Build(g *dag.Graph) error {
	return BuildStandard(g, t.Name(), AsRunnable(t), t.InputIDs(), t.OutputIDs())
}

func (t *SqlTask) Start(ctx context.Context, opts map[string]any) error {
	if t.StartFn == nil {
		return nil
	}
	return asUserError(fmt.Sprintf("task %q: start hook", t.Name()), t.StartFn(ctx, opts))
}

func (t *SqlTask) End(ctx context.Context, opts map[string]any) error {
	if t.EndFn == nil {
		return nil
	}
	return asUserError(fmt.Sprintf("task %q: end hook", t.Name()), t.EndFn(ctx, opts))
}

// Body implements the 4.3 algorithm: optionally register inputs, validate
// the sqls() key set against OutputIDs exactly, then execute one statement
// per output id in OutputIDs order, closing each statement's own cursor on
// every exit path. RDB is a shared connection the task does not own — it may
// be handed to several SqlTasks in the same build (MapReduce does exactly
// this for AddPartitionKey/Divide/Merge), so Body never closes it; whoever
// constructed the RDB is responsible for closing it once, after every task
// sharing it has finished.
func (t *SqlTask) Body(ctx context.Context, opts map[string]any) error {
	if t.InputTables != nil {
		for _, id := range t.InputIDs() {
			exists, err := t.InputTables.CheckExists(ctx, id)
			if err != nil {
				return err
			}
			if !exists {
				return errs.NewBackendError(errs.NotFoundError, fmt.Sprintf("task %q: input %q not found", t.Name(), id), nil)
			}
			table, err := t.InputTables.Download(ctx, id)
			if err != nil {
				return err
			}
			if err := t.RDB.Register(ctx, id, table); err != nil {
				return err
			}
		}
	}

	sqls, err := t.Sqls(opts)
	if err != nil {
		return asUserError(fmt.Sprintf("task %q: sqls", t.Name()), err)
	}
	if err := validateSqlKeys(t.Name(), sqls, t.OutputIDs()); err != nil {
		return err
	}

	for _, id := range t.OutputIDs() {
		sqlText := sqls[id]
		if t.OutputTables != nil {
			cur, err := t.RDB.Execute(ctx, fmt.Sprintf("SELECT * FROM (%s)", sqlText))
			if err != nil {
				return err
			}
			table, err := cur.Arrow(ctx)
			cur.Close()
			if err != nil {
				return err
			}
			if err := t.OutputTables.Upload(ctx, id, table); err != nil {
				return err
			}
		} else {
			stmt := fmt.Sprintf("CREATE TABLE %s AS (%s)", backend.QuoteIdentifier(id), sqlText)
			cur, err := t.RDB.Execute(ctx, stmt)
			if err != nil {
				return err
			}
			cur.Close()
		}
	}
	return nil
}

func validateSqlKeys(taskName string, sqls map[string]string, outputIDs []string) error {
	want := toSet(outputIDs)
	got := make(map[string]struct{}, len(sqls))
	for k := range sqls {
		got[k] = struct{}{}
	}
	if len(want) != len(got) {
		return errs.New(errs.ContractViolation, fmt.Sprintf(
			"task %q: sqls() returned %d keys, want %d output ids", taskName, len(got), len(want)))
	}
	missing := make([]string, 0)
	for id := range want {
		if _, ok := got[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return errs.New(errs.ContractViolation, fmt.Sprintf(
			"task %q: sqls() missing keys for output ids %v", taskName, missing))
	}
	extra := make([]string, 0)
	for id := range got {
		if _, ok := want[id]; !ok {
			extra = append(extra, id)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return errs.New(errs.ContractViolation, fmt.Sprintf(
			"task %q: sqls() has keys not in output ids: %v", taskName, extra))
	}
	return nil
}

// DropOutput implements OutputDropper, dropping a materialised output
// either from OutputTables or, when the result lives only inside the RDB,
// by dropping the table.
func (t *SqlTask) DropOutput(ctx context.Context, id string) error {
	if t.OutputTables != nil {
		return t.OutputTables.Drop(ctx, id)
	}
	_, err := t.RDB.Execute(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", backend.QuoteIdentifier(id)))
	return err
}

func (t *SqlTask) Describe() CallableInfo {
	return CallableInfo{
		Kind:      "SqlTask.sqls",
		TaskName:  t.Name(),
		InputIDs:  t.InputIDs(),
		OutputIDs: t.OutputIDs(),
	}
}
