// Package task defines the task contract (input/output identifiers,
// start/body/end lifecycle, DAG build contribution) and its three concrete
// shapes: ObjectTask, SqlTask, and Group.
package task

import (
	"context"
	"fmt"

	"github.com/jeffrey82221/batchdag/dag"
	"github.com/jeffrey82221/batchdag/errs"
)

// Node is the subset of the task contract a Group needs from any child it
// composes, whether that child is a leaf task or another Group.
type Node interface {
	Name() string
	InputIDs() []string
	OutputIDs() []string
	Build(g *dag.Graph) error
}

// Task is the full contract: a Node plus external-input declaration, the
// three-phase lifecycle, and a description of itself for error enrichment.
type Task interface {
	Node
	ExternalInputIDs() []string
	Start(ctx context.Context, opts map[string]any) error
	Body(ctx context.Context, opts map[string]any) error
	End(ctx context.Context, opts map[string]any) error
	Describe() CallableInfo
}

// OutputDropper is implemented by leaf tasks whose outputs are owned
// artifacts that can be explicitly dropped from their backing storage. Group
// uses it to implement drop_internal_objs without knowing the storage kind.
type OutputDropper interface {
	DropOutput(ctx context.Context, id string) error
}

// CallableInfo describes the callable behind a failing vertex well enough to
// name it in an enriched error, replacing the source framework's practice of
// reading the offending function's source text.
type CallableInfo struct {
	Kind      string
	TaskName  string
	InputIDs  []string
	OutputIDs []string
}

func (c CallableInfo) String() string {
	return fmt.Sprintf("%s(task=%q, inputs=%v, outputs=%v)", c.Kind, c.TaskName, c.InputIDs, c.OutputIDs)
}

// Base implements the shared part of the Task contract: identifier lists and
// their invariants. Concrete task shapes embed it.
type Base struct {
	name             string
	inputIDs         []string
	outputIDs        []string
	externalInputIDs []string
}

// NewBase validates the identifier-list invariants from the data model (no
// duplicates, input/output disjoint, external ids a subset of input ids) and
// returns a Base, or a ContractViolation describing the first violation.
func NewBase(name string, inputIDs, outputIDs, externalInputIDs []string) (Base, error) {
	if dup := firstDuplicate(inputIDs); dup != "" {
		return Base{}, errs.New(errs.ContractViolation, fmt.Sprintf("task %q: duplicate input id %q", name, dup))
	}
	if dup := firstDuplicate(outputIDs); dup != "" {
		return Base{}, errs.New(errs.ContractViolation, fmt.Sprintf("task %q: duplicate output id %q", name, dup))
	}
	inputSet := toSet(inputIDs)
	for _, id := range outputIDs {
		if _, ok := inputSet[id]; ok {
			return Base{}, errs.New(errs.ContractViolation, fmt.Sprintf("task %q: id %q declared as both input and output", name, id))
		}
	}
	for _, id := range externalInputIDs {
		if _, ok := inputSet[id]; !ok {
			return Base{}, errs.New(errs.ContractViolation, fmt.Sprintf("task %q: external input %q is not one of input_ids", name, id))
		}
	}
	return Base{
		name:             name,
		inputIDs:         append([]string(nil), inputIDs...),
		outputIDs:        append([]string(nil), outputIDs...),
		externalInputIDs: append([]string(nil), externalInputIDs...),
	}, nil
}

func (b Base) Name() string               { return b.name }
func (b Base) InputIDs() []string          { return b.inputIDs }
func (b Base) OutputIDs() []string         { return b.outputIDs }
func (b Base) ExternalInputIDs() []string  { return b.externalInputIDs }

func firstDuplicate(ss []string) string {
	seen := make(map[string]struct{}, len(ss))
	for _, s := range ss {
		if _, ok := seen[s]; ok {
			return s
		}
		seen[s] = struct{}{}
	}
	return ""
}

func toSet(ss []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ss))
	for _, s := range ss {
		set[s] = struct{}{}
	}
	return set
}

// BuildStandard adds the task vertex and its input/output edges per the 4.1
// build algorithm: the task itself, each input id (created if absent, since
// external inputs may have no producer in this graph), an edge from each
// input to the task, each output id, and an edge from the task to each
// output.
func BuildStandard(g *dag.Graph, name string, r dag.Runnable, inputIDs, outputIDs []string) error {
	g.AddTask(name, r)
	for _, id := range inputIDs {
		if err := g.AddEdge(id, name); err != nil {
			return errs.Wrap(errs.BuildError, fmt.Sprintf("task %q: wiring input %q", name, id), err)
		}
	}
	for _, id := range outputIDs {
		if err := g.AddEdge(name, id); err != nil {
			return errs.Wrap(errs.BuildError, fmt.Sprintf("task %q: wiring output %q", name, id), err)
		}
	}
	return nil
}

// Execute runs a task's start -> body -> end lifecycle. End does not run if
// body fails (spec.md's Open Question resolved in favour of no implicit
// finally semantics). Errors from body/end are wrapped with CallableInfo
// when they are UserError or BackendError, so the executor need not inspect
// task internals to enrich them.
func Execute(ctx context.Context, t Task, opts map[string]any) error {
	if err := t.Start(ctx, opts); err != nil {
		return enrich(t, "start", err)
	}
	if err := t.Body(ctx, opts); err != nil {
		return enrich(t, "body", err)
	}
	if err := t.End(ctx, opts); err != nil {
		return enrich(t, "end", err)
	}
	return nil
}

func enrich(t Task, phase string, err error) error {
	if errs.Is(err, errs.UserError) || errs.Is(err, errs.BackendError) {
		return fmt.Errorf("%s in %s phase: %w", t.Describe(), phase, err)
	}
	return err
}

// asUserError wraps err as a UserError unless it is already a classified
// framework error (ContractViolation, BuildError, BackendError, Cancelled),
// preserving the original kind in that case.
func asUserError(message string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*errs.Error); ok {
		return err
	}
	if _, ok := err.(*errs.BackendErr); ok {
		return err
	}
	return errs.Wrap(errs.UserError, message, err)
}

// runnableTask adapts a Task to dag.Runnable by delegating to Execute.
type runnableTask struct {
	t Task
}

func (r runnableTask) VertexName() string { return r.t.Name() }

func (r runnableTask) Run(ctx context.Context, opts map[string]any) error {
	return Execute(ctx, r.t, opts)
}

// AsRunnable adapts t to dag.Runnable for registration as a DAG task vertex.
func AsRunnable(t Task) dag.Runnable { return runnableTask{t: t} }
