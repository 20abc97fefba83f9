package task

import (
	"context"
	"fmt"

	"github.com/jeffrey82221/batchdag/dag"
	"github.com/jeffrey82221/batchdag/errs"
	"github.com/jeffrey82221/batchdag/executor"
	"github.com/jeffrey82221/batchdag/logging"
)

// Group composes an ordered list of children (tasks or nested groups) into
// a sub-DAG bracketed by synthesised start/end sentinels. Unlike Task,
// Group's own execute bypasses the start/end lifecycle wrapper: start and
// end become ordinary sentinel vertices the executor invokes directly.
type Group struct {
	name             string
	children         []Node
	inputIDs         []string
	outputIDs        []string
	externalInputIDs []string

	StartFn func(ctx context.Context, opts map[string]any) error
	EndFn   func(ctx context.Context, opts map[string]any) error

	owners map[string]OutputDropper
}

// NewGroup validates the same identifier invariants as a leaf task (the
// group's own declared input/output ids are themselves subject to the data
// model's invariants) and returns an empty-children Group; call AddChild to
// populate it before Build.
func NewGroup(name string, inputIDs, outputIDs, externalInputIDs []string) (*Group, error) {
	if _, err := NewBase(name, inputIDs, outputIDs, externalInputIDs); err != nil {
		return nil, err
	}
	return &Group{
		name:             name,
		inputIDs:         append([]string(nil), inputIDs...),
		outputIDs:        append([]string(nil), outputIDs...),
		externalInputIDs: append([]string(nil), externalInputIDs...),
	}, nil
}

// AddChild appends a task or nested group to the group, in execution order.
func (gr *Group) AddChild(n Node) {
	gr.children = append(gr.children, n)
}

// Execute builds a fresh DAG from this group and runs it to completion —
// the top-level entry point: "the user constructs a top-level Group, calls
// execute(options)".
func (gr *Group) Execute(ctx context.Context, opts executor.Options) error {
	g := dag.New()
	if err := gr.Build(g); err != nil {
		return err
	}
	return executor.Run(ctx, g, opts)
}

func (gr *Group) Name() string              { return gr.name }
func (gr *Group) InputIDs() []string        { return gr.inputIDs }
func (gr *Group) OutputIDs() []string       { return gr.outputIDs }
func (gr *Group) ExternalInputIDs() []string { return gr.externalInputIDs }

func (gr *Group) startKey() string { return gr.name + ".start" }
func (gr *Group) endKey() string   { return gr.name + ".end" }

// Build wires group.start -> declared inputs, builds every child (failing
// the group build with the offending child's name on any child failure),
// verifies every declared output id landed in the graph, and wires declared
// outputs -> group.end.
func (gr *Group) Build(g *dag.Graph) error {
	g.AddSentinel(gr.startKey(), groupSentinel{name: gr.startKey(), fn: gr.runStart})
	g.AddSentinel(gr.endKey(), groupSentinel{name: gr.endKey(), fn: gr.runEnd})

	for _, id := range gr.inputIDs {
		if err := g.AddEdge(gr.startKey(), id); err != nil {
			return errs.Wrap(errs.BuildError, fmt.Sprintf("group %q: wiring input %q", gr.name, id), err)
		}
	}

	gr.owners = make(map[string]OutputDropper)
	for _, child := range gr.children {
		if err := child.Build(g); err != nil {
			return errs.Wrap(errs.BuildError, fmt.Sprintf("group %q: building child %q failed", gr.name, child.Name()), err)
		}
		gr.collectOwners(child)
	}

	for _, id := range gr.outputIDs {
		if !g.HasVertex(id) {
			return errs.New(errs.BuildError, fmt.Sprintf("group %q: declared output %q was not produced by any child", gr.name, id))
		}
		if err := g.AddEdge(id, gr.endKey()); err != nil {
			return errs.Wrap(errs.BuildError, fmt.Sprintf("group %q: wiring output %q", gr.name, id), err)
		}
	}
	return nil
}

// collectOwners records, for every output id a child (or its own
// descendants) produces, which OutputDropper can drop it.
func (gr *Group) collectOwners(child Node) {
	type ownerSource interface{ Owners() map[string]OutputDropper }
	if nested, ok := child.(ownerSource); ok {
		for id, owner := range nested.Owners() {
			gr.owners[id] = owner
		}
	}
	if dropper, ok := child.(OutputDropper); ok {
		for _, id := range child.OutputIDs() {
			gr.owners[id] = dropper
		}
	}
}

// Owners exposes this group's full id -> OutputDropper ownership map so an
// enclosing group can drop this group's internal artifacts transitively.
func (gr *Group) Owners() map[string]OutputDropper {
	return gr.owners
}

// InternalInputs are identifiers consumed by children but not declared as
// this group's own input_ids: produced and consumed entirely within it.
func (gr *Group) InternalInputs() []string {
	declared := toSet(gr.inputIDs)
	seen := map[string]struct{}{}
	var out []string
	for _, child := range gr.children {
		for _, id := range child.InputIDs() {
			if _, isDeclared := declared[id]; isDeclared {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// InternalOutputs are identifiers produced by children but not declared as
// this group's own output_ids.
func (gr *Group) InternalOutputs() []string {
	declared := toSet(gr.outputIDs)
	seen := map[string]struct{}{}
	var out []string
	for _, child := range gr.children {
		for _, id := range child.OutputIDs() {
			if _, isDeclared := declared[id]; isDeclared {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// DropInternalObjs asks each internal input's owning child to drop it,
// ignoring per-identifier failures — housekeeping, not part of the result.
func (gr *Group) DropInternalObjs(ctx context.Context) {
	log := logging.WithGroupID(gr.name)
	for _, id := range gr.InternalInputs() {
		owner, ok := gr.owners[id]
		if !ok {
			continue
		}
		if err := owner.DropOutput(ctx, id); err != nil {
			log.Warn().Err(err).Str("identifier", id).Msg("drop_internal_objs: failed to drop, ignoring")
		}
	}
}

func (gr *Group) runStart(ctx context.Context, opts map[string]any) error {
	if gr.StartFn == nil {
		return nil
	}
	return asUserError(fmt.Sprintf("group %q: start hook", gr.name), gr.StartFn(ctx, opts))
}

func (gr *Group) runEnd(ctx context.Context, opts map[string]any) error {
	var err error
	if gr.EndFn != nil {
		err = asUserError(fmt.Sprintf("group %q: end hook", gr.name), gr.EndFn(ctx, opts))
	}
	gr.DropInternalObjs(ctx)
	return err
}

// groupSentinel adapts a group's start/end hook to dag.Runnable.
type groupSentinel struct {
	name string
	fn   func(ctx context.Context, opts map[string]any) error
}

func (s groupSentinel) VertexName() string { return s.name }
func (s groupSentinel) Run(ctx context.Context, opts map[string]any) error { return s.fn(ctx, opts) }
