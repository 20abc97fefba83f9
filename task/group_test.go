package task

import (
	"context"
	"strings"
	"testing"

	"github.com/jeffrey82221/batchdag/dag"
	"github.com/jeffrey82221/batchdag/errs"
)

// TestTaskBuildRegistersFloatingInputs implements S2: building a task with
// no producer for its inputs still yields identifier vertices and the
// expected edges; a missing producer is only an error at the Group level.
func TestTaskBuildRegistersFloatingInputs(t *testing.T) {
	storage := newMemStorage()
	transform := func(ctx context.Context, inputs [][]int, opts map[string]any) ([][]int, error) {
		return [][]int{inputs[0]}, nil
	}
	t2, err := NewObjectTask("T2", []string{"a", "b"}, []string{"c"}, nil, storage, storage, transform, nil)
	if err != nil {
		t.Fatalf("NewObjectTask: %v", err)
	}

	g := dag.New()
	if err := t2.Build(g); err != nil {
		t.Fatalf("Build: %v", err)
	}

	for _, key := range []string{"a", "b", "c", "T2"} {
		if !g.HasVertex(key) {
			t.Fatalf("expected vertex %q to exist", key)
		}
	}
	if succ := g.Successors("a"); len(succ) != 1 || succ[0] != "T2" {
		t.Fatalf("expected a -> T2, got %v", succ)
	}
	if succ := g.Successors("b"); len(succ) != 1 || succ[0] != "T2" {
		t.Fatalf("expected b -> T2, got %v", succ)
	}
	if succ := g.Successors("T2"); len(succ) != 1 || succ[0] != "c" {
		t.Fatalf("expected T2 -> c, got %v", succ)
	}
}

// TestGroupRejectsMissingOutput implements S3: a group declaring an output
// its children never produce fails Build, naming the missing identifier.
func TestGroupRejectsMissingOutput(t *testing.T) {
	storage := newMemStorage()
	transform := func(ctx context.Context, inputs [][]int, opts map[string]any) ([][]int, error) {
		return [][]int{inputs[0]}, nil
	}
	child, err := NewObjectTask("Producer", []string{"a"}, []string{"d"}, nil, storage, storage, transform, nil)
	if err != nil {
		t.Fatalf("NewObjectTask: %v", err)
	}

	group, err := NewGroup("G", []string{"a"}, []string{"c"}, nil)
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}
	group.AddChild(child)

	g := dag.New()
	err = group.Build(g)
	if err == nil {
		t.Fatal("expected Build to fail: declared output \"c\" is never produced")
	}
	if !errs.Is(err, errs.BuildError) {
		t.Fatalf("expected BuildError, got %v", err)
	}
	if !strings.Contains(err.Error(), `output "c"`) {
		t.Fatalf("expected the error to name the missing output \"c\", got %v", err)
	}
}

func TestGroupBuildFailurePropagatesChildName(t *testing.T) {
	// A child whose own invariants are broken (duplicate output id) fails
	// construction, not build, but a child whose Build call itself returns
	// an error (two producers claiming the same identifier) must surface
	// through Group.Build with the BuildError kind intact.
	storage := newMemStorage()
	transform := func(ctx context.Context, inputs [][]int, opts map[string]any) ([][]int, error) {
		return [][]int{inputs[0]}, nil
	}
	child1, err := NewObjectTask("A", []string{"x"}, []string{"shared"}, nil, storage, storage, transform, nil)
	if err != nil {
		t.Fatalf("NewObjectTask: %v", err)
	}
	child2, err := NewObjectTask("B", []string{"y"}, []string{"shared"}, nil, storage, storage, transform, nil)
	if err != nil {
		t.Fatalf("NewObjectTask: %v", err)
	}

	group, err := NewGroup("G", []string{"x", "y"}, []string{"shared"}, nil)
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}
	group.AddChild(child1)
	group.AddChild(child2)

	g := dag.New()
	err = group.Build(g)
	if err == nil {
		t.Fatal("expected Build to fail: two tasks both claim to produce \"shared\"")
	}
	if !errs.Is(err, errs.BuildError) {
		t.Fatalf("expected BuildError, got %v", err)
	}
	if !strings.Contains(err.Error(), `building child "B"`) {
		t.Fatalf("expected the error to name the failing child \"B\", got %v", err)
	}
}

func TestGroupInternalInputsAndOutputs(t *testing.T) {
	storage := newMemStorage()
	identity := func(ctx context.Context, inputs [][]int, opts map[string]any) ([][]int, error) {
		return [][]int{inputs[0]}, nil
	}
	producer, err := NewObjectTask("Producer", []string{"a"}, []string{"mid"}, nil, storage, storage, identity, nil)
	if err != nil {
		t.Fatalf("NewObjectTask: %v", err)
	}
	consumer, err := NewObjectTask("Consumer", []string{"mid"}, []string{"c"}, nil, storage, storage, identity, nil)
	if err != nil {
		t.Fatalf("NewObjectTask: %v", err)
	}

	group, err := NewGroup("G", []string{"a"}, []string{"c"}, nil)
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}
	group.AddChild(producer)
	group.AddChild(consumer)

	g := dag.New()
	if err := group.Build(g); err != nil {
		t.Fatalf("Build: %v", err)
	}

	internalInputs := group.InternalInputs()
	if len(internalInputs) != 1 || internalInputs[0] != "mid" {
		t.Fatalf("expected internal input [mid], got %v", internalInputs)
	}
	internalOutputs := group.InternalOutputs()
	if len(internalOutputs) != 1 || internalOutputs[0] != "mid" {
		t.Fatalf("expected internal output [mid], got %v", internalOutputs)
	}
}

func TestGroupDropInternalObjsDropsOwnedArtifacts(t *testing.T) {
	storage := newMemStorage()
	identity := func(ctx context.Context, inputs [][]int, opts map[string]any) ([][]int, error) {
		return [][]int{inputs[0]}, nil
	}
	storage.values["a"] = []int{1, 2}

	producer, err := NewObjectTask("Producer", []string{"a"}, []string{"mid"}, nil, storage, storage, identity, nil)
	if err != nil {
		t.Fatalf("NewObjectTask: %v", err)
	}
	consumer, err := NewObjectTask("Consumer", []string{"mid"}, []string{"c"}, nil, storage, storage, identity, nil)
	if err != nil {
		t.Fatalf("NewObjectTask: %v", err)
	}

	group, err := NewGroup("G", []string{"a"}, []string{"c"}, nil)
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}
	group.AddChild(producer)
	group.AddChild(consumer)

	g := dag.New()
	if err := group.Build(g); err != nil {
		t.Fatalf("Build: %v", err)
	}

	order, err := g.TopologicalOrder()
	if err != nil {
		t.Fatalf("TopologicalOrder: %v", err)
	}
	for _, v := range order {
		if v.Runnable == nil {
			continue
		}
		if err := v.Runnable.Run(context.Background(), nil); err != nil {
			t.Fatalf("running vertex %q: %v", v.Key, err)
		}
	}

	if _, ok := storage.values["mid"]; ok {
		t.Fatal("expected internal artifact \"mid\" to be dropped after group.end")
	}
	if _, ok := storage.values["c"]; !ok {
		t.Fatal("expected declared output \"c\" to survive")
	}
}
