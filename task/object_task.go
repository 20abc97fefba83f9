package task

import (
	"context"
	"fmt"

	"github.com/jeffrey82221/batchdag/backend"
	"github.com/jeffrey82221/batchdag/dag"
	"github.com/jeffrey82221/batchdag/errs"
)

// feedbackKey is the reserved options key ObjectTask uses to pass each
// FeedbackID's previously-materialised value into Transform. Supplemented
// from original_source/batch_framework/etl.py's DFProcessor.feedback_ids.
const feedbackKey = "batchdag.feedback"

// ObjectTask is the pure ETL task shape: download typed inputs, call a
// user transform, upload typed outputs. Generic over the input and output
// element types, replacing the source framework's runtime
// get_upload_type/get_download_type introspection with compile-time checks.
type ObjectTask[In, Out any] struct {
	Base

	InputStorage  backend.ObjectStorage[In]
	OutputStorage backend.ObjectStorage[Out]

	// Transform is the user body: it receives inputs in InputIDs order and
	// must return outputs in OutputIDs order, of equal length.
	Transform func(ctx context.Context, inputs []In, opts map[string]any) ([]Out, error)

	// FeedbackIDs is a subset of OutputIDs whose previous value is
	// downloaded and passed to Transform via opts[feedbackKey] before each
	// execution — for transforms that need their own last output.
	FeedbackIDs []string

	StartFn func(ctx context.Context, opts map[string]any) error
	EndFn   func(ctx context.Context, opts map[string]any) error
}

// NewObjectTask validates the base contract plus FeedbackIDs ⊆ OutputIDs.
func NewObjectTask[In, Out any](
	name string,
	inputIDs, outputIDs, externalInputIDs []string,
	inputStorage backend.ObjectStorage[In],
	outputStorage backend.ObjectStorage[Out],
	transform func(ctx context.Context, inputs []In, opts map[string]any) ([]Out, error),
	feedbackIDs []string,
) (*ObjectTask[In, Out], error) {
	base, err := NewBase(name, inputIDs, outputIDs, externalInputIDs)
	if err != nil {
		return nil, err
	}
	outputSet := toSet(outputIDs)
	for _, id := range feedbackIDs {
		if _, ok := outputSet[id]; !ok {
			return nil, errs.New(errs.ContractViolation, fmt.Sprintf("task %q: feedback id %q is not one of output_ids", name, id))
		}
	}
	return &ObjectTask[In, Out]{
		Base:          base,
		InputStorage:  inputStorage,
		OutputStorage: outputStorage,
		Transform:     transform,
		FeedbackIDs:   append([]string(nil), feedbackIDs...),
	}, nil
}

func (t *ObjectTask[In, Out]) Build(g *dag.Graph) error {
	return BuildStandard(g, t.Name(), AsRunnable(t), t.InputIDs(), t.OutputIDs())
}

func (t *ObjectTask[In, Out]) Start(ctx context.Context, opts map[string]any) error {
	if t.StartFn == nil {
		return nil
	}
	return asUserError(fmt.Sprintf("task %q: start hook", t.Name()), t.StartFn(ctx, opts))
}

func (t *ObjectTask[In, Out]) End(ctx context.Context, opts map[string]any) error {
	if t.EndFn == nil {
		return nil
	}
	return asUserError(fmt.Sprintf("task %q: end hook", t.Name()), t.EndFn(ctx, opts))
}

// Body implements the 4.2 algorithm: download inputs in order, call
// Transform, assert the output shape, upload outputs in order.
func (t *ObjectTask[In, Out]) Body(ctx context.Context, opts map[string]any) error {
	inputs := make([]In, 0, len(t.InputIDs()))
	for _, id := range t.InputIDs() {
		v, err := t.InputStorage.Download(ctx, id)
		if err != nil {
			return err
		}
		inputs = append(inputs, v)
	}

	if len(t.FeedbackIDs) > 0 {
		feedback := make(map[string]Out, len(t.FeedbackIDs))
		for _, id := range t.FeedbackIDs {
			exists, err := t.OutputStorage.CheckExists(ctx, id)
			if err != nil {
				return err
			}
			if !exists {
				continue
			}
			v, err := t.OutputStorage.Download(ctx, id)
			if err != nil {
				return err
			}
			feedback[id] = v
		}
		if opts == nil {
			opts = map[string]any{}
		}
		opts[feedbackKey] = feedback
	}

	outputs, err := t.Transform(ctx, inputs, opts)
	if err != nil {
		return asUserError(fmt.Sprintf("task %q: transform", t.Name()), err)
	}
	if len(outputs) != len(t.OutputIDs()) {
		return errs.New(errs.ContractViolation, fmt.Sprintf(
			"task %q: transform returned %d outputs, want %d", t.Name(), len(outputs), len(t.OutputIDs())))
	}

	for i, id := range t.OutputIDs() {
		if err := t.OutputStorage.Upload(ctx, id, outputs[i]); err != nil {
			return err
		}
	}
	return nil
}

// DropInputs delegates to the input storage's Drop for every input id.
func (t *ObjectTask[In, Out]) DropInputs(ctx context.Context) error {
	var firstErr error
	for _, id := range t.InputIDs() {
		if err := t.InputStorage.Drop(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DropOutputs delegates to the output storage's Drop for every output id.
func (t *ObjectTask[In, Out]) DropOutputs(ctx context.Context) error {
	var firstErr error
	for _, id := range t.OutputIDs() {
		if err := t.OutputStorage.Drop(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DropOutput implements OutputDropper for a single output identifier, used
// by Group.DropInternalObjs.
func (t *ObjectTask[In, Out]) DropOutput(ctx context.Context, id string) error {
	return t.OutputStorage.Drop(ctx, id)
}

func (t *ObjectTask[In, Out]) Describe() CallableInfo {
	return CallableInfo{
		Kind:      "ObjectTask.transform",
		TaskName:  t.Name(),
		InputIDs:  t.InputIDs(),
		OutputIDs: t.OutputIDs(),
	}
}
