// Package executor walks a built dag.Graph in topological order, running
// task/sentinel vertices with the concurrency policy named by Options while
// passing identifier vertices straight through.
package executor

// Options controls the executor's concurrency policy, the only
// "configuration" surface a library without a CLI needs (per SPEC_FULL.md
// §9's Configuration section).
type Options struct {
	// Sequential runs every task/sentinel vertex one at a time, in
	// deterministic topological order. Equivalent to MaxActiveRun: 1 but
	// also pins the order (useful for reproducible tests).
	Sequential bool
	// MaxActiveRun bounds the number of simultaneously executing
	// task/sentinel vertices via a counting semaphore. Zero (the default,
	// when Sequential is false) means an unbounded pool.
	MaxActiveRun int
	// Values is forwarded verbatim to every vertex's start/body/end hooks.
	Values map[string]any
}

// capacity resolves the concurrency policy to a semaphore size. Sequential
// always wins, forcing capacity 1 regardless of MaxActiveRun.
func (o Options) capacity(totalVertices int) int64 {
	if o.Sequential {
		return 1
	}
	if o.MaxActiveRun > 0 {
		return int64(o.MaxActiveRun)
	}
	if totalVertices < 1 {
		return 1
	}
	return int64(totalVertices)
}
