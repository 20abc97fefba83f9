package executor

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/jeffrey82221/batchdag/dag"
	"github.com/jeffrey82221/batchdag/errs"
	"github.com/jeffrey82221/batchdag/logging"
)

// Run walks g in a topological order derived dynamically from in-degree
// counts (the same readiness-queue idea the teacher's scheduler used to
// find a DAG's source nodes, generalised here to every wave, not just the
// first), dispatching task/sentinel vertices onto a pool bounded by
// Options' concurrency policy. Identifier vertices are logged and passed
// through without consuming a concurrency slot. Options.Sequential instead
// runs the vertices one at a time in dag.Graph.TopologicalOrder()'s order.
// On first failure, no new vertex is scheduled; already-running vertices
// finish; Run returns the single enriched error.
func Run(ctx context.Context, g *dag.Graph, opts Options) error {
	vertices := g.Vertices()
	if len(vertices) == 0 {
		return nil
	}
	order, err := g.TopologicalOrder()
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(opts.capacity(len(vertices)))

	inDegree := make(map[string]int, len(vertices))
	for _, v := range vertices {
		inDegree[v.Key] = len(g.Predecessors(v.Key))
	}

	ready := make(chan string, len(vertices))

	var degMu sync.Mutex
	var mu sync.Mutex
	var firstErr error
	stopped := false

	recordErr := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
			stopped = true
			cancel()
		}
	}

	shouldSchedule := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return !stopped
	}

	if opts.Sequential {
		for _, v := range order {
			if !shouldSchedule() {
				logging.Debug("cancelled: not starting " + v.Key + ", a prior vertex failed")
				continue
			}
			runVertex(runCtx, sem, v, opts.Values, recordErr)
		}
		return firstErr
	}

	// Seed the ready queue in sorted order so the source vertices are queued
	// deterministically instead of in Go's unspecified map iteration order.
	initial := make([]string, 0, len(inDegree))
	for key, d := range inDegree {
		if d == 0 {
			initial = append(initial, key)
		}
	}
	sort.Strings(initial)
	for _, key := range initial {
		ready <- key
	}

	var wg sync.WaitGroup
	remaining := len(vertices)

	for remaining > 0 {
		key := <-ready
		remaining--

		if !shouldSchedule() {
			// Run has already failed: mark this vertex Cancelled and move on
			// without starting it, but still unblock its successors so the
			// loop can drain to completion.
			logging.Debug("cancelled: not starting " + key + ", a prior vertex failed")
			unblock(g, key, inDegree, &degMu, ready)
			continue
		}

		v, _ := g.Vertex(key)
		wg.Add(1)
		go func(v *dag.Vertex) {
			defer wg.Done()
			runVertex(runCtx, sem, v, opts.Values, recordErr)
			unblock(g, v.Key, inDegree, &degMu, ready)
		}(v)
	}

	wg.Wait()
	return firstErr
}

// runVertex dispatches a single vertex: identifier vertices pass through
// free of charge; task/sentinel vertices acquire a concurrency slot, run,
// then release it.
func runVertex(ctx context.Context, sem *semaphore.Weighted, v *dag.Vertex, values map[string]any, recordErr func(error)) {
	if v.Kind == dag.KindIdentifier {
		logging.Debug("passing identifier " + v.Key)
		return
	}

	if err := sem.Acquire(ctx, 1); err != nil {
		recordErr(errs.Wrap(errs.Cancelled, "vertex "+v.Key+" never started", err))
		return
	}
	defer sem.Release(1)

	select {
	case <-ctx.Done():
		recordErr(errs.New(errs.Cancelled, "vertex "+v.Key+" cancelled before it started"))
		return
	default:
	}

	log := logging.WithTaskID(v.Key)
	log.Debug().Str("kind", v.Kind.String()).Msg("executing vertex")
	if err := v.Runnable.Run(ctx, values); err != nil {
		log.Error().Err(err).Msg("vertex failed")
		recordErr(err)
	}
}

// unblock decrements the in-degree of key's successors, pushing any that
// reach zero onto the ready queue. inDegree is shared across concurrently
// running vertices, so mutations are serialised through degMu.
func unblock(g *dag.Graph, key string, inDegree map[string]int, degMu *sync.Mutex, ready chan<- string) {
	degMu.Lock()
	defer degMu.Unlock()
	for _, succ := range g.Successors(key) {
		inDegree[succ]--
		if inDegree[succ] == 0 {
			ready <- succ
		}
	}
}
