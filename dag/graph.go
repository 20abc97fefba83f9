// Package dag assembles the directed acyclic graph of artifact identifiers,
// tasks, and group lifecycle sentinels that the executor walks.
//
// Vertex keys are plain strings. Identifier vertices are keyed by the
// artifact identifier itself; task and sentinel vertices are keyed by a
// vertex key the caller controls (typically the task's own identity or
// "<group>.start" / "<group>.end"). AddEdge creates referenced identifier
// vertices on demand, mirroring the source framework's build() step: an
// input identifier may be external (never produced inside this graph), so it
// must become a vertex the first time anything references it.
package dag

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jeffrey82221/batchdag/errs"
)

// Graph is the mutable structure assembled during build and walked,
// read-only, during execution.
type Graph struct {
	mu        sync.Mutex
	vertices  map[string]*Vertex
	succ      map[string]map[string]struct{}
	pred      map[string]map[string]struct{}
	producers map[string]string // identifier key -> key of the task that produces it
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		vertices:  make(map[string]*Vertex),
		succ:      make(map[string]map[string]struct{}),
		pred:      make(map[string]map[string]struct{}),
		producers: make(map[string]string),
	}
}

func (g *Graph) ensureLocked(key string, kind VertexKind, r Runnable) *Vertex {
	v, ok := g.vertices[key]
	if !ok {
		v = &Vertex{Kind: kind, Key: key, Runnable: r}
		g.vertices[key] = v
		g.succ[key] = make(map[string]struct{})
		g.pred[key] = make(map[string]struct{})
	}
	return v
}

// AddIdentifier registers an artifact identifier vertex if it is not already
// present. Safe to call more than once for the same id.
func (g *Graph) AddIdentifier(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensureLocked(id, KindIdentifier, nil)
}

// AddTask registers a task's execute vertex under key.
func (g *Graph) AddTask(key string, r Runnable) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensureLocked(key, KindTask, r)
}

// AddSentinel registers a group start/end lifecycle vertex under key.
func (g *Graph) AddSentinel(key string, r Runnable) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensureLocked(key, KindSentinel, r)
}

// AddEdge adds a directed edge from -> to. Either endpoint is created as an
// identifier vertex if absent. When from is a task and to is an identifier,
// from is recorded as to's producer; a second, different producer for the
// same identifier is a BuildError (the one-producer-per-identifier
// invariant, tightened to hold across the whole graph, not just one task —
// see SPEC_FULL.md's resolution of the cross-task overlap Open Question).
// Sentinel vertices (group start/end) never claim producer ownership: their
// edges to a group's declared input/output ids are synchronisation only.
func (g *Graph) AddEdge(from, to string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	fromV := g.ensureLocked(from, KindIdentifier, nil)
	toV := g.ensureLocked(to, KindIdentifier, nil)

	if fromV.Kind == KindTask && toV.Kind == KindIdentifier {
		if existing, ok := g.producers[to]; ok && existing != from {
			return errs.New(errs.BuildError, fmt.Sprintf(
				"identifier %q is produced by both %q and %q", to, existing, from))
		}
		g.producers[to] = from
	}

	g.succ[from][to] = struct{}{}
	g.pred[to][from] = struct{}{}
	return nil
}

// HasVertex reports whether key names a vertex in the graph.
func (g *Graph) HasVertex(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.vertices[key]
	return ok
}

// Vertex returns the vertex named key, if any.
func (g *Graph) Vertex(key string) (*Vertex, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.vertices[key]
	return v, ok
}

// Vertices returns every vertex in the graph, in an unspecified order.
func (g *Graph) Vertices() []*Vertex {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Vertex, 0, len(g.vertices))
	for _, v := range g.vertices {
		out = append(out, v)
	}
	return out
}

// Predecessors returns the keys of key's direct predecessors.
func (g *Graph) Predecessors(key string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.pred[key]))
	for k := range g.pred[key] {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Successors returns the keys of key's direct successors.
func (g *Graph) Successors(key string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.succ[key]))
	for k := range g.succ[key] {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// HasProducer reports whether identifier id has a registered producer
// vertex in this graph, and returns its key.
func (g *Graph) HasProducer(id string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key, ok := g.producers[id]
	return key, ok
}

// TopologicalOrder returns every vertex in one valid topological order,
// computed with the in-degree/zero-queue algorithm (Kahn's algorithm) the
// teacher's scheduler used to find a DAG's source nodes (mini-spark's
// ScheduleSourceTasks). Ties are broken by key for a deterministic order,
// which sequential execution relies on. Returns a BuildError if the graph
// contains a cycle.
func (g *Graph) TopologicalOrder() ([]*Vertex, error) {
	g.mu.Lock()
	inDegree := make(map[string]int, len(g.vertices))
	for k := range g.vertices {
		inDegree[k] = len(g.pred[k])
	}
	succCopy := make(map[string][]string, len(g.succ))
	for k, s := range g.succ {
		keys := make([]string, 0, len(s))
		for sk := range s {
			keys = append(keys, sk)
		}
		sort.Strings(keys)
		succCopy[k] = keys
	}
	vertices := g.vertices
	g.mu.Unlock()

	var queue []string
	for k, d := range inDegree {
		if d == 0 {
			queue = append(queue, k)
		}
	}
	sort.Strings(queue)

	order := make([]*Vertex, 0, len(vertices))
	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		order = append(order, vertices[k])

		var unlocked []string
		for _, s := range succCopy[k] {
			inDegree[s]--
			if inDegree[s] == 0 {
				unlocked = append(unlocked, s)
			}
		}
		sort.Strings(unlocked)
		queue = append(queue, unlocked...)
		sort.Strings(queue)
	}

	if len(order) != len(vertices) {
		return nil, errs.New(errs.BuildError, "DAG contains a cycle")
	}
	return order, nil
}
