// Package toposort provides deterministic topological sorting for directed
// acyclic graphs keyed by string node names. Ties are broken by node
// insertion order, so callers that add nodes in registration order get a
// stable, registration-ordered result.
package toposort

import (
	"container/heap"
	"fmt"
	"slices"
	"strings"
)

// CycleError is returned when the graph contains a dependency cycle.
type CycleError struct {
	// Nodes is one cycle found in the graph, in edge order.
	Nodes []string
}

func (err *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(err.Nodes, " -> "))
}

// Graph is a directed graph over string-named nodes.
type Graph struct {
	symbols  *symbolTable
	edges    [][]int
	inDegree []int
}

// NewGraph initializes an empty Graph.
func NewGraph() *Graph {
	return &Graph{
		symbols:  newSymbolTable(),
		edges:    make([][]int, 0),
		inDegree: make([]int, 0),
	}
}

func (graph *Graph) ensure(id int) {
	for len(graph.edges) <= id {
		graph.edges = append(graph.edges, nil)
		graph.inDegree = append(graph.inDegree, 0)
	}
}

// AddNode inserts a node. Returns false if the node already exists.
func (graph *Graph) AddNode(name string) bool {
	if _, exists := graph.symbols.lookup(name); exists {
		return false
	}

	graph.ensure(graph.symbols.intern(name))

	return true
}

// HasNode reports whether a node exists.
func (graph *Graph) HasNode(name string) bool {
	_, exists := graph.symbols.lookup(name)

	return exists
}

// AddEdge inserts the link from "from" to "to", creating nodes as needed.
// Duplicate edges are ignored.
func (graph *Graph) AddEdge(from, to string) {
	src := graph.symbols.intern(from)
	dst := graph.symbols.intern(to)
	graph.ensure(max(src, dst))

	if slices.Contains(graph.edges[src], dst) {
		return
	}

	graph.edges[src] = append(graph.edges[src], dst)
	graph.inDegree[dst]++
}

// Children returns the targets of outgoing edges from a node, in edge
// insertion order.
func (graph *Graph) Children(from string) []string {
	src, exists := graph.symbols.lookup(from)
	if !exists {
		return nil
	}

	children := make([]string, 0, len(graph.edges[src]))
	for _, dst := range graph.edges[src] {
		children = append(children, graph.symbols.resolve(dst))
	}

	return children
}

// intHeap is a min-heap of node IDs, used to pop the lowest (oldest) ready
// node first during the sort.
type intHeap []int

func (h intHeap) Len() int            { return len(h) }
func (h intHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h intHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *intHeap) Push(x any)         { *h = append(*h, x.(int)) }
func (h *intHeap) Pop() any {
	old := *h
	last := old[len(old)-1]
	*h = old[:len(old)-1]

	return last
}

// Sort returns the nodes in topological order, breaking ties by insertion
// order. A cycle yields a *CycleError naming the offending nodes.
func (graph *Graph) Sort() ([]string, error) {
	nodeCount := graph.symbols.size()

	inDegree := make([]int, nodeCount)
	copy(inDegree, graph.inDegree)

	ready := &intHeap{}

	for id := range nodeCount {
		if inDegree[id] == 0 {
			heap.Push(ready, id)
		}
	}

	order := make([]string, 0, nodeCount)

	for ready.Len() > 0 {
		current := heap.Pop(ready).(int)
		order = append(order, graph.symbols.resolve(current))

		for _, neighbor := range graph.edges[current] {
			inDegree[neighbor]--
			if inDegree[neighbor] == 0 {
				heap.Push(ready, neighbor)
			}
		}
	}

	if len(order) != nodeCount {
		return nil, &CycleError{Nodes: graph.findCycle(inDegree)}
	}

	return order, nil
}

// findCycle walks the unresolved remainder of a failed sort and returns one
// cycle path.
func (graph *Graph) findCycle(inDegree []int) []string {
	// Any node with a remaining in-degree is part of, or downstream of, a
	// cycle. Walk from one of them until a node repeats.
	start := -1

	for id, degree := range inDegree {
		if degree > 0 {
			start = id

			break
		}
	}

	if start == -1 {
		return nil
	}

	seen := make(map[int]int)
	path := make([]int, 0)
	current := start

	for {
		if at, visited := seen[current]; visited {
			cycle := make([]string, 0, len(path)-at+1)
			for _, id := range path[at:] {
				cycle = append(cycle, graph.symbols.resolve(id))
			}

			return append(cycle, graph.symbols.resolve(current))
		}

		seen[current] = len(path)
		path = append(path, current)

		next := -1

		for _, neighbor := range graph.edges[current] {
			if inDegree[neighbor] > 0 {
				next = neighbor

				break
			}
		}

		if next == -1 {
			return nil
		}

		current = next
	}
}
