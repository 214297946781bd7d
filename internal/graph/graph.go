// Package graph certifies that a workflow's task dependencies form a DAG.
package graph

import (
	"container/heap"

	"github.com/pipewright/pipewright/internal/errdefs"
	"github.com/pipewright/pipewright/internal/models"
)

// Node is a task name and the names it depends on.
type Node struct {
	Name         string
	Dependencies []string
}

// Nodes converts persisted tasks into graph nodes, preserving order.
func Nodes(tasks []*models.Task) []Node {
	nodes := make([]Node, len(tasks))
	for i, t := range tasks {
		nodes[i] = Node{Name: t.Name, Dependencies: t.Dependencies}
	}
	return nodes
}

type adjacency struct {
	names []string
	index map[string]int
	deps  [][]int
}

func build(nodes []Node) (*adjacency, error) {
	g := &adjacency{
		names: make([]string, len(nodes)),
		index: make(map[string]int, len(nodes)),
		deps:  make([][]int, len(nodes)),
	}
	for i, n := range nodes {
		g.names[i] = n.Name
		g.index[n.Name] = i
	}

	for i, n := range nodes {
		for _, dep := range n.Dependencies {
			j, ok := g.index[dep]
			if !ok {
				return nil, &errdefs.DanglingReferenceError{Task: n.Name, Missing: dep}
			}
			g.deps[i] = append(g.deps[i], j)
		}
	}

	return g, nil
}

// Validate returns nil when every dependency exists and the dependency
// relation has no cycle, self-loops included. Nodes are visited in input
// order so the reported cycle is stable for a given task order.
func Validate(nodes []Node) error {
	g, err := build(nodes)
	if err != nil {
		return err
	}

	if cycle := g.findCycle(); cycle != nil {
		return &errdefs.CycleError{Members: cycle}
	}

	return nil
}

const (
	unvisited = iota
	inProgress
	done
)

// findCycle runs a three-colour DFS along dependency edges. On a back edge
// u -> v it returns the DFS path from v down to u.
func (g *adjacency) findCycle() []string {
	color := make([]int, len(g.names))
	var path []int
	var cycle []int

	var visit func(u int) bool
	visit = func(u int) bool {
		color[u] = inProgress
		path = append(path, u)

		for _, v := range g.deps[u] {
			switch color[v] {
			case unvisited:
				if visit(v) {
					return true
				}
			case inProgress:
				for i := len(path) - 1; i >= 0; i-- {
					if path[i] == v {
						cycle = append([]int{}, path[i:]...)
						break
					}
				}
				return true
			}
		}

		path = path[:len(path)-1]
		color[u] = done
		return false
	}

	for i := range g.names {
		if color[i] == unvisited && visit(i) {
			break
		}
	}

	if cycle == nil {
		return nil
	}

	members := make([]string, len(cycle))
	for i, idx := range cycle {
		members[i] = g.names[idx]
	}
	return members
}

// Order returns task names so that every task follows its dependencies.
// Ties are broken by input position, which makes the order deterministic.
func Order(nodes []Node) ([]string, error) {
	if err := Validate(nodes); err != nil {
		return nil, err
	}

	g, _ := build(nodes)
	pending := make([]int, len(g.names))
	dependents := make([][]int, len(g.names))
	for i, deps := range g.deps {
		pending[i] = len(deps)
		for _, j := range deps {
			dependents[j] = append(dependents[j], i)
		}
	}

	ready := &minHeap{}
	for i, n := range pending {
		if n == 0 {
			heap.Push(ready, i)
		}
	}

	order := make([]string, 0, len(g.names))
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		order = append(order, g.names[i])
		for _, d := range dependents[i] {
			pending[d]--
			if pending[d] == 0 {
				heap.Push(ready, d)
			}
		}
	}

	return order, nil
}

type minHeap []int

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
