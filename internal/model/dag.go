package model

import "fmt"

// DAG is a directed acyclic graph of tasks, plus the topological leveling
// used for level-scheduled execution.
type DAG struct {
	Nodes  map[string]*Task
	Edges  []Edge
	Levels [][]string
}

// Edge is a dependency edge: From must complete before To may start.
type Edge struct {
	From string
	To   string
}

// NewDAG builds a DAG from a task list, deriving edges from each task's
// Dependencies field and computing the topological levels. It returns an
// error if a dependency references an unknown task id or if a cycle is
// detected.
func NewDAG(tasks []*Task) (*DAG, error) {
	nodes := make(map[string]*Task, len(tasks))
	for i, t := range tasks {
		t.SetInsertionIndex(i)
		nodes[t.ID] = t
	}

	var edges []Edge
	indegree := make(map[string]int, len(tasks))
	adj := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		indegree[t.ID] = 0
	}
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if _, ok := nodes[dep]; !ok {
				return nil, fmt.Errorf("task %q depends on unknown task %q", t.ID, dep)
			}
			edges = append(edges, Edge{From: dep, To: t.ID})
			adj[dep] = append(adj[dep], t.ID)
			indegree[t.ID]++
		}
	}

	levels, err := levelize(nodes, adj, indegree)
	if err != nil {
		return nil, err
	}

	return &DAG{Nodes: nodes, Edges: edges, Levels: levels}, nil
}

// levelize performs Kahn's algorithm, grouping each round of zero-indegree
// nodes into one level. It is also the cycle-detection probe: a DAG is
// well-formed iff every node id appears in exactly one level, i.e.
// sum(len(levels[i])) == len(nodes).
func levelize(nodes map[string]*Task, adj map[string][]string, indegree map[string]int) ([][]string, error) {
	remaining := make(map[string]int, len(indegree))
	for k, v := range indegree {
		remaining[k] = v
	}

	var levels [][]string
	placed := 0
	for len(remaining) > 0 {
		var level []string
		for id, deg := range remaining {
			if deg == 0 {
				level = append(level, id)
			}
		}
		if len(level) == 0 {
			return nil, fmt.Errorf("cycle detected")
		}
		for _, id := range level {
			delete(remaining, id)
			for _, next := range adj[id] {
				remaining[next]--
			}
		}
		levels = append(levels, level)
		placed += len(level)
	}

	if placed != len(nodes) {
		return nil, fmt.Errorf("cycle detected")
	}
	return levels, nil
}

// WellFormed implements the cycle-detection probe directly: true iff a
// proper topological sort exists, i.e. every node appears in exactly one
// level.
func (d *DAG) WellFormed() bool {
	total := 0
	for _, l := range d.Levels {
		total += len(l)
	}
	return total == len(d.Nodes)
}

// CriticalPath returns the longest root-to-leaf chain of task ids weighted
// by EstimatedMins, and its total duration in minutes.
func (d *DAG) CriticalPath() ([]string, int) {
	children := make(map[string][]string)
	for _, e := range d.Edges {
		children[e.From] = append(children[e.From], e.To)
	}

	memoPath := make(map[string][]string)
	memoCost := make(map[string]int)

	var visit func(id string) ([]string, int)
	visit = func(id string) ([]string, int) {
		if p, ok := memoPath[id]; ok {
			return p, memoCost[id]
		}
		best := []string{id}
		bestCost := d.Nodes[id].EstimatedMins
		for _, c := range children[id] {
			p, cost := visit(c)
			total := d.Nodes[id].EstimatedMins + cost
			if total > bestCost {
				bestCost = total
				best = append([]string{id}, p...)
			}
		}
		memoPath[id] = best
		memoCost[id] = bestCost
		return best, bestCost
	}

	var bestPath []string
	bestCost := -1
	for _, level := range d.Levels {
		for _, id := range level {
			p, cost := visit(id)
			if cost > bestCost {
				bestCost = cost
				bestPath = p
			}
		}
	}
	return bestPath, bestCost
}

// DependentsOf returns every task id transitively depending on id, used for
// cascading a Blocked status when a task fails.
func (d *DAG) DependentsOf(id string) []string {
	children := make(map[string][]string)
	for _, e := range d.Edges {
		children[e.From] = append(children[e.From], e.To)
	}

	seen := map[string]bool{}
	var stack []string
	stack = append(stack, children[id]...)
	var out []string
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
		stack = append(stack, children[n]...)
	}
	return out
}
