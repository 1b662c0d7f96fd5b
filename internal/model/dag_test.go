package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDAGLevelingS2(t *testing.T) {
	// S2: A, B depends on A, C depends on A.
	a := &Task{ID: "A", EstimatedMins: 5}
	b := &Task{ID: "B", Dependencies: []string{"A"}, EstimatedMins: 3}
	c := &Task{ID: "C", Dependencies: []string{"A"}, EstimatedMins: 3}

	dag, err := NewDAG([]*Task{a, b, c})
	require.NoError(t, err)
	require.Len(t, dag.Levels, 2)
	assert.Equal(t, []string{"A"}, dag.Levels[0])
	assert.ElementsMatch(t, []string{"B", "C"}, dag.Levels[1])
	assert.True(t, dag.WellFormed())
}

func TestDAGCycleDetectionS6(t *testing.T) {
	x := &Task{ID: "X", Dependencies: []string{"Y"}}
	y := &Task{ID: "Y", Dependencies: []string{"X"}}

	_, err := NewDAG([]*Task{x, y})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle detected")
}

func TestDAGUnknownDependency(t *testing.T) {
	a := &Task{ID: "A", Dependencies: []string{"ghost"}}
	_, err := NewDAG([]*Task{a})
	require.Error(t, err)
}

func TestDAGWellFormedInvariant(t *testing.T) {
	a := &Task{ID: "A"}
	b := &Task{ID: "B", Dependencies: []string{"A"}}
	dag, err := NewDAG([]*Task{a, b})
	require.NoError(t, err)

	total := 0
	for _, l := range dag.Levels {
		total += len(l)
	}
	assert.Equal(t, len(dag.Nodes), total)
	assert.True(t, dag.WellFormed())
}

func TestDAGCriticalPath(t *testing.T) {
	a := &Task{ID: "A", EstimatedMins: 10}
	b := &Task{ID: "B", Dependencies: []string{"A"}, EstimatedMins: 20}
	c := &Task{ID: "C", Dependencies: []string{"A"}, EstimatedMins: 5}

	dag, err := NewDAG([]*Task{a, b, c})
	require.NoError(t, err)

	path, cost := dag.CriticalPath()
	assert.Equal(t, []string{"A", "B"}, path)
	assert.Equal(t, 30, cost)
}

func TestDAGDependentsOf(t *testing.T) {
	a := &Task{ID: "A"}
	b := &Task{ID: "B", Dependencies: []string{"A"}}
	c := &Task{ID: "C", Dependencies: []string{"B"}}

	dag, err := NewDAG([]*Task{a, b, c})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"B", "C"}, dag.DependentsOf("A"))
}
