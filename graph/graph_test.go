package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNode struct {
	name   string
	writes []string
	run    func(ctx context.Context, state State) (State, error)
	calls  int
}

func (n *recordingNode) Name() string     { return n.name }
func (n *recordingNode) Writes() []string { return n.writes }
func (n *recordingNode) Run(ctx context.Context, state State) (State, error) {
	n.calls++
	return n.run(ctx, state)
}

func constNode(name, field string, value any) *recordingNode {
	return &recordingNode{
		name:   name,
		writes: []string{field},
		run: func(ctx context.Context, state State) (State, error) {
			return State{field: value}, nil
		},
	}
}

func sumReducer(old, new any) (any, error) {
	o, _ := old.(int)
	nv, _ := new.(int)
	return o + nv, nil
}

func TestCompileRejectsMissingStartOutgoingEdge(t *testing.T) {
	_, err := Compile(Definition{})
	assert.ErrorContains(t, err, "START has no outgoing edge")
}

func TestCompileRejectsNodeWithNoOutgoingEdge(t *testing.T) {
	n := constNode("a", "x", 1)
	_, err := Compile(Definition{
		Nodes: []Node{n},
		Edges: []Edge{{From: Start, To: "a"}},
	})
	assert.ErrorContains(t, err, `node "a" has no outgoing edge`)
}

func TestCompileRejectsUnreachableNode(t *testing.T) {
	a := constNode("a", "x", 1)
	b := constNode("b", "y", 2)
	_, err := Compile(Definition{
		Nodes: []Node{a, b},
		Edges: []Edge{{From: Start, To: "a"}, {From: "a", To: End}, {From: "b", To: End}},
	})
	assert.ErrorContains(t, err, `node "b" is not reachable`)
}

func TestCompileRejectsCycle(t *testing.T) {
	a := constNode("a", "x", 1)
	b := constNode("b", "y", 2)
	_, err := Compile(Definition{
		Nodes: []Node{a, b},
		Edges: []Edge{
			{From: Start, To: "a"},
			{From: "a", To: "b"},
			{From: "b", To: "a"},
		},
	})
	assert.ErrorContains(t, err, "cycle")
}

func TestCompileRejectsConcurrentWriteWithoutReducer(t *testing.T) {
	a := constNode("a", "shared", 1)
	b := constNode("b", "shared", 2)
	_, err := Compile(Definition{
		Nodes: []Node{a, b},
		Edges: []Edge{
			{From: Start, To: "a"},
			{From: Start, To: "b"},
			{From: "a", To: End},
			{From: "b", To: End},
		},
	})
	assert.ErrorIs(t, err, ErrUnreducedConcurrentWrite)
}

func TestCompileAcceptsConcurrentWriteWithDeclaredReducer(t *testing.T) {
	a := constNode("a", "shared", 1)
	b := constNode("b", "shared", 2)
	g, err := Compile(Definition{
		Nodes: []Node{a, b},
		Edges: []Edge{
			{From: Start, To: "a"},
			{From: Start, To: "b"},
			{From: "a", To: End},
			{From: "b", To: End},
		},
		Reducers: map[string]Reducer{"shared": sumReducer},
	})
	require.NoError(t, err)
	require.NotNil(t, g)
}

func TestRunExecutesSequentialChainInOrder(t *testing.T) {
	var order []string
	a := &recordingNode{name: "a", writes: []string{"x"}, run: func(ctx context.Context, state State) (State, error) {
		order = append(order, "a")
		return State{"x": 1}, nil
	}}
	b := &recordingNode{name: "b", writes: []string{"y"}, run: func(ctx context.Context, state State) (State, error) {
		order = append(order, "b")
		assert.Equal(t, 1, state["x"])
		return State{"y": 2}, nil
	}}
	g, err := Compile(Definition{
		Nodes: []Node{a, b},
		Edges: []Edge{
			{From: Start, To: "a"},
			{From: "a", To: "b"},
			{From: "b", To: End},
		},
	})
	require.NoError(t, err)

	final, events, err := g.Run(context.Background(), State{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, 1, final["x"])
	assert.Equal(t, 2, final["y"])

	var names []string
	for e := range events {
		names = append(names, e.NodeName)
	}
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestRunFoldsConcurrentWritesWithReducer(t *testing.T) {
	a := constNode("a", "total", 3)
	b := constNode("b", "total", 4)
	g, err := Compile(Definition{
		Nodes: []Node{a, b},
		Edges: []Edge{
			{From: Start, To: "a"},
			{From: Start, To: "b"},
			{From: "a", To: End},
			{From: "b", To: End},
		},
		Reducers: map[string]Reducer{"total": sumReducer},
	})
	require.NoError(t, err)

	final, events, err := g.Run(context.Background(), State{"total": 0})
	require.NoError(t, err)
	assert.Equal(t, 7, final["total"])

	count := 0
	for range events {
		count++
	}
	assert.Equal(t, 2, count)
}

func TestRunOnlyFollowsConditionalsRouterChooses(t *testing.T) {
	var ranC, ranD bool
	route := constNode("route", "picked", "c")
	c := &recordingNode{name: "c", writes: []string{"c_ran"}, run: func(ctx context.Context, state State) (State, error) {
		ranC = true
		return State{"c_ran": true}, nil
	}}
	d := &recordingNode{name: "d", writes: []string{"d_ran"}, run: func(ctx context.Context, state State) (State, error) {
		ranD = true
		return State{"d_ran": true}, nil
	}}
	g, err := Compile(Definition{
		Nodes: []Node{route, c, d},
		Conditionals: []Conditional{
			{
				From:       "route",
				Candidates: []string{"c", "d"},
				Router: func(state State) []string {
					picked, _ := state["picked"].(string)
					return []string{picked}
				},
			},
		},
		Edges: []Edge{
			{From: Start, To: "route"},
			{From: "c", To: End},
			{From: "d", To: End},
		},
	})
	require.NoError(t, err)

	_, events, err := g.Run(context.Background(), State{})
	require.NoError(t, err)
	for range events {
	}

	assert.True(t, ranC)
	assert.False(t, ranD)
}

func TestRunPropagatesNodeErrorAndStopsSubsequentLayers(t *testing.T) {
	failing := &recordingNode{name: "a", writes: []string{"x"}, run: func(ctx context.Context, state State) (State, error) {
		return nil, errors.New("boom")
	}}
	var ranB bool
	b := &recordingNode{name: "b", writes: []string{"y"}, run: func(ctx context.Context, state State) (State, error) {
		ranB = true
		return State{"y": 1}, nil
	}}
	g, err := Compile(Definition{
		Nodes: []Node{failing, b},
		Edges: []Edge{
			{From: Start, To: "a"},
			{From: "a", To: "b"},
			{From: "b", To: End},
		},
	})
	require.NoError(t, err)

	_, events, err := g.Run(context.Background(), State{})
	assert.ErrorContains(t, err, "boom")
	for range events {
	}
	assert.False(t, ranB)
}

func TestRunHonorsAlreadyCancelledContext(t *testing.T) {
	a := constNode("a", "x", 1)
	g, err := Compile(Definition{
		Nodes: []Node{a},
		Edges: []Edge{{From: Start, To: "a"}, {From: "a", To: End}},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, events, err := g.Run(ctx, State{})
	assert.Error(t, err)
	for range events {
	}
	assert.Equal(t, 0, a.calls)
}
