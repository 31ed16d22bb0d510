// Package graph implements the DAG scheduler: a StateGraph compiled from a
// Definition into parallel execution layers, with per-field reducers
// folding concurrent node outputs into one shared State. There is no
// teacher analog for this — the teacher composes agents only through
// agent-as-tool delegation (see the team package) — so the scheduling
// style (typed Node capability, sync.WaitGroup + buffered error channel
// concurrency, validate-before-execute) is built fresh in the same idiom
// the teacher uses for its own workflow/activity abstraction
// (runtime/agent/engine.Engine).
package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

const (
	// Start is the sentinel entry node name. Every graph's real work begins
	// on an edge or conditional whose From is Start.
	Start = "__start__"
	// End is the sentinel terminal node name. Reaching it ends that branch
	// of execution; it has no Node implementation and no outgoing edges.
	End = "__end__"
)

type (
	// State is the live, shared data a graph run folds node outputs into.
	// Node.Run receives a point-in-time snapshot and returns only the
	// fields it wrote (its partial update), never the full state.
	State map[string]any

	// Reducer folds a node's new value for one field into the field's
	// existing value. Reducers must be associative and commutative — the
	// order concurrent writers are folded in is unspecified.
	Reducer func(old, new any) (any, error)

	// Node is one unit of graph work.
	Node interface {
		// Name uniquely identifies this node within a Definition.
		Name() string
		// Writes lists every state field this node may write. Compile uses
		// this to validate reducer declarations for fields written by more
		// than one node in the same layer.
		Writes() []string
		// Run executes the node against a state snapshot, returning its
		// partial update (only the fields it writes).
		Run(ctx context.Context, state State) (State, error)
	}

	// Edge is a static, unconditional successor relationship.
	Edge struct {
		From string
		To   string
	}

	// Conditional is a dynamic routing edge. Candidates lists every
	// possible successor for layering purposes (an upper bound); at
	// runtime Router narrows that to the subset that actually fires,
	// evaluated against the state as of the moment From completes.
	Conditional struct {
		From       string
		Candidates []string
		Router     func(state State) []string
	}

	// Definition is the graph as authored: nodes, static edges, conditional
	// edges, and any non-default reducers.
	Definition struct {
		Nodes        []Node
		Edges        []Edge
		Conditionals []Conditional
		// Reducers maps a state field name to the reducer folding
		// concurrent writes to it. Fields absent from this map use
		// ReplaceReducer, which Compile rejects for any field two nodes in
		// the same layer both write.
		Reducers map[string]Reducer
	}

	// StreamEvent is emitted as each node completes, in completion order,
	// carrying only that node's own partial update.
	StreamEvent struct {
		NodeName   string
		StateDelta State
	}

	// StateGraph is a compiled, executable Definition.
	StateGraph struct {
		nodes        map[string]Node
		successors   map[string][]string
		conditionals map[string]Conditional
		reducers     map[string]Reducer
		layers       [][]string
	}
)

// ErrUnreducedConcurrentWrite is returned by Compile when two nodes that
// can run in the same layer both write a field that has no declared
// reducer (the default ReplaceReducer is non-deterministic under
// concurrent writers).
var ErrUnreducedConcurrentWrite = errors.New("graph: field written by concurrent nodes has no declared reducer")

// ReplaceReducer is the default reducer: the newest write wins. Safe only
// when a field is written by at most one node per layer.
func ReplaceReducer(_, new any) (any, error) { return new, nil }

// Compile validates def and computes its execution layers.
func Compile(def Definition) (*StateGraph, error) {
	nodes := make(map[string]Node, len(def.Nodes))
	for _, n := range def.Nodes {
		name := n.Name()
		if name == "" || name == Start || name == End {
			return nil, fmt.Errorf("graph: invalid node name %q", name)
		}
		if _, dup := nodes[name]; dup {
			return nil, fmt.Errorf("graph: duplicate node name %q", name)
		}
		nodes[name] = n
	}

	successors := map[string][]string{}
	conditionals := map[string]Conditional{}
	allNames := map[string]struct{}{Start: {}, End: {}}
	for name := range nodes {
		allNames[name] = struct{}{}
	}

	checkKnown := func(name string) error {
		if _, ok := allNames[name]; !ok {
			return fmt.Errorf("graph: edge references unknown node %q", name)
		}
		return nil
	}

	for _, e := range def.Edges {
		if err := checkKnown(e.From); err != nil {
			return nil, err
		}
		if err := checkKnown(e.To); err != nil {
			return nil, err
		}
		successors[e.From] = append(successors[e.From], e.To)
	}
	for _, c := range def.Conditionals {
		if err := checkKnown(c.From); err != nil {
			return nil, err
		}
		if c.Router == nil {
			return nil, fmt.Errorf("graph: conditional from %q has no router", c.From)
		}
		if _, dup := conditionals[c.From]; dup {
			return nil, fmt.Errorf("graph: node %q has more than one conditional", c.From)
		}
		for _, cand := range c.Candidates {
			if err := checkKnown(cand); err != nil {
				return nil, err
			}
			successors[c.From] = append(successors[c.From], cand)
		}
		conditionals[c.From] = c
	}

	// Every non-END node (including START) needs at least one outgoing edge.
	outgoing := func(name string) bool { return len(successors[name]) > 0 }
	if !outgoing(Start) {
		return nil, errors.New("graph: START has no outgoing edge")
	}
	for name := range nodes {
		if !outgoing(name) {
			return nil, fmt.Errorf("graph: node %q has no outgoing edge", name)
		}
	}

	if err := checkReachable(nodes, successors); err != nil {
		return nil, err
	}

	layerOf, order, err := computeLayers(allNames, successors)
	if err != nil {
		return nil, err
	}

	reducers := map[string]Reducer{}
	for field, r := range def.Reducers {
		reducers[field] = r
	}
	if err := validateReducers(nodes, layerOf, reducers); err != nil {
		return nil, err
	}

	maxLayer := 0
	for _, l := range layerOf {
		if l > maxLayer {
			maxLayer = l
		}
	}
	layers := make([][]string, maxLayer+1)
	for _, name := range order {
		l := layerOf[name]
		layers[l] = append(layers[l], name)
	}

	return &StateGraph{
		nodes:        nodes,
		successors:   successors,
		conditionals: conditionals,
		reducers:     reducers,
		layers:       layers,
	}, nil
}

func checkReachable(nodes map[string]Node, successors map[string][]string) error {
	seen := map[string]bool{Start: true}
	queue := []string{Start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range successors[cur] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	for name := range nodes {
		if !seen[name] {
			return fmt.Errorf("graph: node %q is not reachable from START", name)
		}
	}
	return nil
}

// computeLayers assigns every name a layer index equal to the length of the
// longest path from START to it, detecting cycles via Kahn's algorithm.
func computeLayers(allNames map[string]struct{}, successors map[string][]string) (map[string]int, []string, error) {
	indegree := map[string]int{}
	for name := range allNames {
		indegree[name] = 0
	}
	for _, outs := range successors {
		for _, to := range outs {
			indegree[to]++
		}
	}

	layer := map[string]int{Start: 0}
	var order []string
	processed := map[string]int{}
	remaining := map[string]int{}
	for name, d := range indegree {
		remaining[name] = d
	}
	remaining[Start] = 0

	var queue []string
	for name := range allNames {
		if remaining[name] == 0 {
			queue = append(queue, name)
		}
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if processed[cur] > 0 {
			continue
		}
		processed[cur] = 1
		order = append(order, cur)
		for _, next := range successors[cur] {
			if layer[cur]+1 > layer[next] {
				layer[next] = layer[cur] + 1
			}
			remaining[next]--
			if remaining[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(allNames) {
		return nil, nil, errors.New("graph: definition contains a cycle")
	}
	return layer, order, nil
}

func validateReducers(nodes map[string]Node, layerOf map[string]int, reducers map[string]Reducer) error {
	writersByLayerField := map[int]map[string]int{}
	for name, n := range nodes {
		l := layerOf[name]
		if writersByLayerField[l] == nil {
			writersByLayerField[l] = map[string]int{}
		}
		for _, field := range n.Writes() {
			writersByLayerField[l][field]++
		}
	}
	for _, fields := range writersByLayerField {
		for field, count := range fields {
			if count > 1 {
				if _, declared := reducers[field]; !declared {
					return fmt.Errorf("%w: field %q", ErrUnreducedConcurrentWrite, field)
				}
			}
		}
	}
	return nil
}

func (g *StateGraph) reducerFor(field string) Reducer {
	if r, ok := g.reducers[field]; ok {
		return r
	}
	return ReplaceReducer
}

// Run executes the graph to completion against initial, returning the final
// folded State and a channel of StreamEvent emitted one per completed node
// in completion order. The channel is closed before Run returns, mirroring
// agentloop.Loop.Run's synchronous, fully-drained event stream.
func (g *StateGraph) Run(ctx context.Context, initial State) (State, <-chan StreamEvent, error) {
	events := make(chan StreamEvent, len(g.nodes))
	defer close(events)

	state := cloneState(initial)
	arrived := map[string]bool{Start: true}
	if cond, ok := g.conditionals[Start]; ok {
		for _, target := range cond.Router(state) {
			arrived[target] = true
		}
		for _, target := range staticOnlySuccessors(g, Start) {
			arrived[target] = true
		}
	} else {
		for _, to := range g.successors[Start] {
			arrived[to] = true
		}
	}

	for layerIdx, names := range g.layers {
		if layerIdx == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return state, events, err
		}

		var active []Node
		for _, name := range names {
			if name == End {
				continue
			}
			if arrived[name] {
				active = append(active, g.nodes[name])
			}
		}
		if len(active) == 0 {
			continue
		}

		type nodeOutcome struct {
			name  string
			delta State
			err   error
		}
		results := make([]nodeOutcome, len(active))
		errCh := make(chan error, len(active))
		var wg sync.WaitGroup
		snapshot := cloneState(state)
		for i, n := range active {
			wg.Add(1)
			go func(i int, n Node) {
				defer wg.Done()
				delta, err := n.Run(ctx, snapshot)
				results[i] = nodeOutcome{name: n.Name(), delta: delta, err: err}
				if err != nil {
					errCh <- fmt.Errorf("graph: node %q: %w", n.Name(), err)
				}
			}(i, n)
		}
		wg.Wait()
		close(errCh)

		for i := range active {
			res := results[i]
			if res.err != nil {
				continue
			}
			for field, value := range res.delta {
				merged, err := g.reducerFor(field)(state[field], value)
				if err != nil {
					return state, events, fmt.Errorf("graph: reduce field %q after node %q: %w", field, res.name, err)
				}
				state[field] = merged
			}
			events <- StreamEvent{NodeName: res.name, StateDelta: res.delta}
		}

		// Conditionals route against the state as of the whole layer's
		// completion, once every sibling's write has been folded in —
		// not each node's own pre-merge view.
		for i, n := range active {
			if results[i].err != nil {
				continue
			}
			if cond, ok := g.conditionals[n.Name()]; ok {
				for _, target := range cond.Router(state) {
					arrived[target] = true
				}
			}
			for _, target := range staticOnlySuccessors(g, n.Name()) {
				arrived[target] = true
			}
		}

		if err, ok := <-errCh; ok {
			return state, events, err
		}
	}

	return state, events, nil
}

// staticOnlySuccessors returns name's unconditional successors (edges, not
// conditionals — conditional targets are marked arrived by the router).
func staticOnlySuccessors(g *StateGraph, name string) []string {
	if _, isConditional := g.conditionals[name]; !isConditional {
		return g.successors[name]
	}
	// name has a conditional, and Compile folds its candidates into the same
	// successors slice as any plain Edges from name (Compile allows at most
	// one Conditional per From but does not forbid extra Edges), so any
	// successor not among the conditional's candidates is a static edge.
	cond := g.conditionals[name]
	candidateSet := make(map[string]struct{}, len(cond.Candidates))
	for _, c := range cond.Candidates {
		candidateSet[c] = struct{}{}
	}
	var out []string
	for _, s := range g.successors[name] {
		if _, isCandidate := candidateSet[s]; !isCandidate {
			out = append(out, s)
		}
	}
	return out
}

func cloneState(s State) State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
