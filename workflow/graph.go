package workflow

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// END is the terminal pseudo-node.
const END = "__end__"

// NodeFunc executes one node and returns the channel updates it writes.
type NodeFunc func(ctx context.Context, state State) (State, error)

// RouteFunc picks the next node from the merged state.
type RouteFunc func(state State) string

// Event is emitted once per executed superstep.
type Event struct {
	Node       string            `json:"node"`
	SnapshotID string            `json:"snapshot_id"`
	Step       int               `json:"step"`
	Update     State             `json:"update,omitempty"`
	Interrupt  *PendingInterrupt `json:"interrupt,omitempty"`
}

// Graph is a mutable graph definition.
type Graph struct {
	nodes    map[string]NodeFunc
	order    []string
	edges    map[string]string
	routes   map[string]RouteFunc
	reducers map[string]Reducer
	entry    string
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:    make(map[string]NodeFunc),
		edges:    make(map[string]string),
		routes:   make(map[string]RouteFunc),
		reducers: make(map[string]Reducer),
	}
}

// AddNode registers a node.
func (g *Graph) AddNode(name string, fn NodeFunc) *Graph {
	if _, ok := g.nodes[name]; !ok {
		g.order = append(g.order, name)
	}
	g.nodes[name] = fn
	return g
}

// AddEdge adds a static edge.
func (g *Graph) AddEdge(from, to string) *Graph {
	g.edges[from] = to
	return g
}

// AddConditionalEdges routes from a node through a RouteFunc.
func (g *Graph) AddConditionalEdges(from string, route RouteFunc) *Graph {
	g.routes[from] = route
	return g
}

// AddChannel sets the reducer of a state channel.
func (g *Graph) AddChannel(name string, reducer Reducer) *Graph {
	g.reducers[name] = reducer
	return g
}

// SetEntryPoint sets the first node.
func (g *Graph) SetEntryPoint(name string) *Graph {
	g.entry = name
	return g
}

// Nodes returns node names in registration order.
func (g *Graph) Nodes() []string {
	return slices.Clone(g.order)
}

func (g *Graph) validate() error {
	var errs []error
	if g.entry == "" {
		errs = append(errs, errors.New("entry point not set"))
	} else if _, ok := g.nodes[g.entry]; !ok {
		errs = append(errs, fmt.Errorf("entry point %q is not a node", g.entry))
	}
	for _, name := range g.order {
		to, hasEdge := g.edges[name]
		_, hasRoute := g.routes[name]
		switch {
		case !hasEdge && !hasRoute:
			errs = append(errs, fmt.Errorf("node %q has no outgoing edge", name))
		case hasEdge && hasRoute:
			errs = append(errs, fmt.Errorf("node %q has both an edge and a router", name))
		case hasEdge && to != END:
			if _, ok := g.nodes[to]; !ok {
				errs = append(errs, fmt.Errorf("edge %q -> %q targets unknown node", name, to))
			}
		}
	}
	for from := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			errs = append(errs, fmt.Errorf("edge source %q is not a node", from))
		}
	}
	return errors.Join(errs...)
}

// Compile validates the graph and binds it to a saver.
func (g *Graph) Compile(saver Saver, logger *zap.Logger) (*CompiledGraph, error) {
	if saver == nil {
		return nil, errors.New("saver is required")
	}
	if err := g.validate(); err != nil {
		return nil, fmt.Errorf("invalid graph: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	frozen := &Graph{
		nodes:    maps.Clone(g.nodes),
		order:    slices.Clone(g.order),
		edges:    maps.Clone(g.edges),
		routes:   maps.Clone(g.routes),
		reducers: maps.Clone(g.reducers),
		entry:    g.entry,
	}
	return &CompiledGraph{
		graph:  frozen,
		saver:  saver,
		logger: logger.With(zap.String("component", "state_graph")),
	}, nil
}

// CompiledGraph executes a validated graph against a saver.
type CompiledGraph struct {
	graph  *Graph
	saver  Saver
	logger *zap.Logger
}

// Saver returns the snapshot store.
func (c *CompiledGraph) Saver() Saver {
	return c.saver
}

// GetState returns the latest snapshot of a thread.
func (c *CompiledGraph) GetState(ctx context.Context, threadID string) (*Snapshot, error) {
	return c.saver.Latest(ctx, threadID)
}

// GetStateHistory returns every snapshot of a thread, newest first.
func (c *CompiledGraph) GetStateHistory(ctx context.Context, threadID string) ([]*Snapshot, error) {
	return c.saver.List(ctx, threadID)
}

// Invoke drains Stream and returns the thread's latest snapshot.
func (c *CompiledGraph) Invoke(ctx context.Context, threadID string, input any) (*Snapshot, error) {
	for _, err := range c.Stream(ctx, threadID, input) {
		if err != nil {
			return nil, err
		}
	}
	return c.GetState(ctx, threadID)
}

// Stream executes the graph one node per superstep and yields an Event
// after each snapshot is saved.
//
// input selects the mode: a State starts a new run from the entry point,
// nil continues from the latest snapshot, and a Command re-executes the
// interrupted node with its Resume value.
func (c *CompiledGraph) Stream(ctx context.Context, threadID string, input any) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		snap, cmd, err := c.prepare(ctx, threadID, input)
		if err != nil {
			yield(Event{}, err)
			return
		}

		for snap.HasPendingWork() {
			if err := ctx.Err(); err != nil {
				yield(Event{}, err)
				return
			}

			node := snap.Next[0]
			fn, ok := c.graph.nodes[node]
			if !ok {
				yield(Event{}, fmt.Errorf("snapshot %s references unknown node %q", snap.ID, node))
				return
			}

			nodeCtx := ctx
			if cmd != nil {
				nodeCtx = withResume(ctx, cmd)
				cmd = nil
			}

			start := time.Now()
			update, err := fn(nodeCtx, snap.Values.Clone())

			var interrupt *InterruptError
			if errors.As(err, &interrupt) {
				parked := snap.child(SourceInterrupt, snap.Values, snap.Next)
				parked.Interrupts = []PendingInterrupt{{Node: node, Value: interrupt.Value}}
				if err := c.saver.Put(ctx, parked); err != nil {
					yield(Event{}, fmt.Errorf("save interrupt snapshot: %w", err))
					return
				}
				c.logger.Info("node interrupted",
					zap.String("thread_id", threadID),
					zap.String("node", node),
					zap.String("snapshot_id", parked.ID),
				)
				yield(Event{Node: node, SnapshotID: parked.ID, Step: parked.Step, Interrupt: &parked.Interrupts[0]}, nil)
				return
			}
			if err != nil {
				yield(Event{}, fmt.Errorf("node %s: %w", node, err))
				return
			}

			values, written := applyUpdate(snap.Values, update, c.graph.reducers)
			next, err := c.route(node, values)
			if err != nil {
				yield(Event{}, err)
				return
			}

			child := snap.child(SourceLoop, values, next)
			child.Writes = map[string][]string{node: written}
			if err := c.saver.Put(ctx, child); err != nil {
				yield(Event{}, fmt.Errorf("save snapshot after %s: %w", node, err))
				return
			}

			c.logger.Debug("superstep completed",
				zap.String("thread_id", threadID),
				zap.String("node", node),
				zap.Int("step", child.Step),
				zap.Duration("duration", time.Since(start)),
			)

			if !yield(Event{Node: node, SnapshotID: child.ID, Step: child.Step, Update: update}, nil) {
				return
			}
			snap = child
		}
	}
}

func (c *CompiledGraph) prepare(ctx context.Context, threadID string, input any) (*Snapshot, *Command, error) {
	if threadID == "" {
		return nil, nil, errors.New("thread id is required")
	}

	latest, err := c.saver.Latest(ctx, threadID)
	if err != nil && !errors.Is(err, ErrSnapshotNotFound) {
		return nil, nil, fmt.Errorf("load latest snapshot: %w", err)
	}

	switch in := input.(type) {
	case nil:
		if latest == nil {
			return &Snapshot{ThreadID: threadID}, nil, nil
		}
		return latest, nil, nil

	case Command:
		return c.prepareResume(threadID, latest, &in)

	case *Command:
		return c.prepareResume(threadID, latest, in)

	case State:
		return c.start(ctx, threadID, latest, in)

	case map[string]any:
		return c.start(ctx, threadID, latest, State(in))

	default:
		return nil, nil, fmt.Errorf("unsupported graph input %T", input)
	}
}

func (c *CompiledGraph) prepareResume(threadID string, latest *Snapshot, cmd *Command) (*Snapshot, *Command, error) {
	if !latest.Interrupted() {
		return nil, nil, fmt.Errorf("thread %s has no pending interrupt", threadID)
	}
	return latest, cmd, nil
}

func (c *CompiledGraph) start(ctx context.Context, threadID string, latest *Snapshot, input State) (*Snapshot, *Command, error) {
	values, written := applyUpdate(State{}, input, c.graph.reducers)
	snap := &Snapshot{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Version:   1,
		Step:      -1,
		Source:    SourceInput,
		Values:    values,
		Next:      []string{c.graph.entry},
		Writes:    map[string][]string{"__input__": written},
		CreatedAt: time.Now().UTC(),
	}
	if latest != nil {
		snap.ParentID = latest.ID
		snap.Version = latest.Version + 1
	}
	if err := c.saver.Put(ctx, snap); err != nil {
		return nil, nil, fmt.Errorf("save input snapshot: %w", err)
	}
	return snap, nil, nil
}

func (c *CompiledGraph) route(node string, values State) ([]string, error) {
	var to string
	if route, ok := c.graph.routes[node]; ok {
		to = route(values)
	} else {
		to = c.graph.edges[node]
	}
	if to == END || to == "" {
		return nil, nil
	}
	if _, ok := c.graph.nodes[to]; !ok {
		return nil, fmt.Errorf("node %s routed to unknown node %q", node, to)
	}
	return []string{to}, nil
}
