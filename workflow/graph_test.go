package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearGraph(t *testing.T, saver Saver, calls map[string]int, failOn string) *CompiledGraph {
	t.Helper()
	node := func(name, key string) NodeFunc {
		return func(ctx context.Context, state State) (State, error) {
			calls[name]++
			if name == failOn {
				return nil, errors.New("worker crashed")
			}
			return State{key: name + ":" + state.String("query"), "trail": name}, nil
		}
	}
	g := NewGraph().
		AddNode("search", node("search", "search_results")).
		AddNode("analyze", node("analyze", "analysis")).
		AddNode("report", node("report", "final_report")).
		AddChannel("trail", AppendReducer()).
		SetEntryPoint("search").
		AddEdge("search", "analyze").
		AddEdge("analyze", "report").
		AddEdge("report", END)
	compiled, err := g.Compile(saver, nil)
	require.NoError(t, err)
	return compiled
}

func collect(t *testing.T, c *CompiledGraph, threadID string, input any) ([]Event, error) {
	t.Helper()
	var events []Event
	for ev, err := range c.Stream(context.Background(), threadID, input) {
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func TestCompiledGraph_StreamFresh(t *testing.T) {
	calls := map[string]int{}
	c := linearGraph(t, NewMemorySaver(), calls, "")

	events, err := collect(t, c, "t1", State{"query": "go"})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, []string{"search", "analyze", "report"}, []string{events[0].Node, events[1].Node, events[2].Node})
	for i, ev := range events {
		assert.Equal(t, i, ev.Step)
		assert.NotEmpty(t, ev.SnapshotID)
	}

	state, err := c.GetState(context.Background(), "t1")
	require.NoError(t, err)
	assert.False(t, state.HasPendingWork())
	assert.Equal(t, "report:go", state.Values.String("final_report"))
	assert.Equal(t, []any{"search", "analyze", "report"}, state.Values["trail"])
	assert.Equal(t, events[2].SnapshotID, state.ID)

	history, err := c.GetStateHistory(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, SourceInput, history[3].Source)
	assert.Equal(t, -1, history[3].Step)
	for i := 0; i < len(history)-1; i++ {
		assert.Equal(t, history[i+1].ID, history[i].ParentID)
	}
	assert.Equal(t, map[string][]string{"analyze": {"analysis", "trail"}}, history[1].Writes)
}

func TestCompiledGraph_ResumeAfterFailure(t *testing.T) {
	calls := map[string]int{}
	saver := NewMemorySaver()
	c := linearGraph(t, saver, calls, "report")

	events, err := collect(t, c, "t2", State{"query": "go"})
	require.Error(t, err)
	assert.Len(t, events, 2)

	state, err := c.GetState(context.Background(), "t2")
	require.NoError(t, err)
	assert.Equal(t, []string{"report"}, state.Next)

	// 新进程用同一个 saver 恢复，只执行剩余节点
	healthy := linearGraph(t, saver, calls, "")
	events, err = collect(t, healthy, "t2", nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "report", events[0].Node)
	assert.Equal(t, 1, calls["search"])
	assert.Equal(t, 1, calls["analyze"])
}

func TestCompiledGraph_NilInputWithoutHistory(t *testing.T) {
	c := linearGraph(t, NewMemorySaver(), map[string]int{}, "")
	events, err := collect(t, c, "empty", nil)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestCompiledGraph_InterruptAndCommand(t *testing.T) {
	g := NewGraph().
		AddNode("draft", func(ctx context.Context, s State) (State, error) {
			return State{"draft": "v1"}, nil
		}).
		AddNode("approval", func(ctx context.Context, s State) (State, error) {
			resp, err := Interrupt(ctx, map[string]any{"draft": s.String("draft")})
			if err != nil {
				return nil, err
			}
			return State{"decision": resp}, nil
		}).
		AddNode("publish", func(ctx context.Context, s State) (State, error) {
			return State{"published": true}, nil
		}).
		SetEntryPoint("draft").
		AddEdge("draft", "approval").
		AddEdge("approval", "publish").
		AddEdge("publish", END)
	c, err := g.Compile(NewMemorySaver(), nil)
	require.NoError(t, err)

	events, err := collect(t, c, "t3", State{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.NotNil(t, events[1].Interrupt)
	assert.Equal(t, "approval", events[1].Interrupt.Node)

	state, err := c.GetState(context.Background(), "t3")
	require.NoError(t, err)
	assert.True(t, state.Interrupted())
	assert.Equal(t, SourceInterrupt, state.Source)
	assert.Equal(t, []string{"approval"}, state.Next)

	events, err = collect(t, c, "t3", Command{Resume: "approved"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "approval", events[0].Node)
	assert.Nil(t, events[0].Interrupt)

	state, err = c.GetState(context.Background(), "t3")
	require.NoError(t, err)
	assert.Equal(t, "approved", state.Values["decision"])
	assert.True(t, state.Values.Bool("published"))
	assert.False(t, state.Interrupted())
}

func TestCompiledGraph_CommandWithoutInterrupt(t *testing.T) {
	c := linearGraph(t, NewMemorySaver(), map[string]int{}, "")
	_, err := collect(t, c, "t4", &Command{Resume: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no pending interrupt")
}

func TestCompiledGraph_ConditionalEdges(t *testing.T) {
	g := NewGraph().
		AddNode("check", func(ctx context.Context, s State) (State, error) { return nil, nil }).
		AddNode("left", func(ctx context.Context, s State) (State, error) { return State{"side": "left"}, nil }).
		AddNode("right", func(ctx context.Context, s State) (State, error) { return State{"side": "right"}, nil }).
		SetEntryPoint("check").
		AddConditionalEdges("check", func(s State) string {
			if s.Bool("go_left") {
				return "left"
			}
			return "right"
		}).
		AddEdge("left", END).
		AddEdge("right", END)
	c, err := g.Compile(NewMemorySaver(), nil)
	require.NoError(t, err)

	snap, err := c.Invoke(context.Background(), "t5", State{"go_left": true})
	require.NoError(t, err)
	assert.Equal(t, "left", snap.Values.String("side"))
}

func TestCompiledGraph_StopsOnCancelledContext(t *testing.T) {
	c := linearGraph(t, NewMemorySaver(), map[string]int{}, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen int
	var gotErr error
	for _, err := range c.Stream(ctx, "t6", State{"query": "q"}) {
		if err != nil {
			gotErr = err
			break
		}
		seen++
		cancel()
	}
	assert.Equal(t, 1, seen)
	assert.ErrorIs(t, gotErr, context.Canceled)
}

func TestGraph_CompileValidation(t *testing.T) {
	noop := func(ctx context.Context, s State) (State, error) { return nil, nil }

	tests := []struct {
		name  string
		build func() *Graph
		want  string
	}{
		{"missing entry", func() *Graph { return NewGraph().AddNode("a", noop).AddEdge("a", END) }, "entry point not set"},
		{"unknown entry", func() *Graph { return NewGraph().AddNode("a", noop).AddEdge("a", END).SetEntryPoint("b") }, "is not a node"},
		{"dangling node", func() *Graph { return NewGraph().AddNode("a", noop).SetEntryPoint("a") }, "no outgoing edge"},
		{"unknown target", func() *Graph { return NewGraph().AddNode("a", noop).AddEdge("a", "z").SetEntryPoint("a") }, "unknown node"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build().Compile(NewMemorySaver(), nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := NewGraph().Compile(nil, nil)
	assert.Error(t, err)
}

func TestReducers(t *testing.T) {
	appendR := AppendReducer()
	assert.Equal(t, []any{"a", "b", "c"}, appendR([]any{"a"}, []string{"b", "c"}))
	assert.Equal(t, []any{"x"}, appendR(nil, "x"))

	sum := SumReducer()
	assert.Equal(t, 5.0, sum(2, 3.0))

	merged, written := applyUpdate(State{"a": 1}, State{"b": 2, "a": 3}, nil)
	assert.Equal(t, State{"a": 3, "b": 2}, merged)
	assert.Equal(t, []string{"a", "b"}, written)
}
