package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tiergate/tiergate/internal/domain/workflow"
)

// StepResult is the output of executing one workflow node. All fields merge
// additively into the run's execution context.
type StepResult struct {
	State      map[string]any
	Artifacts  map[string]string
	TokensUsed int64
	CostUSD    float64
}

// NodeFunc executes a single node against the current state map.
type NodeFunc func(ctx context.Context, node *workflow.Node, state map[string]any) (*StepResult, error)

// StepCallback is invoked after each executed node, before edge selection.
type StepCallback func(ctx context.Context, node string, res *StepResult) error

// ExecContext is the per-run mutable scratch state threaded through graph
// execution. It is owned by a single goroutine for the run's lifetime.
type ExecContext struct {
	Node       string
	State      map[string]any
	Artifacts  map[string]string
	TokensUsed int64
	CostUSD    float64
	StepCount  int
}

// NewExecContext creates an execution context seeded with initial state.
func NewExecContext(initial map[string]string) *ExecContext {
	state := make(map[string]any, len(initial))
	for k, v := range initial {
		state[k] = v
	}
	return &ExecContext{
		State:     state,
		Artifacts: make(map[string]string),
	}
}

// GraphExecutor walks a static workflow graph node by node. Start, condition
// and end nodes are built in; agent and tool nodes require a registered
// NodeFunc.
type GraphExecutor struct {
	mu      sync.RWMutex
	runners map[workflow.NodeType]NodeFunc
}

// NewGraphExecutor creates an executor with no node runners registered.
func NewGraphExecutor() *GraphExecutor {
	return &GraphExecutor{runners: make(map[workflow.NodeType]NodeFunc)}
}

// Register installs the runner for a node type, replacing any existing one.
func (e *GraphExecutor) Register(t workflow.NodeType, fn NodeFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runners[t] = fn
}

func (e *GraphExecutor) runner(t workflow.NodeType) NodeFunc {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.runners[t]
}

// Execute walks the graph from its start node. Each node executes against the
// shared context with additive merging; a node error stops execution
// immediately with no retry. The next node is the first edge in declaration
// order whose guard matches; no match is a graceful end. Cancellation is
// cooperative: the context is checked between nodes, never mid-node.
func (e *GraphExecutor) Execute(ctx context.Context, g *workflow.Graph, ec *ExecContext, onStep StepCallback) error {
	if g.StartCount() > 1 {
		slog.Warn("graph declares multiple start nodes, using the first",
			"graph", g.Name, "starts", g.StartCount(), "chosen", g.Start())
	}
	current := g.Start()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		node := g.Node(current)
		ec.Node = current
		if node.Type == workflow.NodeEnd {
			return nil
		}

		res, err := e.executeNode(ctx, node, ec.State)
		if err != nil {
			return fmt.Errorf("node %s: %w", current, err)
		}
		ec.merge(res)

		if onStep != nil {
			if err := onStep(ctx, current, res); err != nil {
				return fmt.Errorf("step callback for node %s: %w", current, err)
			}
		}

		next, ok := e.nextNode(g, current, ec.State)
		if !ok {
			return nil // no matching edge: graceful end
		}
		current = next
	}
}

func (e *GraphExecutor) executeNode(ctx context.Context, node *workflow.Node, state map[string]any) (*StepResult, error) {
	switch node.Type {
	case workflow.NodeStart, workflow.NodeCondition:
		// Pass-through nodes: edge guards do the work.
		return &StepResult{}, nil
	case workflow.NodeAgent, workflow.NodeTool:
		fn := e.runner(node.Type)
		if fn == nil {
			return nil, fmt.Errorf("no runner registered for node type %s", node.Type)
		}
		return fn(ctx, node, state)
	default:
		return nil, fmt.Errorf("unexpected node type %s", node.Type)
	}
}

func (e *GraphExecutor) nextNode(g *workflow.Graph, current string, state map[string]any) (string, bool) {
	for _, edge := range g.EdgesFrom(current) {
		if edge.Matches(state) {
			return edge.To, true
		}
	}
	return "", false
}

// merge folds a step result into the context. State keys overwrite, artifacts
// overwrite, counters accumulate.
func (ec *ExecContext) merge(res *StepResult) {
	if res == nil {
		ec.StepCount++
		return
	}
	for k, v := range res.State {
		ec.State[k] = v
	}
	for k, v := range res.Artifacts {
		ec.Artifacts[k] = v
	}
	ec.TokensUsed += res.TokensUsed
	ec.CostUSD += res.CostUSD
	ec.StepCount++
}
