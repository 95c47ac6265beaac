package operator

import (
	"context"
	"fmt"
	"sync"

	"github.com/hustle-db/hustle/internal/scheduler"
)

// OperatorID identifies one node of an ExecutionPlan.
type OperatorID int

// OperatorFunc executes one operator node given the OperatorResults
// produced by its producers (in link-creation order). It returns the
// node's own OperatorResult.
type OperatorFunc func(ctx context.Context, inputs []*OperatorResult) (*OperatorResult, error)

type planNode struct {
	id        OperatorID
	name      string
	fn        OperatorFunc
	producers []OperatorID
}

// ExecutionPlan is a DAG of operators with explicit producer->consumer
// edges (spec §4.9): selects feed joins feed aggregation feed projection.
// Plans are built by internal/engine from the internal/oracle resolver's
// Plan and fired by internal/scheduler.
type ExecutionPlan struct {
	nodes      map[OperatorID]*planNode
	nextID     OperatorID
	terminal   OperatorID
	hasTerm    bool
	projection []ColumnReference
}

// NewExecutionPlan creates an empty plan.
func NewExecutionPlan() *ExecutionPlan {
	return &ExecutionPlan{nodes: make(map[OperatorID]*planNode)}
}

// AddOperator registers a new operator node and returns its id.
func (p *ExecutionPlan) AddOperator(name string, fn OperatorFunc) OperatorID {
	id := p.nextID
	p.nextID++
	p.nodes[id] = &planNode{id: id, name: name, fn: fn}
	return id
}

// CreateLink records that consumer depends on producer's output, in the
// order CreateLink is called for a given consumer (spec §4.9).
func (p *ExecutionPlan) CreateLink(producer, consumer OperatorID) error {
	cons, ok := p.nodes[consumer]
	if !ok {
		return fmt.Errorf("execution plan: unknown consumer operator %d", consumer)
	}
	if _, ok := p.nodes[producer]; !ok {
		return fmt.Errorf("execution plan: unknown producer operator %d", producer)
	}
	cons.producers = append(cons.producers, producer)
	return nil
}

// SetTerminal marks the operator whose OperatorResult is the plan's final
// output (spec §4.9); its completion releases the caller's synchronization
// primitive in internal/engine.
func (p *ExecutionPlan) SetTerminal(id OperatorID) error {
	if _, ok := p.nodes[id]; !ok {
		return fmt.Errorf("execution plan: unknown terminal operator %d", id)
	}
	p.terminal = id
	p.hasTerm = true
	return nil
}

// SetProjection records the final projected column references (spec §4.9,
// consumed by internal/exec/project).
func (p *ExecutionPlan) SetProjection(refs []ColumnReference) {
	p.projection = refs
}

// Projection returns the final projected column references.
func (p *ExecutionPlan) Projection() []ColumnReference {
	return p.projection
}

// topoOrder returns operator ids in a valid execution order (producers
// before consumers). Sibling order among operators with no dependency path
// between them is unspecified, matching spec §5's "implementations MUST
// NOT assume FIFO order of sibling tasks" — callers must not rely on it
// for anything but correctness of producer-before-consumer ordering.
func (p *ExecutionPlan) topoOrder() ([]OperatorID, error) {
	visited := make(map[OperatorID]int) // 0=unvisited,1=visiting,2=done
	var order []OperatorID
	var visit func(id OperatorID) error
	visit = func(id OperatorID) error {
		switch visited[id] {
		case 2:
			return nil
		case 1:
			return fmt.Errorf("execution plan: cycle detected at operator %d", id)
		}
		visited[id] = 1
		n := p.nodes[id]
		for _, dep := range n.producers {
			if err := visit(dep); err != nil {
				return err
			}
		}
		visited[id] = 2
		order = append(order, id)
		return nil
	}
	for id := range p.nodes {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Run fires every operator as a node on sched's own dependency graph and
// blocks until the terminal operator completes (spec §1/§4.9: the plan is
// "a dependency DAG driven by a work-stealing task scheduler"). Producers
// run before their consumers because each consumer is created as a task
// that depends on its producers' scheduler nodes — a zero-producer node
// becomes a ready AddTask, a single-producer node an
// AddTaskWithDependency, and a multi-producer node (a join feeding from
// more than one upstream operator) fans in through a continuation, so the
// same continuation mechanism spec §4.1 describes for intra-operator
// fan-out also drives inter-operator joins in a plan. major tags every
// node's TaskDescription for the profiler. Operators without a dependency
// path between them run concurrently on sched's worker pool; multi-block
// data-parallel fan-out within a single operator (Select, Join probe,
// HashAggregate) is invoked from inside that operator's own OperatorFunc,
// using the same scheduler.
func (p *ExecutionPlan) Run(ctx context.Context, sched *scheduler.Scheduler, major string) (*OperatorResult, error) {
	if !p.hasTerm {
		return nil, fmt.Errorf("execution plan: no terminal operator set")
	}
	order, err := p.topoOrder()
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	results := make(map[OperatorID]*OperatorResult, len(order))
	var firstErr error
	recordErr := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	var wg sync.WaitGroup
	wg.Add(len(order))
	schedNode := make(map[OperatorID]scheduler.NodeID, len(order))

	for _, id := range order {
		n := p.nodes[id]
		desc := scheduler.TaskDescription{Kind: "operator", MajorID: major, Name: n.name}

		body := func(ctx context.Context) error {
			defer wg.Done()
			mu.Lock()
			inputs := make([]*OperatorResult, len(n.producers))
			for i, dep := range n.producers {
				inputs[i] = results[dep]
			}
			mu.Unlock()

			res, err := n.fn(ctx, inputs)
			if err != nil {
				err = fmt.Errorf("execution plan: operator %q: %w", n.name, err)
				recordErr(err)
				return err
			}
			if res != nil {
				if rerr := res.Err(); rerr != nil {
					recordErr(fmt.Errorf("execution plan: operator %q: %w", n.name, rerr))
				}
			}
			mu.Lock()
			results[id] = res
			mu.Unlock()
			return nil
		}

		switch len(n.producers) {
		case 0:
			schedNode[id] = sched.AddTask(body, desc)
		case 1:
			schedNode[id] = sched.AddTaskWithDependency(body, desc, schedNode[n.producers[0]])
		default:
			cont := sched.AllocateContinuation()
			for _, dep := range n.producers {
				sched.AddLink(schedNode[dep], cont)
			}
			sched.SealContinuation(cont)
			schedNode[id] = sched.AddTaskWithDependency(body, desc, cont)
		}
	}

	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	mu.Lock()
	defer mu.Unlock()
	return results[p.terminal], nil
}
