// Package scheduler implements the task-DAG worker pool described in spec
// §4.1/§5: a fixed-size worker pool executing tasks whose ordering is
// dictated entirely by explicit dependency edges, with continuation nodes
// as rendezvous points and an optional profiling event log.
//
// The scheduler thread (the goroutine that calls AddTask/AddLink/etc.) is
// logically separate from worker goroutines: workers only ever run a task
// body and report completion back through the scheduler's own locked
// state, matching spec §5's "scheduler owns the task map and the
// dependency graph; workers own only the task they currently execute."
package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// NodeID identifies any node in the task DAG: a task or a continuation.
type NodeID uint64

type nodeKind int

const (
	kindTask nodeKind = iota
	kindContinuation
)

// TaskFunc is the body of one task. The scheduler is failure-oblivious
// (spec §4.1/§7): a non-nil error is recorded in profiling only; task
// bodies are responsible for writing failures into whatever shared
// OperatorResult error slot they were given.
type TaskFunc func(ctx context.Context) error

// TaskDescription carries a task-type tag, a major id (query id or
// relational-op id), and a free-form name, used by the profiler (spec
// §4.1).
type TaskDescription struct {
	Kind    string
	MajorID string
	Name    string
}

type node struct {
	id         NodeID
	kind       nodeKind
	fn         TaskFunc
	desc       TaskDescription
	deps       int
	dependents []NodeID
	enqueued   bool
	done       bool

	// sealed gates dispatch. Tasks are sealed the instant they're created,
	// since a task's dependency (if any) is established atomically before
	// anyone else can observe its NodeID. Continuations are NOT sealed at
	// allocation: a continuation's whole point is to gain dependency edges
	// across several later AddLink calls, and firing it the moment it's
	// allocated (when deps is trivially 0, before any of those calls have
	// happened) would let it complete before the work it's meant to wait
	// for even exists. SealContinuation flips this once the caller has
	// finished wiring every edge into it.
	sealed bool
}

// readyQueueCapacity bounds the number of ready-to-run nodes buffered
// between the scheduler's own goroutine and the worker pool. It is sized
// generously rather than tuned, since block-parallel fan-out (one subtask
// per block) is the dominant source of burst enqueues.
const readyQueueCapacity = 1 << 16

// Scheduler executes a DAG of tasks across a fixed-size worker pool (spec
// §4.1).
type Scheduler struct {
	mu     sync.Mutex
	nodes  map[NodeID]*node
	nextID uint64

	workerCount int
	ready       chan NodeID
	stop        chan struct{}
	wg          sync.WaitGroup // one Add per node, one Done per completion

	halted atomic.Bool
	profiler *Profiler
}

// New creates a Scheduler with the given worker count (0 means hardware
// concurrency, spec §5) and an optional profiler (nil disables profiling).
func New(workers int, profiler *Profiler) *Scheduler {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Scheduler{
		nodes:       make(map[NodeID]*node),
		workerCount: workers,
		ready:       make(chan NodeID, readyQueueCapacity),
		stop:        make(chan struct{}),
		profiler:    profiler,
	}
}

func (s *Scheduler) allocate(kind nodeKind, fn TaskFunc, desc TaskDescription) NodeID {
	s.mu.Lock()
	id := NodeID(s.nextID)
	s.nextID++
	// Tasks are sealed at birth: nothing can add a dependency edge to a
	// NodeID before the caller who allocated it has returned, so a task's
	// dependency set is already final. Continuations are the exception;
	// see SealContinuation.
	s.nodes[id] = &node{id: id, kind: kind, fn: fn, desc: desc, sealed: kind == kindTask}
	s.mu.Unlock()
	s.wg.Add(1)
	return id
}

// addEdge records that `to` depends on `from`. If `from` has already
// completed, the edge is a no-op (the dependency is trivially satisfied).
func (s *Scheduler) addEdge(from, to NodeID) {
	s.mu.Lock()
	fromNode, toNode := s.nodes[from], s.nodes[to]
	if fromNode == nil || toNode == nil || fromNode.done {
		s.mu.Unlock()
		return
	}
	toNode.deps++
	fromNode.dependents = append(fromNode.dependents, to)
	s.mu.Unlock()
}

func (s *Scheduler) maybeEnqueue(id NodeID) {
	s.mu.Lock()
	n := s.nodes[id]
	ready := n.sealed && n.deps == 0 && !n.enqueued && !n.done
	if ready {
		n.enqueued = true
	}
	s.mu.Unlock()
	if ready {
		s.dispatch(id, n)
	}
}

func (s *Scheduler) dispatch(id NodeID, n *node) {
	if n.kind == kindContinuation {
		// A continuation holds no work of its own; it completes the
		// instant its dependencies are satisfied (spec GLOSSARY).
		go s.complete(id)
		return
	}
	s.ready <- id
}

// AddTask enqueues a ready task with no dependencies.
func (s *Scheduler) AddTask(fn TaskFunc, desc TaskDescription) NodeID {
	id := s.allocate(kindTask, fn, desc)
	s.maybeEnqueue(id)
	return id
}

// AddTaskWithDependency creates a task that becomes ready only once `dep`
// (another task or continuation) completes.
func (s *Scheduler) AddTaskWithDependency(fn TaskFunc, desc TaskDescription, dep NodeID) NodeID {
	id := s.allocate(kindTask, fn, desc)
	s.addEdge(dep, id)
	s.maybeEnqueue(id)
	return id
}

// AddTaskWithDependent creates a ready task that, when complete, unblocks
// `dependent`.
func (s *Scheduler) AddTaskWithDependent(fn TaskFunc, desc TaskDescription, dependent NodeID) NodeID {
	id := s.allocate(kindTask, fn, desc)
	s.addEdge(id, dependent)
	s.maybeEnqueue(id)
	return id
}

// AddLink adds a dependency edge a -> b: b starts strictly after a's body
// returns (spec §5's ordering guarantee).
func (s *Scheduler) AddLink(a, b NodeID) {
	s.addEdge(a, b)
	s.maybeEnqueue(b)
}

// AllocateContinuation reserves a rendezvous node that completes once every
// task naming it as a dependent has completed (spec §4.1 GLOSSARY). The
// continuation is NOT eligible to fire until SealContinuation is called: an
// unsealed continuation can still gain incoming edges via AddLink without
// racing a worker that might otherwise see zero pending deps and dispatch it
// before the caller has finished wiring its dependencies in. Every
// AllocateContinuation must eventually be paired with exactly one
// SealContinuation, or Join blocks forever on its reserved wg slot.
func (s *Scheduler) AllocateContinuation() NodeID {
	return s.allocate(kindContinuation, nil, TaskDescription{Kind: "continuation"})
}

// SealContinuation marks a continuation as done accepting new dependency
// edges and, if all of its current dependencies have already completed,
// dispatches it immediately. Call this once, after every AddLink/
// AddTaskWithDependent call that names this continuation as the target.
func (s *Scheduler) SealContinuation(id NodeID) {
	s.mu.Lock()
	n := s.nodes[id]
	n.sealed = true
	ready := n.deps == 0 && !n.enqueued && !n.done
	if ready {
		n.enqueued = true
	}
	s.mu.Unlock()
	if ready {
		s.dispatch(id, n)
	}
}

// SpawnLambdaTask lets a running task body enqueue a subtask into the same
// scheduler graph (spec §4.1's spawnLambdaTask).
func (s *Scheduler) SpawnLambdaTask(fn TaskFunc, desc TaskDescription) NodeID {
	return s.AddTask(fn, desc)
}

// CreateTaskChain wraps an ordered list of task bodies into a linear
// sub-DAG where each element depends on the previous one's rendezvous
// (spec §4.1), and returns the final continuation's NodeID so other work
// can depend on the whole chain via AddLink.
func (s *Scheduler) CreateTaskChain(fns []TaskFunc, descs []TaskDescription) NodeID {
	if len(fns) == 0 {
		cont := s.AllocateContinuation()
		s.SealContinuation(cont)
		return cont
	}
	first := s.AddTask(fns[0], descs[0])
	cont := s.AllocateContinuation()
	s.AddLink(first, cont)
	s.SealContinuation(cont)

	for i := 1; i < len(fns); i++ {
		t := s.AddTaskWithDependency(fns[i], descs[i], cont)
		next := s.AllocateContinuation()
		s.AddLink(t, next)
		s.SealContinuation(next)
		cont = next
	}
	return cont
}

func (s *Scheduler) complete(id NodeID) {
	s.mu.Lock()
	n := s.nodes[id]
	if n.done {
		s.mu.Unlock()
		return
	}
	n.done = true
	dependents := append([]NodeID(nil), n.dependents...)
	s.mu.Unlock()

	for _, dep := range dependents {
		s.mu.Lock()
		depNode := s.nodes[dep]
		depNode.deps--
		ready := depNode.sealed && depNode.deps == 0 && !depNode.enqueued && !depNode.done
		if ready {
			depNode.enqueued = true
		}
		s.mu.Unlock()
		if ready {
			s.dispatch(dep, depNode)
		}
	}
	s.wg.Done()
}

// Start brings the worker pool up. It may be called at most once.
func (s *Scheduler) Start(ctx context.Context) {
	for i := 0; i < s.workerCount; i++ {
		workerID := i
		go s.runWorker(ctx, workerID)
	}
}

func (s *Scheduler) runWorker(ctx context.Context, workerID int) {
	for {
		select {
		case <-s.stop:
			return
		case id, ok := <-s.ready:
			if !ok {
				return
			}
			s.runTask(ctx, workerID, id)
		}
	}
}

func (s *Scheduler) runTask(ctx context.Context, workerID int, id NodeID) {
	s.mu.Lock()
	n := s.nodes[id]
	s.mu.Unlock()

	if s.halted.Load() {
		// Cancellation drains the ready queue: a task not yet started
		// never runs. There is no mid-task cancellation (spec §4.1).
		s.complete(id)
		return
	}

	var span profileSpan
	if s.profiler != nil {
		span = s.profiler.Begin(ctx, n.desc, workerID)
	}
	err := n.fn(ctx)
	if s.profiler != nil {
		span.End(err)
	}
	s.complete(id)
}

// WorkerCount returns the scheduler's configured worker count, used by
// operators to size their own chunk-parallel batches (spec §4.7: "batch
// size ≈ num_chunks / (2·worker_count)").
func (s *Scheduler) WorkerCount() int {
	return s.workerCount
}

// Halt drains the scheduler's own ready queue: tasks not yet started never
// run; a worker currently executing a task finishes it first (spec §4.1).
// The scheduler itself does not observe task errors; callers detect
// cancellation through whatever OperatorResult error slot they share.
func (s *Scheduler) Halt() {
	s.halted.Store(true)
}

// Join blocks until every node in the DAG has completed (either by running
// or by being dropped after Halt), then stops the worker pool. Join is a
// shutdown primitive: call it once, when the engine itself is closing, not
// after each query (ParallelFor is the per-query fan-out/join primitive).
func (s *Scheduler) Join() {
	s.wg.Wait()
	close(s.stop)
}

// ParallelFor runs fn(i) for i in [0,n) as independent tasks on this
// scheduler's worker pool and blocks until all of them complete, returning
// the first non-nil error observed (spec §4.5: "blocks are processed in
// parallel by spawning one subtask per block"). Unlike Join, ParallelFor
// does not stop the worker pool — it is the fan-out/rendezvous primitive an
// operator uses for its own block-parallel work inside a single
// OperatorFunc call, on a scheduler that stays alive across many queries.
func (s *Scheduler) ParallelFor(desc TaskDescription, n int, fn func(i int) error) error {
	if n == 0 {
		return nil
	}
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		d := desc
		d.Name = fmt.Sprintf("%s[%d]", desc.Name, i)
		s.AddTask(func(ctx context.Context) error {
			defer wg.Done()
			err := fn(i)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
			return err
		}, d)
	}
	wg.Wait()
	return firstErr
}
