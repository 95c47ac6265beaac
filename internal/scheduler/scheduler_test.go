package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAddTaskRunsImmediately(t *testing.T) {
	s := New(2, nil)
	var ran atomic.Bool
	s.AddTask(func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}, TaskDescription{Kind: "test", Name: "t1"})

	s.Start(context.Background())
	s.Join()
	require.True(t, ran.Load())
}

func TestAddTaskWithDependencyWaitsForDependency(t *testing.T) {
	s := New(2, nil)
	var mu sync.Mutex
	var order []string

	a := s.AddTask(func(ctx context.Context) error {
		mu.Lock()
		order = append(order, "a")
		mu.Unlock()
		return nil
	}, TaskDescription{Name: "a"})

	s.AddTaskWithDependency(func(ctx context.Context) error {
		mu.Lock()
		order = append(order, "b")
		mu.Unlock()
		return nil
	}, TaskDescription{Name: "b"}, a)

	s.Start(context.Background())
	s.Join()

	require.Equal(t, []string{"a", "b"}, order)
}

func TestAddTaskWithDependentBlocksUntilSpawnedSubtaskCompletes(t *testing.T) {
	s := New(2, nil)
	var mu sync.Mutex
	var order []string

	p1 := s.AddTask(func(ctx context.Context) error {
		mu.Lock()
		order = append(order, "p1")
		mu.Unlock()
		return nil
	}, TaskDescription{Name: "p1"})

	dependent := s.AddTaskWithDependency(func(ctx context.Context) error {
		mu.Lock()
		order = append(order, "dependent")
		mu.Unlock()
		return nil
	}, TaskDescription{Name: "dependent"}, p1)

	// A running task discovers it needs one more subtask finished before
	// dependent may start; wire it in after dependent already exists.
	s.AddTaskWithDependent(func(ctx context.Context) error {
		mu.Lock()
		order = append(order, "sub")
		mu.Unlock()
		return nil
	}, TaskDescription{Name: "sub"}, dependent)

	s.Start(context.Background())
	s.Join()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 3, len(order))
	require.Equal(t, "dependent", order[2])
	require.Contains(t, order[:2], "p1")
	require.Contains(t, order[:2], "sub")
}

func TestCreateTaskChainRunsInOrder(t *testing.T) {
	s := New(4, nil)
	var mu sync.Mutex
	var order []string

	fns := []TaskFunc{
		func(ctx context.Context) error {
			mu.Lock()
			order = append(order, "1")
			mu.Unlock()
			return nil
		},
		func(ctx context.Context) error {
			mu.Lock()
			order = append(order, "2")
			mu.Unlock()
			return nil
		},
		func(ctx context.Context) error {
			mu.Lock()
			order = append(order, "3")
			mu.Unlock()
			return nil
		},
	}
	descs := []TaskDescription{{Name: "1"}, {Name: "2"}, {Name: "3"}}

	chain := s.CreateTaskChain(fns, descs)
	var tailRan atomic.Bool
	s.AddTaskWithDependency(func(ctx context.Context) error {
		tailRan.Store(true)
		return nil
	}, TaskDescription{Name: "tail"}, chain)

	s.Start(context.Background())
	s.Join()

	require.Equal(t, []string{"1", "2", "3"}, order)
	require.True(t, tailRan.Load())
}

func TestHaltDropsUnstartedTasks(t *testing.T) {
	s := New(1, nil)
	var ranFirst atomic.Bool
	var ranSecond atomic.Bool

	first := s.AddTask(func(ctx context.Context) error {
		ranFirst.Store(true)
		s.Halt()
		return nil
	}, TaskDescription{Name: "first"})

	s.AddTaskWithDependency(func(ctx context.Context) error {
		ranSecond.Store(true)
		return nil
	}, TaskDescription{Name: "second"}, first)

	s.Start(context.Background())
	s.Join()

	require.True(t, ranFirst.Load())
	require.False(t, ranSecond.Load())
}

func TestProfilerRecordsEvents(t *testing.T) {
	p := NewProfiler("")
	s := New(2, p)

	s.AddTask(func(ctx context.Context) error {
		time.Sleep(time.Millisecond)
		return nil
	}, TaskDescription{Kind: "select", MajorID: "q1", Name: "scan-block-0"})

	s.Start(context.Background())
	s.Join()

	events := p.Events()
	require.Len(t, events, 1)
	require.Equal(t, "q1", events[0].Desc.MajorID)
	require.True(t, events[0].End.After(events[0].Start) || events[0].End.Equal(events[0].Start))
}

func TestParallelForRunsAllAndReturnsFirstError(t *testing.T) {
	s := New(4, nil)
	s.Start(context.Background())

	var sum atomic.Int64
	err := s.ParallelFor(TaskDescription{Kind: "select", Name: "scan"}, 10, func(i int) error {
		sum.Add(int64(i))
		return nil
	})
	require.NoError(t, err)
	require.EqualValues(t, 45, sum.Load())

	boom := errors.New("boom")
	err = s.ParallelFor(TaskDescription{Kind: "select", Name: "scan"}, 3, func(i int) error {
		if i == 1 {
			return boom
		}
		return nil
	})
	require.Error(t, err)

	s.Join()
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

// TestContinuationDoesNotFireBeforeSealedDependencyCompletes wires a
// continuation's producer edge and dependent edge after Start has already
// brought worker goroutines up, which is exactly the window where an
// unsealed continuation could previously race: AllocateContinuation used to
// enqueue the continuation the instant it was created, when it trivially had
// zero dependencies, so a dependent task could run before the producer the
// caller was still in the middle of linking in.
func TestContinuationDoesNotFireBeforeSealedDependencyCompletes(t *testing.T) {
	s := New(4, nil)
	s.Start(context.Background())

	cont := s.AllocateContinuation()

	var producerDone atomic.Bool
	var dependentRan atomic.Bool
	var sawViolation atomic.Bool

	s.AddTaskWithDependency(func(ctx context.Context) error {
		if !producerDone.Load() {
			sawViolation.Store(true)
		}
		dependentRan.Store(true)
		return nil
	}, TaskDescription{Name: "dependent"}, cont)

	block := make(chan struct{})
	producer := s.AddTask(func(ctx context.Context) error {
		<-block
		producerDone.Store(true)
		return nil
	}, TaskDescription{Name: "producer"})

	// Both of these run concurrently with workers already draining the
	// ready queue. Before the continuation is sealed it must not dispatch,
	// no matter how fast the worker pool observes deps reaching 0.
	s.AddLink(producer, cont)
	s.SealContinuation(cont)

	time.Sleep(20 * time.Millisecond)
	require.False(t, dependentRan.Load(), "dependent ran before its continuation's producer completed")

	close(block)
	s.Join()

	require.True(t, dependentRan.Load())
	require.False(t, sawViolation.Load())
}
