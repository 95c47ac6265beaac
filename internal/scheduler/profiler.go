package scheduler

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ProfileEvent is one recorded task execution (spec §4.1/§5's profiling
// event log: task kind, major id, name, worker, start/end).
type ProfileEvent struct {
	Desc     TaskDescription
	WorkerID int
	Start    time.Time
	End      time.Time
	Err      error
}

// Duration returns End.Sub(Start).
func (e ProfileEvent) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Profiler accumulates ProfileEvents and mirrors each one as an OpenTelemetry
// span, grounding spec §4.1's profiling hook in the ambient observability
// stack rather than a bespoke log format.
type Profiler struct {
	tracer trace.Tracer

	mu     sync.Mutex
	events []ProfileEvent
}

// NewProfiler creates a Profiler. tracerName is passed to otel.Tracer; pass
// "" to use the package default "hustle/scheduler".
func NewProfiler(tracerName string) *Profiler {
	if tracerName == "" {
		tracerName = "hustle/scheduler"
	}
	return &Profiler{tracer: otel.Tracer(tracerName)}
}

type profileSpan struct {
	p        *Profiler
	span     trace.Span
	desc     TaskDescription
	workerID int
	start    time.Time
}

// Begin starts timing and tracing one task execution.
func (p *Profiler) Begin(ctx context.Context, desc TaskDescription, workerID int) profileSpan {
	_, span := p.tracer.Start(ctx, desc.Name,
		trace.WithAttributes(
			attribute.String("hustle.task.kind", desc.Kind),
			attribute.String("hustle.task.major_id", desc.MajorID),
			attribute.Int("hustle.task.worker_id", workerID),
		),
	)
	return profileSpan{p: p, span: span, desc: desc, workerID: workerID, start: time.Now()}
}

// End finishes the span and records a ProfileEvent.
func (s profileSpan) End(err error) {
	if s.span == nil {
		return
	}
	end := time.Now()
	if err != nil {
		s.span.RecordError(err)
	}
	s.span.End()

	s.p.mu.Lock()
	s.p.events = append(s.p.events, ProfileEvent{
		Desc:     s.desc,
		WorkerID: s.workerID,
		Start:    s.start,
		End:      end,
		Err:      err,
	})
	s.p.mu.Unlock()
}

// Events returns a snapshot of all recorded events, in completion order.
func (p *Profiler) Events() []ProfileEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ProfileEvent, len(p.events))
	copy(out, p.events)
	return out
}
