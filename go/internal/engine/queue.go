package engine

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// queueDepth bounds how many tasks may wait; the periodic driver already
// applies backpressure through InFlight, so the buffer only absorbs
// bursts of user input.
const queueDepth = 64

type task struct {
	name string
	run  func(ctx context.Context) error
}

// Queue linearizes every piece of work that touches the player or the
// relay: a single consumer goroutine executes tasks strictly in
// submission order, so no two tasks ever drive the adapter concurrently
// and none observes a partially applied effect of another. Task errors
// are swallowed and logged at this boundary; a failing task can never
// wedge the queue or escape to the caller.
type Queue struct {
	prelude  func(ctx context.Context)
	tasks    chan task
	inFlight atomic.Int32
}

// NewQueue creates a queue. prelude, if non-nil, runs before every task
// body.
func NewQueue(prelude func(ctx context.Context)) *Queue {
	return &Queue{
		prelude: prelude,
		tasks:   make(chan task, queueDepth),
	}
}

// Start launches the consumer goroutine. It runs until ctx is cancelled.
func (q *Queue) Start(ctx context.Context) {
	go q.loop(ctx)
}

func (q *Queue) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-q.tasks:
			q.execute(ctx, t)
		}
	}
}

func (q *Queue) execute(ctx context.Context, t task) {
	defer q.inFlight.Add(-1)

	if q.prelude != nil {
		q.prelude(ctx)
	}
	if err := t.run(ctx); err != nil {
		log.Warn().Err(err).Str("task", t.name).Msg("task failed")
	}
}

// Push enqueues fn to run after everything already queued. A full queue
// drops the task; the periodic driver will schedule equivalent work on a
// later cycle.
func (q *Queue) Push(name string, fn func(ctx context.Context) error) {
	q.inFlight.Add(1)
	select {
	case q.tasks <- task{name: name, run: fn}:
	default:
		q.inFlight.Add(-1)
		log.Warn().Str("task", name).Msg("task queue full, dropping task")
	}
}

// InFlight returns how many tasks are queued or currently running.
func (q *Queue) InFlight() int {
	return int(q.inFlight.Load())
}
