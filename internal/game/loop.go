package game

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/libevm/shlop-app-sub002/internal/config"
	"github.com/libevm/shlop-app-sub002/internal/metrics"
)

// ErrLoopStopped is returned when work is submitted after Run returned.
var ErrLoopStopped = errors.New("game loop stopped")

// Deliverer performs the I/O for envelopes. Deliver is called on the loop
// goroutine and must not block.
type Deliverer interface {
	Deliver(envs []Envelope)
}

type work struct {
	kind string
	fn   func(*Dispatcher) []Envelope
	done chan struct{}
}

// Loop runs every unit of work (one message, one connection event, one
// sweep tick) to completion on a single goroutine, in submission order.
type Loop struct {
	d      *Dispatcher
	out    Deliverer
	sweeps config.SweepConfig
	logger *zap.Logger

	queue   chan work
	stopped chan struct{}
}

// NewLoop creates a loop around d. Nothing runs until Run is called.
func NewLoop(d *Dispatcher, out Deliverer, sweeps config.SweepConfig, queueSize int, logger *zap.Logger) *Loop {
	if queueSize <= 0 {
		queueSize = config.DefaultLimits().LoopQueue
	}
	return &Loop{
		d:       d,
		out:     out,
		sweeps:  sweeps,
		logger:  logger,
		queue:   make(chan work, queueSize),
		stopped: make(chan struct{}),
	}
}

// Submit queues fn. It blocks while the queue is full.
func (l *Loop) Submit(ctx context.Context, kind string, fn func(*Dispatcher) []Envelope) error {
	return l.enqueue(ctx, work{kind: kind, fn: fn})
}

// Do runs fn on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func(*Dispatcher)) error {
	w := work{
		kind: "query",
		fn: func(d *Dispatcher) []Envelope {
			fn(d)
			return nil
		},
		done: make(chan struct{}),
	}
	if err := l.enqueue(ctx, w); err != nil {
		return err
	}
	select {
	case <-w.done:
		return nil
	case <-l.stopped:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DoEnvelopes runs fn on the loop, delivers what it returns and hands fn's
// error back to the caller.
func (l *Loop) DoEnvelopes(ctx context.Context, fn func(*Dispatcher) ([]Envelope, error)) error {
	var fnErr error
	w := work{
		kind: "query",
		fn: func(d *Dispatcher) []Envelope {
			envs, err := fn(d)
			fnErr = err
			return envs
		},
		done: make(chan struct{}),
	}
	if err := l.enqueue(ctx, w); err != nil {
		return err
	}
	select {
	case <-w.done:
		return fnErr
	case <-l.stopped:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) enqueue(ctx context.Context, w work) error {
	select {
	case <-l.stopped:
		return ErrLoopStopped
	default:
	}
	select {
	case l.queue <- w:
		return nil
	case <-l.stopped:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes work and sweeps until ctx is cancelled, then saves every
// live session.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.stopped)

	liveness := time.NewTicker(l.sweeps.Liveness)
	defer liveness.Stop()
	reactors := time.NewTicker(l.sweeps.Reactors)
	defer reactors.Stop()
	drops := time.NewTicker(l.sweeps.Drops)
	defer drops.Stop()
	count := time.NewTicker(l.sweeps.PlayerCount)
	defer count.Stop()

	l.logger.Info("game loop started")

	for {
		select {
		case <-ctx.Done():
			n := l.d.FlushAll()
			l.logger.Info("game loop stopped", zap.Int("sessions_flushed", n))
			return ctx.Err()
		case w := <-l.queue:
			l.step(w)
		case <-liveness.C:
			l.step(work{kind: "sweep", fn: (*Dispatcher).SweepIdle})
		case <-reactors.C:
			l.step(work{kind: "sweep", fn: (*Dispatcher).SweepReactors})
		case <-drops.C:
			l.step(work{kind: "sweep", fn: (*Dispatcher).SweepDrops})
		case <-count.C:
			l.step(work{kind: "sweep", fn: (*Dispatcher).BroadcastPlayerCount})
		}
	}
}

func (l *Loop) step(w work) {
	start := time.Now()
	envs := w.fn(l.d)
	if len(envs) > 0 {
		l.out.Deliver(envs)
	}
	if w.done != nil {
		close(w.done)
	}
	metrics.ObserveStep(w.kind, time.Since(start))
	metrics.SetQueueDepth(len(l.queue))
}
