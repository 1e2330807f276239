package persist

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// saveQueue is the write state of one character. At most one worker drains
// it, so writes for a name land in the order they were scheduled.
type saveQueue struct {
	next   *Snapshot // waiting to be written; a newer Save replaces it
	latest Snapshot  // newest scheduled snapshot, served by Load until written
}

// AsyncSaver performs saves in the background. Save never blocks the caller
// and failures are only logged. Saves for the same name are written one at a
// time and only the newest pending snapshot is kept.
type AsyncSaver struct {
	store   Store
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup

	mu     sync.Mutex
	queues map[string]*saveQueue

	// OnResult, if set, observes the outcome of every save.
	OnResult func(name string, err error)
}

// NewAsyncSaver wraps store.
func NewAsyncSaver(store Store, timeout time.Duration, logger *zap.Logger) *AsyncSaver {
	return &AsyncSaver{
		store:   store,
		timeout: timeout,
		logger:  logger,
		queues:  make(map[string]*saveQueue),
	}
}

// Save schedules a save of a private copy of snap.
func (s *AsyncSaver) Save(name string, snap Snapshot) {
	snap = snap.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	q, running := s.queues[name]
	if !running {
		q = &saveQueue{}
		s.queues[name] = q
	}
	q.next = &snap
	q.latest = snap
	if !running {
		s.wg.Add(1)
		go s.drain(name, q)
	}
}

// Load implements Loader. A snapshot that is scheduled but not yet written
// wins over the store, so a fast reconnect never reads stale state.
func (s *AsyncSaver) Load(ctx context.Context, name string) (*Snapshot, error) {
	s.mu.Lock()
	if q, ok := s.queues[name]; ok {
		snap := q.latest.Clone()
		s.mu.Unlock()
		return &snap, nil
	}
	s.mu.Unlock()
	return s.store.Load(ctx, name)
}

func (s *AsyncSaver) drain(name string, q *saveQueue) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if q.next == nil {
			delete(s.queues, name)
			s.mu.Unlock()
			return
		}
		snap := *q.next
		q.next = nil
		s.mu.Unlock()

		s.write(name, snap)
	}
}

func (s *AsyncSaver) write(name string, snap Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	err := s.store.Save(ctx, name, snap)
	if err != nil {
		s.logger.Warn("snapshot save failed", zap.String("session", name), zap.Error(err))
	} else {
		s.logger.Debug("snapshot saved", zap.String("session", name), zap.String("map", snap.MapID))
	}
	if s.OnResult != nil {
		s.OnResult(name, err)
	}
}

// Wait blocks until all scheduled saves finish or ctx is done.
func (s *AsyncSaver) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
