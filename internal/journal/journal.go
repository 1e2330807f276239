// Package journal keeps a bounded, rate-limited audit trail of anti-cheat
// rejections and economy events, written asynchronously as JSONL.
package journal

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Kind classifies a journal entry.
type Kind string

const (
	KindSpeedViolation    Kind = "speed_violation"
	KindPortalDenied      Kind = "portal_denied"
	KindNPCTravelDenied   Kind = "npc_travel_denied"
	KindProtocolViolation Kind = "protocol_violation"
	KindInvalidToken      Kind = "invalid_token"
	KindSessionReplaced   Kind = "session_replaced"
	KindReactorDestroyed  Kind = "reactor_destroyed"
	KindDropLooted        Kind = "drop_looted"
	KindItemDropped       Kind = "item_dropped"
	KindRateLimited       Kind = "rate_limited"
)

// Entry is one journal line.
type Entry struct {
	Seq     uint64         `json:"seq"`
	At      time.Time      `json:"at"`
	Kind    Kind           `json:"kind"`
	Session string         `json:"session,omitempty"`
	Room    string         `json:"room,omitempty"`
	Detail  map[string]any `json:"detail,omitempty"`
}

// Options bounds the journal's memory and write rate.
type Options struct {
	BufferSize       int
	EntriesPerSec    float64
	PerSessionPerSec float64
	FlushInterval    time.Duration
	LimiterIdle      time.Duration
}

// DefaultOptions suits a single game process.
func DefaultOptions() Options {
	return Options{
		BufferSize:       1024,
		EntriesPerSec:    2000,
		PerSessionPerSec: 20,
		FlushInterval:    250 * time.Millisecond,
		LimiterIdle:      5 * time.Minute,
	}
}

type sessionLimiter struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// Journal is safe for concurrent use. Record never blocks on I/O: entries
// land in a ring buffer and a background writer drains it. When the ring is
// full the oldest unwritten entry is dropped.
type Journal struct {
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	ring     []Entry
	head     uint64 // next sequence number to assign
	tail     uint64 // next sequence number to write
	global   *rate.Limiter
	sessions map[string]*sessionLimiter
	dropped  uint64
	total    uint64

	out     io.WriteCloser
	stop    chan struct{}
	done    chan struct{}
	stopped sync.Once
	running bool
}

// New creates a stopped journal.
func New(opts Options, logger *zap.Logger) *Journal {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultOptions().BufferSize
	}
	return &Journal{
		opts:     opts,
		logger:   logger,
		ring:     make([]Entry, opts.BufferSize),
		head:     1,
		tail:     1,
		global:   rate.NewLimiter(rate.Limit(opts.EntriesPerSec), max(1, int(opts.EntriesPerSec/10))),
		sessions: make(map[string]*sessionLimiter),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start opens path for append and launches the writer. An empty path keeps
// entries in memory only.
func (j *Journal) Start(path string) error {
	var out io.WriteCloser
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		out = f
	}
	j.StartWriter(out)
	return nil
}

// StartWriter launches the writer over an arbitrary sink. A nil sink keeps
// entries in memory only.
func (j *Journal) StartWriter(out io.WriteCloser) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return
	}
	j.running = true
	j.out = out
	j.mu.Unlock()

	go j.writerLoop()
}

// Stop flushes pending entries and closes the sink.
func (j *Journal) Stop() {
	j.stopped.Do(func() {
		j.mu.Lock()
		running := j.running
		j.mu.Unlock()
		if !running {
			return
		}
		close(j.stop)
		<-j.done
	})
}

// Record appends an entry. It returns false if the entry was rate limited.
func (j *Journal) Record(kind Kind, sessionName, room string, detail map[string]any) bool {
	now := time.Now()

	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.global.AllowN(now, 1) {
		j.dropped++
		return false
	}
	if sessionName != "" && !j.sessionLimiterLocked(sessionName, now).AllowN(now, 1) {
		j.dropped++
		return false
	}

	size := uint64(len(j.ring))
	if j.head-j.tail >= size {
		j.tail++
		j.dropped++
	}
	j.ring[j.head%size] = Entry{
		Seq:     j.head,
		At:      now,
		Kind:    kind,
		Session: sessionName,
		Room:    room,
		Detail:  detail,
	}
	j.head++
	j.total++
	return true
}

// Recent returns up to n of the newest entries still held in the ring,
// oldest first.
func (j *Journal) Recent(n int) []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()

	size := uint64(len(j.ring))
	first := uint64(1)
	if j.head > size {
		first = j.head - size
	}
	if uint64(n) < j.head-first {
		first = j.head - uint64(n)
	}
	out := make([]Entry, 0, j.head-first)
	for seq := first; seq < j.head; seq++ {
		out = append(out, j.ring[seq%size])
	}
	return out
}

// Stats reports counters for the stats endpoint.
func (j *Journal) Stats() map[string]any {
	j.mu.Lock()
	defer j.mu.Unlock()
	return map[string]any{
		"total":   j.total,
		"dropped": j.dropped,
		"pending": j.head - j.tail,
	}
}

func (j *Journal) sessionLimiterLocked(name string, now time.Time) *rate.Limiter {
	if e, ok := j.sessions[name]; ok {
		e.lastUsed = now
		return e.limiter
	}
	e := &sessionLimiter{
		limiter:  rate.NewLimiter(rate.Limit(j.opts.PerSessionPerSec), max(1, int(j.opts.PerSessionPerSec))),
		lastUsed: now,
	}
	j.sessions[name] = e
	return e.limiter
}

func (j *Journal) writerLoop() {
	defer close(j.done)

	interval := j.opts.FlushInterval
	if interval <= 0 {
		interval = DefaultOptions().FlushInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stop:
			j.flush()
			if j.out != nil {
				if err := j.out.Close(); err != nil {
					j.logger.Warn("closing journal", zap.Error(err))
				}
			}
			return
		case <-ticker.C:
			j.flush()
			j.pruneLimiters(time.Now())
		}
	}
}

func (j *Journal) flush() {
	j.mu.Lock()
	size := uint64(len(j.ring))
	batch := make([]Entry, 0, j.head-j.tail)
	for seq := j.tail; seq < j.head; seq++ {
		batch = append(batch, j.ring[seq%size])
	}
	j.tail = j.head
	j.mu.Unlock()

	if j.out == nil || len(batch) == 0 {
		return
	}
	for _, e := range batch {
		line, err := json.Marshal(e)
		if err != nil {
			continue
		}
		line = append(line, '\n')
		if _, err := j.out.Write(line); err != nil {
			j.logger.Warn("journal write failed", zap.Error(err))
			return
		}
	}
}

func (j *Journal) pruneLimiters(now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	cutoff := now.Add(-j.opts.LimiterIdle)
	for name, e := range j.sessions {
		if e.lastUsed.Before(cutoff) {
			delete(j.sessions, name)
		}
	}
}
