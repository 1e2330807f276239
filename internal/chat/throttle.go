// Package chat throttles and sanitises player chat lines before they are
// relayed to a room.
package chat

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// ThrottleConfig configures per-session chat limits.
type ThrottleConfig struct {
	// MaxPerWindow is max lines per window
	MaxPerWindow int
	// Window is the fixed window size
	Window time.Duration
	// Cooldown is minimum time between lines
	Cooldown time.Duration
	// MaxLength caps a line, in runes
	MaxLength int
}

// DefaultThrottleConfig for room chat
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		MaxPerWindow: 8,
		Window:       5 * time.Second,
		Cooldown:     400 * time.Millisecond,
		MaxLength:    200,
	}
}

type sessionWindow struct {
	count     int
	windowEnd time.Time
	lastLine  time.Time
}

// Throttle limits how fast each session can chat. It is driven by the caller's
// clock and owned by the game loop, so it takes no locks.
type Throttle struct {
	cfg      ThrottleConfig
	sessions map[string]*sessionWindow
}

// NewThrottle creates a throttle.
func NewThrottle(cfg ThrottleConfig) *Throttle {
	return &Throttle{cfg: cfg, sessions: make(map[string]*sessionWindow)}
}

// Allow reports whether name may send a line at now.
func (t *Throttle) Allow(name string, now time.Time) bool {
	w, ok := t.sessions[name]
	if !ok {
		t.sessions[name] = &sessionWindow{count: 1, windowEnd: now.Add(t.cfg.Window), lastLine: now}
		return true
	}

	if now.Sub(w.lastLine) < t.cfg.Cooldown {
		return false
	}

	if !now.Before(w.windowEnd) {
		w.count = 1
		w.windowEnd = now.Add(t.cfg.Window)
		w.lastLine = now
		return true
	}

	if t.cfg.MaxPerWindow > 0 && w.count >= t.cfg.MaxPerWindow {
		return false
	}
	w.count++
	w.lastLine = now
	return true
}

// Forget drops state for a session that left.
func (t *Throttle) Forget(name string) {
	delete(t.sessions, name)
}

// Clean trims whitespace, strips control characters and caps the length.
// It returns "" for a line with nothing left to say.
func (t *Throttle) Clean(text string) string {
	text = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
	text = strings.TrimSpace(text)
	if t.cfg.MaxLength > 0 && utf8.RuneCountInString(text) > t.cfg.MaxLength {
		text = string([]rune(text)[:t.cfg.MaxLength])
	}
	return text
}
