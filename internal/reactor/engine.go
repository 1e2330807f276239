// Package reactor implements destructible map objects. Each map has a fixed
// list of reactors; a reactor loses one hit point per accepted hit, shares a
// single hit cooldown between all players, and respawns a fixed delay after
// it is destroyed.
package reactor

import (
	"errors"
	"math"
	"time"

	"github.com/libevm/shlop-app-sub002/internal/config"
)

// Hit failures. ErrCooldown is not reported to clients.
var (
	ErrInvalidReactor = errors.New("invalid_reactor")
	ErrInactive       = errors.New("inactive")
	ErrOutOfRange     = errors.New("out_of_range")
	ErrCooldown       = errors.New("cooldown")
)

// Placement is the static position of a reactor. MaxHP 0 uses the engine default.
type Placement struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	MaxHP int     `json:"max_hp,omitempty"`
}

// PlacementSource provides the reactor placements of a map.
type PlacementSource interface {
	Reactors(mapID string) []Placement
}

// State is the live state of one reactor.
type State struct {
	Index     int
	X, Y      float64
	HP        int
	MaxHP     int
	Stage     int // Visual state counter, increases per accepted hit
	Active    bool
	LastHit   time.Time
	RespawnAt time.Time

	damage map[string]int
	order  []string // first-seen order of damage dealers
}

// View is the broadcastable form of a State.
type View struct {
	Index  int     `json:"index"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	HP     int     `json:"hp"`
	MaxHP  int     `json:"max_hp"`
	Stage  int     `json:"state"`
	Active bool    `json:"active"`
}

func (s *State) view() View {
	return View{Index: s.Index, X: s.X, Y: s.Y, HP: s.HP, MaxHP: s.MaxHP, Stage: s.Stage, Active: s.Active}
}

func (s *State) reset() {
	s.HP = s.MaxHP
	s.Stage = 0
	s.Active = true
	s.LastHit = time.Time{}
	s.RespawnAt = time.Time{}
	s.damage = make(map[string]int)
	s.order = s.order[:0]
}

// topDamager returns the actor with most hits, ties going to the first seen.
func (s *State) topDamager() string {
	owner, best := "", 0
	for _, id := range s.order {
		if n := s.damage[id]; n > best {
			owner, best = id, n
		}
	}
	return owner
}

// HitResult describes an accepted hit.
type HitResult struct {
	MapID     string
	Index     int
	Stage     int
	HP        int
	X, Y      float64
	Destroyed bool
	Owner     string // Loot owner, set when Destroyed
}

// Respawn describes a reactor that came back.
type Respawn struct {
	MapID string
	View  View
}

// Engine owns the reactor states of every map. It is not safe for concurrent
// use; the session loop serializes access.
type Engine struct {
	cfg        config.ReactorConfig
	placements PlacementSource
	maps       map[string][]*State
}

// NewEngine creates an engine reading placements from src.
func NewEngine(cfg config.ReactorConfig, src PlacementSource) *Engine {
	return &Engine{cfg: cfg, placements: src, maps: make(map[string][]*State)}
}

// states lazily builds the reactor list of a map on first access.
func (e *Engine) states(mapID string) []*State {
	if list, ok := e.maps[mapID]; ok {
		return list
	}
	placements := e.placements.Reactors(mapID)
	list := make([]*State, len(placements))
	for i, p := range placements {
		maxHP := p.MaxHP
		if maxHP <= 0 {
			maxHP = e.cfg.MaxHP
		}
		s := &State{Index: i, X: p.X, Y: p.Y, MaxHP: maxHP}
		s.reset()
		list[i] = s
	}
	e.maps[mapID] = list
	return list
}

// Views returns the current state of every reactor on mapID.
func (e *Engine) Views(mapID string) []View {
	list := e.states(mapID)
	out := make([]View, len(list))
	for i, s := range list {
		out[i] = s.view()
	}
	return out
}

// Hit applies a hit by actorID standing at (x, y).
func (e *Engine) Hit(mapID string, index int, x, y float64, actorID string, now time.Time) (HitResult, error) {
	list := e.states(mapID)
	if index < 0 || index >= len(list) {
		return HitResult{}, ErrInvalidReactor
	}
	s := list[index]
	if !s.Active {
		return HitResult{}, ErrInactive
	}
	if math.Abs(x-s.X) > e.cfg.RangeX || math.Abs(y-s.Y) > e.cfg.RangeY {
		return HitResult{}, ErrOutOfRange
	}
	if !s.LastHit.IsZero() && now.Sub(s.LastHit) < e.cfg.Cooldown {
		return HitResult{}, ErrCooldown
	}

	s.HP--
	s.Stage++
	if _, seen := s.damage[actorID]; !seen {
		s.order = append(s.order, actorID)
	}
	s.damage[actorID]++
	s.LastHit = now

	res := HitResult{MapID: mapID, Index: index, Stage: s.Stage, HP: s.HP, X: s.X, Y: s.Y}
	if s.HP <= 0 {
		s.HP = 0
		s.Active = false
		s.RespawnAt = now.Add(e.cfg.RespawnDelay)
		res.HP = 0
		res.Destroyed = true
		res.Owner = s.topDamager()
	}
	return res, nil
}

// Tick restores every destroyed reactor whose respawn time has come.
func (e *Engine) Tick(now time.Time) []Respawn {
	var out []Respawn
	for mapID, list := range e.maps {
		for _, s := range list {
			if s.Active || s.RespawnAt.IsZero() || now.Before(s.RespawnAt) {
				continue
			}
			s.reset()
			out = append(out, Respawn{MapID: mapID, View: s.view()})
		}
	}
	return out
}
