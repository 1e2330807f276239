// Package session binds live connections to verified character identities
// and owns each character's mutable in-memory snapshot.
package session

import (
	"maps"
	"time"

	"github.com/libevm/shlop-app-sub002/internal/persist"
)

// Session is one authenticated connection. It is only touched from the game
// loop goroutine.
type Session struct {
	Name   string
	ConnID string

	// Room is empty while the session is in transit.
	Room          string
	PendingRoom   string
	PendingAnchor string

	X      float64
	Y      float64
	Facing int
	Action string
	Seat   int // 0 = standing

	Look         map[string]string
	Stats        persist.Stats
	Inventory    map[string]int
	Achievements map[string]int

	LastActivity      time.Time
	LastMove          time.Time
	PositionConfirmed bool

	// Persist is false when the stored snapshot could not be read; saving
	// would overwrite real data with a fresh character.
	Persist bool

	// SavedMap is the map the character logged out on.
	SavedMap string
}

// New builds a session from a loaded snapshot. A nil snapshot starts a fresh
// character.
func New(name, connID string, snap *persist.Snapshot, now time.Time) *Session {
	s := &Session{
		Name:         name,
		ConnID:       connID,
		Action:       "stand",
		Facing:       1,
		Look:         map[string]string{},
		Stats:        persist.DefaultStats(),
		Inventory:    map[string]int{},
		Achievements: map[string]int{},
		LastActivity: now,
		Persist:      true,
	}
	if snap != nil {
		s.Apply(*snap)
	}
	return s
}

// Apply copies a persisted snapshot into the session.
func (s *Session) Apply(snap persist.Snapshot) {
	s.SavedMap = snap.MapID
	s.X, s.Y = snap.X, snap.Y
	if snap.Facing != 0 {
		s.Facing = snap.Facing
	}
	if snap.Look != nil {
		s.Look = maps.Clone(snap.Look)
	}
	if snap.Stats.Valid() {
		s.Stats = snap.Stats
	}
	if snap.Inventory != nil {
		s.Inventory = maps.Clone(snap.Inventory)
	}
	if snap.Achievements != nil {
		s.Achievements = maps.Clone(snap.Achievements)
	}
}

// Snapshot captures the persistable part of the session.
func (s *Session) Snapshot(now time.Time) persist.Snapshot {
	mapID := s.Room
	if mapID == "" {
		mapID = s.PendingRoom
	}
	if mapID == "" {
		mapID = s.SavedMap
	}
	return persist.Snapshot{
		MapID:        mapID,
		X:            s.X,
		Y:            s.Y,
		Facing:       s.Facing,
		Look:         maps.Clone(s.Look),
		Stats:        s.Stats,
		Inventory:    maps.Clone(s.Inventory),
		Achievements: maps.Clone(s.Achievements),
		SavedAt:      now,
	}
}

// InTransit reports whether a map transition is pending.
func (s *Session) InTransit() bool {
	return s.PendingRoom != ""
}

// AddItem adds qty of an item to the inventory.
func (s *Session) AddItem(itemID string, qty int) {
	s.Inventory[itemID] += qty
}

// TakeItem removes qty of an item, returning false if the stack is short.
func (s *Session) TakeItem(itemID string, qty int) bool {
	have := s.Inventory[itemID]
	if qty <= 0 || have < qty {
		return false
	}
	if have == qty {
		delete(s.Inventory, itemID)
	} else {
		s.Inventory[itemID] = have - qty
	}
	return true
}
