// Package persist is the character persistence collaborator: it loads a
// player's snapshot on login and saves it, best effort, on disconnect and on
// client-driven state sync.
package persist

import (
	"context"
	"maps"
	"sync"
	"time"
)

// Stats is the numeric character sheet carried in a snapshot.
type Stats struct {
	Level int   `json:"level" bson:"level"`
	HP    int   `json:"hp" bson:"hp"`
	MaxHP int   `json:"max_hp" bson:"max_hp"`
	MP    int   `json:"mp" bson:"mp"`
	MaxMP int   `json:"max_mp" bson:"max_mp"`
	Exp   int64 `json:"exp" bson:"exp"`
	Meso  int64 `json:"meso" bson:"meso"`
}

// DefaultStats is the sheet of a brand new character.
func DefaultStats() Stats {
	return Stats{Level: 1, HP: 50, MaxHP: 50, MP: 5, MaxMP: 5}
}

// Valid reports whether the sheet is one a character can actually have.
func (s Stats) Valid() bool {
	return s.Level >= 1 &&
		s.MaxHP > 0 && s.HP >= 0 && s.HP <= s.MaxHP &&
		s.MaxMP >= 0 && s.MP >= 0 && s.MP <= s.MaxMP &&
		s.Exp >= 0 && s.Meso >= 0
}

// Snapshot is the durable part of a session.
type Snapshot struct {
	MapID        string            `json:"map_id" bson:"map_id"`
	X            float64           `json:"x" bson:"x"`
	Y            float64           `json:"y" bson:"y"`
	Facing       int               `json:"facing" bson:"facing"`
	Look         map[string]string `json:"look" bson:"look"`
	Stats        Stats             `json:"stats" bson:"stats"`
	Inventory    map[string]int    `json:"inventory" bson:"inventory"`
	Achievements map[string]int    `json:"achievements" bson:"achievements"`
	SavedAt      time.Time         `json:"saved_at" bson:"saved_at"`
}

// Clone returns a deep copy so the copy can cross goroutines safely.
func (s Snapshot) Clone() Snapshot {
	s.Look = maps.Clone(s.Look)
	s.Inventory = maps.Clone(s.Inventory)
	s.Achievements = maps.Clone(s.Achievements)
	return s
}

// Loader loads a snapshot. A nil snapshot with a nil error means the
// character has never been saved.
type Loader interface {
	Load(ctx context.Context, name string) (*Snapshot, error)
}

// Store loads and saves snapshots.
type Store interface {
	Loader
	Save(ctx context.Context, name string, snap Snapshot) error
}

// MemoryStore keeps snapshots in process memory. It is the default store
// and the one used by tests.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string]Snapshot
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]Snapshot)}
}

// Load returns a copy of the stored snapshot, if any.
func (m *MemoryStore) Load(_ context.Context, name string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snaps[name]
	if !ok {
		return nil, nil
	}
	c := snap.Clone()
	return &c, nil
}

// Save stores a copy of snap.
func (m *MemoryStore) Save(_ context.Context, name string, snap Snapshot) error {
	m.mu.Lock()
	m.snaps[name] = snap.Clone()
	m.mu.Unlock()
	return nil
}
