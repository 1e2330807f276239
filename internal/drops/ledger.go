// Package drops is the ledger of items lying on map floors. Drops can carry
// an owner who has exclusive pickup rights for a short protection window,
// and every drop expires after a fixed time if nobody picks it up.
package drops

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/libevm/shlop-app-sub002/internal/config"
)

var (
	ErrNotFound      = errors.New("not_found")
	ErrAlreadyLooted = errors.New("already_looted")
)

// OwnedError rejects a loot attempt inside another player's protection window.
type OwnedError struct {
	Owner     string
	Remaining time.Duration
}

func (e *OwnedError) Error() string {
	return fmt.Sprintf("owned by %s for %s", e.Owner, e.Remaining)
}

// Reason returns the machine-readable failure reason of a loot error.
func Reason(err error) string {
	var owned *OwnedError
	switch {
	case errors.As(err, &owned):
		return "owned"
	case errors.Is(err, ErrAlreadyLooted):
		return "already_looted"
	default:
		return "not_found"
	}
}

// Drop is an item stack on the floor of a room.
type Drop struct {
	ID        int64     `json:"id"`
	Room      string    `json:"-"`
	ItemID    string    `json:"item"`
	Qty       int       `json:"qty"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Owner     string    `json:"owner,omitempty"`
	CreatedAt time.Time `json:"-"`
}

// tombstone remembers a looted id long enough to tell a late second attempt
// apart from an unknown id.
type tombstone struct {
	room string
	at   time.Time
}

// Ledger owns all drops. It is not safe for concurrent use; the session loop
// serializes access.
type Ledger struct {
	cfg    config.DropConfig
	nextID int64
	rooms  map[string]map[int64]*Drop
	looted map[int64]tombstone
}

// NewLedger creates an empty ledger.
func NewLedger(cfg config.DropConfig) *Ledger {
	return &Ledger{
		cfg:    cfg,
		rooms:  make(map[string]map[int64]*Drop),
		looted: make(map[int64]tombstone),
	}
}

// Add stores a new drop and returns it.
func (l *Ledger) Add(room, itemID string, qty int, x, y float64, owner string, now time.Time) Drop {
	l.nextID++
	d := &Drop{
		ID:        l.nextID,
		Room:      room,
		ItemID:    itemID,
		Qty:       qty,
		X:         x,
		Y:         y,
		Owner:     owner,
		CreatedAt: now,
	}
	byID, ok := l.rooms[room]
	if !ok {
		byID = make(map[int64]*Drop)
		l.rooms[room] = byID
	}
	byID[d.ID] = d
	return *d
}

// Loot removes drop id from room on behalf of actor.
func (l *Ledger) Loot(room string, id int64, actor string, now time.Time) (Drop, error) {
	d, ok := l.rooms[room][id]
	if !ok {
		if ts, gone := l.looted[id]; gone && ts.room == room {
			return Drop{}, ErrAlreadyLooted
		}
		return Drop{}, ErrNotFound
	}

	if d.Owner != "" && d.Owner != actor {
		if age := now.Sub(d.CreatedAt); age < l.cfg.ProtectionWindow {
			return Drop{}, &OwnedError{Owner: d.Owner, Remaining: l.cfg.ProtectionWindow - age}
		}
	}

	l.remove(d)
	l.looted[id] = tombstone{room: room, at: now}
	return *d, nil
}

// InRoom returns the drops of room ordered by id.
func (l *Ledger) InRoom(room string) []Drop {
	byID := l.rooms[room]
	out := make([]Drop, 0, len(byID))
	for _, d := range byID {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of drops on the floor across all rooms.
func (l *Ledger) Count() int {
	n := 0
	for _, byID := range l.rooms {
		n += len(byID)
	}
	return n
}

// Sweep removes and returns drops older than the expiry, ordered by id.
// Tombstones older than the expiry are forgotten as well.
func (l *Ledger) Sweep(now time.Time) []Drop {
	var expired []Drop
	for _, byID := range l.rooms {
		for _, d := range byID {
			if now.Sub(d.CreatedAt) >= l.cfg.Expiry {
				expired = append(expired, *d)
			}
		}
	}
	for i := range expired {
		l.remove(&expired[i])
	}
	for id, ts := range l.looted {
		if now.Sub(ts.at) >= l.cfg.Expiry {
			delete(l.looted, id)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })
	return expired
}

func (l *Ledger) remove(d *Drop) {
	byID := l.rooms[d.Room]
	delete(byID, d.ID)
	if len(byID) == 0 {
		delete(l.rooms, d.Room)
	}
}
