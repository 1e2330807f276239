package game

import "github.com/libevm/shlop-app-sub002/internal/session"

// Elector tracks which session simulates each room's mobs. A non-empty room
// always has exactly one holder, and that holder is a member.
type Elector struct {
	holders map[string]string // room id -> session name
}

func NewElector() *Elector {
	return &Elector{holders: make(map[string]string)}
}

// Joined is called after name joined roomID. It returns true if name became
// the holder.
func (e *Elector) Joined(roomID, name string) bool {
	if _, ok := e.holders[roomID]; ok {
		return false
	}
	e.holders[roomID] = name
	return true
}

// Left is called after name left roomID. When name held authority and the
// room still has members, the earliest remaining member takes over and is
// returned.
func (e *Elector) Left(roomID, name string, remaining []*session.Session) *session.Session {
	if e.holders[roomID] != name {
		return nil
	}
	if len(remaining) == 0 {
		delete(e.holders, roomID)
		return nil
	}
	next := remaining[0]
	e.holders[roomID] = next.Name
	return next
}

// Holder returns the current holder of roomID.
func (e *Elector) Holder(roomID string) (string, bool) {
	h, ok := e.holders[roomID]
	return h, ok
}

// IsHolder reports whether name holds authority in roomID.
func (e *Elector) IsHolder(roomID, name string) bool {
	h, ok := e.holders[roomID]
	return ok && h == name
}

func (e *Elector) Len() int { return len(e.holders) }
