package game

import (
	"slices"
	"sort"

	"github.com/libevm/shlop-app-sub002/internal/session"
)

// Room is the set of sessions sharing one map, in join order.
type Room struct {
	ID      string
	members []*session.Session
}

// Rooms tracks map membership. A session is in at most one room, and never
// while it has a pending transition.
type Rooms struct {
	rooms map[string]*Room
}

func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[string]*Room)}
}

// Join adds s to roomID, creating the room if needed. s must not be in a room.
func (r *Rooms) Join(s *session.Session, roomID string) *Room {
	room, ok := r.rooms[roomID]
	if !ok {
		room = &Room{ID: roomID}
		r.rooms[roomID] = room
	}
	room.members = append(room.members, s)
	s.Room = roomID
	return room
}

// Leave removes s from its room and returns the room id and the remaining
// members. An emptied room is deleted.
func (r *Rooms) Leave(s *session.Session) (string, []*session.Session) {
	roomID := s.Room
	s.Room = ""
	room, ok := r.rooms[roomID]
	if !ok {
		return roomID, nil
	}
	room.members = slices.DeleteFunc(room.members, func(m *session.Session) bool { return m == s })
	if len(room.members) == 0 {
		delete(r.rooms, roomID)
		return roomID, nil
	}
	return roomID, slices.Clone(room.members)
}

// Members lists the sessions in roomID in join order.
func (r *Rooms) Members(roomID string) []*session.Session {
	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	return slices.Clone(room.members)
}

// ConnIDs lists the connections in roomID, skipping exclude.
func (r *Rooms) ConnIDs(roomID, exclude string) []string {
	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(room.members))
	for _, m := range room.members {
		if m.ConnID != exclude {
			out = append(out, m.ConnID)
		}
	}
	return out
}

// Has reports whether a session named name is in roomID.
func (r *Rooms) Has(roomID, name string) bool {
	room, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	return slices.ContainsFunc(room.members, func(m *session.Session) bool { return m.Name == name })
}

// Exists reports whether roomID has any members.
func (r *Rooms) Exists(roomID string) bool {
	_, ok := r.rooms[roomID]
	return ok
}

// IDs lists the live rooms, sorted.
func (r *Rooms) IDs() []string {
	out := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Rooms) Len() int { return len(r.rooms) }
