package game

import (
	"time"

	"github.com/libevm/shlop-app-sub002/internal/protocol"
	"github.com/libevm/shlop-app-sub002/internal/session"
)

// Map transitions are two-phase: beginTransition takes the session out of
// its room and tells the client where to go; completeTransition joins the
// destination room once the client reports map_ready. While a transition is
// pending the session belongs to no room, so nothing it sends is broadcast.

// beginTransition starts moving s to dest. With place set the session is
// put at dest's spawn point; otherwise its stored position is kept.
func (d *Dispatcher) beginTransition(s *session.Session, dest Destination, place bool) ([]Envelope, error) {
	if s.InTransit() {
		return nil, deny(ReasonAlreadyTransitioning)
	}

	out := d.leaveRoom(s)

	s.PositionConfirmed = false
	s.LastMove = time.Time{}
	s.Seat = 0
	s.PendingRoom = dest.MapID
	s.PendingAnchor = dest.Anchor
	if place {
		s.X, s.Y = d.validator.SpawnPoint(dest)
	}

	out = append(out, unicast(s.ConnID, protocol.ChangeMap{
		MapID:  dest.MapID,
		Anchor: dest.Anchor,
		X:      s.X,
		Y:      s.Y,
	}))
	return out, nil
}

// completeTransition joins the pending room. A map_ready without a pending
// transition is ignored.
func (d *Dispatcher) completeTransition(s *session.Session) []Envelope {
	if !s.InTransit() {
		return nil
	}
	roomID := s.PendingRoom
	s.PendingRoom = ""
	s.PendingAnchor = ""
	s.PositionConfirmed = false

	others := d.rooms.Members(roomID)
	d.rooms.Join(s, roomID)
	holder := d.elector.Joined(roomID, s.Name)

	players := make([]protocol.PlayerView, 0, len(others))
	otherConns := make([]string, 0, len(others))
	for _, o := range others {
		players = append(players, playerView(o))
		otherConns = append(otherConns, o.ConnID)
	}

	out := []Envelope{unicast(s.ConnID, protocol.MapState{
		MapID:     roomID,
		Players:   players,
		Drops:     d.drops.InRoom(roomID),
		Reactors:  d.reactors.Views(roomID),
		Authority: holder,
	})}
	out = append(out, addressed(otherConns, protocol.PlayerEnter{Player: playerView(s)})...)
	return out
}

// leaveRoom removes s from its room, tells the remaining members and hands
// mob authority on if s held it.
func (d *Dispatcher) leaveRoom(s *session.Session) []Envelope {
	if s.Room == "" {
		return nil
	}
	roomID, remaining := d.rooms.Leave(s)

	conns := make([]string, 0, len(remaining))
	for _, m := range remaining {
		conns = append(conns, m.ConnID)
	}
	out := addressed(conns, protocol.PlayerLeave{Name: s.Name})

	if next := d.elector.Left(roomID, s.Name, remaining); next != nil {
		out = append(out, unicast(next.ConnID, protocol.Authority{MapID: roomID, Holder: true}))
	}
	return out
}

func playerView(s *session.Session) protocol.PlayerView {
	return protocol.PlayerView{
		Name:   s.Name,
		X:      s.X,
		Y:      s.Y,
		Facing: s.Facing,
		Action: s.Action,
		Look:   s.Look,
		Seat:   s.Seat,
		Level:  s.Stats.Level,
	}
}
