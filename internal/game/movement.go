package game

import (
	"math"
	"slices"
	"time"

	"github.com/libevm/shlop-app-sub002/internal/config"
	"github.com/libevm/shlop-app-sub002/internal/protocol"
	"github.com/libevm/shlop-app-sub002/internal/session"
	"github.com/libevm/shlop-app-sub002/internal/world"
)

// Denial reasons sent in portal_denied and npc_travel_denied.
const (
	ReasonNoRoom                = "no_room"
	ReasonPositionNotConfirmed  = "position_not_confirmed"
	ReasonAlreadyTransitioning  = "already_transitioning"
	ReasonPortalNotFound        = "portal_not_found"
	ReasonPortalNotUsable       = "portal_not_usable"
	ReasonTooFar                = "too_far"
	ReasonNoDestination         = "no_destination"
	ReasonUnknownMap            = "unknown_map"
	ReasonNPCNotHere            = "npc_not_here"
	ReasonDestinationNotAllowed = "destination_not_allowed"
	ReasonInvalidStats          = "invalid_stats"
)

// Denial is an explicit, client-visible rejection.
type Denial struct {
	Reason string
}

func (d *Denial) Error() string { return d.Reason }

func deny(reason string) *Denial { return &Denial{Reason: reason} }

// Destination is an approved transition target.
type Destination struct {
	MapID  string
	Anchor string // Portal name on MapID; empty uses the map's spawn point
}

// Validator is the anti-cheat gate for movement, portals and NPC travel.
type Validator struct {
	cfg  config.MovementConfig
	maps world.MapData
	npcs world.NPCPolicy
}

func NewValidator(cfg config.MovementConfig, maps world.MapData, npcs world.NPCPolicy) *Validator {
	return &Validator{cfg: cfg, maps: maps, npcs: npcs}
}

// Move applies a movement update and reports whether it was accepted.
// Rejected moves leave the stored position untouched.
func (v *Validator) Move(s *session.Session, m *protocol.Move, now time.Time) bool {
	if s.Room == "" {
		return false
	}
	if s.PositionConfirmed && !s.LastMove.IsZero() {
		dist := math.Hypot(m.X-s.X, m.Y-s.Y)
		elapsed := now.Sub(s.LastMove).Seconds()
		if dist > 0 && (elapsed <= 0 || dist/elapsed > v.cfg.MaxSpeed) {
			return false
		}
	}
	s.X, s.Y = m.X, m.Y
	s.Action = m.Action
	if m.Facing != 0 {
		s.Facing = m.Facing
	}
	s.LastMove = now
	s.PositionConfirmed = true
	return true
}

// gate holds the checks shared by every transition request.
func (v *Validator) gate(s *session.Session) error {
	if s.InTransit() {
		return deny(ReasonAlreadyTransitioning)
	}
	if s.Room == "" {
		return deny(ReasonNoRoom)
	}
	if !s.PositionConfirmed {
		return deny(ReasonPositionNotConfirmed)
	}
	return nil
}

// Portal validates entering the named portal on the session's current map.
func (v *Validator) Portal(s *session.Session, name string) (Destination, error) {
	if err := v.gate(s); err != nil {
		return Destination{}, err
	}

	idx := slices.IndexFunc(v.maps.Portals(s.Room), func(p world.Portal) bool { return p.Name == name })
	if idx < 0 {
		return Destination{}, deny(ReasonPortalNotFound)
	}
	portal := v.maps.Portals(s.Room)[idx]
	if !portal.Type.Usable() {
		return Destination{}, deny(ReasonPortalNotUsable)
	}
	if math.Hypot(s.X-portal.X, s.Y-portal.Y) > v.cfg.PortalTolerance {
		return Destination{}, deny(ReasonTooFar)
	}

	dest := Destination{MapID: portal.TargetMap, Anchor: portal.TargetPortal}
	if dest.MapID == "" {
		ret, ok := v.maps.ReturnMap(s.Room)
		if !ok {
			return Destination{}, deny(ReasonNoDestination)
		}
		dest = Destination{MapID: ret}
	}
	if !v.maps.MapExists(dest.MapID) {
		return Destination{}, deny(ReasonUnknownMap)
	}
	return dest, nil
}

// NPCTravel validates an NPC-offered trip to mapID.
func (v *Validator) NPCTravel(s *session.Session, npcID, mapID string) (Destination, error) {
	if err := v.gate(s); err != nil {
		return Destination{}, err
	}

	here := slices.ContainsFunc(v.maps.NPCsOnMap(s.Room), func(n world.NPC) bool { return n.ID == npcID })
	if !here {
		return Destination{}, deny(ReasonNPCNotHere)
	}
	allowed, ok := v.npcs.AllowedDestinations(npcID)
	if !ok || !slices.Contains(allowed, mapID) {
		return Destination{}, deny(ReasonDestinationNotAllowed)
	}
	if !v.maps.MapExists(mapID) {
		return Destination{}, deny(ReasonUnknownMap)
	}
	return Destination{MapID: mapID}, nil
}

// SpawnPoint resolves where a session arriving at dest is placed: the anchor
// portal if it exists, else the map's first spawn portal, else its first
// portal, else the origin.
func (v *Validator) SpawnPoint(dest Destination) (float64, float64) {
	portals := v.maps.Portals(dest.MapID)
	if dest.Anchor != "" {
		if i := slices.IndexFunc(portals, func(p world.Portal) bool { return p.Name == dest.Anchor }); i >= 0 {
			return portals[i].X, portals[i].Y
		}
	}
	if i := slices.IndexFunc(portals, func(p world.Portal) bool { return p.Type == world.PortalSpawn }); i >= 0 {
		return portals[i].X, portals[i].Y
	}
	if len(portals) > 0 {
		return portals[0].X, portals[0].Y
	}
	return 0, 0
}
