package game

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/libevm/shlop-app-sub002/internal/chat"
	"github.com/libevm/shlop-app-sub002/internal/clock"
	"github.com/libevm/shlop-app-sub002/internal/config"
	"github.com/libevm/shlop-app-sub002/internal/drops"
	"github.com/libevm/shlop-app-sub002/internal/journal"
	"github.com/libevm/shlop-app-sub002/internal/metrics"
	"github.com/libevm/shlop-app-sub002/internal/persist"
	"github.com/libevm/shlop-app-sub002/internal/protocol"
	"github.com/libevm/shlop-app-sub002/internal/reactor"
	"github.com/libevm/shlop-app-sub002/internal/session"
	"github.com/libevm/shlop-app-sub002/internal/world"
)

// ErrSessionNotFound is returned by administrative calls naming an unknown
// character.
var ErrSessionNotFound = errors.New("session not found")

// Saver persists a snapshot without blocking the caller.
type Saver interface {
	Save(name string, snap persist.Snapshot)
}

// Journal records audit entries.
type Journal interface {
	Record(kind journal.Kind, sessionName, room string, detail map[string]any) bool
}

// Deps are the collaborators a Dispatcher consumes.
type Deps struct {
	Maps     world.MapData
	NPCs     world.NPCPolicy
	Loot     world.LootRoller
	Reactors reactor.PlacementSource
	Saver    Saver
	Journal  Journal
	Clock    clock.Clock
	Logger   *zap.Logger
}

// Dispatcher owns all mutable game state. None of its methods are safe for
// concurrent use; the Loop serializes them.
type Dispatcher struct {
	cfg config.AppConfig

	registry  *session.Registry
	rooms     *Rooms
	elector   *Elector
	validator *Validator
	reactors  *reactor.Engine
	drops     *drops.Ledger
	chat      *chat.Throttle

	maps    world.MapData
	loot    world.LootRoller
	saver   Saver
	journal Journal
	clock   clock.Clock
	logger  *zap.Logger
}

// NewDispatcher builds a dispatcher with empty registries.
func NewDispatcher(cfg config.AppConfig, deps Deps) *Dispatcher {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Saver == nil {
		deps.Saver = nopSaver{}
	}
	if deps.Journal == nil {
		deps.Journal = nopJournal{}
	}

	throttle := chat.DefaultThrottleConfig()
	throttle.Cooldown = cfg.Session.ChatCooldown
	throttle.MaxLength = cfg.Session.ChatMaxLength

	return &Dispatcher{
		cfg:       cfg,
		registry:  session.NewRegistry(cfg.Session.DuplicatePolicy),
		rooms:     NewRooms(),
		elector:   NewElector(),
		validator: NewValidator(cfg.Movement, deps.Maps, deps.NPCs),
		reactors:  reactor.NewEngine(cfg.Reactor, deps.Reactors),
		drops:     drops.NewLedger(cfg.Drop),
		chat:      chat.NewThrottle(throttle),
		maps:      deps.Maps,
		loot:      deps.Loot,
		saver:     deps.Saver,
		journal:   deps.Journal,
		clock:     deps.Clock,
		logger:    deps.Logger,
	}
}

// =============================================================================
// CONNECTION LIFECYCLE
// =============================================================================

// Connect tracks a freshly accepted connection.
func (d *Dispatcher) Connect(connID string) []Envelope {
	d.registry.Track(connID, d.clock.Now())
	return nil
}

// Login binds an authenticated connection to its character and starts the
// handshake into the character's map.
func (d *Dispatcher) Login(connID string, cred session.Credential) []Envelope {
	now := d.clock.Now()
	if !d.registry.Tracked(connID) || d.registry.Authenticated(connID) {
		return nil
	}

	s := session.New(cred.Name, connID, cred.Snapshot, now)
	s.Persist = cred.Persist

	prev, err := d.registry.Register(s)
	if err != nil {
		d.registry.Remove(connID)
		d.journal.Record(journal.KindSessionReplaced, cred.Name, "", map[string]any{"outcome": "rejected"})
		metrics.ConnectionClosed(protocol.CloseDuplicateSession.Reason())
		return []Envelope{closeConn(connID, protocol.CloseDuplicateSession)}
	}

	var out []Envelope
	if prev != nil {
		out = append(out, closeConn(prev.ConnID, protocol.CloseReplaced))
		out = append(out, d.leaveRoom(prev)...)
		s.Apply(prev.Snapshot(now))
		s.Persist = prev.Persist
		d.journal.Record(journal.KindSessionReplaced, s.Name, prev.Room, map[string]any{"outcome": "replaced"})
		metrics.ConnectionClosed(protocol.CloseReplaced.Reason())
		d.logger.Info("session replaced by newer connection",
			zap.String("session", s.Name), zap.String("old_conn", prev.ConnID), zap.String("conn", connID))
	}

	out = append(out, unicast(connID, protocol.Welcome{
		Name:         s.Name,
		Stats:        s.Stats,
		Inventory:    s.Inventory,
		Achievements: s.Achievements,
	}))

	moved, err := d.placeOnLogin(s)
	if err != nil {
		d.logger.Error("login placement failed",
			zap.String("session", s.Name), zap.String("conn", connID), zap.Error(err))
		d.registry.Remove(connID)
		d.save(s)
		metrics.ConnectionClosed(protocol.CloseShutdown.Reason())
		return append(out, closeConn(connID, protocol.CloseShutdown))
	}
	out = append(out, moved...)

	d.logger.Info("session authenticated",
		zap.String("session", s.Name), zap.String("conn", connID), zap.String("map", s.PendingRoom))
	return out
}

// placeOnLogin starts the handshake into the saved map, or the start map's
// spawn point when the saved map is unknown.
func (d *Dispatcher) placeOnLogin(s *session.Session) ([]Envelope, error) {
	dest := Destination{MapID: s.SavedMap}
	place := false
	if dest.MapID == "" || !d.maps.MapExists(dest.MapID) {
		dest = Destination{MapID: d.cfg.Session.StartMap}
		place = true
	}
	return d.beginTransition(s, dest, place)
}

// Refuse closes a connection that failed the handshake.
func (d *Dispatcher) Refuse(connID string, code protocol.CloseCode) []Envelope {
	d.registry.Remove(connID)
	kind := journal.KindProtocolViolation
	if code == protocol.CloseInvalidToken {
		kind = journal.KindInvalidToken
	}
	d.journal.Record(kind, "", "", map[string]any{"conn": connID})
	metrics.ConnectionClosed(code.Reason())
	return []Envelope{closeConn(connID, code)}
}

// Disconnect forgets a closed connection: the session leaves its room and
// its last snapshot is saved.
func (d *Dispatcher) Disconnect(connID string) []Envelope {
	s := d.registry.Remove(connID)
	if s == nil {
		return nil
	}
	out := d.leaveRoom(s)
	d.chat.Forget(s.Name)
	d.save(s)
	d.logger.Info("session disconnected", zap.String("session", s.Name), zap.String("conn", connID))
	return out
}

func (d *Dispatcher) save(s *session.Session) {
	if !s.Persist {
		return
	}
	d.saver.Save(s.Name, s.Snapshot(d.clock.Now()))
}

// FlushAll saves every live session. Used on shutdown.
func (d *Dispatcher) FlushAll() int {
	n := 0
	for _, s := range d.registry.Sessions() {
		if s.Persist {
			d.save(s)
			n++
		}
	}
	return n
}

// =============================================================================
// SWEEPS
// =============================================================================

// SweepIdle closes connections that have been silent too long.
func (d *Dispatcher) SweepIdle() []Envelope {
	var out []Envelope
	for _, connID := range d.registry.Idle(d.clock.Now(), d.cfg.Session.IdleTimeout) {
		metrics.ConnectionClosed(protocol.CloseIdleTimeout.Reason())
		out = append(out, closeConn(connID, protocol.CloseIdleTimeout))
	}
	return out
}

// SweepReactors respawns reactors whose delay elapsed.
func (d *Dispatcher) SweepReactors() []Envelope {
	var out []Envelope
	for _, r := range d.reactors.Tick(d.clock.Now()) {
		out = append(out, addressed(d.rooms.ConnIDs(r.MapID, ""), protocol.ReactorRespawn{Reactor: r.View})...)
	}
	return out
}

// SweepDrops removes expired drops.
func (d *Dispatcher) SweepDrops() []Envelope {
	expired := d.drops.Sweep(d.clock.Now())
	if len(expired) == 0 {
		return nil
	}
	metrics.DropsExpired(len(expired))
	out := make([]Envelope, 0, len(expired))
	for _, drop := range expired {
		out = append(out, addressed(d.rooms.ConnIDs(drop.Room, ""), protocol.DropExpire{DropID: drop.ID})...)
	}
	return out
}

// BroadcastPlayerCount tells every session how many players are online.
func (d *Dispatcher) BroadcastPlayerCount() []Envelope {
	sessions := d.registry.Sessions()
	metrics.SetWorld(len(sessions), d.rooms.Len(), d.drops.Count())

	to := make([]string, 0, len(sessions))
	for _, s := range sessions {
		to = append(to, s.ConnID)
	}
	return addressed(to, protocol.GlobalPlayerCount{Count: len(sessions)})
}

// =============================================================================
// QUERIES & ADMIN
// =============================================================================

// Stats is a point-in-time summary of the world.
type Stats struct {
	Sessions int      `json:"sessions"`
	Pending  int      `json:"pending_connections"`
	Rooms    []string `json:"rooms"`
	Drops    int      `json:"drops"`
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Sessions: d.registry.Len(),
		Pending:  d.registry.Pending(),
		Rooms:    d.rooms.IDs(),
		Drops:    d.drops.Count(),
	}
}

// Warp moves a character to mapID's spawn point through the normal
// transition handshake.
func (d *Dispatcher) Warp(name, mapID string) ([]Envelope, error) {
	s, ok := d.registry.ByName(name)
	if !ok {
		return nil, ErrSessionNotFound
	}
	if !d.maps.MapExists(mapID) {
		return nil, deny(ReasonUnknownMap)
	}
	return d.beginTransition(s, Destination{MapID: mapID}, true)
}

type nopSaver struct{}

func (nopSaver) Save(string, persist.Snapshot) {}

type nopJournal struct{}

func (nopJournal) Record(journal.Kind, string, string, map[string]any) bool { return true }

func remainingMS(d time.Duration) int64 {
	return int64((d + time.Millisecond - 1) / time.Millisecond)
}
