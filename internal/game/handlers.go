package game

import (
	"errors"
	"maps"

	"go.uber.org/zap"

	"github.com/libevm/shlop-app-sub002/internal/drops"
	"github.com/libevm/shlop-app-sub002/internal/journal"
	"github.com/libevm/shlop-app-sub002/internal/metrics"
	"github.com/libevm/shlop-app-sub002/internal/protocol"
	"github.com/libevm/shlop-app-sub002/internal/reactor"
	"github.com/libevm/shlop-app-sub002/internal/session"
)

// Handle routes one client message. A connection that has not completed
// auth may only send auth; anything else closes it.
func (d *Dispatcher) Handle(connID string, msg protocol.Inbound) []Envelope {
	d.registry.Touch(connID, d.clock.Now())

	s, ok := d.registry.ByConn(connID)
	if !ok {
		// Frames queued by a replaced, rejected or refused connection
		// before its close went out.
		if !d.registry.Tracked(connID) {
			return nil
		}
		if _, isAuth := msg.(*protocol.Auth); isAuth {
			return nil
		}
		return d.Refuse(connID, protocol.CloseProtocolViolation)
	}
	metrics.MessageReceived(string(msg.Kind()))

	switch m := msg.(type) {
	case *protocol.Auth:
		return nil
	case *protocol.Move:
		return d.handleMove(s, m)
	case *protocol.UsePortal:
		return d.handleUsePortal(s, m)
	case *protocol.NPCTravel:
		return d.handleNPCTravel(s, m)
	case *protocol.MapReady:
		return d.completeTransition(s)
	case *protocol.HitReactor:
		return d.handleHitReactor(s, m)
	case *protocol.LootItem:
		return d.handleLoot(s, m)
	case *protocol.DropItem:
		return d.handleDropItem(s, m)
	case *protocol.Chat:
		return d.handleChat(s, m)
	case *protocol.Face:
		return d.toOthers(s, protocol.PlayerFace{Name: s.Name, Expression: m.Expression})
	case *protocol.Sit:
		s.Seat = m.Seat
		return d.toOthers(s, protocol.PlayerSit{Name: s.Name, Seat: m.Seat})
	case *protocol.Attack:
		if m.Facing != 0 {
			s.Facing = m.Facing
		}
		return d.toOthers(s, protocol.PlayerAttack{Name: s.Name, Skill: m.Skill, Facing: s.Facing})
	case *protocol.EquipChange:
		s.Look = maps.Clone(m.Look)
		return d.toOthers(s, protocol.PlayerEquip{Name: s.Name, Look: s.Look})
	case *protocol.MobState:
		if s.Room == "" || !d.elector.IsHolder(s.Room, s.Name) {
			return nil
		}
		return d.toOthers(s, protocol.MobStateRelay{From: s.Name, Mobs: m.Mobs})
	case *protocol.MobDamage:
		if s.Room == "" {
			return nil
		}
		return addressed(d.rooms.ConnIDs(s.Room, ""), protocol.MobDamageRelay{From: s.Name, MobID: m.MobID, Damage: m.Damage})
	case *protocol.MobKilled:
		return d.handleMobKilled(s, m)
	case *protocol.StateSync:
		return d.handleStateSync(s, m)
	case *protocol.Ping:
		return []Envelope{unicast(s.ConnID, protocol.Pong{ServerTime: d.clock.Now().UnixMilli(), ClientTime: m.ClientTime})}
	default:
		return nil
	}
}

// toOthers relays msg to the sender's room, excluding the sender.
func (d *Dispatcher) toOthers(s *session.Session, msg protocol.Outbound) []Envelope {
	if s.Room == "" {
		return nil
	}
	return addressed(d.rooms.ConnIDs(s.Room, s.ConnID), msg)
}

func (d *Dispatcher) handleMove(s *session.Session, m *protocol.Move) []Envelope {
	if !d.validator.Move(s, m, d.clock.Now()) {
		if s.Room != "" {
			metrics.Rejected(string(protocol.TypeMove), "speed")
			d.journal.Record(journal.KindSpeedViolation, s.Name, s.Room, map[string]any{
				"from_x": s.X, "from_y": s.Y, "to_x": m.X, "to_y": m.Y,
			})
		}
		return nil
	}
	return d.toOthers(s, protocol.PlayerMove{Name: s.Name, X: s.X, Y: s.Y, Action: s.Action, Facing: s.Facing})
}

func (d *Dispatcher) handleUsePortal(s *session.Session, m *protocol.UsePortal) []Envelope {
	room := s.Room
	dest, err := d.validator.Portal(s, m.Portal)
	if err == nil {
		var out []Envelope
		out, err = d.beginTransition(s, dest, true)
		if err == nil {
			return out
		}
	}
	reason := denialReason(err)
	metrics.Rejected(string(protocol.TypeUsePortal), reason)
	d.journal.Record(journal.KindPortalDenied, s.Name, room, map[string]any{"portal": m.Portal, "reason": reason})
	return []Envelope{unicast(s.ConnID, protocol.PortalDenied{Portal: m.Portal, Reason: reason})}
}

func (d *Dispatcher) handleNPCTravel(s *session.Session, m *protocol.NPCTravel) []Envelope {
	room := s.Room
	dest, err := d.validator.NPCTravel(s, m.NPC, m.Map)
	if err == nil {
		var out []Envelope
		out, err = d.beginTransition(s, dest, true)
		if err == nil {
			return out
		}
	}
	reason := denialReason(err)
	metrics.Rejected(string(protocol.TypeNPCTravel), reason)
	d.journal.Record(journal.KindNPCTravelDenied, s.Name, room, map[string]any{"npc": m.NPC, "map": m.Map, "reason": reason})
	return []Envelope{unicast(s.ConnID, protocol.NPCTravelDenied{NPC: m.NPC, Map: m.Map, Reason: reason})}
}

func denialReason(err error) string {
	var denial *Denial
	if errors.As(err, &denial) {
		return denial.Reason
	}
	return "internal"
}

func (d *Dispatcher) handleHitReactor(s *session.Session, m *protocol.HitReactor) []Envelope {
	if s.Room == "" {
		return nil
	}
	now := d.clock.Now()
	res, err := d.reactors.Hit(s.Room, m.Index, s.X, s.Y, s.Name, now)
	switch {
	case errors.Is(err, reactor.ErrCooldown):
		return nil
	case err != nil:
		metrics.Rejected(string(protocol.TypeHitReactor), err.Error())
		return []Envelope{unicast(s.ConnID, protocol.ReactorFail{Index: m.Index, Reason: err.Error()})}
	}

	room := d.rooms.ConnIDs(s.Room, "")
	if !res.Destroyed {
		return addressed(room, protocol.ReactorHit{Index: res.Index, State: res.Stage, HP: res.HP, By: s.Name})
	}

	metrics.ReactorDestroyed()
	d.journal.Record(journal.KindReactorDestroyed, s.Name, s.Room, map[string]any{"index": res.Index, "owner": res.Owner})
	out := addressed(room, protocol.ReactorDestroy{Index: res.Index, State: res.Stage, Owner: res.Owner})

	if d.loot == nil {
		return out
	}
	item := d.loot.RollReactorLoot()
	if item.ID == "" || item.Qty <= 0 {
		return out
	}
	drop := d.drops.Add(s.Room, item.ID, item.Qty, res.X, res.Y, res.Owner, now)
	return append(out, addressed(room, protocol.DropSpawn{Drop: drop})...)
}

func (d *Dispatcher) handleLoot(s *session.Session, m *protocol.LootItem) []Envelope {
	if s.Room == "" {
		return []Envelope{unicast(s.ConnID, protocol.LootFailed{DropID: m.DropID, Reason: drops.Reason(drops.ErrNotFound)})}
	}
	drop, err := d.drops.Loot(s.Room, m.DropID, s.Name, d.clock.Now())
	if err != nil {
		fail := protocol.LootFailed{DropID: m.DropID, Reason: drops.Reason(err)}
		var owned *drops.OwnedError
		if errors.As(err, &owned) {
			fail.RemainingMS = remainingMS(owned.Remaining)
		}
		return []Envelope{unicast(s.ConnID, fail)}
	}

	s.AddItem(drop.ItemID, drop.Qty)
	metrics.DropLooted()
	d.journal.Record(journal.KindDropLooted, s.Name, s.Room, map[string]any{"drop": drop.ID, "item": drop.ItemID, "qty": drop.Qty})
	return addressed(d.rooms.ConnIDs(s.Room, ""), protocol.DropLoot{DropID: drop.ID, By: s.Name, Item: drop.ItemID, Qty: drop.Qty})
}

func (d *Dispatcher) handleDropItem(s *session.Session, m *protocol.DropItem) []Envelope {
	qty := m.Qty
	if qty == 0 {
		qty = 1
	}
	var reason string
	switch {
	case s.Room == "":
		reason = ReasonNoRoom
	case m.Item == "" || qty < 0:
		reason = "invalid_item"
	case !s.TakeItem(m.Item, qty):
		reason = "not_enough_items"
	}
	if reason != "" {
		return []Envelope{unicast(s.ConnID, protocol.DropItemFailed{Item: m.Item, Reason: reason})}
	}

	drop := d.drops.Add(s.Room, m.Item, qty, s.X, s.Y, "", d.clock.Now())
	d.journal.Record(journal.KindItemDropped, s.Name, s.Room, map[string]any{"drop": drop.ID, "item": m.Item, "qty": qty})
	return addressed(d.rooms.ConnIDs(s.Room, ""), protocol.DropSpawn{Drop: drop})
}

func (d *Dispatcher) handleChat(s *session.Session, m *protocol.Chat) []Envelope {
	if s.Room == "" {
		return nil
	}
	text := d.chat.Clean(m.Text)
	if text == "" {
		return nil
	}
	if !d.chat.Allow(s.Name, d.clock.Now()) {
		metrics.Rejected(string(protocol.TypeChat), "throttled")
		return nil
	}
	return addressed(d.rooms.ConnIDs(s.Room, ""), protocol.PlayerChat{Name: s.Name, Text: text})
}

// handleMobKilled credits loot for a mob death reported by the room's
// authority holder. The killer owns the drops if still in the room.
func (d *Dispatcher) handleMobKilled(s *session.Session, m *protocol.MobKilled) []Envelope {
	if s.Room == "" || !d.elector.IsHolder(s.Room, s.Name) || d.loot == nil {
		return nil
	}
	owner := ""
	if m.Killer != "" && d.rooms.Has(s.Room, m.Killer) {
		owner = m.Killer
	}

	now := d.clock.Now()
	room := d.rooms.ConnIDs(s.Room, "")
	var out []Envelope
	for _, item := range d.loot.RollMobLoot(m.Mob) {
		if item.ID == "" || item.Qty <= 0 {
			continue
		}
		drop := d.drops.Add(s.Room, item.ID, item.Qty, m.X, m.Y, owner, now)
		out = append(out, addressed(room, protocol.DropSpawn{Drop: drop})...)
	}
	return out
}

func (d *Dispatcher) handleStateSync(s *session.Session, m *protocol.StateSync) []Envelope {
	if m.Stats != nil && !m.Stats.Valid() {
		metrics.Rejected(string(protocol.TypeStateSync), ReasonInvalidStats)
		return []Envelope{unicast(s.ConnID, protocol.Error{Reason: ReasonInvalidStats})}
	}
	if m.Stats != nil {
		s.Stats = *m.Stats
	}
	for k, v := range m.Achievements {
		s.Achievements[k] = v
	}
	d.save(s)
	if !s.Persist {
		d.logger.Debug("state sync without persistence", zap.String("session", s.Name))
	}
	return []Envelope{unicast(s.ConnID, protocol.StateSaved{})}
}
