package game

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libevm/shlop-app-sub002/internal/journal"
	"github.com/libevm/shlop-app-sub002/internal/protocol"
)

// TestReactorLifecycle hits a reactor to destruction with two players and
// waits for it to come back
func TestReactorLifecycle(t *testing.T) {
	h := newHarness(t)
	h.enter("c1", "alice")
	h.enter("c2", "bob")
	h.send("c1", &protocol.Move{X: 300, Y: 0})
	h.send("c2", &protocol.Move{X: 320, Y: 0})

	hit, to := one[protocol.ReactorHit](t, h.send("c1", &protocol.HitReactor{Index: 0}))
	assert.Equal(t, protocol.ReactorHit{Index: 0, State: 1, HP: 3, By: "alice"}, hit)
	assert.ElementsMatch(t, []string{"c1", "c2"}, to)

	h.advance(100 * time.Millisecond)
	assert.Empty(t, h.send("c2", &protocol.HitReactor{Index: 0}), "cooldown is not reported")

	h.advance(500 * time.Millisecond)
	hit, _ = one[protocol.ReactorHit](t, h.send("c2", &protocol.HitReactor{Index: 0}))
	assert.Equal(t, 2, hit.HP)
	assert.Equal(t, "bob", hit.By)

	h.advance(600 * time.Millisecond)
	one[protocol.ReactorHit](t, h.send("c1", &protocol.HitReactor{Index: 0}))

	h.advance(600 * time.Millisecond)
	envs := h.send("c1", &protocol.HitReactor{Index: 0})
	destroy, _ := one[protocol.ReactorDestroy](t, envs)
	assert.Equal(t, "alice", destroy.Owner)
	assert.Equal(t, 4, destroy.State)
	spawn, to := one[protocol.DropSpawn](t, envs)
	assert.Equal(t, "alice", spawn.Drop.Owner)
	assert.Equal(t, "4000000", spawn.Drop.ItemID)
	assert.Equal(t, 300.0, spawn.Drop.X)
	assert.ElementsMatch(t, []string{"c1", "c2"}, to)
	assert.Equal(t, 1, h.journal.count(journal.KindReactorDestroyed))

	h.advance(600 * time.Millisecond)
	fail, to := one[protocol.ReactorFail](t, h.send("c2", &protocol.HitReactor{Index: 0}))
	assert.Equal(t, "inactive", fail.Reason)
	assert.Equal(t, []string{"c2"}, to)

	h.advance(10*time.Second - 600*time.Millisecond - time.Millisecond)
	assert.Empty(t, h.d.SweepReactors())
	h.advance(time.Millisecond)
	respawn, to := one[protocol.ReactorRespawn](t, h.d.SweepReactors())
	assert.Equal(t, 4, respawn.Reactor.HP)
	assert.True(t, respawn.Reactor.Active)
	assert.ElementsMatch(t, []string{"c1", "c2"}, to)
	assert.Empty(t, h.d.SweepReactors())
}

func TestReactorHitFailures(t *testing.T) {
	tests := map[string]struct {
		index  int
		reason string
	}{
		"too far away":   {index: 1, reason: "out_of_range"},
		"unknown index":  {index: 5, reason: "invalid_reactor"},
		"negative index": {index: -1, reason: "invalid_reactor"},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.enter("c1", "alice")
			h.send("c1", &protocol.Move{X: 300, Y: 0})

			fail, _ := one[protocol.ReactorFail](t, h.send("c1", &protocol.HitReactor{Index: tt.index}))
			assert.Equal(t, tt.reason, fail.Reason)
			assert.Equal(t, tt.index, fail.Index)
		})
	}
}

// TestLootProtectionWindow checks the owner-only window ends at exactly five seconds
func TestLootProtectionWindow(t *testing.T) {
	h := newHarness(t)
	h.enter("c1", "alice")
	h.enter("c2", "bob")
	drop := h.d.drops.Add(henesys, "4000000", 1, 0, 0, "alice", h.clk.Now())

	h.advance(4999 * time.Millisecond)
	fail, to := one[protocol.LootFailed](t, h.send("c2", &protocol.LootItem{DropID: drop.ID}))
	assert.Equal(t, "owned", fail.Reason)
	assert.Equal(t, int64(1), fail.RemainingMS)
	assert.Equal(t, []string{"c2"}, to)

	h.advance(time.Millisecond)
	loot, to := one[protocol.DropLoot](t, h.send("c2", &protocol.LootItem{DropID: drop.ID}))
	assert.Equal(t, protocol.DropLoot{DropID: drop.ID, By: "bob", Item: "4000000", Qty: 1}, loot)
	assert.ElementsMatch(t, []string{"c1", "c2"}, to)
	assert.Equal(t, 1, h.session("bob").Inventory["4000000"])

	fail, _ = one[protocol.LootFailed](t, h.send("c1", &protocol.LootItem{DropID: drop.ID}))
	assert.Equal(t, "already_looted", fail.Reason)
	assert.Zero(t, fail.RemainingMS)

	fail, _ = one[protocol.LootFailed](t, h.send("c1", &protocol.LootItem{DropID: 999}))
	assert.Equal(t, "not_found", fail.Reason)
}

func TestOwnerLootsImmediately(t *testing.T) {
	h := newHarness(t)
	h.enter("c1", "alice")
	drop := h.d.drops.Add(henesys, "4000000", 3, 0, 0, "alice", h.clk.Now())

	one[protocol.DropLoot](t, h.send("c1", &protocol.LootItem{DropID: drop.ID}))
	assert.Equal(t, 3, h.session("alice").Inventory["4000000"])
	assert.Equal(t, 1, h.journal.count(journal.KindDropLooted))
}

func TestLootFromAnotherRoom(t *testing.T) {
	h := newHarness(t)
	h.enter("c1", "alice")
	drop := h.d.drops.Add(field, "4000000", 1, 0, 0, "", h.clk.Now())

	fail, _ := one[protocol.LootFailed](t, h.send("c1", &protocol.LootItem{DropID: drop.ID}))
	assert.Equal(t, "not_found", fail.Reason)
	assert.Equal(t, 1, h.d.drops.Count())
}

func TestDropExpiry(t *testing.T) {
	h := newHarness(t)
	h.enter("c1", "alice")
	drop := h.d.drops.Add(henesys, "4000000", 1, 0, 0, "", h.clk.Now())

	h.advance(180*time.Second - time.Millisecond)
	assert.Empty(t, h.d.SweepDrops())

	h.advance(time.Millisecond)
	expire, to := one[protocol.DropExpire](t, h.d.SweepDrops())
	assert.Equal(t, drop.ID, expire.DropID)
	assert.Equal(t, []string{"c1"}, to)
	assert.Empty(t, h.d.SweepDrops(), "a drop expires once")
	assert.Zero(t, h.d.drops.Count())
}

func TestDropItem(t *testing.T) {
	h := newHarness(t)
	h.enter("c1", "alice")
	h.enter("c2", "bob")
	alice := h.session("alice")
	h.send("c1", &protocol.Move{X: 42, Y: 3})
	alice.AddItem("2000000", 3)

	spawn, to := one[protocol.DropSpawn](t, h.send("c1", &protocol.DropItem{Item: "2000000", Qty: 2}))
	assert.Equal(t, "2000000", spawn.Drop.ItemID)
	assert.Equal(t, 2, spawn.Drop.Qty)
	assert.Equal(t, 42.0, spawn.Drop.X)
	assert.Equal(t, 3.0, spawn.Drop.Y)
	assert.Empty(t, spawn.Drop.Owner)
	assert.ElementsMatch(t, []string{"c1", "c2"}, to)
	assert.Equal(t, 1, alice.Inventory["2000000"])

	fail, to := one[protocol.DropItemFailed](t, h.send("c1", &protocol.DropItem{Item: "2000000", Qty: 5}))
	assert.Equal(t, "not_enough_items", fail.Reason)
	assert.Equal(t, []string{"c1"}, to)

	one[protocol.DropSpawn](t, h.send("c1", &protocol.DropItem{Item: "2000000"}))
	_, held := alice.Inventory["2000000"]
	assert.False(t, held)

	fail, _ = one[protocol.DropItemFailed](t, h.send("c1", &protocol.DropItem{Item: ""}))
	assert.Equal(t, "invalid_item", fail.Reason)

	// Bob picks alice's drop up at once: dropped items have no owner.
	loot, _ := one[protocol.DropLoot](t, h.send("c2", &protocol.LootItem{DropID: spawn.Drop.ID}))
	assert.Equal(t, "bob", loot.By)
}

func TestDropItemInTransit(t *testing.T) {
	h := newHarness(t)
	h.login("c1", "alice")
	h.session("alice").AddItem("2000000", 1)

	fail, _ := one[protocol.DropItemFailed](t, h.send("c1", &protocol.DropItem{Item: "2000000"}))
	assert.Equal(t, ReasonNoRoom, fail.Reason)
	assert.Equal(t, 1, h.session("alice").Inventory["2000000"])
}

// TestAuthorityHandOff verifies the earliest remaining member inherits mob
// authority and an emptied room forgets it
func TestAuthorityHandOff(t *testing.T) {
	h := newHarness(t)
	h.enter("c1", "alice")
	h.enter("c2", "bob")
	h.enter("c3", "carol")

	envs := h.d.Disconnect("c1")
	auth, to := one[protocol.Authority](t, envs)
	assert.Equal(t, protocol.Authority{MapID: henesys, Holder: true}, auth)
	assert.Equal(t, []string{"c2"}, to)
	_, to = one[protocol.PlayerLeave](t, envs)
	assert.ElementsMatch(t, []string{"c2", "c3"}, to)

	msgs, _ := messages[protocol.Authority](h.d.Disconnect("c3"))
	assert.Empty(t, msgs, "a non-holder leaving changes nothing")

	assert.Empty(t, h.d.Disconnect("c2"))
	assert.Zero(t, h.d.rooms.Len())
	assert.Zero(t, h.d.elector.Len())
}

func TestMobRelays(t *testing.T) {
	h := newHarness(t)
	h.enter("c1", "alice")
	h.enter("c2", "bob")
	mobs := json.RawMessage(`[{"id":"m1","x":10}]`)

	assert.Empty(t, h.send("c2", &protocol.MobState{Mobs: mobs}), "only the holder reports mob state")
	relay, to := one[protocol.MobStateRelay](t, h.send("c1", &protocol.MobState{Mobs: mobs}))
	assert.Equal(t, "alice", relay.From)
	assert.JSONEq(t, string(mobs), string(relay.Mobs))
	assert.Equal(t, []string{"c2"}, to)

	dmg, to := one[protocol.MobDamageRelay](t, h.send("c2", &protocol.MobDamage{MobID: "m1", Damage: 17}))
	assert.Equal(t, protocol.MobDamageRelay{From: "bob", MobID: "m1", Damage: 17}, dmg)
	assert.ElementsMatch(t, []string{"c1", "c2"}, to)
}

func TestMobKilled(t *testing.T) {
	tests := map[string]struct {
		sender   string
		killer   string
		expOwner string
		expDrops int
	}{
		"credited to killer":     {sender: "c1", killer: "bob", expOwner: "bob", expDrops: 2},
		"killer not in room":     {sender: "c1", killer: "ghost", expOwner: "", expDrops: 2},
		"reported by non-holder": {sender: "c2", killer: "bob", expDrops: 0},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.enter("c1", "alice")
			h.enter("c2", "bob")

			envs := h.send(tt.sender, &protocol.MobKilled{MobID: "m1", Mob: "100100", X: 70, Y: 8, Killer: tt.killer})
			spawns, _ := messages[protocol.DropSpawn](envs)
			require.Len(t, spawns, tt.expDrops)
			for _, s := range spawns {
				assert.Equal(t, tt.expOwner, s.Drop.Owner)
				assert.Equal(t, 70.0, s.Drop.X)
			}
			assert.Equal(t, tt.expDrops, h.d.drops.Count())
		})
	}
}

func TestChat(t *testing.T) {
	h := newHarness(t)
	h.enter("c1", "alice")
	h.enter("c2", "bob")

	line, to := one[protocol.PlayerChat](t, h.send("c1", &protocol.Chat{Text: "  hi\x07 there "}))
	assert.Equal(t, protocol.PlayerChat{Name: "alice", Text: "hi there"}, line)
	assert.ElementsMatch(t, []string{"c1", "c2"}, to, "the sender sees its own line")

	assert.Empty(t, h.send("c1", &protocol.Chat{Text: "again"}), "cooldown")
	h.advance(400 * time.Millisecond)
	one[protocol.PlayerChat](t, h.send("c1", &protocol.Chat{Text: "again"}))

	h.advance(time.Second)
	assert.Empty(t, h.send("c1", &protocol.Chat{Text: " \t "}))
}

func TestPresenceRelays(t *testing.T) {
	h := newHarness(t)
	h.enter("c1", "alice")
	h.enter("c2", "bob")
	alice := h.session("alice")

	face, to := one[protocol.PlayerFace](t, h.send("c1", &protocol.Face{Expression: 3}))
	assert.Equal(t, 3, face.Expression)
	assert.Equal(t, []string{"c2"}, to)

	one[protocol.PlayerSit](t, h.send("c1", &protocol.Sit{Seat: 3010000}))
	assert.Equal(t, 3010000, alice.Seat)

	attack, _ := one[protocol.PlayerAttack](t, h.send("c1", &protocol.Attack{Skill: "basic", Facing: -1}))
	assert.Equal(t, -1, attack.Facing)
	assert.Equal(t, -1, alice.Facing)

	look := map[string]string{"weapon": "1302000"}
	equip, _ := one[protocol.PlayerEquip](t, h.send("c1", &protocol.EquipChange{Look: look}))
	assert.Equal(t, look, equip.Look)
	look["weapon"] = "changed"
	assert.Equal(t, "1302000", alice.Look["weapon"], "the stored look is a copy")

	// A late joiner sees the current seat and look.
	state, _ := one[protocol.MapState](t, h.enter("c3", "carol"))
	require.Len(t, state.Players, 2)
	assert.Equal(t, 3010000, state.Players[0].Seat)
	assert.Equal(t, "1302000", state.Players[0].Look["weapon"])
}

func TestRelaysInTransitReachNobody(t *testing.T) {
	h := newHarness(t)
	h.enter("c1", "alice")
	h.login("c2", "bob")

	assert.Empty(t, h.send("c2", &protocol.Face{Expression: 1}))
	assert.Empty(t, h.send("c2", &protocol.Chat{Text: "hello"}))
	assert.Empty(t, h.send("c2", &protocol.MobDamage{MobID: "m1", Damage: 1}))
	assert.Empty(t, h.send("c2", &protocol.HitReactor{Index: 0}))
}
