package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libevm/shlop-app-sub002/internal/config"
	"github.com/libevm/shlop-app-sub002/internal/journal"
	"github.com/libevm/shlop-app-sub002/internal/persist"
	"github.com/libevm/shlop-app-sub002/internal/protocol"
	"github.com/libevm/shlop-app-sub002/internal/session"
)

// TestLoginHandshake verifies auth only schedules the join; map_ready performs it
func TestLoginHandshake(t *testing.T) {
	h := newHarness(t)

	envs := h.login("c1", "alice")
	welcome, to := one[protocol.Welcome](t, envs)
	assert.Equal(t, "alice", welcome.Name)
	assert.Equal(t, []string{"c1"}, to)

	cm, _ := one[protocol.ChangeMap](t, envs)
	assert.Equal(t, protocol.ChangeMap{MapID: henesys, X: 0, Y: 0}, cm)

	s := h.session("alice")
	assert.Empty(t, s.Room)
	assert.Equal(t, henesys, s.PendingRoom)
	assert.False(t, h.d.rooms.Exists(henesys))

	envs = h.send("c1", &protocol.MapReady{})
	state, to := one[protocol.MapState](t, envs)
	assert.Equal(t, []string{"c1"}, to)
	assert.Equal(t, henesys, state.MapID)
	assert.True(t, state.Authority)
	assert.Empty(t, state.Players)
	assert.Len(t, state.Reactors, 2)
	assert.Equal(t, henesys, s.Room)
	assert.False(t, s.InTransit())

	assert.Empty(t, h.send("c1", &protocol.MapReady{}), "map_ready without a pending transition is ignored")
}

func TestLoginRestoresSavedMap(t *testing.T) {
	tests := map[string]struct {
		snap       *persist.Snapshot
		expMap     string
		expX, expY float64
	}{
		"fresh character":   {snap: nil, expMap: henesys, expX: 0, expY: 0},
		"saved position":    {snap: &persist.Snapshot{MapID: field, X: 40, Y: 7}, expMap: field, expX: 40, expY: 7},
		"saved map retired": {snap: &persist.Snapshot{MapID: "123456789", X: 40, Y: 7}, expMap: henesys, expX: 0, expY: 0},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.d.Connect("c1")
			envs := h.d.Login("c1", session.Credential{Name: "alice", Snapshot: tt.snap, Persist: true})

			cm, _ := one[protocol.ChangeMap](t, envs)
			assert.Equal(t, tt.expMap, cm.MapID)
			assert.Equal(t, tt.expX, cm.X)
			assert.Equal(t, tt.expY, cm.Y)
		})
	}
}

func TestSecondPlayerSeesFirst(t *testing.T) {
	h := newHarness(t)
	h.enter("c1", "alice")

	envs := h.enter("c2", "bob")
	state, _ := one[protocol.MapState](t, envs)
	assert.False(t, state.Authority)
	require.Len(t, state.Players, 1)
	assert.Equal(t, "alice", state.Players[0].Name)

	enter, to := one[protocol.PlayerEnter](t, envs)
	assert.Equal(t, "bob", enter.Player.Name)
	assert.Equal(t, []string{"c1"}, to, "the joiner is not told about itself")
}

// TestFirstMessageMustBeAuth verifies the handshake ordering rule
func TestFirstMessageMustBeAuth(t *testing.T) {
	h := newHarness(t)
	h.d.Connect("c9")

	envs := h.send("c9", &protocol.Move{X: 1})
	assert.Equal(t, map[string]protocol.CloseCode{"c9": protocol.CloseProtocolViolation}, closes(envs))
	assert.Equal(t, 1, h.journal.count(journal.KindProtocolViolation))

	assert.Empty(t, h.send("c9", &protocol.Auth{Token: "t"}), "auth is resolved by the transport")
}

func TestSecondAuthIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.enter("c1", "alice")

	assert.Empty(t, h.send("c1", &protocol.Auth{Token: "again"}))
	assert.Empty(t, h.d.Login("c1", session.Credential{Name: "mallory"}))
	assert.Equal(t, "alice", h.session("alice").Name)
	_, ok := h.d.registry.ByName("mallory")
	assert.False(t, ok)
}

func TestLoginAfterDisconnectIsDropped(t *testing.T) {
	h := newHarness(t)
	h.d.Connect("c1")
	h.d.Disconnect("c1")

	assert.Empty(t, h.d.Login("c1", session.Credential{Name: "alice"}))
	assert.Equal(t, 0, h.d.registry.Len())
}

// TestDuplicateLoginReplaces checks the newer connection wins and the older
// one is closed, so the identity is never live twice
func TestDuplicateLoginReplaces(t *testing.T) {
	h := newHarness(t)
	h.enter("c1", "alice")
	h.enter("c2", "bob")
	h.session("alice").AddItem("2000000", 3)

	envs := h.login("c3", "alice")

	assert.Equal(t, map[string]protocol.CloseCode{"c1": protocol.CloseReplaced}, closes(envs))

	leave, to := one[protocol.PlayerLeave](t, envs)
	assert.Equal(t, "alice", leave.Name)
	assert.Equal(t, []string{"c2"}, to)

	auth, to := one[protocol.Authority](t, envs)
	assert.True(t, auth.Holder)
	assert.Equal(t, []string{"c2"}, to)

	welcome, to := one[protocol.Welcome](t, envs)
	assert.Equal(t, []string{"c3"}, to)
	assert.Equal(t, 3, welcome.Inventory["2000000"], "in-memory state carries over")

	s := h.session("alice")
	assert.Equal(t, "c3", s.ConnID)
	assert.Equal(t, 1, h.journal.count(journal.KindSessionReplaced))

	// The replaced socket closing later must not disturb the new session.
	assert.Empty(t, h.d.Disconnect("c1"))
	assert.Same(t, s, h.session("alice"))
	assert.Empty(t, h.saver.all())
}

func TestDuplicateLoginRejectPolicy(t *testing.T) {
	h := newHarness(t, func(c *config.AppConfig) { c.Session.DuplicatePolicy = config.DuplicateReject })
	h.enter("c1", "alice")

	envs := h.login("c2", "alice")
	assert.Equal(t, map[string]protocol.CloseCode{"c2": protocol.CloseDuplicateSession}, closes(envs))
	msgs, _ := messages[protocol.Welcome](envs)
	assert.Empty(t, msgs)
	assert.Equal(t, "c1", h.session("alice").ConnID)
}

func TestRefuseInvalidToken(t *testing.T) {
	h := newHarness(t)
	h.d.Connect("c1")

	envs := h.d.Refuse("c1", protocol.CloseInvalidToken)
	assert.Equal(t, map[string]protocol.CloseCode{"c1": protocol.CloseInvalidToken}, closes(envs))
	assert.Equal(t, 1, h.journal.count(journal.KindInvalidToken))
}

// TestIdleSweep verifies silent connections are closed, authenticated or not
func TestIdleSweep(t *testing.T) {
	h := newHarness(t)
	h.d.Connect("c9")
	h.enter("c1", "alice")

	h.advance(30 * time.Second)
	pong, _ := one[protocol.Pong](t, h.send("c1", &protocol.Ping{ClientTime: 42}))
	assert.Equal(t, int64(42), pong.ClientTime)
	assert.Equal(t, h.clk.Now().UnixMilli(), pong.ServerTime)

	h.advance(30 * time.Second)
	assert.Equal(t, map[string]protocol.CloseCode{"c9": protocol.CloseIdleTimeout}, closes(h.d.SweepIdle()))

	h.advance(30 * time.Second)
	assert.Equal(t, protocol.CloseIdleTimeout, closes(h.d.SweepIdle())["c1"])
}

func TestDisconnectSavesSnapshot(t *testing.T) {
	h := newHarness(t)
	h.enter("c1", "alice")
	h.send("c1", &protocol.Move{X: 120, Y: 4})

	h.d.Disconnect("c1")

	saves := h.saver.all()
	require.Len(t, saves, 1)
	assert.Equal(t, "alice", saves[0].name)
	assert.Equal(t, henesys, saves[0].snap.MapID)
	assert.Equal(t, 120.0, saves[0].snap.X)
	assert.Equal(t, 0, h.d.registry.Len())
}

// TestUnloadedCharacterIsNeverSaved covers a login whose snapshot load failed
func TestUnloadedCharacterIsNeverSaved(t *testing.T) {
	h := newHarness(t)
	h.d.Connect("c1")
	h.d.Login("c1", session.Credential{Name: "alice", Persist: false})
	h.send("c1", &protocol.MapReady{})

	_, to := one[protocol.StateSaved](t, h.send("c1", &protocol.StateSync{}))
	assert.Equal(t, []string{"c1"}, to)
	h.d.Disconnect("c1")
	assert.Empty(t, h.saver.all())
}

func TestStateSync(t *testing.T) {
	h := newHarness(t)
	h.enter("c1", "alice")

	stats := persist.Stats{Level: 5, HP: 90, MaxHP: 100, MP: 10, MaxMP: 20, Exp: 33}
	envs := h.send("c1", &protocol.StateSync{Stats: &stats, Achievements: map[string]int{"jq_finished": 1}})
	one[protocol.StateSaved](t, envs)

	saves := h.saver.all()
	require.Len(t, saves, 1)
	assert.Equal(t, 5, saves[0].snap.Stats.Level)
	assert.Equal(t, 1, saves[0].snap.Achievements["jq_finished"])
}

func TestFlushAllAndPlayerCount(t *testing.T) {
	h := newHarness(t)
	h.enter("c1", "alice")
	h.enter("c2", "bob")

	count, to := one[protocol.GlobalPlayerCount](t, h.d.BroadcastPlayerCount())
	assert.Equal(t, 2, count.Count)
	assert.ElementsMatch(t, []string{"c1", "c2"}, to)

	assert.Equal(t, 2, h.d.FlushAll())
	assert.Len(t, h.saver.all(), 2)

	stats := h.d.Stats()
	assert.Equal(t, 2, stats.Sessions)
	assert.Equal(t, []string{henesys}, stats.Rooms)
}

// TestFramesFromClosedConnectionsAreDropped covers frames that were already
// queued when the server closed their connection
func TestFramesFromClosedConnectionsAreDropped(t *testing.T) {
	t.Run("replaced", func(t *testing.T) {
		h := newHarness(t)
		h.enter("c1", "alice")
		h.login("c2", "alice")

		assert.Empty(t, h.send("c1", &protocol.Move{X: 5}))
		assert.Empty(t, h.send("c1", &protocol.Chat{Text: "hi"}))
		assert.Equal(t, 0, h.journal.count(journal.KindProtocolViolation))
		assert.Equal(t, "c2", h.session("alice").ConnID)
	})

	t.Run("rejected duplicate", func(t *testing.T) {
		h := newHarness(t, func(c *config.AppConfig) { c.Session.DuplicatePolicy = config.DuplicateReject })
		h.enter("c1", "alice")
		h.login("c2", "alice")

		assert.Empty(t, h.send("c2", &protocol.Move{X: 5}))
		assert.Equal(t, 0, h.journal.count(journal.KindProtocolViolation))
		assert.Equal(t, 0, h.d.registry.Pending())
	})

	t.Run("refused", func(t *testing.T) {
		h := newHarness(t)
		h.d.Connect("c1")
		h.d.Refuse("c1", protocol.CloseInvalidToken)

		assert.Empty(t, h.send("c1", &protocol.Move{X: 5}))
		assert.Equal(t, 0, h.journal.count(journal.KindProtocolViolation))
	})
}

func TestStateSyncRejectsInvalidStats(t *testing.T) {
	tests := map[string]persist.Stats{
		"empty":         {},
		"hp over max":   {Level: 3, HP: 200, MaxHP: 100},
		"negative meso": {Level: 3, HP: 50, MaxHP: 100, Meso: -1},
	}

	for name, stats := range tests {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.enter("c1", "alice")
			before := h.session("alice").Stats

			envs := h.send("c1", &protocol.StateSync{Stats: &stats})
			e, to := one[protocol.Error](t, envs)
			assert.Equal(t, ReasonInvalidStats, e.Reason)
			assert.Equal(t, []string{"c1"}, to)

			assert.Equal(t, before, h.session("alice").Stats)
			assert.Empty(t, h.saver.all())
		})
	}
}

func TestPlaceOnLoginDeniesWhileInTransit(t *testing.T) {
	h := newHarness(t)
	h.login("c1", "alice")
	s := h.session("alice")
	require.True(t, s.InTransit())

	envs, err := h.d.placeOnLogin(s)
	assert.Empty(t, envs)
	var denial *Denial
	require.ErrorAs(t, err, &denial)
	assert.Equal(t, ReasonAlreadyTransitioning, denial.Reason)
}
