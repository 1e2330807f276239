package game

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/libevm/shlop-app-sub002/internal/clock"
	"github.com/libevm/shlop-app-sub002/internal/config"
	"github.com/libevm/shlop-app-sub002/internal/journal"
	"github.com/libevm/shlop-app-sub002/internal/persist"
	"github.com/libevm/shlop-app-sub002/internal/protocol"
	"github.com/libevm/shlop-app-sub002/internal/reactor"
	"github.com/libevm/shlop-app-sub002/internal/session"
	"github.com/libevm/shlop-app-sub002/internal/world"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

const (
	henesys = "100000000"
	field   = "100000001"
	town    = "100000002"
)

func testCatalog(t *testing.T) *world.Catalog {
	t.Helper()
	maps := []world.Map{
		{
			ID:        henesys,
			ReturnMap: town,
			Portals: []world.Portal{
				{Name: "sp", Type: world.PortalSpawn, X: 0, Y: 0},
				{Name: "east", Type: world.PortalRegular, X: 800, Y: 0, TargetMap: field, TargetPortal: "west"},
				{Name: "home", Type: world.PortalHidden, X: 100, Y: 0},
				{Name: "void", Type: world.PortalScript, X: -100, Y: 0, TargetMap: "999999999"},
			},
			NPCs: []world.NPC{
				{ID: "9000020", Script: "taxi", X: 50, Y: 0},
				{ID: "9000099", Script: "untabled", X: 60, Y: 0},
			},
			Reactors: []reactor.Placement{{X: 300, Y: 0}, {X: 1000, Y: 0}},
		},
		{
			ID: field,
			Portals: []world.Portal{
				{Name: "sp", Type: world.PortalSpawn, X: 5, Y: 5},
				{Name: "west", Type: world.PortalRegular, X: -700, Y: 10, TargetMap: henesys, TargetPortal: "east"},
			},
			NPCs: []world.NPC{{ID: "9000030", Script: "taxi", X: 0, Y: 0}},
		},
		{
			ID:      town,
			Portals: []world.Portal{{Name: "sp", Type: world.PortalSpawn, X: 1, Y: 2}},
		},
	}
	travel := map[string][]string{"taxi": {field, "999999999"}}
	cat, err := world.New(maps, travel, []string{town}, world.LootTable{})
	require.NoError(t, err)
	return cat
}

type fixedRoller struct{}

func (fixedRoller) RollReactorLoot() world.Item { return world.Item{ID: "4000000", Qty: 1} }

func (fixedRoller) RollMobLoot(mobID string) []world.Item {
	if mobID == "" {
		return nil
	}
	return []world.Item{{ID: "4000001", Qty: 2}, {ID: "4000002", Qty: 1}}
}

type saved struct {
	name string
	snap persist.Snapshot
}

type captureSaver struct {
	mu    sync.Mutex
	saves []saved
}

func (c *captureSaver) Save(name string, snap persist.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saves = append(c.saves, saved{name: name, snap: snap})
}

func (c *captureSaver) all() []saved {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]saved(nil), c.saves...)
}

type recordedEntry struct {
	kind    journal.Kind
	session string
}

type captureJournal struct {
	entries []recordedEntry
}

func (c *captureJournal) Record(kind journal.Kind, name, _ string, _ map[string]any) bool {
	c.entries = append(c.entries, recordedEntry{kind: kind, session: name})
	return true
}

func (c *captureJournal) count(kind journal.Kind) int {
	n := 0
	for _, e := range c.entries {
		if e.kind == kind {
			n++
		}
	}
	return n
}

type harness struct {
	t       *testing.T
	d       *Dispatcher
	clk     *clock.Manual
	saver   *captureSaver
	journal *captureJournal
}

func newHarness(t *testing.T, tweak ...func(*config.AppConfig)) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Session.StartMap = henesys
	for _, fn := range tweak {
		fn(&cfg)
	}
	cat := testCatalog(t)
	h := &harness{
		t:       t,
		clk:     clock.NewManual(epoch),
		saver:   &captureSaver{},
		journal: &captureJournal{},
	}
	h.d = NewDispatcher(cfg, Deps{
		Maps:     cat,
		NPCs:     cat,
		Loot:     fixedRoller{},
		Reactors: cat,
		Saver:    h.saver,
		Journal:  h.journal,
		Clock:    h.clk,
		Logger:   zap.NewNop(),
	})
	return h
}

// login connects and authenticates connID as name without completing the
// map handshake.
func (h *harness) login(connID, name string) []Envelope {
	h.d.Connect(connID)
	return h.d.Login(connID, session.Credential{Name: name, Persist: true})
}

// enter logs in and completes the handshake into the start map.
func (h *harness) enter(connID, name string) []Envelope {
	h.login(connID, name)
	return h.send(connID, &protocol.MapReady{})
}

func (h *harness) send(connID string, msg protocol.Inbound) []Envelope {
	return h.d.Handle(connID, msg)
}

func (h *harness) session(name string) *session.Session {
	s, ok := h.d.registry.ByName(name)
	require.True(h.t, ok, "no session %s", name)
	return s
}

func (h *harness) advance(d time.Duration) {
	h.clk.Advance(d)
}

// messages returns the events of type T in envs along with their recipients.
func messages[T protocol.Outbound](envs []Envelope) ([]T, [][]string) {
	var msgs []T
	var to [][]string
	for _, e := range envs {
		if m, ok := e.Msg.(T); ok {
			msgs = append(msgs, m)
			to = append(to, e.To)
		}
	}
	return msgs, to
}

// one requires exactly one event of type T and returns it.
func one[T protocol.Outbound](t *testing.T, envs []Envelope) (T, []string) {
	t.Helper()
	msgs, to := messages[T](envs)
	require.Len(t, msgs, 1, "envelopes: %+v", envs)
	return msgs[0], to[0]
}

func closes(envs []Envelope) map[string]protocol.CloseCode {
	out := map[string]protocol.CloseCode{}
	for _, e := range envs {
		if e.Close != 0 {
			for _, id := range e.To {
				out[id] = e.Close
			}
		}
	}
	return out
}
