package world

import (
	"math/rand"
	"sync"
)

// Item is a rolled item stack.
type Item struct {
	ID  string `json:"id"`
	Qty int    `json:"qty"`
}

// LootEntry is one candidate in a loot table.
type LootEntry struct {
	ItemID string  `json:"item"`
	Min    int     `json:"min"`
	Max    int     `json:"max"`
	Chance float64 `json:"chance"` // 0..1; 0 means always for reactor tables
}

// LootTable holds reactor and per-mob loot.
type LootTable struct {
	Reactor []LootEntry            `json:"reactor"`
	Mobs    map[string][]LootEntry `json:"mobs"`
}

// LootRoller produces loot for destroyed reactors and killed mobs.
type LootRoller interface {
	RollReactorLoot() Item
	RollMobLoot(mobID string) []Item
}

// TableRoller rolls from a LootTable. It is safe for concurrent use.
type TableRoller struct {
	mu    sync.Mutex
	rng   *rand.Rand
	table LootTable
}

// NewTableRoller creates a roller seeded with seed.
func NewTableRoller(table LootTable, seed int64) *TableRoller {
	return &TableRoller{rng: rand.New(rand.NewSource(seed)), table: table}
}

// RollReactorLoot picks one weighted entry of the reactor table.
// An empty table yields a zero Item.
func (r *TableRoller) RollReactorLoot() Item {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.table.Reactor
	if len(entries) == 0 {
		return Item{}
	}

	total := 0.0
	for _, e := range entries {
		total += weight(e)
	}
	pick := r.rng.Float64() * total
	for _, e := range entries {
		pick -= weight(e)
		if pick < 0 {
			return Item{ID: e.ItemID, Qty: r.quantity(e)}
		}
	}
	last := entries[len(entries)-1]
	return Item{ID: last.ItemID, Qty: r.quantity(last)}
}

// RollMobLoot rolls every entry of the mob's table independently.
func (r *TableRoller) RollMobLoot(mobID string) []Item {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Item
	for _, e := range r.table.Mobs[mobID] {
		if r.rng.Float64() < e.Chance {
			out = append(out, Item{ID: e.ItemID, Qty: r.quantity(e)})
		}
	}
	return out
}

func weight(e LootEntry) float64 {
	if e.Chance <= 0 {
		return 1
	}
	return e.Chance
}

func (r *TableRoller) quantity(e LootEntry) int {
	lo, hi := e.Min, e.Max
	if lo < 1 {
		lo = 1
	}
	if hi < lo {
		return lo
	}
	return lo + r.rng.Intn(hi-lo+1)
}
