// Package world holds the static game data consumed by the session server:
// map portals, NPC placements, reactor placements, NPC travel policy and
// loot tables. The real loaders live elsewhere; Catalog reads the subset the
// server needs from a JSON document.
package world

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/libevm/shlop-app-sub002/internal/reactor"
)

// PortalType classifies a portal.
type PortalType string

const (
	PortalSpawn   PortalType = "spawn"   // Arrival point only, never usable
	PortalRegular PortalType = "regular" // Walk-in portal
	PortalScript  PortalType = "script"  // Scripted portal with a target
	PortalHidden  PortalType = "hidden"  // Usable but not rendered
)

// Usable reports whether a player may enter the portal.
func (t PortalType) Usable() bool {
	return t != PortalSpawn
}

// Portal is a named point on a map.
type Portal struct {
	Name         string     `json:"name"`
	Type         PortalType `json:"type"`
	X            float64    `json:"x"`
	Y            float64    `json:"y"`
	TargetMap    string     `json:"target_map,omitempty"`
	TargetPortal string     `json:"target_portal,omitempty"`
}

// NPC is an NPC placement.
type NPC struct {
	ID     string  `json:"id"`
	Script string  `json:"script,omitempty"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// Map is the static description of one map.
type Map struct {
	ID        string              `json:"id"`
	ReturnMap string              `json:"return_map,omitempty"`
	Portals   []Portal            `json:"portals"`
	NPCs      []NPC               `json:"npcs"`
	Reactors  []reactor.Placement `json:"reactors"`
}

// MapData answers static map questions.
type MapData interface {
	Portals(mapID string) []Portal
	NPCsOnMap(mapID string) []NPC
	ReturnMap(mapID string) (string, bool)
	MapExists(mapID string) bool
}

// NPCPolicy answers which maps an NPC may send a player to.
type NPCPolicy interface {
	AllowedDestinations(npcID string) ([]string, bool)
}

type document struct {
	Maps []Map `json:"maps"`
	// Travel maps a script name to the destinations it offers.
	Travel map[string][]string `json:"travel"`
	// FallbackTravel is offered by scripts without an explicit table.
	FallbackTravel []string  `json:"fallback_travel"`
	Loot           LootTable `json:"loot"`
}

// Catalog is an immutable, in-memory static data set. It implements
// MapData, NPCPolicy and reactor.PlacementSource.
type Catalog struct {
	maps     map[string]*Map
	npcs     map[string]NPC
	travel   map[string][]string
	fallback []string
	loot     LootTable
}

// LoadFile reads a catalog from a JSON file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading world data: %w", err)
	}
	return Parse(data)
}

// Parse builds a catalog from JSON.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing world data: %w", err)
	}
	return New(doc.Maps, doc.Travel, doc.FallbackTravel, doc.Loot)
}

// New builds a catalog from already-decoded data.
func New(maps []Map, travel map[string][]string, fallback []string, loot LootTable) (*Catalog, error) {
	c := &Catalog{
		maps:     make(map[string]*Map, len(maps)),
		npcs:     make(map[string]NPC),
		travel:   travel,
		fallback: fallback,
		loot:     loot,
	}
	for i := range maps {
		m := maps[i]
		if m.ID == "" {
			return nil, fmt.Errorf("map %d has no id", i)
		}
		if _, dup := c.maps[m.ID]; dup {
			return nil, fmt.Errorf("duplicate map %s", m.ID)
		}
		c.maps[m.ID] = &m
		for _, n := range m.NPCs {
			c.npcs[n.ID] = n
		}
	}
	return c, nil
}

// Portals returns the portals of mapID.
func (c *Catalog) Portals(mapID string) []Portal {
	if m, ok := c.maps[mapID]; ok {
		return m.Portals
	}
	return nil
}

// NPCsOnMap returns the NPCs placed on mapID.
func (c *Catalog) NPCsOnMap(mapID string) []NPC {
	if m, ok := c.maps[mapID]; ok {
		return m.NPCs
	}
	return nil
}

// ReturnMap returns the configured fallback destination of mapID.
func (c *Catalog) ReturnMap(mapID string) (string, bool) {
	m, ok := c.maps[mapID]
	if !ok || m.ReturnMap == "" {
		return "", false
	}
	return m.ReturnMap, true
}

// MapExists reports whether static data exists for mapID.
func (c *Catalog) MapExists(mapID string) bool {
	_, ok := c.maps[mapID]
	return ok
}

// Reactors returns the reactor placements of mapID.
func (c *Catalog) Reactors(mapID string) []reactor.Placement {
	if m, ok := c.maps[mapID]; ok {
		return m.Reactors
	}
	return nil
}

// AllowedDestinations returns the travel table of the NPC's script. Known NPCs
// whose script has no table get the broad fallback list; unknown NPCs get none.
func (c *Catalog) AllowedDestinations(npcID string) ([]string, bool) {
	npc, ok := c.npcs[npcID]
	if !ok {
		return nil, false
	}
	if dests, ok := c.travel[npc.Script]; ok {
		return slices.Clone(dests), true
	}
	if len(c.fallback) == 0 {
		return nil, false
	}
	return slices.Clone(c.fallback), true
}

// Loot returns the loot table.
func (c *Catalog) Loot() LootTable {
	return c.loot
}
