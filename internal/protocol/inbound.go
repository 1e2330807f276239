// Package protocol defines the websocket wire format: JSON text frames of
// the form {"type": ..., ...fields}. Inbound messages decode into one
// concrete type per message kind; outbound events encode the same way.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/libevm/shlop-app-sub002/internal/persist"
)

// Type identifies a message kind on the wire.
type Type string

// Client message types.
const (
	TypeAuth        Type = "auth"
	TypeMove        Type = "move"
	TypeUsePortal   Type = "use_portal"
	TypeNPCTravel   Type = "npc_travel"
	TypeMapReady    Type = "map_ready"
	TypeHitReactor  Type = "hit_reactor"
	TypeLootItem    Type = "loot_item"
	TypeDropItem    Type = "drop_item"
	TypeChat        Type = "chat"
	TypeFace        Type = "face"
	TypeSit         Type = "sit"
	TypeAttack      Type = "attack"
	TypeEquipChange Type = "equip_change"
	TypeMobState    Type = "mob_state"
	TypeMobDamage   Type = "mob_damage"
	TypeMobKilled   Type = "mob_killed"
	TypeStateSync   Type = "state_sync"
	TypePing        Type = "ping"
)

var ErrUnknownType = errors.New("unknown message type")

// Inbound is a decoded client message.
type Inbound interface {
	Kind() Type
}

type Auth struct {
	Token string `json:"token"`
}

type Move struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Action string  `json:"action"`
	Facing int     `json:"facing"`
}

type UsePortal struct {
	Portal string `json:"portal"`
}

type NPCTravel struct {
	NPC string `json:"npc_id"`
	Map string `json:"map_id"`
}

// MapReady acknowledges that the client finished loading the map named by
// the last change_map directive.
type MapReady struct{}

// HitReactor hits a reactor from the sender's stored position.
type HitReactor struct {
	Index int `json:"index"`
}

type LootItem struct {
	DropID int64 `json:"drop_id"`
}

// DropItem drops part of an inventory stack on the floor.
type DropItem struct {
	Item string `json:"item"`
	Qty  int    `json:"qty"`
}

type Chat struct {
	Text string `json:"text"`
}

type Face struct {
	Expression int `json:"expression"`
}

// Sit takes a seat; Seat 0 stands up.
type Sit struct {
	Seat int `json:"seat"`
}

type Attack struct {
	Skill  string `json:"skill"`
	Facing int    `json:"facing"`
}

type EquipChange struct {
	Look map[string]string `json:"look"`
}

// MobState is the authority holder's simulation snapshot; the server relays
// it without interpreting it.
type MobState struct {
	Mobs json.RawMessage `json:"mobs"`
}

type MobDamage struct {
	MobID  string `json:"mob_id"`
	Damage int    `json:"damage"`
}

// MobKilled reports a mob death from the authority holder. Mob is the mob
// template used for the loot roll; Killer is credited with the drops.
type MobKilled struct {
	MobID  string  `json:"mob_id"`
	Mob    string  `json:"mob"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Killer string  `json:"killer"`
}

// StateSync pushes client-side stat changes and requests a save.
type StateSync struct {
	Stats        *persist.Stats `json:"stats,omitempty"`
	Achievements map[string]int `json:"achievements,omitempty"`
}

type Ping struct {
	ClientTime int64 `json:"t"`
}

func (*Auth) Kind() Type        { return TypeAuth }
func (*Move) Kind() Type        { return TypeMove }
func (*UsePortal) Kind() Type   { return TypeUsePortal }
func (*NPCTravel) Kind() Type   { return TypeNPCTravel }
func (*MapReady) Kind() Type    { return TypeMapReady }
func (*HitReactor) Kind() Type  { return TypeHitReactor }
func (*LootItem) Kind() Type    { return TypeLootItem }
func (*DropItem) Kind() Type    { return TypeDropItem }
func (*Chat) Kind() Type        { return TypeChat }
func (*Face) Kind() Type        { return TypeFace }
func (*Sit) Kind() Type         { return TypeSit }
func (*Attack) Kind() Type      { return TypeAttack }
func (*EquipChange) Kind() Type { return TypeEquipChange }
func (*MobState) Kind() Type    { return TypeMobState }
func (*MobDamage) Kind() Type   { return TypeMobDamage }
func (*MobKilled) Kind() Type   { return TypeMobKilled }
func (*StateSync) Kind() Type   { return TypeStateSync }
func (*Ping) Kind() Type        { return TypePing }

var inboundFactories = map[Type]func() Inbound{
	TypeAuth:        func() Inbound { return &Auth{} },
	TypeMove:        func() Inbound { return &Move{} },
	TypeUsePortal:   func() Inbound { return &UsePortal{} },
	TypeNPCTravel:   func() Inbound { return &NPCTravel{} },
	TypeMapReady:    func() Inbound { return &MapReady{} },
	TypeHitReactor:  func() Inbound { return &HitReactor{} },
	TypeLootItem:    func() Inbound { return &LootItem{} },
	TypeDropItem:    func() Inbound { return &DropItem{} },
	TypeChat:        func() Inbound { return &Chat{} },
	TypeFace:        func() Inbound { return &Face{} },
	TypeSit:         func() Inbound { return &Sit{} },
	TypeAttack:      func() Inbound { return &Attack{} },
	TypeEquipChange: func() Inbound { return &EquipChange{} },
	TypeMobState:    func() Inbound { return &MobState{} },
	TypeMobDamage:   func() Inbound { return &MobDamage{} },
	TypeMobKilled:   func() Inbound { return &MobKilled{} },
	TypeStateSync:   func() Inbound { return &StateSync{} },
	TypePing:        func() Inbound { return &Ping{} },
}

// Decode parses one client frame.
func Decode(data []byte) (Inbound, error) {
	var env struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	factory, ok := inboundFactories[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	msg := factory()
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", env.Type, err)
	}
	return msg, nil
}
