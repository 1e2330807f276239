package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/libevm/shlop-app-sub002/internal/drops"
	"github.com/libevm/shlop-app-sub002/internal/persist"
	"github.com/libevm/shlop-app-sub002/internal/reactor"
)

// Server event types.
const (
	TypeWelcome           Type = "welcome"
	TypeChangeMap         Type = "change_map"
	TypeMapState          Type = "map_state"
	TypePlayerEnter       Type = "player_enter"
	TypePlayerLeave       Type = "player_leave"
	TypePlayerMove        Type = "player_move"
	TypePortalDenied      Type = "portal_denied"
	TypeNPCTravelDenied   Type = "npc_travel_denied"
	TypeReactorHit        Type = "reactor_hit"
	TypeReactorDestroy    Type = "reactor_destroy"
	TypeReactorFail       Type = "reactor_fail"
	TypeReactorRespawn    Type = "reactor_respawn"
	TypeDropSpawn         Type = "drop_spawn"
	TypeDropLoot          Type = "drop_loot"
	TypeLootFailed        Type = "loot_failed"
	TypeDropExpire        Type = "drop_expire"
	TypeDropItemFailed    Type = "drop_item_failed"
	TypePlayerChat        Type = "player_chat"
	TypePlayerFace        Type = "player_face"
	TypePlayerSit         Type = "player_sit"
	TypePlayerAttack      Type = "player_attack"
	TypePlayerEquip       Type = "player_equip"
	TypeAuthority         Type = "authority"
	TypeGlobalPlayerCount Type = "global_player_count"
	TypeStateSaved        Type = "state_saved"
	TypePong              Type = "pong"
	TypeError             Type = "error"
)

// Outbound is a server event.
type Outbound interface {
	EventType() Type
}

// PlayerView is how other occupants see a player.
type PlayerView struct {
	Name   string            `json:"name"`
	X      float64           `json:"x"`
	Y      float64           `json:"y"`
	Facing int               `json:"facing"`
	Action string            `json:"action"`
	Look   map[string]string `json:"look"`
	Seat   int               `json:"seat"`
	Level  int               `json:"level"`
}

type Welcome struct {
	Name         string         `json:"name"`
	Stats        persist.Stats  `json:"stats"`
	Inventory    map[string]int `json:"inventory"`
	Achievements map[string]int `json:"achievements"`
}

// ChangeMap directs the client to load MapID and reply with map_ready.
type ChangeMap struct {
	MapID  string  `json:"map_id"`
	Anchor string  `json:"anchor"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// MapState is the full room snapshot sent to a joining session.
type MapState struct {
	MapID     string         `json:"map_id"`
	Players   []PlayerView   `json:"players"`
	Drops     []drops.Drop   `json:"drops"`
	Reactors  []reactor.View `json:"reactors"`
	Authority bool           `json:"authority"`
}

type PlayerEnter struct {
	Player PlayerView `json:"player"`
}

type PlayerLeave struct {
	Name string `json:"name"`
}

type PlayerMove struct {
	Name   string  `json:"name"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Action string  `json:"action"`
	Facing int     `json:"facing"`
}

type PortalDenied struct {
	Portal string `json:"portal"`
	Reason string `json:"reason"`
}

type NPCTravelDenied struct {
	NPC    string `json:"npc_id"`
	Map    string `json:"map_id"`
	Reason string `json:"reason"`
}

type ReactorHit struct {
	Index int    `json:"index"`
	State int    `json:"state"`
	HP    int    `json:"hp"`
	By    string `json:"by"`
}

type ReactorDestroy struct {
	Index int    `json:"index"`
	State int    `json:"state"`
	Owner string `json:"owner"`
}

type ReactorFail struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

type ReactorRespawn struct {
	Reactor reactor.View `json:"reactor"`
}

type DropSpawn struct {
	Drop drops.Drop `json:"drop"`
}

type DropLoot struct {
	DropID int64  `json:"drop_id"`
	By     string `json:"by"`
	Item   string `json:"item"`
	Qty    int    `json:"qty"`
}

type LootFailed struct {
	DropID      int64  `json:"drop_id"`
	Reason      string `json:"reason"`
	RemainingMS int64  `json:"remaining_ms,omitempty"`
}

type DropExpire struct {
	DropID int64 `json:"drop_id"`
}

type DropItemFailed struct {
	Item   string `json:"item"`
	Reason string `json:"reason"`
}

type PlayerChat struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

type PlayerFace struct {
	Name       string `json:"name"`
	Expression int    `json:"expression"`
}

type PlayerSit struct {
	Name string `json:"name"`
	Seat int    `json:"seat"`
}

type PlayerAttack struct {
	Name   string `json:"name"`
	Skill  string `json:"skill"`
	Facing int    `json:"facing"`
}

type PlayerEquip struct {
	Name string            `json:"name"`
	Look map[string]string `json:"look"`
}

type MobStateRelay struct {
	From string          `json:"from"`
	Mobs json.RawMessage `json:"mobs"`
}

type MobDamageRelay struct {
	From   string `json:"from"`
	MobID  string `json:"mob_id"`
	Damage int    `json:"damage"`
}

// Authority tells a session it now simulates the room's mobs.
type Authority struct {
	MapID  string `json:"map_id"`
	Holder bool   `json:"holder"`
}

type GlobalPlayerCount struct {
	Count int `json:"count"`
}

type StateSaved struct{}

type Pong struct {
	ServerTime int64 `json:"server_time"`
	ClientTime int64 `json:"t"`
}

type Error struct {
	Reason string `json:"reason"`
}

func (Welcome) EventType() Type           { return TypeWelcome }
func (ChangeMap) EventType() Type         { return TypeChangeMap }
func (MapState) EventType() Type          { return TypeMapState }
func (PlayerEnter) EventType() Type       { return TypePlayerEnter }
func (PlayerLeave) EventType() Type       { return TypePlayerLeave }
func (PlayerMove) EventType() Type        { return TypePlayerMove }
func (PortalDenied) EventType() Type      { return TypePortalDenied }
func (NPCTravelDenied) EventType() Type   { return TypeNPCTravelDenied }
func (ReactorHit) EventType() Type        { return TypeReactorHit }
func (ReactorDestroy) EventType() Type    { return TypeReactorDestroy }
func (ReactorFail) EventType() Type       { return TypeReactorFail }
func (ReactorRespawn) EventType() Type    { return TypeReactorRespawn }
func (DropSpawn) EventType() Type         { return TypeDropSpawn }
func (DropLoot) EventType() Type          { return TypeDropLoot }
func (LootFailed) EventType() Type        { return TypeLootFailed }
func (DropExpire) EventType() Type        { return TypeDropExpire }
func (DropItemFailed) EventType() Type    { return TypeDropItemFailed }
func (PlayerChat) EventType() Type        { return TypePlayerChat }
func (PlayerFace) EventType() Type        { return TypePlayerFace }
func (PlayerSit) EventType() Type         { return TypePlayerSit }
func (PlayerAttack) EventType() Type      { return TypePlayerAttack }
func (PlayerEquip) EventType() Type       { return TypePlayerEquip }
func (MobStateRelay) EventType() Type     { return TypeMobState }
func (MobDamageRelay) EventType() Type    { return TypeMobDamage }
func (Authority) EventType() Type         { return TypeAuthority }
func (GlobalPlayerCount) EventType() Type { return TypeGlobalPlayerCount }
func (StateSaved) EventType() Type        { return TypeStateSaved }
func (Pong) EventType() Type              { return TypePong }
func (Error) EventType() Type             { return TypeError }

// Encode renders an event as {"type": ..., fields...}.
func Encode(msg Outbound) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", msg.EventType(), err)
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("encoding %s: payload is not an object", msg.EventType())
	}
	head, _ := json.Marshal(string(msg.EventType()))
	out := make([]byte, 0, len(body)+len(head)+9)
	out = append(out, `{"type":`...)
	out = append(out, head...)
	if len(body) > 2 {
		out = append(out, ',')
	}
	out = append(out, body[1:]...)
	return out, nil
}
