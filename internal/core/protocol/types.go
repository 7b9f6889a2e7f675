package protocol

import "fmt"

// MessageType is the one-byte tag that starts every message on the wire.
//
// The tag space is partitioned into bands of sixteen. New messages take the
// next free tag inside their band, so existing tags never get renumbered.
type MessageType uint8

// Band is the high nibble of a MessageType.
type Band uint8

const (
	BandConnection    Band = 0x00
	BandPlayerState   Band = 0x10
	BandLevel         Band = 0x20
	BandCombat        Band = 0x30
	BandItems         Band = 0x40
	BandEntities      Band = 0x50
	BandEnemyState    Band = 0x60
	BandInteractables Band = 0x70
	BandGameFlow      Band = 0x80
	BandDebug         Band = 0xF0
)

// Connection band
const (
	TypeHello MessageType = iota + MessageType(BandConnection) + 1
	TypeWelcome
	TypeHeartbeat
	TypeDisconnect
	TypePeerJoined
	TypePeerLeft
)

// Player state band
const (
	TypePlayerState MessageType = iota + MessageType(BandPlayerState)
)

// Level band
const (
	TypeLevelStart MessageType = iota + MessageType(BandLevel)
	TypeLevelReady
)

// Combat band
const (
	TypeDamageRequest MessageType = iota + MessageType(BandCombat)
	TypeDamageResult
	TypeEntityDeath
	TypeHitBlocked
	TypePlayerDamage
)

// Entities band
const (
	TypeSpawnAnnounce MessageType = iota + MessageType(BandEntities)
	TypeClientSpawnNotify
	TypeBatchSpawn
	TypeEntityDespawn
)

// Enemy state band
const (
	TypeActorStates MessageType = iota + MessageType(BandEnemyState)
)

// Game flow band
const (
	TypeSessionEnd MessageType = iota + MessageType(BandGameFlow)
)

// Debug band
const (
	TypeDebugText MessageType = iota + MessageType(BandDebug)
)

// Band returns the band the tag belongs to.
func (t MessageType) Band() Band {
	return Band(t & 0xF0)
}

var typeNames = map[MessageType]string{
	TypeHello:             "hello",
	TypeWelcome:           "welcome",
	TypeHeartbeat:         "heartbeat",
	TypeDisconnect:        "disconnect",
	TypePeerJoined:        "peer_joined",
	TypePeerLeft:          "peer_left",
	TypePlayerState:       "player_state",
	TypeLevelStart:        "level_start",
	TypeLevelReady:        "level_ready",
	TypeDamageRequest:     "damage_request",
	TypeDamageResult:      "damage_result",
	TypeEntityDeath:       "entity_death",
	TypeHitBlocked:        "hit_blocked",
	TypePlayerDamage:      "player_damage",
	TypeSpawnAnnounce:     "spawn_announce",
	TypeClientSpawnNotify: "client_spawn_notify",
	TypeBatchSpawn:        "batch_spawn",
	TypeEntityDespawn:     "entity_despawn",
	TypeActorStates:       "actor_states",
	TypeSessionEnd:        "session_end",
	TypeDebugText:         "debug_text",
}

// MessageType string representation
func (t MessageType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(0x%02x)", uint8(t))
}

func (b Band) String() string {
	switch b {
	case BandConnection:
		return "connection"
	case BandPlayerState:
		return "player_state"
	case BandLevel:
		return "level"
	case BandCombat:
		return "combat"
	case BandItems:
		return "items"
	case BandEntities:
		return "entities"
	case BandEnemyState:
		return "enemy_state"
	case BandInteractables:
		return "interactables"
	case BandGameFlow:
		return "game_flow"
	case BandDebug:
		return "debug"
	default:
		return "unassigned"
	}
}

// Delivery selects the transport channel.
type Delivery uint8

const (
	Reliable Delivery = iota
	Unreliable
)

// ConnectionState represents the current state of a session.
type ConnectionState int

const (
	ConnectionStateDisconnected ConnectionState = iota
	ConnectionStateConnecting
	ConnectionStateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionStateDisconnected:
		return "disconnected"
	case ConnectionStateConnecting:
		return "connecting"
	case ConnectionStateConnected:
		return "connected"
	default:
		return "unknown"
	}
}
