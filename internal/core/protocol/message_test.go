package protocol

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/coop/internal/core/models"
	"github.com/zeusync/coop/internal/core/sim"
)

func fullState() models.ActorState {
	return models.ActorState{
		Position:  models.Vec3{X: -1.5, Y: 2, Z: math.MaxFloat32},
		Yaw:       359.5,
		Pitch:     -89,
		Velocity:  models.Vec3{X: 3, Y: 0, Z: -3},
		AnimState: 255,
		Grounded:  true,
		Health:    255,
	}
}

func sampleMessages() []Message {
	long := strings.Repeat("x", MaxStringLen)
	hole := &sim.BulletHole{Position: models.Vec3{X: 1, Y: 2, Z: 3}, Direction: models.Vec3{Z: -1}, Caliber: 9}
	spark := &models.Vec3{X: 4, Y: 5, Z: 6}
	entries := make([]SpawnEntry, 3)
	for i := range entries {
		entries[i] = SpawnEntry{ID: models.EntityID(i + 1), Kind: math.MaxUint16, Position: models.Vec3{X: float32(i)}, Health: 100}
	}

	return []Message{
		&Hello{},
		&Hello{Fingerprint: math.MaxUint64, Token: "tok", Name: long},
		&Welcome{},
		&Welcome{Peer: 2, Host: 1, SessionID: "s", Peers: []models.PeerID{1, math.MaxUint32}},
		&Heartbeat{Seq: math.MaxUint32, Echo: true},
		&Disconnect{Code: ErrorCodeHeartbeatTimeout, Reason: "timeout"},
		&PeerJoined{Peer: 3, Name: ""},
		&PeerLeft{Peer: 3, Code: ErrorCodeClosedByPeer},
		&PlayerState{},
		&PlayerState{Peer: math.MaxUint32, Time: 12.5, State: fullState()},
		&LevelStart{Level: "forest", Hash: LevelHash("forest"), Seed: math.MaxUint32},
		&LevelReady{Hash: 1},
		&DamageRequest{ID: math.MaxUint16, Damage: 25, Kind: 1, Point: models.Vec3{X: 1}},
		&DamageResult{ID: 1, NewHealth: 75, Delta: 25, Kind: 1},
		&DamageResult{ID: 1, NewHealth: 75, Delta: 25, Kind: 1, Effects: sim.CapturedEffects{HitState: 2, BulletHole: hole}},
		&DamageResult{ID: 1, Effects: sim.CapturedEffects{BulletHole: hole, Invulnerable: spark}},
		&EntityDeath{ID: math.MaxUint16, Kind: 255, KillerIsPlayer: true},
		&HitBlocked{ID: 7, Effects: sim.CapturedEffects{Invulnerable: spark}, Point: models.Vec3{Y: 1}},
		&PlayerDamage{Target: 2, Damage: 10, Kind: 3, Point: models.Vec3{Z: 1}},
		&SpawnAnnounce{SpawnEntry{ID: 1, Kind: 5, Position: models.Vec3{X: 10, Z: 10}, Health: 50}},
		&ClientSpawnNotify{Kind: 5, Position: models.Vec3{X: 10.2, Z: 9.9}, Health: 50},
		&BatchSpawn{Hash: 9},
		&BatchSpawn{Hash: 9, Entries: entries},
		&EntityDespawn{ID: math.MaxUint16},
		&ActorStates{Time: 1},
		&ActorStates{Time: 1, Entries: []ActorStateEntry{{ID: 1, State: fullState()}, {ID: math.MaxUint16}}},
		&SessionEnd{Reason: "bye"},
		&DebugText{From: 1, Text: long},
	}
}

func TestRoundTripEveryMessage(t *testing.T) {
	seen := make(map[MessageType]bool)
	for _, m := range sampleMessages() {
		t.Run(m.Type().String(), func(t *testing.T) {
			data, err := Encode(m)
			require.NoError(t, err)
			assert.Equal(t, uint8(m.Type()), data[0])

			got, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, m, got)
		})
		seen[m.Type()] = true
	}
	for _, typ := range KnownTypes() {
		assert.True(t, seen[typ], "no round-trip sample for %s", typ)
	}
}

func TestDecodeTruncatedPayloads(t *testing.T) {
	for _, m := range sampleMessages() {
		data, err := Encode(m)
		require.NoError(t, err)
		if len(data) < 2 {
			continue
		}
		_, err = Decode(data[:len(data)-1])
		assert.ErrorIs(t, err, ErrMalformed, "type %s", m.Type())
	}
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	_, err := Decode(nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = Decode([]byte{0x45, 0, 0})
	assert.ErrorIs(t, err, ErrUnknownType)

	data, err := Encode(&EntityDespawn{ID: 3})
	require.NoError(t, err)
	_, err = Decode(append(data, 0))
	assert.ErrorIs(t, err, ErrMalformed)
	assert.ErrorIs(t, err, ErrTrailingPayload)
}

func TestDecodeRejectsHugeCounts(t *testing.T) {
	w := NewWriterSize(16)
	w.U8(uint8(TypeBatchSpawn))
	w.U64(1)
	w.U16(math.MaxUint16)
	_, err := Decode(w.Bytes())
	assert.ErrorIs(t, err, ErrMalformed)
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestDecodeRejectsUnknownEffectFlags(t *testing.T) {
	w := NewWriterSize(32)
	w.U8(uint8(TypeHitBlocked))
	w.EntityID(1)
	w.U8(0)
	w.U8(0x80)
	w.Vec3(models.Vec3{})
	_, err := Decode(w.Bytes())
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestEncodeRejectsOversizedString(t *testing.T) {
	_, err := Encode(&DebugText{Text: strings.Repeat("x", MaxStringLen+1)})
	assert.ErrorIs(t, err, ErrStringTooLong)
}

func TestTypeBands(t *testing.T) {
	cases := map[MessageType]Band{
		TypeHello:         BandConnection,
		TypePeerLeft:      BandConnection,
		TypePlayerState:   BandPlayerState,
		TypeLevelStart:    BandLevel,
		TypeDamageRequest: BandCombat,
		TypePlayerDamage:  BandCombat,
		TypeSpawnAnnounce: BandEntities,
		TypeEntityDespawn: BandEntities,
		TypeActorStates:   BandEnemyState,
		TypeSessionEnd:    BandGameFlow,
		TypeDebugText:     BandDebug,
	}
	for typ, band := range cases {
		assert.Equal(t, band, typ.Band(), typ.String())
	}
	for _, typ := range KnownTypes() {
		assert.NotEqual(t, BandItems, typ.Band())
		assert.NotEqual(t, BandInteractables, typ.Band())
		assert.NotContains(t, typ.String(), "unknown")
	}
	assert.Equal(t, "unknown(0x45)", MessageType(0x45).String())
}

func TestFingerprintIsStable(t *testing.T) {
	assert.Equal(t, Fingerprint(), Fingerprint())
	assert.NotZero(t, Fingerprint())
	assert.NotEqual(t, LevelHash("a"), LevelHash("b"))
}

func TestChunkActorStatesFitsDatagram(t *testing.T) {
	entries := make([]ActorStateEntry, MaxActorStatesPerPacket*2+3)
	for i := range entries {
		entries[i] = ActorStateEntry{ID: models.EntityID(i + 1), State: fullState()}
	}
	chunks := ChunkActorStates(5, entries)
	require.Len(t, chunks, 3)

	total := 0
	for _, c := range chunks {
		data, err := Encode(c)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(data), MaxDatagramPayload)
		total += len(c.Entries)
	}
	assert.Equal(t, len(entries), total)
	assert.Nil(t, ChunkActorStates(5, nil))
}
