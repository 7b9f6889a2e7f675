package main

import (
	"math"

	"github.com/zeusync/coop/internal/core/models"
	"github.com/zeusync/coop/internal/core/protocol"
	"github.com/zeusync/coop/internal/core/sim/memsim"
)

const (
	typeGrunt  models.TypeID = 10
	typeBrute  models.TypeID = 11
	typeTurret models.TypeID = 12

	demoActors = 12
)

var demoHealth = map[models.TypeID]float32{
	typeGrunt:  50,
	typeBrute:  200,
	typeTurret: 80,
}

// demoWorld stands in for a game client: it spawns the level's actors when
// a level loads and moves the autonomous ones every frame.
type demoWorld struct {
	world   *memsim.World
	local   models.PeerID
	level   string
	handles []models.Handle
	elapsed float32
}

func newDemoWorld(local models.PeerID) *demoWorld {
	w := memsim.New(local, demoHealth)
	w.AddPlayer(local, models.Vec3{Z: float32(local)})
	return &demoWorld{world: w, local: local}
}

// load replaces the current level. Every peer lays the level out from its
// name alone, so hosts and clients spawn matching actors.
func (d *demoWorld) load(level string, _ uint32) {
	for _, h := range d.handles {
		_ = d.world.Despawn(h)
	}
	d.handles = d.handles[:0]
	d.level = level

	kinds := []models.TypeID{typeGrunt, typeBrute, typeTurret}
	salt := float32(protocol.LevelHash(level) % 8)
	for i := range demoActors {
		angle := 2 * math.Pi * float64(i) / demoActors
		pos := models.Vec3{
			X: float32(math.Cos(angle))*20 + salt,
			Z: float32(math.Sin(angle)) * 20,
		}
		h, err := d.world.Spawn(kinds[i%len(kinds)], pos)
		if err != nil {
			continue
		}
		d.handles = append(d.handles, h)
	}
}

// step moves grunts around their spawn circle.
func (d *demoWorld) step(dt float32) {
	d.elapsed += dt
	for i, h := range d.handles {
		info, ok := d.world.Actor(h)
		if !ok || info.Type != typeGrunt {
			continue
		}
		phase := float64(d.elapsed) + float64(i)
		d.world.SetVelocity(h, models.Vec3{
			X: float32(-math.Sin(phase)) * 2,
			Z: float32(math.Cos(phase)) * 2,
		})
	}
	d.world.Step(dt)
}
