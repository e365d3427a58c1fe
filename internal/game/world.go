// Package game holds the authoritative per-lobby simulation.
package game

import (
	"math/rand"
	"net"
	"sort"
	"time"

	"arcade/server/internal/protocol"
)

const firstSpawnIntervalMs = 1800

// World is one lobby's simulation. It is not safe for concurrent use; the owning loop serializes access.
type World struct {
	rng *rand.Rand

	players  map[uint16]*Player
	bullets  []Bullet
	monsters []Monster

	score uint16
	seq   uint16

	nextBulletID  uint32
	nextMonsterID uint32

	started         bool
	lastSpawnMs     int64
	spawnIntervalMs int64

	hadPlayers       bool
	bossSpawnedOnce  bool
	bossDefeatedOnce bool
	bossSpawnedFlag  bool
	bossDefeatedFlag bool
	noPlayersFlag    bool
	deadPending      []uint16

	monstersKilled int
	peakPlayers    int
	createdAt      time.Time
}

// NewWorld creates an empty world. A nil rng gets a time-seeded source.
func NewWorld(rng *rand.Rand) *World {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &World{
		rng:             rng,
		players:         make(map[uint16]*Player),
		spawnIntervalMs: firstSpawnIntervalMs,
		createdAt:       time.Now(),
	}
}

// RegisterPlayer adds or resets a player at (x, y) with full hp.
func (w *World) RegisterPlayer(id uint16, x, y uint8, addr *net.UDPAddr) {
	w.players[id] = &Player{ID: id, X: x, Y: y, HP: DefaultPlayerHP, Addr: addr}
	w.hadPlayers = true
	if len(w.players) > w.peakPlayers {
		w.peakPlayers = len(w.players)
	}
}

// ApplyInput buffers one tick of velocity. Unknown and dead players are ignored.
func (w *World) ApplyInput(id uint16, velX, velY int8, dir uint8, addr *net.UDPAddr) bool {
	p, ok := w.players[id]
	if !ok || p.dead {
		return false
	}
	if addr != nil {
		p.Addr = addr
	}
	p.VelX = clampInt8(velX, maxInputSpeed)
	p.VelY = clampInt8(velY, maxInputSpeed)
	p.Dir = dir
	return true
}

// AddShot spawns a friendly bullet owned by id.
func (w *World) AddShot(id uint16, x, y uint8, velX, velY int8) bool {
	p, ok := w.players[id]
	if !ok || p.dead {
		return false
	}
	w.bullets = append(w.bullets, Bullet{
		ID:      w.allocBulletID(),
		OwnerID: int32(id),
		X:       x,
		Y:       y,
		VelX:    clampInt8(velX, maxInputSpeed),
		VelY:    clampInt8(velY, maxInputSpeed),
	})
	return true
}

// RemovePlayer drops the player and its bullets. Emptying a world that had players raises the no-players flag.
func (w *World) RemovePlayer(id uint16) bool {
	if _, ok := w.players[id]; !ok {
		return false
	}
	delete(w.players, id)
	kept := w.bullets[:0]
	for _, b := range w.bullets {
		if b.OwnerID != int32(id) {
			kept = append(kept, b)
		}
	}
	w.bullets = kept
	if w.hadPlayers && len(w.players) == 0 {
		w.noPlayersFlag = true
	}
	return true
}

func (w *World) HasPlayer(id uint16) bool {
	_, ok := w.players[id]
	return ok
}

func (w *World) PlayerCount() int { return len(w.players) }

// Players returns copies sorted by id.
func (w *World) Players() []Player {
	out := make([]Player, 0, len(w.players))
	for _, p := range w.players {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Addrs lists the known datagram addresses of every player.
func (w *World) Addrs() []*net.UDPAddr {
	var out []*net.UDPAddr
	for _, p := range w.Players() {
		if p.Addr != nil {
			out = append(out, p.Addr)
		}
	}
	return out
}

func (w *World) Score() uint16        { return w.score }
func (w *World) MonstersKilled() int  { return w.monstersKilled }
func (w *World) PeakPlayers() int     { return w.peakPlayers }
func (w *World) BossSpawned() bool    { return w.bossSpawnedOnce }
func (w *World) BossDefeated() bool   { return w.bossDefeatedOnce }
func (w *World) CreatedAt() time.Time { return w.createdAt }
func (w *World) BulletCount() int     { return len(w.bullets) }
func (w *World) MonsterCount() int    { return len(w.monsters) }

func (w *World) TakeBossSpawned() bool {
	v := w.bossSpawnedFlag
	w.bossSpawnedFlag = false
	return v
}

func (w *World) TakeBossDefeated() bool {
	v := w.bossDefeatedFlag
	w.bossDefeatedFlag = false
	return v
}

func (w *World) TakeNoPlayers() bool {
	v := w.noPlayersFlag
	w.noPlayersFlag = false
	return v
}

// TakeDeadPlayers returns the ids that reached 0 hp since the last call.
func (w *World) TakeDeadPlayers() []uint16 {
	out := w.deadPending
	w.deadPending = nil
	return out
}

// Snapshot serializes the world and advances the sequence number.
func (w *World) Snapshot() protocol.Packet {
	w.seq++
	s := protocol.Snapshot{Seq: w.seq}
	for _, p := range w.Players() {
		s.Players = append(s.Players, protocol.SnapshotPlayer{
			ID: p.ID, X: p.X, Y: p.Y, HP: p.HP, Score: w.score,
		})
	}
	for _, b := range w.bullets {
		s.Bullets = append(s.Bullets, protocol.SnapshotBullet{
			ID: b.ID, X: b.X, Y: b.Y, VelX: b.VelX, VelY: b.VelY,
		})
	}
	for _, m := range w.monsters {
		hp := m.HP
		if hp < 0 {
			hp = 0
		}
		if hp > 127 {
			hp = 127
		}
		s.Monsters = append(s.Monsters, protocol.SnapshotMonster{
			ID:   m.ID,
			X:    clampByte(int(m.X)),
			Y:    clampByte(int(m.Y)),
			HP:   uint8(hp),
			Kind: uint8(m.Kind),
		})
	}
	return s.Packet()
}

func (w *World) allocBulletID() uint16 {
	id := uint16(w.nextBulletID & 0xFFFF)
	w.nextBulletID++
	return id
}

// allocMonsterID never returns 0 so a boss's negated id always marks its bullets hostile.
func (w *World) allocMonsterID() uint16 {
	w.nextMonsterID++
	id := uint16(w.nextMonsterID & 0xFFFF)
	if id == 0 {
		w.nextMonsterID++
		id = uint16(w.nextMonsterID & 0xFFFF)
	}
	return id
}

func (w *World) addScore(n int) {
	total := int(w.score) + n
	if total > 0xFFFF {
		total = 0xFFFF
	}
	w.score = uint16(total)
}

func (w *World) hitPlayer(p *Player, nowMs int64) {
	p.ReduceHP(nowMs)
	if p.HP == 0 && !p.dead {
		p.dead = true
		w.deadPending = append(w.deadPending, p.ID)
	}
}
