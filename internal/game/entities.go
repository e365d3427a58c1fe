package game

import (
	"math"
	"net"
)

type MonsterKind uint8

const (
	KindSine   MonsterKind = 0
	KindZigZag MonsterKind = 1
	KindBoss   MonsterKind = 2
)

func (k MonsterKind) String() string {
	switch k {
	case KindSine:
		return "sine"
	case KindZigZag:
		return "zigzag"
	case KindBoss:
		return "boss"
	}
	return "unknown"
}

const (
	monsterHalf = 9.0
	bossHalf    = 22.0
	bulletHalf  = 3.0
	playerHalfX = 16.5
	playerHalfY = 8.5

	DefaultPlayerHP  = 5
	hitCooldownMs    = 500
	KillScore        = 10
	BossThreshold    = 10
	bossHP           = 5
	maxInputSpeed    = 10
	regularMonsterHP = 3
)

type Player struct {
	ID   uint16
	X    uint8
	Y    uint8
	HP   uint8
	VelX int8
	VelY int8
	Dir  uint8
	Addr *net.UDPAddr

	lastHitMs int64
	wasHit    bool
	dead      bool
}

func (p *Player) IsAlive() bool { return p.HP > 0 }

// canBeHit enforces the 500ms damage cooldown.
func (p *Player) canBeHit(nowMs int64) bool {
	return !p.wasHit || nowMs-p.lastHitMs >= hitCooldownMs
}

// ReduceHP takes one hit point if the cooldown allows it.
func (p *Player) ReduceHP(nowMs int64) {
	if !p.canBeHit(nowMs) {
		return
	}
	if p.HP > 0 {
		p.HP--
	}
	p.lastHitMs = nowMs
	p.wasHit = true
}

// Bullet owners are player ids, or the negated boss id for hostile shots.
type Bullet struct {
	ID      uint16
	OwnerID int32
	X       uint8
	Y       uint8
	VelX    int8
	VelY    int8
}

func (b *Bullet) Hostile() bool { return b.OwnerID < 0 }

type Monster struct {
	ID   uint16
	Kind MonsterKind
	X    float64
	Y    float64
	HP   int

	baseY     float64
	amplitude float64
	phase     float64
	freq      float64
	speedX    float64
	speedY    float64

	nextPatternMs int64
	nextShotMs    int64
}

func (m *Monster) IsAlive() bool { return m.HP > 0 }

func (m *Monster) half() float64 {
	if m.Kind == KindBoss {
		return bossHalf
	}
	return monsterHalf
}

// overlaps is the AABB test on centers and half extents.
func overlaps(ax, ay, bx, by, halfX, halfY float64) bool {
	return math.Abs(ax-bx) <= halfX && math.Abs(ay-by) <= halfY
}

func clampByte(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func clampInt8(v, limit int8) int8 {
	if v < -limit {
		return -limit
	}
	if v > limit {
		return limit
	}
	return v
}
