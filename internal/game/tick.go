package game

import (
	"math"
	"sort"
)

const (
	bossStartX = 220.0
	bossStartY = 120.0

	bossMinX = 110.0
	bossMaxX = 245.0
	bossMinY = 20.0
	bossMaxY = 235.0

	bossDrift        = 2.2
	bossDriftYFactor = 0.7

	sineSpeed       = -1.3
	zigzagSpeed     = -1.4
	zigzagAmplitude = 22.0
	zigzagPeriodSec = 0.4

	motionScale = 32.0
)

// Tick advances the world by one fixed step. nowMs is a monotonic clock, deltaMs the step length.
func (w *World) Tick(nowMs, deltaMs int64) {
	if !w.started {
		w.started = true
		w.lastSpawnMs = nowMs
	}

	w.spawn(nowMs)
	w.movePlayers()
	w.contactDamage(nowMs)
	w.integrateBullets()
	w.resolveBulletHits(nowMs)
	w.advanceMonsters(nowMs, float64(deltaMs)/1000.0)
}

func (w *World) hasBoss() bool {
	for i := range w.monsters {
		if w.monsters[i].Kind == KindBoss {
			return true
		}
	}
	return false
}

func (w *World) spawn(nowMs int64) {
	bossActive := w.hasBoss()
	if !bossActive && !w.bossSpawnedOnce && w.score >= BossThreshold {
		w.spawnBoss(nowMs)
		bossActive = true
	}
	if !bossActive && nowMs-w.lastSpawnMs >= w.spawnIntervalMs {
		w.spawnMonster(nowMs)
	}
}

func (w *World) spawnMonster(nowMs int64) {
	m := Monster{
		ID: w.allocMonsterID(),
		X:  255,
		HP: regularMonsterHP,
	}
	m.baseY = float64(20 + w.rng.Intn(216))
	m.Y = m.baseY
	if w.rng.Intn(2) == 0 {
		m.Kind = KindSine
		m.amplitude = float64(8 + w.rng.Intn(11))
		m.freq = 2.5 + w.rng.Float64()*2.5
		m.speedX = sineSpeed
	} else {
		m.Kind = KindZigZag
		m.amplitude = zigzagAmplitude
		m.speedX = zigzagSpeed
	}
	w.monsters = append(w.monsters, m)
	w.spawnIntervalMs = int64(1600 + w.rng.Intn(801))
	w.lastSpawnMs = nowMs
}

func (w *World) spawnBoss(nowMs int64) {
	w.monsters = append(w.monsters, Monster{
		ID:            w.allocMonsterID(),
		Kind:          KindBoss,
		X:             bossStartX,
		Y:             bossStartY,
		HP:            bossHP,
		baseY:         bossStartY,
		speedX:        -0.8,
		speedY:        0.6,
		nextPatternMs: nowMs,
		nextShotMs:    nowMs,
	})
	w.bossSpawnedOnce = true
	w.bossSpawnedFlag = true
}

// movePlayers applies the buffered velocity once; movement must be resupplied every tick.
func (w *World) movePlayers() {
	for _, p := range w.players {
		p.X = clampByte(int(p.X) + int(p.VelX))
		p.Y = clampByte(int(p.Y) + int(p.VelY))
		p.VelX, p.VelY = 0, 0
	}
}

func (w *World) contactDamage(nowMs int64) {
	for _, p := range w.players {
		if !p.IsAlive() {
			continue
		}
		for i := range w.monsters {
			m := &w.monsters[i]
			h := m.half()
			if overlaps(m.X, m.Y, float64(p.X), float64(p.Y), h+playerHalfX, h+playerHalfY) {
				w.hitPlayer(p, nowMs)
				break
			}
		}
	}
}

func (w *World) integrateBullets() {
	kept := w.bullets[:0]
	for _, b := range w.bullets {
		nx := int(b.X) + int(b.VelX)
		ny := int(b.Y) + int(b.VelY)
		if nx < 0 || nx > 255 || ny < 0 || ny > 255 {
			continue
		}
		b.X, b.Y = uint8(nx), uint8(ny)
		kept = append(kept, b)
	}
	w.bullets = kept
}

func (w *World) resolveBulletHits(nowMs int64) {
	remove := make([]bool, len(w.bullets))

	for bi := range w.bullets {
		b := &w.bullets[bi]
		if !b.Hostile() {
			continue
		}
		for _, p := range w.sortedPlayers() {
			if !p.IsAlive() {
				continue
			}
			if overlaps(float64(b.X), float64(b.Y), float64(p.X), float64(p.Y), bulletHalf+playerHalfX, bulletHalf+playerHalfY) {
				w.hitPlayer(p, nowMs)
				remove[bi] = true
				break
			}
		}
	}

	for bi := range w.bullets {
		b := &w.bullets[bi]
		if remove[bi] || b.Hostile() {
			continue
		}
		for mi := range w.monsters {
			m := &w.monsters[mi]
			if !m.IsAlive() {
				continue
			}
			h := m.half() + bulletHalf
			if overlaps(m.X, m.Y, float64(b.X), float64(b.Y), h, h) {
				m.HP--
				if m.HP <= 0 {
					w.addScore(KillScore)
					w.monstersKilled++
				}
				remove[bi] = true
				break
			}
		}
	}

	kept := w.bullets[:0]
	for bi, b := range w.bullets {
		if !remove[bi] {
			kept = append(kept, b)
		}
	}
	w.bullets = kept

	alive := w.monsters[:0]
	for _, m := range w.monsters {
		if m.IsAlive() {
			alive = append(alive, m)
			continue
		}
		if m.Kind == KindBoss {
			w.bossDefeatedFlag = true
			w.bossDefeatedOnce = true
		}
	}
	w.monsters = alive
}

// sortedPlayers gives collision checks a stable order.
func (w *World) sortedPlayers() []*Player {
	out := make([]*Player, 0, len(w.players))
	for _, p := range w.players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (w *World) advanceMonsters(nowMs int64, dtSec float64) {
	kept := w.monsters[:0]
	for _, m := range w.monsters {
		if m.Kind == KindBoss {
			w.moveBoss(&m, nowMs, dtSec)
			if nowMs >= m.nextShotMs {
				w.bossShoot(&m)
				m.nextShotMs = nowMs + int64(350+w.rng.Intn(351))
			}
			kept = append(kept, m)
			continue
		}

		m.phase += m.freq * dtSec
		m.X += m.speedX * dtSec * motionScale
		var osc float64
		if m.Kind == KindSine {
			osc = math.Sin(m.phase)
		} else {
			t := math.Mod(float64(nowMs)/1000.0, zigzagPeriodSec*2)
			if t < zigzagPeriodSec {
				osc = 1
			} else {
				osc = -1
			}
		}
		m.Y = m.baseY + m.amplitude*osc
		if m.X < -5 || m.Y < -5 || m.Y > 260 {
			continue
		}
		kept = append(kept, m)
	}
	w.monsters = kept
}

func (w *World) moveBoss(m *Monster, nowMs int64, dtSec float64) {
	if nowMs >= m.nextPatternMs {
		m.speedX = -bossDrift + w.rng.Float64()*2*bossDrift
		m.speedY = (-bossDrift + w.rng.Float64()*2*bossDrift) * bossDriftYFactor
		m.nextPatternMs = nowMs + int64(800+w.rng.Intn(801))
	}

	m.X += m.speedX * dtSec * motionScale
	m.Y += m.speedY * dtSec * motionScale

	if m.X < bossMinX {
		m.X = bossMinX
		m.speedX = math.Abs(m.speedX)
	} else if m.X > bossMaxX {
		m.X = bossMaxX
		m.speedX = -math.Abs(m.speedX)
	}
	if m.Y < bossMinY {
		m.Y = bossMinY
		m.speedY = math.Abs(m.speedY)
	} else if m.Y > bossMaxY {
		m.Y = bossMaxY
		m.speedY = -math.Abs(m.speedY)
	}
}

func (w *World) bossShoot(boss *Monster) {
	w.bullets = append(w.bullets, Bullet{
		ID:      w.allocBulletID(),
		OwnerID: -int32(boss.ID),
		X:       clampByte(int(boss.X)),
		Y:       clampByte(int(boss.Y)),
		VelX:    int8(-12 + w.rng.Intn(7)),
		VelY:    int8(-6 + w.rng.Intn(13)),
	})
}
