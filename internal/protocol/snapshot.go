package protocol

import "encoding/binary"

type SnapshotPlayer struct {
	ID    uint16
	X     uint8
	Y     uint8
	HP    uint8
	Score uint16
}

type SnapshotBullet struct {
	ID   uint16
	X    uint8
	Y    uint8
	VelX int8
	VelY int8
}

type SnapshotMonster struct {
	ID   uint16
	X    uint8
	Y    uint8
	HP   uint8
	Kind uint8
}

// Snapshot is the full world state broadcast to a lobby.
type Snapshot struct {
	Players  []SnapshotPlayer
	Bullets  []SnapshotBullet
	Monsters []SnapshotMonster
	Seq      uint16
}

const (
	snapshotPlayerSize  = 7
	snapshotBulletSize  = 6
	snapshotMonsterSize = 6
	// three counts plus the trailing sequence number
	snapshotFixedSize = 5
)

// Fit truncates the entity lists so the encoded payload stays within MaxPayload.
// Players are kept first, then bullets, then monsters.
func (s Snapshot) Fit() Snapshot {
	budget := MaxPayload - snapshotFixedSize

	keep := func(n, size int) int {
		fit := budget / size
		if n > fit {
			n = fit
		}
		budget -= n * size
		return n
	}
	s.Players = s.Players[:keep(len(s.Players), snapshotPlayerSize)]
	s.Bullets = s.Bullets[:keep(len(s.Bullets), snapshotBulletSize)]
	s.Monsters = s.Monsters[:keep(len(s.Monsters), snapshotMonsterSize)]
	return s
}

// Packet encodes the snapshot after fitting it to the payload limit.
func (s Snapshot) Packet() Packet {
	s = s.Fit()
	payload := make([]byte, 0, snapshotFixedSize+
		len(s.Players)*snapshotPlayerSize+
		len(s.Bullets)*snapshotBulletSize+
		len(s.Monsters)*snapshotMonsterSize)

	payload = append(payload, byte(len(s.Players)))
	for _, p := range s.Players {
		payload = binary.BigEndian.AppendUint16(payload, p.ID)
		payload = append(payload, p.X, p.Y, p.HP)
		payload = binary.BigEndian.AppendUint16(payload, p.Score)
	}
	payload = append(payload, byte(len(s.Bullets)))
	for _, b := range s.Bullets {
		payload = binary.BigEndian.AppendUint16(payload, b.ID)
		payload = append(payload, b.X, b.Y, byte(b.VelX), byte(b.VelY))
	}
	payload = append(payload, byte(len(s.Monsters)))
	for _, m := range s.Monsters {
		payload = binary.BigEndian.AppendUint16(payload, m.ID)
		payload = append(payload, m.X, m.Y, m.HP, m.Kind)
	}
	payload = binary.BigEndian.AppendUint16(payload, s.Seq)
	return Packet{Type: TypeSnapshot, Payload: payload}
}

func ParseSnapshot(payload []byte) (Snapshot, error) {
	var s Snapshot
	r := reader{b: payload}

	n, ok := r.readByte()
	if !ok {
		return s, ErrShortPayload
	}
	for i := 0; i < int(n); i++ {
		rec, ok := r.take(snapshotPlayerSize)
		if !ok {
			return s, ErrShortPayload
		}
		s.Players = append(s.Players, SnapshotPlayer{
			ID: binary.BigEndian.Uint16(rec), X: rec[2], Y: rec[3], HP: rec[4],
			Score: binary.BigEndian.Uint16(rec[5:]),
		})
	}

	if n, ok = r.readByte(); !ok {
		return s, ErrShortPayload
	}
	for i := 0; i < int(n); i++ {
		rec, ok := r.take(snapshotBulletSize)
		if !ok {
			return s, ErrShortPayload
		}
		s.Bullets = append(s.Bullets, SnapshotBullet{
			ID: binary.BigEndian.Uint16(rec), X: rec[2], Y: rec[3],
			VelX: int8(rec[4]), VelY: int8(rec[5]),
		})
	}

	if n, ok = r.readByte(); !ok {
		return s, ErrShortPayload
	}
	for i := 0; i < int(n); i++ {
		rec, ok := r.take(snapshotMonsterSize)
		if !ok {
			return s, ErrShortPayload
		}
		s.Monsters = append(s.Monsters, SnapshotMonster{
			ID: binary.BigEndian.Uint16(rec), X: rec[2], Y: rec[3], HP: rec[4], Kind: rec[5],
		})
	}

	seq, ok := r.take(2)
	if !ok {
		return s, ErrShortPayload
	}
	s.Seq = binary.BigEndian.Uint16(seq)
	return s, nil
}

type reader struct {
	b   []byte
	off int
}

func (r *reader) readByte() (byte, bool) {
	if r.off >= len(r.b) {
		return 0, false
	}
	v := r.b[r.off]
	r.off++
	return v, true
}

func (r *reader) take(n int) ([]byte, bool) {
	if r.off+n > len(r.b) {
		return nil, false
	}
	v := r.b[r.off : r.off+n]
	r.off += n
	return v, true
}
