package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrShortPayload = errors.New("payload too short")

// Text builds a packet whose payload is ASCII text, truncated to MaxPayload.
func Text(t Type, s string) Packet {
	if len(s) > MaxPayload {
		s = s[:MaxPayload]
	}
	return Packet{Type: t, Payload: []byte(s)}
}

// IDPacket builds a packet carrying only a big-endian player id (OK).
func IDPacket(t Type, id uint16) Packet {
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, id)
	return Packet{Type: t, Payload: payload}
}

func ParseID(payload []byte) (uint16, error) {
	if len(payload) < 2 {
		return 0, ErrShortPayload
	}
	return binary.BigEndian.Uint16(payload), nil
}

// LobbyOK encodes "CODE|port".
func LobbyOK(code string, port int) Packet {
	return Text(TypeLobbyOK, code+"|"+strconv.Itoa(port))
}

func ParseLobbyOK(payload []byte) (string, int, error) {
	code, portStr, ok := strings.Cut(string(payload), "|")
	if !ok {
		return code, 0, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("lobby ok port: %w", err)
	}
	return code, port, nil
}

// PlayerEntry is one roster row of PLAYER_LIST and NEW_PLAYER.
type PlayerEntry struct {
	ID uint16
	X  uint8
	Y  uint8
	HP uint8
}

const playerEntrySize = 5

func putPlayerEntry(b []byte, e PlayerEntry) {
	binary.BigEndian.PutUint16(b, e.ID)
	b[2] = e.X
	b[3] = e.Y
	b[4] = e.HP
}

func readPlayerEntry(b []byte) PlayerEntry {
	return PlayerEntry{ID: binary.BigEndian.Uint16(b), X: b[2], Y: b[3], HP: b[4]}
}

// PlayerList encodes count:1 followed by (id:2,x,y,hp) rows; rows past the payload limit are dropped.
func PlayerList(entries []PlayerEntry) Packet {
	limit := (MaxPayload - 1) / playerEntrySize
	if len(entries) > limit {
		entries = entries[:limit]
	}
	payload := make([]byte, 1+len(entries)*playerEntrySize)
	payload[0] = byte(len(entries))
	for i, e := range entries {
		putPlayerEntry(payload[1+i*playerEntrySize:], e)
	}
	return Packet{Type: TypePlayerList, Payload: payload}
}

func ParsePlayerList(payload []byte) ([]PlayerEntry, error) {
	if len(payload) < 1 {
		return nil, ErrShortPayload
	}
	count := int(payload[0])
	if len(payload) < 1+count*playerEntrySize {
		return nil, ErrShortPayload
	}
	out := make([]PlayerEntry, count)
	for i := range out {
		out[i] = readPlayerEntry(payload[1+i*playerEntrySize:])
	}
	return out, nil
}

func NewPlayer(e PlayerEntry) Packet {
	payload := make([]byte, playerEntrySize)
	putPlayerEntry(payload, e)
	return Packet{Type: TypeNewPlayer, Payload: payload}
}

func ParseNewPlayer(payload []byte) (PlayerEntry, error) {
	if len(payload) < playerEntrySize {
		return PlayerEntry{}, ErrShortPayload
	}
	return readPlayerEntry(payload), nil
}

// HelloUDP is the first datagram a client sends to its lobby's simulation port.
type HelloUDP struct {
	ID uint16
	X  uint8
	Y  uint8
}

func (h HelloUDP) Packet() Packet {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload, h.ID)
	payload[2] = h.X
	payload[3] = h.Y
	return Packet{Type: TypeHelloUDP, Payload: payload}
}

// ParseHelloUDP accepts id:2 with optional x and y bytes; missing coordinates are zero.
func ParseHelloUDP(payload []byte) (HelloUDP, error) {
	if len(payload) < 2 {
		return HelloUDP{}, ErrShortPayload
	}
	h := HelloUDP{ID: binary.BigEndian.Uint16(payload)}
	if len(payload) >= 3 {
		h.X = payload[2]
	}
	if len(payload) >= 4 {
		h.Y = payload[3]
	}
	return h, nil
}

// Input carries one tick of movement. X and Y are sent by clients but the server ignores them.
type Input struct {
	ID   uint16
	X    uint8
	Y    uint8
	VelX int8
	VelY int8
	Dir  uint8
}

func (in Input) Packet() Packet {
	payload := make([]byte, 7)
	binary.BigEndian.PutUint16(payload, in.ID)
	payload[2] = in.X
	payload[3] = in.Y
	payload[4] = byte(in.VelX)
	payload[5] = byte(in.VelY)
	payload[6] = in.Dir
	return Packet{Type: TypeInput, Payload: payload}
}

func ParseInput(payload []byte) (Input, error) {
	if len(payload) < 7 {
		return Input{}, ErrShortPayload
	}
	return Input{
		ID:   binary.BigEndian.Uint16(payload),
		X:    payload[2],
		Y:    payload[3],
		VelX: int8(payload[4]),
		VelY: int8(payload[5]),
		Dir:  payload[6],
	}, nil
}

type Shoot struct {
	ID   uint16
	X    uint8
	Y    uint8
	VelX int8
	VelY int8
}

func (s Shoot) Packet() Packet {
	payload := make([]byte, 6)
	binary.BigEndian.PutUint16(payload, s.ID)
	payload[2] = s.X
	payload[3] = s.Y
	payload[4] = byte(s.VelX)
	payload[5] = byte(s.VelY)
	return Packet{Type: TypeShoot, Payload: payload}
}

func ParseShoot(payload []byte) (Shoot, error) {
	if len(payload) < 6 {
		return Shoot{}, ErrShortPayload
	}
	return Shoot{
		ID:   binary.BigEndian.Uint16(payload),
		X:    payload[2],
		Y:    payload[3],
		VelX: int8(payload[4]),
		VelY: int8(payload[5]),
	}, nil
}
