// Package protocol implements the binary wire format shared by the control plane and the
// simulation workers: packets, TCP framing and the per-type payload layouts.
package protocol

import (
	"errors"
	"fmt"
)

// Type is the one-byte packet type tag.
type Type uint8

const (
	TypeServerHello Type = 1
	TypeClientHello Type = 2
	TypeOK          Type = 3
	TypeRefused     Type = 4
	TypePing        Type = 5
	TypePong        Type = 6
	TypeMessage     Type = 7
	TypePlayerList  Type = 8
	TypeNewPlayer   Type = 9
	TypeHelloUDP    Type = 10
	TypeInput       Type = 11
	TypeSnapshot    Type = 12
	TypeShoot       Type = 13
	TypeCreateLobby Type = 14
	TypeJoinLobby   Type = 15
	TypeLobbyOK     Type = 16
	TypeLobbyError  Type = 17
	TypePingUDP     Type = 19
	TypePongUDP     Type = 20
)

var typeNames = map[Type]string{
	TypeServerHello: "SERVER_HELLO",
	TypeClientHello: "CLIENT_HELLO",
	TypeOK:          "OK",
	TypeRefused:     "REFUSED",
	TypePing:        "PING",
	TypePong:        "PONG",
	TypeMessage:     "MESSAGE",
	TypePlayerList:  "PLAYER_LIST",
	TypeNewPlayer:   "NEW_PLAYER",
	TypeHelloUDP:    "HELLO_UDP",
	TypeInput:       "INPUT",
	TypeSnapshot:    "SNAPSHOT",
	TypeShoot:       "SHOOT",
	TypeCreateLobby: "CREATE_LOBBY",
	TypeJoinLobby:   "JOIN_LOBBY",
	TypeLobbyOK:     "LOBBY_OK",
	TypeLobbyError:  "LOBBY_ERROR",
	TypePingUDP:     "PING_UDP",
	TypePongUDP:     "PONG_UDP",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
}

const (
	Magic      uint16 = 0x5254
	magicHi           = byte(Magic >> 8)
	magicLo           = byte(Magic & 0xFF)
	HeaderSize        = 4
	MaxPayload        = 255
)

var (
	ErrTooShort        = errors.New("packet shorter than header")
	ErrBadMagic        = errors.New("bad packet magic")
	ErrTruncated       = errors.New("payload shorter than declared length")
	ErrPayloadTooLarge = errors.New("payload exceeds 255 bytes")
)

// FormatError reports a packet that could not be decoded.
type FormatError struct {
	Err error
}

func (e *FormatError) Error() string { return "protocol: " + e.Err.Error() }

func (e *FormatError) Unwrap() error { return e.Err }

// Packet is the unit exchanged on every transport.
type Packet struct {
	Type    Type
	Payload []byte
}

func NewPacket(t Type, payload []byte) Packet {
	return Packet{Type: t, Payload: payload}
}

// Encode serializes p as [magic:2][type:1][len:1][payload].
func Encode(p Packet) ([]byte, error) {
	if len(p.Payload) > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	out := make([]byte, HeaderSize+len(p.Payload))
	out[0] = magicHi
	out[1] = magicLo
	out[2] = byte(p.Type)
	out[3] = byte(len(p.Payload))
	copy(out[HeaderSize:], p.Payload)
	return out, nil
}

// Decode parses one packet from b. Bytes past the declared payload length are ignored.
func Decode(b []byte) (Packet, error) {
	if len(b) < HeaderSize {
		return Packet{}, &FormatError{Err: ErrTooShort}
	}
	if b[0] != magicHi || b[1] != magicLo {
		return Packet{}, &FormatError{Err: ErrBadMagic}
	}
	n := int(b[3])
	if len(b) < HeaderSize+n {
		return Packet{}, &FormatError{Err: ErrTruncated}
	}
	payload := make([]byte, n)
	copy(payload, b[HeaderSize:HeaderSize+n])
	return Packet{Type: Type(b[2]), Payload: payload}, nil
}
