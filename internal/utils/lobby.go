package utils

import (
	"math/rand"
	"strings"
)

const (
	PublicLobby    = "PUBLIC"
	LobbyCodeLen   = 6
	lobbyCodeChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// GenerateLobbyCode draws random 6-character codes until one is not taken.
func GenerateLobbyCode(rng *rand.Rand, taken func(code string) bool) string {
	buf := make([]byte, LobbyCodeLen)
	for {
		for i := range buf {
			buf[i] = lobbyCodeChars[rng.Intn(len(lobbyCodeChars))]
		}
		code := string(buf)
		if code == PublicLobby || (taken != nil && taken(code)) {
			continue
		}
		return code
	}
}

// NormalizeLobbyCode trims and upper-cases a client supplied code.
// An empty code (or "PUBLIC" in any case) selects the public lobby.
func NormalizeLobbyCode(raw string) string {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if code == "" {
		return PublicLobby
	}
	return code
}

func IsValidLobbyCode(code string) bool {
	if code == PublicLobby {
		return true
	}
	if len(code) != LobbyCodeLen {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(lobbyCodeChars, rune(code[i])) {
			return false
		}
	}
	return true
}

// PortAllocator hands out datagram ports round-robin inside [min, max].
type PortAllocator struct {
	min, max int
	next     int
}

func NewPortAllocator(min, max int) *PortAllocator {
	if max < min {
		min, max = max, min
	}
	return &PortAllocator{min: min, max: max, next: min}
}

// Next returns the next port for which inUse is false, or 0 when the range is exhausted.
func (a *PortAllocator) Next(inUse func(port int) bool) int {
	span := a.max - a.min + 1
	for i := 0; i < span; i++ {
		port := a.next
		a.next++
		if a.next > a.max {
			a.next = a.min
		}
		if inUse == nil || !inUse(port) {
			return port
		}
	}
	return 0
}
