package utils

import (
	"strconv"
	"strings"
)

const (
	MaxNameLen = 12
	MaxChatLen = 120
)

// SanitizeName keeps at most 12 characters of [A-Za-z0-9_-].
func SanitizeName(raw string) string {
	var b strings.Builder
	for i := 0; i < len(raw) && b.Len() < MaxNameLen; i++ {
		c := raw[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '-' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

func DefaultName(id uint16) string {
	return "Player" + strconv.Itoa(int(id))
}

// DisplayName falls back to DefaultName when name is empty.
func DisplayName(name string, id uint16) string {
	if name == "" {
		return DefaultName(id)
	}
	return name
}

// CleanChat keeps at most 120 printable ASCII characters.
func CleanChat(raw []byte) string {
	var b strings.Builder
	for _, c := range raw {
		if b.Len() >= MaxChatLen {
			break
		}
		if c >= 32 && c <= 126 {
			b.WriteByte(c)
		}
	}
	return b.String()
}

func ChatLine(name, text string) string {
	return "CHAT:" + name + ": " + text
}

func SystemLine(text string) string {
	return "SYS:" + text
}
