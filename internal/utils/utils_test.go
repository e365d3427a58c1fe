package utils_test

import (
	"math/rand"
	"testing"

	"arcade/server/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateLobbyCode(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		code := utils.GenerateLobbyCode(rng, func(c string) bool { return seen[c] })
		require.Len(t, code, utils.LobbyCodeLen)
		assert.True(t, utils.IsValidLobbyCode(code), code)
		assert.False(t, seen[code], "code %s reused", code)
		seen[code] = true
	}
}

func TestNormalizeLobbyCode(t *testing.T) {
	assert.Equal(t, utils.PublicLobby, utils.NormalizeLobbyCode(""))
	assert.Equal(t, utils.PublicLobby, utils.NormalizeLobbyCode(" public "))
	assert.Equal(t, "AB12CD", utils.NormalizeLobbyCode("ab12cd"))
	assert.False(t, utils.IsValidLobbyCode("AB1"))
	assert.False(t, utils.IsValidLobbyCode("AB-12C"))
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"alice", "alice"},
		{"bob the <b>builder</b>", "bobthebbuild"},
		{"a_b-c!@#", "a_b-c"},
		{"", ""},
		{"ééé", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, utils.SanitizeName(tt.in), tt.in)
	}
	assert.Equal(t, "Player7", utils.DisplayName("", 7))
	assert.Equal(t, "zed", utils.DisplayName("zed", 7))
}

func TestCleanChat(t *testing.T) {
	assert.Equal(t, "hi there", utils.CleanChat([]byte("hi\x00 there\n")))
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	assert.Len(t, utils.CleanChat(long), utils.MaxChatLen)
	assert.Equal(t, "CHAT:bob: yo", utils.ChatLine("bob", "yo"))
	assert.Equal(t, "SYS:Boss spawned", utils.SystemLine("Boss spawned"))
}

func TestPortAllocator(t *testing.T) {
	a := utils.NewPortAllocator(50000, 50002)
	used := map[int]bool{50001: true}
	inUse := func(p int) bool { return used[p] }

	assert.Equal(t, 50000, a.Next(inUse))
	assert.Equal(t, 50002, a.Next(inUse))
	used[50000], used[50002] = true, true
	assert.Equal(t, 0, a.Next(inUse))
}

func TestSendJSON_DropsWhenFull(t *testing.T) {
	ch := make(chan []byte, 1)
	assert.True(t, utils.SendMessage(ch, "1", "lobbies", []string{"A"}))
	assert.False(t, utils.SendMessage(ch, "2", "lobbies", nil))
	msg, err := utils.ParseIncomingMessage(<-ch)
	require.NoError(t, err)
	assert.Equal(t, "lobbies", msg.Type)
	assert.JSONEq(t, `["A"]`, string(msg.Data))
}
