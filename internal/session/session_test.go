package session_test

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"arcade/server/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AddGetRemove(t *testing.T) {
	reg := session.NewRegistry(0, 0)
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	reg.Add(1, server)
	s, ok := reg.Get(1)
	require.True(t, ok)
	assert.Equal(t, uint16(1), s.ID)
	assert.Nil(t, s.DatagramAddr)

	_, ok = reg.DatagramAddr(1)
	assert.False(t, ok, "datagram address is unset until learned")

	id, ok := reg.RemoveByConn(server)
	require.True(t, ok)
	assert.Equal(t, uint16(1), id)
	assert.Zero(t, reg.Len())
}

func TestRegistry_OnRemoveFiresOnce(t *testing.T) {
	reg := session.NewRegistry(0, 0)
	var calls atomic.Int32
	reg.SetOnRemove(func(id uint16) {
		// the callback runs outside the lock, so calling back in must not deadlock
		_, _ = reg.Get(id)
		calls.Add(1)
	})

	reg.Add(5, nil)
	assert.True(t, reg.RemoveByID(5))
	assert.False(t, reg.RemoveByID(5))
	assert.Equal(t, int32(1), calls.Load())
}

func TestRegistry_DatagramAddrIsCopied(t *testing.T) {
	reg := session.NewRegistry(0, 0)
	reg.Ensure(2)

	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5000}
	require.True(t, reg.SetDatagramAddr(2, addr))
	addr.Port = 6000

	got, ok := reg.DatagramAddr(2)
	require.True(t, ok)
	assert.Equal(t, 5000, got.Port)
}

func TestRegistry_Ensure(t *testing.T) {
	reg := session.NewRegistry(0, 0)
	assert.True(t, reg.Ensure(3))
	assert.False(t, reg.Ensure(3))
	reg.SetLobby(3, "ABC123")
	reg.Ensure(3)
	code, ok := reg.Lobby(3)
	require.True(t, ok)
	assert.Equal(t, "ABC123", code)
}

func TestRegistry_RateLimitWindow(t *testing.T) {
	reg := session.NewRegistry(3, 1)
	reg.Ensure(1)
	start := time.Unix(1000, 0)

	for i := 0; i < 3; i++ {
		assert.True(t, reg.AllowInput(1, start.Add(time.Duration(i)*time.Millisecond)))
	}
	assert.False(t, reg.AllowInput(1, start.Add(500*time.Millisecond)))
	assert.False(t, reg.AllowInput(1, start.Add(999*time.Millisecond)))
	assert.True(t, reg.AllowInput(1, start.Add(1000*time.Millisecond)), "window resets after one second")

	assert.True(t, reg.AllowShoot(1, start))
	assert.False(t, reg.AllowShoot(1, start.Add(10*time.Millisecond)))
}

func TestRegistry_UnknownIDDenied(t *testing.T) {
	reg := session.NewRegistry(0, 0)
	now := time.Now()
	assert.False(t, reg.AllowInput(42, now))
	assert.False(t, reg.AllowShoot(42, now))
	assert.False(t, reg.UpdatePong(42, now))
	_, ok := reg.Name(42)
	assert.False(t, ok)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := session.NewRegistry(0, 0)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(id uint16) {
			defer wg.Done()
			reg.Ensure(id)
			reg.SetName(id, "p")
			reg.AllowInput(id, time.Now())
			reg.RemoveByID(id)
		}(uint16(i))
	}
	wg.Wait()
	assert.Zero(t, reg.Len())
}
