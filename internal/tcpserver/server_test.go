package tcpserver_test

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"arcade/server/internal/protocol"
	"arcade/server/internal/session"
	"arcade/server/internal/tcpserver"
	"arcade/server/internal/types"
	"arcade/server/internal/udpserver"
	"arcade/server/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClient struct {
	conn net.Conn
	buf  protocol.StreamBuffer
}

func startServer(t *testing.T, opts tcpserver.Options, launcher func(*session.Registry) worker.Launcher) (*tcpserver.Server, chan []types.LobbySummary) {
	t.Helper()
	opts.Host = "127.0.0.1"
	opts.Seed = 11

	reg := session.NewRegistry(0, 0)
	var l worker.Launcher
	if launcher != nil {
		l = launcher(reg)
	}
	lobbies := make(chan []types.LobbySummary, 64)
	observer := func(list []types.LobbySummary) {
		select {
		case lobbies <- list:
		default:
		}
	}

	srv, err := tcpserver.New(opts, reg, l, observer)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		if l != nil {
			l.StopAll()
		}
	})
	return srv, lobbies
}

func sharedLauncher(reg *session.Registry) worker.Launcher {
	return worker.NewSharedLauncher(udpserver.Options{Host: "127.0.0.1", Seed: 5}, reg, nil)
}

func dial(t *testing.T, srv *tcpserver.Server) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testClient{conn: conn}
}

func (c *testClient) send(t *testing.T, pkt protocol.Packet) {
	t.Helper()
	frame, err := protocol.Frame(pkt)
	require.NoError(t, err)
	_, err = c.conn.Write(frame)
	require.NoError(t, err)
}

func (c *testClient) next(t *testing.T) protocol.Packet {
	t.Helper()
	raw := make([]byte, 1024)
	for {
		if pkt, ok := c.buf.Next(); ok {
			return pkt
		}
		require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		n, err := c.conn.Read(raw)
		require.NoError(t, err)
		c.buf.Write(raw[:n])
	}
}

// expect skips packets of other types until one of type want arrives.
func (c *testClient) expect(t *testing.T, want protocol.Type) protocol.Packet {
	t.Helper()
	for {
		pkt := c.next(t)
		if pkt.Type == want {
			return pkt
		}
	}
}

func (c *testClient) expectClosed(t *testing.T) {
	t.Helper()
	raw := make([]byte, 256)
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, err := c.conn.Read(raw); err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				t.Fatal("connection still open")
			}
			return
		}
	}
}

func (c *testClient) handshake(t *testing.T, payload string) uint16 {
	t.Helper()
	c.expect(t, protocol.TypeServerHello)
	c.send(t, protocol.Text(protocol.TypeClientHello, payload))
	id, err := protocol.ParseID(c.expect(t, protocol.TypeOK).Payload)
	require.NoError(t, err)
	return id
}

func TestHandshake_Accepted(t *testing.T) {
	srv, _ := startServer(t, tcpserver.Options{}, nil)
	c := dial(t, srv)

	hello := c.expect(t, protocol.TypeServerHello)
	assert.Equal(t, "R-Type Server", string(hello.Payload))

	c.send(t, protocol.Text(protocol.TypeClientHello, "toto|alice"))
	id, err := protocol.ParseID(c.expect(t, protocol.TypeOK).Payload)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), id)
}

func TestHandshake_Refusals(t *testing.T) {
	tests := []struct {
		name   string
		first  protocol.Packet
		reason string
	}{
		{"bad token", protocol.Text(protocol.TypeClientHello, "tata|bob"), "BAD_HANDSHAKE"},
		{"wrong packet", protocol.NewPacket(protocol.TypePong, nil), "BAD_HANDSHAKE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := startServer(t, tcpserver.Options{}, nil)
			c := dial(t, srv)
			c.expect(t, protocol.TypeServerHello)
			c.send(t, tt.first)
			assert.Equal(t, tt.reason, string(c.expect(t, protocol.TypeRefused).Payload))
			c.expectClosed(t)
		})
	}
}

func TestHandshake_Timeout(t *testing.T) {
	srv, _ := startServer(t, tcpserver.Options{
		HandshakeTimeout: 100 * time.Millisecond,
		PollInterval:     20 * time.Millisecond,
	}, nil)
	c := dial(t, srv)
	c.expect(t, protocol.TypeServerHello)
	assert.Equal(t, "TIMEOUT", string(c.expect(t, protocol.TypeRefused).Payload))
	c.expectClosed(t)
}

func TestPoolFull(t *testing.T) {
	srv, _ := startServer(t, tcpserver.Options{MaxClients: 1}, nil)
	first := dial(t, srv)
	first.handshake(t, "toto")

	second := dial(t, srv)
	assert.Equal(t, "FULL", string(second.expect(t, protocol.TypeRefused).Payload))
	second.expectClosed(t)
}

func TestAcceptRateLimited(t *testing.T) {
	srv, _ := startServer(t, tcpserver.Options{AcceptRate: 0.01, AcceptBurst: 1}, nil)
	first := dial(t, srv)
	first.handshake(t, "toto")

	second := dial(t, srv)
	assert.Equal(t, "RATE_LIMITED", string(second.expect(t, protocol.TypeRefused).Payload))
}

func TestNameSanitizedIntoChat(t *testing.T) {
	srv, _ := startServer(t, tcpserver.Options{}, nil)
	a := dial(t, srv)
	a.handshake(t, "toto|al ice!!_with_a_long_tail")
	b := dial(t, srv)
	b.handshake(t, "toto")

	a.send(t, protocol.Text(protocol.TypeMessage, "hi\x01 there"))
	want := "CHAT:alice_with_a: hi there"
	assert.Equal(t, want, string(a.expect(t, protocol.TypeMessage).Payload))
	assert.Equal(t, want, string(b.expect(t, protocol.TypeMessage).Payload))

	b.send(t, protocol.Text(protocol.TypeMessage, "yo"))
	assert.Equal(t, "CHAT:Player2: yo", string(a.expect(t, protocol.TypeMessage).Payload))
}

func TestLobby_CreateAndJoin(t *testing.T) {
	srv, lobbies := startServer(t, tcpserver.Options{}, sharedLauncher)

	a := dial(t, srv)
	idA := a.handshake(t, "toto|alice")
	a.send(t, protocol.NewPacket(protocol.TypeCreateLobby, nil))

	code, port, err := protocol.ParseLobbyOK(a.expect(t, protocol.TypeLobbyOK).Payload)
	require.NoError(t, err)
	assert.Len(t, code, 6)
	assert.NotZero(t, port)
	roster, err := protocol.ParsePlayerList(a.expect(t, protocol.TypePlayerList).Payload)
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, protocol.PlayerEntry{ID: idA, X: 0, Y: 0, HP: 5}, roster[0])

	b := dial(t, srv)
	idB := b.handshake(t, "toto|bob")
	b.send(t, protocol.Text(protocol.TypeJoinLobby, strings.ToLower(code)))

	codeB, portB, err := protocol.ParseLobbyOK(b.expect(t, protocol.TypeLobbyOK).Payload)
	require.NoError(t, err)
	assert.Equal(t, code, codeB)
	assert.Equal(t, port, portB)
	roster, err = protocol.ParsePlayerList(b.expect(t, protocol.TypePlayerList).Payload)
	require.NoError(t, err)
	assert.Len(t, roster, 2)

	np, err := protocol.ParseNewPlayer(a.expect(t, protocol.TypeNewPlayer).Payload)
	require.NoError(t, err)
	assert.Equal(t, idB, np.ID)
	assert.Equal(t, uint8(1), np.X)

	// chat stays inside the lobby
	b.send(t, protocol.Text(protocol.TypeMessage, "gl"))
	assert.Equal(t, "CHAT:bob: gl", string(a.expect(t, protocol.TypeMessage).Payload))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case list := <-lobbies:
			if len(list) == 1 && len(list[0].Members) == 2 {
				assert.Equal(t, code, list[0].Code)
				assert.False(t, list[0].Public)
				return
			}
		case <-deadline:
			t.Fatal("lobby directory never listed both members")
		}
	}
}

func TestLobby_PublicAndDisconnect(t *testing.T) {
	srv, _ := startServer(t, tcpserver.Options{}, sharedLauncher)

	a := dial(t, srv)
	a.handshake(t, "toto|alice")
	a.send(t, protocol.NewPacket(protocol.TypeJoinLobby, nil))
	code, _, err := protocol.ParseLobbyOK(a.expect(t, protocol.TypeLobbyOK).Payload)
	require.NoError(t, err)
	assert.Equal(t, "PUBLIC", code)

	b := dial(t, srv)
	b.handshake(t, "toto|bob")
	b.send(t, protocol.Text(protocol.TypeJoinLobby, "PUBLIC"))
	b.expect(t, protocol.TypeLobbyOK)
	a.expect(t, protocol.TypeNewPlayer)

	b.conn.Close()
	assert.Equal(t, "SYS:bob disconnected", string(a.expect(t, protocol.TypeMessage).Payload))
	roster, err := protocol.ParsePlayerList(a.expect(t, protocol.TypePlayerList).Payload)
	require.NoError(t, err)
	assert.Len(t, roster, 1)
}

func TestLobby_UnknownCode(t *testing.T) {
	srv, _ := startServer(t, tcpserver.Options{}, sharedLauncher)
	c := dial(t, srv)
	c.handshake(t, "toto")

	for _, code := range []string{"ZZZZZZ", "not-a-code"} {
		c.send(t, protocol.Text(protocol.TypeJoinLobby, code))
		assert.Equal(t, "UNKNOWN_CODE", string(c.expect(t, protocol.TypeLobbyError).Payload))
	}
}

func TestLobby_WorkerUnavailable(t *testing.T) {
	srv, lobbies := startServer(t, tcpserver.Options{}, nil)
	c := dial(t, srv)
	c.handshake(t, "toto")
	c.send(t, protocol.NewPacket(protocol.TypeCreateLobby, nil))
	assert.Equal(t, "WORKER_UNAVAILABLE", string(c.expect(t, protocol.TypeLobbyError).Payload))

	// a failed lobby never becomes visible
	for {
		select {
		case list := <-lobbies:
			assert.Empty(t, list)
		default:
			return
		}
	}
}

func TestHeartbeat_DropsSilentClient(t *testing.T) {
	srv, _ := startServer(t, tcpserver.Options{
		PingInterval: 50 * time.Millisecond,
		PongTimeout:  150 * time.Millisecond,
	}, nil)

	alive := dial(t, srv)
	alive.handshake(t, "toto")
	silent := dial(t, srv)
	silent.handshake(t, "toto")

	silent.expect(t, protocol.TypePing)

	stop := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(stop) {
		alive.expect(t, protocol.TypePing)
		alive.send(t, protocol.NewPacket(protocol.TypePong, nil))
	}
	silent.expectClosed(t)

	alive.expect(t, protocol.TypePing)
}
