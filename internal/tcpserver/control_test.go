package tcpserver

import (
	"context"
	"net"
	"testing"
	"time"

	"arcade/server/internal/protocol"
	"arcade/server/internal/session"
	"arcade/server/internal/types"
	"arcade/server/internal/udpserver"
	"arcade/server/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newIdleServer builds a server whose state is driven directly, without Run.
func newIdleServer(t *testing.T) *Server {
	t.Helper()
	srv, err := New(Options{Host: "127.0.0.1", Seed: 1}, session.NewRegistry(0, 0), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { srv.ln.Close() })
	return srv
}

func (s *Server) seatForTest(idx int, id uint16, name, lobby string) {
	s.slots[idx] = clientSlot{state: slotReady, id: id, name: name, lobby: lobby, out: make(chan []byte, outboxSize)}
	s.sessions.Ensure(id)
	s.sessions.SetLobby(id, lobby)
	l, ok := s.lobbies[lobby]
	if !ok {
		l = &lobbyInfo{code: lobby, ready: true, port: 50123}
		s.lobbies[lobby] = l
	}
	l.members = append(l.members, id)
}

func drainTypes(s *Server, idx int) []protocol.Type {
	var out []protocol.Type
	for {
		select {
		case frame := <-s.slots[idx].out:
			pkt, err := protocol.Decode(frame[2:])
			if err == nil {
				out = append(out, pkt.Type)
			}
		default:
			return out
		}
	}
}

func drainText(t *testing.T, s *Server, idx int) []string {
	t.Helper()
	var out []string
	for {
		select {
		case frame := <-s.slots[idx].out:
			pkt, err := protocol.Decode(frame[2:])
			require.NoError(t, err)
			if pkt.Type == protocol.TypeMessage {
				out = append(out, string(pkt.Payload))
			}
		default:
			return out
		}
	}
}

func TestHandleControl_Notifications(t *testing.T) {
	s := newIdleServer(t)
	s.seatForTest(0, 1, "alice", "ABC123")
	s.seatForTest(1, 2, "bob", "ABC123")
	s.seatForTest(2, 3, "carol", "XYZ789")
	l := s.lobbies["ABC123"]

	s.handleControl(l, types.ParseControl(types.BossMessage("ABC123")))
	s.handleControl(l, types.ParseControl(types.BossDeadMessage("ABC123")))

	want := []string{"SYS:Boss spawned", "SYS:Boss defeated - win"}
	assert.Equal(t, want, drainText(t, s, 0))
	assert.Equal(t, want, drainText(t, s, 1))
	assert.Empty(t, drainText(t, s, 2))
}

func TestHandleControl_DeadLeavesLobby(t *testing.T) {
	s := newIdleServer(t)
	s.seatForTest(0, 1, "alice", "ABC123")
	s.seatForTest(1, 2, "bob", "ABC123")
	l := s.lobbies["ABC123"]

	s.handleControl(l, types.ParseControl(types.DeadMessage(2)))

	assert.Equal(t, []string{"SYS:bob died"}, drainText(t, s, 0))
	assert.Equal(t, []string{"SYS:bob died", "DEAD"}, drainText(t, s, 1))
	assert.Equal(t, []uint16{1}, l.members)
	assert.Empty(t, s.slots[1].lobby)
	code, _ := s.sessions.Lobby(2)
	assert.Empty(t, code)

	// the last death closes the lobby
	s.handleControl(l, types.ParseControl(types.DeadMessage(1)))
	_, ok := s.lobbies["ABC123"]
	assert.False(t, ok)
}

func TestHandleControl_NoPlayersKeepsLobby(t *testing.T) {
	s := newIdleServer(t)
	s.seatForTest(0, 1, "alice", "ABC123")
	l := s.lobbies["ABC123"]

	s.handleControl(l, types.ParseControl(types.NoPlayersMessage("ABC123")))
	assert.Equal(t, []string{"SYS:No players left - game over"}, drainText(t, s, 0))
	assert.False(t, l.ready)
	assert.Zero(t, l.port)
	assert.Contains(t, s.lobbies, "ABC123")
}

func TestJoin_OwnLobbyAfterNoPlayersRestartsWorker(t *testing.T) {
	s := newIdleServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	s.ctx = ctx
	launcher := worker.NewSharedLauncher(udpserver.Options{Host: "127.0.0.1", Seed: 3}, s.sessions, nil)
	s.launcher = launcher
	t.Cleanup(func() {
		cancel()
		launcher.StopAll()
	})

	s.seatForTest(0, 1, "alice", "ABC123")
	s.seatForTest(1, 2, "bob", "ABC123")
	l := s.lobbies["ABC123"]
	s.handleControl(l, types.ParseControl(types.NoPlayersMessage("ABC123")))
	drainTypes(s, 0)
	drainTypes(s, 1)

	s.handleJoinLobby(0, "ABC123")
	require.NotNil(t, l.handle)
	assert.Equal(t, []uint16{1, 2}, l.pending)

	select {
	case ev := <-s.workers:
		s.handleWorkerEvent(ev)
	case <-time.After(3 * time.Second):
		t.Fatal("worker never reported ready")
	}

	assert.True(t, l.ready)
	assert.NotZero(t, l.port)
	assert.Contains(t, drainTypes(s, 0), protocol.TypeLobbyOK)
	assert.Contains(t, drainTypes(s, 1), protocol.TypeLobbyOK)
}

func TestJoin_OwnLobbyAfterNoPlayersWithoutLauncher(t *testing.T) {
	s := newIdleServer(t)
	s.seatForTest(0, 1, "alice", "ABC123")
	l := s.lobbies["ABC123"]
	s.handleControl(l, types.ParseControl(types.NoPlayersMessage("ABC123")))
	drainText(t, s, 0)

	s.handleJoinLobby(0, "ABC123")

	assert.Equal(t, []protocol.Type{protocol.TypeLobbyError}, drainTypes(s, 0))
	assert.NotContains(t, s.lobbies, "ABC123")
	assert.Empty(t, s.slots[0].lobby)
}

func TestHandshake_RegistersSessionOnlyWhenAccepted(t *testing.T) {
	s := newIdleServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	s.ctx = ctx
	t.Cleanup(cancel)

	accept := func() int {
		server, client := net.Pipe()
		t.Cleanup(func() {
			client.Close()
			server.Close()
		})
		idx := s.freeSlot()
		s.handleAccept(server)
		return idx
	}

	first := accept()
	require.Equal(t, slotHandshake, s.slots[first].state)
	id := s.slots[first].id
	_, ok := s.sessions.Get(id)
	assert.False(t, ok, "no session before the handshake")

	second := accept()
	assert.NotEqual(t, id, s.slots[second].id, "ids of waiting slots are not reused")

	s.handleHandshake(first, protocol.Text(protocol.TypeClientHello, "toto|alice"))
	sess, ok := s.sessions.Get(id)
	require.True(t, ok)
	assert.Equal(t, "alice", sess.Name)
	_, ok = s.sessions.Get(s.slots[second].id)
	assert.False(t, ok)
}

func TestLobbySummaries_HidesPending(t *testing.T) {
	s := newIdleServer(t)
	s.seatForTest(0, 1, "alice", "ABC123")
	s.seatForTest(1, 2, "bob", "PUBLIC")
	s.lobbies["PUBLIC"].public = true
	s.lobbies["ABC123"].ready = false

	list := s.lobbySummaries()
	require.Len(t, list, 1)
	assert.Equal(t, types.LobbySummary{
		Code:    "PUBLIC",
		Public:  true,
		Port:    50123,
		Members: []types.LobbyMember{{ID: 2, Name: "bob"}},
		Max:     DefaultMaxClients,
	}, list[0])
}
