package worker_test

import (
	"context"
	"flag"
	"net"
	"os"
	"testing"
	"time"

	"arcade/server/internal/ipc"
	"arcade/server/internal/protocol"
	"arcade/server/internal/session"
	"arcade/server/internal/types"
	"arcade/server/internal/udpserver"
	"arcade/server/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMain doubles as the child binary for ProcessLauncher tests.
func TestMain(m *testing.M) {
	if len(os.Args) > 1 && os.Args[1] == "worker" {
		os.Exit(fakeWorker(os.Args[2:]))
	}
	os.Exit(m.Run())
}

func fakeWorker(args []string) int {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	lobby := fs.String("lobby", "", "")
	_ = fs.Int("udp-port", 0, "")
	control := fs.String("control", "", "")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	ch, err := ipc.DialUnix(*control)
	if err != nil {
		return 1
	}
	defer ch.Close()
	_ = ch.Send(types.CtrlReady)
	_ = ch.Send(types.BossMessage(*lobby))
	time.Sleep(10 * time.Second)
	return 0
}

func waitReady(t *testing.T, h *worker.Handle) {
	t.Helper()
	select {
	case err := <-h.Ready():
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("worker never became ready")
	}
}

func localOptions() udpserver.Options {
	return udpserver.Options{Host: "127.0.0.1", Seed: 3}
}

func TestGoroutineLauncher_Lifecycle(t *testing.T) {
	l := worker.NewGoroutineLauncher(localOptions(), nil, 0, 0)
	h, err := l.Start(context.Background(), "GOR001", 0)
	require.NoError(t, err)
	defer h.Stop()
	waitReady(t, h)

	info := h.Info()
	assert.Equal(t, "GOR001", info.Lobby)
	assert.Equal(t, worker.ModeGoroutine, info.Mode)
	assert.NotZero(t, info.Port)

	client, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: info.Port})
	require.NoError(t, err)
	defer client.Close()

	raw, err := protocol.Encode(protocol.HelloUDP{ID: 3, X: 20, Y: 30}.Packet())
	require.NoError(t, err)
	_, err = client.Write(raw)
	require.NoError(t, err)

	buf := make([]byte, 512)
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := client.Read(buf)
	require.NoError(t, err)
	pkt, err := protocol.Decode(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeSnapshot, pkt.Type)

	got, ok := l.Get("GOR001")
	require.True(t, ok)
	assert.Same(t, h, got)
	assert.Len(t, l.Active(), 1)

	h.Stop()
	select {
	case <-h.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
	l.Forget("GOR001")
	assert.Empty(t, l.Active())
}

func TestGoroutineLauncher_BindFailure(t *testing.T) {
	taken, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer taken.Close()

	l := worker.NewGoroutineLauncher(localOptions(), nil, 0, 0)
	_, err = l.Start(context.Background(), "GOR002", taken.LocalAddr().(*net.UDPAddr).Port)
	assert.Error(t, err)
	_, ok := l.Get("GOR002")
	assert.False(t, ok)
}

func TestSharedLauncher_RoutesByLobby(t *testing.T) {
	reg := session.NewRegistry(0, 0)
	l := worker.NewSharedLauncher(localOptions(), reg, nil)
	defer l.StopAll()

	a, err := l.Start(context.Background(), "AAAAAA", 51000)
	require.NoError(t, err)
	b, err := l.Start(context.Background(), "BBBBBB", 51001)
	require.NoError(t, err)
	waitReady(t, a)
	waitReady(t, b)

	assert.Equal(t, a.Info().Port, b.Info().Port)
	assert.Equal(t, worker.ModeShared, a.Info().Mode)

	reg.Ensure(8)
	reg.SetLobby(8, "BBBBBB")
	client, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: b.Info().Port})
	require.NoError(t, err)
	defer client.Close()
	raw, err := protocol.Encode(protocol.HelloUDP{ID: 8}.Packet())
	require.NoError(t, err)
	_, err = client.Write(raw)
	require.NoError(t, err)

	buf := make([]byte, 512)
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = client.Read(buf)
	require.NoError(t, err)

	reg.RemoveByID(8)
	select {
	case msg := <-b.Messages():
		assert.Equal(t, types.NoPlayersMessage("BBBBBB"), msg)
	case <-time.After(2 * time.Second):
		t.Fatal("NO_PLAYERS not routed to its lobby")
	}
	select {
	case msg := <-a.Messages():
		t.Fatalf("unexpected message for other lobby: %s", msg)
	default:
	}
}

func TestProcessLauncher_SpawnsWorker(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)

	l := worker.NewProcessLauncher(exe, t.TempDir())
	h, err := l.Start(context.Background(), "PROC01", 52000)
	require.NoError(t, err)
	defer h.Stop()
	waitReady(t, h)

	info := h.Info()
	assert.NotZero(t, info.PID)
	assert.Equal(t, 52000, info.Port)
	assert.Contains(t, info.ControlPath, "lobby-PROC01-")

	select {
	case msg := <-h.Messages():
		assert.Equal(t, types.BossMessage("PROC01"), msg)
	case <-time.After(3 * time.Second):
		t.Fatal("no control message from child")
	}

	h.Stop()
	_, err = os.Stat(info.ControlPath)
	assert.True(t, os.IsNotExist(err))
}

func TestProcessLauncher_MissingBinary(t *testing.T) {
	l := worker.NewProcessLauncher("/nonexistent/arcade-worker", t.TempDir())
	_, err := l.Start(context.Background(), "PROC02", 52001)
	assert.Error(t, err)
}
