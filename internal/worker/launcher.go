// Package worker starts and tracks the per-lobby simulation workers.
package worker

import (
	"context"
	"errors"
	"sort"
	"sync"

	"arcade/server/internal/ipc"
	"arcade/server/internal/logger"
	"arcade/server/internal/types"

	"go.uber.org/zap"
)

const messageBuffer = 32

var ErrNotReady = errors.New("worker: control channel closed before READY")

// ChildInfo is bookkeeping only; launchers do not supervise the worker beyond Stop.
type ChildInfo struct {
	PID         int    `json:"pid"`
	Lobby       string `json:"lobby"`
	Port        int    `json:"port"`
	ControlPath string `json:"control_path,omitempty"`
	Mode        string `json:"mode"`
}

// Launcher starts one simulation per lobby.
type Launcher interface {
	Start(ctx context.Context, lobby string, port int) (*Handle, error)
	Get(lobby string) (*Handle, bool)
	Forget(lobby string)
	Active() []ChildInfo
	StopAll()
}

// Handle is the control plane's view of a running worker.
type Handle struct {
	info  ChildInfo
	ready chan error
	msgs  chan string
	done  chan struct{}

	stopOnce sync.Once
	stop     func()
}

func newHandle(info ChildInfo, stop func()) *Handle {
	return &Handle{
		info:  info,
		ready: make(chan error, 1),
		msgs:  make(chan string, messageBuffer),
		done:  make(chan struct{}),
		stop:  stop,
	}
}

func (h *Handle) Info() ChildInfo { return h.info }

// Ready yields nil once the worker reported READY, or the error that prevented it.
func (h *Handle) Ready() <-chan error { return h.ready }

// Messages carries every control message after READY. Dedicated workers close it when their channel ends.
func (h *Handle) Messages() <-chan string { return h.msgs }

// Done is closed by Stop.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		if h.stop != nil {
			h.stop()
		}
	})
}

func (h *Handle) deliver(msg string) {
	select {
	case h.msgs <- msg:
	default:
		logger.L.Warn("worker message dropped", zap.String("lobby", h.info.Lobby), zap.String("msg", msg))
	}
}

// pump reads the control channel: the first READY resolves Ready, everything else goes to Messages.
func (h *Handle) pump(ctx context.Context, ch ipc.Channel) {
	defer close(h.msgs)
	readySeen := false
	for {
		msg, err := ch.Recv(ctx)
		if err != nil {
			if !readySeen {
				if errors.Is(err, ipc.ErrClosed) {
					err = ErrNotReady
				}
				h.ready <- err
			}
			return
		}
		if !readySeen && types.ParseControl(msg).Kind == types.CtrlReady {
			readySeen = true
			h.ready <- nil
			continue
		}
		h.deliver(msg)
	}
}

// table is the lobby -> handle map shared by every launcher.
type table struct {
	mu      sync.Mutex
	handles map[string]*Handle
}

func (t *table) put(lobby string, h *Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handles == nil {
		t.handles = make(map[string]*Handle)
	}
	t.handles[lobby] = h
}

func (t *table) Get(lobby string) (*Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.handles[lobby]
	return h, ok
}

func (t *table) Forget(lobby string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handles, lobby)
}

func (t *table) StopAll() {
	t.mu.Lock()
	handles := t.handles
	t.handles = nil
	t.mu.Unlock()
	for _, h := range handles {
		h.Stop()
	}
}

func (t *table) Active() []ChildInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ChildInfo, 0, len(t.handles))
	for _, h := range t.handles {
		out = append(out, h.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Lobby < out[j].Lobby })
	return out
}
