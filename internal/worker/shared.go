package worker

import (
	"context"
	"sync"

	"arcade/server/internal/db"
	"arcade/server/internal/ipc"
	"arcade/server/internal/logger"
	"arcade/server/internal/metrics"
	"arcade/server/internal/session"
	"arcade/server/internal/types"
	"arcade/server/internal/udpserver"

	"go.uber.org/zap"
)

const ModeShared = "shared"

// SharedLauncher multiplexes every lobby onto one in-process simulation server that
// shares the control plane's session registry. Handles are per lobby; the server is not.
type SharedLauncher struct {
	table
	Options  udpserver.Options
	Sessions *session.Registry
	Recorder db.Recorder

	mu      sync.Mutex
	srv     *udpserver.Server
	control ipc.Channel
	cancel  context.CancelFunc
	ready   chan struct{}
	exited  chan struct{}
}

func NewSharedLauncher(opts udpserver.Options, sessions *session.Registry, recorder db.Recorder) *SharedLauncher {
	opts.StaticLobby = ""
	opts.ExitWhenEmpty = false
	return &SharedLauncher{Options: opts, Sessions: sessions, Recorder: recorder}
}

// Start ignores port: every lobby is served on the shared server's port.
func (l *SharedLauncher) Start(ctx context.Context, lobby string, _ int) (*Handle, error) {
	port, ready, exited, err := l.ensureServer()
	if err != nil {
		metrics.WorkerFailures.Inc()
		return nil, err
	}

	h := newHandle(ChildInfo{Lobby: lobby, Port: port, Mode: ModeShared}, nil)
	go func() {
		select {
		case <-ready:
			h.ready <- nil
		case <-exited:
			h.ready <- ErrNotReady
		case <-ctx.Done():
			h.ready <- ctx.Err()
		}
	}()

	l.put(lobby, h)
	metrics.WorkersStarted.WithLabelValues(ModeShared).Inc()
	return h, nil
}

func (l *SharedLauncher) ensureServer() (int, <-chan struct{}, <-chan struct{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.srv != nil {
		return l.srv.LocalAddr().Port, l.ready, l.exited, nil
	}

	parent, child := ipc.Pipe()
	srv, err := udpserver.New(l.Options, l.Sessions, child, l.Recorder)
	if err != nil {
		parent.Close()
		return 0, nil, nil, err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	l.srv, l.control, l.cancel = srv, parent, cancel
	l.ready = make(chan struct{})
	l.exited = make(chan struct{})

	log := logger.Named("worker").With(zap.String("mode", ModeShared))
	go func() {
		defer close(l.exited)
		defer child.Close()
		if err := srv.Run(runCtx); err != nil {
			log.Error("shared simulation stopped", zap.Error(err))
		}
	}()
	go l.demux(runCtx, parent, l.ready, log)

	log.Info("shared simulation started", zap.Int("port", srv.LocalAddr().Port))
	return srv.LocalAddr().Port, l.ready, l.exited, nil
}

// demux routes the shared server's control messages to the handle of the lobby they concern.
func (l *SharedLauncher) demux(ctx context.Context, ch ipc.Channel, ready chan struct{}, log *zap.Logger) {
	for {
		msg, err := ch.Recv(ctx)
		if err != nil {
			return
		}
		ctrl := types.ParseControl(msg)
		var lobby string
		switch ctrl.Kind {
		case types.CtrlReady:
			close(ready)
			continue
		case types.CtrlDead:
			id, ok := ctrl.PlayerID()
			if !ok {
				continue
			}
			lobby, _ = l.Sessions.Lobby(id)
		default:
			lobby = ctrl.Arg
		}

		h, ok := l.Get(lobby)
		if !ok {
			log.Debug("control message for unknown lobby", zap.String("msg", msg), zap.String("lobby", lobby))
			continue
		}
		h.deliver(msg)
	}
}

// StopAll forgets every lobby and stops the shared server.
func (l *SharedLauncher) StopAll() {
	l.table.StopAll()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.exited
	l.control.Close()
	l.srv, l.control, l.cancel = nil, nil, nil
}
