package worker

import (
	"context"
	"fmt"

	"arcade/server/internal/db"
	"arcade/server/internal/ipc"
	"arcade/server/internal/logger"
	"arcade/server/internal/metrics"
	"arcade/server/internal/session"
	"arcade/server/internal/udpserver"

	"go.uber.org/zap"
)

const ModeGoroutine = "goroutine"

// GoroutineLauncher runs each lobby's simulation in-process with its own session table,
// talking to the control plane over a Pipe exactly as a child process would over its socket.
type GoroutineLauncher struct {
	table
	Options   udpserver.Options
	Recorder  db.Recorder
	MaxInputs int
	MaxShoots int
}

func NewGoroutineLauncher(opts udpserver.Options, recorder db.Recorder, maxInputs, maxShoots int) *GoroutineLauncher {
	return &GoroutineLauncher{Options: opts, Recorder: recorder, MaxInputs: maxInputs, MaxShoots: maxShoots}
}

func (l *GoroutineLauncher) Start(ctx context.Context, lobby string, port int) (*Handle, error) {
	opts := l.Options
	opts.Port = port
	opts.StaticLobby = lobby
	opts.ExitWhenEmpty = true

	parent, child := ipc.Pipe()
	srv, err := udpserver.New(opts, session.NewRegistry(l.MaxInputs, l.MaxShoots), child, l.Recorder)
	if err != nil {
		parent.Close()
		metrics.WorkerFailures.Inc()
		return nil, fmt.Errorf("start worker for %s: %w", lobby, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	info := ChildInfo{Lobby: lobby, Port: srv.LocalAddr().Port, Mode: ModeGoroutine}
	log := logger.Named("worker").With(zap.String("lobby", lobby))

	h := newHandle(info, func() {
		cancel()
		_ = parent.Close()
	})

	go func() {
		defer child.Close()
		defer func() {
			if r := recover(); r != nil {
				metrics.WorkerFailures.Inc()
				log.Error("worker panicked", zap.Any("panic", r))
			}
		}()
		if err := srv.Run(runCtx); err != nil {
			log.Error("worker stopped", zap.Error(err))
			return
		}
		log.Info("worker exited")
	}()
	go h.pump(ctx, parent)

	l.put(lobby, h)
	metrics.WorkersStarted.WithLabelValues(ModeGoroutine).Inc()
	log.Info("worker started", zap.Int("port", info.Port))
	return h, nil
}
