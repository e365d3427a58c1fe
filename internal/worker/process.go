package worker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"arcade/server/internal/ipc"
	"arcade/server/internal/logger"
	"arcade/server/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const ModeProcess = "process"

// ProcessLauncher runs each lobby as "<binary> worker --lobby CODE --udp-port N --control PATH".
type ProcessLauncher struct {
	table
	Binary     string
	ControlDir string
}

func NewProcessLauncher(binary, controlDir string) *ProcessLauncher {
	if binary == "" {
		if exe, err := os.Executable(); err == nil {
			binary = exe
		} else {
			binary = os.Args[0]
		}
	}
	if controlDir == "" {
		controlDir = os.TempDir()
	}
	return &ProcessLauncher{Binary: binary, ControlDir: controlDir}
}

func (l *ProcessLauncher) Start(ctx context.Context, lobby string, port int) (*Handle, error) {
	path := filepath.Join(l.ControlDir, fmt.Sprintf("lobby-%s-%s.sock", lobby, uuid.NewString()))
	ch, err := ipc.ListenUnix(path)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(l.Binary, "worker",
		"--lobby", lobby,
		"--udp-port", strconv.Itoa(port),
		"--control", path,
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		ch.Close()
		metrics.WorkerFailures.Inc()
		return nil, fmt.Errorf("spawn worker for %s: %w", lobby, err)
	}

	info := ChildInfo{PID: cmd.Process.Pid, Lobby: lobby, Port: port, ControlPath: path, Mode: ModeProcess}
	log := logger.Named("worker").With(zap.String("lobby", lobby), zap.Int("pid", info.PID))

	h := newHandle(info, func() {
		_ = cmd.Process.Kill()
		_ = ch.Close()
	})

	// reap the child; a crash is logged but not recovered
	go func() {
		err := cmd.Wait()
		log.Info("worker exited", zap.Error(err))
		_ = ch.Close()
	}()
	go h.pump(ctx, ch)

	l.put(lobby, h)
	metrics.WorkersStarted.WithLabelValues(ModeProcess).Inc()
	log.Info("worker spawned", zap.Int("port", port), zap.String("control", path))
	return h, nil
}
