package tcpserver

import (
	"arcade/server/internal/protocol"
	"arcade/server/internal/types"
	"arcade/server/internal/utils"

	"go.uber.org/zap"
)

func (s *Server) handleWorkerEvent(ev workerEvent) {
	l, ok := s.lobbies[ev.lobby]
	if !ok || l.handle != ev.handle {
		// the lobby was torn down or restarted since this worker was launched
		return
	}

	switch ev.kind {
	case workerReady:
		if ev.err != nil {
			s.log.Warn("worker failed before READY", zap.String("lobby", l.code), zap.Error(ev.err))
			s.failLobby(l, lobbyErrWorkerUnavailable)
			return
		}
		s.onWorkerReady(l)
	case workerMessage:
		s.handleControl(l, types.ParseControl(ev.msg))
	}
}

// handleControl maps a worker's control message onto lobby notifications.
func (s *Server) handleControl(l *lobbyInfo, msg types.ControlMessage) {
	code := msg.Arg
	if code == "" {
		code = l.code
	}

	switch msg.Kind {
	case types.CtrlBoss:
		s.systemMessage(code, "Boss spawned")

	case types.CtrlBossDead:
		s.systemMessage(code, "Boss defeated - win")

	case types.CtrlNoPlayers:
		s.systemMessage(code, "No players left - game over")
		s.log.Info("simulation finished", zap.String("lobby", l.code))
		// the worker exits on its own; the next join starts a fresh one
		s.stopWorker(l)
		s.publish()

	case types.CtrlDead:
		id, ok := msg.PlayerID()
		if !ok {
			return
		}
		idx := s.slotByID(id)
		if idx < 0 {
			return
		}
		c := &s.slots[idx]
		if c.lobby != "" {
			s.systemMessage(c.lobby, c.name+" died")
		}
		s.send(idx, protocol.Text(protocol.TypeMessage, "DEAD"))
		if c.lobby != "" {
			s.leaveLobby(idx)
		}

	default:
		s.log.Debug("unknown control message", zap.String("lobby", l.code), zap.String("msg", msg.String()))
	}
}

func (s *Server) systemMessage(code, text string) {
	s.broadcastLobby(code, protocol.Text(protocol.TypeMessage, utils.SystemLine(text)))
}
