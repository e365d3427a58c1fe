package udpserver

import (
	"net"
	"time"

	"arcade/server/internal/metrics"
	"arcade/server/internal/protocol"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func newMatchID() string {
	return uuid.NewString()
}

func (s *Server) handlePacket(pkt protocol.Packet, from *net.UDPAddr) {
	metrics.PacketsReceived.WithLabelValues(pkt.Type.String()).Inc()

	switch pkt.Type {
	case protocol.TypeHelloUDP:
		s.handleHello(pkt, from)
	case protocol.TypeInput:
		s.handleInput(pkt, from)
	case protocol.TypeShoot:
		s.handleShoot(pkt)
	case protocol.TypePingUDP:
		s.sendTo(protocol.NewPacket(protocol.TypePongUDP, pkt.Payload), from)
	default:
		metrics.PacketsDropped.WithLabelValues("unexpected_type").Inc()
	}
}

func (s *Server) handleHello(pkt protocol.Packet, from *net.UDPAddr) {
	hello, err := protocol.ParseHelloUDP(pkt.Payload)
	if err != nil {
		metrics.PacketsDropped.WithLabelValues("short_payload").Inc()
		return
	}

	// A worker process has its own registry, so sessions are created on first contact.
	if s.opts.StaticLobby != "" {
		s.sessions.Ensure(hello.ID)
	} else if _, ok := s.sessions.Get(hello.ID); !ok {
		metrics.PacketsDropped.WithLabelValues("unknown_session").Inc()
		s.log.Debug("hello from unknown session", zap.Uint16("player_id", hello.ID))
		return
	}
	s.sessions.SetDatagramAddr(hello.ID, from)

	code := s.resolveLobby(hello.ID)
	if s.opts.StaticLobby == "" {
		// the player may have switched lobbies on the control plane since its last hello
		if fresh, ok := s.sessions.Lobby(hello.ID); ok && fresh != code {
			s.removePlayer(hello.ID)
			code = fresh
		}
	}

	w := s.world(code, true)
	w.RegisterPlayer(hello.ID, hello.X, hello.Y, from)
	s.playerLobby[hello.ID] = code
	if s.opts.StaticLobby != "" {
		s.sessions.SetLobby(hello.ID, code)
	}

	s.log.Info("player joined simulation",
		zap.Uint16("player_id", hello.ID),
		zap.String("lobby", code),
		zap.String("addr", from.String()),
	)
	s.sendTo(w.Snapshot(), from)
}

func (s *Server) handleInput(pkt protocol.Packet, from *net.UDPAddr) {
	in, err := protocol.ParseInput(pkt.Payload)
	if err != nil {
		metrics.PacketsDropped.WithLabelValues("short_payload").Inc()
		return
	}
	if !s.sessions.AllowInput(in.ID, time.Now()) {
		metrics.PacketsDropped.WithLabelValues("rate_limited").Inc()
		return
	}
	w := s.world(s.resolveLobby(in.ID), false)
	if w == nil || !w.ApplyInput(in.ID, in.VelX, in.VelY, in.Dir, from) {
		metrics.PacketsDropped.WithLabelValues("unknown_player").Inc()
	}
}

func (s *Server) handleShoot(pkt protocol.Packet) {
	shot, err := protocol.ParseShoot(pkt.Payload)
	if err != nil {
		metrics.PacketsDropped.WithLabelValues("short_payload").Inc()
		return
	}
	if !s.sessions.AllowShoot(shot.ID, time.Now()) {
		metrics.PacketsDropped.WithLabelValues("rate_limited").Inc()
		return
	}
	w := s.world(s.resolveLobby(shot.ID), false)
	if w == nil || !w.AddShot(shot.ID, shot.X, shot.Y, shot.VelX, shot.VelY) {
		metrics.PacketsDropped.WithLabelValues("unknown_player").Inc()
	}
}

func (s *Server) sendTo(pkt protocol.Packet, to *net.UDPAddr) {
	if to == nil {
		return
	}
	raw, err := protocol.Encode(pkt)
	if err != nil {
		s.log.Error("encode", zap.Stringer("type", pkt.Type), zap.Error(err))
		return
	}
	if _, err := s.conn.WriteToUDP(raw, to); err != nil {
		s.log.Debug("udp write", zap.String("addr", to.String()), zap.Error(err))
		return
	}
	if pkt.Type == protocol.TypeSnapshot {
		metrics.SnapshotsSent.Inc()
	}
}

func (s *Server) broadcast() {
	for _, lw := range s.worlds {
		addrs := lw.world.Addrs()
		if len(addrs) == 0 {
			continue
		}
		pkt := lw.world.Snapshot()
		for _, addr := range addrs {
			s.sendTo(pkt, addr)
		}
	}
}
