package tcpserver

import (
	"time"

	"arcade/server/internal/metrics"
	"arcade/server/internal/protocol"
	"arcade/server/internal/utils"

	"go.uber.org/zap"
)

func (s *Server) handlePacket(idx int, pkt protocol.Packet) {
	metrics.PacketsReceived.WithLabelValues(pkt.Type.String()).Inc()

	if s.slots[idx].state == slotHandshake {
		s.handleHandshake(idx, pkt)
		return
	}

	switch pkt.Type {
	case protocol.TypePong:
		s.handlePong(idx)
	case protocol.TypeCreateLobby:
		s.handleCreateLobby(idx)
	case protocol.TypeJoinLobby:
		s.handleJoinLobby(idx, string(pkt.Payload))
	case protocol.TypeMessage:
		s.handleChat(idx, pkt.Payload)
	default:
		metrics.PacketsDropped.WithLabelValues("unexpected_type").Inc()
		s.log.Debug("unexpected packet", zap.Uint16("player_id", s.slots[idx].id), zap.Stringer("type", pkt.Type))
	}
}

func (s *Server) handleHandshake(idx int, pkt protocol.Packet) {
	c := &s.slots[idx]
	if pkt.Type != protocol.TypeClientHello {
		s.refuse(idx, "BAD_HANDSHAKE")
		return
	}
	identity, err := s.opts.Auth.Authenticate(pkt.Payload)
	if err != nil {
		s.log.Debug("handshake rejected", zap.Uint16("player_id", c.id), zap.Error(err))
		s.refuse(idx, "BAD_HANDSHAKE")
		return
	}

	c.name = utils.DisplayName(utils.SanitizeName(identity.Name), c.id)
	c.state = slotReady
	c.lastPong = time.Now()
	s.sessions.Add(c.id, c.conn)
	s.sessions.SetName(c.id, c.name)
	s.sessions.UpdatePong(c.id, c.lastPong)

	s.send(idx, protocol.IDPacket(protocol.TypeOK, c.id))
	s.log.Info("handshake done", zap.Uint16("player_id", c.id), zap.String("name", c.name))
}

func (s *Server) handlePong(idx int) {
	c := &s.slots[idx]
	c.lastPong = time.Now()
	s.sessions.UpdatePong(c.id, c.lastPong)
}

// handleChat relays cleaned text to the sender's lobby, or to every client outside a lobby.
func (s *Server) handleChat(idx int, payload []byte) {
	c := &s.slots[idx]
	text := utils.CleanChat(payload)
	if text == "" {
		return
	}
	metrics.ChatMessages.Inc()
	msg := protocol.Text(protocol.TypeMessage, utils.ChatLine(c.name, text))

	if c.lobby != "" {
		s.log.Debug("chat", zap.Uint16("player_id", c.id), zap.String("lobby", c.lobby))
		s.broadcastLobby(c.lobby, msg)
		return
	}
	s.log.Debug("chat to all", zap.Uint16("player_id", c.id))
	for i := range s.slots {
		if s.slots[i].state == slotReady {
			s.send(i, msg)
		}
	}
}

// broadcastLobby sends pkt to every handshaken client currently in lobby code.
func (s *Server) broadcastLobby(code string, pkt protocol.Packet) {
	for i := range s.slots {
		if s.slots[i].state == slotReady && s.slots[i].lobby == code {
			s.send(i, pkt)
		}
	}
}
