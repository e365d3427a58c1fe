package tcpserver

import (
	"net"
	"time"

	"arcade/server/internal/game"
	"arcade/server/internal/metrics"
	"arcade/server/internal/protocol"
	"arcade/server/internal/utils"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type slotState int

const (
	slotFree slotState = iota
	slotHandshake
	slotReady
)

// clientSlot is one entry of the fixed connection pool.
type clientSlot struct {
	state slotState
	gen   uint64

	id   uint16
	conn net.Conn
	out  chan []byte
	buf  protocol.StreamBuffer

	handshakeAt time.Time
	lastPong    time.Time
	doomed      bool

	lobby string
	name  string

	// spawn entry advertised in PLAYER_LIST / NEW_PLAYER
	x, y, hp uint8
}

func (c *clientSlot) entry() protocol.PlayerEntry {
	return protocol.PlayerEntry{ID: c.id, X: c.x, Y: c.y, HP: c.hp}
}

func (s *Server) handleAccept(conn net.Conn) {
	metrics.TotalConnections.Inc()
	remote := conn.RemoteAddr().String()

	if !s.allowHost(utils.HostOf(remote)) {
		s.refuseConn(conn, "RATE_LIMITED")
		return
	}

	idx := s.freeSlot()
	if idx < 0 {
		s.refuseConn(conn, "FULL")
		return
	}

	id := s.allocID()
	now := time.Now()
	s.slots[idx] = clientSlot{
		state:       slotHandshake,
		gen:         s.slots[idx].gen + 1,
		id:          id,
		conn:        conn,
		out:         make(chan []byte, outboxSize),
		handshakeAt: now,
		lastPong:    now,
		x:           uint8(idx),
		hp:          game.DefaultPlayerHP,
	}
	c := &s.slots[idx]
	metrics.ActiveConnections.Inc()

	go writeLoop(conn, c.out)
	go s.readLoop(s.ctx, idx, c.gen, conn)

	s.send(idx, protocol.Text(protocol.TypeServerHello, s.opts.Greeting))
	s.log.Info("client connected, awaiting handshake", zap.Uint16("player_id", id), zap.String("addr", remote))
}

// refuseConn writes a REFUSED frame to a connection that never got a slot and closes it.
func (s *Server) refuseConn(conn net.Conn, reason string) {
	metrics.RefusedConnections.WithLabelValues(reason).Inc()
	s.log.Info("connection refused", zap.String("reason", reason), zap.String("addr", conn.RemoteAddr().String()))
	frame, err := protocol.Frame(protocol.Text(protocol.TypeRefused, reason))
	if err != nil {
		conn.Close()
		return
	}
	go func() {
		defer conn.Close()
		_ = conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
		_, _ = conn.Write(frame)
	}()
}

func (s *Server) allowHost(host string) bool {
	if s.opts.AcceptRate <= 0 {
		return true
	}
	lim, ok := s.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(s.opts.AcceptRate), s.opts.AcceptBurst)
		s.limiters[host] = lim
	}
	return lim.Allow()
}

// pruneLimiters forgets hosts whose bucket has refilled.
func (s *Server) pruneLimiters() {
	for host, lim := range s.limiters {
		if lim.Tokens() >= float64(s.opts.AcceptBurst) {
			delete(s.limiters, host)
		}
	}
}

func (s *Server) freeSlot() int {
	for i := range s.slots {
		if s.slots[i].state == slotFree {
			return i
		}
	}
	return -1
}

// allocID hands out 16-bit ids, skipping 0 and ids still registered.
func (s *Server) allocID() uint16 {
	for {
		id := s.nextID
		s.nextID++
		if id == 0 {
			continue
		}
		if s.slotByID(id) >= 0 {
			continue
		}
		if _, taken := s.sessions.Get(id); !taken {
			return id
		}
	}
}

func (s *Server) slotByID(id uint16) int {
	for i := range s.slots {
		if s.slots[i].state != slotFree && s.slots[i].id == id {
			return i
		}
	}
	return -1
}

// send queues a framed packet. A full outbox dooms the connection.
func (s *Server) send(idx int, pkt protocol.Packet) {
	c := &s.slots[idx]
	if c.state == slotFree || c.doomed {
		return
	}
	frame, err := protocol.Frame(pkt)
	if err != nil {
		s.log.Error("frame", zap.Stringer("type", pkt.Type), zap.Error(err))
		return
	}
	select {
	case c.out <- frame:
	default:
		s.log.Warn("outbox full, dropping client", zap.Uint16("player_id", c.id))
		c.doomed = true
		s.doomed = append(s.doomed, idx)
	}
}

// refuse sends REFUSED(reason) to a slot and releases it.
func (s *Server) refuse(idx int, reason string) {
	metrics.RefusedConnections.WithLabelValues(reason).Inc()
	s.log.Info("handshake refused", zap.Uint16("player_id", s.slots[idx].id), zap.String("reason", reason))
	s.send(idx, protocol.Text(protocol.TypeRefused, reason))
	s.closeSlot(idx)
}

// disconnect tells lobby mates the client left, then releases the slot.
func (s *Server) disconnect(idx int, why string) {
	c := &s.slots[idx]
	s.log.Info("client disconnected", zap.Uint16("player_id", c.id), zap.String("reason", why))
	if c.state == slotReady && c.lobby != "" {
		msg := protocol.Text(protocol.TypeMessage, utils.SystemLine(c.name+" disconnected"))
		for i := range s.slots {
			if i != idx && s.slots[i].state == slotReady && s.slots[i].lobby == c.lobby {
				s.send(i, msg)
			}
		}
	}
	s.closeSlot(idx)
}

func (s *Server) closeSlot(idx int) {
	c := &s.slots[idx]
	if c.state == slotFree {
		return
	}
	if c.lobby != "" {
		s.leaveLobby(idx)
	}
	close(c.out)
	s.sessions.RemoveByConn(c.conn)
	metrics.ActiveConnections.Dec()

	gen := c.gen
	s.slots[idx] = clientSlot{gen: gen + 1}
}

func (s *Server) reap() {
	doomed := s.doomed
	s.doomed = nil
	for _, idx := range doomed {
		if s.slots[idx].state != slotFree && s.slots[idx].doomed {
			s.disconnect(idx, "write backlog")
		}
	}
}

func (s *Server) handleRead(ev readEvent) {
	c := &s.slots[ev.slot]
	if c.state == slotFree || c.gen != ev.gen {
		return
	}
	if ev.err != nil {
		s.disconnect(ev.slot, ev.err.Error())
		return
	}

	c.buf.Write(ev.data)
	for {
		pkt, ok := c.buf.Next()
		if !ok {
			return
		}
		s.handlePacket(ev.slot, pkt)
		if s.slots[ev.slot].gen != ev.gen || s.slots[ev.slot].state == slotFree {
			return
		}
	}
}

// heartbeat pings every handshaken client and drops those silent for longer than PongTimeout.
func (s *Server) heartbeat(now time.Time) {
	for i := range s.slots {
		c := &s.slots[i]
		if c.state != slotReady {
			continue
		}
		if now.Sub(c.lastPong) > s.opts.PongTimeout {
			s.disconnect(i, "pong timeout")
			continue
		}
		s.send(i, protocol.NewPacket(protocol.TypePing, nil))
	}
	s.pruneLimiters()
}

func (s *Server) checkTimeouts(now time.Time) {
	for i := range s.slots {
		c := &s.slots[i]
		if c.state == slotHandshake && now.Sub(c.handshakeAt) > s.opts.HandshakeTimeout {
			s.refuse(i, "TIMEOUT")
		}
	}
	s.checkReadyTimeouts(now)
}
