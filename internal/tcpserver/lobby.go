package tcpserver

import (
	"errors"
	"sort"
	"time"

	"arcade/server/internal/metrics"
	"arcade/server/internal/protocol"
	"arcade/server/internal/types"
	"arcade/server/internal/utils"
	"arcade/server/internal/worker"

	"go.uber.org/zap"
)

const (
	lobbyErrUnknownCode       = "UNKNOWN_CODE"
	lobbyErrFull              = "FULL"
	lobbyErrInvalidState      = "INVALID_STATE"
	lobbyErrWorkerUnavailable = "WORKER_UNAVAILABLE"
)

var errNoPorts = errors.New("no free udp port")

type lobbyInfo struct {
	code    string
	public  bool
	members []uint16

	// pending members joined while the worker was starting; they get LOBBY_OK on READY
	pending []uint16

	port          int
	handle        *worker.Handle
	ready         bool
	readyDeadline time.Time
}

func (l *lobbyInfo) has(id uint16) bool {
	for _, m := range l.members {
		if m == id {
			return true
		}
	}
	return false
}

func removeID(ids []uint16, id uint16) []uint16 {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// busy reports whether the client's current lobby is still waiting for its worker.
func (s *Server) busy(idx int) bool {
	l, ok := s.lobbies[s.slots[idx].lobby]
	return ok && l.handle != nil && !l.ready
}

func (s *Server) handleCreateLobby(idx int) {
	if s.busy(idx) {
		s.lobbyError(idx, lobbyErrInvalidState)
		return
	}
	code := utils.GenerateLobbyCode(s.rng, func(code string) bool {
		_, taken := s.lobbies[code]
		return taken
	})
	s.log.Info("create lobby", zap.Uint16("player_id", s.slots[idx].id), zap.String("lobby", code))
	s.join(idx, s.openLobby(code, false))
}

func (s *Server) handleJoinLobby(idx int, raw string) {
	c := &s.slots[idx]
	code := utils.NormalizeLobbyCode(raw)
	s.log.Info("join lobby", zap.Uint16("player_id", c.id), zap.String("lobby", code))
	if s.busy(idx) {
		s.lobbyError(idx, lobbyErrInvalidState)
		return
	}

	if code == utils.PublicLobby {
		l, ok := s.lobbies[code]
		if !ok {
			l = s.openLobby(code, true)
		}
		if s.isFull(l, c.id) {
			s.lobbyError(idx, lobbyErrFull)
			return
		}
		s.join(idx, l)
		return
	}

	if !utils.IsValidLobbyCode(code) {
		s.lobbyError(idx, lobbyErrUnknownCode)
		return
	}
	l, ok := s.lobbies[code]
	if !ok {
		s.lobbyError(idx, lobbyErrUnknownCode)
		return
	}
	if s.isFull(l, c.id) {
		s.lobbyError(idx, lobbyErrFull)
		return
	}
	s.join(idx, l)
}

func (s *Server) isFull(l *lobbyInfo, id uint16) bool {
	n := len(l.members)
	if l.has(id) {
		n--
	}
	return n >= s.opts.MaxClients
}

func (s *Server) lobbyError(idx int, reason string) {
	metrics.LobbyErrors.WithLabelValues(reason).Inc()
	s.send(idx, protocol.Text(protocol.TypeLobbyError, reason))
}

func (s *Server) openLobby(code string, public bool) *lobbyInfo {
	l := &lobbyInfo{code: code, public: public}
	s.lobbies[code] = l
	metrics.ActiveLobbies.Inc()
	return l
}

// join moves a client into l, starting the lobby's worker if it has none.
func (s *Server) join(idx int, l *lobbyInfo) {
	c := &s.slots[idx]
	if c.lobby == l.code {
		switch {
		case l.handle == nil:
			s.restartWorker(l)
		case l.ready:
			s.announce(l, []uint16{c.id})
		}
		return
	}
	if c.lobby != "" {
		s.leaveLobby(idx)
	}

	l.members = append(l.members, c.id)
	c.lobby = l.code
	s.sessions.SetLobby(c.id, l.code)

	if l.handle == nil {
		s.restartWorker(l)
		return
	}
	if !l.ready {
		l.pending = append(l.pending, c.id)
		return
	}
	s.announce(l, []uint16{c.id})
	s.publish()
}

// restartWorker starts a worker for every current member; LOBBY_OK follows its READY.
func (s *Server) restartWorker(l *lobbyInfo) {
	l.pending = append(l.pending[:0], l.members...)
	if err := s.startWorker(l); err != nil {
		s.log.Error("start worker", zap.String("lobby", l.code), zap.Error(err))
		s.failLobby(l, lobbyErrWorkerUnavailable)
	}
}

func (s *Server) startWorker(l *lobbyInfo) error {
	if s.launcher == nil {
		return errors.New("no worker launcher configured")
	}
	port := s.ports.Next(func(port int) bool {
		for _, other := range s.lobbies {
			if other != l && other.port == port {
				return true
			}
		}
		return false
	})
	if port == 0 {
		return errNoPorts
	}

	h, err := s.launcher.Start(s.ctx, l.code, port)
	if err != nil {
		return err
	}
	l.handle = h
	l.port = h.Info().Port
	l.ready = false
	l.readyDeadline = time.Now().Add(s.opts.ReadyTimeout)
	go s.watchWorker(l.code, h)

	s.log.Info("worker requested", zap.String("lobby", l.code), zap.Int("port", l.port))
	return nil
}

func (s *Server) stopWorker(l *lobbyInfo) {
	if l.handle != nil {
		l.handle.Stop()
		if s.launcher != nil {
			s.launcher.Forget(l.code)
		}
	}
	l.handle = nil
	l.ready = false
	l.port = 0
}

// announce sends LOBBY_OK to each newcomer, the full roster to every member,
// and NEW_PLAYER for each newcomer to the others.
func (s *Server) announce(l *lobbyInfo, newcomers []uint16) {
	ok := protocol.LobbyOK(l.code, l.port)
	for _, id := range newcomers {
		if idx := s.slotByID(id); idx >= 0 {
			s.send(idx, ok)
		}
	}
	s.sendRoster(l)
	for _, id := range newcomers {
		idx := s.slotByID(id)
		if idx < 0 {
			continue
		}
		np := protocol.NewPlayer(s.slots[idx].entry())
		for _, other := range l.members {
			if other == id {
				continue
			}
			if j := s.slotByID(other); j >= 0 {
				s.send(j, np)
			}
		}
	}
}

func (s *Server) sendRoster(l *lobbyInfo) {
	entries := make([]protocol.PlayerEntry, 0, len(l.members))
	for _, id := range l.members {
		if idx := s.slotByID(id); idx >= 0 {
			entries = append(entries, s.slots[idx].entry())
		}
	}
	roster := protocol.PlayerList(entries)
	for _, id := range l.members {
		if idx := s.slotByID(id); idx >= 0 {
			s.send(idx, roster)
		}
	}
}

// leaveLobby removes a client from its lobby; the last member out tears the lobby down.
func (s *Server) leaveLobby(idx int) {
	c := &s.slots[idx]
	code := c.lobby
	c.lobby = ""
	s.sessions.SetLobby(c.id, "")

	l, ok := s.lobbies[code]
	if !ok {
		return
	}
	l.members = removeID(l.members, c.id)
	l.pending = removeID(l.pending, c.id)

	if len(l.members) == 0 {
		s.destroyLobby(l)
		return
	}
	if l.ready {
		s.sendRoster(l)
	}
	s.publish()
}

func (s *Server) destroyLobby(l *lobbyInfo) {
	s.stopWorker(l)
	delete(s.lobbies, l.code)
	metrics.ActiveLobbies.Dec()
	s.log.Info("lobby closed", zap.String("lobby", l.code))
	s.publish()
}

// failLobby tells every member why the lobby cannot run and tears it down.
func (s *Server) failLobby(l *lobbyInfo, reason string) {
	members := append([]uint16(nil), l.members...)
	for _, id := range members {
		idx := s.slotByID(id)
		if idx < 0 {
			continue
		}
		s.lobbyError(idx, reason)
		s.slots[idx].lobby = ""
		s.sessions.SetLobby(id, "")
	}
	l.members = nil
	l.pending = nil
	metrics.WorkerFailures.Inc()
	s.destroyLobby(l)
}

func (s *Server) checkReadyTimeouts(now time.Time) {
	for _, l := range s.lobbies {
		if l.handle != nil && !l.ready && now.After(l.readyDeadline) {
			s.log.Warn("worker not ready in time", zap.String("lobby", l.code))
			s.failLobby(l, lobbyErrWorkerUnavailable)
		}
	}
}

func (s *Server) onWorkerReady(l *lobbyInfo) {
	l.ready = true
	pending := l.pending
	l.pending = nil
	s.log.Info("lobby ready", zap.String("lobby", l.code), zap.Int("port", l.port), zap.Int("members", len(l.members)))
	s.announce(l, pending)
	s.publish()
}

// lobbySummaries lists the visible directory: lobbies whose worker reported READY.
func (s *Server) lobbySummaries() []types.LobbySummary {
	out := make([]types.LobbySummary, 0, len(s.lobbies))
	for _, l := range s.lobbies {
		if !l.ready {
			continue
		}
		summary := types.LobbySummary{Code: l.code, Public: l.public, Port: l.port, Max: s.opts.MaxClients}
		for _, id := range l.members {
			if idx := s.slotByID(id); idx >= 0 {
				summary.Members = append(summary.Members, types.LobbyMember{ID: id, Name: s.slots[idx].name})
			}
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (s *Server) publish() {
	if s.observer == nil {
		return
	}
	s.observer(s.lobbySummaries())
}
