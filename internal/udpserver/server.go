// Package udpserver runs the authoritative simulation for one lobby (or every lobby, in shared mode)
// behind a datagram socket.
package udpserver

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"arcade/server/internal/db"
	"arcade/server/internal/game"
	"arcade/server/internal/ipc"
	"arcade/server/internal/logger"
	"arcade/server/internal/metrics"
	"arcade/server/internal/protocol"
	"arcade/server/internal/session"
	"arcade/server/internal/types"
	"arcade/server/internal/utils"

	"go.uber.org/zap"
)

const (
	DefaultTickInterval     = 32 * time.Millisecond
	DefaultSnapshotInterval = 50 * time.Millisecond
	defaultMaxCatchUp       = 4
	readBufferSize          = 2048
)

type Options struct {
	Host string
	Port int

	// StaticLobby binds every datagram to one lobby. Empty means resolve per player.
	StaticLobby string
	// ExitWhenEmpty stops Run once the static lobby's world has emptied.
	ExitWhenEmpty bool

	TickInterval     time.Duration
	SnapshotInterval time.Duration
	MaxCatchUpTicks  int

	Seed int64
}

type eventKind int

const (
	eventPacket eventKind = iota
	eventRemove
)

type event struct {
	kind eventKind
	pkt  protocol.Packet
	from *net.UDPAddr
	id   uint16
}

type lobbyWorld struct {
	world   *game.World
	started time.Time
}

type Server struct {
	opts     Options
	conn     *net.UDPConn
	sessions *session.Registry
	control  ipc.Channel
	recorder db.Recorder
	log      *zap.Logger
	rng      *rand.Rand

	qmu   sync.Mutex
	queue []event
	wake  chan struct{}

	// owned by the loop goroutine
	worlds      map[string]*lobbyWorld
	playerLobby map[uint16]string
	simMs       int64
	done        bool
}

// New binds the datagram socket. control and recorder may be nil.
func New(opts Options, sessions *session.Registry, control ipc.Channel, recorder db.Recorder) (*Server, error) {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.SnapshotInterval <= 0 {
		opts.SnapshotInterval = DefaultSnapshotInterval
	}
	if opts.MaxCatchUpTicks <= 0 {
		opts.MaxCatchUpTicks = defaultMaxCatchUp
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	if recorder == nil {
		recorder = db.LogRecorder{}
	}

	addr := &net.UDPAddr{IP: net.ParseIP(opts.Host), Port: opts.Port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind udp %d: %w", opts.Port, err)
	}

	log := logger.Named("udp").With(zap.Int("port", conn.LocalAddr().(*net.UDPAddr).Port))
	if opts.StaticLobby != "" {
		log = log.With(zap.String("lobby", opts.StaticLobby))
	}

	return &Server{
		opts:        opts,
		conn:        conn,
		sessions:    sessions,
		control:     control,
		recorder:    recorder,
		log:         log,
		rng:         rand.New(rand.NewSource(opts.Seed)),
		wake:        make(chan struct{}, 1),
		worlds:      make(map[string]*lobbyWorld),
		playerLobby: make(map[uint16]string),
	}, nil
}

func (s *Server) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Run announces READY, then receives, simulates and broadcasts until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	defer s.conn.Close()

	s.sessions.SetOnRemove(s.enqueueRemoval)
	defer s.sessions.SetOnRemove(nil)

	s.notify(types.CtrlReady)
	s.log.Info("simulation listening")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.receiveLoop(ctx)
	}()

	err := s.loop(ctx)
	cancel()
	_ = s.conn.Close()
	wg.Wait()
	return err
}

func (s *Server) loop(ctx context.Context) error {
	tick := time.NewTicker(s.opts.TickInterval)
	defer tick.Stop()
	snap := time.NewTicker(s.opts.SnapshotInterval)
	defer snap.Stop()

	lastTick := time.Now()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil

		case <-s.wake:
			s.drain()

		case now := <-tick.C:
			s.drain()
			lastTick = s.advance(now, lastTick)

		case <-snap.C:
			s.drain()
			s.broadcast()
		}

		s.collect()
		if s.done {
			return nil
		}
	}
}

// advance runs fixed steps until the simulation clock catches up, capped per wakeup.
func (s *Server) advance(now, lastTick time.Time) time.Time {
	step := s.opts.TickInterval
	start := time.Now()
	steps := 0
	for now.Sub(lastTick) >= step && steps < s.opts.MaxCatchUpTicks {
		s.simMs += step.Milliseconds()
		for _, lw := range s.worlds {
			lw.world.Tick(s.simMs, step.Milliseconds())
		}
		lastTick = lastTick.Add(step)
		steps++
	}
	if now.Sub(lastTick) >= step {
		s.log.Debug("simulation behind, dropping steps", zap.Duration("lag", now.Sub(lastTick)))
		lastTick = now
	}
	if steps > 0 {
		metrics.TickDuration.Observe(time.Since(start).Seconds())
	}
	return lastTick
}

func (s *Server) receiveLoop(ctx context.Context) {
	buf := make([]byte, readBufferSize)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("udp read", zap.Error(err))
			continue
		}
		pkt, err := protocol.Decode(buf[:n])
		if err != nil {
			metrics.PacketsDropped.WithLabelValues("decode").Inc()
			continue
		}
		s.push(event{kind: eventPacket, pkt: pkt, from: from})
	}
}

func (s *Server) enqueueRemoval(id uint16) {
	s.push(event{kind: eventRemove, id: id})
}

func (s *Server) push(ev event) {
	s.qmu.Lock()
	s.queue = append(s.queue, ev)
	s.qmu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// drain swaps the queue out under the lock and handles events without holding it.
func (s *Server) drain() {
	s.qmu.Lock()
	events := s.queue
	s.queue = nil
	s.qmu.Unlock()

	for _, ev := range events {
		switch ev.kind {
		case eventPacket:
			s.handlePacket(ev.pkt, ev.from)
		case eventRemove:
			s.removePlayer(ev.id)
		}
	}
}

func (s *Server) resolveLobby(id uint16) string {
	if s.opts.StaticLobby != "" {
		return s.opts.StaticLobby
	}
	if code, ok := s.playerLobby[id]; ok {
		return code
	}
	if code, ok := s.sessions.Lobby(id); ok {
		return code
	}
	return utils.PublicLobby
}

func (s *Server) world(code string, create bool) *game.World {
	if lw, ok := s.worlds[code]; ok {
		return lw.world
	}
	if !create {
		return nil
	}
	lw := &lobbyWorld{world: game.NewWorld(rand.New(rand.NewSource(s.rng.Int63()))), started: time.Now()}
	s.worlds[code] = lw
	metrics.ActiveWorlds.Inc()
	s.log.Info("world created", zap.String("lobby", code))
	return lw.world
}

func (s *Server) removePlayer(id uint16) {
	code, ok := s.playerLobby[id]
	if !ok {
		return
	}
	delete(s.playerLobby, id)
	if w := s.world(code, false); w != nil {
		w.RemovePlayer(id)
	}
}

func (s *Server) notify(msg string) {
	if s.control == nil {
		return
	}
	if err := s.control.Send(msg); err != nil {
		s.log.Warn("control send", zap.String("msg", msg), zap.Error(err))
	}
}

// collect drains one-shot world flags into control messages and tears down emptied worlds.
func (s *Server) collect() {
	for code, lw := range s.worlds {
		w := lw.world
		if w.TakeBossSpawned() {
			s.log.Info("boss spawned", zap.String("lobby", code))
			s.notify(types.BossMessage(code))
		}
		if w.TakeBossDefeated() {
			s.log.Info("boss defeated", zap.String("lobby", code))
			s.notify(types.BossDeadMessage(code))
		}
		for _, id := range w.TakeDeadPlayers() {
			s.log.Info("player died", zap.String("lobby", code), zap.Uint16("player_id", id))
			s.notify(types.DeadMessage(id))
			w.RemovePlayer(id)
			delete(s.playerLobby, id)
		}
		if w.TakeNoPlayers() {
			s.log.Info("lobby empty", zap.String("lobby", code), zap.Uint16("score", w.Score()))
			s.notify(types.NoPlayersMessage(code))
			s.finish(code, lw)
			if s.opts.ExitWhenEmpty && code == s.opts.StaticLobby {
				s.done = true
			}
		}
	}
}

func (s *Server) finish(code string, lw *lobbyWorld) {
	delete(s.worlds, code)
	metrics.ActiveWorlds.Dec()
	for id, c := range s.playerLobby {
		if c == code {
			delete(s.playerLobby, id)
		}
	}
	s.record(code, lw)
}

func (s *Server) record(code string, lw *lobbyWorld) {
	w := lw.world
	result := types.MatchResult{
		ID:             newMatchID(),
		Lobby:          code,
		Score:          w.Score(),
		BossSpawned:    w.BossSpawned(),
		BossDefeated:   w.BossDefeated(),
		PeakPlayers:    w.PeakPlayers(),
		MonstersKilled: w.MonstersKilled(),
		StartedAt:      lw.started,
		EndedAt:        time.Now(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.recorder.Record(ctx, result); err != nil {
		metrics.MatchesRecorded.WithLabelValues("error").Inc()
		s.log.Error("record match", zap.String("lobby", code), zap.Error(err))
		return
	}
	metrics.MatchesRecorded.WithLabelValues("ok").Inc()
}

func (s *Server) shutdown() {
	for code, lw := range s.worlds {
		if lw.world.PlayerCount() > 0 || lw.world.PeakPlayers() > 0 {
			s.record(code, lw)
		}
		metrics.ActiveWorlds.Dec()
	}
	s.worlds = make(map[string]*lobbyWorld)
}
