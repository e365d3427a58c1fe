// Package tcpserver is the stream control plane: handshakes, heartbeats, lobbies, chat
// and coordination with the per-lobby simulation workers.
//
// All connection and lobby state is owned by the goroutine running Run. Per-connection
// reader and writer goroutines and worker watchers only exchange messages with it.
package tcpserver

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"time"

	"arcade/server/internal/auth"
	"arcade/server/internal/logger"
	"arcade/server/internal/session"
	"arcade/server/internal/types"
	"arcade/server/internal/utils"
	"arcade/server/internal/worker"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultMaxClients       = 4
	DefaultGreeting         = "R-Type Server"
	DefaultHandshakeTimeout = 3 * time.Second
	DefaultPingInterval     = 5 * time.Second
	DefaultPongTimeout      = 10 * time.Second
	DefaultReadyTimeout     = 5 * time.Second
	defaultPollInterval     = 250 * time.Millisecond
	defaultWriteTimeout     = 2 * time.Second
	outboxSize              = 64
	readBufferSize          = 4096
)

type Options struct {
	Host       string
	Port       int
	MaxClients int
	Greeting   string
	Auth       auth.Authenticator

	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	PongTimeout      time.Duration
	ReadyTimeout     time.Duration
	PollInterval     time.Duration

	UDPPortMin int
	UDPPortMax int

	// AcceptRate is new connections per second allowed per remote host; 0 disables the limiter.
	AcceptRate  float64
	AcceptBurst int

	Seed int64
}

// Observer receives the visible lobby directory after every change. It must not block.
type Observer func([]types.LobbySummary)

type readEvent struct {
	slot int
	gen  uint64
	data []byte
	err  error
}

type workerEventKind int

const (
	workerReady workerEventKind = iota
	workerMessage
)

type workerEvent struct {
	kind   workerEventKind
	lobby  string
	handle *worker.Handle
	msg    string
	err    error
}

type Server struct {
	opts     Options
	ln       net.Listener
	sessions *session.Registry
	launcher worker.Launcher
	observer Observer
	log      *zap.Logger

	accepts chan net.Conn
	reads   chan readEvent
	workers chan workerEvent

	// owned by the Run goroutine
	ctx      context.Context
	rng      *rand.Rand
	slots    []clientSlot
	nextID   uint16
	lobbies  map[string]*lobbyInfo
	ports    *utils.PortAllocator
	limiters map[string]*rate.Limiter
	doomed   []int
}

// New binds the listener. launcher may be nil, in which case every lobby fails with WORKER_UNAVAILABLE.
func New(opts Options, sessions *session.Registry, launcher worker.Launcher, observer Observer) (*Server, error) {
	if opts.MaxClients <= 0 {
		opts.MaxClients = DefaultMaxClients
	}
	if opts.Greeting == "" {
		opts.Greeting = DefaultGreeting
	}
	if opts.Auth == nil {
		opts.Auth = auth.TokenAuthenticator{Token: "toto"}
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = DefaultPongTimeout
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.UDPPortMin <= 0 {
		opts.UDPPortMin = 50000
	}
	if opts.UDPPortMax <= 0 {
		opts.UDPPortMax = 64999
	}
	if opts.AcceptBurst <= 0 {
		opts.AcceptBurst = 1
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	if sessions == nil {
		sessions = session.NewRegistry(0, 0)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)))
	if err != nil {
		return nil, fmt.Errorf("bind tcp %d: %w", opts.Port, err)
	}

	return &Server{
		opts:     opts,
		ln:       ln,
		sessions: sessions,
		launcher: launcher,
		observer: observer,
		log:      logger.Named("tcp"),
		accepts:  make(chan net.Conn),
		reads:    make(chan readEvent),
		workers:  make(chan workerEvent),
		rng:      rand.New(rand.NewSource(opts.Seed)),
		slots:    make([]clientSlot, opts.MaxClients),
		nextID:   1,
		lobbies:  make(map[string]*lobbyInfo),
		ports:    utils.NewPortAllocator(opts.UDPPortMin, opts.UDPPortMax),
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Run serves until ctx is done. It must be called once.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.ctx = ctx

	go s.acceptLoop(ctx)
	s.log.Info("control plane listening", zap.String("addr", s.ln.Addr().String()), zap.Int("max_clients", s.opts.MaxClients))

	heartbeat := time.NewTicker(s.opts.PingInterval)
	defer heartbeat.Stop()
	poll := time.NewTicker(s.opts.PollInterval)
	defer poll.Stop()

	s.publish()
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil

		case conn := <-s.accepts:
			s.handleAccept(conn)

		case ev := <-s.reads:
			s.handleRead(ev)

		case ev := <-s.workers:
			s.handleWorkerEvent(ev)

		case now := <-heartbeat.C:
			s.heartbeat(now)

		case now := <-poll.C:
			s.checkTimeouts(now)
		}
		s.reap()
	}
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept", zap.Error(err))
			continue
		}
		select {
		case s.accepts <- conn:
		case <-ctx.Done():
			conn.Close()
			return
		}
	}
}

func (s *Server) readLoop(ctx context.Context, idx int, gen uint64, conn net.Conn) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			if !s.deliver(ctx, readEvent{slot: idx, gen: gen, data: data}) {
				return
			}
		}
		if err != nil {
			s.deliver(ctx, readEvent{slot: idx, gen: gen, err: err})
			return
		}
	}
}

func (s *Server) deliver(ctx context.Context, ev readEvent) bool {
	select {
	case s.reads <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// writeLoop flushes queued frames in order and closes the connection once out is closed.
func writeLoop(conn net.Conn, out <-chan []byte) {
	defer conn.Close()
	for frame := range out {
		_ = conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
		if _, err := conn.Write(frame); err != nil {
			// the reader sees the close and the owner releases the slot, which closes out
			conn.Close()
			for range out {
			}
			return
		}
	}
}

func (s *Server) watchWorker(code string, h *worker.Handle) {
	var err error
	select {
	case err = <-h.Ready():
	case <-h.Done():
		return
	case <-s.ctx.Done():
		return
	}
	if !s.emit(workerEvent{kind: workerReady, lobby: code, handle: h, err: err}) || err != nil {
		return
	}
	for {
		select {
		case msg, ok := <-h.Messages():
			if !ok {
				return
			}
			if !s.emit(workerEvent{kind: workerMessage, lobby: code, handle: h, msg: msg}) {
				return
			}
		case <-h.Done():
			return
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Server) emit(ev workerEvent) bool {
	select {
	case s.workers <- ev:
		return true
	case <-ev.handle.Done():
		return false
	case <-s.ctx.Done():
		return false
	}
}

func (s *Server) shutdown() {
	_ = s.ln.Close()
	for i := range s.slots {
		if s.slots[i].state != slotFree {
			s.closeSlot(i)
		}
	}
	for code, l := range s.lobbies {
		s.stopWorker(l)
		delete(s.lobbies, code)
	}
	s.publish()
	s.log.Info("control plane stopped")
}
