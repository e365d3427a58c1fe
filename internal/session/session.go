package session

import (
	"net"
	"sync"
	"time"
)

const (
	DefaultMaxInputsPerSec = 30
	DefaultMaxShootsPerSec = 10

	rateWindow = time.Second
)

// Session is the per-player record. Registry accessors hand out copies.
type Session struct {
	ID           uint16
	Conn         net.Conn
	StreamAddr   net.Addr
	DatagramAddr *net.UDPAddr
	LastPong     time.Time

	InputCount  int
	ShootCount  int
	InputWindow time.Time
	ShootWindow time.Time

	Lobby string
	Name  string
}

// Registry is the thread-safe id -> Session map shared by the control plane and the simulation.
type Registry struct {
	mu        sync.Mutex
	sessions  map[uint16]*Session
	maxInputs int
	maxShoots int
	onRemove  func(id uint16)
}

func NewRegistry(maxInputsPerSec, maxShootsPerSec int) *Registry {
	if maxInputsPerSec <= 0 {
		maxInputsPerSec = DefaultMaxInputsPerSec
	}
	if maxShootsPerSec <= 0 {
		maxShootsPerSec = DefaultMaxShootsPerSec
	}
	return &Registry{
		sessions:  make(map[uint16]*Session),
		maxInputs: maxInputsPerSec,
		maxShoots: maxShootsPerSec,
	}
}

// SetOnRemove registers the callback fired once for every removed id.
func (r *Registry) SetOnRemove(fn func(id uint16)) {
	r.mu.Lock()
	r.onRemove = fn
	r.mu.Unlock()
}

// Add registers a session for a stream connection, replacing any previous record with the same id.
func (r *Registry) Add(id uint16, conn net.Conn) {
	s := &Session{ID: id, Conn: conn, LastPong: time.Now()}
	if conn != nil {
		s.StreamAddr = conn.RemoteAddr()
	}
	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
}

// Ensure creates a connection-less session when id is unknown. It reports whether one was created.
func (r *Registry) Ensure(id uint16) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		return false
	}
	r.sessions[id] = &Session{ID: id, LastPong: time.Now()}
	return true
}

func (r *Registry) RemoveByID(id uint16) bool {
	r.mu.Lock()
	_, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	fn := r.onRemove
	r.mu.Unlock()

	if ok && fn != nil {
		fn(id)
	}
	return ok
}

func (r *Registry) RemoveByConn(conn net.Conn) (uint16, bool) {
	if conn == nil {
		return 0, false
	}
	r.mu.Lock()
	var (
		id    uint16
		found bool
	)
	for sid, s := range r.sessions {
		if s.Conn == conn {
			id, found = sid, true
			delete(r.sessions, sid)
			break
		}
	}
	fn := r.onRemove
	r.mu.Unlock()

	if found && fn != nil {
		fn(id)
	}
	return id, found
}

func (r *Registry) Get(id uint16) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	cp := *s
	if s.DatagramAddr != nil {
		addr := *s.DatagramAddr
		cp.DatagramAddr = &addr
	}
	return cp, true
}

func (r *Registry) SetDatagramAddr(id uint16, addr *net.UDPAddr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	if addr == nil {
		s.DatagramAddr = nil
		return true
	}
	cp := *addr
	s.DatagramAddr = &cp
	return true
}

// DatagramAddr returns false until the address has been learned.
func (r *Registry) DatagramAddr(id uint16) (*net.UDPAddr, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.DatagramAddr == nil {
		return nil, false
	}
	cp := *s.DatagramAddr
	return &cp, true
}

func (r *Registry) UpdatePong(id uint16, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		s.LastPong = now
	}
	return ok
}

func (r *Registry) SetLobby(id uint16, code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		s.Lobby = code
	}
	return ok
}

func (r *Registry) Lobby(id uint16) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.Lobby == "" {
		return "", false
	}
	return s.Lobby, true
}

func (r *Registry) SetName(id uint16, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		s.Name = name
	}
	return ok
}

func (r *Registry) Name(id uint16) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return "", false
	}
	return s.Name, true
}

// AllowInput applies the per-second input limit. Unknown ids are never allowed.
func (r *Registry) AllowInput(id uint16, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	return allow(&s.InputCount, &s.InputWindow, r.maxInputs, now)
}

func (r *Registry) AllowShoot(id uint16, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	return allow(&s.ShootCount, &s.ShootWindow, r.maxShoots, now)
}

// allow resets the window once a second has elapsed, then counts the action.
func allow(count *int, window *time.Time, limit int, now time.Time) bool {
	if now.Sub(*window) >= rateWindow {
		*count = 0
		*window = now
	}
	*count++
	return *count <= limit
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// IDs returns every registered id in no particular order.
func (r *Registry) IDs() []uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint16, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	return out
}
