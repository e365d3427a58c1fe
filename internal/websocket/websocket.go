package websocket

import (
	"net/http"
	"sync"

	"arcade/server/internal/logger"
	"arcade/server/internal/types"
	"arcade/server/internal/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const sendBuffer = 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type feedClient struct {
	Conn  *websocket.Conn
	Send  chan []byte
	Inbox chan []byte
	done  chan struct{}
	Once  sync.Once
}

// Hub fans the lobby directory out to every connected feed client.
type Hub struct {
	mu      sync.Mutex
	clients map[*feedClient]struct{}
	latest  []types.LobbySummary
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*feedClient]struct{}), latest: []types.LobbySummary{}}
}

// Publish stores list and pushes it to every client. It never blocks; slow clients miss updates.
func (h *Hub) Publish(list []types.LobbySummary) {
	if list == nil {
		list = []types.LobbySummary{}
	}
	h.mu.Lock()
	h.latest = list
	clients := make([]*feedClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if !utils.SendMessage(c.Send, "", "lobbies", list) {
			logger.L.Debug("feed client lagging", zap.String("addr", c.Conn.RemoteAddr().String()))
		}
	}
}

func (h *Hub) Latest() []types.LobbySummary {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) add(c *feedClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(c *feedClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.L.Warn("websocket upgrade", zap.Error(err))
		return
	}

	client := &feedClient{
		Conn:  conn,
		Send:  make(chan []byte, sendBuffer),
		Inbox: make(chan []byte, sendBuffer),
		done:  make(chan struct{}),
	}
	// the first frame is always the current directory
	utils.SendMessage(client.Send, "", "lobbies", h.Latest())
	h.add(client)

	logger.L.Info("feed client connected", zap.String("addr", conn.RemoteAddr().String()))

	go h.readPump(client)
	go h.writePump(client)
	go h.processMessages(client)
}

func (h *Hub) teardown(c *feedClient) {
	c.Once.Do(func() {
		h.remove(c)
		close(c.done)
		c.Conn.Close()
		logger.L.Info("feed client disconnected", zap.String("addr", c.Conn.RemoteAddr().String()))
	})
}

func (h *Hub) readPump(c *feedClient) {
	defer close(c.Inbox)
	defer h.teardown(c)

	for {
		_, msg, err := c.Conn.ReadMessage()
		if err != nil {
			logger.L.Debug("feed read", zap.Error(err))
			return
		}
		select {
		case c.Inbox <- msg:
		default:
		}
	}
}

func (h *Hub) writePump(c *feedClient) {
	defer h.teardown(c)

	for {
		select {
		case msg := <-c.Send:
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.L.Debug("feed write", zap.Error(err))
				return
			}
		case <-c.done:
			return
		}
	}
}

func (h *Hub) processMessages(c *feedClient) {
	for msg := range c.Inbox {
		h.handleFeedMessage(c, msg)
	}
}
