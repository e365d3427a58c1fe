package websocket

import (
	"arcade/server/internal/logger"
	"arcade/server/internal/utils"

	"go.uber.org/zap"
)

// handleFeedMessage answers the few requests a feed client may send.
func (h *Hub) handleFeedMessage(c *feedClient, msg []byte) {
	incoming, err := utils.ParseIncomingMessage(msg)
	if err != nil {
		logger.L.Debug("invalid feed json", zap.String("addr", c.Conn.RemoteAddr().String()), zap.Error(err))
		utils.SendError(c.Send, "", "invalid_json", "Malformed JSON")
		return
	}

	switch incoming.Type {
	case "lobbies":
		utils.SendMessage(c.Send, incoming.ID, "lobbies", h.Latest())

	case "ping":
		utils.SendMessage(c.Send, incoming.ID, "pong", nil)

	default:
		utils.SendError(c.Send, incoming.ID, "unknown_type", "Unknown message type")
	}
}
