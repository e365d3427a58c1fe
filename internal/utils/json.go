package utils

import (
	"encoding/json"

	"arcade/server/internal/logger"

	"go.uber.org/zap"
)

type IncomingMessage struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type OutgoingMessage struct {
	ID   string      `json:"id"`
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func ParseIncomingMessage(data []byte) (*IncomingMessage, error) {
	var msg IncomingMessage
	err := json.Unmarshal(data, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func MarshalMessage(id, typ string, data interface{}) ([]byte, error) {
	return json.Marshal(OutgoingMessage{ID: id, Type: typ, Data: data})
}

// SendJSON marshals data and queues it without blocking; a full queue drops the message.
func SendJSON(send chan<- []byte, data interface{}) bool {
	jsonData, err := json.Marshal(data)
	if err != nil {
		logger.L.Error("marshal json", zap.Error(err))
		return false
	}
	select {
	case send <- jsonData:
		return true
	default:
		return false
	}
}

func SendMessage(send chan<- []byte, id string, typ string, data interface{}) bool {
	return SendJSON(send, OutgoingMessage{ID: id, Type: typ, Data: data})
}

func SendError(send chan<- []byte, id, errorType, message string) bool {
	if id == "" {
		id = "unknown"
	}
	return SendJSON(send, OutgoingMessage{
		ID:   id,
		Type: "error",
		Data: map[string]string{
			"error":   errorType,
			"message": message,
		},
	})
}
