package hub

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/pscheid92/wsbroadcast/internal/domain"
)

// Socket is the subset of *websocket.Conn the hub drives.
// ReadMessage and WriteMessage each have a single caller; WriteControl,
// SetReadDeadline and Close may be called from any goroutine.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetCloseHandler(h func(code int, text string) error)
	SetPongHandler(h func(appData string) error)
	Close() error
}

var _ Socket = (*websocket.Conn)(nil)

const (
	closeReasonAck      = "Acknowledge Close frame"
	closeReasonShutdown = "Server shutting down"
)

func toFrame(t domain.MessageType) int {
	if t == domain.MessageBinary {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

func fromFrame(frameType int, data []byte) (domain.Message, bool) {
	switch frameType {
	case websocket.TextMessage:
		return domain.Message{Type: domain.MessageText, Payload: data}, true
	case websocket.BinaryMessage:
		return domain.Message{Type: domain.MessageBinary, Payload: data}, true
	default:
		return domain.Message{}, false
	}
}
