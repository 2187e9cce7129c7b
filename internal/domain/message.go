package domain

// MessageType tags a payload with the frame kind it travels in.
type MessageType int

const (
	MessageText MessageType = iota + 1
	MessageBinary
	MessageClose
)

func (t MessageType) String() string {
	switch t {
	case MessageText:
		return "text"
	case MessageBinary:
		return "binary"
	case MessageClose:
		return "close"
	default:
		return "unknown"
	}
}

// Message is an opaque payload. The hub never interprets Payload.
type Message struct {
	Type    MessageType
	Payload []byte
}

// TextMessage builds a text message from s.
func TextMessage(s string) Message {
	return Message{Type: MessageText, Payload: []byte(s)}
}

// BinaryMessage builds a binary message. b is not copied.
func BinaryMessage(b []byte) Message {
	return Message{Type: MessageBinary, Payload: b}
}

// IsData reports whether m carries application data (text or binary).
func (m Message) IsData() bool {
	return m.Type == MessageText || m.Type == MessageBinary
}
