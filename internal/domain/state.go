package domain

// ConnState is a connection's position in the close handshake.
//
//	Open -> CloseSent -> Closed       (local close, peer acknowledged)
//	Open -> CloseReceived -> Closed   (peer close, we acknowledged)
//	any non-terminal -> Aborted       (cancellation, timeout, I/O failure)
type ConnState int32

const (
	StateOpen ConnState = iota
	StateCloseSent
	StateCloseReceived
	StateClosed
	StateAborted
)

func (s ConnState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateCloseSent:
		return "close_sent"
	case StateCloseReceived:
		return "close_received"
	case StateClosed:
		return "closed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s ConnState) Terminal() bool {
	return s == StateClosed || s == StateAborted
}
