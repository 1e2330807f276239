package protocol

// CloseCode is a websocket close status in the application range. Each
// reason has its own code so clients can react differently (for example,
// never auto-reconnect after CloseDuplicateSession).
type CloseCode int

const (
	CloseProtocolViolation CloseCode = 4001 // First message was not auth
	CloseInvalidToken      CloseCode = 4002 // Unknown or expired credential
	CloseDuplicateSession  CloseCode = 4003 // Identity already connected
	CloseIdleTimeout       CloseCode = 4004
	CloseReplaced          CloseCode = 4005 // A newer connection took over
	CloseShutdown          CloseCode = 1001
)

// Reason returns the text sent with the close frame.
func (c CloseCode) Reason() string {
	switch c {
	case CloseProtocolViolation:
		return "protocol_violation"
	case CloseInvalidToken:
		return "invalid_token"
	case CloseDuplicateSession:
		return "already_connected"
	case CloseIdleTimeout:
		return "idle_timeout"
	case CloseReplaced:
		return "replaced"
	case CloseShutdown:
		return "server_shutdown"
	default:
		return "closed"
	}
}
