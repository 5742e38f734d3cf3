package enclave

// State is a session's position in the connection lifecycle.
type State int

const (
	// StateDisconnected is the initial state, before the transport dial.
	StateDisconnected State = iota

	// StateAuthenticating means the websocket is established and the
	// credential has been presented.
	StateAuthenticating

	// StateAttesting means the handshake nonce has been sent and the
	// attestation document is being awaited or verified.
	StateAttesting

	// StateChannelReady means attestation verified and the encrypted channel
	// is derived; Invoke may be called.
	StateChannelReady

	// StateInvoking means a request is in flight on the channel.
	StateInvoking

	// StateClosed is terminal. Key material has been discarded and the
	// session cannot be reused.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateAttesting:
		return "ATTESTING"
	case StateChannelReady:
		return "CHANNEL_READY"
	case StateInvoking:
		return "INVOKING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
