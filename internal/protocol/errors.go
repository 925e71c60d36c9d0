package protocol

import "errors"

// Connection-scoped error taxonomy. Every layer wraps one of these so the
// server loop can classify a failure with errors.Is.
var (
	ErrMalformedHeader  = errors.New("protocol: malformed header")
	ErrMalformedPayload = errors.New("protocol: malformed payload")
	ErrPeerClosed       = errors.New("protocol: peer closed")
	ErrWouldBlock       = errors.New("protocol: operation would block")
	ErrTransport        = errors.New("protocol: transport error")
	ErrDeregister       = errors.New("protocol: deregister failed")
)

// IsFatal reports whether err ends the connection it was raised on.
func IsFatal(err error) bool {
	if err == nil || errors.Is(err, ErrWouldBlock) {
		return false
	}
	return true
}

// Reason maps an error to a short label for logs and metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return "closed"
	case errors.Is(err, ErrPeerClosed):
		return "peer_closed"
	case errors.Is(err, ErrMalformedHeader):
		return "malformed_header"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed_payload"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "internal"
	}
}
