package transport

import "fmt"

// ConnectionClosedError is returned by Conn reads and writes once the connection is closed.
// Reason carries the close reason sent by the peer, if any.
type ConnectionClosedError struct {
	Reason string
}

func (e *ConnectionClosedError) Error() string {
	if e.Reason == "" {
		return "connection closed"
	}
	return fmt.Sprintf("connection closed: %s", e.Reason)
}
