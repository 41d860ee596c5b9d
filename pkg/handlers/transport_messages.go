package handlers

type TransportEventType uint8

const (
	TransportEventType_Connect TransportEventType = iota
	TransportEventType_Data
	TransportEventType_Disconnect
)

// TransportEvent is something that happened on a transport-level connection.
type TransportEvent struct {
	ConnectionId  uint32
	TransportName string
	EventType     TransportEventType
	Data          []byte

	// Disconnect only
	Reason string

	// Telemetry
	RecvTimestamp int64
}

// OutgoingMessage is either a frame to write or, with Close set, a request to close the
// connection once every frame queued before it has been written.
type OutgoingMessage struct {
	ConnectionId uint32
	Data         []byte

	Close       bool
	CloseReason string

	// Telemetry
	RouteTimestamp int64
}
