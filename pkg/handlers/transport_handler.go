package handlers

// TransportHandler is the channel bundle a transport uses to talk to the session manager.
// Incoming events from every transport share one channel so that the manager observes a
// connection's connect, data and disconnect events in the order they happened.
type TransportHandler struct {
	Name                string
	GetNextConnectionId func() uint32
	GetNowTimestamp     func() int64

	IncomingEvents   chan<- TransportEvent
	OutgoingMessages <-chan OutgoingMessage
}
