package transport

import (
	"context"
	"sync"

	"github.com/sessamekesh/scenelink/pkg/handlers"
	"go.uber.org/zap"
)

type MemoryTransportParams struct {
	// Frames buffered per connection on the client side.
	IncomingQueueLength        uint32
	OutgoingMessageQueueLength uint32

	Logger *zap.Logger
}

// MemoryTransport connects in-process clients to a session manager without sockets.
type MemoryTransport struct {
	router *connectionRouter
	params MemoryTransportParams

	done      chan struct{}
	closeOnce sync.Once

	log *zap.Logger
}

func CreateMemoryTransport(transport *handlers.TransportHandler, params MemoryTransportParams) *MemoryTransport {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	if params.IncomingQueueLength == 0 {
		params.IncomingQueueLength = 64
	}

	return &MemoryTransport{
		router: createConnectionRouter(transport, ConnectionRouterParams{
			OutgoingMessageQueueLength: params.OutgoingMessageQueueLength,
		}, logger),
		params: params,
		done:   make(chan struct{}),
		log:    logger.With(zap.String("handler", "MemoryTransport")),
	}
}

// Start routes frames until ctx is cancelled, then closes every open connection.
func (t *MemoryTransport) Start(ctx context.Context) error {
	err := t.router.Start(ctx)
	t.router.closeAll("transport shutdown")
	t.closeOnce.Do(func() { close(t.done) })
	return err
}

// Dial opens a new client connection. The session manager sees it on its next tick.
func (t *MemoryTransport) Dial() *MemoryConn {
	channels := t.router.OpenConnection()

	c := &MemoryConn{
		connectionId: channels.ConnectionId,
		router:       t.router,
		incoming:     make(chan []byte, t.params.IncomingQueueLength),
		closed:       make(chan struct{}),
	}

	go c.pump(channels, t.done)

	t.log.Debug("Opened in-memory connection", zap.Uint32("connectionId", c.connectionId))
	return c
}

// MemoryConn is the client end of an in-memory connection.
type MemoryConn struct {
	connectionId uint32
	router       *connectionRouter

	incoming chan []byte

	closeOnce sync.Once
	closed    chan struct{}

	mut_reason  sync.Mutex
	closeReason string
}

func (c *MemoryConn) ConnectionId() uint32 {
	return c.connectionId
}

func (c *MemoryConn) pump(channels *SingleConnectionChannels, transportDone <-chan struct{}) {
	defer close(c.incoming)

	for {
		select {
		case <-c.closed:
			return
		case <-transportDone:
			c.setReason("transport shutdown")
			return
		case <-channels.Done:
			c.dropped(channels.DropReason())
			return
		case msg := <-channels.OutgoingMessages:
			if msg.Close {
				c.setReason(msg.CloseReason)
				c.closeOnce.Do(func() { close(c.closed) })
				return
			}
			select {
			case c.incoming <- msg.Data:
			case <-c.closed:
				return
			case <-channels.Done:
				c.dropped(channels.DropReason())
				return
			}
		}
	}
}

// dropped closes the client end after the router gave up on it.
func (c *MemoryConn) dropped(reason string) {
	c.setReason(reason)
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *MemoryConn) setReason(reason string) {
	c.mut_reason.Lock()
	defer c.mut_reason.Unlock()
	if c.closeReason == "" {
		c.closeReason = reason
	}
}

func (c *MemoryConn) reason() string {
	c.mut_reason.Lock()
	defer c.mut_reason.Unlock()
	return c.closeReason
}

// ReadMessage blocks for the next frame. Frames sent before a close are still returned.
func (c *MemoryConn) ReadMessage() ([]byte, error) {
	data, ok := <-c.incoming
	if !ok {
		return nil, &ConnectionClosedError{Reason: c.reason()}
	}
	return data, nil
}

func (c *MemoryConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return &ConnectionClosedError{Reason: c.reason()}
	default:
	}

	c.router.Receive(c.connectionId, data)
	return nil
}

func (c *MemoryConn) Close(reason string) error {
	c.closeOnce.Do(func() {
		c.setReason(reason)
		close(c.closed)
		c.router.Close(c.connectionId, reason)
	})
	return nil
}
