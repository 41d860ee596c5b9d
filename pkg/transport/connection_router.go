package transport

import (
	"context"
	"sync"

	"github.com/sessamekesh/scenelink/pkg/handlers"
	"go.uber.org/zap"
)

type ConnectionRouterParams struct {
	OutgoingMessageQueueLength uint32
}

// Reported for a socket whose peer stopped reading fast enough.
const reasonOutgoingQueueFull = "outgoing queue full"

// SingleConnectionChannels is what a transport's per-socket goroutines use. Outgoing carries
// frames and, last, a close marker; the socket writer must stop after the marker.
type SingleConnectionChannels struct {
	ConnectionId     uint32
	OutgoingMessages <-chan handlers.OutgoingMessage
	// Closed when the router drops the socket. The transport must close it.
	Done <-chan struct{}

	route *connectionRoute
}

// DropReason says why Done was closed. Only valid once Done is closed.
func (c *SingleConnectionChannels) DropReason() string {
	return c.route.dropReason
}

type connectionRoute struct {
	outgoingMessages chan<- handlers.OutgoingMessage
	// Closed by whoever removes the route, so routing never blocks on a dead writer.
	done       chan struct{}
	dropReason string
}

func (route *connectionRoute) drop(reason string) {
	route.dropReason = reason
	close(route.done)
}

// connectionRouter sits between one transport's sockets and the session manager. It emits
// connect, data and disconnect events and fans manager output out to per-socket queues.
type connectionRouter struct {
	transport *handlers.TransportHandler
	params    ConnectionRouterParams

	mut_connections sync.RWMutex
	connections     map[uint32]*connectionRoute

	stopOnce sync.Once
	stopped  chan struct{}

	log *zap.Logger
}

func createConnectionRouter(transport *handlers.TransportHandler, params ConnectionRouterParams, logger *zap.Logger) *connectionRouter {
	log := logger
	if log == nil {
		log = zap.Must(zap.NewDevelopment())
	}

	if params.OutgoingMessageQueueLength == 0 {
		params.OutgoingMessageQueueLength = 64
	}

	return &connectionRouter{
		transport:   transport,
		params:      params,
		connections: make(map[uint32]*connectionRoute),
		stopped:     make(chan struct{}),
		log:         log.With(zap.String("handlerBase", "ConnectionRouter"), zap.String("transport", transport.Name)),
	}
}

// OpenConnection registers a socket and announces it to the session manager.
func (r *connectionRouter) OpenConnection() *SingleConnectionChannels {
	connectionId := r.transport.GetNextConnectionId()
	outgoingMessages := make(chan handlers.OutgoingMessage, r.params.OutgoingMessageQueueLength)

	route := &connectionRoute{
		outgoingMessages: outgoingMessages,
		done:             make(chan struct{}),
	}

	r.mut_connections.Lock()
	r.connections[connectionId] = route
	r.mut_connections.Unlock()

	r.log.Debug("Added connection to router", zap.Uint32("connectionId", connectionId))

	r.transport.IncomingEvents <- handlers.TransportEvent{
		ConnectionId:  connectionId,
		TransportName: r.transport.Name,
		EventType:     handlers.TransportEventType_Connect,
		RecvTimestamp: r.transport.GetNowTimestamp(),
	}

	return &SingleConnectionChannels{
		ConnectionId:     connectionId,
		OutgoingMessages: outgoingMessages,
		Done:             route.done,
		route:            route,
	}
}

func (r *connectionRouter) Receive(connectionId uint32, data []byte) {
	r.transport.IncomingEvents <- handlers.TransportEvent{
		ConnectionId:  connectionId,
		TransportName: r.transport.Name,
		EventType:     handlers.TransportEventType_Data,
		Data:          data,
		RecvTimestamp: r.transport.GetNowTimestamp(),
	}
}

// Close reports a socket that went away on its own. Sockets the manager closed were
// already removed and produce no event.
func (r *connectionRouter) Close(connectionId uint32, reason string) {
	r.mut_connections.Lock()
	route, has := r.connections[connectionId]
	delete(r.connections, connectionId)
	r.mut_connections.Unlock()

	if !has {
		return
	}
	route.drop(reason)

	r.log.Debug("Removed connection from router", zap.Uint32("connectionId", connectionId), zap.String("reason", reason))
	r.transport.IncomingEvents <- handlers.TransportEvent{
		ConnectionId:  connectionId,
		TransportName: r.transport.Name,
		EventType:     handlers.TransportEventType_Disconnect,
		Reason:        reason,
		RecvTimestamp: r.transport.GetNowTimestamp(),
	}
}

// route hands msg to its socket without waiting. A socket whose queue is full is dropped
// and reported as disconnected, so one slow peer never stalls the others.
func (r *connectionRouter) route(msg handlers.OutgoingMessage) {
	r.mut_connections.Lock()
	route, has := r.connections[msg.ConnectionId]
	if has && msg.Close {
		delete(r.connections, msg.ConnectionId)
	}
	r.mut_connections.Unlock()

	if !has {
		r.log.Debug("Cannot route message to missing connection", zap.Uint32("connectionId", msg.ConnectionId), zap.Bool("close", msg.Close))
		return
	}

	select {
	case route.outgoingMessages <- msg:
		return
	case <-route.done:
		return
	default:
	}

	r.log.Warn("Outgoing queue full, dropping connection", zap.Uint32("connectionId", msg.ConnectionId), zap.Bool("close", msg.Close))
	if msg.Close {
		// Already removed above and the manager already considers it closed.
		route.drop(msg.CloseReason)
		return
	}

	// Close may have removed it in the meantime.
	r.mut_connections.Lock()
	current, stillRouted := r.connections[msg.ConnectionId]
	stillRouted = stillRouted && current == route
	if stillRouted {
		delete(r.connections, msg.ConnectionId)
	}
	r.mut_connections.Unlock()

	if !stillRouted {
		return
	}
	route.drop(reasonOutgoingQueueFull)
	r.reportDropped(msg.ConnectionId, reasonOutgoingQueueFull)
}

// reportDropped emits a disconnect without blocking the routing loop, which the manager may
// be waiting on while its own event queue is full.
func (r *connectionRouter) reportDropped(connectionId uint32, reason string) {
	ev := handlers.TransportEvent{
		ConnectionId:  connectionId,
		TransportName: r.transport.Name,
		EventType:     handlers.TransportEventType_Disconnect,
		Reason:        reason,
		RecvTimestamp: r.transport.GetNowTimestamp(),
	}

	select {
	case r.transport.IncomingEvents <- ev:
		return
	default:
	}

	go func() {
		select {
		case r.transport.IncomingEvents <- ev:
		case <-r.stopped:
		}
	}()
}

// closeAll hands every open socket a close marker, used when the transport stops. Sockets
// with a full queue are dropped instead.
func (r *connectionRouter) closeAll(reason string) {
	r.mut_connections.Lock()
	routes := r.connections
	r.connections = make(map[uint32]*connectionRoute)
	r.mut_connections.Unlock()

	for connectionId, route := range routes {
		select {
		case route.outgoingMessages <- handlers.OutgoingMessage{ConnectionId: connectionId, Close: true, CloseReason: reason}:
		default:
			route.drop(reason)
		}
	}
}

// Start routes manager output until ctx is cancelled.
func (r *connectionRouter) Start(ctx context.Context) error {
	r.log.Info("Starting connection router")
	defer r.log.Info("Shutting down connection router")
	defer r.stopOnce.Do(func() { close(r.stopped) })

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-r.transport.OutgoingMessages:
			r.route(msg)
		}
	}
}
