package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sessamekesh/scenelink/internal"
	"github.com/sessamekesh/scenelink/pkg/errors"
	"github.com/sessamekesh/scenelink/pkg/handlers"
	"github.com/sessamekesh/scenelink/pkg/message/broadcast"
	"go.uber.org/zap"
)

type authenticationResult struct {
	connectionId  uint32
	authenticated bool
}

// Manager owns the connection registry and drives message dispatch, one tick at a time.
type Manager struct {
	config ManagerConfig
	log    *zap.Logger

	startTime time.Time

	serializer    broadcast.BroadcastSerializer
	store         *internal.ConnectionStore
	authenticator Authenticator
	initOnce      sync.Once

	incomingEventSendChannel chan<- handlers.TransportEvent
	incomingEventRecvChannel <-chan handlers.TransportEvent

	mut_transports sync.RWMutex
	transports     map[string]chan<- handlers.OutgoingMessage

	mut_connections sync.RWMutex
	connections     map[uint32]*Connection

	mut_broadcastHandlers sync.RWMutex
	broadcastHandlers     map[broadcast.BroadcastType][]broadcastHandler

	mut_stateHandlers sync.RWMutex
	stateHandlers     []ConnectionStateFunc

	mut_pendingResults sync.Mutex
	pendingResults     []authenticationResult

	mut_outgoing sync.Mutex
	outgoing     []outgoingBroadcast

	mut_tick sync.Mutex
	tick     uint64

	// Set when shutdown begins; transports may no longer be draining.
	stopping atomic.Bool
}

func CreateManager(config ManagerConfig) (*Manager, error) {
	if config.Authenticator == nil {
		return nil, &errors.MissingFieldError{
			MessageName: "ManagerConfig",
			FieldName:   "Authenticator",
		}
	}
	config = config.withDefaults()

	incomingEvents := make(chan handlers.TransportEvent, config.IncomingEventBufferLength)

	m := &Manager{
		config:    config,
		log:       config.Logger.With(zap.String("handler", "SessionManager")),
		startTime: config.Now(),

		serializer: broadcast.BroadcastSerializer{
			MagicNumber: config.MagicNumber,
			Version:     config.Version,
		},
		store:         internal.CreateConnectionStore(config.MaxConnections),
		authenticator: config.Authenticator,

		incomingEventSendChannel: incomingEvents,
		incomingEventRecvChannel: incomingEvents,

		transports:        make(map[string]chan<- handlers.OutgoingMessage),
		connections:       make(map[uint32]*Connection),
		broadcastHandlers: make(map[broadcast.BroadcastType][]broadcastHandler),
	}

	m.authenticator.OnAuthenticationResult(m.onAuthenticationResult)

	return m, nil
}

func (m *Manager) getNowTime() int64 {
	return m.config.Now().Sub(m.startTime).Microseconds()
}

func (m *Manager) Logger() *zap.Logger {
	return m.config.Logger
}

func (m *Manager) Serializer() broadcast.BroadcastSerializer {
	return m.serializer
}

func (m *Manager) Authenticator() Authenticator {
	return m.authenticator
}

// CreateTransportHandler registers a transport under a unique name.
func (m *Manager) CreateTransportHandler(name string) (*handlers.TransportHandler, error) {
	m.mut_transports.Lock()
	defer m.mut_transports.Unlock()

	if _, alreadyHasName := m.transports[name]; alreadyHasName {
		return nil, &errors.NameCollision{
			CollisionContext: "CreateTransportHandler",
			Name:             name,
		}
	}

	outgoingMessages := make(chan handlers.OutgoingMessage, m.config.OutgoingMessageBufferLength)
	m.transports[name] = outgoingMessages

	return &handlers.TransportHandler{
		Name:                name,
		GetNextConnectionId: m.store.GetNewConnectionId,
		GetNowTimestamp:     m.getNowTime,
		IncomingEvents:      m.incomingEventSendChannel,
		OutgoingMessages:    outgoingMessages,
	}, nil
}

// OnRemoteConnectionState subscribes to every connection state change.
func (m *Manager) OnRemoteConnectionState(fn ConnectionStateFunc) {
	m.mut_stateHandlers.Lock()
	defer m.mut_stateHandlers.Unlock()
	m.stateHandlers = append(m.stateHandlers, fn)
}

func (m *Manager) GetConnection(connectionId uint32) (*Connection, bool) {
	m.mut_connections.RLock()
	defer m.mut_connections.RUnlock()
	conn, has := m.connections[connectionId]
	return conn, has
}

func (m *Manager) ConnectionCount() int {
	return m.store.Count()
}

// AuthenticatedConnectionIds lists the connections that currently receive fan-out.
func (m *Manager) AuthenticatedConnectionIds() []uint32 {
	return m.store.GetConnectionIdsInState(ConnectionState_Authenticated)
}

// Start ticks at the configured rate until ctx is cancelled, then closes every connection.
func (m *Manager) Start(ctx context.Context) error {
	m.initialize()

	ticker := time.NewTicker(time.Second / time.Duration(m.config.TickRate))
	defer ticker.Stop()

	m.log.Info("Starting session manager tick loop", zap.Int("tickRate", m.config.TickRate))
	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return nil
		case <-ticker.C:
			m.Tick()
		}
	}
}

func (m *Manager) initialize() {
	m.initOnce.Do(func() {
		m.authenticator.InitializeOnce(m)
	})
}

// Tick runs one dispatch pass: transport events, authentication results, timeouts and
// then fan-out of everything queued so far.
func (m *Manager) Tick() {
	m.initialize()

	m.mut_tick.Lock()
	defer m.mut_tick.Unlock()
	m.tick++

	m.drainTransportEvents()
	m.applyAuthenticationResults()
	m.sweepTimeouts()
	m.flushOutgoing()
}

func (m *Manager) drainTransportEvents() {
	// Events that arrive while this tick runs wait for the next one.
	pending := len(m.incomingEventRecvChannel)
	for i := 0; i < pending; i++ {
		ev := <-m.incomingEventRecvChannel
		switch ev.EventType {
		case handlers.TransportEventType_Connect:
			m.handleConnect(ev)
		case handlers.TransportEventType_Data:
			m.handleData(ev)
		case handlers.TransportEventType_Disconnect:
			m.handleDisconnect(ev)
		default:
			m.log.Warn("Unknown transport event type", zap.Uint8("eventType", uint8(ev.EventType)))
		}

		// Results fired synchronously by the authenticator take effect before the next event.
		m.applyAuthenticationResults()
	}
}

func (m *Manager) handleConnect(ev handlers.TransportEvent) {
	log := m.log.With(zap.Uint32("connectionId", ev.ConnectionId), zap.String("transport", ev.TransportName))

	if err := m.store.CreateConnection(ev.ConnectionId, ev.TransportName, m.getNowTime()); err != nil {
		log.Warn("Refusing connection", zap.Error(err))
		m.writeToTransport(ev.TransportName, handlers.OutgoingMessage{
			ConnectionId:   ev.ConnectionId,
			Close:          true,
			CloseReason:    "server full",
			RouteTimestamp: m.getNowTime(),
		})
		return
	}

	conn := &Connection{
		Id:            ev.ConnectionId,
		TransportName: ev.TransportName,
		store:         m.store,
	}

	m.mut_connections.Lock()
	m.connections[conn.Id] = conn
	m.mut_connections.Unlock()

	log.Info("New remote connection")
	m.fireState(conn, ConnectionState_Connecting)

	if !m.transition(conn, ConnectionState_Authenticating) {
		return
	}
	m.authenticator.OnRemoteConnection(conn)
}

func (m *Manager) handleData(ev handlers.TransportEvent) {
	conn, has := m.GetConnection(ev.ConnectionId)
	if !has {
		m.log.Debug("Dropping data from unknown connection", zap.Uint32("connectionId", ev.ConnectionId))
		return
	}

	state := conn.State()
	if state != ConnectionState_Authenticating && state != ConnectionState_Authenticated {
		return
	}

	env, err := m.serializer.Parse(ev.Data)
	if err != nil {
		m.log.Debug("Dropping malformed frame", zap.Uint32("connectionId", conn.Id), zap.Error(err))
		return
	}

	m.store.SetClientRecvTimestamp(conn.Id, m.getNowTime())
	m.dispatch(conn, state, env)
}

func (m *Manager) handleDisconnect(ev handlers.TransportEvent) {
	conn, has := m.GetConnection(ev.ConnectionId)
	if !has {
		return
	}

	m.log.Info("Remote connection closed", zap.Uint32("connectionId", conn.Id), zap.String("reason", ev.Reason))
	m.transition(conn, ConnectionState_Disconnected)
}

func (m *Manager) onAuthenticationResult(conn *Connection, authenticated bool) {
	if conn == nil {
		return
	}

	m.mut_pendingResults.Lock()
	defer m.mut_pendingResults.Unlock()
	m.pendingResults = append(m.pendingResults, authenticationResult{
		connectionId:  conn.Id,
		authenticated: authenticated,
	})
}

func (m *Manager) applyAuthenticationResults() {
	m.mut_pendingResults.Lock()
	results := m.pendingResults
	m.pendingResults = nil
	m.mut_pendingResults.Unlock()

	for _, result := range results {
		log := m.log.With(zap.Uint32("connectionId", result.connectionId))

		conn, has := m.GetConnection(result.connectionId)
		if !has || conn.State() != ConnectionState_Authenticating {
			log.Debug("Ignoring authentication result for connection that is not authenticating", zap.Bool("authenticated", result.authenticated))
			continue
		}

		if result.authenticated {
			log.Info("Connection authenticated")
			m.transition(conn, ConnectionState_Authenticated)
			continue
		}

		log.Warn("Connection failed authentication")
		m.reject(conn, "authentication failed")
	}
}

func (m *Manager) reject(conn *Connection, reason string) {
	if !m.transition(conn, ConnectionState_Rejected) {
		return
	}
	m.enqueue(outgoingBroadcast{
		targets:     []uint32{conn.Id},
		close:       true,
		closeReason: reason,
	})
}

func (m *Manager) sweepTimeouts() {
	now := m.getNowTime()

	if m.config.AuthenticationTimeout > 0 {
		deadline := now - m.config.AuthenticationTimeout.Microseconds()
		for _, id := range m.store.GetAuthTimeoutConnectionList(deadline) {
			conn, has := m.GetConnection(id)
			if !has {
				continue
			}
			m.log.Warn("Authentication timed out", zap.Uint32("connectionId", id))
			m.reject(conn, "authentication timed out")
		}
	}

	if m.config.IdleTimeout > 0 {
		deadline := now - m.config.IdleTimeout.Microseconds()
		for _, id := range m.store.GetTimeoutConnectionList(deadline) {
			m.log.Info("Disconnecting idle connection", zap.Uint32("connectionId", id))
			m.Disconnect(id, "idle timeout")
		}
	}
}

// Disconnect closes a connection once everything already queued for it has been sent.
// Connections that are unknown or already closing are left alone.
func (m *Manager) Disconnect(connectionId uint32, reason string) {
	conn, has := m.GetConnection(connectionId)
	if !has || !conn.IsActive() {
		m.log.Debug("Ignoring disconnect of inactive connection", zap.Uint32("connectionId", connectionId), zap.String("reason", reason))
		return
	}

	m.enqueue(outgoingBroadcast{
		targets:     []uint32{connectionId},
		close:       true,
		closeReason: reason,
	})
}

func (m *Manager) transition(conn *Connection, to ConnectionState) bool {
	from, err := m.store.Transition(conn.Id, to, m.getNowTime())
	if err != nil {
		m.log.Debug("Skipping connection state change", zap.Uint32("connectionId", conn.Id), zap.Error(err))
		return false
	}

	m.log.Debug("Connection state change",
		zap.Uint32("connectionId", conn.Id),
		zap.Stringer("from", from),
		zap.Stringer("to", to))

	m.fireState(conn, to)

	if to == ConnectionState_Disconnected {
		m.store.RemoveConnection(conn.Id)
		m.mut_connections.Lock()
		delete(m.connections, conn.Id)
		m.mut_connections.Unlock()
	}
	return true
}

func (m *Manager) fireState(conn *Connection, state ConnectionState) {
	m.mut_stateHandlers.RLock()
	stateHandlers := make([]ConnectionStateFunc, len(m.stateHandlers))
	copy(stateHandlers, m.stateHandlers)
	m.mut_stateHandlers.RUnlock()

	for _, fn := range stateHandlers {
		fn(conn, state)
	}
}

func (m *Manager) writeToTransport(transportName string, msg handlers.OutgoingMessage) {
	m.mut_transports.RLock()
	outgoingMessages, has := m.transports[transportName]
	m.mut_transports.RUnlock()

	if !has {
		m.log.Error("Missing transport for connection", zap.String("transport", transportName), zap.Uint32("connectionId", msg.ConnectionId))
		return
	}

	if !m.stopping.Load() {
		outgoingMessages <- msg
		return
	}
	select {
	case outgoingMessages <- msg:
	default:
		m.log.Warn("Transport queue full during shutdown, dropping message", zap.String("transport", transportName), zap.Uint32("connectionId", msg.ConnectionId))
	}
}

func (m *Manager) shutdown() {
	m.log.Info("Shutting down session manager, closing all connections")
	m.stopping.Store(true)

	m.mut_connections.RLock()
	ids := make([]uint32, 0, len(m.connections))
	for id := range m.connections {
		ids = append(ids, id)
	}
	m.mut_connections.RUnlock()

	for _, id := range ids {
		m.Disconnect(id, "server shutdown")
	}

	m.mut_tick.Lock()
	defer m.mut_tick.Unlock()
	m.flushOutgoing()
}
