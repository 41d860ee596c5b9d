package session_test

import (
	"sync"
	"testing"
	"time"

	"github.com/sessamekesh/scenelink/pkg/handlers"
	"github.com/sessamekesh/scenelink/pkg/message/broadcast"
	"github.com/sessamekesh/scenelink/pkg/session"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testAuthenticator accepts or rejects synchronously when decide is set, and otherwise
// leaves connections Authenticating until the test fires a result.
type testAuthenticator struct {
	session.AuthenticationEvent

	decide    bool
	accept    bool
	challenge bool

	mu          sync.Mutex
	manager     *session.Manager
	initCount   int
	connections []*session.Connection
}

func (a *testAuthenticator) InitializeOnce(m *session.Manager) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.manager = m
	a.initCount++
}

func (a *testAuthenticator) OnRemoteConnection(conn *session.Connection) {
	a.mu.Lock()
	a.connections = append(a.connections, conn)
	m := a.manager
	a.mu.Unlock()

	if a.challenge {
		m.SendTo(conn.Id, &broadcast.ChallengeBroadcast{Nonce: []byte("nonce")}, false)
	}
	if a.decide {
		a.Fire(conn, a.accept)
	}
}

func (a *testAuthenticator) connection(t *testing.T, i int) *session.Connection {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	if i >= len(a.connections) {
		t.Fatalf("authenticator saw %d connections, want at least %d", len(a.connections), i+1)
	}
	return a.connections[i]
}

type testTransport struct {
	t          *testing.T
	handler    *handlers.TransportHandler
	serializer broadcast.BroadcastSerializer
}

func newTestTransport(t *testing.T, m *session.Manager) *testTransport {
	t.Helper()
	h, err := m.CreateTransportHandler("test")
	if err != nil {
		t.Fatalf("CreateTransportHandler() error = %v", err)
	}
	return &testTransport{t: t, handler: h, serializer: m.Serializer()}
}

func (tt *testTransport) connect() uint32 {
	id := tt.handler.GetNextConnectionId()
	tt.handler.IncomingEvents <- handlers.TransportEvent{
		ConnectionId:  id,
		TransportName: tt.handler.Name,
		EventType:     handlers.TransportEventType_Connect,
	}
	return id
}

func (tt *testTransport) send(connectionId uint32, b broadcast.Broadcast) {
	tt.t.Helper()
	data, err := tt.serializer.SerializeBroadcast(b)
	if err != nil {
		tt.t.Fatalf("SerializeBroadcast() error = %v", err)
	}
	tt.handler.IncomingEvents <- handlers.TransportEvent{
		ConnectionId:  connectionId,
		TransportName: tt.handler.Name,
		EventType:     handlers.TransportEventType_Data,
		Data:          data,
	}
}

func (tt *testTransport) disconnect(connectionId uint32) {
	tt.handler.IncomingEvents <- handlers.TransportEvent{
		ConnectionId:  connectionId,
		TransportName: tt.handler.Name,
		EventType:     handlers.TransportEventType_Disconnect,
		Reason:        "peer left",
	}
}

// drain returns everything the manager has written so far.
func (tt *testTransport) drain() []handlers.OutgoingMessage {
	var out []handlers.OutgoingMessage
	for {
		select {
		case msg := <-tt.handler.OutgoingMessages:
			out = append(out, msg)
		default:
			return out
		}
	}
}

// types decodes the broadcast type of every data frame and marks closes with NONE.
func (tt *testTransport) types(msgs []handlers.OutgoingMessage) []broadcast.BroadcastType {
	tt.t.Helper()
	var out []broadcast.BroadcastType
	for _, msg := range msgs {
		if msg.Close {
			out = append(out, broadcast.BroadcastType_NONE)
			continue
		}
		env, err := tt.serializer.Parse(msg.Data)
		if err != nil {
			tt.t.Fatalf("Parse() error = %v", err)
		}
		out = append(out, env.Type)
	}
	return out
}

func newTestManager(t *testing.T, auth session.Authenticator, mutate func(*session.ManagerConfig)) *session.Manager {
	t.Helper()
	config := session.ManagerConfig{
		Logger:        zap.NewNop(),
		Authenticator: auth,
	}
	if mutate != nil {
		mutate(&config)
	}
	m, err := session.CreateManager(config)
	if err != nil {
		t.Fatalf("CreateManager() error = %v", err)
	}
	return m
}

type stateRecorder struct {
	mu     sync.Mutex
	states map[uint32][]session.ConnectionState
}

func recordStates(m *session.Manager) *stateRecorder {
	r := &stateRecorder{states: make(map[uint32][]session.ConnectionState)}
	m.OnRemoteConnectionState(func(conn *session.Connection, state session.ConnectionState) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.states[conn.Id] = append(r.states[conn.Id], state)
	})
	return r
}

func (r *stateRecorder) get(connectionId uint32) []session.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]session.ConnectionState, len(r.states[connectionId]))
	copy(out, r.states[connectionId])
	return out
}
