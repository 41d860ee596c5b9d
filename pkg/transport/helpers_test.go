package transport_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/sessamekesh/scenelink/pkg/handlers"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testHandler struct {
	handler  *handlers.TransportHandler
	events   chan handlers.TransportEvent
	outgoing chan handlers.OutgoingMessage
}

func newTestHandler(name string) *testHandler {
	var nextId atomic.Uint32
	events := make(chan handlers.TransportEvent, 64)
	outgoing := make(chan handlers.OutgoingMessage, 64)

	return &testHandler{
		handler: &handlers.TransportHandler{
			Name:                name,
			GetNextConnectionId: func() uint32 { return nextId.Add(1) },
			GetNowTimestamp:     func() int64 { return time.Now().UnixMicro() },
			IncomingEvents:      events,
			OutgoingMessages:    outgoing,
		},
		events:   events,
		outgoing: outgoing,
	}
}

func (h *testHandler) nextEvent(t *testing.T) handlers.TransportEvent {
	t.Helper()
	select {
	case ev := <-h.events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for transport event")
		return handlers.TransportEvent{}
	}
}

func (h *testHandler) expectEvent(t *testing.T, connectionId uint32, eventType handlers.TransportEventType) handlers.TransportEvent {
	t.Helper()
	ev := h.nextEvent(t)
	if ev.ConnectionId != connectionId || ev.EventType != eventType {
		t.Fatalf("event = {id: %d, type: %d}, want {id: %d, type: %d}", ev.ConnectionId, ev.EventType, connectionId, eventType)
	}
	if ev.TransportName != h.handler.Name {
		t.Errorf("TransportName = %q, want %q", ev.TransportName, h.handler.Name)
	}
	return ev
}
