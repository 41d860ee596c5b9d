package transport_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sessamekesh/scenelink/pkg/handlers"
	"github.com/sessamekesh/scenelink/pkg/transport"
	"go.uber.org/zap"
)

func startMemoryTransport(t *testing.T, h *testHandler) (*transport.MemoryTransport, func()) {
	t.Helper()
	mt := transport.CreateMemoryTransport(h.handler, transport.MemoryTransportParams{Logger: zap.NewNop()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		mt.Start(ctx)
	}()

	return mt, func() {
		cancel()
		<-done
	}
}

func TestMemoryTransport_DeliversInOrderThenCloses(t *testing.T) {
	h := newTestHandler("memory")
	mt, stop := startMemoryTransport(t, h)
	defer stop()

	conn := mt.Dial()
	h.expectEvent(t, conn.ConnectionId(), handlers.TransportEventType_Connect)

	if err := conn.WriteMessage([]byte("hello")); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	ev := h.expectEvent(t, conn.ConnectionId(), handlers.TransportEventType_Data)
	if diff := cmp.Diff([]byte("hello"), ev.Data); diff != "" {
		t.Errorf("Data mismatch (-want +got):\n%s", diff)
	}

	h.outgoing <- handlers.OutgoingMessage{ConnectionId: conn.ConnectionId(), Data: []byte("load")}
	h.outgoing <- handlers.OutgoingMessage{ConnectionId: conn.ConnectionId(), Data: []byte("unload")}
	h.outgoing <- handlers.OutgoingMessage{ConnectionId: conn.ConnectionId(), Close: true, CloseReason: "authentication failed"}
	h.outgoing <- handlers.OutgoingMessage{ConnectionId: conn.ConnectionId(), Data: []byte("late")}

	var got []string
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			var closed *transport.ConnectionClosedError
			if !errors.As(err, &closed) {
				t.Fatalf("ReadMessage() error = %v, want ConnectionClosedError", err)
			}
			if closed.Reason != "authentication failed" {
				t.Errorf("Reason = %q, want %q", closed.Reason, "authentication failed")
			}
			break
		}
		got = append(got, string(data))
	}

	if diff := cmp.Diff([]string{"load", "unload"}, got); diff != "" {
		t.Errorf("frames mismatch (-want +got):\n%s", diff)
	}

	if err := conn.WriteMessage([]byte("after close")); err == nil {
		t.Error("WriteMessage() after close succeeded")
	}
}

func TestMemoryTransport_ClientCloseReportsDisconnect(t *testing.T) {
	h := newTestHandler("memory")
	mt, stop := startMemoryTransport(t, h)
	defer stop()

	conn := mt.Dial()
	h.expectEvent(t, conn.ConnectionId(), handlers.TransportEventType_Connect)

	conn.Close("leaving")
	ev := h.expectEvent(t, conn.ConnectionId(), handlers.TransportEventType_Disconnect)
	if ev.Reason != "leaving" {
		t.Errorf("Reason = %q, want leaving", ev.Reason)
	}

	if _, err := conn.ReadMessage(); err == nil {
		t.Error("ReadMessage() after Close succeeded")
	}
}

func TestMemoryTransport_ShutdownClosesConnections(t *testing.T) {
	h := newTestHandler("memory")
	mt, stop := startMemoryTransport(t, h)

	conn := mt.Dial()
	h.expectEvent(t, conn.ConnectionId(), handlers.TransportEventType_Connect)

	stop()

	_, err := conn.ReadMessage()
	var closed *transport.ConnectionClosedError
	if !errors.As(err, &closed) {
		t.Fatalf("ReadMessage() error = %v, want ConnectionClosedError", err)
	}
}

func TestMemoryTransport_FullQueueDropsOnlyThatConnection(t *testing.T) {
	h := newTestHandler("memory")
	mt := transport.CreateMemoryTransport(h.handler, transport.MemoryTransportParams{
		IncomingQueueLength:        2,
		OutgoingMessageQueueLength: 2,
		Logger:                     zap.NewNop(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		mt.Start(ctx)
	}()
	defer func() {
		cancel()
		<-stopped
	}()

	stalled := mt.Dial()
	h.expectEvent(t, stalled.ConnectionId(), handlers.TransportEventType_Connect)
	healthy := mt.Dial()
	h.expectEvent(t, healthy.ConnectionId(), handlers.TransportEventType_Connect)

	const frames = 20
	for i := 0; i < frames; i++ {
		h.outgoing <- handlers.OutgoingMessage{ConnectionId: stalled.ConnectionId(), Data: []byte{byte(i)}}
		h.outgoing <- handlers.OutgoingMessage{ConnectionId: healthy.ConnectionId(), Data: []byte{byte(i)}}

		data, err := healthy.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage() frame %d error = %v", i, err)
		}
		if diff := cmp.Diff([]byte{byte(i)}, data); diff != "" {
			t.Errorf("frame %d mismatch (-want +got):\n%s", i, diff)
		}
	}

	ev := h.expectEvent(t, stalled.ConnectionId(), handlers.TransportEventType_Disconnect)
	if ev.Reason != "outgoing queue full" {
		t.Errorf("Reason = %q, want %q", ev.Reason, "outgoing queue full")
	}

	var got int
	for {
		_, err := stalled.ReadMessage()
		if err != nil {
			var closed *transport.ConnectionClosedError
			if !errors.As(err, &closed) {
				t.Fatalf("ReadMessage() error = %v, want ConnectionClosedError", err)
			}
			if closed.Reason != "outgoing queue full" {
				t.Errorf("Reason = %q, want %q", closed.Reason, "outgoing queue full")
			}
			break
		}
		got++
	}
	if got == 0 || got >= frames {
		t.Errorf("stalled connection read %d frames, want some but fewer than %d", got, frames)
	}

	if err := stalled.WriteMessage([]byte("late")); err == nil {
		t.Error("WriteMessage() after drop succeeded")
	}
}
