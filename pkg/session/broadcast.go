package session

import (
	"fmt"

	"github.com/sessamekesh/scenelink/pkg/handlers"
	"github.com/sessamekesh/scenelink/pkg/message/broadcast"
	"go.uber.org/zap"
)

type BroadcastHandlerFunc func(conn *Connection, env *broadcast.Envelope)

type broadcastHandler struct {
	requireAuthentication bool
	fn                    BroadcastHandlerFunc
}

// outgoingBroadcast is one entry of the ordered send queue. With toAll set the targets are
// resolved when the queue is flushed, so connections authenticated earlier in the same
// tick are included.
type outgoingBroadcast struct {
	toAll   bool
	targets []uint32
	data    []byte

	requireAuthentication bool

	close       bool
	closeReason string
}

// RegisterBroadcastHandler routes incoming broadcasts of one type to fn. Handlers that
// require authentication never see frames from connections that are not Authenticated.
func (m *Manager) RegisterBroadcastHandler(broadcastType broadcast.BroadcastType, requireAuthentication bool, fn BroadcastHandlerFunc) {
	m.mut_broadcastHandlers.Lock()
	defer m.mut_broadcastHandlers.Unlock()
	m.broadcastHandlers[broadcastType] = append(m.broadcastHandlers[broadcastType], broadcastHandler{
		requireAuthentication: requireAuthentication,
		fn:                    fn,
	})
}

func (m *Manager) dispatch(conn *Connection, state ConnectionState, env *broadcast.Envelope) {
	m.mut_broadcastHandlers.RLock()
	registered := m.broadcastHandlers[env.Type]
	handlerList := make([]broadcastHandler, len(registered))
	copy(handlerList, registered)
	m.mut_broadcastHandlers.RUnlock()

	if len(handlerList) == 0 {
		m.log.Debug("No handler for broadcast", zap.Uint32("connectionId", conn.Id), zap.Stringer("type", env.Type))
		return
	}

	for _, h := range handlerList {
		if h.requireAuthentication && state != ConnectionState_Authenticated {
			m.log.Debug("Dropping broadcast from unauthenticated connection",
				zap.Uint32("connectionId", conn.Id),
				zap.Stringer("type", env.Type),
				zap.Stringer("state", state))
			continue
		}
		h.fn(conn, env)
	}
}

func (m *Manager) serialize(b broadcast.Broadcast) ([]byte, error) {
	data, err := m.serializer.SerializeBroadcast(b)
	if err != nil {
		return nil, fmt.Errorf("serialize %s: %w", b.BroadcastType(), err)
	}
	return data, nil
}

func (m *Manager) enqueue(o outgoingBroadcast) {
	m.mut_outgoing.Lock()
	defer m.mut_outgoing.Unlock()
	m.outgoing = append(m.outgoing, o)
}

// SendTo queues a broadcast for one connection. It is written on the next flush, after
// everything queued before it.
func (m *Manager) SendTo(connectionId uint32, b broadcast.Broadcast, requireAuthentication bool) error {
	return m.SendToMany([]uint32{connectionId}, b, requireAuthentication)
}

func (m *Manager) SendToMany(connectionIds []uint32, b broadcast.Broadcast, requireAuthentication bool) error {
	data, err := m.serialize(b)
	if err != nil {
		return err
	}

	targets := make([]uint32, len(connectionIds))
	copy(targets, connectionIds)

	m.enqueue(outgoingBroadcast{
		targets:               targets,
		data:                  data,
		requireAuthentication: requireAuthentication,
	})
	return nil
}

// Broadcast queues a broadcast for every Authenticated connection, and also for
// Authenticating ones when requireAuthentication is false.
func (m *Manager) Broadcast(b broadcast.Broadcast, requireAuthentication bool) error {
	data, err := m.serialize(b)
	if err != nil {
		return err
	}

	m.enqueue(outgoingBroadcast{
		toAll:                 true,
		data:                  data,
		requireAuthentication: requireAuthentication,
	})
	return nil
}

func canDeliver(state ConnectionState, requireAuthentication bool) bool {
	switch state {
	case ConnectionState_Authenticated:
		return true
	case ConnectionState_Authenticating, ConnectionState_Rejected:
		return !requireAuthentication
	default:
		return false
	}
}

func (m *Manager) fanOutTargets(o outgoingBroadcast) []uint32 {
	if !o.toAll {
		return o.targets
	}

	targets := m.store.GetConnectionIdsInState(ConnectionState_Authenticated)
	if !o.requireAuthentication {
		targets = append(targets, m.store.GetConnectionIdsInState(ConnectionState_Authenticating)...)
	}
	return targets
}

func (m *Manager) flushOutgoing() {
	m.mut_outgoing.Lock()
	queue := m.outgoing
	m.outgoing = nil
	m.mut_outgoing.Unlock()

	for _, o := range queue {
		for _, connectionId := range m.fanOutTargets(o) {
			conn, has := m.GetConnection(connectionId)
			if !has {
				continue
			}

			if o.close {
				m.writeToTransport(conn.TransportName, handlers.OutgoingMessage{
					ConnectionId:   conn.Id,
					Close:          true,
					CloseReason:    o.closeReason,
					RouteTimestamp: m.getNowTime(),
				})
				m.transition(conn, ConnectionState_Disconnected)
				continue
			}

			if !canDeliver(conn.State(), o.requireAuthentication) {
				continue
			}

			m.writeToTransport(conn.TransportName, handlers.OutgoingMessage{
				ConnectionId:   conn.Id,
				Data:           o.data,
				RouteTimestamp: m.getNowTime(),
			})
		}
	}
}
