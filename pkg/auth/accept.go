package auth

import (
	"github.com/sessamekesh/scenelink/pkg/message/broadcast"
	"github.com/sessamekesh/scenelink/pkg/session"
	"go.uber.org/zap"
)

// Identity is stored as a connection's custom data once an authenticator that knows who
// the peer is has accepted it.
type Identity struct {
	Name string
}

func respond(m *session.Manager, log *zap.Logger, conn *session.Connection, passed bool, reason string) {
	err := m.SendTo(conn.Id, &broadcast.AuthResponseBroadcast{Passed: passed, Reason: reason}, false)
	if err != nil {
		log.Error("Failed to queue authentication response", zap.Uint32("connectionId", conn.Id), zap.Error(err))
	}
}

// AcceptAllAuthenticator admits every connection as soon as it arrives.
type AcceptAllAuthenticator struct {
	session.AuthenticationEvent

	manager *session.Manager
	log     *zap.Logger
}

func CreateAcceptAllAuthenticator() *AcceptAllAuthenticator {
	return &AcceptAllAuthenticator{}
}

func (a *AcceptAllAuthenticator) InitializeOnce(m *session.Manager) {
	a.manager = m
	a.log = m.Logger().With(zap.String("handler", "AcceptAllAuthenticator"))
}

func (a *AcceptAllAuthenticator) OnRemoteConnection(conn *session.Connection) {
	respond(a.manager, a.log, conn, true, "")
	a.Fire(conn, true)
}
