package auth

import (
	"github.com/sessamekesh/scenelink/pkg/errors"
	"github.com/sessamekesh/scenelink/pkg/message/broadcast"
	"github.com/sessamekesh/scenelink/pkg/session"
	"go.uber.org/zap"
)

type TokenAuthenticatorParams struct {
	Secret []byte
	Logger *zap.Logger
}

// TokenAuthenticator accepts connections that present a Token signed with Secret. Clients
// send the token unprompted right after connecting.
type TokenAuthenticator struct {
	session.AuthenticationEvent

	secret  []byte
	manager *session.Manager

	log *zap.Logger
}

func CreateTokenAuthenticator(params TokenAuthenticatorParams) (*TokenAuthenticator, error) {
	if len(params.Secret) == 0 {
		return nil, &errors.MissingFieldError{
			MessageName: "TokenAuthenticatorParams",
			FieldName:   "Secret",
		}
	}

	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	return &TokenAuthenticator{
		secret: params.Secret,
		log:    logger.With(zap.String("handler", "TokenAuthenticator")),
	}, nil
}

// IssueToken signs a token for key with this authenticator's secret.
func (a *TokenAuthenticator) IssueToken(key Key) Token {
	return NewToken(key, a.secret)
}

func (a *TokenAuthenticator) InitializeOnce(m *session.Manager) {
	a.manager = m
	m.RegisterBroadcastHandler(broadcast.BroadcastType_Token, false, a.onToken)
}

func (a *TokenAuthenticator) OnRemoteConnection(conn *session.Connection) {
	a.log.Debug("Waiting for token", zap.Uint32("connectionId", conn.Id))
}

func (a *TokenAuthenticator) onToken(conn *session.Connection, env *broadcast.Envelope) {
	log := a.log.With(zap.Uint32("connectionId", conn.Id))

	if conn.State() != session.ConnectionState_Authenticating {
		log.Debug("Ignoring token from connection that is not authenticating")
		return
	}

	msg, err := broadcast.ParseTokenBroadcast(env.Payload)
	if err != nil {
		log.Warn("Malformed token broadcast", zap.Error(err))
		a.reject(conn, "malformed token")
		return
	}

	token, err := TokenFromBytes(msg.Token)
	if err != nil {
		log.Warn("Malformed token", zap.Error(err))
		a.reject(conn, "malformed token")
		return
	}

	if !VerifyToken(a.secret, token) {
		log.Warn("Invalid token signature", zap.Stringer("key", token.Key()))
		a.reject(conn, "invalid token")
		return
	}

	if err := conn.SetCustomData(Identity{Name: token.Key().String()}); err != nil {
		log.Debug("Connection left before it could be accepted", zap.Error(err))
		return
	}

	log.Info("Token accepted", zap.Stringer("key", token.Key()))
	respond(a.manager, a.log, conn, true, "")
	a.Fire(conn, true)
}

func (a *TokenAuthenticator) reject(conn *session.Connection, reason string) {
	respond(a.manager, a.log, conn, false, reason)
	a.Fire(conn, false)
}
