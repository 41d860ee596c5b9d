package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"strconv"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sessamekesh/scenelink/pkg/errors"
	"github.com/sessamekesh/scenelink/pkg/message/broadcast"
	"github.com/sessamekesh/scenelink/pkg/session"
	"go.uber.org/zap"
)

const DefaultChallengeTimeout = 10 * time.Second

// PasswordDigest is what a client proves it knows the password with: HMAC-SHA256 keyed by
// the password over the server's nonce.
func PasswordDigest(password string, nonce []byte) []byte {
	h := hmac.New(sha256.New, []byte(password))
	h.Write(nonce)
	return h.Sum(nil)
}

type PasswordAuthenticatorParams struct {
	Password string

	// How long a challenge stays answerable. Defaults to DefaultChallengeTimeout.
	ChallengeTimeout time.Duration

	Logger *zap.Logger
}

// PasswordAuthenticator challenges every connection with a fresh nonce and accepts it if
// it answers with the matching PasswordDigest before the challenge expires.
type PasswordAuthenticator struct {
	session.AuthenticationEvent

	password string
	manager  *session.Manager

	// connection id -> nonce
	challenges *gocache.Cache

	log *zap.Logger
}

func CreatePasswordAuthenticator(params PasswordAuthenticatorParams) (*PasswordAuthenticator, error) {
	if params.Password == "" {
		return nil, &errors.MissingFieldError{
			MessageName: "PasswordAuthenticatorParams",
			FieldName:   "Password",
		}
	}
	if params.ChallengeTimeout <= 0 {
		params.ChallengeTimeout = DefaultChallengeTimeout
	}

	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	return &PasswordAuthenticator{
		password: params.Password,
		// No janitor goroutine; entries are removed on answer or disconnect and expire on read.
		challenges: gocache.New(params.ChallengeTimeout, 0),
		log:        logger.With(zap.String("handler", "PasswordAuthenticator")),
	}, nil
}

func challengeKey(connectionId uint32) string {
	return strconv.FormatUint(uint64(connectionId), 10)
}

func (a *PasswordAuthenticator) InitializeOnce(m *session.Manager) {
	a.manager = m
	m.RegisterBroadcastHandler(broadcast.BroadcastType_Password, false, a.onPassword)
	m.OnRemoteConnectionState(func(conn *session.Connection, state session.ConnectionState) {
		if state == session.ConnectionState_Disconnected {
			a.challenges.Delete(challengeKey(conn.Id))
		}
	})
}

func (a *PasswordAuthenticator) OnRemoteConnection(conn *session.Connection) {
	nonce := uuid.New()
	a.challenges.SetDefault(challengeKey(conn.Id), nonce[:])

	if err := a.manager.SendTo(conn.Id, &broadcast.ChallengeBroadcast{Nonce: nonce[:]}, false); err != nil {
		a.log.Error("Failed to queue challenge", zap.Uint32("connectionId", conn.Id), zap.Error(err))
		a.Fire(conn, false)
	}
}

// PendingChallenges is the number of challenges that have not been answered yet.
func (a *PasswordAuthenticator) PendingChallenges() int {
	return a.challenges.ItemCount()
}

func (a *PasswordAuthenticator) onPassword(conn *session.Connection, env *broadcast.Envelope) {
	log := a.log.With(zap.Uint32("connectionId", conn.Id))

	if conn.State() != session.ConnectionState_Authenticating {
		log.Debug("Ignoring password from connection that is not authenticating")
		return
	}

	msg, err := broadcast.ParsePasswordBroadcast(env.Payload)
	if err != nil {
		log.Warn("Malformed password broadcast", zap.Error(err))
		a.reject(conn, "malformed credentials")
		return
	}

	key := challengeKey(conn.Id)
	cached, found := a.challenges.Get(key)
	a.challenges.Delete(key)
	if !found {
		log.Warn("Password answered an expired or unknown challenge", zap.String("username", msg.Username))
		a.reject(conn, "challenge expired")
		return
	}

	nonce := cached.([]byte)
	if !hmac.Equal(msg.Digest, PasswordDigest(a.password, nonce)) {
		log.Warn("Wrong password", zap.String("username", msg.Username))
		a.reject(conn, "wrong password")
		return
	}

	if err := conn.SetCustomData(Identity{Name: msg.Username}); err != nil {
		log.Debug("Connection left before it could be accepted", zap.Error(err))
		return
	}

	log.Info("Password accepted", zap.String("username", msg.Username))
	respond(a.manager, a.log, conn, true, "")
	a.Fire(conn, true)
}

func (a *PasswordAuthenticator) reject(conn *session.Connection, reason string) {
	respond(a.manager, a.log, conn, false, reason)
	a.Fire(conn, false)
}
