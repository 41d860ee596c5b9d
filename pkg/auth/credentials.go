package auth

import (
	"github.com/sessamekesh/scenelink/pkg/client"
	"github.com/sessamekesh/scenelink/pkg/message/broadcast"
	"go.uber.org/zap"
)

// PasswordCredentials answers a PasswordAuthenticator's challenge.
type PasswordCredentials struct {
	Username string
	Password string
}

func (p *PasswordCredentials) Start(c *client.Client) error {
	c.RegisterBroadcastHandler(broadcast.BroadcastType_Challenge, func(env *broadcast.Envelope) {
		challenge, err := broadcast.ParseChallengeBroadcast(env.Payload)
		if err != nil {
			c.Logger().Warn("Malformed challenge", zap.Error(err))
			return
		}

		err = c.Send(&broadcast.PasswordBroadcast{
			Username: p.Username,
			Digest:   PasswordDigest(p.Password, challenge.Nonce),
		})
		if err != nil {
			c.Logger().Warn("Failed to answer challenge", zap.Error(err))
		}
	})
	return nil
}

// TokenCredentials presents a token to a TokenAuthenticator as soon as the client starts.
type TokenCredentials struct {
	Token Token
}

func (t *TokenCredentials) Start(c *client.Client) error {
	return c.Send(&broadcast.TokenBroadcast{Token: t.Token[:]})
}
