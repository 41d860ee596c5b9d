package session

import (
	"time"

	"github.com/sessamekesh/scenelink/pkg/message/broadcast"
	"go.uber.org/zap"
)

const (
	DefaultTickRate              = 30
	DefaultAuthenticationTimeout = 10 * time.Second
)

type ManagerConfig struct {
	Logger *zap.Logger

	MagicNumber uint32
	Version     uint8

	// Required. Every connection is handed to it before it may receive game broadcasts.
	Authenticator Authenticator

	// Ticks per second for Start. Defaults to DefaultTickRate.
	TickRate int

	// How long a connection may stay Authenticating before it is rejected. Zero uses
	// DefaultAuthenticationTimeout, a negative value disables the timeout.
	AuthenticationTimeout time.Duration

	// Authenticated connections that have not sent anything for this long are
	// disconnected. Zero disables.
	IdleTimeout time.Duration

	// Zero means unlimited.
	MaxConnections int

	IncomingEventBufferLength   int
	OutgoingMessageBufferLength int

	// Clock override for tests.
	Now func() time.Time
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.Logger == nil {
		c.Logger = zap.Must(zap.NewDevelopment())
	}
	if c.MagicNumber == 0 {
		c.MagicNumber = broadcast.DefaultMagicNumber
	}
	if c.TickRate <= 0 {
		c.TickRate = DefaultTickRate
	}
	if c.AuthenticationTimeout == 0 {
		c.AuthenticationTimeout = DefaultAuthenticationTimeout
	}
	if c.IncomingEventBufferLength <= 0 {
		c.IncomingEventBufferLength = 1024
	}
	if c.OutgoingMessageBufferLength <= 0 {
		c.OutgoingMessageBufferLength = 256
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}
