// Package client is the game-client side of scenelink: it authenticates, applies scene
// batches from the server in order and acknowledges them.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sessamekesh/scenelink/pkg/message/broadcast"
	"github.com/sessamekesh/scenelink/pkg/scene"
	"github.com/sessamekesh/scenelink/pkg/transport"
	"go.uber.org/zap"
)

// Conn is a frame-oriented connection to a scenelink server, such as
// transport.WebsocketConn or transport.MemoryConn.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close(reason string) error
}

// Authenticator is the client half of an authentication scheme. Start runs once, before
// the first frame is read; it may send broadcasts and register handlers (a challenge
// handler, say).
type Authenticator interface {
	Start(c *Client) error
}

// SceneLoader applies scene batches. Calls are never concurrent and arrive in the order the
// server sent them.
type SceneLoader interface {
	LoadScenes(ctx context.Context, data scene.LoadSceneQueueData) ([]scene.SceneReferenceData, error)
	UnloadScenes(ctx context.Context, data scene.UnloadSceneQueueData) error
}

type BroadcastHandlerFunc func(env *broadcast.Envelope)

type AuthenticatedFunc func(passed bool, reason string)

type ClientParams struct {
	Logger *zap.Logger

	MagicNumber uint32
	Version     uint8

	// Optional. Without one the client waits for the server to accept it as is.
	Authenticator Authenticator
	// Optional. Defaults to a SimulatedSceneLoader.
	SceneLoader SceneLoader
}

type Client struct {
	conn       Conn
	params     ClientParams
	serializer broadcast.BroadcastSerializer

	mut_handlers sync.RWMutex
	handlers     map[broadcast.BroadcastType][]BroadcastHandlerFunc

	mut_auth        sync.RWMutex
	authenticated   bool
	authSubscribers []AuthenticatedFunc

	mut_scenes   sync.RWMutex
	loadedScenes []scene.SceneReferenceData

	log *zap.Logger
}

func CreateClient(conn Conn, params ClientParams) *Client {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	if params.MagicNumber == 0 {
		params.MagicNumber = broadcast.DefaultMagicNumber
	}
	if params.SceneLoader == nil {
		params.SceneLoader = &SimulatedSceneLoader{}
	}

	return &Client{
		conn:   conn,
		params: params,
		serializer: broadcast.BroadcastSerializer{
			MagicNumber: params.MagicNumber,
			Version:     params.Version,
		},
		handlers: make(map[broadcast.BroadcastType][]BroadcastHandlerFunc),
		log:      logger.With(zap.String("handler", "Client")),
	}
}

func (c *Client) Logger() *zap.Logger {
	return c.log
}

func (c *Client) Serializer() broadcast.BroadcastSerializer {
	return c.serializer
}

// Send serializes b and writes it to the server.
func (c *Client) Send(b broadcast.Broadcast) error {
	data, err := c.serializer.SerializeBroadcast(b)
	if err != nil {
		return fmt.Errorf("serialize %s: %w", b.BroadcastType(), err)
	}
	return c.conn.WriteMessage(data)
}

func (c *Client) RegisterBroadcastHandler(broadcastType broadcast.BroadcastType, fn BroadcastHandlerFunc) {
	c.mut_handlers.Lock()
	defer c.mut_handlers.Unlock()
	c.handlers[broadcastType] = append(c.handlers[broadcastType], fn)
}

func (c *Client) IsAuthenticated() bool {
	c.mut_auth.RLock()
	defer c.mut_auth.RUnlock()
	return c.authenticated
}

// OnAuthenticated subscribes to the server's authentication verdict.
func (c *Client) OnAuthenticated(fn AuthenticatedFunc) {
	c.mut_auth.Lock()
	defer c.mut_auth.Unlock()
	c.authSubscribers = append(c.authSubscribers, fn)
}

// LoadedScenes returns the scenes currently loaded through this client, in load order.
func (c *Client) LoadedScenes() []scene.SceneReferenceData {
	c.mut_scenes.RLock()
	defer c.mut_scenes.RUnlock()
	out := make([]scene.SceneReferenceData, len(c.loadedScenes))
	copy(out, c.loadedScenes)
	return out
}

// Run reads and dispatches frames until the connection closes or ctx is cancelled. A close
// initiated by the server is returned as a *transport.ConnectionClosedError.
func (c *Client) Run(ctx context.Context) error {
	if c.params.Authenticator != nil {
		if err := c.params.Authenticator.Start(c); err != nil {
			c.conn.Close("authentication error")
			return fmt.Errorf("start authenticator: %w", err)
		}
	}

	runDone := make(chan struct{})
	defer close(runDone)
	go func() {
		select {
		case <-ctx.Done():
			c.conn.Close("client shutdown")
		case <-runDone:
		}
	}()

	for {
		data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var closed *transport.ConnectionClosedError
			if errors.As(err, &closed) {
				c.log.Info("Connection closed by server", zap.String("reason", closed.Reason))
				return err
			}
			return fmt.Errorf("read: %w", err)
		}

		env, err := c.serializer.Parse(data)
		if err != nil {
			c.log.Warn("Dropping malformed frame", zap.Error(err))
			continue
		}

		c.dispatch(ctx, env)
	}
}

func (c *Client) dispatch(ctx context.Context, env *broadcast.Envelope) {
	switch env.Type {
	case broadcast.BroadcastType_AuthResponse:
		c.handleAuthResponse(env)
	case broadcast.BroadcastType_LoadScenes:
		c.handleLoadScenes(ctx, env)
	case broadcast.BroadcastType_UnloadScenes:
		c.handleUnloadScenes(ctx, env)
	}

	c.mut_handlers.RLock()
	registered := c.handlers[env.Type]
	handlerList := make([]BroadcastHandlerFunc, len(registered))
	copy(handlerList, registered)
	c.mut_handlers.RUnlock()

	for _, fn := range handlerList {
		fn(env)
	}
}

func (c *Client) handleAuthResponse(env *broadcast.Envelope) {
	msg, err := broadcast.ParseAuthResponseBroadcast(env.Payload)
	if err != nil {
		c.log.Warn("Malformed AuthResponse broadcast", zap.Error(err))
		return
	}

	c.mut_auth.Lock()
	c.authenticated = msg.Passed
	subscribers := make([]AuthenticatedFunc, len(c.authSubscribers))
	copy(subscribers, c.authSubscribers)
	c.mut_auth.Unlock()

	if msg.Passed {
		c.log.Info("Authenticated with server")
	} else {
		c.log.Warn("Server refused authentication", zap.String("reason", msg.Reason))
	}

	for _, fn := range subscribers {
		fn(msg.Passed, msg.Reason)
	}
}

func (c *Client) handleLoadScenes(ctx context.Context, env *broadcast.Envelope) {
	msg, err := broadcast.ParseLoadScenesBroadcast(env.Payload)
	if err != nil {
		c.log.Warn("Malformed LoadScenes broadcast", zap.Error(err))
		return
	}

	refs, err := c.params.SceneLoader.LoadScenes(ctx, msg.QueueData)
	if err != nil {
		c.log.Error("Failed to load scenes", zap.Error(err))
		return
	}

	c.mut_scenes.Lock()
	c.loadedScenes = append(c.loadedScenes, refs...)
	c.mut_scenes.Unlock()

	if err := c.Send(&broadcast.ClientScenesLoadedBroadcast{SceneReferences: refs}); err != nil {
		c.log.Warn("Failed to acknowledge loaded scenes", zap.Error(err))
	}
}

func (c *Client) handleUnloadScenes(ctx context.Context, env *broadcast.Envelope) {
	msg, err := broadcast.ParseUnloadScenesBroadcast(env.Payload)
	if err != nil {
		c.log.Warn("Malformed UnloadScenes broadcast", zap.Error(err))
		return
	}

	if err := c.params.SceneLoader.UnloadScenes(ctx, msg.QueueData); err != nil {
		c.log.Error("Failed to unload scenes", zap.Error(err))
		return
	}

	lookups := msg.QueueData.SceneUnloadData.SceneLookupDatas
	c.mut_scenes.Lock()
	remaining := c.loadedScenes[:0]
	for _, ref := range c.loadedScenes {
		if !matchesAny(ref, lookups) {
			remaining = append(remaining, ref)
		}
	}
	c.loadedScenes = remaining
	c.mut_scenes.Unlock()
}

func matchesAny(ref scene.SceneReferenceData, lookups []scene.SceneLookupData) bool {
	for _, lookup := range lookups {
		if ref.Matches(lookup) {
			return true
		}
	}
	return false
}
