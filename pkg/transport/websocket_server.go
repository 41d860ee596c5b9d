package transport

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sessamekesh/scenelink/pkg/handlers"
	utils "github.com/sessamekesh/scenelink/pkg/util"
	"go.uber.org/zap"
)

// Close reasons longer than this do not fit in a websocket close frame.
const maxCloseReasonLength = 123

type WebsocketHandlerParams struct {
	ListenAddress    string
	ListenEndpoint   string
	AllowAllHosts    bool
	AllowlistedHosts []string
	DenylistedHosts  []string

	MaxReadMessageSize         int64
	WriteTimeout               time.Duration
	OutgoingMessageQueueLength uint32

	Logger *zap.Logger
}

// WebsocketHandler accepts game clients over WebSocket and bridges them to a session
// manager. Every frame is one binary WebSocket message.
type WebsocketHandler struct {
	upgrader *websocket.Upgrader
	params   WebsocketHandlerParams
	router   *connectionRouter

	wg_sockets sync.WaitGroup

	log    *zap.Logger
	tagGen *utils.TagGenerator
}

func checkOrigin(r *http.Request, params WebsocketHandlerParams) bool {
	origin := r.Header.Get("Origin")
	if utils.Contains(origin, params.DenylistedHosts) {
		return false
	}

	if params.AllowAllHosts {
		return true
	}

	return utils.Contains(origin, params.AllowlistedHosts)
}

func CreateWebsocketHandler(transport *handlers.TransportHandler, params WebsocketHandlerParams) (*WebsocketHandler, error) {
	if transport == nil {
		return nil, errors.New("websocket handler requires a transport handler")
	}

	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	if params.ListenEndpoint == "" {
		params.ListenEndpoint = "/ws"
	}
	if params.WriteTimeout == 0 {
		params.WriteTimeout = 10 * time.Second
	}

	return &WebsocketHandler{
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return checkOrigin(r, params)
			},
		},
		params: params,
		router: createConnectionRouter(transport, ConnectionRouterParams{
			OutgoingMessageQueueLength: params.OutgoingMessageQueueLength,
		}, logger),

		log:    logger.With(zap.String("handler", "WebSocket")),
		tagGen: utils.CreateTagGenerator(uint64(time.Now().UnixMicro())),
	}, nil
}

func closeReason(reason string) string {
	if len(reason) > maxCloseReasonLength {
		return reason[:maxCloseReasonLength]
	}
	return reason
}

func (ws *WebsocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := ws.log.With(zap.String("wsConnId", ws.tagGen.Next(6)))

	log.Info("New WebSocket request", zap.String("origin", r.Header.Get("Origin")))
	c, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("Failed to upgrade HTTP request to WebSocket connection", zap.Error(err))
		return
	}

	ws.wg_sockets.Add(1)
	defer ws.wg_sockets.Done()
	defer c.Close()

	if ws.params.MaxReadMessageSize > 0 {
		c.SetReadLimit(ws.params.MaxReadMessageSize)
	}

	channels := ws.router.OpenConnection()
	log = log.With(zap.Uint32("connectionId", channels.ConnectionId))

	readerDone := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		ws.writeLoop(c, channels, readerDone, log)
	}()

	reason := ws.readLoop(c, channels.ConnectionId, log)
	close(readerDone)
	ws.router.Close(channels.ConnectionId, reason)
	<-writerDone
}

func (ws *WebsocketHandler) writeLoop(c *websocket.Conn, channels *SingleConnectionChannels, readerDone <-chan struct{}, log *zap.Logger) {
	for {
		select {
		case <-readerDone:
			return
		case <-channels.Done:
			select {
			case <-readerDone:
				return
			default:
			}
			reason := channels.DropReason()
			log.Warn("Router dropped connection, closing", zap.String("reason", reason))
			payload := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, closeReason(reason))
			if err := c.WriteControl(websocket.CloseMessage, payload, time.Now().Add(ws.params.WriteTimeout)); err != nil {
				log.Debug("Failed to write close frame", zap.Error(err))
			}
			c.Close()
			return
		case msg := <-channels.OutgoingMessages:
			deadline := time.Now().Add(ws.params.WriteTimeout)
			if msg.Close {
				log.Info("Closing connection", zap.String("reason", msg.CloseReason))
				payload := websocket.FormatCloseMessage(websocket.CloseNormalClosure, closeReason(msg.CloseReason))
				if err := c.WriteControl(websocket.CloseMessage, payload, deadline); err != nil {
					log.Debug("Failed to write close frame", zap.Error(err))
				}
				c.Close()
				return
			}

			c.SetWriteDeadline(deadline)
			if err := c.WriteMessage(websocket.BinaryMessage, msg.Data); err != nil {
				log.Warn("Failed to write WebSocket message, closing", zap.Error(err))
				c.Close()
				return
			}
		}
	}
}

// readLoop forwards frames until the socket fails and returns the disconnect reason.
func (ws *WebsocketHandler) readLoop(c *websocket.Conn, connectionId uint32, log *zap.Logger) string {
	expectedCloseErrors := []int{websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived}
	for {
		msgType, payload, msgErr := c.ReadMessage()
		if msgErr != nil {
			var closeError *websocket.CloseError
			if errors.As(msgErr, &closeError) && websocket.IsCloseError(msgErr, expectedCloseErrors...) {
				log.Info("Received close request from client", zap.Int("closeCode", closeError.Code), zap.String("closeMsg", closeError.Text))
				return "client closed connection"
			}

			if websocket.IsUnexpectedCloseError(msgErr, expectedCloseErrors...) {
				log.Warn("Received unexpected close from client", zap.Error(msgErr))
				return "unexpected close"
			}

			if errors.Is(msgErr, websocket.ErrReadLimit) {
				log.Warn("Client exceeded read limit", zap.Int64("limit", ws.params.MaxReadMessageSize))
				return "message too large"
			}

			if strings.Contains(msgErr.Error(), "use of closed network connection") {
				log.Debug("Socket closed locally")
				return "closed by server"
			}

			log.Error("Received unexpected WebSocket error on message read", zap.Error(msgErr))
			return "read error"
		}

		if msgType != websocket.BinaryMessage {
			log.Debug("Received non-binary message, ignoring", zap.Int("size", len(payload)))
			continue
		}

		ws.router.Receive(connectionId, payload)
	}
}

// RunRouter moves manager output to sockets until ctx is cancelled, then closes every socket.
// Start calls it; use it directly when mounting the handler on an existing server.
func (ws *WebsocketHandler) RunRouter(ctx context.Context) error {
	err := ws.router.Start(ctx)
	ws.router.closeAll("server shutdown")
	ws.wg_sockets.Wait()
	return err
}

// Start serves ListenEndpoint on ListenAddress until ctx is cancelled.
func (ws *WebsocketHandler) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mux := http.NewServeMux()
	mux.Handle(ws.params.ListenEndpoint, ws)

	server := &http.Server{
		Addr:              ws.params.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	wg := sync.WaitGroup{}
	var serveErr error

	wg.Add(1)
	go func() {
		defer wg.Done()

		ws.log.Sugar().Infof("Starting WebSocket server at %s%s", ws.params.ListenAddress, ws.params.ListenEndpoint)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			ws.log.Error("Unexpected WebSocket server close!", zap.Error(err))
			serveErr = err
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()

		<-ctx.Done()

		shutdownCtx, shutdownRelease := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownRelease()
		ws.log.Info("Attempting to trigger shutdown of WebSocket server")

		if err := server.Shutdown(shutdownCtx); err != nil {
			ws.log.Error("Failed to gracefully shut down WebSocket server", zap.Error(err))
			return
		}
		ws.log.Info("Successfully shutdown WebSocket server")
	}()

	routerErr := ws.RunRouter(ctx)
	wg.Wait()

	ws.log.Info("All WebSocket server goroutines finished. Exiting gracefully!")
	if serveErr != nil {
		return serveErr
	}
	return routerErr
}
