package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type DialParams struct {
	Header             http.Header
	MaxReadMessageSize int64
	WriteTimeout       time.Duration

	Logger *zap.Logger
}

// WebsocketConn is the client end of a WebSocket connection to a scenelink server.
type WebsocketConn struct {
	conn   *websocket.Conn
	params DialParams

	mut_write sync.Mutex
	closeOnce sync.Once

	log *zap.Logger
}

func DialWebsocket(ctx context.Context, url string, params DialParams) (*WebsocketConn, error) {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	if params.WriteTimeout == 0 {
		params.WriteTimeout = 10 * time.Second
	}

	c, resp, err := websocket.DefaultDialer.DialContext(ctx, url, params.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	if params.MaxReadMessageSize > 0 {
		c.SetReadLimit(params.MaxReadMessageSize)
	}

	return &WebsocketConn{
		conn:   c,
		params: params,
		log:    logger.With(zap.String("handler", "WebSocketConn"), zap.String("url", url)),
	}, nil
}

// ReadMessage returns the next binary frame. Text frames are skipped.
func (c *WebsocketConn) ReadMessage() ([]byte, error) {
	for {
		msgType, payload, err := c.conn.ReadMessage()
		if err != nil {
			var closeError *websocket.CloseError
			if errors.As(err, &closeError) {
				return nil, &ConnectionClosedError{Reason: closeError.Text}
			}
			return nil, err
		}

		if msgType != websocket.BinaryMessage {
			c.log.Debug("Skipping non-binary message", zap.Int("size", len(payload)))
			continue
		}
		return payload, nil
	}
}

func (c *WebsocketConn) WriteMessage(data []byte) error {
	c.mut_write.Lock()
	defer c.mut_write.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.params.WriteTimeout))
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Close sends a close frame with reason and closes the socket.
func (c *WebsocketConn) Close(reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.mut_write.Lock()
		payload := websocket.FormatCloseMessage(websocket.CloseNormalClosure, closeReason(reason))
		writeErr := c.conn.WriteControl(websocket.CloseMessage, payload, time.Now().Add(c.params.WriteTimeout))
		c.mut_write.Unlock()
		if writeErr != nil && !errors.Is(writeErr, websocket.ErrCloseSent) {
			c.log.Debug("Failed to write close frame", zap.Error(writeErr))
		}
		err = c.conn.Close()
	})
	return err
}
