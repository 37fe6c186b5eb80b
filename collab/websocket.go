package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 1 << 20
)

// wsConn adapts a gorilla websocket to Conn. gorilla allows one concurrent
// writer, so writes and pings share a mutex.
type wsConn struct {
	ws   *websocket.Conn
	wmu  sync.Mutex
	stop chan struct{}
	once sync.Once
}

// NewWebSocketConn wraps ws and starts its keepalive pings.
func NewWebSocketConn(ws *websocket.Conn) Conn {
	c := &wsConn{ws: ws, stop: make(chan struct{})}
	ws.SetReadLimit(maxMessage)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.ping()
	return c
}

func (c *wsConn) ping() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.wmu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.wmu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *wsConn) WriteOperation(ctx context.Context, op Operation) error {
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteJSON(op)
}

// ReadOperation blocks until a message arrives or the conn is closed;
// cancelling ctx alone does not interrupt it.
func (c *wsConn) ReadOperation(ctx context.Context) (Operation, error) {
	var op Operation
	if err := ctx.Err(); err != nil {
		return op, err
	}
	if err := c.ws.ReadJSON(&op); err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return op, ErrChannelClosed
		}
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			return op, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return op, err
	}
	return op, nil
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.stop)
		c.wmu.Lock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.wmu.Unlock()
		err = c.ws.Close()
	})
	return err
}

// WebSocketDialer dials url for every (re)connect.
func WebSocketDialer(url string, header http.Header) Dialer {
	return func(ctx context.Context) (Conn, error) {
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
		if err != nil {
			return nil, fmt.Errorf("failed to dial %s: %w", url, err)
		}
		return NewWebSocketConn(ws), nil
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins for now; the editor is served from the same host.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Upgrade turns an HTTP request into a Conn.
func Upgrade(w http.ResponseWriter, r *http.Request) (Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade failed: %w", err)
	}
	return NewWebSocketConn(ws), nil
}
