package client

import (
	"context"

	"github.com/gorilla/websocket"
)

// Conn is one established connection to the coordination service.
type Conn interface {
	Read() ([]byte, error)
	Write(data []byte) error
	Close()
}

type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

type wsDialer struct {
	url string
}

func NewWSDialer(url string) Dialer {
	return &wsDialer{url: url}
}

func (d *wsDialer) Dial(ctx context.Context) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, d.url, nil)
	if err != nil {
		return nil, err
	}
	return &wsClientConn{socket: conn}, nil
}

type wsClientConn struct {
	socket *websocket.Conn
}

func (c *wsClientConn) Read() ([]byte, error) {
	_, data, err := c.socket.ReadMessage()
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		// The service closed us on purpose. Not a transport fault, so the
		// coordinator must not auto-retry.
		return nil, ErrServerClosed
	}
	return data, err
}

func (c *wsClientConn) Write(data []byte) error {
	return c.socket.WriteMessage(websocket.TextMessage, data)
}

func (c *wsClientConn) Close() {
	c.socket.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.socket.Close()
}
