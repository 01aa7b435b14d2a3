package transport

import (
	"context"

	"nhooyr.io/websocket"
)

// Conn is one established data channel carrying whole frames.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens data channels. Clients get the websocket dialer by
// default; tests inject in-memory pipes.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}

// WebsocketDialer dials ws:// and wss:// addresses.
type WebsocketDialer struct {
	Options *websocket.DialOptions
}

// Dial implements Dialer.
func (d WebsocketDialer) Dial(ctx context.Context, addr string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, addr, d.Options)
	if err != nil {
		return nil, err
	}
	return wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "bye")
}
