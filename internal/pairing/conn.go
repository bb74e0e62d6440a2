// Package pairing connects a phone acting as a remote barcode scanner to
// the desktop session. Both transports, a direct websocket session and a
// shared relay, carry the same messages.
package pairing

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/net/websocket"

	"elkhaled/pos/internal/domain"
)

var ErrClosed = errors.New("pairing channel closed")

// Conn is one bidirectional message channel. Receive blocks until a
// message arrives; Close unblocks it. Delivery is best effort.
type Conn interface {
	Send(msg domain.PairingMessage) error
	Receive() (domain.PairingMessage, error)
	Close() error
}

type wsConn struct {
	ws     *websocket.Conn
	sendMu sync.Mutex
}

// NewWebsocketConn wraps an accepted or dialed websocket.
func NewWebsocketConn(ws *websocket.Conn) Conn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Send(msg domain.PairingMessage) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return websocket.JSON.Send(c.ws, msg)
}

func (c *wsConn) Receive() (domain.PairingMessage, error) {
	var msg domain.PairingMessage
	err := websocket.JSON.Receive(c.ws, &msg)
	return msg, err
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

// Dial opens a websocket Conn to a host or relay endpoint.
func Dial(ctx context.Context, endpoint string, origin string) (Conn, error) {
	if origin == "" {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, err
		}
		scheme := "http"
		if u.Scheme == "wss" {
			scheme = "https"
		}
		origin = scheme + "://" + u.Host
	}
	cfg, err := websocket.NewConfig(endpoint, origin)
	if err != nil {
		return nil, err
	}
	ws, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, err
	}
	return NewWebsocketConn(ws), nil
}

// WebsocketHandler upgrades requests accepted by allow and hands the
// connection to serve, which owns it until it returns.
func WebsocketHandler(allow func(r *http.Request) error, serve func(r *http.Request, conn Conn)) http.Handler {
	return websocket.Server{
		Handshake: func(cfg *websocket.Config, r *http.Request) error {
			if allow == nil {
				return nil
			}
			return allow(r)
		},
		Handler: func(ws *websocket.Conn) {
			conn := NewWebsocketConn(ws)
			defer conn.Close()
			serve(ws.Request(), conn)
		},
	}
}

type pipeConn struct {
	in     <-chan domain.PairingMessage
	out    chan<- domain.PairingMessage
	closed chan struct{}
	peer   *pipeConn
	once   sync.Once
}

// Pipe returns two connected in-process ends.
func Pipe() (Conn, Conn) {
	ab := make(chan domain.PairingMessage, 16)
	ba := make(chan domain.PairingMessage, 16)
	a := &pipeConn{in: ba, out: ab, closed: make(chan struct{})}
	b := &pipeConn{in: ab, out: ba, closed: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

func (p *pipeConn) Send(msg domain.PairingMessage) error {
	select {
	case <-p.closed:
		return ErrClosed
	case <-p.peer.closed:
		return ErrClosed
	default:
	}
	select {
	case p.out <- msg:
		return nil
	case <-p.closed:
		return ErrClosed
	case <-p.peer.closed:
		return ErrClosed
	}
}

func (p *pipeConn) Receive() (domain.PairingMessage, error) {
	select {
	case msg := <-p.in:
		return msg, nil
	case <-p.closed:
		return domain.PairingMessage{}, ErrClosed
	case <-p.peer.closed:
		select {
		case msg := <-p.in:
			return msg, nil
		default:
			return domain.PairingMessage{}, ErrClosed
		}
	}
}

func (p *pipeConn) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}
