package transport

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const wsBufferSize = 32 * 1024

// WSConn adapts a websocket connection to the byte-stream Conn the
// session engine drives. Each Write emits one binary websocket message,
// so the one-Write-per-frame rule becomes one websocket message per
// frame and browser peers never see a split frame.
type WSConn struct {
	ws *websocket.Conn
	r  io.Reader
}

func NewWSConn(ws *websocket.Conn) *WSConn {
	return &WSConn{ws: ws}
}

func (c *WSConn) Read(p []byte) (int, error) {
	for {
		if c.r == nil {
			msgType, r, err := c.ws.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if msgType != websocket.BinaryMessage {
				continue
			}
			c.r = r
		}
		n, err := c.r.Read(p)
		if err == io.EOF {
			c.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *WSConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *WSConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.ws.Close()
}

func (c *WSConn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

func (c *WSConn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}

// AcceptWS upgrades an HTTP request into a session transport. An empty
// origin list falls back to the local viewer dev origin.
func AcceptWS(w http.ResponseWriter, r *http.Request, allowedOrigins []string) (*WSConn, error) {
	allowed := normalizeOrigins(allowedOrigins)
	up := websocket.Upgrader{
		ReadBufferSize:  wsBufferSize,
		WriteBufferSize: wsBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, a := range allowed {
				if a == "*" || a == origin {
					return true
				}
			}
			return false
		},
	}
	ws, err := up.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewWSConn(ws), nil
}

// DialWS dials a ws:// or wss:// endpoint with the transport's TLS
// client material.
func DialWS(ctx context.Context, url string, cfg Config, header http.Header) (*WSConn, error) {
	if err := cfg.ValidateClient(); err != nil {
		return nil, err
	}
	d := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   wsBufferSize,
		WriteBufferSize:  wsBufferSize,
	}
	if cfg.TLS.Enabled {
		tlsCfg, err := cfg.ClientTLS()
		if err != nil {
			return nil, err
		}
		d.TLSClientConfig = tlsCfg
	}
	ws, resp, err := d.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return NewWSConn(ws), nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
