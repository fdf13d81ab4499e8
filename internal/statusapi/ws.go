package statusapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/validaoxyz/ephemery-sync-exporter/internal/acquisition"
	"github.com/validaoxyz/ephemery-sync-exporter/internal/logger"
	"github.com/validaoxyz/ephemery-sync-exporter/internal/telemetry"
)

const defaultWriteTimeout = 10 * time.Second

// WSDialer opens push-stream connections to the status source.
type WSDialer struct {
	URL          string
	Header       http.Header
	WriteTimeout time.Duration
	Dialer       *websocket.Dialer
}

func NewWSDialer(url string) *WSDialer {
	return &WSDialer{
		URL:          url,
		WriteTimeout: defaultWriteTimeout,
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func (d *WSDialer) Dial(ctx context.Context) (acquisition.Conn, error) {
	conn, resp, err := d.Dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, &TransportError{Op: "dial", URL: d.URL, Err: &StatusError{Code: resp.StatusCode}}
		}
		return nil, &TransportError{Op: "dial", URL: d.URL, Err: err}
	}
	logger.InfoComponent("transport", "Connected to %s", d.URL)
	return &WSConn{url: d.URL, conn: conn, writeTimeout: d.WriteTimeout}, nil
}

// WSConn is one push-stream connection. Reads happen on a single goroutine; writes are
// serialized by mu.
type WSConn struct {
	url          string
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu sync.Mutex
}

// Read returns the next decodable push message. Frames that fail to decode are logged
// and skipped; only transport failures end the stream.
func (c *WSConn) Read() (telemetry.PushMessage, error) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return telemetry.PushMessage{}, &TransportError{Op: "read", URL: c.url, Err: err}
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		msg, err := telemetry.DecodePushMessage(data, kind == websocket.BinaryMessage)
		if err != nil {
			logger.WarningComponent("transport", "Dropping undecodable frame (%d bytes): %v", len(data), err)
			continue
		}
		return msg, nil
	}
}

func (c *WSConn) RequestHistory(days int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	req := telemetry.HistoryRequest{Action: telemetry.ActionGetHistory, Days: days}
	if err := c.conn.WriteJSON(req); err != nil {
		return &TransportError{Op: "write", URL: c.url, Err: err}
	}
	return nil
}

func (c *WSConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	err := c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if cerr := c.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		return cerr
	}
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		logger.DebugComponent("transport", "Close frame to %s: %v", c.url, err)
	}
	return nil
}
