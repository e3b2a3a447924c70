package connection

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/deribit-data/internal/version"
)

// frameWriter is the send half of a connection.
type frameWriter interface {
	// WriteText writes one text frame.
	WriteText(data []byte) error

	// Close tears down the whole connection. Safe to call more than once.
	Close() error
}

// frame is one inbound WebSocket message, or the read error that ended the
// receive half.
type frame struct {
	messageType int
	data        []byte
	receivedAt  time.Time
	err         error
}

// transport wraps a dialed WebSocket. The read pump is the only reader;
// WriteText calls are serialized by writeMu.
type transport struct {
	conn         *websocket.Conn
	logger       *slog.Logger
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// dial performs the WebSocket handshake.
func dial(ctx context.Context, url string, cfg Config, logger *slog.Logger) (*transport, error) {
	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}

	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}

	t := &transport{
		conn:         conn,
		logger:       logger,
		writeTimeout: cfg.WriteTimeout,
	}

	// Server pings are answered here; they never reach the multiplexer.
	conn.SetPingHandler(func(data string) error {
		logger.Debug("ping received")
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if err == websocket.ErrCloseSent {
			return nil
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil
		}
		return err
	})

	conn.SetPongHandler(func(string) error {
		logger.Debug("pong received")
		return nil
	})

	logger.Debug("websocket connected", "url", url)

	return t, nil
}

// WriteText writes a text frame with the configured deadline.
func (t *transport) WriteText(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and closes the socket.
func (t *transport) Close() error {
	t.closeOnce.Do(func() {
		// Best effort: the peer may already be gone.
		t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

// readPump reads frames until the socket fails and hands them to the
// multiplexer in arrival order. The final frame carries the read error.
func (t *transport) readPump(frames chan<- frame, done <-chan struct{}) {
	for {
		messageType, data, err := t.conn.ReadMessage()
		f := frame{
			messageType: messageType,
			data:        data,
			receivedAt:  time.Now(),
			err:         err,
		}

		select {
		case frames <- f:
		case <-done:
			return
		}

		if err != nil {
			return
		}
	}
}
