package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"time"

	ws "github.com/gorilla/websocket"
)

type WebSocket struct {
	conn    *ws.Conn
	url     string
	timeout time.Duration
}

// Dial opens a connection to url. timeout bounds the handshake and every
// subsequent read; zero disables both limits.
func Dial(ctx context.Context, url string, timeout time.Duration) (*WebSocket, error) {
	log.Debug("init websocket", "url", url)

	dialer := *ws.DefaultDialer
	dialer.HandshakeTimeout = timeout

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	return &WebSocket{
		conn:    conn,
		url:     url,
		timeout: timeout,
	}, nil
}

func (web *WebSocket) Send(m Message) error {
	payload := m.Encode()
	log.Debug("Write ws", "msg", string(payload))
	return web.conn.WriteMessage(ws.TextMessage, payload)
}

func (web *WebSocket) SendChunk(b []byte) error {
	return web.conn.WriteMessage(ws.BinaryMessage, b)
}

// Receive reads the next text frame.
func (web *WebSocket) Receive() (Message, error) {
	if web.timeout > 0 {
		_ = web.conn.SetReadDeadline(time.Now().Add(web.timeout))
	}

	for {
		kind, msg, err := web.conn.ReadMessage()
		if err != nil {
			if WsIsClosed(err) {
				return Message{}, fmt.Errorf("connection closed: %w", err)
			}
			return Message{}, fmt.Errorf("read: %w", err)
		}
		if kind != ws.TextMessage {
			continue
		}

		log.Debug("Read ws", "msg", string(msg))
		return Parse(msg)
	}
}

// Upload streams r to the server and waits for the answer. A server-side
// failure is returned as *RemoteError.
func (web *WebSocket) Upload(filename, contentType string, r io.Reader) (string, error) {
	if err := web.Send(Start(filename, contentType)); err != nil {
		return "", web.early(fmt.Errorf("send start: %w", err))
	}

	buf := make([]byte, ChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if werr := web.SendChunk(buf[:n]); werr != nil {
				return "", web.early(fmt.Errorf("send chunk: %w", werr))
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read input: %w", err)
		}
	}

	if err := web.Send(End()); err != nil {
		return "", web.early(fmt.Errorf("send end: %w", err))
	}

	m, err := web.Receive()
	if err != nil {
		return "", err
	}
	switch m.Type {
	case TypeResult:
		return m.Text(), nil
	case TypeError:
		return "", m.Err()
	default:
		return "", fmt.Errorf("unexpected %q message", m.Type)
	}
}

// early prefers an error the server sent before a write failed, e.g. 413.
func (web *WebSocket) early(werr error) error {
	if m, err := web.Receive(); err == nil && m.Type == TypeError {
		return m.Err()
	}
	return werr
}

func (web *WebSocket) Close() error {
	msg := ws.FormatCloseMessage(ws.CloseNormalClosure, "")
	_ = web.conn.WriteControl(ws.CloseMessage, msg, time.Now().Add(time.Second))
	return web.conn.Close()
}

func WsIsClosed(err error) bool {
	return ws.IsCloseError(err,
		ws.CloseNormalClosure,
		ws.CloseGoingAway,
		ws.CloseAbnormalClosure)
}
