package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	ws "github.com/gorilla/websocket"

	"scribe/internal/speech"
	"scribe/pkg/protocol"
)

const closeGrace = 5 * time.Second

var upgrader = ws.Upgrader{
	ReadBufferSize:  protocol.ChunkSize,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleStream accepts an upload as a start frame, binary chunks and an end
// frame, then answers with a single result or error frame.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		s.log.Warn("WebSocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	id := getRequestID(r)
	reply := func(m protocol.Message) {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(ws.TextMessage, m.Encode()); err != nil {
			s.log.Warn("WebSocket write failed", "err", err, "request_id", id)
			return
		}
		msg := ws.FormatCloseMessage(ws.CloseNormalClosure, "")
		_ = conn.WriteControl(ws.CloseMessage, msg, time.Now().Add(time.Second))

		// drain until the client acknowledges the close
		_ = conn.SetReadDeadline(time.Now().Add(closeGrace))
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}
	fail := func(err error) {
		code, detail := statusOf(err)
		s.metrics.RecordTranscription(resultLabel(code))
		if code >= 500 {
			s.log.Error("Transcription error", "err", err, "request_id", id)
		}
		reply(protocol.Error(code, detail))
	}

	if !s.speech.Ready() {
		fail(speech.ErrNotLoaded)
		return
	}

	conn.SetReadLimit(int64(protocol.ChunkSize) * 4)
	start, err := readStart(conn)
	if err != nil {
		fail(err)
		return
	}

	up := upload{filename: start.Filename, contentType: start.ContentType}
	body := &frameReader{conn: conn, limit: s.upload.MaxBytes}
	text, err := s.transcribe(r.Context(), id, up, body)
	if err != nil {
		fail(err)
		return
	}

	s.metrics.RecordTranscription("success")
	reply(protocol.Result(up.filename, text))
}

func readStart(conn *ws.Conn) (protocol.Message, error) {
	kind, b, err := conn.ReadMessage()
	if err != nil {
		return protocol.Message{}, badRequest("Failed to read start message: %v", err)
	}
	if kind != ws.TextMessage {
		return protocol.Message{}, badRequest("Expected a start message before audio data")
	}
	m, err := protocol.Parse(b)
	if err != nil {
		return protocol.Message{}, badRequest("%v", err)
	}
	if m.Type != protocol.TypeStart {
		return protocol.Message{}, badRequest("Expected a start message, got %q", m.Type)
	}
	return m, nil
}

// frameReader exposes the binary frames up to the end message as one stream.
// Reading past limit fails with *http.MaxBytesError.
type frameReader struct {
	conn  *ws.Conn
	cur   io.Reader
	n     int64
	limit int64
	done  bool
}

func (fr *frameReader) Read(p []byte) (int, error) {
	for {
		if fr.done {
			return 0, io.EOF
		}

		if fr.cur != nil {
			n, err := fr.cur.Read(p)
			fr.n += int64(n)
			if fr.limit > 0 && fr.n > fr.limit {
				return 0, &http.MaxBytesError{Limit: fr.limit}
			}
			if errors.Is(err, io.EOF) {
				fr.cur = nil
				if n > 0 {
					return n, nil
				}
				continue
			}
			return n, err
		}

		kind, r, err := fr.conn.NextReader()
		if err != nil {
			return 0, badRequest("Upload interrupted: %v", err)
		}
		switch kind {
		case ws.BinaryMessage:
			fr.cur = r
		case ws.TextMessage:
			b, err := io.ReadAll(io.LimitReader(r, protocol.MaxControlSize+1))
			if err != nil {
				return 0, badRequest("Upload interrupted: %v", err)
			}
			m, err := protocol.Parse(b)
			if err != nil {
				return 0, badRequest("%v", err)
			}
			if m.Type != protocol.TypeEnd {
				return 0, badRequest("Unexpected %q message during upload", m.Type)
			}
			fr.done = true
		default:
			return 0, fmt.Errorf("unexpected frame type %d", kind)
		}
	}
}
