package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Outbound frames buffered before Send blocks
	sendBuffer = 256
)

// Message types sent to the peer
const (
	TypeAccepted = "accepted"
	TypeRestart  = "restart"
	TypeResult   = "result"
	TypeError    = "error"
)

// ErrSessionClosed is returned by Send once the session has shut down
var ErrSessionClosed = errors.New("websocket session closed")

// Message is the JSON envelope of every server frame
type Message struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// Session streams JSON messages to one peer.
// A single write pump owns all writes; reads happen on the caller's goroutine.
type Session struct {
	conn Connection
	send chan []byte
	stop chan struct{}
	done chan struct{}

	closeOnce sync.Once
	closeCode int
	closeText string

	id          string
	traceID     string
	remoteAddr  string
	connectedAt time.Time
	logger      *slog.Logger

	messagesSent atomic.Int64
	bytesSent    atomic.Int64
}

// NewSession wraps conn and starts its write pump
func NewSession(conn Connection, traceID string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}

	id := uuid.New().String()
	s := &Session{
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		closeCode:   websocket.CloseNormalClosure,
		id:          id,
		traceID:     traceID,
		remoteAddr:  conn.RemoteAddr(),
		connectedAt: time.Now(),
		logger: logger.With(
			slog.String("component", "websocket.session"),
			slog.String("session_id", id),
		),
	}

	go s.writePump()
	return s
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// ReadJSON reads one text frame of at most limit bytes into v
func (s *Session) ReadJSON(v interface{}, limit int64) error {
	s.conn.SetReadLimit(limit)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))

	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// WatchPeer blocks reading frames until the peer disconnects or the session
// closes, then calls onGone. Frames from the peer are discarded.
func (s *Session) WatchPeer(onGone func()) {
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("peer connection lost", slog.String("error", err.Error()))
			}
			onGone()
			return
		}
	}
}

// Send queues a message; it blocks while the buffer is full
func (s *Session) Send(ctx context.Context, msgType string, data interface{}) error {
	payload, err := json.Marshal(Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		TraceID:   s.traceID,
		Data:      data,
	})
	if err != nil {
		return err
	}

	select {
	case <-s.stop:
		return ErrSessionClosed
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.send <- payload:
		return nil
	case <-s.stop:
		return ErrSessionClosed
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes queued messages, sends a close frame and waits for the pump to exit
func (s *Session) Close(code int, text string) {
	s.closeOnce.Do(func() {
		s.closeCode = code
		s.closeText = text
		close(s.stop)
	})

	select {
	case <-s.done:
	case <-time.After(2 * writeWait):
		s.logger.Warn("write pump did not stop in time")
		s.conn.Close()
	}
}

// Done is closed once the session's connection has been released
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
		close(s.done)

		s.logger.Info("websocket session closed",
			slog.String("remote_addr", s.remoteAddr),
			slog.Int64("messages_sent", s.messagesSent.Load()),
			slog.Int64("bytes_sent", s.bytesSent.Load()),
			slog.Duration("connected", time.Since(s.connectedAt)),
		)
	}()

	for {
		select {
		case msg := <-s.send:
			if err := s.writeText(msg); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Debug("failed to send ping", slog.String("error", err.Error()))
				return
			}

		case <-s.stop:
			if err := s.flush(); err != nil {
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(s.closeCode, s.closeText))
			return
		}
	}
}

// flush writes whatever is still buffered
func (s *Session) flush() error {
	for {
		select {
		case msg := <-s.send:
			if err := s.writeText(msg); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (s *Session) writeText(msg []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		s.logger.Error("error writing message to websocket", slog.String("error", err.Error()))
		return err
	}
	s.messagesSent.Add(1)
	s.bytesSent.Add(int64(len(msg)))
	return nil
}
