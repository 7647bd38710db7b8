package stream

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

// WSSubscriber adapts a websocket connection to the Subscriber interface.
// Writes go through a buffered channel drained by a single writePump, so
// Emit never blocks on a slow client.
type WSSubscriber struct {
	conn *websocket.Conn
	send chan []byte

	mu        sync.Mutex
	closed    bool
	onceClose sync.Once
}

// NewWSSubscriber wraps conn and starts its write pump.
func NewWSSubscriber(conn *websocket.Conn) *WSSubscriber {
	s := &WSSubscriber{
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	go s.writePump()
	return s
}

// Send queues payload for delivery. A full buffer or a closed subscriber
// is an error so the hub prunes us.
func (s *WSSubscriber) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return websocket.ErrCloseSent
	}
	select {
	case s.send <- payload:
		return nil
	default:
		return websocket.ErrCloseSent
	}
}

// Alive reports whether the subscriber still accepts sends.
func (s *WSSubscriber) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Close marks the subscriber dead and closes the connection.
func (s *WSSubscriber) Close() error {
	var err error
	s.onceClose.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.send)
		s.mu.Unlock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		err = s.conn.Close()
	})
	return err
}

func (s *WSSubscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
