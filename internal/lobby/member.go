package lobby

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

// Member is one anonymous lobby connection. It has no name until it joins.
type Member struct {
	conn     *websocket.Conn
	hub      *Hub
	log      *zap.Logger
	name     string
	send     chan *Event
	stop     chan struct{}
	stopOnce sync.Once
}

func newMember(conn *websocket.Conn, hub *Hub) *Member {
	return &Member{
		conn: conn,
		hub:  hub,
		log:  hub.log,
		send: make(chan *Event, 64),
		stop: make(chan struct{}),
	}
}

func (m *Member) write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		m.conn.Close()
	}()

	for {
		select {
		case ev := <-m.send:
			m.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := m.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-m.stop:
			return
		case <-ticker.C:
			m.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := m.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (m *Member) read() {
	defer func() {
		m.conn.Close()
		m.hub.leave(m)
		m.stopMember()
	}()

	m.conn.SetReadLimit(maxMessageSize)
	m.conn.SetReadDeadline(time.Now().Add(pongWait))
	m.conn.SetPongHandler(func(string) error { m.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := m.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				m.log.Debug("lobby read", zap.Error(err))
			}
			return
		}

		frame, err := parseFrame(raw)
		if err != nil {
			m.queue(systemMessage("invalid event"))
			continue
		}

		if !m.hub.dispatch(m, frame) {
			return
		}
	}
}

func parseFrame(raw []byte) (*Frame, error) {
	var f Frame
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, err
	}

	if n := f.numEvents(); n != 1 {
		return nil, fmt.Errorf("expected exactly one event, got %d", n)
	}

	return &f, nil
}

func (m *Member) queue(ev *Event) bool {
	select {
	case m.send <- ev:
		return true
	default:
		m.log.Debug("lobby member buffer full", zap.String("name", m.name))
		return false
	}
}

func (m *Member) stopMember() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
}
