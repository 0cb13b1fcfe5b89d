// Package lobby is the anonymous broadcast chat. Members pick a display name,
// nothing is verified and nothing is stored. It shares no state with the
// authenticated router.
package lobby

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/lendloop/realtime/internal/stats"
	"go.uber.org/zap"
)

const metricLobbyMembers = "lobby_members"

type inbound struct {
	member *Member
	frame  *Frame
}

type stopReq struct {
	done chan struct{}
}

type Hub struct {
	log       *zap.Logger
	stats     stats.StatsProvider
	validate  *validator.Validate
	upgrader  websocket.Upgrader
	members   map[*Member]struct{}
	joinChan  chan *Member
	leaveChan chan *Member
	eventChan chan inbound
	stop      chan stopReq
	done      chan struct{}
}

func NewHub(logger *zap.Logger, su stats.StatsProvider, allowedOrigins []string) *Hub {
	h := &Hub{
		log:       logger.Named("lobby"),
		stats:     su,
		validate:  validator.New(),
		members:   make(map[*Member]struct{}),
		joinChan:  make(chan *Member),
		leaveChan: make(chan *Member),
		eventChan: make(chan inbound, 256),
		stop:      make(chan stopReq),
		done:      make(chan struct{}),
	}

	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowedOrigins, origin)
		},
	}

	h.stats.RegisterMetric(metricLobbyMembers)
	return h
}

// ServeWS upgrades the request into a lobby member.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("error upgrading connection", zap.Error(err))
		return
	}

	m := newMember(conn, h)
	select {
	case h.joinChan <- m:
	case <-h.done:
		conn.Close()
		return
	}

	go m.write()
	go m.read()
}

func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case m := <-h.joinChan:
			h.members[m] = struct{}{}
			h.stats.Incr(metricLobbyMembers)
		case m := <-h.leaveChan:
			h.handleLeave(m)
		case in := <-h.eventChan:
			h.handleEvent(in.member, in.frame)
		case req := <-h.stop:
			for m := range h.members {
				m.stopMember()
				delete(h.members, m)
				h.stats.Decr(metricLobbyMembers)
			}
			close(req.done)
			return
		}
	}
}

// dispatch hands a frame to the Run loop. It reports false once the hub
// has stopped.
func (h *Hub) dispatch(m *Member, f *Frame) bool {
	select {
	case h.eventChan <- inbound{member: m, frame: f}:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(m *Member) {
	select {
	case h.leaveChan <- m:
	case <-h.done:
	}
}

func (h *Hub) handleLeave(m *Member) {
	if _, ok := h.members[m]; !ok {
		return
	}

	delete(h.members, m)
	h.stats.Decr(metricLobbyMembers)

	if m.name != "" {
		h.broadcast(systemMessage(fmt.Sprintf("%s left the chat", m.name)), nil)
		h.broadcastMembers()
	}
}

func (h *Hub) handleEvent(m *Member, f *Frame) {
	if _, ok := h.members[m]; !ok {
		return
	}

	switch {
	case f.Join != nil:
		name := strings.TrimSpace(f.Join.Name)
		if err := h.validate.Var(name, "required,max=32"); err != nil {
			m.queue(systemMessage("a display name of at most 32 characters is required"))
			return
		}
		if m.name != "" {
			m.queue(systemMessage("already joined"))
			return
		}

		m.name = name
		h.broadcast(systemMessage(fmt.Sprintf("%s joined the chat", name)), nil)
		h.broadcastMembers()
	case f.Send != nil:
		if m.name == "" {
			m.queue(systemMessage("join before sending messages"))
			return
		}
		if err := h.validate.Struct(f.Send); err != nil || strings.TrimSpace(f.Send.Text) == "" {
			m.queue(systemMessage("message text must be between 1 and 2048 characters"))
			return
		}

		h.broadcast(chatMessage(m.name, f.Send.Text), nil)
	case f.Typing != nil:
		if m.name == "" {
			m.queue(systemMessage("join before typing"))
			return
		}

		h.broadcast(&Event{Typing: &TypingEvent{Name: m.name}}, m)
	}
}

func (h *Hub) broadcast(ev *Event, skip *Member) {
	for m := range h.members {
		if m == skip {
			continue
		}
		m.queue(ev)
	}
}

func (h *Hub) broadcastMembers() {
	names := h.memberNames()
	h.broadcast(&Event{Members: &names}, nil)
}

func (h *Hub) memberNames() []string {
	names := make([]string, 0, len(h.members))
	for m := range h.members {
		if m.name != "" {
			names = append(names, m.name)
		}
	}
	sort.Strings(names)
	return names
}

func (h *Hub) Shutdown(ctx context.Context) error {
	req := stopReq{done: make(chan struct{})}
	select {
	case h.stop <- req:
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
