package lobby

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lendloop/realtime/internal/stats"
	"github.com/lendloop/realtime/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestHub(t *testing.T) *Hub {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", metricLobbyMembers).Once()
	su.On("Incr", metricLobbyMembers).Maybe()
	su.On("Decr", metricLobbyMembers).Maybe()
	return NewHub(testutil.TestLogger(t), su, nil)
}

func testMember(h *Hub, name string) *Member {
	m := &Member{hub: h, log: h.log, name: name, send: make(chan *Event, 8), stop: make(chan struct{})}
	h.members[m] = struct{}{}
	return m
}

func drain(m *Member) []*Event {
	var out []*Event
	for {
		select {
		case ev := <-m.send:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestParseFrame(t *testing.T) {
	tcases := []struct {
		name string
		raw  string
		err  bool
	}{
		{name: "join", raw: `{"join":{"name":"ada"}}`},
		{name: "send", raw: `{"send":{"text":"hello"}}`},
		{name: "typing", raw: `{"typing":{}}`},
		{name: "empty", raw: `{}`, err: true},
		{name: "two events", raw: `{"join":{"name":"ada"},"typing":{}}`, err: true},
		{name: "unknown event", raw: `{"leave":{}}`, err: true},
		{name: "not json", raw: `hi`, err: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseFrame([]byte(tc.raw))
			if tc.err {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHub_handleEvent(t *testing.T) {
	t.Run("join broadcasts system message and members", func(t *testing.T) {
		h := newTestHub(t)
		existing := testMember(h, "bob")
		newcomer := testMember(h, "")

		h.handleEvent(newcomer, &Frame{Join: &Join{Name: "  ada "}})

		assert.Equal(t, "ada", newcomer.name)
		for _, m := range []*Member{existing, newcomer} {
			evs := drain(m)
			require.Len(t, evs, 2)
			assert.True(t, evs[0].Message.System)
			assert.Equal(t, "ada joined the chat", evs[0].Message.Text)
			assert.Equal(t, []string{"ada", "bob"}, *evs[1].Members)
		}
	})

	t.Run("join twice rejected", func(t *testing.T) {
		h := newTestHub(t)
		m := testMember(h, "ada")

		h.handleEvent(m, &Frame{Join: &Join{Name: "eve"}})

		evs := drain(m)
		require.Len(t, evs, 1)
		assert.Equal(t, "already joined", evs[0].Message.Text)
		assert.Equal(t, "ada", m.name)
	})

	t.Run("blank name rejected", func(t *testing.T) {
		h := newTestHub(t)
		m := testMember(h, "")

		h.handleEvent(m, &Frame{Join: &Join{Name: "   "}})

		assert.Equal(t, "", m.name)
		assert.Len(t, drain(m), 1)
	})

	t.Run("send reaches every member", func(t *testing.T) {
		h := newTestHub(t)
		ada := testMember(h, "ada")
		bob := testMember(h, "bob")
		lurker := testMember(h, "")

		h.handleEvent(ada, &Frame{Send: &Send{Text: "hello"}})

		for _, m := range []*Member{ada, bob, lurker} {
			evs := drain(m)
			require.Len(t, evs, 1)
			assert.Equal(t, "ada", evs[0].Message.Name)
			assert.Equal(t, "hello", evs[0].Message.Text)
			assert.False(t, evs[0].Message.System)
		}
	})

	t.Run("send before join rejected privately", func(t *testing.T) {
		h := newTestHub(t)
		anon := testMember(h, "")
		bob := testMember(h, "bob")

		h.handleEvent(anon, &Frame{Send: &Send{Text: "hello"}})

		evs := drain(anon)
		require.Len(t, evs, 1)
		assert.True(t, evs[0].Message.System)
		assert.Empty(t, drain(bob), "expected error not to be broadcast")
	})

	t.Run("typing skips sender", func(t *testing.T) {
		h := newTestHub(t)
		ada := testMember(h, "ada")
		bob := testMember(h, "bob")

		h.handleEvent(ada, &Frame{Typing: &Typing{}})

		assert.Empty(t, drain(ada))
		evs := drain(bob)
		require.Len(t, evs, 1)
		assert.Equal(t, "ada", evs[0].Typing.Name)
	})
}

func TestHub_handleLeave(t *testing.T) {
	h := newTestHub(t)
	ada := testMember(h, "ada")
	bob := testMember(h, "bob")

	h.handleLeave(ada)

	assert.NotContains(t, h.members, ada)
	evs := drain(bob)
	require.Len(t, evs, 2)
	assert.Equal(t, "ada left the chat", evs[0].Message.Text)
	assert.Equal(t, []string{"bob"}, *evs[1].Members)

	h.handleLeave(ada)
	assert.Empty(t, drain(bob), "expected repeated leave to be ignored")
}

func TestHub_ServeWS(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything)
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()

	h := NewHub(zap.NewNop(), su, nil)
	go h.Run()

	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer func() {
		srv.Close()
		h.Shutdown(context.Background())
	}()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	read := func(c *websocket.Conn) *Event {
		c.SetReadDeadline(time.Now().Add(2 * time.Second))
		var ev Event
		require.NoError(t, c.ReadJSON(&ev))
		return &ev
	}

	bob, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer bob.Close()

	require.NoError(t, bob.WriteJSON(map[string]any{"join": map[string]string{"name": "bob"}}))
	assert.Equal(t, "bob joined the chat", read(bob).Message.Text)
	assert.Equal(t, []string{"bob"}, *read(bob).Members)

	ada, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ada.Close()

	require.NoError(t, ada.WriteJSON(map[string]any{"join": map[string]string{"name": "ada"}}))
	assert.Equal(t, "ada joined the chat", read(bob).Message.Text)
	assert.Equal(t, []string{"ada", "bob"}, *read(bob).Members)
	assert.Equal(t, "ada joined the chat", read(ada).Message.Text)
	assert.Equal(t, []string{"ada", "bob"}, *read(ada).Members)

	require.NoError(t, ada.WriteJSON(map[string]any{"send": map[string]string{"text": "hi all"}}))
	assert.Equal(t, "hi all", read(ada).Message.Text)
	assert.Equal(t, "hi all", read(bob).Message.Text)

	ada.Close()
	assert.Equal(t, "ada left the chat", read(bob).Message.Text)
}
