package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Huddle/internal/app/events"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
)

type server struct {
	*httptest.Server
	conns chan *websocket.Conn
}

func newServer(t *testing.T) *server {
	t.Helper()
	s := &server{conns: make(chan *websocket.Conn, 8)}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- conn
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *server) url() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *server) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-s.conns:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("no connection")
		return nil
	}
}

type recorder struct {
	mu     sync.Mutex
	events []events.Name
	msgs   []protocol.Message
}

func (r *recorder) Publish(name events.Name, _ any) {
	r.mu.Lock()
	r.events = append(r.events, name)
	r.mu.Unlock()
}

func (r *recorder) handle(m protocol.Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
}

func (r *recorder) count(name events.Name) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == name {
			n++
		}
	}
	return n
}

func (r *recorder) received() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func start(t *testing.T, c *Client) chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Connect(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = c.Close()
	})
	return done
}

func TestSendAndReceive(t *testing.T) {
	srv := newServer(t)
	rec := &recorder{}
	c := New(Options{URL: srv.url(), Handler: rec.handle, Bus: rec, InitialInterval: 10 * time.Millisecond})

	assert.ErrorIs(t, c.Send(protocol.New(protocol.TypePing, "")), domain.ErrChannelUnavailable)

	start(t, c)
	conn := srv.accept(t)
	require.Eventually(t, c.Connected, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, rec.count(events.ConnectionEstablished))

	require.NoError(t, c.Send(protocol.New(protocol.TypeJoinSession, "s1")))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	m, err := protocol.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeJoinSession, m.Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"nonsense"}`)))
	frame, err := protocol.Encode(protocol.New(protocol.TypePong, "s1"))
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
	require.Eventually(t, func() bool { return rec.received() == 1 }, time.Second, 5*time.Millisecond)
}

func TestReconnectsAfterDrop(t *testing.T) {
	srv := newServer(t)
	rec := &recorder{}
	c := New(Options{URL: srv.url(), Bus: rec, InitialInterval: 10 * time.Millisecond, MaxInterval: 50 * time.Millisecond})
	start(t, c)

	first := srv.accept(t)
	require.NoError(t, first.Close())

	srv.accept(t)
	require.Eventually(t, func() bool { return rec.count(events.ConnectionEstablished) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, rec.count(events.ConnectionLost), 1)
}

func TestGivesUpAfterMaxElapsed(t *testing.T) {
	srv := newServer(t)
	url := srv.url()
	srv.Close()

	rec := &recorder{}
	c := New(Options{URL: url, Bus: rec, InitialInterval: 5 * time.Millisecond, MaxInterval: 10 * time.Millisecond, MaxElapsed: 50 * time.Millisecond})
	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, domain.ErrChannelUnavailable)
	assert.GreaterOrEqual(t, rec.count(events.ConnectionLost), 1)
	assert.Zero(t, rec.count(events.ConnectionEstablished))
}

func TestCloseStopsConnect(t *testing.T) {
	srv := newServer(t)
	c := New(Options{URL: srv.url()})
	done := start(t, c)
	srv.accept(t)
	require.Eventually(t, c.Connected, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return")
	}
	assert.ErrorIs(t, c.Send(protocol.New(protocol.TypePing, "")), domain.ErrChannelUnavailable)
}
