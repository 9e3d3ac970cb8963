// Package signal is the server end of the signaling channel. Every
// participant holds one websocket; frames are decoded and handed to the
// orchestrator, replies go out through a bounded send buffer.
package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

type Options struct {
	SendBuffer int
	ReadLimit  int64
	PingPeriod time.Duration
	WriteWait  time.Duration

	// ChatRate limits chat messages and reactions per participant. Zero
	// disables the limit.
	ChatRate  rate.Limit
	ChatBurst int
}

type SignalWSController struct {
	Orch *orch.Orchestrator

	opts    Options
	limiter *ChatLimiter
}

func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 64 << 10
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 5 * time.Second
	}
	ctl := &SignalWSController{Orch: o, opts: opts}
	if opts.ChatRate > 0 {
		ctl.limiter = NewChatLimiter(opts.ChatRate, opts.ChatBurst)
	}
	return ctl
}

// WsSignalConn implements core.SignalConnection over one websocket. The
// write pump is the only writer.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

var _ core.SignalConnection = (*WsSignalConn)(nil)

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrSignalClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and binds the connection to the
// participant named by the client token. A previous connection of the same
// participant is cancelled.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	pid := domain.ParticipantID(c.GetString("client_token"))
	if pid == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing client token"})
		return
	}
	name := c.Query("name")
	if name == "" {
		name = c.GetString("display_name")
	}
	if domain.ValidateDisplayName(name) != nil {
		name = guestName(pid)
	}
	log.Info().Str("module", "signal").Str("participant", string(pid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.opts.SendBuffer),
	}
	member := core.NewMemberSession(pid, name).UpdateSignal(conn)
	ctx, cancel := context.WithCancel(ctx)
	if previous := ctl.Orch.Registry.BindSignal(pid, member, cancel); previous != nil {
		log.Info().Str("module", "signal").Str("participant", string(pid)).Msg("replacing previous connection")
		previous()
	}

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, member, conn)
}

func guestName(pid domain.ParticipantID) string {
	id := string(pid)
	if len(id) > 8 {
		id = id[:8]
	}
	return "guest-" + id
}
