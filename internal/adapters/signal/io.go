package signal

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/protocol"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(ctl.opts.WriteWait))
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		}
	}
}

// readPump owns the connection's lifetime: when it stops the participant is
// disconnected from its session.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, member core.MemberSession, c *WsSignalConn) {
	pid := member.ID()
	defer func() {
		cancel()
		c.Close()
		ctl.Orch.Disconnect(pid, member)
		if _, bound := ctl.Orch.Registry.Member(pid); !bound {
			ctl.limiter.Forget(pid)
		}
		log.Info().Str("module", "signal").Str("participant", string(pid)).Msg("readPump closing")
	}()

	pongWait := ctl.opts.PingPeriod * 10 / 9
	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "signal").Str("participant", string(pid)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		ctl.handleSignal(member, c, data)
	}
}

func (ctl *SignalWSController) handleSignal(member core.MemberSession, c *WsSignalConn, data []byte) {
	pid := member.ID()
	msg, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("participant", string(pid)).Msg("bad frame")
		ctl.sendMessage(c, protocol.ErrorMessage("", "", err))
		return
	}

	switch msg.Type {
	case protocol.TypePing:
		ctl.sendMessage(c, protocol.New(protocol.TypePong, msg.SessionID))
		return
	case protocol.TypeChatMessage, protocol.TypeMessageReaction:
		if !ctl.limiter.Allow(pid) {
			log.Debug().Str("module", "signal").Str("participant", string(pid)).Msg("chat rate limited")
			ctl.sendMessage(c, protocol.ErrorMessage(msg.SessionID, msg.Type, protocol.ErrRateLimited))
			return
		}
	}

	if err := ctl.Orch.Handle(pid, msg); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("participant", string(pid)).Str("type", string(msg.Type)).Msg("request failed")
		ctl.sendMessage(c, protocol.ErrorMessage(msg.SessionID, msg.Type, err))
	}
}

func (ctl *SignalWSController) sendMessage(c *WsSignalConn, m protocol.Message) {
	b, err := protocol.Encode(m)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendMessage encode")
		return
	}
	if err := c.TrySend(b); err != nil && !errors.Is(err, core.ErrSignalClosed) {
		log.Warn().Err(err).Str("module", "signal").Str("type", string(m.Type)).Msg("sendMessage")
	}
}
