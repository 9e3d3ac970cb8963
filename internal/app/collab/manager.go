// Package collab is the client side of a collaboration session. A Manager
// keeps a mirror of the server's session record, drives the peer mesh from
// the signaling it receives and reports everything on an event bus.
package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/app/events"
	"github.com/dkeye/Huddle/internal/app/mesh"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/permission"
	"github.com/dkeye/Huddle/internal/protocol"
)

// ErrNotJoined is returned by actions attempted before the server has
// confirmed the join.
var ErrNotJoined = fmt.Errorf("session not joined: %w", domain.ErrNotParticipant)

// Sender is the outbound half of the signaling channel.
type Sender interface {
	Send(m protocol.Message) error
}

// closer is implemented by senders that own the channel; it is closed when
// the session ends.
type closer interface {
	Close() error
}

type Options struct {
	Self        domain.ParticipantID
	DisplayName string
	Session     domain.SessionID
	Sender      Sender
	Bus         *events.Bus

	// Media overrides the peer mesh built from Transport.
	Media     core.MediaFanout
	Transport mesh.TransportFactory
	Retries   int
	Source    core.MediaSource

	Now func() time.Time
}

type Manager struct {
	self    domain.ParticipantID
	name    string
	sid     domain.SessionID
	sender  Sender
	bus     *events.Bus
	media   core.MediaFanout
	source  core.MediaSource
	now     func() time.Time
	checker *permission.Checker

	ctx    context.Context
	cancel context.CancelFunc
	seq    atomic.Uint64

	mu      sync.Mutex
	mirror  core.SessionService
	joining bool
	dropped bool
	ended   bool
	pending chan error
	local   domain.MediaState
	camera  bool

	unsubs []func()
}

func New(opts Options) *Manager {
	if opts.Bus == nil {
		opts.Bus = events.NewBus()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DisplayName == "" {
		opts.DisplayName = string(opts.Self)
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		self:    opts.Self,
		name:    opts.DisplayName,
		sid:     opts.Session,
		sender:  opts.Sender,
		bus:     opts.Bus,
		media:   opts.Media,
		source:  opts.Source,
		now:     opts.Now,
		checker: permission.NewChecker(opts.Now),
		ctx:     ctx,
		cancel:  cancel,
	}
	if m.media == nil && opts.Transport != nil {
		m.media = mesh.New(mesh.Options{
			Self:     opts.Self,
			Factory:  opts.Transport,
			Signaler: signaler{m},
			Bus:      opts.Bus,
			Retries:  opts.Retries,
		})
	}
	m.unsubs = append(m.unsubs,
		m.bus.Subscribe(events.ConnectionLost, func(events.Event) { m.onLost() }),
		m.bus.Subscribe(events.ConnectionEstablished, func(events.Event) { m.onEstablished() }),
	)
	return m
}

// signaler stamps mesh output with the session before sending.
type signaler struct{ m *Manager }

func (s signaler) Send(msg protocol.Message) error { return s.m.send(msg) }

func (m *Manager) Self() domain.ParticipantID { return m.self }
func (m *Manager) SessionID() domain.SessionID { return m.sid }
func (m *Manager) Bus() *events.Bus            { return m.bus }
func (m *Manager) Media() core.MediaFanout     { return m.media }

func (m *Manager) Subscribe(name events.Name, fn events.Handler) (unsubscribe func()) {
	return m.bus.Subscribe(name, fn)
}

// Session returns a snapshot of the mirror.
func (m *Manager) Session() (domain.Session, bool) {
	s := m.current()
	if s == nil {
		return domain.Session{}, false
	}
	return s.Snapshot(), true
}

func (m *Manager) current() core.SessionService {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mirror
}

// joined returns the mirror once the server has confirmed the join.
func (m *Manager) joined() (core.SessionService, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return nil, fmt.Errorf("session %s: %w", m.sid, domain.ErrSessionEnded)
	}
	if m.mirror == nil {
		return nil, ErrNotJoined
	}
	return m.mirror, nil
}

// Join asks the server to admit this participant and waits for the session
// state or a rejection. A disconnected channel does not fail the join: it is
// sent again once the connection is up.
func (m *Manager) Join(ctx context.Context) error {
	m.mu.Lock()
	if m.ended {
		m.mu.Unlock()
		return fmt.Errorf("session %s: %w", m.sid, domain.ErrSessionEnded)
	}
	m.joining = true
	wait := make(chan error, 1)
	m.pending = wait
	m.mu.Unlock()

	if err := m.sendJoin(); err != nil && !errors.Is(err, domain.ErrChannelUnavailable) {
		return err
	}
	select {
	case err := <-wait:
		return err
	case <-ctx.Done():
		m.mu.Lock()
		if m.pending == wait {
			m.pending = nil
		}
		m.mu.Unlock()
		return ctx.Err()
	}
}

func (m *Manager) sendJoin() error {
	m.mu.Lock()
	me := domain.Participant{ID: m.self, DisplayName: m.name, Status: domain.StatusOnline, Media: m.local}
	m.mu.Unlock()
	msg := protocol.New(protocol.TypeJoinSession, m.sid)
	msg.Participant = &me
	return m.send(msg)
}

func (m *Manager) resolveJoin(err error) {
	m.mu.Lock()
	wait := m.pending
	m.pending = nil
	m.mu.Unlock()
	if wait != nil {
		wait <- err
	}
}

// Leave exits the session and closes every peer link. The channel stays
// open.
func (m *Manager) Leave() error {
	m.mu.Lock()
	m.joining = false
	m.mu.Unlock()
	err := m.send(protocol.New(protocol.TypeLeaveSession, m.sid))
	m.teardown(true)
	m.bus.Publish(events.ParticipantLeft, Left{Participant: m.self, By: m.self})
	if errors.Is(err, domain.ErrChannelUnavailable) {
		return nil
	}
	return err
}

// Close leaves the session if needed and detaches from the bus.
func (m *Manager) Close() {
	m.mu.Lock()
	active := m.joining
	m.mu.Unlock()
	if active {
		_ = m.Leave()
	}
	m.cancel()
	for _, u := range m.unsubs {
		u()
	}
}

// teardown closes every link and releases local media. The mirror is
// dropped when dropMirror is set; an ended session keeps it readable.
func (m *Manager) teardown(dropMirror bool) {
	m.mu.Lock()
	if dropMirror {
		m.mirror = nil
	}
	local := m.local
	m.local = domain.MediaState{}
	m.camera = false
	m.mu.Unlock()

	if m.media != nil {
		m.media.CloseAll()
	}
	if m.source != nil {
		if local.Audio {
			m.source.Release(core.KindAudio)
		}
		if local.Video {
			m.source.Release(core.KindVideo)
		}
		if local.Screen {
			m.source.Release(core.KindScreen)
		}
	}
}

// finish applies the end of the session: links and media go away, the
// mirror stays readable in its ended state and the channel is closed.
func (m *Manager) finish(by domain.ParticipantID) {
	m.mu.Lock()
	if m.ended {
		m.mu.Unlock()
		return
	}
	m.ended = true
	m.joining = false
	m.mu.Unlock()

	m.teardown(false)
	m.resolveJoin(fmt.Errorf("session %s: %w", m.sid, domain.ErrSessionEnded))
	log.Info().Str("module", "collab").Str("session", string(m.sid)).Str("by", string(by)).Msg("session ended")
	m.bus.Publish(events.SessionEnded, Ended{Session: m.sid, By: by})
	if c, ok := m.sender.(closer); ok {
		if err := c.Close(); err != nil {
			log.Debug().Err(err).Str("module", "collab").Msg("close channel")
		}
	}
}

// Ended reports whether the session has ended.
func (m *Manager) Ended() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ended
}

func (m *Manager) onLost() {
	m.mu.Lock()
	m.dropped = true
	m.mu.Unlock()
}

// onEstablished sends a join that is still waiting for a connection and
// rejoins after a drop. The server forgot this participant when the old
// connection closed and peers rebuild their links once they see the new
// join, so stale links go first.
func (m *Manager) onEstablished() {
	m.mu.Lock()
	rejoin := (m.dropped || m.pending != nil) && m.joining && !m.ended
	m.dropped = false
	m.mu.Unlock()
	if !rejoin {
		return
	}
	log.Info().Str("module", "collab").Str("session", string(m.sid)).Msg("sending join after connect")
	if m.media != nil {
		for _, l := range m.media.Links() {
			m.media.RemovePeer(l.Peer)
		}
	}
	if err := m.sendJoin(); err != nil {
		log.Warn().Err(err).Str("module", "collab").Msg("rejoin")
	}
}

// send stamps msg with the session and hands it to the channel. Sends are
// fire and forget: failures are logged and returned for callers that care.
func (m *Manager) send(msg protocol.Message) error {
	msg.SessionID = m.sid
	if msg.From == "" {
		msg.From = m.self
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = m.now().UnixMilli()
	}
	if m.sender == nil {
		return domain.ErrChannelUnavailable
	}
	if err := m.sender.Send(msg); err != nil {
		log.Debug().Err(err).Str("module", "collab").Str("type", string(msg.Type)).Msg("send failed")
		return err
	}
	return nil
}

func (m *Manager) nextSeq() uint64 { return m.seq.Add(1) }

// fail reports err on the bus and returns it.
func (m *Manager) fail(err error) error {
	m.bus.Publish(events.ErrorReceived, err)
	return err
}
