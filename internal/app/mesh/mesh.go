package mesh

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/app/events"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
)

const maxEarlyCandidates = 128

type Options struct {
	Self     domain.ParticipantID
	Factory  TransportFactory
	Signaler Signaler
	Bus      Publisher
	// Retries is how many times a failed link is rebuilt before the peer is
	// reported unreachable.
	Retries int
}

// Mesh implements core.MediaFanout with a full mesh of peer links.
//
// Lock order: Mesh.mu is never held while a link's mu is taken, and
// transports are only closed with neither held.
type Mesh struct {
	self    domain.ParticipantID
	factory TransportFactory
	sig     Signaler
	bus     Publisher
	retries int

	mu       sync.Mutex
	links    map[domain.ParticipantID]*link
	early    map[domain.ParticipantID][]webrtc.ICECandidateInit
	failures map[domain.ParticipantID]int
	tracks   map[core.TrackSlot]webrtc.TrackLocal
}

var _ core.MediaFanout = (*Mesh)(nil)

func New(opts Options) *Mesh {
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &Mesh{
		self:     opts.Self,
		factory:  opts.Factory,
		sig:      opts.Signaler,
		bus:      opts.Bus,
		retries:  opts.Retries,
		links:    make(map[domain.ParticipantID]*link),
		early:    make(map[domain.ParticipantID][]webrtc.ICECandidateInit),
		failures: make(map[domain.ParticipantID]int),
		tracks:   make(map[core.TrackSlot]webrtc.TrackLocal),
	}
}

// link is the negotiation state for one remote peer.
type link struct {
	peer   domain.ParticipantID
	tr     PeerTransport
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	// guarded by Mesh.mu
	state webrtc.PeerConnectionState

	mu          sync.Mutex
	negotiation core.NegotiationState
	remoteSet   bool
	pending     []webrtc.ICECandidateInit
	slots       map[core.TrackSlot]bool
}

func (l *link) close() {
	l.once.Do(func() {
		l.cancel()
		if err := l.tr.Close(); err != nil {
			log.Debug().Err(err).Str("module", "mesh").Str("peer", string(l.peer)).Msg("close transport")
		}
	})
}

// polite peers yield on offer collisions: they drop their own offer by
// restarting the link and answer the remote one.
func (m *Mesh) polite(peer domain.ParticipantID) bool { return m.self < peer }

func (m *Mesh) newLinkLocked(peer domain.ParticipantID) (*link, error) {
	tr, err := m.factory(peer)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &link{
		peer:        peer,
		tr:          tr,
		ctx:         ctx,
		cancel:      cancel,
		state:       webrtc.PeerConnectionStateNew,
		negotiation: core.NegotiationNew,
		pending:     m.early[peer],
		slots:       make(map[core.TrackSlot]bool),
	}
	delete(m.early, peer)
	tr.OnICECandidate(func(c webrtc.ICECandidateInit) {
		if l.ctx.Err() != nil {
			return
		}
		msg := protocol.New(protocol.TypeICECandidate, "")
		msg.Target = peer
		msg.Candidate = &c
		m.send(msg)
	})
	tr.OnStateChange(func(s webrtc.PeerConnectionState) { m.onState(l, s) })
	m.links[peer] = l
	return l, nil
}

func (m *Mesh) tracksLocked() map[core.TrackSlot]webrtc.TrackLocal {
	out := make(map[core.TrackSlot]webrtc.TrackLocal, len(m.tracks))
	for k, v := range m.tracks {
		out[k] = v
	}
	return out
}

func (m *Mesh) linksLocked() []*link {
	out := make([]*link, 0, len(m.links))
	for _, l := range m.links {
		out = append(out, l)
	}
	return out
}

func (m *Mesh) lookup(peer domain.ParticipantID) *link {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[peer]
}

// AddPeer opens a link to peer and sends the initial offer. An existing
// link to the same peer is replaced.
func (m *Mesh) AddPeer(ctx context.Context, peer domain.ParticipantID) error {
	m.mu.Lock()
	old := m.links[peer]
	delete(m.links, peer)
	l, err := m.newLinkLocked(peer)
	tracks := m.tracksLocked()
	m.mu.Unlock()

	if old != nil {
		old.close()
	}
	if err != nil {
		return m.failed(peer, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := m.attachLocked(l, tracks); err != nil {
		return m.failed(peer, err)
	}
	return m.offerLocked(ctx, l)
}

func (m *Mesh) attachLocked(l *link, tracks map[core.TrackSlot]webrtc.TrackLocal) error {
	for slot, track := range tracks {
		if _, err := l.tr.AttachTrack(slot, track); err != nil {
			return fmt.Errorf("attach %s: %w", slot, err)
		}
		l.slots[slot] = true
	}
	return nil
}

func (m *Mesh) offerLocked(ctx context.Context, l *link) error {
	offer, err := l.tr.CreateOffer(ctx)
	if err != nil {
		return m.failed(l.peer, err)
	}
	l.negotiation = core.NegotiationHaveLocalOffer
	msg := protocol.New(protocol.TypeOffer, "")
	msg.Target = l.peer
	msg.Offer = &offer
	m.send(msg)
	return nil
}

func (m *Mesh) HandleOffer(ctx context.Context, from domain.ParticipantID, offer webrtc.SessionDescription) error {
	m.mu.Lock()
	l := m.links[from]
	created := false
	if l == nil {
		var err error
		if l, err = m.newLinkLocked(from); err != nil {
			m.mu.Unlock()
			return m.failed(from, err)
		}
		created = true
	}
	tracks := m.tracksLocked()
	m.mu.Unlock()

	l.mu.Lock()
	if l.negotiation == core.NegotiationHaveLocalOffer {
		if !m.polite(from) {
			l.mu.Unlock()
			log.Debug().Str("module", "mesh").Str("peer", string(from)).Msg("offer collision, keeping ours")
			return nil
		}
		pending := l.pending
		l.pending = nil
		l.mu.Unlock()

		log.Debug().Str("module", "mesh").Str("peer", string(from)).Msg("offer collision, restarting link")
		var err error
		if l, tracks, err = m.restart(l, pending); err != nil {
			return m.failed(from, err)
		}
		created = true
		l.mu.Lock()
	}
	defer l.mu.Unlock()

	if err := l.tr.SetRemoteDescription(offer); err != nil {
		return m.failed(from, err)
	}
	l.negotiation = core.NegotiationHaveRemoteOffer
	l.remoteSet = true

	renegotiate := false
	if created {
		for slot, track := range tracks {
			again, err := l.tr.AttachTrack(slot, track)
			if err != nil {
				return m.failed(from, fmt.Errorf("attach %s: %w", slot, err))
			}
			l.slots[slot] = true
			renegotiate = renegotiate || again
		}
	}

	answer, err := l.tr.CreateAnswer(ctx)
	if err != nil {
		return m.failed(from, err)
	}
	l.negotiation = core.NegotiationStable
	m.flushLocked(l)

	msg := protocol.New(protocol.TypeAnswer, "")
	msg.Target = from
	msg.Answer = &answer
	m.send(msg)

	if renegotiate {
		return m.offerLocked(ctx, l)
	}
	return nil
}

// restart replaces old with a fresh link. The unanswered local offer is
// discarded with old's transport; candidates buffered on old carry over.
func (m *Mesh) restart(old *link, pending []webrtc.ICECandidateInit) (*link, map[core.TrackSlot]webrtc.TrackLocal, error) {
	m.mu.Lock()
	if m.links[old.peer] == old {
		delete(m.links, old.peer)
	}
	l, err := m.newLinkLocked(old.peer)
	tracks := m.tracksLocked()
	m.mu.Unlock()

	old.close()
	if err != nil {
		return nil, nil, err
	}
	l.mu.Lock()
	l.pending = append(pending, l.pending...)
	l.mu.Unlock()
	return l, tracks, nil
}

func (m *Mesh) HandleAnswer(from domain.ParticipantID, answer webrtc.SessionDescription) error {
	l := m.lookup(from)
	if l == nil {
		log.Debug().Str("module", "mesh").Str("peer", string(from)).Msg("answer for unknown peer dropped")
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.negotiation != core.NegotiationHaveLocalOffer {
		log.Debug().Str("module", "mesh").Str("peer", string(from)).Str("state", string(l.negotiation)).Msg("unexpected answer dropped")
		return nil
	}
	if err := l.tr.SetRemoteDescription(answer); err != nil {
		return m.failed(from, err)
	}
	l.remoteSet = true
	l.negotiation = core.NegotiationStable
	m.flushLocked(l)
	return nil
}

// HandleCandidate applies c once the remote description is known and
// buffers it until then. Candidates can arrive before the offer that
// creates the link; those wait in a per-peer queue.
func (m *Mesh) HandleCandidate(from domain.ParticipantID, c webrtc.ICECandidateInit) error {
	m.mu.Lock()
	l := m.links[from]
	if l == nil {
		if q := m.early[from]; len(q) < maxEarlyCandidates {
			m.early[from] = append(q, c)
		}
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.remoteSet {
		l.pending = append(l.pending, c)
		return nil
	}
	if err := l.tr.AddICECandidate(c); err != nil {
		return fmt.Errorf("candidate from %s: %w", from, err)
	}
	return nil
}

func (m *Mesh) flushLocked(l *link) {
	pending := l.pending
	l.pending = nil
	for _, c := range pending {
		if err := l.tr.AddICECandidate(c); err != nil {
			log.Warn().Err(err).Str("module", "mesh").Str("peer", string(l.peer)).Msg("buffered candidate rejected")
		}
	}
}

// PublishTrack makes track the outbound media for slot on every link.
func (m *Mesh) PublishTrack(ctx context.Context, slot core.TrackSlot, track webrtc.TrackLocal) error {
	m.mu.Lock()
	m.tracks[slot] = track
	links := m.linksLocked()
	m.mu.Unlock()

	var errs []error
	for _, l := range links {
		l.mu.Lock()
		renegotiate, err := l.tr.AttachTrack(slot, track)
		if err == nil {
			l.slots[slot] = true
			if renegotiate {
				err = m.offerLocked(ctx, l)
			}
		}
		l.mu.Unlock()
		if err != nil {
			errs = append(errs, fmt.Errorf("peer %s: %w", l.peer, err))
		}
	}
	return errors.Join(errs...)
}

// ReplaceTrack swaps the track in slot on every link without sending an
// offer. Links that have no sender for the slot fall back to attaching the
// track and renegotiating.
func (m *Mesh) ReplaceTrack(ctx context.Context, slot core.TrackSlot, track webrtc.TrackLocal) error {
	m.mu.Lock()
	if track == nil {
		delete(m.tracks, slot)
	} else {
		m.tracks[slot] = track
	}
	links := m.linksLocked()
	m.mu.Unlock()

	var errs []error
	for _, l := range links {
		replaced, err := m.replaceOn(ctx, l, slot, track)
		if err != nil {
			errs = append(errs, fmt.Errorf("peer %s: %w", l.peer, err))
			continue
		}
		if replaced && m.bus != nil {
			m.bus.Publish(events.PeerTrackReplaced, TrackReplaced{Peer: l.peer, Slot: slot})
		}
	}
	return errors.Join(errs...)
}

func (m *Mesh) replaceOn(ctx context.Context, l *link, slot core.TrackSlot, track webrtc.TrackLocal) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.tr.ReplaceTrack(slot, track)
	switch {
	case err == nil:
		if track == nil {
			delete(l.slots, slot)
		} else {
			l.slots[slot] = true
		}
		return true, nil
	case errors.Is(err, ErrNoSender) && track != nil:
		renegotiate, err := l.tr.AttachTrack(slot, track)
		if err != nil {
			return false, err
		}
		l.slots[slot] = true
		if renegotiate {
			return false, m.offerLocked(ctx, l)
		}
		return false, nil
	case errors.Is(err, ErrNoSender):
		return false, nil
	}
	return false, err
}

// UnpublishTrack stops sending on slot. Senders stay in place so a later
// publish needs no renegotiation.
func (m *Mesh) UnpublishTrack(ctx context.Context, slot core.TrackSlot) error {
	return m.ReplaceTrack(ctx, slot, nil)
}

func (m *Mesh) Links() []core.LinkInfo {
	type snap struct {
		l     *link
		state webrtc.PeerConnectionState
	}
	m.mu.Lock()
	snaps := make([]snap, 0, len(m.links))
	for _, l := range m.links {
		snaps = append(snaps, snap{l: l, state: l.state})
	}
	m.mu.Unlock()

	out := make([]core.LinkInfo, 0, len(snaps))
	for _, s := range snaps {
		s.l.mu.Lock()
		info := core.LinkInfo{
			Peer:        s.l.peer,
			Negotiation: s.l.negotiation,
			Connection:  s.state,
			Pending:     len(s.l.pending),
		}
		for slot, on := range s.l.slots {
			if on {
				info.Slots = append(info.Slots, slot)
			}
		}
		s.l.mu.Unlock()
		sort.Slice(info.Slots, func(i, j int) bool { return info.Slots[i] < info.Slots[j] })
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out
}

// RemovePeer closes the link to peer. Signaling that arrives afterwards
// for it is discarded.
func (m *Mesh) RemovePeer(peer domain.ParticipantID) {
	m.mu.Lock()
	l := m.links[peer]
	delete(m.links, peer)
	delete(m.early, peer)
	delete(m.failures, peer)
	m.mu.Unlock()
	if l != nil {
		l.close()
		log.Info().Str("module", "mesh").Str("peer", string(peer)).Msg("peer removed")
	}
}

// CloseAll tears down every link and forgets published tracks.
func (m *Mesh) CloseAll() {
	m.mu.Lock()
	links := m.linksLocked()
	m.links = make(map[domain.ParticipantID]*link)
	m.early = make(map[domain.ParticipantID][]webrtc.ICECandidateInit)
	m.failures = make(map[domain.ParticipantID]int)
	m.tracks = make(map[core.TrackSlot]webrtc.TrackLocal)
	m.mu.Unlock()
	for _, l := range links {
		l.close()
	}
}

func (m *Mesh) onState(l *link, s webrtc.PeerConnectionState) {
	m.mu.Lock()
	if m.links[l.peer] != l {
		m.mu.Unlock()
		return
	}
	l.state = s
	var attempts int
	switch s {
	case webrtc.PeerConnectionStateConnected:
		delete(m.failures, l.peer)
	case webrtc.PeerConnectionStateFailed:
		delete(m.links, l.peer)
		m.failures[l.peer]++
		attempts = m.failures[l.peer]
	case webrtc.PeerConnectionStateClosed:
		delete(m.links, l.peer)
	}
	m.mu.Unlock()

	log.Info().Str("module", "mesh").Str("peer", string(l.peer)).Str("state", s.String()).Msg("peer state")
	if m.bus != nil {
		m.bus.Publish(events.PeerStateChanged, PeerState{Peer: l.peer, State: s})
	}

	switch s {
	case webrtc.PeerConnectionStateClosed:
		l.close()
	case webrtc.PeerConnectionStateFailed:
		l.close()
		if attempts > m.retries {
			m.mu.Lock()
			delete(m.failures, l.peer)
			m.mu.Unlock()
			log.Warn().Str("module", "mesh").Str("peer", string(l.peer)).Int("attempts", attempts).Msg("peer unreachable")
			if m.bus != nil {
				m.bus.Publish(events.PeerUnreachable, PeerError{Peer: l.peer, Err: domain.ErrNegotiationFailed})
			}
			return
		}
		// One side rebuilds; the polite side waits for the new offer.
		if !m.polite(l.peer) {
			if err := m.AddPeer(context.Background(), l.peer); err != nil {
				log.Warn().Err(err).Str("module", "mesh").Str("peer", string(l.peer)).Msg("retry failed")
			}
		}
	}
}

func (m *Mesh) failed(peer domain.ParticipantID, err error) error {
	wrapped := fmt.Errorf("peer %s: %w: %v", peer, domain.ErrNegotiationFailed, err)
	log.Warn().Err(err).Str("module", "mesh").Str("peer", string(peer)).Msg("negotiation failed")
	if m.bus != nil {
		m.bus.Publish(events.ErrorReceived, PeerError{Peer: peer, Err: wrapped})
	}
	return wrapped
}

func (m *Mesh) send(msg protocol.Message) {
	if m.sig == nil {
		return
	}
	if err := m.sig.Send(msg); err != nil {
		log.Debug().Err(err).Str("module", "mesh").Str("type", string(msg.Type)).Str("peer", string(msg.Target)).Msg("signal dropped")
	}
}
