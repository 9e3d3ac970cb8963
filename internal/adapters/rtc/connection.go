package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/app/mesh"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// Connection is a pion PeerConnection to one remote participant. Both sides
// start with one sendrecv transceiver per slot, so publishing, muting and
// switching between camera and screen are sender swaps and never need a
// new offer.
type Connection struct {
	pc   *webrtc.PeerConnection
	peer domain.ParticipantID

	mu      sync.RWMutex
	senders map[core.TrackSlot]*webrtc.RTPSender
	onICE   func(webrtc.ICECandidateInit)
	onState func(webrtc.PeerConnectionState)
	onTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
}

var _ mesh.PeerTransport = (*Connection)(nil)

var slotKinds = map[core.TrackSlot]webrtc.RTPCodecType{
	core.SlotAudio: webrtc.RTPCodecTypeAudio,
	core.SlotVideo: webrtc.RTPCodecTypeVideo,
}

func NewConnection(cfg webrtc.Configuration, peer domain.ParticipantID) (*Connection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	c := &Connection{pc: pc, peer: peer, senders: make(map[core.TrackSlot]*webrtc.RTPSender)}

	for _, slot := range []core.TrackSlot{core.SlotAudio, core.SlotVideo} {
		tr, err := pc.AddTransceiverFromKind(slotKinds[slot], webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendrecv,
		})
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add %s transceiver: %w", slot, err)
		}
		c.senders[slot] = tr.Sender()
		go drainRTCP(tr.Sender())
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.RLock()
		fn := c.onICE
		c.mu.RUnlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("peer", string(peer)).Str("peer_connection_state", s.String()).Msg("Peer state")
		c.mu.RLock()
		fn := c.onState
		c.mu.RUnlock()
		if fn != nil {
			fn(s)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("peer", string(peer)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		c.mu.RLock()
		fn := c.onTrack
		c.mu.RUnlock()
		if fn != nil {
			fn(track, receiver)
			return
		}
		go drainTrack(track)
	})

	return c, nil
}

// drainRTCP keeps interceptors running for an outbound sender.
func drainRTCP(s *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := s.Read(buf); err != nil {
			return
		}
	}
}

func drainTrack(t *webrtc.TrackRemote) {
	for {
		if _, _, err := t.ReadRTP(); err != nil {
			return
		}
	}
}

func (c *Connection) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (c *Connection) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (c *Connection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *Connection) HasRemoteDescription() bool {
	return c.pc.RemoteDescription() != nil
}

func (c *Connection) AttachTrack(slot core.TrackSlot, track webrtc.TrackLocal) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.senders[slot]; ok {
		return false, s.ReplaceTrack(track)
	}
	s, err := c.pc.AddTrack(track)
	if err != nil {
		return false, err
	}
	c.senders[slot] = s
	go drainRTCP(s)
	return true, nil
}

func (c *Connection) ReplaceTrack(slot core.TrackSlot, track webrtc.TrackLocal) error {
	c.mu.RLock()
	s, ok := c.senders[slot]
	c.mu.RUnlock()
	if !ok {
		return mesh.ErrNoSender
	}
	return s.ReplaceTrack(track)
}

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *Connection) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// OnTrack sets the callback for remote tracks. Without one, remote media
// is read and discarded.
func (c *Connection) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *Connection) LocalDescription() *webrtc.SessionDescription {
	return c.pc.LocalDescription()
}

func (c *Connection) Close() error {
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("peer", string(c.peer)).Msg("close error")
		return err
	}
	log.Info().Str("module", "webrtc").Str("peer", string(c.peer)).Msg("closed")
	return nil
}

// NewFactory builds mesh transports from cfg.
func NewFactory(cfg webrtc.Configuration) mesh.TransportFactory {
	return func(peer domain.ParticipantID) (mesh.PeerTransport, error) {
		return NewConnection(cfg, peer)
	}
}
