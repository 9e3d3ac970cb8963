package mesh

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Huddle/internal/app/events"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
)

type fakeTransport struct {
	mu          sync.Mutex
	offers      int
	answers     int
	remote      []webrtc.SessionDescription
	candidates  []webrtc.ICECandidateInit
	tracks      map[core.TrackSlot]webrtc.TrackLocal
	noSender    bool
	renegotiate bool
	closed      bool
	onICE       func(webrtc.ICECandidateInit)
	onState     func(webrtc.PeerConnectionState)
}

func (f *fakeTransport) CreateOffer(context.Context) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}, nil
}

func (f *fakeTransport) CreateAnswer(context.Context) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (f *fakeTransport) SetRemoteDescription(d webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remote = append(f.remote, d)
	return nil
}

func (f *fakeTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.remote) == 0 {
		return errors.New("no remote description")
	}
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeTransport) AttachTrack(slot core.TrackSlot, t webrtc.TrackLocal) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tracks == nil {
		f.tracks = make(map[core.TrackSlot]webrtc.TrackLocal)
	}
	f.tracks[slot] = t
	f.noSender = false
	return f.renegotiate, nil
}

func (f *fakeTransport) ReplaceTrack(slot core.TrackSlot, t webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.noSender {
		return ErrNoSender
	}
	if f.tracks == nil {
		f.tracks = make(map[core.TrackSlot]webrtc.TrackLocal)
	}
	f.tracks[slot] = t
	return nil
}

func (f *fakeTransport) OnICECandidate(fn func(webrtc.ICECandidateInit))   { f.onICE = fn }
func (f *fakeTransport) OnStateChange(fn func(webrtc.PeerConnectionState)) { f.onState = fn }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeSignaler struct {
	mu   sync.Mutex
	sent []protocol.Message
}

func (s *fakeSignaler) Send(m protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, m)
	return nil
}

func (s *fakeSignaler) ofType(t protocol.Type) []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []protocol.Message
	for _, m := range s.sent {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

type fixture struct {
	mesh       *Mesh
	sig        *fakeSignaler
	bus        *events.Bus
	transports map[domain.ParticipantID][]*fakeTransport
	setup      func(*fakeTransport)
}

func newFixture(t *testing.T, self domain.ParticipantID) *fixture {
	t.Helper()
	f := &fixture{
		sig:        &fakeSignaler{},
		bus:        events.NewBus(),
		transports: make(map[domain.ParticipantID][]*fakeTransport),
	}
	f.mesh = New(Options{
		Self:     self,
		Signaler: f.sig,
		Bus:      f.bus,
		Retries:  1,
		Factory: func(peer domain.ParticipantID) (PeerTransport, error) {
			tr := &fakeTransport{}
			if f.setup != nil {
				f.setup(tr)
			}
			f.transports[peer] = append(f.transports[peer], tr)
			return tr, nil
		},
	})
	return f
}

func (f *fixture) last(peer domain.ParticipantID) *fakeTransport {
	list := f.transports[peer]
	return list[len(list)-1]
}

func (f *fixture) record(name events.Name) *[]events.Event {
	var got []events.Event
	f.bus.Subscribe(name, func(e events.Event) { got = append(got, e) })
	return &got
}

func newTrack(t *testing.T, kind string) webrtc.TrackLocal {
	t.Helper()
	mime := webrtc.MimeTypeOpus
	if kind != "audio" {
		mime = webrtc.MimeTypeVP8
	}
	tr, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, kind, "local")
	require.NoError(t, err)
	return tr
}

func cand(s string) webrtc.ICECandidateInit { return webrtc.ICECandidateInit{Candidate: s} }

var answerSDP = webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "remote-answer"}
var offerSDP = webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote-offer"}

func TestAddPeerOffersWithPublishedTracks(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	mic := newTrack(t, "audio")
	require.NoError(t, f.mesh.PublishTrack(ctx, core.SlotAudio, mic))

	require.NoError(t, f.mesh.AddPeer(ctx, "bob"))
	offers := f.sig.ofType(protocol.TypeOffer)
	require.Len(t, offers, 1)
	assert.Equal(t, domain.ParticipantID("bob"), offers[0].Target)
	assert.Same(t, mic, f.last("bob").tracks[core.SlotAudio])

	links := f.mesh.Links()
	require.Len(t, links, 1)
	assert.Equal(t, core.NegotiationHaveLocalOffer, links[0].Negotiation)
	assert.Equal(t, []core.TrackSlot{core.SlotAudio}, links[0].Slots)

	require.NoError(t, f.mesh.HandleAnswer("bob", answerSDP))
	assert.Equal(t, core.NegotiationStable, f.mesh.Links()[0].Negotiation)
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	require.NoError(t, f.mesh.AddPeer(ctx, "bob"))

	require.NoError(t, f.mesh.HandleCandidate("bob", cand("c1")))
	require.NoError(t, f.mesh.HandleCandidate("bob", cand("c2")))
	assert.Empty(t, f.last("bob").candidates)
	assert.Equal(t, 2, f.mesh.Links()[0].Pending)

	require.NoError(t, f.mesh.HandleAnswer("bob", answerSDP))
	require.NoError(t, f.mesh.HandleCandidate("bob", cand("c3")))
	// A duplicate answer must not replay the buffer.
	require.NoError(t, f.mesh.HandleAnswer("bob", answerSDP))

	assert.Equal(t, []webrtc.ICECandidateInit{cand("c1"), cand("c2"), cand("c3")}, f.last("bob").candidates)
	assert.Zero(t, f.mesh.Links()[0].Pending)
}

func TestCandidatesBeforeOfferAreKept(t *testing.T) {
	f := newFixture(t, "bob")
	ctx := context.Background()
	require.NoError(t, f.mesh.HandleCandidate("alice", cand("early")))
	assert.Empty(t, f.mesh.Links())

	require.NoError(t, f.mesh.HandleOffer(ctx, "alice", offerSDP))
	tr := f.last("alice")
	assert.Equal(t, []webrtc.ICECandidateInit{cand("early")}, tr.candidates)
	assert.Equal(t, 1, tr.answers)

	answers := f.sig.ofType(protocol.TypeAnswer)
	require.Len(t, answers, 1)
	assert.Equal(t, domain.ParticipantID("alice"), answers[0].Target)
	assert.Empty(t, f.sig.ofType(protocol.TypeOffer), "the answerer does not offer")
}

func TestScreenShareReplacesWithoutOffer(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	cam := newTrack(t, "video")
	require.NoError(t, f.mesh.PublishTrack(ctx, core.SlotVideo, cam))
	require.NoError(t, f.mesh.AddPeer(ctx, "bob"))
	require.NoError(t, f.mesh.AddPeer(ctx, "carol"))
	require.NoError(t, f.mesh.HandleAnswer("bob", answerSDP))
	require.NoError(t, f.mesh.HandleAnswer("carol", answerSDP))
	offersBefore := len(f.sig.ofType(protocol.TypeOffer))

	replaced := f.record(events.PeerTrackReplaced)
	screen := newTrack(t, "screen")
	require.NoError(t, f.mesh.ReplaceTrack(ctx, core.SlotVideo, screen))

	assert.Len(t, f.sig.ofType(protocol.TypeOffer), offersBefore, "no new offer")
	assert.Same(t, screen, f.last("bob").tracks[core.SlotVideo])
	assert.Same(t, screen, f.last("carol").tracks[core.SlotVideo])
	assert.Len(t, *replaced, 2)

	require.NoError(t, f.mesh.ReplaceTrack(ctx, core.SlotVideo, cam))
	assert.Same(t, cam, f.last("bob").tracks[core.SlotVideo])
	assert.Len(t, f.sig.ofType(protocol.TypeOffer), offersBefore)
}

func TestReplaceFallsBackToRenegotiation(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	f.setup = func(tr *fakeTransport) {
		tr.noSender = true
		tr.renegotiate = true
	}
	require.NoError(t, f.mesh.AddPeer(ctx, "bob"))
	require.NoError(t, f.mesh.HandleAnswer("bob", answerSDP))

	replaced := f.record(events.PeerTrackReplaced)
	require.NoError(t, f.mesh.ReplaceTrack(ctx, core.SlotVideo, newTrack(t, "screen")))
	assert.Len(t, f.sig.ofType(protocol.TypeOffer), 2)
	assert.Empty(t, *replaced)
}

func TestFailedLinkRetriesOnceThenUnreachable(t *testing.T) {
	// "zed" > "amy", so zed is the impolite side and rebuilds.
	f := newFixture(t, "zed")
	ctx := context.Background()
	unreachable := f.record(events.PeerUnreachable)
	states := f.record(events.PeerStateChanged)

	require.NoError(t, f.mesh.AddPeer(ctx, "amy"))
	first := f.last("amy")
	first.onState(webrtc.PeerConnectionStateFailed)

	assert.True(t, first.closed)
	require.Len(t, f.transports["amy"], 2, "rebuilt once")
	assert.Len(t, f.sig.ofType(protocol.TypeOffer), 2)
	assert.Empty(t, *unreachable)

	f.last("amy").onState(webrtc.PeerConnectionStateFailed)
	require.Len(t, *unreachable, 1)
	assert.Equal(t, domain.ParticipantID("amy"), (*unreachable)[0].Payload.(PeerError).Peer)
	assert.Empty(t, f.mesh.Links())
	assert.Len(t, f.transports["amy"], 2)
	assert.Len(t, *states, 2)
}

func TestPoliteSideWaitsAfterFailure(t *testing.T) {
	f := newFixture(t, "amy")
	require.NoError(t, f.mesh.AddPeer(context.Background(), "zed"))
	f.last("zed").onState(webrtc.PeerConnectionStateFailed)
	assert.Len(t, f.transports["zed"], 1)
	assert.Len(t, f.sig.ofType(protocol.TypeOffer), 1)
}

func TestConnectedResetsFailures(t *testing.T) {
	f := newFixture(t, "zed")
	unreachable := f.record(events.PeerUnreachable)
	require.NoError(t, f.mesh.AddPeer(context.Background(), "amy"))
	f.last("amy").onState(webrtc.PeerConnectionStateFailed)
	f.last("amy").onState(webrtc.PeerConnectionStateConnected)
	f.last("amy").onState(webrtc.PeerConnectionStateFailed)
	assert.Empty(t, *unreachable)
	assert.Len(t, f.transports["amy"], 3)
}

func TestOfferCollision(t *testing.T) {
	ctx := context.Background()

	polite := newFixture(t, "amy")
	mic := newTrack(t, "audio")
	require.NoError(t, polite.mesh.PublishTrack(ctx, core.SlotAudio, mic))
	require.NoError(t, polite.mesh.AddPeer(ctx, "zed"))
	require.NoError(t, polite.mesh.HandleCandidate("zed", cand("c1")))
	require.NoError(t, polite.mesh.HandleOffer(ctx, "zed", offerSDP))

	// The link is rebuilt: the first transport with our offer is gone.
	require.Len(t, polite.transports["zed"], 2)
	first, fresh := polite.transports["zed"][0], polite.last("zed")
	assert.True(t, first.closed)
	assert.False(t, fresh.closed)
	assert.Equal(t, []webrtc.SessionDescription{offerSDP}, fresh.remote)
	assert.Equal(t, []webrtc.ICECandidateInit{cand("c1")}, fresh.candidates)
	assert.Same(t, mic, fresh.tracks[core.SlotAudio])
	assert.Len(t, polite.sig.ofType(protocol.TypeAnswer), 1)

	links := polite.mesh.Links()
	require.Len(t, links, 1)
	assert.Equal(t, core.NegotiationStable, links[0].Negotiation)

	// State changes from the discarded transport are ignored.
	states := polite.record(events.PeerStateChanged)
	first.onState(webrtc.PeerConnectionStateClosed)
	assert.Empty(t, *states)
	assert.Len(t, polite.mesh.Links(), 1)

	impolite := newFixture(t, "zed")
	require.NoError(t, impolite.mesh.AddPeer(ctx, "amy"))
	require.NoError(t, impolite.mesh.HandleOffer(ctx, "amy", offerSDP))
	assert.Len(t, impolite.transports["amy"], 1)
	assert.Empty(t, impolite.last("amy").remote)
	assert.Empty(t, impolite.sig.ofType(protocol.TypeAnswer))
	assert.Equal(t, core.NegotiationHaveLocalOffer, impolite.mesh.Links()[0].Negotiation)
}

func TestRemovedPeerSignalingIsDiscarded(t *testing.T) {
	f := newFixture(t, "alice")
	require.NoError(t, f.mesh.AddPeer(context.Background(), "bob"))
	tr := f.last("bob")
	f.mesh.RemovePeer("bob")
	assert.True(t, tr.closed)

	tr.onICE(cand("late"))
	assert.Empty(t, f.sig.ofType(protocol.TypeICECandidate))
	assert.NoError(t, f.mesh.HandleAnswer("bob", answerSDP))
	tr.onState(webrtc.PeerConnectionStateFailed)
	assert.Len(t, f.transports["bob"], 1)
}

func TestLocalCandidatesAreSignaled(t *testing.T) {
	f := newFixture(t, "alice")
	require.NoError(t, f.mesh.AddPeer(context.Background(), "bob"))
	f.last("bob").onICE(cand("local"))
	sent := f.sig.ofType(protocol.TypeICECandidate)
	require.Len(t, sent, 1)
	assert.Equal(t, domain.ParticipantID("bob"), sent[0].Target)
	assert.Equal(t, "local", sent[0].Candidate.Candidate)
}

func TestCloseAll(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	require.NoError(t, f.mesh.PublishTrack(ctx, core.SlotAudio, newTrack(t, "audio")))
	require.NoError(t, f.mesh.AddPeer(ctx, "bob"))
	require.NoError(t, f.mesh.AddPeer(ctx, "carol"))
	f.mesh.CloseAll()
	assert.Empty(t, f.mesh.Links())
	assert.True(t, f.last("bob").closed)
	assert.True(t, f.last("carol").closed)

	require.NoError(t, f.mesh.AddPeer(ctx, "bob"))
	assert.Empty(t, f.last("bob").tracks, "published tracks are forgotten")
}
