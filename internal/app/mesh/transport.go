// Package mesh keeps one peer link per remote participant and distributes
// local media over all of them.
package mesh

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Huddle/internal/app/events"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
)

// ErrNoSender means the transport has no sender in the slot, so the track
// cannot be swapped in place.
var ErrNoSender = errors.New("no sender for slot")

// PeerTransport is one end of a peer connection. Implementations must not
// block on ICE gathering: local candidates are delivered through
// OnICECandidate.
type PeerTransport interface {
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error)
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(c webrtc.ICECandidateInit) error

	// AttachTrack puts track on slot and reports whether the remote side
	// only sees it after renegotiation.
	AttachTrack(slot core.TrackSlot, track webrtc.TrackLocal) (renegotiate bool, err error)
	// ReplaceTrack swaps the track on an existing sender. A nil track
	// stops sending. Returns ErrNoSender when the slot has no sender.
	ReplaceTrack(slot core.TrackSlot, track webrtc.TrackLocal) error

	OnICECandidate(func(webrtc.ICECandidateInit))
	OnStateChange(func(webrtc.PeerConnectionState))
	Close() error
}

type TransportFactory func(peer domain.ParticipantID) (PeerTransport, error)

// Signaler carries negotiation messages to the remote peer.
type Signaler interface {
	Send(m protocol.Message) error
}

type Publisher interface {
	Publish(name events.Name, payload any)
}

// Event payloads.
type (
	PeerState struct {
		Peer  domain.ParticipantID
		State webrtc.PeerConnectionState
	}
	TrackReplaced struct {
		Peer domain.ParticipantID
		Slot core.TrackSlot
	}
	PeerError struct {
		Peer domain.ParticipantID
		Err  error
	}
)
