package core

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Huddle/internal/domain"
)

// TrackSlot names an outbound sender position on a peer link. Screen share
// occupies the video slot.
type TrackSlot string

const (
	SlotAudio TrackSlot = "audio"
	SlotVideo TrackSlot = "video"
)

type MediaKind string

const (
	KindAudio  MediaKind = "audio"
	KindVideo  MediaKind = "video"
	KindScreen MediaKind = "screen"
)

// MediaSource acquires local capture tracks from the platform. Acquisition
// failures wrap domain.ErrMediaAcquisitionFailed and are never retried.
type MediaSource interface {
	Acquire(ctx context.Context, kind MediaKind) (webrtc.TrackLocal, error)
	Release(kind MediaKind)
}

type NegotiationState string

const (
	NegotiationNew             NegotiationState = "new"
	NegotiationHaveLocalOffer  NegotiationState = "have-local-offer"
	NegotiationHaveRemoteOffer NegotiationState = "have-remote-offer"
	NegotiationStable          NegotiationState = "stable"
	NegotiationClosed          NegotiationState = "closed"
)

// LinkInfo is a read-only view of one peer link.
type LinkInfo struct {
	Peer        domain.ParticipantID       `json:"peer"`
	Negotiation NegotiationState           `json:"negotiation"`
	Connection  webrtc.PeerConnectionState `json:"connection"`
	Slots       []TrackSlot                `json:"slots"`
	Pending     int                        `json:"pending_candidates"`
}

// MediaFanout distributes local media to remote participants. The mesh
// implementation keeps one peer link per remote participant; a forwarding
// relay can satisfy the same contract.
type MediaFanout interface {
	AddPeer(ctx context.Context, peer domain.ParticipantID) error
	RemovePeer(peer domain.ParticipantID)
	HandleOffer(ctx context.Context, from domain.ParticipantID, offer webrtc.SessionDescription) error
	HandleAnswer(from domain.ParticipantID, answer webrtc.SessionDescription) error
	HandleCandidate(from domain.ParticipantID, c webrtc.ICECandidateInit) error

	PublishTrack(ctx context.Context, slot TrackSlot, track webrtc.TrackLocal) error
	ReplaceTrack(ctx context.Context, slot TrackSlot, track webrtc.TrackLocal) error
	UnpublishTrack(ctx context.Context, slot TrackSlot) error

	Links() []LinkInfo
	CloseAll()
}
