package core

import (
	"context"
	"image"

	"github.com/dkeye/huddle/internal/domain"
	"github.com/pion/webrtc/v4"
)

type PeerID = domain.PeerID

type TrackKind string

const (
	KindAudio TrackKind = "audio"
	KindVideo TrackKind = "video"
)

// VideoSource exposes the most recent decoded frame of a stream. A nil frame
// means no video is available right now.
type VideoSource interface {
	LatestFrame() image.Image
}

// AudioSource hands out decoded mono PCM. ReadPCM never blocks; it returns
// the number of samples written into dst.
type AudioSource interface {
	ReadPCM(dst []int16) int
}

// LocalTrack is a captured track shared read-only by every peer connection
// and the recorder. Only the owning client toggles or stops it.
type LocalTrack interface {
	ID() string
	Kind() TrackKind
	Enabled() bool
	SetEnabled(bool)
	// Stop releases the capture. Calls after the first are no-ops.
	Stop()
	Stopped() bool
	// RTP returns the pion track to attach to peer connections.
	RTP() webrtc.TrackLocal
}

// MediaProvider acquires the local camera/mic tracks for a session.
type MediaProvider interface {
	Acquire(ctx context.Context) ([]LocalTrack, error)
}

// RemoteStream is the media a connected peer sends us.
type RemoteStream interface {
	Video() VideoSource
	Audio() AudioSource
}

// PeerConnection is one transport-level connection to a remote peer.
type PeerConnection interface {
	AddLocalTrack(LocalTrack) error
	// CreateOffer creates and applies the local offer.
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	// ApplyOfferAndCreateAnswer applies a remote offer and returns the local answer.
	ApplyOfferAndCreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	ApplyAnswer(answer webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnRemoteMedia fires once, when the first remote track arrives.
	OnRemoteMedia(func(RemoteStream))
	// OnFailed fires when the transport fails or is closed by the remote.
	OnFailed(func(error))
	Close() error
}

// PeerConnectionFactory builds a fresh connection toward peer.
type PeerConnectionFactory func(peer PeerID) (PeerConnection, error)
