// Package rtc abstracts the WebRTC engine behind small interfaces so the
// voice session logic stays independent of pion wiring.
package rtc

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// TrackKind classifies a media track.
type TrackKind string

const (
	KindAudio TrackKind = "audio"
	KindVideo TrackKind = "video"
)

// PeerState is the coarse connection state reported to the session layer.
type PeerState string

const (
	StateConnecting   PeerState = "connecting"
	StateConnected    PeerState = "connected"
	StateDisconnected PeerState = "disconnected"
	StateFailed       PeerState = "failed"
	StateClosed       PeerState = "closed"
)

// Terminal reports whether the peer cannot recover from this state.
func (s PeerState) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

// Track is a local media source attached to peers. Disabling a track
// silences it without renegotiation.
type Track interface {
	Kind() TrackKind
	ID() string
	SetEnabled(enabled bool)
	Enabled() bool
	Close() error
}

// Peer is one peer connection. Offers, answers and candidates are passed
// through opaque to the signaling layer.
type Peer interface {
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	CreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	AcceptAnswer(answer webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error

	AddTrack(track Track) error
	RemoveTrack(track Track) error

	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnTrack(fn func(kind TrackKind, trackID string))
	OnStateChange(fn func(PeerState))

	Close() error
}

// Config carries the ICE servers handed to new peers.
type Config struct {
	STUNServers []string
}

// Connector builds peer connections.
type Connector interface {
	NewPeer(cfg Config) (Peer, error)
}

// CaptureDevice produces local tracks from the host's hardware. Capture
// failure (permission denied, no device) is reported as an error and must
// not tear anything down.
type CaptureDevice interface {
	Microphone(ctx context.Context) (Track, error)
	Screen(ctx context.Context) (Track, error)
}
