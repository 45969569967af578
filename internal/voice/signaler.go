package voice

import "github.com/pion/webrtc/v4"

// Signaler is the session's view of the broker connection. Implementations
// carry the payloads opaque; the session never sees other users' media
// state except through these messages.
type Signaler interface {
	VoiceJoin(channel string) error
	VoiceLeave(channel string) error
	SendOffer(channel string, targetUserID int64, sdp webrtc.SessionDescription) error
	SendAnswer(channel string, targetUserID int64, sdp webrtc.SessionDescription) error
	SendCandidate(channel string, targetUserID int64, candidate webrtc.ICECandidateInit) error
	ScreenShare(channel string, started bool) error
}
