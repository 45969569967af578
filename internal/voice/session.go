// Package voice implements the client-side mesh session for one voice
// room: a full set of pairwise peer connections with every other
// participant, driven by broker events.
package voice

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/haven-im/haven-server/internal/core"
	"github.com/haven-im/haven-server/internal/rtc"
)

// State is the session's lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateJoining State = "joining"
	StateActive  State = "active"
	StateLeaving State = "leaving"
)

var (
	ErrAlreadyJoined = errors.New("voice: session already joined")
	ErrNotActive     = errors.New("voice: session not active")
	ErrJoinCancelled = errors.New("voice: join cancelled")
)

// Session maintains the mesh for one voice room. Peer link state is
// mutated only by the session itself; UI code reads snapshots via Peers.
type Session struct {
	signaler  Signaler
	connector rtc.Connector
	capture   rtc.CaptureDevice
	volumes   *VolumeStore
	rtcConfig rtc.Config
	log       *zerolog.Logger

	mu       sync.Mutex
	state    State
	channel  string
	joinGen  uint64
	mic      rtc.Track
	screen   rtc.Track
	muted    bool
	deafened bool
	links    map[int64]*peerLink
}

func NewSession(signaler Signaler, connector rtc.Connector, capture rtc.CaptureDevice, volumes *VolumeStore, rtcConfig rtc.Config, logger *zerolog.Logger) *Session {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Session{
		signaler:  signaler,
		connector: connector,
		capture:   capture,
		volumes:   volumes,
		rtcConfig: rtcConfig,
		log:       logger,
		state:     StateIdle,
		links:     make(map[int64]*peerLink),
	}
}

// Join acquires the microphone and announces the session to the broker.
// Capture failure fails closed: the session returns to idle and the error
// carries the reason. A Leave issued while capture is still in flight wins;
// the late capture result is released and discarded.
func (s *Session) Join(ctx context.Context, channel string) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyJoined
	}
	s.state = StateJoining
	s.channel = channel
	s.joinGen++
	gen := s.joinGen
	s.mu.Unlock()

	mic, err := s.capture.Microphone(ctx)

	s.mu.Lock()
	if s.joinGen != gen || s.state != StateJoining {
		s.mu.Unlock()
		if err == nil {
			_ = mic.Close()
		}
		return ErrJoinCancelled
	}
	if err != nil {
		s.state = StateIdle
		s.channel = ""
		s.mu.Unlock()
		return fmt.Errorf("acquire microphone: %w", err)
	}
	s.mic = mic
	mic.SetEnabled(!s.muted)
	s.state = StateActive
	s.mu.Unlock()

	if err := s.signaler.VoiceJoin(channel); err != nil {
		s.Leave()
		return fmt.Errorf("announce voice join: %w", err)
	}
	return nil
}

// HandleExistingUsers processes the participant snapshot returned on join.
// The session is the newcomer here, so it initiates an offer toward every
// listed participant. A failure on one peer never blocks the others.
func (s *Session) HandleExistingUsers(ctx context.Context, channel string, users []core.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive || s.channel != channel {
		return
	}
	for _, user := range users {
		if link, ok := s.links[user.ID]; ok && !link.closed() {
			continue
		}
		link, err := s.newLink(user)
		if err != nil {
			s.log.Error().Err(err).Int64("peer", user.ID).Msg("create peer link")
			continue
		}
		s.offerTo(ctx, link)
	}
}

// HandlePeerJoined processes a newcomer notice. The newcomer initiates, so
// the link is created in negotiating state and the session waits.
func (s *Session) HandlePeerJoined(channel string, user core.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive || s.channel != channel {
		return
	}
	if link, ok := s.links[user.ID]; ok && !link.closed() {
		return
	}
	if _, err := s.newLink(user); err != nil {
		s.log.Error().Err(err).Int64("peer", user.ID).Msg("create peer link")
	}
}

// HandleOffer answers an incoming offer. When the offer races ahead of the
// newcomer notice there is no link yet; one is created on demand rather
// than dropping the offer.
func (s *Session) HandleOffer(ctx context.Context, channel string, from core.Identity, sdp webrtc.SessionDescription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive || s.channel != channel {
		return
	}
	link, ok := s.links[from.ID]
	if !ok || link.closed() {
		var err error
		link, err = s.newLink(from)
		if err != nil {
			s.log.Error().Err(err).Int64("peer", from.ID).Msg("create peer link for offer")
			return
		}
	}
	answer, err := link.peer.CreateAnswer(ctx, sdp)
	if err != nil {
		s.log.Error().Err(err).Int64("peer", from.ID).Msg("answer offer")
		s.dropLink(from.ID)
		return
	}
	if err := s.signaler.SendAnswer(channel, from.ID, answer); err != nil {
		s.log.Error().Err(err).Int64("peer", from.ID).Msg("send answer")
	}
}

// HandleAnswer applies a remote answer. Answers for unknown or closed
// links are dropped.
func (s *Session) HandleAnswer(channel string, fromID int64, sdp webrtc.SessionDescription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link := s.activeLink(channel, fromID)
	if link == nil {
		return
	}
	if err := link.peer.AcceptAnswer(sdp); err != nil {
		s.log.Error().Err(err).Int64("peer", fromID).Msg("accept answer")
		s.dropLink(fromID)
	}
}

// HandleCandidate applies a remote ICE candidate, dropping stale ones.
func (s *Session) HandleCandidate(channel string, fromID int64, candidate webrtc.ICECandidateInit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link := s.activeLink(channel, fromID)
	if link == nil {
		return
	}
	if err := link.peer.AddICECandidate(candidate); err != nil {
		s.log.Warn().Err(err).Int64("peer", fromID).Msg("add ice candidate")
	}
}

// HandlePeerLeft tears down the link for a departed participant.
func (s *Session) HandlePeerLeft(channel string, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive || s.channel != channel {
		return
	}
	s.dropLink(userID)
}

// HandleScreenShare records the advisory screen-share flag for a peer.
func (s *Session) HandleScreenShare(channel string, userID int64, started bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link := s.activeLink(channel, userID)
	if link == nil {
		return
	}
	link.screenIn = started
}

// ToggleMute flips the outbound audio gate on every link at once. No
// renegotiation is involved. Returns the new muted state.
func (s *Session) ToggleMute() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = !s.muted
	if s.mic != nil {
		s.mic.SetEnabled(!s.muted)
	}
	return s.muted
}

// ToggleDeafen flips local playback silencing. Returns the new state.
func (s *Session) ToggleDeafen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deafened = !s.deafened
	return s.deafened
}

// ShareScreen captures the screen and renegotiates each connected link
// with the added track. Capture refusal leaves every existing link
// untouched and is returned to the caller.
func (s *Session) ShareScreen(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return ErrNotActive
	}
	if s.screen != nil {
		s.mu.Unlock()
		return nil
	}
	gen := s.joinGen
	s.mu.Unlock()

	track, err := s.capture.Screen(ctx)

	s.mu.Lock()
	if s.joinGen != gen || s.state != StateActive {
		s.mu.Unlock()
		if err == nil {
			_ = track.Close()
		}
		return ErrJoinCancelled
	}
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("capture screen: %w", err)
	}
	s.screen = track
	channel := s.channel
	for _, link := range s.links {
		if link.closed() {
			continue
		}
		if err := link.peer.AddTrack(track); err != nil {
			s.log.Error().Err(err).Int64("peer", link.remote.ID).Msg("add screen track")
			continue
		}
		link.screenOut = true
		s.offerTo(ctx, link)
	}
	s.mu.Unlock()

	if err := s.signaler.ScreenShare(channel, true); err != nil {
		s.log.Warn().Err(err).Msg("announce screen share")
	}
	return nil
}

// StopScreenShare removes the screen track from every link and
// renegotiates. No-op when nothing is being shared.
func (s *Session) StopScreenShare(ctx context.Context) error {
	s.mu.Lock()
	if s.screen == nil {
		s.mu.Unlock()
		return nil
	}
	track := s.screen
	s.screen = nil
	channel := s.channel
	for _, link := range s.links {
		if link.closed() || !link.screenOut {
			continue
		}
		if err := link.peer.RemoveTrack(track); err != nil {
			s.log.Warn().Err(err).Int64("peer", link.remote.ID).Msg("remove screen track")
		}
		link.screenOut = false
		s.offerTo(ctx, link)
	}
	s.mu.Unlock()

	_ = track.Close()
	if err := s.signaler.ScreenShare(channel, false); err != nil {
		s.log.Warn().Err(err).Msg("announce screen share stop")
	}
	return nil
}

// SetVolume adjusts playback gain for one peer, clamped to [0, MaxVolume],
// and persists it for future sessions. Returns the applied value.
func (s *Session) SetVolume(userID int64, volume float64) float64 {
	volume = clampVolume(volume)
	s.mu.Lock()
	if link, ok := s.links[userID]; ok {
		link.volume = volume
	}
	s.mu.Unlock()
	if s.volumes != nil {
		if err := s.volumes.Set(userID, volume); err != nil {
			s.log.Warn().Err(err).Int64("peer", userID).Msg("persist volume")
		}
	}
	return volume
}

// Volume returns the configured gain for a peer.
func (s *Session) Volume(userID int64) float64 {
	s.mu.Lock()
	if link, ok := s.links[userID]; ok {
		v := link.volume
		s.mu.Unlock()
		return v
	}
	s.mu.Unlock()
	if s.volumes != nil {
		return s.volumes.Get(userID)
	}
	return DefaultVolume
}

// PlaybackVolume is Volume with deafen applied.
func (s *Session) PlaybackVolume(userID int64) float64 {
	s.mu.Lock()
	deafened := s.deafened
	s.mu.Unlock()
	if deafened {
		return 0
	}
	return s.Volume(userID)
}

// Leave tears everything down unconditionally: every link, local media,
// then the broker announcement. Safe to call in any state, any number of
// times; a join still waiting on media capture is cancelled.
func (s *Session) Leave() {
	s.mu.Lock()
	s.joinGen++
	wasActive := s.state == StateActive
	channel := s.channel
	if s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	s.state = StateLeaving
	for id := range s.links {
		s.links[id].close()
	}
	s.links = make(map[int64]*peerLink)
	if s.mic != nil {
		_ = s.mic.Close()
		s.mic = nil
	}
	if s.screen != nil {
		_ = s.screen.Close()
		s.screen = nil
	}
	s.state = StateIdle
	s.channel = ""
	s.mu.Unlock()

	if wasActive {
		if err := s.signaler.VoiceLeave(channel); err != nil {
			s.log.Warn().Err(err).Msg("announce voice leave")
		}
	}
}

// State returns the session lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Channel returns the joined channel code, empty when idle.
func (s *Session) Channel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

// Muted reports the local mute state.
func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// Deafened reports the local deafen state.
func (s *Session) Deafened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deafened
}

// Peers returns a snapshot of all live links, ordered by user id.
func (s *Session) Peers() []PeerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PeerStatus, 0, len(s.links))
	for _, link := range s.links {
		out = append(out, PeerStatus{
			User:      link.remote,
			State:     link.state,
			Talking:   link.talking,
			Volume:    link.volume,
			ScreenIn:  link.screenIn,
			ScreenOut: link.screenOut,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].User.ID < out[j].User.ID })
	return out
}

// newLink builds a peer connection for one remote user and registers it.
// Caller holds s.mu.
func (s *Session) newLink(remote core.Identity) (*peerLink, error) {
	peer, err := s.connector.NewPeer(s.rtcConfig)
	if err != nil {
		return nil, err
	}
	link := &peerLink{
		remote: remote,
		peer:   peer,
		state:  LinkNegotiating,
		volume: DefaultVolume,
	}
	if s.volumes != nil {
		link.volume = s.volumes.Get(remote.ID)
	}

	remoteID := remote.ID
	peer.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
		s.mu.Lock()
		channel := s.channel
		stale := s.activeLink(channel, remoteID) == nil
		s.mu.Unlock()
		if stale {
			return
		}
		if err := s.signaler.SendCandidate(channel, remoteID, candidate); err != nil {
			s.log.Warn().Err(err).Int64("peer", remoteID).Msg("send ice candidate")
		}
	})
	peer.OnTrack(func(kind rtc.TrackKind, trackID string) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if l, ok := s.links[remoteID]; ok && !l.closed() && kind == rtc.KindVideo {
			l.screenIn = true
		}
	})
	peer.OnStateChange(func(state rtc.PeerState) {
		s.mu.Lock()
		defer s.mu.Unlock()
		l, ok := s.links[remoteID]
		if !ok || l.closed() {
			return
		}
		switch {
		case state == rtc.StateConnected:
			l.state = LinkConnected
		case state.Terminal():
			// ICE gave up on this pair. No automatic retry; the peer
			// shows up again via the normal join/offer path if it returns.
			s.dropLink(remoteID)
		}
	})

	if s.mic != nil {
		if err := peer.AddTrack(s.mic); err != nil {
			_ = peer.Close()
			return nil, err
		}
	}
	if s.screen != nil {
		if err := peer.AddTrack(s.screen); err == nil {
			link.screenOut = true
		}
	}

	s.links[remote.ID] = link
	return link, nil
}

// offerTo starts or restarts negotiation toward one link. Caller holds
// s.mu. Failures are isolated to the link.
func (s *Session) offerTo(ctx context.Context, link *peerLink) {
	offer, err := link.peer.CreateOffer(ctx)
	if err != nil {
		s.log.Error().Err(err).Int64("peer", link.remote.ID).Msg("create offer")
		s.dropLink(link.remote.ID)
		return
	}
	if err := s.signaler.SendOffer(s.channel, link.remote.ID, offer); err != nil {
		s.log.Error().Err(err).Int64("peer", link.remote.ID).Msg("send offer")
	}
}

// activeLink returns the live link for a peer, or nil when the session is
// not active in that channel or the link is gone. Caller holds s.mu.
func (s *Session) activeLink(channel string, userID int64) *peerLink {
	if s.state != StateActive || s.channel != channel {
		return nil
	}
	link, ok := s.links[userID]
	if !ok || link.closed() {
		return nil
	}
	return link
}

// dropLink closes and forgets one link. Caller holds s.mu.
func (s *Session) dropLink(userID int64) {
	if link, ok := s.links[userID]; ok {
		link.close()
		delete(s.links, userID)
	}
}
