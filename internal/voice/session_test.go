package voice

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/haven-im/haven-server/internal/core"
	"github.com/haven-im/haven-server/internal/rtc"
)

func newTestSession(t *testing.T) (*Session, *fakeSignaler, *fakeConnector, *fakeCapture) {
	t.Helper()
	signaler := &fakeSignaler{}
	connector := &fakeConnector{}
	capture := &fakeCapture{}
	volumes, err := NewVolumeStore(filepath.Join(t.TempDir(), "volumes.yml"))
	if err != nil {
		t.Fatalf("volume store: %v", err)
	}
	session := NewSession(signaler, connector, capture, volumes, rtc.Config{}, nil)
	return session, signaler, connector, capture
}

func joined(t *testing.T, s *Session, channel string) {
	t.Helper()
	if err := s.Join(context.Background(), channel); err != nil {
		t.Fatalf("join: %v", err)
	}
}

func ident(id int64, name string) core.Identity {
	return core.Identity{ID: id, Username: name}
}

func TestJoinOffersToExistingParticipants(t *testing.T) {
	s, signaler, connector, _ := newTestSession(t)
	joined(t, s, "general")

	s.HandleExistingUsers(context.Background(), "general", []core.Identity{ident(2, "bob"), ident(3, "carol")})

	targets := signaler.offerTargets()
	if len(targets) != 2 {
		t.Fatalf("expected 2 offers, got %v", targets)
	}
	seen := map[int64]bool{targets[0]: true, targets[1]: true}
	if !seen[2] || !seen[3] {
		t.Fatalf("offers should target both participants, got %v", targets)
	}
	if connector.count() != 2 {
		t.Fatalf("expected 2 peer connections, got %d", connector.count())
	}
	for _, peer := range s.Peers() {
		if peer.State != LinkNegotiating {
			t.Fatalf("expected negotiating link, got %s", peer.State)
		}
	}
}

func TestNewcomerNoticeCreatesLinkWithoutOffer(t *testing.T) {
	s, signaler, connector, _ := newTestSession(t)
	joined(t, s, "general")

	s.HandlePeerJoined("general", ident(2, "bob"))

	if signaler.offerCount() != 0 {
		t.Fatalf("existing member must wait for the newcomer's offer, sent %d", signaler.offerCount())
	}
	if connector.count() != 1 {
		t.Fatalf("expected 1 peer connection, got %d", connector.count())
	}
	if peers := s.Peers(); len(peers) != 1 || peers[0].State != LinkNegotiating {
		t.Fatalf("unexpected link snapshot: %+v", peers)
	}
}

func TestRacingOfferCreatesLinkOnDemand(t *testing.T) {
	s, signaler, connector, _ := newTestSession(t)
	joined(t, s, "general")

	// The offer arrives before the newcomer notice.
	s.HandleOffer(context.Background(), "general", ident(2, "bob"), webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})

	signaler.mu.Lock()
	answers := len(signaler.answers)
	signaler.mu.Unlock()
	if answers != 1 {
		t.Fatalf("expected 1 answer, got %d", answers)
	}
	if connector.count() != 1 {
		t.Fatalf("expected on-demand link, got %d connections", connector.count())
	}

	// The late notice must not replace the link. First write wins.
	s.HandlePeerJoined("general", ident(2, "bob"))
	if connector.count() != 1 {
		t.Fatalf("late notice created a duplicate link: %d connections", connector.count())
	}
}

func TestMuteDisablesAudioWithoutRenegotiation(t *testing.T) {
	s, signaler, connector, capture := newTestSession(t)
	joined(t, s, "general")
	s.HandleExistingUsers(context.Background(), "general", []core.Identity{ident(2, "bob"), ident(3, "carol")})
	offersBefore := signaler.offerCount()

	if !s.ToggleMute() {
		t.Fatal("expected muted state after toggle")
	}
	if capture.mics[0].Enabled() {
		t.Fatal("outbound audio track must be disabled while muted")
	}
	if signaler.offerCount() != offersBefore {
		t.Fatal("mute must not renegotiate any link")
	}
	for i := 0; i < connector.count(); i++ {
		if connector.peer(i).isClosed() {
			t.Fatal("mute must not touch peer connections")
		}
	}

	if s.ToggleMute() {
		t.Fatal("expected unmuted state after second toggle")
	}
	if !capture.mics[0].Enabled() {
		t.Fatal("track must re-enable on unmute")
	}
}

func TestScreenShareRenegotiatesEachPeer(t *testing.T) {
	s, signaler, connector, capture := newTestSession(t)
	joined(t, s, "general")
	s.HandleExistingUsers(context.Background(), "general", []core.Identity{ident(2, "bob"), ident(3, "carol")})
	offersBefore := signaler.offerCount()

	if err := s.ShareScreen(context.Background()); err != nil {
		t.Fatalf("share screen: %v", err)
	}

	if got := signaler.offerCount() - offersBefore; got != 2 {
		t.Fatalf("expected a fresh offer per peer, got %d", got)
	}
	screenID := capture.screens[0].ID()
	for i := 0; i < connector.count(); i++ {
		if !connector.peer(i).hasTrack(screenID) {
			t.Fatalf("peer %d missing screen track", i)
		}
	}
	for _, peer := range s.Peers() {
		if !peer.ScreenOut {
			t.Fatalf("snapshot should report screen out: %+v", peer)
		}
	}

	if err := s.StopScreenShare(context.Background()); err != nil {
		t.Fatalf("stop screen share: %v", err)
	}
	for i := 0; i < connector.count(); i++ {
		if connector.peer(i).hasTrack(screenID) {
			t.Fatalf("peer %d still has screen track after stop", i)
		}
	}
	if !capture.screens[0].isClosed() {
		t.Fatal("screen track must be released on stop")
	}
}

func TestScreenCaptureDenialLeavesLinksUntouched(t *testing.T) {
	s, signaler, _, capture := newTestSession(t)
	joined(t, s, "general")
	s.HandleExistingUsers(context.Background(), "general", []core.Identity{ident(2, "bob"), ident(3, "carol")})
	offersBefore := signaler.offerCount()

	capture.screenErr = errors.New("permission denied")
	if err := s.ShareScreen(context.Background()); err == nil {
		t.Fatal("expected capture failure to surface")
	}

	if signaler.offerCount() != offersBefore {
		t.Fatal("capture denial must not renegotiate")
	}
	if peers := s.Peers(); len(peers) != 2 {
		t.Fatalf("links must survive capture denial, got %+v", peers)
	}
	if s.State() != StateActive {
		t.Fatalf("session must stay active, got %s", s.State())
	}
}

func TestPeerLeftClosesLink(t *testing.T) {
	s, _, connector, _ := newTestSession(t)
	joined(t, s, "general")
	s.HandleExistingUsers(context.Background(), "general", []core.Identity{ident(2, "bob")})

	s.HandlePeerLeft("general", 2)

	if !connector.peer(0).isClosed() {
		t.Fatal("peer connection must be closed on user-left")
	}
	if peers := s.Peers(); len(peers) != 0 {
		t.Fatalf("link must be discarded, got %+v", peers)
	}
}

func TestStaleOperationsAreNoOps(t *testing.T) {
	s, signaler, _, _ := newTestSession(t)
	joined(t, s, "general")

	// No link exists for user 9; none of these may error or send anything.
	s.HandleAnswer("general", 9, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})
	s.HandleCandidate("general", 9, webrtc.ICECandidateInit{Candidate: "candidate"})
	s.HandlePeerLeft("general", 9)

	// Wrong channel: dropped even for known users.
	s.HandlePeerJoined("other", ident(2, "bob"))
	if peers := s.Peers(); len(peers) != 0 {
		t.Fatalf("cross-channel notice must be ignored, got %+v", peers)
	}
	if signaler.offerCount() != 0 {
		t.Fatal("stale handling must not signal")
	}
}

func TestLeaveIsUnconditionalAndIdempotent(t *testing.T) {
	s, signaler, connector, capture := newTestSession(t)
	joined(t, s, "general")
	s.HandleExistingUsers(context.Background(), "general", []core.Identity{ident(2, "bob")})
	if err := s.ShareScreen(context.Background()); err != nil {
		t.Fatalf("share screen: %v", err)
	}

	s.Leave()
	s.Leave()

	if s.State() != StateIdle {
		t.Fatalf("expected idle, got %s", s.State())
	}
	if !connector.peer(0).isClosed() {
		t.Fatal("links must be torn down on leave")
	}
	if !capture.mics[0].isClosed() || !capture.screens[0].isClosed() {
		t.Fatal("local media must be released on leave")
	}
	signaler.mu.Lock()
	leaves := len(signaler.leaves)
	signaler.mu.Unlock()
	if leaves != 1 {
		t.Fatalf("voice-leave must be announced exactly once, got %d", leaves)
	}
}

func TestLeaveDuringCaptureCancelsJoin(t *testing.T) {
	s, signaler, _, capture := newTestSession(t)
	capture.micGate = make(chan struct{})

	joinErr := make(chan error, 1)
	go func() {
		joinErr <- s.Join(context.Background(), "general")
	}()

	// Wait for the join to park on media capture.
	deadline := time.After(2 * time.Second)
	for s.State() != StateJoining {
		select {
		case <-deadline:
			t.Fatal("join never reached capturing state")
		case <-time.After(5 * time.Millisecond):
		}
	}

	s.Leave()
	close(capture.micGate)

	select {
	case err := <-joinErr:
		if !errors.Is(err, ErrJoinCancelled) {
			t.Fatalf("expected ErrJoinCancelled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("join did not return")
	}

	if s.State() != StateIdle {
		t.Fatalf("expected idle after cancelled join, got %s", s.State())
	}
	capture.mu.Lock()
	mics := capture.mics
	capture.mu.Unlock()
	if len(mics) != 1 || !mics[0].isClosed() {
		t.Fatal("late capture result must be released and discarded")
	}
	signaler.mu.Lock()
	joins := len(signaler.joins)
	signaler.mu.Unlock()
	if joins != 0 {
		t.Fatal("cancelled join must never announce voice-join")
	}
}

func TestMicrophoneDenialFailsClosed(t *testing.T) {
	s, signaler, _, capture := newTestSession(t)
	capture.micErr = errors.New("permission denied")

	err := s.Join(context.Background(), "general")
	if err == nil {
		t.Fatal("expected join failure")
	}
	if s.State() != StateIdle {
		t.Fatalf("expected idle after failed join, got %s", s.State())
	}
	signaler.mu.Lock()
	joins := len(signaler.joins)
	signaler.mu.Unlock()
	if joins != 0 {
		t.Fatal("failed capture must never announce voice-join")
	}
}

func TestPeerFailureIsIsolated(t *testing.T) {
	s, _, connector, _ := newTestSession(t)
	joined(t, s, "general")
	s.HandleExistingUsers(context.Background(), "general", []core.Identity{ident(2, "bob"), ident(3, "carol")})

	// ICE gives up on bob's link only.
	connector.peer(0).onState(rtc.StateFailed)

	peers := s.Peers()
	if len(peers) != 1 {
		t.Fatalf("expected one surviving link, got %+v", peers)
	}
	if peers[0].User.ID != 3 {
		t.Fatalf("carol's link must survive, got %+v", peers)
	}
	if connector.peer(1).isClosed() {
		t.Fatal("unrelated peer connection must not be closed")
	}
}

func TestVolumeClampAndPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volumes.yml")
	volumes, err := NewVolumeStore(path)
	if err != nil {
		t.Fatalf("volume store: %v", err)
	}
	signaler := &fakeSignaler{}
	s := NewSession(signaler, &fakeConnector{}, &fakeCapture{}, volumes, rtc.Config{}, nil)
	joined(t, s, "general")
	s.HandleExistingUsers(context.Background(), "general", []core.Identity{ident(2, "bob")})

	if got := s.SetVolume(2, 3.5); got != MaxVolume {
		t.Fatalf("expected clamp to %v, got %v", MaxVolume, got)
	}
	if got := s.SetVolume(2, -1); got != 0 {
		t.Fatalf("expected clamp to 0, got %v", got)
	}
	if got := s.SetVolume(2, 1.4); got != 1.4 {
		t.Fatalf("expected 1.4, got %v", got)
	}

	// A fresh store sees the persisted value; unknown peers default.
	reloaded, err := NewVolumeStore(path)
	if err != nil {
		t.Fatalf("reload volume store: %v", err)
	}
	if got := reloaded.Get(2); got != 1.4 {
		t.Fatalf("expected persisted 1.4, got %v", got)
	}
	if got := reloaded.Get(99); got != DefaultVolume {
		t.Fatalf("expected default for unknown peer, got %v", got)
	}
}

func TestDeafenSilencesPlayback(t *testing.T) {
	s, _, _, _ := newTestSession(t)
	joined(t, s, "general")
	s.HandleExistingUsers(context.Background(), "general", []core.Identity{ident(2, "bob")})
	s.SetVolume(2, 1.5)

	if !s.ToggleDeafen() {
		t.Fatal("expected deafened state")
	}
	if got := s.PlaybackVolume(2); got != 0 {
		t.Fatalf("deafen must silence playback, got %v", got)
	}
	if got := s.Volume(2); got != 1.5 {
		t.Fatalf("configured volume must survive deafen, got %v", got)
	}
	s.ToggleDeafen()
	if got := s.PlaybackVolume(2); got != 1.5 {
		t.Fatalf("undeafen must restore playback, got %v", got)
	}
}

func TestNewPeerWhileSharingGetsScreenTrack(t *testing.T) {
	s, _, connector, capture := newTestSession(t)
	joined(t, s, "general")
	if err := s.ShareScreen(context.Background()); err != nil {
		t.Fatalf("share screen: %v", err)
	}

	s.HandlePeerJoined("general", ident(2, "bob"))

	screenID := capture.screens[0].ID()
	if !connector.peer(0).hasTrack(screenID) {
		t.Fatal("newcomer link must carry the active screen track")
	}
	if peers := s.Peers(); !peers[0].ScreenOut {
		t.Fatalf("snapshot should report screen out for newcomer: %+v", peers)
	}
}
