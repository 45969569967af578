package voice

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/haven-im/haven-server/internal/rtc"
)

type sentSignal struct {
	channel string
	target  int64
	sdp     webrtc.SessionDescription
}

type fakeSignaler struct {
	mu         sync.Mutex
	joins      []string
	leaves     []string
	offers     []sentSignal
	answers    []sentSignal
	candidates []sentSignal
	screens    []bool
	joinErr    error
}

func (f *fakeSignaler) VoiceJoin(channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return f.joinErr
	}
	f.joins = append(f.joins, channel)
	return nil
}

func (f *fakeSignaler) VoiceLeave(channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, channel)
	return nil
}

func (f *fakeSignaler) SendOffer(channel string, target int64, sdp webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers = append(f.offers, sentSignal{channel, target, sdp})
	return nil
}

func (f *fakeSignaler) SendAnswer(channel string, target int64, sdp webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, sentSignal{channel, target, sdp})
	return nil
}

func (f *fakeSignaler) SendCandidate(channel string, target int64, candidate webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, sentSignal{channel: channel, target: target})
	return nil
}

func (f *fakeSignaler) ScreenShare(channel string, started bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.screens = append(f.screens, started)
	return nil
}

func (f *fakeSignaler) offerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.offers)
}

func (f *fakeSignaler) offerTargets() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, 0, len(f.offers))
	for _, o := range f.offers {
		out = append(out, o.target)
	}
	return out
}

type fakeTrack struct {
	mu      sync.Mutex
	kind    rtc.TrackKind
	id      string
	enabled bool
	closed  bool
}

func newFakeTrack(kind rtc.TrackKind, id string) *fakeTrack {
	return &fakeTrack{kind: kind, id: id, enabled: true}
}

func (t *fakeTrack) Kind() rtc.TrackKind { return t.kind }
func (t *fakeTrack) ID() string          { return t.id }

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTrack) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type fakePeer struct {
	mu        sync.Mutex
	offers    int
	answers   int
	accepted  int
	tracks    map[string]rtc.Track
	closed    bool
	offerErr  error
	answerErr error

	onICE   func(webrtc.ICECandidateInit)
	onTrack func(rtc.TrackKind, string)
	onState func(rtc.PeerState)
}

func newFakePeer() *fakePeer {
	return &fakePeer{tracks: make(map[string]rtc.Track)}
}

func (p *fakePeer) CreateOffer(_ context.Context) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.offerErr != nil {
		return webrtc.SessionDescription{}, p.offerErr
	}
	p.offers++
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  fmt.Sprintf("offer-%d", p.offers),
	}, nil
}

func (p *fakePeer) CreateAnswer(_ context.Context, _ webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.answerErr != nil {
		return webrtc.SessionDescription{}, p.answerErr
	}
	p.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (p *fakePeer) AcceptAnswer(_ webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accepted++
	return nil
}

func (p *fakePeer) AddICECandidate(_ webrtc.ICECandidateInit) error { return nil }

func (p *fakePeer) AddTrack(track rtc.Track) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks[track.ID()] = track
	return nil
}

func (p *fakePeer) RemoveTrack(track rtc.Track) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tracks, track.ID())
	return nil
}

func (p *fakePeer) OnICECandidate(fn func(webrtc.ICECandidateInit)) { p.onICE = fn }
func (p *fakePeer) OnTrack(fn func(rtc.TrackKind, string))         { p.onTrack = fn }
func (p *fakePeer) OnStateChange(fn func(rtc.PeerState))           { p.onState = fn }

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) offerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offers
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) hasTrack(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.tracks[id]
	return ok
}

type fakeConnector struct {
	mu    sync.Mutex
	peers []*fakePeer
	err   error
}

func (c *fakeConnector) NewPeer(_ rtc.Config) (rtc.Peer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	peer := newFakePeer()
	c.peers = append(c.peers, peer)
	return peer, nil
}

func (c *fakeConnector) peer(i int) *fakePeer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peers[i]
}

func (c *fakeConnector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.peers)
}

type fakeCapture struct {
	mu        sync.Mutex
	micErr    error
	screenErr error
	micGate   chan struct{} // when set, Microphone blocks until closed
	mics      []*fakeTrack
	screens   []*fakeTrack
}

func (c *fakeCapture) Microphone(ctx context.Context) (rtc.Track, error) {
	c.mu.Lock()
	gate := c.micGate
	c.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.micErr != nil {
		return nil, c.micErr
	}
	track := newFakeTrack(rtc.KindAudio, fmt.Sprintf("mic-%d", len(c.mics)))
	c.mics = append(c.mics, track)
	return track, nil
}

func (c *fakeCapture) Screen(_ context.Context) (rtc.Track, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.screenErr != nil {
		return nil, c.screenErr
	}
	track := newFakeTrack(rtc.KindVideo, fmt.Sprintf("screen-%d", len(c.screens)))
	c.screens = append(c.screens, track)
	return track, nil
}
