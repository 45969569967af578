package rtc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
)

// ErrNotLocalTrack is returned when a peer receives a track that was not
// produced by this engine.
var ErrNotLocalTrack = errors.New("rtc: track is not a pion local track")

// PionConnector builds pion-backed peer connections.
type PionConnector struct {
	log *zerolog.Logger
}

func NewPionConnector(logger *zerolog.Logger) *PionConnector {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &PionConnector{log: logger}
}

func (c *PionConnector) NewPeer(cfg Config) (Peer, error) {
	rtcConfig := webrtc.Configuration{}
	for _, url := range cfg.STUNServers {
		rtcConfig.ICEServers = append(rtcConfig.ICEServers, webrtc.ICEServer{URLs: []string{url}})
	}

	pc, err := webrtc.NewPeerConnection(rtcConfig)
	if err != nil {
		return nil, err
	}

	peer := &pionPeer{
		pc:      pc,
		log:     c.log,
		senders: make(map[string]*webrtc.RTPSender),
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		peer.mu.Lock()
		fn := peer.onICE
		peer.mu.Unlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.log.Debug().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track received")
		peer.mu.Lock()
		fn := peer.onTrack
		peer.mu.Unlock()
		if fn != nil {
			fn(trackKindOf(track.Kind()), track.ID())
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.log.Debug().Str("state", s.String()).Msg("peer state")
		peer.mu.Lock()
		fn := peer.onState
		peer.mu.Unlock()
		if fn != nil {
			fn(peerStateOf(s))
		}
	})

	return peer, nil
}

type pionPeer struct {
	pc  *webrtc.PeerConnection
	log *zerolog.Logger

	mu      sync.Mutex
	senders map[string]*webrtc.RTPSender
	onICE   func(webrtc.ICECandidateInit)
	onTrack func(TrackKind, string)
	onState func(PeerState)
}

func (p *pionPeer) CreateOffer(_ context.Context) (webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (p *pionPeer) CreateAnswer(_ context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (p *pionPeer) AcceptAnswer(answer webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(answer)
}

func (p *pionPeer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

func (p *pionPeer) AddTrack(track Track) error {
	local, ok := track.(*LocalTrack)
	if !ok {
		return ErrNotLocalTrack
	}
	sender, err := p.pc.AddTrack(local.sample)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.senders[track.ID()] = sender
	p.mu.Unlock()
	return nil
}

func (p *pionPeer) RemoveTrack(track Track) error {
	p.mu.Lock()
	sender, ok := p.senders[track.ID()]
	delete(p.senders, track.ID())
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return p.pc.RemoveTrack(sender)
}

func (p *pionPeer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	p.onICE = fn
	p.mu.Unlock()
}

func (p *pionPeer) OnTrack(fn func(TrackKind, string)) {
	p.mu.Lock()
	p.onTrack = fn
	p.mu.Unlock()
}

func (p *pionPeer) OnStateChange(fn func(PeerState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}

func trackKindOf(kind webrtc.RTPCodecType) TrackKind {
	if kind == webrtc.RTPCodecTypeVideo {
		return KindVideo
	}
	return KindAudio
}

func peerStateOf(s webrtc.PeerConnectionState) PeerState {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		return StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return StateFailed
	case webrtc.PeerConnectionStateClosed:
		return StateClosed
	default:
		return StateConnecting
	}
}

// LocalTrack wraps a pion sample track. Writes are gated by the enabled
// flag so muting never touches the peer connection.
type LocalTrack struct {
	kind    TrackKind
	sample  *webrtc.TrackLocalStaticSample
	enabled atomic.Bool
	closed  atomic.Bool
}

// NewAudioTrack creates a local Opus audio track.
func NewAudioTrack(id, streamID string) (*LocalTrack, error) {
	return newLocalTrack(KindAudio, webrtc.MimeTypeOpus, id, streamID)
}

// NewVideoTrack creates a local VP8 video track (screen capture).
func NewVideoTrack(id, streamID string) (*LocalTrack, error) {
	return newLocalTrack(KindVideo, webrtc.MimeTypeVP8, id, streamID)
}

func newLocalTrack(kind TrackKind, mimeType, id, streamID string) (*LocalTrack, error) {
	sample, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mimeType},
		id, streamID,
	)
	if err != nil {
		return nil, err
	}
	t := &LocalTrack{kind: kind, sample: sample}
	t.enabled.Store(true)
	return t, nil
}

func (t *LocalTrack) Kind() TrackKind { return t.kind }
func (t *LocalTrack) ID() string      { return t.sample.ID() }

func (t *LocalTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }
func (t *LocalTrack) Enabled() bool           { return t.enabled.Load() }

// WriteSample pushes one encoded media sample. Samples are dropped while
// the track is disabled or after Close.
func (t *LocalTrack) WriteSample(s media.Sample) error {
	if t.closed.Load() || !t.enabled.Load() {
		return nil
	}
	return t.sample.WriteSample(s)
}

func (t *LocalTrack) Close() error {
	t.closed.Store(true)
	return nil
}
