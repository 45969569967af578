// Package client is the Go client for the broker's websocket protocol.
// It carries the event channel for tooling and feeds a voice session when
// one is attached.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/haven-im/haven-server/internal/core"
	"github.com/haven-im/haven-server/internal/proto"
	"github.com/haven-im/haven-server/internal/voice"
)

// Handlers routes incoming events. Session may be nil when the caller only
// wants raw events; OnEvent may be nil when only voice routing is needed.
type Handlers struct {
	Session *voice.Session
	OnEvent func(wire WireEvent)
}

// WireEvent is one decoded frame from the broker.
type WireEvent struct {
	Type  string
	Event string
	Data  json.RawMessage
	Error *proto.Error
}

// Client is one authenticated broker connection. Writes are serialized;
// reads run on a dedicated goroutine until the connection drops.
type Client struct {
	conn     *websocket.Conn
	log      *zerolog.Logger
	handlers Handlers

	writeMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// Dial connects, authenticates with the hello frame and starts the read
// loop.
func Dial(ctx context.Context, url, token string, handlers Handlers, logger *zerolog.Logger) (*Client, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:     conn,
		log:      logger,
		handlers: handlers,
		ctx:      runCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	hello, err := json.Marshal(proto.HelloData{Token: token, Protocol: proto.ProtocolVersion})
	if err != nil {
		cancel()
		_ = conn.Close(websocket.StatusInternalError, "encode hello")
		return nil, err
	}
	if err := c.sendRaw(proto.Inbound{Type: proto.InboundTypeHello, Data: hello}); err != nil {
		cancel()
		_ = conn.Close(websocket.StatusInternalError, "send hello")
		return nil, fmt.Errorf("hello: %w", err)
	}

	go c.readLoop()
	return c, nil
}

// Done closes when the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close tears the connection down. The attached voice session, if any, is
// left to its own Leave; transport loss reaches it via the broker fan-out
// on reconnect, not here.
func (c *Client) Close() error {
	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}

// JoinChannel subscribes to a channel's presence.
func (c *Client) JoinChannel(channel string) error {
	return c.send(proto.InboundTypeJoin, proto.ChannelData{Channel: channel})
}

// LeaveChannel unsubscribes from a channel.
func (c *Client) LeaveChannel(channel string) error {
	return c.send(proto.InboundTypeLeave, proto.ChannelData{Channel: channel})
}

// VoiceJoin implements voice.Signaler.
func (c *Client) VoiceJoin(channel string) error {
	return c.send(proto.InboundTypeVoiceJoin, proto.ChannelData{Channel: channel})
}

// VoiceLeave implements voice.Signaler.
func (c *Client) VoiceLeave(channel string) error {
	return c.send(proto.InboundTypeVoiceLeave, proto.ChannelData{Channel: channel})
}

// SendOffer implements voice.Signaler.
func (c *Client) SendOffer(channel string, targetUserID int64, sdp webrtc.SessionDescription) error {
	return c.sendSignal(proto.InboundTypeVoiceOffer, channel, targetUserID, sdp)
}

// SendAnswer implements voice.Signaler.
func (c *Client) SendAnswer(channel string, targetUserID int64, sdp webrtc.SessionDescription) error {
	return c.sendSignal(proto.InboundTypeVoiceAnswer, channel, targetUserID, sdp)
}

// SendCandidate implements voice.Signaler.
func (c *Client) SendCandidate(channel string, targetUserID int64, candidate webrtc.ICECandidateInit) error {
	return c.sendSignal(proto.InboundTypeVoiceICE, channel, targetUserID, candidate)
}

// ScreenShare implements voice.Signaler.
func (c *Client) ScreenShare(channel string, started bool) error {
	msgType := proto.InboundTypeScreenStop
	if started {
		msgType = proto.InboundTypeScreenStart
	}
	return c.send(msgType, proto.ChannelData{Channel: channel})
}

// InitiateCall rings another user.
func (c *Client) InitiateCall(targetUserID int64) error {
	return c.send(proto.InboundTypeInitiateCall, proto.InitiateCallData{TargetUserID: targetUserID})
}

// AcceptCall accepts an incoming call by code.
func (c *Client) AcceptCall(code string) error {
	return c.send(proto.InboundTypeAcceptCall, proto.CallData{Code: code})
}

// RejectCall declines an incoming call.
func (c *Client) RejectCall(code, reason string) error {
	return c.send(proto.InboundTypeRejectCall, proto.CallData{Code: code, Reason: reason})
}

// EndCall hangs up.
func (c *Client) EndCall(code string) error {
	return c.send(proto.InboundTypeEndCall, proto.CallData{Code: code})
}

// CallSignal relays a negotiation payload inside a 1:1 call.
func (c *Client) CallSignal(code string, payload json.RawMessage) error {
	return c.send(proto.InboundTypeCallSignal, proto.CallSignalData{Code: code, Payload: payload})
}

func (c *Client) sendSignal(msgType, channel string, targetUserID int64, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.send(msgType, proto.SignalData{
		Channel:      channel,
		TargetUserID: targetUserID,
		Payload:      raw,
	})
}

func (c *Client) send(msgType string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.sendRaw(proto.Inbound{Type: msgType, Data: raw})
}

func (c *Client) sendRaw(msg proto.Inbound) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsjson.Write(c.ctx, c.conn, msg)
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer c.cancel()

	for {
		var frame struct {
			Type  string          `json:"type"`
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
			Error *proto.Error    `json:"error"`
		}
		if err := wsjson.Read(c.ctx, c.conn, &frame); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			c.log.Debug().Err(err).Msg("read loop ended")
			return
		}

		wire := WireEvent{Type: frame.Type, Event: frame.Event, Data: frame.Data, Error: frame.Error}
		if c.handlers.Session != nil {
			c.routeVoice(wire)
		}
		if c.handlers.OnEvent != nil {
			c.handlers.OnEvent(wire)
		}
	}
}

// routeVoice feeds voice events into the attached session. Decode
// failures are logged and dropped; one bad frame must not kill the loop.
func (c *Client) routeVoice(wire WireEvent) {
	session := c.handlers.Session
	switch wire.Event {
	case proto.EventVoiceExistingUsers:
		var data proto.EventUsers
		if err := json.Unmarshal(wire.Data, &data); err != nil {
			c.log.Warn().Err(err).Str("event", wire.Event).Msg("decode event")
			return
		}
		session.HandleExistingUsers(c.ctx, data.Channel, identities(data.Users))

	case proto.EventVoiceUserJoined:
		var data proto.EventUser
		if err := json.Unmarshal(wire.Data, &data); err != nil {
			c.log.Warn().Err(err).Str("event", wire.Event).Msg("decode event")
			return
		}
		session.HandlePeerJoined(data.Channel, identity(data.User))

	case proto.EventVoiceUserLeft:
		var data proto.EventUser
		if err := json.Unmarshal(wire.Data, &data); err != nil {
			c.log.Warn().Err(err).Str("event", wire.Event).Msg("decode event")
			return
		}
		session.HandlePeerLeft(data.Channel, data.User.ID)

	case proto.EventVoiceOffer:
		data, sdp, ok := c.decodeSignal(wire)
		if ok {
			session.HandleOffer(c.ctx, data.Channel, identity(data.From), sdp)
		}

	case proto.EventVoiceAnswer:
		data, sdp, ok := c.decodeSignal(wire)
		if ok {
			session.HandleAnswer(data.Channel, data.From.ID, sdp)
		}

	case proto.EventVoiceICE:
		var data proto.EventSignal
		if err := json.Unmarshal(wire.Data, &data); err != nil {
			c.log.Warn().Err(err).Str("event", wire.Event).Msg("decode event")
			return
		}
		var candidate webrtc.ICECandidateInit
		if err := json.Unmarshal(data.Payload, &candidate); err != nil {
			c.log.Warn().Err(err).Str("event", wire.Event).Msg("decode candidate")
			return
		}
		session.HandleCandidate(data.Channel, data.From.ID, candidate)

	case proto.EventScreenStarted, proto.EventScreenStopped:
		var data proto.EventUser
		if err := json.Unmarshal(wire.Data, &data); err != nil {
			c.log.Warn().Err(err).Str("event", wire.Event).Msg("decode event")
			return
		}
		session.HandleScreenShare(data.Channel, data.User.ID, wire.Event == proto.EventScreenStarted)
	}
}

func (c *Client) decodeSignal(wire WireEvent) (proto.EventSignal, webrtc.SessionDescription, bool) {
	var data proto.EventSignal
	if err := json.Unmarshal(wire.Data, &data); err != nil {
		c.log.Warn().Err(err).Str("event", wire.Event).Msg("decode event")
		return data, webrtc.SessionDescription{}, false
	}
	var sdp webrtc.SessionDescription
	if err := json.Unmarshal(data.Payload, &sdp); err != nil {
		c.log.Warn().Err(err).Str("event", wire.Event).Msg("decode sdp")
		return data, sdp, false
	}
	return data, sdp, true
}

func identity(u proto.WireUser) core.Identity {
	return core.Identity{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName}
}

func identities(users []proto.WireUser) []core.Identity {
	out := make([]core.Identity, 0, len(users))
	for _, u := range users {
		out = append(out, identity(u))
	}
	return out
}
