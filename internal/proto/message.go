package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeHello = "hello"
	InboundTypeJoin  = "join"
	InboundTypeLeave = "leave"

	InboundTypeVoiceJoin     = "voice-join"
	InboundTypeVoiceLeave    = "voice-leave"
	InboundTypeVoiceOffer    = "voice-offer"
	InboundTypeVoiceAnswer   = "voice-answer"
	InboundTypeVoiceICE      = "voice-ice-candidate"
	InboundTypeScreenStart   = "screen-share-started"
	InboundTypeScreenStop    = "screen-share-stopped"
	InboundTypeInitiateCall  = "initiate-call"
	InboundTypeAcceptCall    = "accept-call"
	InboundTypeRejectCall    = "reject-call"
	InboundTypeEndCall       = "end-call"
	InboundTypeCallSignal    = "call-signal"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"
)

// Outbound event names.
const (
	EventUsersUpdate        = "users-update"
	EventUserJoined         = "user-joined"
	EventUserLeft           = "user-left"
	EventVoiceExistingUsers = "voice-existing-users"
	EventVoiceUserJoined    = "voice-user-joined"
	EventVoiceUserLeft      = "voice-user-left"
	EventVoiceUsersUpdate   = "voice-users-update"
	EventVoiceOffer         = "voice-offer"
	EventVoiceAnswer        = "voice-answer"
	EventVoiceICE           = "voice-ice-candidate"
	EventScreenStarted      = "screen-share-started"
	EventScreenStopped      = "screen-share-stopped"
	EventCallRinging        = "call-ringing"
	EventIncomingCall       = "incoming-call"
	EventCallAccepted       = "call-accepted"
	EventCallRejected       = "call-rejected"
	EventCallEnded          = "call-ended"
	EventCallSignal         = "call-signal"
)

// HelloData is sent by the client to authenticate the connection.
type HelloData struct {
	Token    string `json:"token"`
	Protocol int    `json:"protocol,omitempty"`
}

// ChannelData addresses a channel by code (join/leave/voice-join/voice-leave).
type ChannelData struct {
	Channel string `json:"channel"`
}

// SignalData carries a relayed negotiation payload toward one participant.
type SignalData struct {
	Channel      string          `json:"channel"`
	TargetUserID int64           `json:"target_user_id"`
	Payload      json.RawMessage `json:"payload"`
}

// InitiateCallData starts a private 1:1 call.
type InitiateCallData struct {
	TargetUserID int64 `json:"target_user_id"`
}

// CallData addresses an existing call by code.
type CallData struct {
	Code   string `json:"code"`
	Reason string `json:"reason,omitempty"`
}

// CallSignalData carries a relayed payload within a 1:1 call.
type CallSignalData struct {
	Code    string          `json:"code"`
	Payload json.RawMessage `json:"payload"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// WireUser identifies a user in outbound payloads.
type WireUser struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
}

// EventUsers carries a roster or snapshot for a channel.
type EventUsers struct {
	Channel string     `json:"channel"`
	Users   []WireUser `json:"users"`
}

// EventUser carries a single membership delta for a channel.
type EventUser struct {
	Channel string   `json:"channel"`
	User    WireUser `json:"user"`
}

// EventSignal carries a relayed negotiation payload to its target.
type EventSignal struct {
	Channel string          `json:"channel"`
	From    WireUser        `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

// EventCall describes a 1:1 call transition.
type EventCall struct {
	Code   string   `json:"code"`
	From   WireUser `json:"from"`
	To     WireUser `json:"to"`
	Reason string   `json:"reason,omitempty"`
}

// EventCallSignalData carries a relayed payload within a 1:1 call.
type EventCallSignalData struct {
	Code    string          `json:"code"`
	From    WireUser        `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
