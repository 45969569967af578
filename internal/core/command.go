package core

import "encoding/json"

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandJoinChannel subscribes the connection to a channel's presence.
	CommandJoinChannel CommandKind = iota
	// CommandLeaveChannel unsubscribes the connection from a channel.
	CommandLeaveChannel
	// CommandVoiceJoin enters the channel's voice room.
	CommandVoiceJoin
	// CommandVoiceLeave exits the channel's voice room.
	CommandVoiceLeave
	// CommandVoiceSignal relays a negotiation payload to one participant.
	CommandVoiceSignal
	// CommandScreenShare announces screen share start/stop to the room.
	CommandScreenShare
	// CommandInitiateCall starts a private 1:1 call.
	CommandInitiateCall
	// CommandAcceptCall accepts an incoming call.
	CommandAcceptCall
	// CommandRejectCall rejects an incoming call.
	CommandRejectCall
	// CommandEndCall hangs up an active call.
	CommandEndCall
	// CommandCallSignal relays a negotiation payload within a call.
	CommandCallSignal
)

// SignalKind tags the negotiation payload being relayed. The broker never
// inspects the payload itself.
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "ice-candidate"
)

// Command represents an action requested by a client.
type Command struct {
	Kind         CommandKind
	Channel      string
	TargetUserID int64
	Signal       SignalKind
	Payload      json.RawMessage
	CallCode     string
	Reason       string
	Started      bool
}
