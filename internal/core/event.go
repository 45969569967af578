package core

import "encoding/json"

// EventKind is a notification the broker emits to clients.
type EventKind int

const (
	// EventUsersUpdate delivers the full presence roster of a channel.
	EventUsersUpdate EventKind = iota
	// EventUserJoined notifies channel members about a new member.
	EventUserJoined
	// EventUserLeft notifies channel members about a departed member.
	EventUserLeft

	// EventVoiceExistingUsers is the point-in-time participant snapshot sent
	// to a voice joiner before it is added; the joiner offers to each entry.
	EventVoiceExistingUsers
	// EventVoiceUserJoined tells an existing participant a newcomer arrived
	// and will send an offer; the receiver must wait, not offer.
	EventVoiceUserJoined
	// EventVoiceUserLeft tells each remaining participant to tear down its
	// peer connection to the departed user.
	EventVoiceUserLeft
	// EventVoiceUsersUpdate delivers the full voice roster of a room.
	EventVoiceUsersUpdate
	// EventVoiceSignal carries a relayed offer/answer/candidate payload.
	EventVoiceSignal
	// EventScreenShare announces a participant started/stopped sharing.
	EventScreenShare

	// EventCallRinging confirms to the initiator that the call is ringing
	// and carries the call code.
	EventCallRinging
	// EventCallIncoming notifies the callee of an incoming call.
	EventCallIncoming
	// EventCallAccepted notifies the initiator that the call was accepted.
	EventCallAccepted
	// EventCallRejected notifies the initiator that the call was rejected.
	EventCallRejected
	// EventCallEnded notifies the other party that the call has ended.
	EventCallEnded
	// EventCallSignal carries a relayed negotiation payload within a call.
	EventCallSignal

	// EventError notifies clients about a domain error or denial.
	EventError
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind    EventKind
	Channel string
	User    Identity
	Users   []Identity
	Signal  SignalKind
	Payload json.RawMessage
	Started bool
	Call    *CallEvent
	Error   *CoreError
}

// CallEvent holds data specific to 1:1 call events.
type CallEvent struct {
	Code   string
	From   Identity
	To     Identity
	Reason string
}
