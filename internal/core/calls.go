package core

import (
	"github.com/google/uuid"
)

// callStatus tracks live 1:1 call state held by the broker.
type callStatus string

const (
	callRinging callStatus = "ringing"
	callActive  callStatus = "active"
)

// callSession is a private 1:1 call. Always exactly two parties; uses the
// same relay contract as voice rooms but keyed by call code.
type callSession struct {
	code   string
	caller *Client
	callee *Client
	status callStatus
}

func (s *callSession) other(c *Client) (*Client, bool) {
	switch c {
	case s.caller:
		return s.callee, true
	case s.callee:
		return s.caller, true
	default:
		return nil, false
	}
}

func (b *Broker) handleInitiateCall(c *Client, targetUserID int64) {
	if targetUserID == c.Identity.ID {
		c.send(&Event{Kind: EventError, Error: coreError(ErrCodeSelfCall, "cannot call yourself")})
		return
	}

	target, ok := b.byUser[targetUserID]
	if !ok {
		c.send(&Event{Kind: EventError, Error: coreError(ErrCodeCalleeOffline, "user is not online")})
		return
	}

	code := uuid.New().String()
	b.calls[code] = &callSession{
		code:   code,
		caller: c,
		callee: target,
		status: callRinging,
	}

	if b.records != nil {
		if err := b.records.RecordCallStarted(b.runCtx, code, c.Identity.ID, targetUserID); err != nil {
			b.log.Warn().Err(err).Str("call_code", code).Msg("failed to record call start")
		}
	}

	c.send(&Event{Kind: EventCallRinging, Call: &CallEvent{Code: code, From: c.Identity, To: target.Identity}})
	target.send(&Event{Kind: EventCallIncoming, Call: &CallEvent{Code: code, From: c.Identity, To: target.Identity}})
	b.log.Debug().Str("call_code", code).Int64("caller", c.Identity.ID).Int64("callee", targetUserID).Msg("call initiated")
}

func (b *Broker) handleAcceptCall(c *Client, code string) {
	session, ok := b.calls[code]
	if !ok || session.callee != c || session.status != callRinging {
		c.send(&Event{Kind: EventError, Error: coreError(ErrCodeCallNotFound, "no ringing call with that code")})
		return
	}

	session.status = callActive
	b.recordStatus(code, "active")

	session.caller.send(&Event{Kind: EventCallAccepted, Call: &CallEvent{Code: code, From: session.caller.Identity, To: session.callee.Identity}})
}

func (b *Broker) handleRejectCall(c *Client, code, reason string) {
	session, ok := b.calls[code]
	if !ok || session.callee != c || session.status != callRinging {
		c.send(&Event{Kind: EventError, Error: coreError(ErrCodeCallNotFound, "no ringing call with that code")})
		return
	}

	delete(b.calls, code)
	b.recordStatus(code, "rejected")

	session.caller.send(&Event{Kind: EventCallRejected, Call: &CallEvent{Code: code, From: session.caller.Identity, To: session.callee.Identity, Reason: reason}})
}

func (b *Broker) handleEndCall(c *Client, code string) {
	session, ok := b.calls[code]
	if !ok {
		c.send(&Event{Kind: EventError, Error: coreError(ErrCodeCallNotFound, "call not found")})
		return
	}
	other, party := session.other(c)
	if !party {
		c.send(&Event{Kind: EventError, Error: coreError(ErrCodeNotParticipant, "not a participant in this call")})
		return
	}

	delete(b.calls, code)
	b.recordStatus(code, "ended")

	other.send(&Event{Kind: EventCallEnded, Call: &CallEvent{Code: code, From: session.caller.Identity, To: session.callee.Identity}})
}

// relayCall forwards an opaque payload to the other party of the call.
func (b *Broker) relayCall(c *Client, cmd *Command) deliverResult {
	session, ok := b.calls[cmd.CallCode]
	if !ok {
		return deliverDropped
	}
	other, party := session.other(c)
	if !party {
		return deliverDenied
	}

	other.send(&Event{
		Kind:    EventCallSignal,
		User:    c.Identity,
		Signal:  cmd.Signal,
		Payload: cmd.Payload,
		Call:    &CallEvent{Code: cmd.CallCode, From: session.caller.Identity, To: session.callee.Identity},
	})
	return deliverOK
}

// endCallsOf terminates every call the disconnecting client is party to.
func (b *Broker) endCallsOf(c *Client) {
	for code, session := range b.calls {
		other, party := session.other(c)
		if !party {
			continue
		}
		delete(b.calls, code)
		b.recordStatus(code, "ended")
		other.send(&Event{Kind: EventCallEnded, Call: &CallEvent{Code: code, From: session.caller.Identity, To: session.callee.Identity, Reason: "disconnected"}})
	}
}

func (b *Broker) recordStatus(code, status string) {
	if b.records == nil {
		return
	}
	if err := b.records.RecordCallStatus(b.runCtx, code, status); err != nil {
		b.log.Warn().Err(err).Str("call_code", code).Str("status", status).Msg("failed to record call status")
	}
}
