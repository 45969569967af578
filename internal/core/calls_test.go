package core

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

type memCallRecorder struct {
	mu       sync.Mutex
	started  []string
	statuses map[string][]string
}

func newMemCallRecorder() *memCallRecorder {
	return &memCallRecorder{statuses: make(map[string][]string)}
}

func (r *memCallRecorder) RecordCallStarted(_ context.Context, code string, _, _ int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, code)
	return nil
}

func (r *memCallRecorder) RecordCallStatus(_ context.Context, code, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[code] = append(r.statuses[code], status)
	return nil
}

func (r *memCallRecorder) history(code string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.statuses[code]...)
}

func startCallBroker(t *testing.T) (*Broker, *memCallRecorder) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	rec := newMemCallRecorder()
	b := NewBroker(nil, rec, nil)
	go b.Run(ctx)
	return b, rec
}

func TestCallRingAcceptSignalEnd(t *testing.T) {
	b, rec := startCallBroker(t)

	alice := NewClient("conn-a", Identity{ID: 1, Username: "alice"})
	bob := NewClient("conn-b", Identity{ID: 2, Username: "bob"})
	b.RegisterClient(alice)
	b.RegisterClient(bob)

	alice.Commands <- &Command{Kind: CommandInitiateCall, TargetUserID: 2}

	ringing := mustEvent(t, alice.Events, EventCallRinging)
	incoming := mustEvent(t, bob.Events, EventCallIncoming)
	if ringing.Call == nil || incoming.Call == nil || ringing.Call.Code != incoming.Call.Code {
		t.Fatalf("call codes diverge: %+v vs %+v", ringing.Call, incoming.Call)
	}
	if incoming.Call.From.ID != 1 {
		t.Fatalf("expected caller identity on incoming, got %+v", incoming.Call)
	}
	code := ringing.Call.Code

	bob.Commands <- &Command{Kind: CommandAcceptCall, CallCode: code}
	mustEvent(t, alice.Events, EventCallAccepted)

	// Signaling flows both ways through the call code.
	payload := json.RawMessage(`{"sdp":"offer"}`)
	alice.Commands <- &Command{Kind: CommandCallSignal, CallCode: code, Signal: SignalOffer, Payload: payload}
	sig := mustEvent(t, bob.Events, EventCallSignal)
	if sig.User.ID != 1 || string(sig.Payload) != string(payload) {
		t.Fatalf("unexpected call signal: %+v", sig)
	}

	bob.Commands <- &Command{Kind: CommandEndCall, CallCode: code}
	mustEvent(t, alice.Events, EventCallEnded)

	hist := rec.history(code)
	if len(hist) != 2 || hist[0] != "active" || hist[1] != "ended" {
		t.Fatalf("unexpected recorded history: %v", hist)
	}
}

func TestCallRejectNotifiesCallerWithReason(t *testing.T) {
	b, _ := startCallBroker(t)

	alice := NewClient("conn-a", Identity{ID: 1, Username: "alice"})
	bob := NewClient("conn-b", Identity{ID: 2, Username: "bob"})
	b.RegisterClient(alice)
	b.RegisterClient(bob)

	alice.Commands <- &Command{Kind: CommandInitiateCall, TargetUserID: 2}
	incoming := mustEvent(t, bob.Events, EventCallIncoming)

	bob.Commands <- &Command{Kind: CommandRejectCall, CallCode: incoming.Call.Code, Reason: "busy"}
	rejected := mustEvent(t, alice.Events, EventCallRejected)
	if rejected.Call.Reason != "busy" {
		t.Fatalf("expected rejection reason, got %+v", rejected.Call)
	}

	// The session is gone; signaling into it is silently dropped.
	alice.Commands <- &Command{Kind: CommandCallSignal, CallCode: incoming.Call.Code, Signal: SignalOffer}
	expectNoEvent(t, bob.Events, EventCallSignal)
}

func TestCallToOfflineUserFailsClosed(t *testing.T) {
	b, _ := startCallBroker(t)

	alice := NewClient("conn-a", Identity{ID: 1, Username: "alice"})
	b.RegisterClient(alice)

	alice.Commands <- &Command{Kind: CommandInitiateCall, TargetUserID: 42}
	ev := mustEvent(t, alice.Events, EventError)
	if ev.Error == nil || ev.Error.Code != ErrCodeCalleeOffline {
		t.Fatalf("expected callee_offline, got %+v", ev)
	}

	alice.Commands <- &Command{Kind: CommandInitiateCall, TargetUserID: 1}
	ev = mustEvent(t, alice.Events, EventError)
	if ev.Error == nil || ev.Error.Code != ErrCodeSelfCall {
		t.Fatalf("expected self_call, got %+v", ev)
	}
}

func TestDisconnectEndsActiveCall(t *testing.T) {
	b, rec := startCallBroker(t)

	alice := NewClient("conn-a", Identity{ID: 1, Username: "alice"})
	bob := NewClient("conn-b", Identity{ID: 2, Username: "bob"})
	b.RegisterClient(alice)
	b.RegisterClient(bob)

	alice.Commands <- &Command{Kind: CommandInitiateCall, TargetUserID: 2}
	incoming := mustEvent(t, bob.Events, EventCallIncoming)
	bob.Commands <- &Command{Kind: CommandAcceptCall, CallCode: incoming.Call.Code}
	mustEvent(t, alice.Events, EventCallAccepted)

	b.UnregisterClient(bob)

	ended := mustEvent(t, alice.Events, EventCallEnded)
	if ended.Call.Reason != "disconnected" {
		t.Fatalf("expected disconnect reason, got %+v", ended.Call)
	}

	hist := rec.history(incoming.Call.Code)
	if len(hist) == 0 || hist[len(hist)-1] != "ended" {
		t.Fatalf("expected ended recorded, got %v", hist)
	}
}

func TestOnlyCalleeMayAccept(t *testing.T) {
	b, _ := startCallBroker(t)

	alice := NewClient("conn-a", Identity{ID: 1, Username: "alice"})
	bob := NewClient("conn-b", Identity{ID: 2, Username: "bob"})
	b.RegisterClient(alice)
	b.RegisterClient(bob)

	alice.Commands <- &Command{Kind: CommandInitiateCall, TargetUserID: 2}
	ringing := mustEvent(t, alice.Events, EventCallRinging)

	// The caller accepting its own call is a protocol violation.
	alice.Commands <- &Command{Kind: CommandAcceptCall, CallCode: ringing.Call.Code}
	ev := mustEvent(t, alice.Events, EventError)
	if ev.Error == nil || ev.Error.Code != ErrCodeCallNotFound {
		t.Fatalf("expected call_not_found, got %+v", ev)
	}
}
