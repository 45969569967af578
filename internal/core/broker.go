package core

import (
	"context"

	"github.com/rs/zerolog"
)

// MembershipChecker is the persistent channel-membership record the
// voice-join gate reads. store.ChannelStore satisfies it.
type MembershipChecker interface {
	IsMember(ctx context.Context, userID int64, channelCode string) (bool, error)
}

// CallRecorder persists 1:1 call history. Live call state never touches it.
type CallRecorder interface {
	RecordCallStarted(ctx context.Context, code string, callerID, calleeID int64) error
	RecordCallStatus(ctx context.Context, code, status string) error
}

// deliverResult is the explicit outcome of a relay attempt.
type deliverResult int

const (
	deliverOK deliverResult = iota
	// deliverDropped means the target raced a disconnect; expected during
	// teardown, never surfaced to the sender.
	deliverDropped
	// deliverDenied means the sender lacked room membership.
	deliverDenied
)

// channelPresence tracks which connections are present in one channel.
type channelPresence struct {
	code    string
	members map[int64]*Client
}

// voiceRoom tracks which connections participate in one voice room.
type voiceRoom struct {
	code         string
	participants map[int64]*Client
}

// Broker is the authoritative in-memory registry of who is connected where,
// and a transparent pairwise relay for negotiation payloads.
//
// All registry state is owned by the single goroutine running Run; clients
// talk to it through their Command channels and hear back on their Event
// channels. Snapshot-then-mutate sequences therefore happen atomically
// within one handler invocation.
type Broker struct {
	log     *zerolog.Logger
	members MembershipChecker // nil gates voice join on live channel presence
	records CallRecorder      // nil disables call history

	register   chan *Client
	unregister chan *Client
	commands   chan clientCommand

	clients  map[string]*Client // connID -> client
	byUser   map[int64]*Client  // userID -> connection index, maintained incrementally
	presence map[string]*channelPresence
	voice    map[string]*voiceRoom
	calls    map[string]*callSession

	runCtx context.Context
}

type clientCommand struct {
	client *Client
	cmd    *Command
}

// NewBroker creates a broker. members and records may be nil.
func NewBroker(members MembershipChecker, records CallRecorder, logger *zerolog.Logger) *Broker {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Broker{
		log:        logger,
		members:    members,
		records:    records,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		commands:   make(chan clientCommand, 64),
		clients:    make(map[string]*Client),
		byUser:     make(map[int64]*Client),
		presence:   make(map[string]*channelPresence),
		voice:      make(map[string]*voiceRoom),
		calls:      make(map[string]*callSession),
	}
}

// RegisterClient hands a connection to the broker. Blocks until the broker
// loop picks it up.
func (b *Broker) RegisterClient(c *Client) {
	b.register <- c
}

// UnregisterClient removes a connection from every channel, voice room and
// call it belongs to. Triggered by transport-level connection loss.
func (b *Broker) UnregisterClient(c *Client) {
	b.unregister <- c
}

// Run processes all broker events until ctx is cancelled. Must be called
// exactly once.
func (b *Broker) Run(ctx context.Context) {
	b.runCtx = ctx
	for {
		select {
		case c := <-b.register:
			b.handleRegister(ctx, c)
		case c := <-b.unregister:
			b.handleDisconnect(c)
		case cc := <-b.commands:
			b.dispatch(cc.client, cc.cmd)
		case <-ctx.Done():
			return
		}
	}
}

func (b *Broker) handleRegister(ctx context.Context, c *Client) {
	b.clients[c.ConnID] = c
	b.byUser[c.Identity.ID] = c
	b.log.Debug().Str("conn_id", c.ConnID).Int64("user_id", c.Identity.ID).Msg("client registered")

	// Pump the client's commands into the broker loop. Released when the
	// client unregisters or the broker stops.
	go func() {
		for {
			select {
			case cmd, ok := <-c.Commands:
				if !ok {
					return
				}
				select {
				case b.commands <- clientCommand{client: c, cmd: cmd}:
				case <-c.done:
					return
				case <-ctx.Done():
					return
				}
			case <-c.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (b *Broker) dispatch(c *Client, cmd *Command) {
	// A buffered command can arrive after the disconnect for the same
	// connection; acting on it would resurrect the dead entry in the
	// registry. Only the connection the registry knows may act.
	if b.clients[c.ConnID] != c {
		b.log.Debug().Str("conn_id", c.ConnID).Msg("command from unregistered connection dropped")
		return
	}
	switch cmd.Kind {
	case CommandJoinChannel:
		b.handleJoinChannel(c, cmd.Channel)
	case CommandLeaveChannel:
		b.handleLeaveChannel(c, cmd.Channel)
	case CommandVoiceJoin:
		b.handleVoiceJoin(c, cmd.Channel)
	case CommandVoiceLeave:
		b.handleVoiceLeave(c, cmd.Channel)
	case CommandVoiceSignal:
		b.relayVoice(c, cmd)
	case CommandScreenShare:
		b.handleScreenShare(c, cmd.Channel, cmd.Started)
	case CommandInitiateCall:
		b.handleInitiateCall(c, cmd.TargetUserID)
	case CommandAcceptCall:
		b.handleAcceptCall(c, cmd.CallCode)
	case CommandRejectCall:
		b.handleRejectCall(c, cmd.CallCode, cmd.Reason)
	case CommandEndCall:
		b.handleEndCall(c, cmd.CallCode)
	case CommandCallSignal:
		b.relayCall(c, cmd)
	default:
		c.send(&Event{Kind: EventError, Error: coreError(ErrCodeBadRequest, "unknown command")})
	}
}

// ==== channel presence ====

func (b *Broker) handleJoinChannel(c *Client, channel string) {
	if channel == "" {
		c.send(&Event{Kind: EventError, Error: coreError(ErrCodeBadRequest, "channel is required")})
		return
	}

	// Unknown channels are implicitly created empty.
	p, ok := b.presence[channel]
	if !ok {
		p = &channelPresence{code: channel, members: make(map[int64]*Client)}
		b.presence[channel] = p
	}

	_, already := p.members[c.Identity.ID]
	p.members[c.Identity.ID] = c
	c.channels[channel] = struct{}{}

	// Rejoining refreshes the entry; no duplicate broadcast.
	if !already {
		for uid, member := range p.members {
			if uid == c.Identity.ID {
				continue
			}
			member.send(&Event{Kind: EventUserJoined, Channel: channel, User: c.Identity})
		}
	}

	b.broadcastRoster(p)
	b.log.Debug().Str("channel", channel).Int64("user_id", c.Identity.ID).Bool("rejoin", already).Msg("channel join")
}

func (b *Broker) handleLeaveChannel(c *Client, channel string) {
	// Leaving a channel also exits its voice room.
	b.removeFromVoice(c, channel)
	b.removeFromChannel(c, channel)
}

func (b *Broker) removeFromChannel(c *Client, channel string) {
	p, ok := b.presence[channel]
	if !ok {
		return
	}
	member, ok := p.members[c.Identity.ID]
	if !ok || member != c {
		// Entry owned by a newer connection; leave it alone.
		delete(c.channels, channel)
		return
	}

	delete(p.members, c.Identity.ID)
	delete(c.channels, channel)

	for _, m := range p.members {
		m.send(&Event{Kind: EventUserLeft, Channel: channel, User: c.Identity})
	}
	b.broadcastRoster(p)

	if len(p.members) == 0 {
		delete(b.presence, channel)
	}
}

func (b *Broker) broadcastRoster(p *channelPresence) {
	users := rosterOf(p.members)
	for _, m := range p.members {
		m.send(&Event{Kind: EventUsersUpdate, Channel: p.code, Users: users})
	}
}

// ==== voice rooms ====

func (b *Broker) handleVoiceJoin(c *Client, channel string) {
	if channel == "" {
		c.send(&Event{Kind: EventError, Error: coreError(ErrCodeBadRequest, "channel is required")})
		return
	}

	// Voice access is gated on chat-channel membership, checked once here,
	// never per signaling message. Fails closed with an explicit denial.
	if !b.voiceAuthorized(c, channel) {
		c.send(&Event{Kind: EventError, Channel: channel, Error: coreError(ErrCodeVoiceDenied, "voice access denied")})
		return
	}

	room, ok := b.voice[channel]
	if !ok {
		room = &voiceRoom{code: channel, participants: make(map[int64]*Client)}
		b.voice[channel] = room
	}

	if _, already := room.participants[c.Identity.ID]; already {
		// Rejoin refreshes the entry; peers were already told to expect
		// offers, so they are not notified again.
		room.participants[c.Identity.ID] = c
		c.voice[channel] = struct{}{}
		c.send(&Event{Kind: EventVoiceExistingUsers, Channel: channel, Users: rosterExcept(room.participants, c.Identity.ID)})
		return
	}

	// Snapshot before adding: the joiner offers to exactly this set, and
	// each member of it waits for an offer. One initiator per pair, so
	// simultaneous offers (glare) cannot happen.
	existing := rosterOf(room.participants)
	c.send(&Event{Kind: EventVoiceExistingUsers, Channel: channel, Users: existing})

	room.participants[c.Identity.ID] = c
	c.voice[channel] = struct{}{}

	for uid, p := range room.participants {
		if uid == c.Identity.ID {
			continue
		}
		p.send(&Event{Kind: EventVoiceUserJoined, Channel: channel, User: c.Identity})
	}

	b.broadcastVoiceRoster(room)
	b.log.Debug().Str("channel", channel).Int64("user_id", c.Identity.ID).Int("existing", len(existing)).Msg("voice join")
}

func (b *Broker) voiceAuthorized(c *Client, channel string) bool {
	if b.members == nil {
		// No persistent records wired (tests, ephemeral mode): gate on
		// live channel presence instead.
		p, ok := b.presence[channel]
		if !ok {
			return false
		}
		member, ok := p.members[c.Identity.ID]
		return ok && member == c
	}

	ok, err := b.members.IsMember(b.runCtx, c.Identity.ID, channel)
	if err != nil {
		b.log.Warn().Err(err).Str("channel", channel).Int64("user_id", c.Identity.ID).Msg("membership check failed")
		return false
	}
	return ok
}

func (b *Broker) handleVoiceLeave(c *Client, channel string) {
	b.removeFromVoice(c, channel)
}

func (b *Broker) removeFromVoice(c *Client, channel string) {
	room, ok := b.voice[channel]
	if !ok {
		return
	}
	participant, ok := room.participants[c.Identity.ID]
	if !ok || participant != c {
		delete(c.voice, channel)
		return
	}

	delete(room.participants, c.Identity.ID)
	delete(c.voice, channel)

	// Point-to-point teardown notices so every remaining peer closes its
	// link to the departed user.
	for _, p := range room.participants {
		p.send(&Event{Kind: EventVoiceUserLeft, Channel: channel, User: c.Identity})
	}
	b.broadcastVoiceRoster(room)

	if len(room.participants) == 0 {
		delete(b.voice, channel)
	}
}

func (b *Broker) broadcastVoiceRoster(room *voiceRoom) {
	users := rosterOf(room.participants)
	for _, p := range room.participants {
		p.send(&Event{Kind: EventVoiceUsersUpdate, Channel: room.code, Users: users})
	}
}

// relayVoice forwards an opaque negotiation payload to a single participant.
// The broker never inspects SDP/ICE content.
func (b *Broker) relayVoice(c *Client, cmd *Command) deliverResult {
	room, ok := b.voice[cmd.Channel]
	if !ok {
		b.log.Debug().Str("channel", cmd.Channel).Msg("relay to unknown room dropped")
		return deliverDropped
	}
	if sender, ok := room.participants[c.Identity.ID]; !ok || sender != c {
		// Sender not in the room: silent drop, one user's malformed input
		// must not affect anyone else.
		b.log.Debug().Str("channel", cmd.Channel).Int64("user_id", c.Identity.ID).Msg("relay from non-participant denied")
		return deliverDenied
	}

	target, ok := room.participants[cmd.TargetUserID]
	if !ok {
		// Target raced a disconnect; negotiation tolerates dropped
		// signaling during teardown.
		b.log.Debug().Str("channel", cmd.Channel).Int64("target", cmd.TargetUserID).Msg("relay target absent, dropped")
		return deliverDropped
	}

	target.send(&Event{
		Kind:    EventVoiceSignal,
		Channel: cmd.Channel,
		User:    c.Identity,
		Signal:  cmd.Signal,
		Payload: cmd.Payload,
	})
	return deliverOK
}

func (b *Broker) handleScreenShare(c *Client, channel string, started bool) {
	room, ok := b.voice[channel]
	if !ok {
		return
	}
	if sender, ok := room.participants[c.Identity.ID]; !ok || sender != c {
		return
	}
	for uid, p := range room.participants {
		if uid == c.Identity.ID {
			continue
		}
		p.send(&Event{Kind: EventScreenShare, Channel: channel, User: c.Identity, Started: started})
	}
}

// ==== disconnect ====

func (b *Broker) handleDisconnect(c *Client) {
	if b.clients[c.ConnID] != c {
		// Already torn down, or the entry was taken over by a newer
		// connection with the same id.
		return
	}
	for channel := range c.voice {
		b.removeFromVoice(c, channel)
	}
	for channel := range c.channels {
		b.removeFromChannel(c, channel)
	}
	b.endCallsOf(c)

	if b.byUser[c.Identity.ID] == c {
		delete(b.byUser, c.Identity.ID)
	}
	delete(b.clients, c.ConnID)
	close(c.done) // releases the pump goroutine
	b.log.Debug().Str("conn_id", c.ConnID).Int64("user_id", c.Identity.ID).Msg("client unregistered")
}

// ==== helpers ====

func rosterOf(members map[int64]*Client) []Identity {
	users := make([]Identity, 0, len(members))
	for _, m := range members {
		users = append(users, m.Identity)
	}
	return users
}

func rosterExcept(members map[int64]*Client, except int64) []Identity {
	users := make([]Identity, 0, len(members))
	for uid, m := range members {
		if uid == except {
			continue
		}
		users = append(users, m.Identity)
	}
	return users
}
