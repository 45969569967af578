package voice

import (
	"github.com/haven-im/haven-server/internal/core"
	"github.com/haven-im/haven-server/internal/rtc"
)

// LinkState is the negotiation sub-state of one peer link.
type LinkState string

const (
	LinkNegotiating LinkState = "negotiating"
	LinkConnected   LinkState = "connected"
	LinkClosed      LinkState = "closed"
)

// peerLink is one end of a pairwise connection with a remote participant.
// All fields are guarded by the owning session's mutex.
type peerLink struct {
	remote core.Identity
	peer   rtc.Peer
	state  LinkState

	screenOut bool // local screen track attached to this link
	screenIn  bool // remote is sending us a screen track
	talking   bool
	volume    float64
}

func (l *peerLink) closed() bool {
	return l.state == LinkClosed
}

// close tears the link down. Idempotent; a link never leaves LinkClosed.
func (l *peerLink) close() {
	if l.state == LinkClosed {
		return
	}
	l.state = LinkClosed
	_ = l.peer.Close()
}

// PeerStatus is a read-only snapshot of one link for the UI layer.
type PeerStatus struct {
	User      core.Identity
	State     LinkState
	Talking   bool
	Volume    float64
	ScreenIn  bool
	ScreenOut bool
}
