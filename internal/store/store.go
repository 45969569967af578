package store

import (
	"context"
	"time"
)

// User represents a user in the system.
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	PasswordHash string
	IsGuest      bool
	SessionID    string // For guest user session tracking
	CreatedAt    time.Time
}

// Channel represents a chat channel. Presence in a channel is in-memory
// broker state; membership here is the persistent authorization record
// the voice-join gate reads.
type Channel struct {
	ID        int64
	Code      string
	Name      string
	OwnerID   *int64
	CreatedAt time.Time
}

// ChannelMember represents persistent channel membership.
type ChannelMember struct {
	UserID    int64
	ChannelID int64
	JoinedAt  time.Time
}

// CallStatus defines 1:1 call status.
type CallStatus string

const (
	CallStatusRinging  CallStatus = "ringing"
	CallStatusActive   CallStatus = "active"
	CallStatusRejected CallStatus = "rejected"
	CallStatusEnded    CallStatus = "ended"
)

// Call is the persisted record of a private 1:1 call. Live call state is
// owned by the broker; these rows are history only.
type Call struct {
	Code      string // UUID
	CallerID  int64
	CalleeID  int64
	Status    CallStatus
	CreatedAt time.Time
	UpdatedAt time.Time
	EndedAt   *time.Time
}

// UserStore provides user persistence operations.
type UserStore interface {
	CreateUser(ctx context.Context, username, displayName, passwordHash string) (*User, error)
	CreateGuestUser(ctx context.Context, sessionID string) (*User, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// ChannelStore provides channel and membership persistence operations.
type ChannelStore interface {
	CreateChannel(ctx context.Context, code, name string, ownerID int64) (*Channel, error)
	GetChannelByCode(ctx context.Context, code string) (*Channel, error)
	AddMember(ctx context.Context, userID int64, channelCode string) error
	RemoveMember(ctx context.Context, userID int64, channelCode string) error
	IsMember(ctx context.Context, userID int64, channelCode string) (bool, error)
	ListMemberIDs(ctx context.Context, channelCode string) ([]int64, error)
}

// CallStore provides call history persistence operations.
type CallStore interface {
	CreateCall(ctx context.Context, call *Call) error
	UpdateCallStatus(ctx context.Context, code string, status CallStatus) error
	ListRecentCalls(ctx context.Context, userID int64, limit int) ([]*Call, error)
}

// Store combines all persistence interfaces.
type Store interface {
	UserStore
	ChannelStore
	CallStore
	Close() error
}
