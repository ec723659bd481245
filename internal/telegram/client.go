// Package telegram is the boundary to the messaging platform. It defines
// the client operations the core orchestrates, a per-account connection
// pool with rate limiting, and a gotd/td-backed implementation. Everything
// above this package talks to the interface, never to gotd directly.
package telegram

import (
	"context"
	"time"
)

// ChannelRef identifies a resolved channel for API calls.
type ChannelRef struct {
	ID         int64
	AccessHash int64
}

// Resolved is canonical channel metadata produced by identifier resolution.
type Resolved struct {
	ID         int64
	AccessHash int64
	Username   string
	Title      string
	InviteLink string
	Private    bool
}

// Message is one message pulled from a source channel.
type Message struct {
	ID   int64
	Date time.Time
	Text string
}

// Client is one open connection for one account. Connections are acquired
// from the Pool, used for a single operation and released; they are never
// held across state-machine steps.
type Client interface {
	// RequestCode asks the platform to send a login code to the phone
	// number and returns the opaque verification token for SignIn.
	RequestCode(ctx context.Context, phone string) (codeHash string, err error)

	// SignIn completes login with the code the user received. Returns
	// ErrPasswordRequired when the account has two-factor auth enabled.
	SignIn(ctx context.Context, phone, code, codeHash string) error

	// SignInPassword completes the two-factor branch of login.
	SignInPassword(ctx context.Context, password string) error

	// IsAuthorized reports whether the stored session is still valid.
	IsAuthorized(ctx context.Context) (bool, error)

	// LogOut revokes the session with the platform.
	LogOut(ctx context.Context) error

	// Resolve turns a raw identifier (username, numeric id or invite
	// link) into canonical channel metadata.
	Resolve(ctx context.Context, identifier string) (*Resolved, error)

	// MessagesSince returns up to limit messages with id greater than
	// sinceID, in ascending id order.
	MessagesSince(ctx context.Context, ch ChannelRef, sinceID int64, limit int) ([]Message, error)

	// SendMessage posts text to the channel as a new message.
	SendMessage(ctx context.Context, ch ChannelRef, text string) error

	// ForwardMessage relays a message preserving origin attribution.
	ForwardMessage(ctx context.Context, from, to ChannelRef, messageID int64) error

	// Close releases the underlying connection.
	Close() error
}
