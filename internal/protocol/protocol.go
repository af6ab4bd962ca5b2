// Package protocol abstracts the messaging library that performs the actual
// device-linking handshake.
package protocol

import (
	"context"
	"errors"
)

var (
	// ErrRejected means the service refused the link outright. Retrying with
	// the same parameters will not help.
	ErrRejected = errors.New("link rejected by service")
	// ErrCustomCodeUnsupported is returned when the client cannot honor a
	// caller-chosen pairing code.
	ErrCustomCodeUnsupported = errors.New("custom pairing code not supported")
	// ErrNotConnected is returned by operations that need a live socket.
	ErrNotConnected = errors.New("client not connected")
)

type ConnectionState string

const (
	ConnectionConnecting ConnectionState = "connecting"
	ConnectionOpen       ConnectionState = "open"
	ConnectionClose      ConnectionState = "close"
)

// Update is one notification from a client. Only the fields relevant to the
// notification are set.
type Update struct {
	QR             string
	Connection     ConnectionState
	LinkedIdentity string
	// LoggedOut is set on a close caused by the remote side revoking the link.
	LoggedOut bool
	Err       error
}

// Handler receives updates. Calls for one client are never concurrent.
type Handler func(Update)

// Client is a single protocol connection for one linking session.
type Client interface {
	// Connect opens the socket. Progress is reported through the Handler.
	Connect(ctx context.Context) error
	// KeysReady reports whether the handshake keys needed to request a
	// pairing code are available.
	KeysReady() bool
	// RequestPairingCode asks the service for a pairing code bound to phone.
	// A non-empty customCode asks for that exact code.
	RequestPairingCode(ctx context.Context, phone, customCode, displayName string) (string, error)
	// AuthMaterial returns the opaque credentials needed to resume the link,
	// or nil before a link completed.
	AuthMaterial() []byte
	// Logout revokes the link remotely and discards local credentials.
	Logout(ctx context.Context) error
	// End closes the connection without revoking the link.
	End()
}

// Factory creates clients. authMaterial is nil for a fresh link.
type Factory interface {
	NewClient(ctx context.Context, authMaterial []byte, handler Handler) (Client, error)
}
