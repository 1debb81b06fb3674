// Package whatsapp wraps the chat-network client behind a narrow capability
// interface so the registry, pipeline and responder never depend on the
// transport library directly.
package whatsapp

import (
	"context"

	"github.com/sellkit/connector/internal/domain"
)

// Client is the opaque chat-network capability owned 1:1 by a session.
type Client interface {
	// Initialize connects the client. For an unpaired session this starts
	// the QR pairing flow; lifecycle progress is reported through the
	// Handlers the client was constructed with.
	Initialize(ctx context.Context) error

	// Destroy disconnects and releases the client. It does not log the
	// device out, so the session can be restored from its auth artifacts.
	Destroy() error

	SendText(ctx context.Context, to, body string) error
	SendMedia(ctx context.Context, to string, data []byte, mimetype, caption string) error
	MarkRead(ctx context.Context, msg domain.InboundMessage) error
	SendComposing(to string) error
	ClearComposing(to string) error
}

// Handlers receives lifecycle and message events from a Client. All fields
// are optional; nil handlers are skipped.
type Handlers struct {
	// OnQR fires with each pairing challenge while the session is unpaired.
	OnQR func(code string)
	// OnConnected fires when pairing/login completes, with the account's
	// phone number.
	OnConnected func(phoneNumber string)
	// OnMessage fires for every inbound message event, in arrival order.
	OnMessage func(msg domain.InboundMessage)
	// OnDisconnected fires when the transport is lost.
	OnDisconnected func()
	// OnFatal fires on unrecoverable client errors (remote logout, stream
	// takeover). The session should be torn down.
	OnFatal func(err error)
}

// Factory constructs a Client for a session id with the given event
// handlers. The registry owns the returned client for the session's
// lifetime.
type Factory func(sessionID string, handlers Handlers) (Client, error)
