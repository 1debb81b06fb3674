package domain

import "time"

// Status is the lifecycle state of a session's chat-network connection.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusQRReady      Status = "qr_ready"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// transitions lists the permitted next states for each status. StatusError
// is terminal.
var transitions = map[Status][]Status{
	StatusInitializing: {StatusQRReady, StatusConnected, StatusDisconnected, StatusError},
	StatusQRReady:      {StatusConnected, StatusDisconnected, StatusError},
	StatusConnected:    {StatusDisconnected, StatusError},
	StatusReconnecting: {StatusQRReady, StatusConnected, StatusDisconnected, StatusError},
	StatusDisconnected: {StatusConnected, StatusError},
	StatusError:        {},
}

// CanTransition reports whether moving from s to next is a valid lifecycle
// transition.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Restorable reports whether a session persisted in this status is eligible
// for reconnection at startup.
func (s Status) Restorable() bool {
	return s == StatusConnected || s == StatusQRReady || s == StatusInitializing
}

// SessionStatus is the read-only projection of a session returned by the
// registry.
type SessionStatus struct {
	SessionID      string     `json:"sessionId"`
	OwnerID        string     `json:"ownerId"`
	Status         Status     `json:"status"`
	QRPayload      string     `json:"qrPayload,omitempty"`
	PhoneNumber    string     `json:"phoneNumber,omitempty"`
	LastActivityAt time.Time  `json:"lastActivityAt"`
	CreatedAt      time.Time  `json:"createdAt"`
	RestoredAt     *time.Time `json:"restoredAt,omitempty"`
}

// SessionSnapshot is the persisted projection of a session. Snapshots are
// point-in-time copies; every save rewrites the whole durable store.
type SessionSnapshot struct {
	OwnerID        string    `json:"ownerId"`
	Status         Status    `json:"status"`
	PhoneNumber    string    `json:"phoneNumber,omitempty"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	CreatedAt      time.Time `json:"createdAt"`
	SavedAt        time.Time `json:"savedAt"`
}
