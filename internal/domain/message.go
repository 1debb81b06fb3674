package domain

import "time"

// InboundMessage is a single message event produced by the chat client.
// Immutable; consumed exactly once by the inbound pipeline.
type InboundMessage struct {
	ID        string
	From      string
	To        string
	Body      string
	Type      string
	IsGroup   bool
	HasMedia  bool
	Timestamp time.Time
}
