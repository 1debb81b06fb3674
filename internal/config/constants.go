package config

import "time"

const (
	// Typing simulation
	DefaultTypingDuration  = 2 * time.Second
	ComposeRefreshInterval = 4 * time.Second

	// Delay between catalog products so a burst is not flagged as spam
	InterProductDelay = 3 * time.Second

	// Media attachment download timeout
	MediaFetchTimeout = 30 * time.Second

	// Per-session inbound event queue capacity
	InboundQueueSize = 32

	// Timeout for the fire-and-forget session-connected notification
	ConnectedNotifyTimeout = 15 * time.Second
)
