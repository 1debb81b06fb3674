// Package pipeline processes inbound message events: filtering, read
// receipt, brain dispatch and response delivery. It is the outer error
// boundary: nothing thrown below it may crash a session or the process.
package pipeline

import (
	"context"
	"log/slog"
	"runtime/debug"

	"github.com/google/uuid"

	"github.com/sellkit/connector/internal/domain"
	"github.com/sellkit/connector/internal/responder"
)

// Brain is the decision-service dependency.
type Brain interface {
	NotifyIncomingMessage(ctx context.Context, sessionID, ownerID string, msg domain.InboundMessage) (*domain.BrainResponse, error)
}

// Client is the per-session chat capability the pipeline drives.
type Client interface {
	MarkRead(ctx context.Context, msg domain.InboundMessage) error
	responder.Sender
}

type Pipeline struct {
	brain     Brain
	responder *responder.Responder
}

func New(brain Brain, r *responder.Responder) *Pipeline {
	return &Pipeline{brain: brain, responder: r}
}

// Handle processes one inbound message end to end. All errors and panics
// are logged here with full context and never propagate.
func (p *Pipeline) Handle(ctx context.Context, sessionID, ownerID string, client Client, msg domain.InboundMessage) {
	correlationID := uuid.NewString()
	log := slog.With(
		"session_id", sessionID,
		"owner_id", ownerID,
		"message_id", msg.ID,
		"correlation_id", correlationID,
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing inbound message",
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	// Group traffic is never answered automatically.
	if msg.IsGroup {
		log.Info("dropping group message", "from", msg.From)
		return
	}

	if msg.Body == "" && !msg.HasMedia {
		log.Debug("dropping empty non-media event", "type", msg.Type)
		return
	}

	if err := client.MarkRead(ctx, msg); err != nil {
		log.Warn("mark read failed", "error", err)
	}

	resp, err := p.brain.NotifyIncomingMessage(ctx, sessionID, ownerID, msg)
	if err != nil {
		log.Error("brain dispatch failed", "error", err)
		return
	}

	if !resp.Success {
		log.Error("brain reported processing failure", "brain_error", resp.Error)
		return
	}

	result, err := p.responder.Deliver(ctx, client, msg.From, resp)
	if err != nil {
		log.Error("response delivery failed", "error", err)
		return
	}

	log.Info("inbound message processed",
		"text_delivered", result.TextDelivered,
		"products", len(result.Products),
	)
}
