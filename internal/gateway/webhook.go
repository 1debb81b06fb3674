// Package gateway is the outbound HTTP client to the decision service
// ("the brain").
package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/sellkit/connector/internal/domain"
)

type Gateway struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(baseURL, token string, timeout time.Duration) *Gateway {
	return &Gateway{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type incomingMessageRequest struct {
	Event       string         `json:"event"`
	SessionID   string         `json:"session_id"`
	SessionName string         `json:"session_name"`
	Message     messagePayload `json:"message"`
}

type messagePayload struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type"`
	IsGroup   bool   `json:"isGroup"`
}

type sessionConnectedRequest struct {
	SessionID    string       `json:"session_id"`
	PhoneNumber  string       `json:"phone_number"`
	WhatsappData whatsappData `json:"whatsapp_data"`
}

type whatsappData struct {
	UserID      string    `json:"user_id"`
	ConnectedAt time.Time `json:"connected_at"`
}

// NotifyIncomingMessage forwards an inbound message to the brain and returns
// its decision. Non-2xx responses and timeouts are returned as errors with
// the status and body attached; this path is deliberately not retried since
// a duplicated notification could double-trigger a reply.
func (g *Gateway) NotifyIncomingMessage(ctx context.Context, sessionID, ownerID string, msg domain.InboundMessage) (*domain.BrainResponse, error) {
	payload := incomingMessageRequest{
		Event:       "incoming_message",
		SessionID:   sessionID,
		SessionName: ownerID,
		Message: messagePayload{
			ID:        msg.ID,
			From:      msg.From,
			Body:      msg.Body,
			Timestamp: msg.Timestamp.Unix(),
			Type:      msg.Type,
			IsGroup:   msg.IsGroup,
		},
	}

	body, err := g.post(ctx, payload)
	if err != nil {
		return nil, err
	}

	var resp domain.BrainResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse brain response: %w", err)
	}
	return &resp, nil
}

// NotifySessionConnected tells the brain a session completed pairing. Fired
// once per connected transition.
func (g *Gateway) NotifySessionConnected(ctx context.Context, sessionID, phoneNumber, ownerID string) error {
	payload := sessionConnectedRequest{
		SessionID:   sessionID,
		PhoneNumber: phoneNumber,
		WhatsappData: whatsappData{
			UserID:      ownerID,
			ConnectedAt: time.Now().UTC(),
		},
	}
	_, err := g.post(ctx, payload)
	return err
}

func (g *Gateway) post(ctx context.Context, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
