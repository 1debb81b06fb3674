package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sellkit/connector/internal/domain"
	"github.com/sellkit/connector/internal/responder"
)

type fakeBrain struct {
	mu    sync.Mutex
	calls int
	resp  *domain.BrainResponse
	err   error
}

func (f *fakeBrain) NotifyIncomingMessage(_ context.Context, _, _ string, _ domain.InboundMessage) (*domain.BrainResponse, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.resp, f.err
}

type fakeClient struct {
	mu          sync.Mutex
	markReadErr error
	marked      []string
	sentTexts   []string
	sendTextErr error
}

func (f *fakeClient) MarkRead(_ context.Context, msg domain.InboundMessage) error {
	f.mu.Lock()
	f.marked = append(f.marked, msg.ID)
	f.mu.Unlock()
	return f.markReadErr
}

func (f *fakeClient) SendText(_ context.Context, _, body string) error {
	f.mu.Lock()
	f.sentTexts = append(f.sentTexts, body)
	f.mu.Unlock()
	return f.sendTextErr
}

func (f *fakeClient) SendMedia(_ context.Context, _ string, _ []byte, _, _ string) error {
	return nil
}

func (f *fakeClient) SendComposing(_ string) error  { return nil }
func (f *fakeClient) ClearComposing(_ string) error { return nil }

func privateMessage() domain.InboundMessage {
	return domain.InboundMessage{
		ID:        "msg-1",
		From:      "+237X@c.us",
		Body:      "hi",
		Type:      "text",
		Timestamp: time.Now(),
	}
}

func TestGroupMessageIsDroppedUnconditionally(t *testing.T) {
	brain := &fakeBrain{resp: &domain.BrainResponse{Success: true, ResponseMessage: "never"}}
	client := &fakeClient{}
	p := New(brain, responder.New())

	msg := privateMessage()
	msg.IsGroup = true
	p.Handle(context.Background(), "s1", "u1", client, msg)

	assert.Zero(t, brain.calls)
	assert.Empty(t, client.marked)
	assert.Empty(t, client.sentTexts)
}

func TestEmptyNonMediaEventIsDropped(t *testing.T) {
	brain := &fakeBrain{resp: &domain.BrainResponse{Success: true}}
	client := &fakeClient{}
	p := New(brain, responder.New())

	msg := privateMessage()
	msg.Body = ""
	p.Handle(context.Background(), "s1", "u1", client, msg)

	assert.Zero(t, brain.calls)
	assert.Empty(t, client.marked)
}

func TestBrainFailureStopsWithoutOutbound(t *testing.T) {
	brain := &fakeBrain{resp: &domain.BrainResponse{Success: false, Error: "agent offline"}}
	client := &fakeClient{}
	p := New(brain, responder.New())

	p.Handle(context.Background(), "s1", "u1", client, privateMessage())

	assert.Equal(t, 1, brain.calls)
	assert.Empty(t, client.sentTexts, "success=false must never reach the responder")
}

func TestWebhookErrorIsSwallowed(t *testing.T) {
	brain := &fakeBrain{err: errors.New("504 gateway timeout")}
	client := &fakeClient{}
	p := New(brain, responder.New())

	assert.NotPanics(t, func() {
		p.Handle(context.Background(), "s1", "u1", client, privateMessage())
	})
	assert.Empty(t, client.sentTexts)
}

func TestHappyPathDeliversReply(t *testing.T) {
	brain := &fakeBrain{resp: &domain.BrainResponse{
		Success:               true,
		Processed:             true,
		ResponseMessage:       "hello",
		TypingDurationSeconds: 0.01,
	}}
	client := &fakeClient{}
	p := New(brain, responder.New())

	p.Handle(context.Background(), "s1", "u1", client, privateMessage())

	assert.Equal(t, []string{"msg-1"}, client.marked)
	require.Len(t, client.sentTexts, 1)
	assert.Equal(t, "hello", client.sentTexts[0])
}

func TestMarkReadFailureIsNonFatal(t *testing.T) {
	brain := &fakeBrain{resp: &domain.BrainResponse{
		Success:               true,
		ResponseMessage:       "still replied",
		TypingDurationSeconds: 0.01,
	}}
	client := &fakeClient{markReadErr: errors.New("receipt rejected")}
	p := New(brain, responder.New())

	p.Handle(context.Background(), "s1", "u1", client, privateMessage())

	require.Len(t, client.sentTexts, 1)
	assert.Equal(t, "still replied", client.sentTexts[0])
}

func TestDeliveryFailureDoesNotPanicOrPropagate(t *testing.T) {
	brain := &fakeBrain{resp: &domain.BrainResponse{
		Success:               true,
		ResponseMessage:       "hello",
		TypingDurationSeconds: 0.01,
	}}
	client := &fakeClient{sendTextErr: errors.New("transport down")}
	p := New(brain, responder.New())

	assert.NotPanics(t, func() {
		p.Handle(context.Background(), "s1", "u1", client, privateMessage())
	})
	// both the primary send and the raw fallback were attempted
	assert.Len(t, client.sentTexts, 2)
}

type panickyBrain struct{}

func (panickyBrain) NotifyIncomingMessage(context.Context, string, string, domain.InboundMessage) (*domain.BrainResponse, error) {
	panic("malformed payload")
}

func TestPanicIsContainedAtBoundary(t *testing.T) {
	p := New(panickyBrain{}, responder.New())

	assert.NotPanics(t, func() {
		p.Handle(context.Background(), "s1", "u1", &fakeClient{}, privateMessage())
	})
}
