package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sellkit/connector/internal/domain"
)

func testMessage() domain.InboundMessage {
	return domain.InboundMessage{
		ID:        "msg-1",
		From:      "+237X@c.us",
		Body:      "hi",
		Type:      "text",
		Timestamp: time.Unix(1700000000, 0),
	}
}

func TestNotifyIncomingMessage(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotAuth = req.Header.Get("Authorization")
		raw, _ := io.ReadAll(req.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"success": true,
			"processed": true,
			"responseMessage": "hello",
			"waitTimeSeconds": 0,
			"typingDurationSeconds": 1,
			"products": [{"formattedMessage": "item", "mediaUrls": ["http://x/a.jpg"]}]
		}`))
	}))
	defer srv.Close()

	g := New(srv.URL, "secret-token", 5*time.Second)

	resp, err := g.NotifyIncomingMessage(context.Background(), "s1", "u1", testMessage())
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "incoming_message", gotBody["event"])
	assert.Equal(t, "s1", gotBody["session_id"])
	assert.Equal(t, "u1", gotBody["session_name"])

	msg := gotBody["message"].(map[string]any)
	assert.Equal(t, "msg-1", msg["id"])
	assert.Equal(t, "+237X@c.us", msg["from"])
	assert.Equal(t, "hi", msg["body"])
	assert.Equal(t, float64(1700000000), msg["timestamp"])
	assert.Equal(t, false, msg["isGroup"])

	assert.True(t, resp.Success)
	assert.Equal(t, "hello", resp.ResponseMessage)
	assert.Equal(t, float64(1), resp.TypingDurationSeconds)
	require.Len(t, resp.Products, 1)
	assert.Equal(t, []string{"http://x/a.jpg"}, resp.Products[0].MediaURLs)
}

func TestNoAuthHeaderWithoutToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotAuth = req.Header.Get("Authorization")
		w.Write([]byte(`{"success": true}`))
	}))
	defer srv.Close()

	g := New(srv.URL, "", 5*time.Second)
	_, err := g.NotifyIncomingMessage(context.Background(), "s1", "u1", testMessage())
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

func TestNon2xxReturnsErrorWithStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("agent unavailable"))
	}))
	defer srv.Close()

	g := New(srv.URL, "", 5*time.Second)
	_, err := g.NotifyIncomingMessage(context.Background(), "s1", "u1", testMessage())
	require.Error(t, err)
	assert.ErrorContains(t, err, "502")
	assert.ErrorContains(t, err, "agent unavailable")
}

func TestTimeoutSurfacesAsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"success": true}`))
	}))
	defer srv.Close()

	g := New(srv.URL, "", 20*time.Millisecond)
	_, err := g.NotifyIncomingMessage(context.Background(), "s1", "u1", testMessage())
	require.Error(t, err)
}

func TestNotifySessionConnected(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		raw, _ := io.ReadAll(req.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	g := New(srv.URL, "tok", 5*time.Second)
	require.NoError(t, g.NotifySessionConnected(context.Background(), "s1", "+2370000000", "u1"))

	assert.Equal(t, "s1", gotBody["session_id"])
	assert.Equal(t, "+2370000000", gotBody["phone_number"])
	wd := gotBody["whatsapp_data"].(map[string]any)
	assert.Equal(t, "u1", wd["user_id"])
	assert.NotEmpty(t, wd["connected_at"])
}
