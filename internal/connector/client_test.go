package connector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inseam/inseam/internal/config"
)

func testClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(config.ConnectorConfig{
		BaseURL:      srv.URL,
		APIKey:       "nyk_test",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		MaxRetries:   1,
	})
	c.SetHTTPClient(srv.Client())
	return c, srv
}

func TestFetchRecentEmails(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/grants/grant-1/messages", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bearer nyk_test", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"request_id": "req-1",
			"data": [
				{
					"id": "msg-2",
					"subject": "Your package shipped",
					"from": [{"name": "UPS", "email": "noreply@ups.com"}],
					"snippet": "Tracking number 1Z999...",
					"date": 1757000000
				},
				{
					"id": "msg-1",
					"subject": "Order confirmed",
					"from": [{"email": "orders@shop.example"}],
					"snippet": "Thanks for your order",
					"date": 1756000000
				}
			]
		}`))
	})

	emails, err := c.FetchRecentEmails(context.Background(), "grant-1", 3)
	require.NoError(t, err)
	require.Len(t, emails, 2)

	assert.Equal(t, "msg-2", emails[0].ID)
	assert.Equal(t, "Your package shipped", emails[0].Subject)
	assert.Equal(t, "UPS", emails[0].SenderName)
	assert.Equal(t, "noreply@ups.com", emails[0].SenderAddr)
	assert.Equal(t, "msg-1", emails[1].ID)
	assert.Equal(t, "orders@shop.example", emails[1].SenderAddr)
	// Newest first
	assert.True(t, emails[0].ReceivedAt.After(emails[1].ReceivedAt))
}

func TestFetchRecentEmailsNoGrant(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected when grant is empty")
	})

	_, err := c.FetchRecentEmails(context.Background(), "", 5)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestFetchRecentEmailsGrantExpired(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"request_id":"r","error":{"type":"grant.not_found","message":"grant does not exist"}}`))
	})

	_, err := c.FetchRecentEmails(context.Background(), "stale-grant", 5)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestHandleCallback(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/connect/token", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"grant_id":"grant-42","email":"user@example.com"}`))
	})

	res, err := c.HandleCallback(context.Background(), "auth-code", "https://app/callback")
	require.NoError(t, err)
	assert.Equal(t, "grant-42", res.GrantID)
	assert.Equal(t, "user@example.com", res.Email)
}

func TestHandleCallbackError(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"error":"invalid_grant"}`))
	})

	_, err := c.HandleCallback(context.Background(), "bad-code", "https://app/callback")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_grant")
}

func TestInitiateAuthURL(t *testing.T) {
	c := NewClient(config.ConnectorConfig{
		BaseURL:  "https://api.us.nylas.com",
		ClientID: "client-id",
	})

	u := c.InitiateAuth("https://app/callback", "google", "state-1")
	assert.Contains(t, u, "https://api.us.nylas.com/v3/connect/auth?")
	assert.Contains(t, u, "client_id=client-id")
	assert.Contains(t, u, "provider=google")
	assert.Contains(t, u, "state=state-1")
}
