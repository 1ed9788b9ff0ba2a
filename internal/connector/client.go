// Package connector talks to the hosted email connector API (Nylas v3
// compatible). The connector owns the mailbox; this package only reads
// messages for a grant and runs the hosted OAuth flow that issues grants.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/inseam/inseam/internal/config"
	"github.com/inseam/inseam/internal/domain"
	"github.com/inseam/inseam/internal/pkg/httpretry"
	"github.com/inseam/inseam/internal/pkg/logger"
)

// ErrNotConnected is returned when a user has no linked email account.
// Callers must surface this as a "connect your inbox" prompt, never as an
// empty inbox.
var ErrNotConnected = errors.New("connector: no email account connected")

// Client is the email connector API client.
type Client struct {
	baseURL      string
	apiKey       string
	clientID     string
	clientSecret string
	httpClient   httpretry.HTTPDoer
}

// NewClient creates a new connector API client with retry behavior.
func NewClient(cfg config.ConnectorConfig) *Client {
	return &Client{
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: cfg.Timeout(),
		}, cfg.MaxRetries),
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing)
func (c *Client) SetHTTPClient(client httpretry.HTTPDoer) {
	c.httpClient = client
}

// InitiateAuth builds the hosted-auth URL that starts the mailbox OAuth
// flow. provider may be empty, letting the connector detect it.
func (c *Client) InitiateAuth(redirectURI, provider, state string) string {
	q := url.Values{}
	q.Set("client_id", c.clientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("response_type", "code")
	q.Set("access_type", "offline")
	if provider != "" {
		q.Set("provider", provider)
	}
	if state != "" {
		q.Set("state", state)
	}
	return c.baseURL + "/v3/connect/auth?" + q.Encode()
}

// HandleCallback exchanges the OAuth code for a grant.
func (c *Client) HandleCallback(ctx context.Context, code, redirectURI string) (*AuthResult, error) {
	payload := map[string]string{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"grant_type":    "authorization_code",
		"code":          code,
		"redirect_uri":  redirectURI,
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/v3/connect/token", payload)
	if err != nil {
		return nil, err
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("connector: parse token response: %w", err)
	}
	if tok.Error != "" {
		return nil, fmt.Errorf("connector: code exchange failed: %s", tok.Error)
	}
	if tok.GrantID == "" {
		return nil, fmt.Errorf("connector: code exchange returned no grant")
	}
	return &AuthResult{GrantID: tok.GrantID, Email: tok.Email}, nil
}

// FetchRecentEmails returns up to count recent messages for the grant,
// newest first. The ordering must stay stable; checkpoint advancement
// depends on it.
func (c *Client) FetchRecentEmails(ctx context.Context, grantID string, count int) ([]domain.Email, error) {
	if grantID == "" {
		return nil, ErrNotConnected
	}
	if count <= 0 {
		count = 5
	}

	endpoint := fmt.Sprintf("/v3/grants/%s/messages?limit=%s", url.PathEscape(grantID), strconv.Itoa(count))
	body, err := c.doRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var env messageEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("connector: parse messages: %w", err)
	}
	if env.Error != nil {
		if env.Error.Type == "grant.not_found" || env.Error.Type == "grant.expired" {
			return nil, ErrNotConnected
		}
		return nil, fmt.Errorf("connector: %s: %s", env.Error.Type, env.Error.Message)
	}

	emails := make([]domain.Email, 0, len(env.Data))
	for _, m := range env.Data {
		emails = append(emails, m.toDomain())
	}
	// Connector returns newest-first; enforce it anyway
	sort.SliceStable(emails, func(i, j int) bool {
		return emails[i].ReceivedAt.After(emails[j].ReceivedAt)
	})
	logger.Debug("fetched messages from connector",
		"grant", logger.RedactToken(grantID),
		"count", len(emails))
	return emails, nil
}

// doRequest performs an authenticated request to the connector API.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, payload interface{}) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("connector: marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("connector: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connector: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("connector: read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusNotFound {
		// 404 on a grant path means the mailbox link is gone
		var env messageEnvelope
		if json.Unmarshal(respBody, &env) == nil && env.Error != nil &&
			(env.Error.Type == "grant.not_found" || env.Error.Type == "grant.expired") {
			return nil, ErrNotConnected
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("connector: API error (status %d): %s", resp.StatusCode, string(respBody))
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, &httpretry.RetryableError{Err: err, RetryAfter: retryAfterOf(resp)}
		}
		return nil, err
	}

	return respBody, nil
}

func retryAfterOf(resp *http.Response) time.Duration {
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
