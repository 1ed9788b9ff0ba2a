package connector

import (
	"time"

	"github.com/inseam/inseam/internal/domain"
)

// messageEnvelope is the wire format of a message list response.
type messageEnvelope struct {
	RequestID string    `json:"request_id"`
	Data      []message `json:"data"`
	Error     *apiError `json:"error,omitempty"`
}

// message is one email message as returned by the connector API.
type message struct {
	ID      string `json:"id"`
	GrantID string `json:"grant_id"`
	Subject string `json:"subject"`
	From    []struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"from"`
	Snippet string `json:"snippet"`
	Body    string `json:"body"`
	Date    int64  `json:"date"` // unix seconds
}

// apiError is the connector's structured error payload.
type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// tokenResponse is the code-exchange response from the hosted auth flow.
type tokenResponse struct {
	GrantID string `json:"grant_id"`
	Email   string `json:"email"`
	Error   string `json:"error,omitempty"`
}

// AuthResult is the outcome of a completed OAuth callback: the grant the
// connector issued for the linked mailbox.
type AuthResult struct {
	GrantID string
	Email   string
}

func (m message) toDomain() domain.Email {
	e := domain.Email{
		ID:      m.ID,
		Subject: m.Subject,
		Snippet: m.Snippet,
		Body:    m.Body,
	}
	if len(m.From) > 0 {
		e.SenderName = m.From[0].Name
		e.SenderAddr = m.From[0].Email
	}
	if m.Date > 0 {
		e.ReceivedAt = time.Unix(m.Date, 0).UTC()
	}
	return e
}
