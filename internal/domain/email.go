package domain

import "time"

// Email is a message read from the connected inbox. Owned by the email
// connector service; the pipeline only reads it and records which IDs
// have been processed.
type Email struct {
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	SenderName string    `json:"sender_name"`
	SenderAddr string    `json:"sender_addr"`
	Snippet    string    `json:"snippet"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

// Sender formats the sender for display: "Name <addr>" or just the address.
func (e *Email) Sender() string {
	if e.SenderName == "" {
		return e.SenderAddr
	}
	return e.SenderName + " <" + e.SenderAddr + ">"
}

// EmailConnection links a user to an authorized inbox grant. One active
// connection per user; re-connecting replaces the grant.
type EmailConnection struct {
	UserID      string    `json:"user_id" db:"user_id"`
	GrantID     string    `json:"grant_id" db:"grant_id"`
	Email       string    `json:"email" db:"email"`
	AutoRefresh bool      `json:"auto_refresh" db:"auto_refresh"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
