package domain

import "time"

// SourceChannel identifies where an update originated. Email is the only
// channel the pipeline currently ingests.
type SourceChannel string

const (
	SourceEmail SourceChannel = "email"
)

// UpdateCategory is the matcher's classification of a processed message.
type UpdateCategory string

const (
	CategoryShipping UpdateCategory = "shipping"
	CategoryOrder    UpdateCategory = "order"
	CategoryFinance  UpdateCategory = "finance"
	CategoryGeneral  UpdateCategory = "general"
)

// TrackerMatch is the matcher's verdict that one email is relevant to one
// tracker. Confidence is an independent 0-100 score per match; scores
// across matches are not normalized.
type TrackerMatch struct {
	TrackerID   string `json:"tracker_id"`
	TrackerName string `json:"tracker_name"`
	Color       string `json:"color,omitempty"`
	Confidence  int    `json:"confidence"`
}

// ColumnUpdate is a single proposed field value change within a proposal.
// Confidence is copied verbatim from the matcher output.
type ColumnUpdate struct {
	ColumnKey     string      `json:"column_key"`
	ColumnName    string      `json:"column_name"`
	ColumnType    ColumnType  `json:"column_type"`
	Color         string      `json:"color,omitempty"`
	CurrentValue  interface{} `json:"current_value,omitempty"`
	ProposedValue interface{} `json:"proposed_value"`
	Confidence    int         `json:"confidence"`
}

// TrackerProposal is a proposed row-level mutation to one tracker. It has
// no identity of its own; it lives embedded in a CentralizedUpdate and
// becomes a committed row mutation only when approved.
type TrackerProposal struct {
	TrackerID   string         `json:"tracker_id"`
	TrackerName string         `json:"tracker_name"`
	RowID       string         `json:"row_id,omitempty"`
	IsNewRow    bool           `json:"is_new_row"`
	Updates     []ColumnUpdate `json:"updates"`
}

// CentralizedUpdate is the durable unit of work produced per processed
// email: the match/extraction results pending user review. Idempotent per
// (UserID, Source, SourceID).
type CentralizedUpdate struct {
	ID          string            `json:"id" db:"id"`
	UserID      string            `json:"user_id" db:"user_id"`
	Source      SourceChannel     `json:"source" db:"source"`
	SourceID    string            `json:"source_id" db:"source_id"`
	Matches     []TrackerMatch    `json:"matches"`
	Proposals   []TrackerProposal `json:"proposals"`
	Category    UpdateCategory    `json:"category" db:"category"`
	Title       string            `json:"title" db:"title"`
	Summary     string            `json:"summary" db:"summary"`
	SenderName  string            `json:"sender_name" db:"sender_name"`
	SenderAddr  string            `json:"sender_addr" db:"sender_addr"`
	SourceQuote string            `json:"source_quote" db:"source_quote"`
	SourceTime  time.Time         `json:"source_time" db:"source_time"`
	Processed   bool              `json:"processed" db:"processed"`
	Approved    bool              `json:"approved" db:"approved"`
	Rejected    bool              `json:"rejected" db:"rejected"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	ViewedAt    *time.Time        `json:"viewed_at,omitempty" db:"viewed_at"`
}

// TotalProposedChanges counts the column updates across all proposals.
func (u *CentralizedUpdate) TotalProposedChanges() int {
	n := 0
	for _, p := range u.Proposals {
		n += len(p.Updates)
	}
	return n
}
