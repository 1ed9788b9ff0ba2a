// Package agent implements the LLM-backed matcher: given one email and a
// user's trackers, a single completion call decides which trackers the
// email is relevant to and extracts values for their AI-eligible columns.
package agent

import (
	"context"

	"github.com/inseam/inseam/internal/domain"
)

// MatchResult is the parsed output of one matcher invocation.
type MatchResult struct {
	// Matches are the trackers the email is relevant to, each with an
	// independent 0-100 confidence. May be empty.
	Matches []domain.TrackerMatch
	// Extracted maps trackerID -> columnKey -> value for AI-eligible
	// columns only. Columns without an extractable value are absent,
	// never nil.
	Extracted map[string]map[string]interface{}
	// Category classifies the email (shipping, order, finance, general).
	Category domain.UpdateCategory
	// Title is a short human-readable headline for the update.
	Title string
	// Quote is the excerpt of the email the extraction is based on.
	Quote string
}

// Matcher is the contract the pipeline consumes. Implementations issue
// exactly one completion call per email.
type Matcher interface {
	MatchAndExtract(ctx context.Context, email domain.Email, trackers []domain.Tracker) (*MatchResult, error)
}

// toolArguments is the JSON schema the model fills in via the forced tool
// call.
type toolArguments struct {
	Category string      `json:"category"`
	Title    string      `json:"title"`
	Quote    string      `json:"quote,omitempty"`
	Matches  []toolMatch `json:"matches"`
}

type toolMatch struct {
	TrackerID  string                 `json:"tracker_id"`
	Confidence int                    `json:"confidence"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}
