package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/inseam/inseam/internal/agent"
	"github.com/inseam/inseam/internal/domain"
)

// ProposalResult is one email's pipeline output, ready to persist as a
// CentralizedUpdate.
type ProposalResult struct {
	Matches   []domain.TrackerMatch
	Proposals []domain.TrackerProposal
	Category  domain.UpdateCategory
	Title     string
	Summary   string
	Quote     string
}

// BuildProposals converts matcher output into row-level proposals. It is
// a pure transform: existing rows are supplied by the caller, and
// confidence scores pass through from the matcher untouched. A matched
// tracker whose extraction came back empty still yields no proposal, but
// the match itself is kept for display.
func BuildProposals(result *agent.MatchResult, trackers []domain.Tracker, rowsByTracker map[string][]domain.Row, email domain.Email) (*ProposalResult, error) {
	if result == nil {
		return nil, fmt.Errorf("nil match result")
	}

	byID := make(map[string]*domain.Tracker, len(trackers))
	for i := range trackers {
		byID[trackers[i].ID] = &trackers[i]
	}

	out := &ProposalResult{
		Matches:  result.Matches,
		Category: result.Category,
		Title:    result.Title,
		Quote:    result.Quote,
	}

	for _, match := range result.Matches {
		t, ok := byID[match.TrackerID]
		if !ok {
			return nil, fmt.Errorf("match references unknown tracker %s", match.TrackerID)
		}

		extracted := result.Extracted[match.TrackerID]
		if len(extracted) == 0 {
			continue
		}

		existing := findRowByPrimaryKey(t, rowsByTracker[t.ID], extracted)

		proposal := domain.TrackerProposal{
			TrackerID:   t.ID,
			TrackerName: t.Name,
			IsNewRow:    existing == nil,
		}
		if existing != nil {
			proposal.RowID = existing.ID
		}

		for _, col := range t.Columns {
			value, ok := extracted[col.Key]
			if !ok {
				continue
			}
			cu := domain.ColumnUpdate{
				ColumnKey:     col.Key,
				ColumnName:    col.Name,
				ColumnType:    col.Type,
				Color:         col.Color,
				ProposedValue: value,
				Confidence:    match.Confidence,
			}
			if existing != nil {
				cu.CurrentValue = existing.Data[col.Key]
			}
			proposal.Updates = append(proposal.Updates, cu)
		}
		if len(proposal.Updates) == 0 {
			continue
		}
		out.Proposals = append(out.Proposals, proposal)
	}

	out.Summary = emailSummary(email, out.Proposals)
	if out.Title == "" {
		out.Title = strings.TrimSpace(email.Subject)
	}
	return out, nil
}

// findRowByPrimaryKey returns the existing row whose primary-key value
// equals the extracted one, or nil. A tracker without a primary key
// always proposes a new row.
func findRowByPrimaryKey(t *domain.Tracker, rows []domain.Row, extracted map[string]interface{}) *domain.Row {
	if t.PrimaryKey == "" {
		return nil
	}
	pk, ok := extracted[t.PrimaryKey]
	if !ok {
		return nil
	}
	want := normalizeValue(pk)
	for i := range rows {
		if normalizeValue(rows[i].Data[t.PrimaryKey]) == want {
			return &rows[i]
		}
	}
	return nil
}

// normalizeValue flattens JSON-decoded scalars to comparable text so
// "1024", 1024 and 1024.0 identify the same row.
func normalizeValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// emailSummary renders a one-line description of what the pipeline found,
// shown in the review list without opening the raw message.
func emailSummary(email domain.Email, proposals []domain.TrackerProposal) string {
	subject := strings.TrimSpace(email.Subject)
	if subject == "" {
		subject = strings.TrimSpace(email.Snippet)
	}
	if subject == "" {
		subject = "(no subject)"
	}

	changes := 0
	names := make([]string, 0, len(proposals))
	for _, p := range proposals {
		changes += len(p.Updates)
		names = append(names, p.TrackerName)
	}
	if changes == 0 {
		return subject
	}

	noun := "changes"
	if changes == 1 {
		noun = "change"
	}
	return fmt.Sprintf("%s — %d proposed %s to %s", subject, changes, noun, strings.Join(names, ", "))
}
