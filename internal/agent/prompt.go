package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/inseam/inseam/internal/domain"
)

const systemPrompt = `You analyze a single email against a user's tracker tables.

A tracker is a small table with typed columns. Decide which trackers, if
any, this email is relevant to. For each relevant tracker, extract values
for its listed columns from the email text.

Rules:
- An email may match zero, one, or several trackers.
- Give each match its own confidence from 0 to 100. Scores are independent;
  they do not need to sum to anything.
- Only extract a field when the email actually states its value. Omit
  fields you cannot extract; never invent values and never use null.
- Respect each column's declared type: numbers as numbers, dates as
  ISO 8601 strings, booleans as true/false, enums as one of the listed
  options.
- Classify the email as one of: shipping, order, finance, general.
- Provide a short title (under 80 characters) and, when you extracted
  anything, the sentence of the email you extracted it from as the quote.

Always respond by calling the record_extraction tool exactly once.`

// trackerSchema is the candidate-tracker description embedded in the user
// message.
type trackerSchema struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Columns     []columnSchema `json:"columns"`
}

type columnSchema struct {
	Key     string   `json:"key"`
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Aliases []string `json:"aliases,omitempty"`
	Options []string `json:"options,omitempty"`
}

// buildUserMessage renders the email plus every candidate tracker schema
// into the single completion's user turn.
func buildUserMessage(email domain.Email, trackers []domain.Tracker) (string, error) {
	schemas := make([]trackerSchema, 0, len(trackers))
	for _, t := range trackers {
		ts := trackerSchema{ID: t.ID, Name: t.Name, Description: t.Description}
		for _, c := range t.AIColumns() {
			ts.Columns = append(ts.Columns, columnSchema{
				Key:     c.Key,
				Name:    c.Name,
				Type:    string(c.Type),
				Aliases: c.Aliases,
				Options: c.EnumOptions,
			})
		}
		schemas = append(schemas, ts)
	}

	schemaJSON, err := json.MarshalIndent(schemas, "", "  ")
	if err != nil {
		return "", fmt.Errorf("agent: marshal tracker schemas: %w", err)
	}

	var b strings.Builder
	b.WriteString("Trackers:\n")
	b.Write(schemaJSON)
	b.WriteString("\n\nEmail:\n")
	fmt.Fprintf(&b, "From: %s\n", email.Sender())
	fmt.Fprintf(&b, "Date: %s\n", email.ReceivedAt.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Subject: %s\n\n", email.Subject)
	body := email.Body
	if body == "" {
		body = email.Snippet
	}
	// Cap body length; long promotional emails blow the token budget
	if len(body) > 8000 {
		n := 8000
		// Back off to a rune boundary so the cut never mangles a
		// multi-byte character
		for n > 0 && !utf8.RuneStart(body[n]) {
			n--
		}
		body = body[:n]
	}
	b.WriteString(body)
	return b.String(), nil
}

// extractionToolParameters is the JSON-schema for the forced tool call.
func extractionToolParameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"category": map[string]interface{}{
				"type": "string",
				"enum": []string{"shipping", "order", "finance", "general"},
			},
			"title": map[string]interface{}{
				"type":        "string",
				"description": "Short headline for this update",
			},
			"quote": map[string]interface{}{
				"type":        "string",
				"description": "Email excerpt the extraction is based on",
			},
			"matches": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"tracker_id": map[string]interface{}{"type": "string"},
						"confidence": map[string]interface{}{
							"type":    "integer",
							"minimum": 0,
							"maximum": 100,
						},
						"fields": map[string]interface{}{
							"type":        "object",
							"description": "columnKey -> extracted value",
						},
					},
					"required": []string{"tracker_id", "confidence"},
				},
			},
		},
		"required": []string{"category", "title", "matches"},
	}
}

// normalizeResult validates raw tool arguments against the candidate
// trackers: unknown trackers are dropped, fields are filtered to
// AI-eligible columns, confidences clamped to 0-100, nil values omitted.
func normalizeResult(args toolArguments, trackers []domain.Tracker) *MatchResult {
	byID := make(map[string]*domain.Tracker, len(trackers))
	for i := range trackers {
		byID[trackers[i].ID] = &trackers[i]
	}

	result := &MatchResult{
		Extracted: make(map[string]map[string]interface{}),
		Category:  domain.UpdateCategory(args.Category),
		Title:     args.Title,
		Quote:     args.Quote,
	}
	switch result.Category {
	case domain.CategoryShipping, domain.CategoryOrder, domain.CategoryFinance, domain.CategoryGeneral:
	default:
		result.Category = domain.CategoryGeneral
	}

	for _, m := range args.Matches {
		tracker, ok := byID[m.TrackerID]
		if !ok {
			continue
		}
		conf := m.Confidence
		if conf < 0 {
			conf = 0
		}
		if conf > 100 {
			conf = 100
		}
		result.Matches = append(result.Matches, domain.TrackerMatch{
			TrackerID:   tracker.ID,
			TrackerName: tracker.Name,
			Color:       tracker.Color,
			Confidence:  conf,
		})

		fields := make(map[string]interface{})
		for key, val := range m.Fields {
			if val == nil {
				continue
			}
			col := tracker.ColumnByKey(key)
			if col == nil || !col.AIEnabled {
				continue
			}
			fields[key] = val
		}
		if len(fields) > 0 {
			result.Extracted[tracker.ID] = fields
		}
	}
	return result
}
