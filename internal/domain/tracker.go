package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ColumnType enumerates the value types a tracker column can hold.
type ColumnType string

const (
	ColumnText    ColumnType = "text"
	ColumnNumber  ColumnType = "number"
	ColumnDate    ColumnType = "date"
	ColumnEnum    ColumnType = "enum"
	ColumnBoolean ColumnType = "boolean"
)

// ValidColumnType reports whether t is a known column type.
func ValidColumnType(t ColumnType) bool {
	switch t {
	case ColumnText, ColumnNumber, ColumnDate, ColumnEnum, ColumnBoolean:
		return true
	}
	return false
}

// Column is one typed field of a tracker table.
type Column struct {
	ID       string     `json:"id" db:"id"`
	Name     string     `json:"name" db:"name"`
	Key      string     `json:"key" db:"key"`
	Type     ColumnType `json:"type" db:"type"`
	Required bool       `json:"required" db:"required"`
	// EnumOptions is only meaningful when Type == ColumnEnum.
	EnumOptions []string `json:"enum_options,omitempty" db:"-"`
	// Aliases are alternative names the matcher may see in email text
	// ("tracking #", "waybill", ...).
	Aliases []string `json:"aliases,omitempty" db:"-"`
	// AIEnabled marks the column as eligible for LLM extraction.
	AIEnabled bool   `json:"ai_enabled" db:"ai_enabled"`
	Color     string `json:"color,omitempty" db:"color"`
	Position  int    `json:"position" db:"position"`
}

// Tracker is a user-defined table the pipeline proposes updates to.
type Tracker struct {
	ID          string    `json:"id" db:"id"`
	UserID      string    `json:"user_id" db:"user_id"`
	Name        string    `json:"name" db:"name"`
	Slug        string    `json:"slug" db:"slug"`
	Description string    `json:"description" db:"description"`
	Color       string    `json:"color,omitempty" db:"color"`
	Columns     []Column  `json:"columns"`
	// PrimaryKey is the key of the column that identifies a row
	// (e.g. "order_number"). Empty means every proposal targets a new row.
	PrimaryKey string    `json:"primary_key" db:"primary_key"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// Row is one record of tracker data, keyed by column key.
type Row struct {
	ID        string                 `json:"id" db:"id"`
	TrackerID string                 `json:"tracker_id" db:"tracker_id"`
	Data      map[string]interface{} `json:"data"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt time.Time              `json:"updated_at" db:"updated_at"`
}

// ColumnByKey returns the column with the given key, or nil.
func (t *Tracker) ColumnByKey(key string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Key == key {
			return &t.Columns[i]
		}
	}
	return nil
}

// AIColumns returns the columns eligible for LLM extraction.
func (t *Tracker) AIColumns() []Column {
	var out []Column
	for _, c := range t.Columns {
		if c.AIEnabled {
			out = append(out, c)
		}
	}
	return out
}

// Validate checks the tracker's structural invariants: non-empty name,
// unique column keys, valid column types, and a primary key that refers
// to an existing column.
func (t *Tracker) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("tracker name is required")
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if c.Key == "" {
			return fmt.Errorf("column %q has no key", c.Name)
		}
		if seen[c.Key] {
			return fmt.Errorf("duplicate column key %q", c.Key)
		}
		seen[c.Key] = true
		if !ValidColumnType(c.Type) {
			return fmt.Errorf("column %q has invalid type %q", c.Key, c.Type)
		}
	}
	if t.PrimaryKey != "" && !seen[t.PrimaryKey] {
		return fmt.Errorf("primary key %q does not match any column", t.PrimaryKey)
	}
	return nil
}

var slugCleanRegex = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a URL-safe slug from a tracker name.
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = slugCleanRegex.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
