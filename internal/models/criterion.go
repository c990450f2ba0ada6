package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	CriterionKindRange   = "range"
	CriterionKindBoolean = "boolean"
	CriterionKindText    = "text"
	CriterionKindDate    = "date"
)

// JoiningCriterion is a named predicate a candidate bid card must satisfy to
// join a group. Required criteria block admission; the rest are advisory.
// Criteria are frozen once the group leaves forming.
type JoiningCriterion struct {
	ID         uuid.UUID  `json:"id"`
	GroupID    uuid.UUID  `json:"group_id"`
	Name       string     `json:"name"`
	Kind       string     `json:"kind"`
	Field      string     `json:"field"`
	Required   bool       `json:"required"`
	MinValue   *float64   `json:"min_value,omitempty"`
	MaxValue   *float64   `json:"max_value,omitempty"`
	BoolValue  *bool      `json:"bool_value,omitempty"`
	TextValue  *string    `json:"text_value,omitempty"`
	DateAfter  *time.Time `json:"date_after,omitempty"`
	DateBefore *time.Time `json:"date_before,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Matches evaluates the predicate against one attribute value taken from the
// candidate bid card. Unknown kinds and missing attributes fail closed.
func (c *JoiningCriterion) Matches(value any) bool {
	switch c.Kind {
	case CriterionKindRange:
		num, ok := toFloat(value)
		if !ok {
			return false
		}
		if c.MinValue != nil && num < *c.MinValue {
			return false
		}
		if c.MaxValue != nil && num > *c.MaxValue {
			return false
		}
		return true
	case CriterionKindBoolean:
		b, ok := value.(bool)
		if !ok || c.BoolValue == nil {
			return false
		}
		return b == *c.BoolValue
	case CriterionKindText:
		s, ok := value.(string)
		if !ok || c.TextValue == nil {
			return false
		}
		return s == *c.TextValue
	case CriterionKindDate:
		ts, ok := toTime(value)
		if !ok {
			return false
		}
		if c.DateAfter != nil && ts.Before(*c.DateAfter) {
			return false
		}
		if c.DateBefore != nil && ts.After(*c.DateBefore) {
			return false
		}
		return true
	}
	return false
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func toTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case string:
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, false
		}
		return ts, true
	}
	return time.Time{}, false
}
