package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// BadgesResponse mirrors the JSON payload of the remote badges resource.
type BadgesResponse struct {
	Badges []BadgeEntry `json:"badges"`
}

// BadgeEntry is one completed test result.
type BadgeEntry struct {
	Quiz  Quiz  `json:"quiz"`
	Badge Badge `json:"badge"`
}

// Quiz identifies the test a badge belongs to.
type Quiz struct {
	ID      QuizID `json:"id"`
	URLSlug string `json:"url_slug"`
	Name    string `json:"name,omitempty"`
}

// Badge carries the score and badge artwork of a result.
type Badge struct {
	RawScore float64 `json:"raw_score"`
	Image    string  `json:"image"`
}

// TestKey returns the identifier used to attribute the badge to a configured test.
func (q Quiz) TestKey() string {
	if q.URLSlug != "" {
		return q.URLSlug
	}
	return string(q.ID)
}

// QuizID accepts both string and numeric identifiers.
type QuizID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *QuizID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = QuizID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("quiz id: %w", err)
	}
	*id = QuizID(n.String())
	return nil
}
