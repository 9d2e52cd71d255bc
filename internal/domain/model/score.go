package model

import "time"

// ScoreRecord is the persisted score of one user on one test.
// Score holds the fixed-point value (see package scoring); it is never a float.
type ScoreRecord struct {
	Username   string
	TestID     string
	Score      int64
	BadgeImage string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// LeaderboardEntry is a read-only projection of a ScoreRecord.
type LeaderboardEntry struct {
	Rank         int     `json:"rank"`
	Username     string  `json:"username"`
	TestID       string  `json:"test_id"`
	RawScore     float64 `json:"raw_score"`
	DisplayScore int64   `json:"display_score"`
	BadgeImage   string  `json:"badge_image"`
}
