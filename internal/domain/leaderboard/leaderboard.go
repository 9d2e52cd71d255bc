// Package leaderboard projects stored score records into a ranked view.
package leaderboard

import (
	"sort"

	"github.com/okian/badgeboard/internal/domain/model"
	"github.com/okian/badgeboard/internal/domain/scoring"
)

// Project returns the records for testID ordered by score descending.
// The sort is stable, so equal scores keep the order the store yielded.
// Records belonging to other tests are skipped. The input is not modified.
func Project(testID string, records []model.ScoreRecord) []model.LeaderboardEntry {
	rows := make([]model.ScoreRecord, 0, len(records))
	for _, r := range records {
		if r.TestID == testID {
			rows = append(rows, r)
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Score > rows[j].Score
	})

	entries := make([]model.LeaderboardEntry, len(rows))
	for i, r := range rows {
		entries[i] = model.LeaderboardEntry{
			Rank:         i + 1,
			Username:     r.Username,
			TestID:       r.TestID,
			RawScore:     scoring.Decode(r.Score),
			DisplayScore: scoring.DisplayValue(r.Score),
			BadgeImage:   r.BadgeImage,
		}
	}
	return entries
}
