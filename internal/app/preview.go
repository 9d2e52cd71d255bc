package service

import (
	"context"
	"fmt"

	"github.com/okian/badgeboard/internal/domain/model"
	"github.com/okian/badgeboard/internal/domain/scoring"
)

// ScorePreview is a public badge score for a configured test. It is read
// from the remote service and never stored.
type ScorePreview struct {
	TestID       string
	RawScore     float64
	DisplayScore int64
	BadgeImage   string
}

// PreviewScores reads the public badges of username with the application
// credentials alone. Nothing is written; tests without a badge are omitted.
func (s *Service) PreviewScores(ctx context.Context, username string) ([]ScorePreview, error) {
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	resp, err := s.withRetry(ctx, func(ctx context.Context) (model.BadgesResponse, error) {
		return s.remote.UserBadges(ctx, username, s.testIDs...)
	})
	if err != nil {
		return nil, err
	}

	picked := s.attribute(ctx, username, resp.Badges)
	out := make([]ScorePreview, 0, len(picked))
	for _, testID := range s.testIDs {
		b, ok := picked[testID]
		if !ok {
			continue
		}
		stored, err := scoring.Encode(b.RawScore)
		if err != nil {
			return nil, err
		}
		out = append(out, ScorePreview{
			TestID:       testID,
			RawScore:     b.RawScore,
			DisplayScore: scoring.DisplayValue(stored),
			BadgeImage:   b.Image,
		})
	}
	return out, nil
}
