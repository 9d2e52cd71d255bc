// Package service provides the score reconciliation core used by the HTTP
// API and the batch CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/okian/badgeboard/internal/adapters/repository"
	"github.com/okian/badgeboard/internal/domain/leaderboard"
	"github.com/okian/badgeboard/internal/domain/model"
	"github.com/okian/badgeboard/pkg/logger"
	"github.com/okian/badgeboard/pkg/metrics"
)

const (
	defaultTestID      = "leaderboard"
	defaultConcurrency = 4
	defaultRetryBase   = 200 * time.Millisecond
)

// RemoteClient is the subset of the assessment API client the service needs.
type RemoteClient interface {
	Badges(ctx context.Context, accessToken string, testIDs ...string) (model.BadgesResponse, error)
	UserBadges(ctx context.Context, username string, testIDs ...string) (model.BadgesResponse, error)
	AuthorizeURL() string
	ExchangeCode(ctx context.Context, code string) (string, error)
}

// ImageMirror copies a badge image and returns the URL of the copy.
type ImageMirror interface {
	Mirror(ctx context.Context, username, testID, sourceURL string) (string, error)
}

// Service reconciles remote badge data into the store and projects leaderboards.
type Service struct {
	store  repository.Store
	remote RemoteClient
	mirror ImageMirror

	testIDs     []string
	retries     int
	retryBase   time.Duration
	concurrency int

	inflight singleflight.Group

	statsMu   sync.RWMutex
	lastBatch *BatchReport

	synced  atomic.Int64
	noScore atomic.Int64
	failed  atomic.Int64

	logger logger.Logger
}

// New constructs a Service over store and remote.
func New(store repository.Store, remote RemoteClient, opts ...Option) *Service {
	s := &Service{
		store:       store,
		remote:      remote,
		testIDs:     []string{defaultTestID},
		retryBase:   defaultRetryBase,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	return s
}

// TestIDs returns the configured test identifiers.
func (s *Service) TestIDs() []string {
	return append([]string(nil), s.testIDs...)
}

// DefaultTestID returns the first configured test identifier.
func (s *Service) DefaultTestID() string { return s.testIDs[0] }

// AuthorizeURL returns the page users visit to grant access.
func (s *Service) AuthorizeURL() string { return s.remote.AuthorizeURL() }

// CompleteAuthorization exchanges code for an access token, stores it for
// username and runs a first sync. The credential is kept even when the
// sync fails.
func (s *Service) CompleteAuthorization(ctx context.Context, username, code string) (SyncResult, error) {
	if username == "" || code == "" {
		return SyncResult{}, fmt.Errorf("%w: username and code are required", ErrInvalidInput)
	}
	token, err := s.remote.ExchangeCode(ctx, code)
	if err != nil {
		s.logger.Warn(ctx, "code exchange failed", logger.String("username", username), logger.Error(err))
		return SyncResult{}, err
	}
	if err := s.UpsertCredential(ctx, username, token); err != nil {
		return SyncResult{}, err
	}
	s.logger.Info(ctx, "credential stored", logger.String("username", username))
	return s.SyncUser(ctx, username)
}

// GetCredential returns the stored credential for username.
func (s *Service) GetCredential(ctx context.Context, username string) (model.Credential, error) {
	return s.store.GetCredential(ctx, username)
}

// UpsertCredential stores or replaces the access token for username.
func (s *Service) UpsertCredential(ctx context.Context, username, token string) error {
	if username == "" || token == "" {
		return fmt.Errorf("%w: username and token are required", ErrInvalidInput)
	}
	return s.store.UpsertCredential(ctx, username, token)
}

// GetProfile returns the stored user.
func (s *Service) GetProfile(ctx context.Context, username string) (model.User, error) {
	return s.store.GetUser(ctx, username)
}

// UpdateProfile replaces the profile fields of user.
func (s *Service) UpdateProfile(ctx context.Context, user model.User) (model.User, error) {
	if user.Username == "" {
		return model.User{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	return s.store.UpsertUserProfile(ctx, user)
}

// Leaderboard returns the ranked entries for testID, or for the default test
// when testID is empty.
func (s *Service) Leaderboard(ctx context.Context, testID string) ([]model.LeaderboardEntry, error) {
	if testID == "" {
		testID = s.DefaultTestID()
	}
	records, err := s.store.ListScores(ctx, testID)
	if err != nil {
		return nil, err
	}
	entries := leaderboard.Project(testID, records)
	metrics.UpdateLeaderboardSize(testID, len(entries))
	return entries, nil
}

// Score returns the stored record for (username, testID); an empty testID
// selects the default test.
func (s *Service) Score(ctx context.Context, username, testID string) (model.ScoreRecord, error) {
	if testID == "" {
		testID = s.DefaultTestID()
	}
	return s.store.GetScore(ctx, username, testID)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]interface{} {
	stats := map[string]interface{}{
		"testIds":     s.TestIDs(),
		"concurrency": s.concurrency,
		"retries":     s.retries,
		"mirroring":   s.mirror != nil,
		"synced":      s.synced.Load(),
		"noScore":     s.noScore.Load(),
		"failed":      s.failed.Load(),
	}

	if creds, err := s.store.ListCredentials(ctx); err == nil {
		stats["credentials"] = len(creds)
	} else {
		s.logger.Warn(ctx, "stats: list credentials failed", logger.Error(err))
	}

	perTest := make(map[string]int, len(s.testIDs))
	for _, id := range s.testIDs {
		records, err := s.store.ListScores(ctx, id)
		if err != nil {
			s.logger.Warn(ctx, "stats: list scores failed", logger.String("test_id", id), logger.Error(err))
			continue
		}
		perTest[id] = len(records)
		metrics.UpdateLeaderboardSize(id, len(records))
	}
	stats["scores"] = perTest

	s.statsMu.RLock()
	if s.lastBatch != nil {
		stats["lastBatch"] = map[string]interface{}{
			"runId":    s.lastBatch.RunID,
			"started":  s.lastBatch.StartedAt,
			"duration": s.lastBatch.Duration.String(),
			"synced":   len(s.lastBatch.Synced),
			"noScore":  len(s.lastBatch.NoScore),
			"failures": len(s.lastBatch.Failures),
		}
	}
	s.statsMu.RUnlock()

	return stats
}

func isNotFound(err error) bool { return errors.Is(err, repository.ErrNotFound) }
