package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/okian/badgeboard/internal/adapters/repository"
	"github.com/okian/badgeboard/internal/adapters/smarterer"
	"github.com/okian/badgeboard/internal/domain/model"
	"github.com/okian/badgeboard/pkg/logger"
	"github.com/okian/badgeboard/pkg/metrics"
)

// Outcome is the successful result kind of a sync.
type Outcome string

const (
	OutcomeSynced  Outcome = "synced"
	OutcomeNoScore Outcome = "no_score"
)

// SyncResult describes one successful SyncUser call. Records holds one
// entry per configured test that received a badge.
type SyncResult struct {
	Username string
	Outcome  Outcome
	Records  []model.ScoreRecord
}

// SyncFailure pairs a username with the error that stopped its sync.
type SyncFailure struct {
	Username string
	Err      error
}

// BatchReport aggregates a SyncAllUsers run.
type BatchReport struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	Synced    []SyncResult
	NoScore   []string
	Failures  []SyncFailure
}

// Total is the number of users processed.
func (r BatchReport) Total() int { return len(r.Synced) + len(r.NoScore) + len(r.Failures) }

// SyncUser pulls the badges of username and upserts one score per configured
// test. Concurrent calls for the same username share a single execution.
func (s *Service) SyncUser(ctx context.Context, username string) (SyncResult, error) {
	if username == "" {
		return SyncResult{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	// The shared run outlives any single caller; the remote timeout bounds it.
	ch := s.inflight.DoChan(username, func() (interface{}, error) {
		return s.syncUser(context.WithoutCancel(ctx), username)
	})
	select {
	case <-ctx.Done():
		return SyncResult{}, ctx.Err()
	case r := <-ch:
		if r.Shared {
			s.logger.Debug(ctx, "sync coalesced", logger.String("username", username))
		}
		if r.Err != nil {
			return SyncResult{}, r.Err
		}
		return r.Val.(SyncResult), nil
	}
}

func (s *Service) syncUser(ctx context.Context, username string) (res SyncResult, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordSyncLatency(float64(time.Since(start).Milliseconds()))
		s.countOutcome(res, err)
	}()

	cred, err := s.store.GetCredential(ctx, username)
	if err != nil {
		if isNotFound(err) {
			return SyncResult{}, fmt.Errorf("%w: no credential for %q", ErrNotAuthorized, username)
		}
		return SyncResult{}, err
	}

	resp, err := s.fetchBadges(ctx, cred.AccessToken)
	if err != nil {
		return SyncResult{}, err
	}

	picked := s.attribute(ctx, username, resp.Badges)
	if len(picked) == 0 {
		s.logger.Debug(ctx, "no score available", logger.String("username", username))
		return SyncResult{Username: username, Outcome: OutcomeNoScore}, nil
	}

	res = SyncResult{Username: username, Outcome: OutcomeSynced}
	for _, testID := range s.testIDs {
		badge, ok := picked[testID]
		if !ok {
			continue
		}
		image := s.mirrorImage(ctx, username, testID, badge.Image)
		rec, err := s.store.UpsertScore(ctx, username, testID, badge.RawScore, image)
		if err != nil {
			return SyncResult{}, err
		}
		s.logger.Debug(ctx, "score upserted",
			logger.String("username", username),
			logger.String("test_id", testID),
			logger.Int64("score", rec.Score),
		)
		res.Records = append(res.Records, rec)
	}
	return res, nil
}

// fetchBadges calls the remote API, repeating retryable failures.
func (s *Service) fetchBadges(ctx context.Context, token string) (model.BadgesResponse, error) {
	return s.withRetry(ctx, func(ctx context.Context) (model.BadgesResponse, error) {
		return s.remote.Badges(ctx, token, s.testIDs...)
	})
}

func (s *Service) withRetry(ctx context.Context, call func(context.Context) (model.BadgesResponse, error)) (model.BadgesResponse, error) {
	var (
		resp    model.BadgesResponse
		lastErr error
	)
	backoff := retry.WithMaxRetries(uint64(s.retries), retry.NewExponential(s.retryBase))
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if attempt > 0 {
			metrics.RecordRemoteRetry()
		}
		attempt++
		r, err := call(ctx)
		if err != nil {
			lastErr = err
			var apiErr *smarterer.RemoteAPIError
			if errors.As(err, &apiErr) && apiErr.Retryable() {
				return retry.RetryableError(err)
			}
			return err
		}
		resp = r
		lastErr = nil
		return nil
	})
	if err != nil {
		if lastErr != nil {
			return model.BadgesResponse{}, lastErr
		}
		return model.BadgesResponse{}, err
	}
	return resp, nil
}

// attribute assigns badges to configured tests by quiz slug, then quiz id.
// The first badge per test wins. With a single configured test, a badge
// without any quiz identifier is attributed to it.
func (s *Service) attribute(ctx context.Context, username string, badges []model.BadgeEntry) map[string]model.Badge {
	wanted := make(map[string]struct{}, len(s.testIDs))
	for _, id := range s.testIDs {
		wanted[id] = struct{}{}
	}

	picked := make(map[string]model.Badge, len(s.testIDs))
	for _, entry := range badges {
		testID, ok := "", false
		switch {
		case entry.Quiz.URLSlug != "":
			_, ok = wanted[entry.Quiz.URLSlug]
			testID = entry.Quiz.URLSlug
			if !ok && entry.Quiz.ID != "" {
				_, ok = wanted[string(entry.Quiz.ID)]
				testID = string(entry.Quiz.ID)
			}
		case entry.Quiz.ID != "":
			_, ok = wanted[string(entry.Quiz.ID)]
			testID = string(entry.Quiz.ID)
		case len(s.testIDs) == 1:
			testID, ok = s.testIDs[0], true
		}
		if !ok {
			s.logger.Debug(ctx, "badge for unconfigured test ignored",
				logger.String("username", username),
				logger.String("quiz", entry.Quiz.TestKey()),
			)
			continue
		}
		if _, dup := picked[testID]; dup {
			s.logger.Debug(ctx, "duplicate badge ignored",
				logger.String("username", username),
				logger.String("test_id", testID),
			)
			continue
		}
		picked[testID] = entry.Badge
	}
	return picked
}

// mirrorImage returns the mirrored image URL, or the source URL when
// mirroring is off or fails.
func (s *Service) mirrorImage(ctx context.Context, username, testID, source string) string {
	if s.mirror == nil || source == "" {
		return source
	}
	loc, err := s.mirror.Mirror(ctx, username, testID, source)
	if err != nil || loc == "" {
		s.logger.Warn(ctx, "badge mirror failed, keeping remote image",
			logger.String("username", username),
			logger.String("test_id", testID),
			logger.Error(err),
		)
		return source
	}
	return loc
}

// SyncAllUsers syncs every stored credential. Per-user failures are
// collected in the report; the error is non-nil only when the credentials
// cannot be listed.
func (s *Service) SyncAllUsers(ctx context.Context) (BatchReport, error) {
	report := BatchReport{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
	log := s.logger.Named("batch")

	creds, err := s.store.ListCredentials(ctx)
	if err != nil {
		log.Error(ctx, "list credentials failed", logger.String("run_id", report.RunID), logger.Error(err))
		return report, err
	}
	log.Info(ctx, "batch sync started",
		logger.String("run_id", report.RunID),
		logger.Int("users", len(creds)),
		logger.Int("concurrency", s.concurrency),
	)

	type outcome struct {
		res SyncResult
		err error
	}
	outcomes := make([]outcome, len(creds))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, c := range creds {
		g.Go(func() error {
			res, err := s.SyncUser(ctx, c.Username)
			outcomes[i] = outcome{res: res, err: err}
			return nil
		})
	}
	_ = g.Wait()

	for i, o := range outcomes {
		username := creds[i].Username
		switch {
		case o.err != nil:
			log.Warn(ctx, "user sync failed",
				logger.String("run_id", report.RunID),
				logger.String("username", username),
				logger.Error(o.err),
			)
			report.Failures = append(report.Failures, SyncFailure{Username: username, Err: o.err})
		case o.res.Outcome == OutcomeNoScore:
			report.NoScore = append(report.NoScore, username)
		default:
			report.Synced = append(report.Synced, o.res)
		}
	}
	report.Duration = time.Since(report.StartedAt)
	metrics.RecordBatchRun(len(creds), len(report.Failures))

	s.statsMu.Lock()
	last := report
	s.lastBatch = &last
	s.statsMu.Unlock()

	log.Info(ctx, "batch sync finished",
		logger.String("run_id", report.RunID),
		logger.Int("synced", len(report.Synced)),
		logger.Int("no_score", len(report.NoScore)),
		logger.Int("failures", len(report.Failures)),
		logger.Duration("duration", report.Duration),
	)
	return report, nil
}

// ErrorKind maps a sync error to a stable label for metrics and the API.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, smarterer.ErrRemoteAPI):
		return "remote_error"
	case errors.Is(err, repository.ErrStorage):
		return "storage_error"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	}
	return "error"
}

func (s *Service) countOutcome(res SyncResult, err error) {
	switch {
	case err != nil:
		s.failed.Add(1)
		metrics.RecordSyncOutcome(ErrorKind(err))
	case res.Outcome == OutcomeNoScore:
		s.noScore.Add(1)
		metrics.RecordSyncOutcome(string(OutcomeNoScore))
	default:
		s.synced.Add(1)
		metrics.RecordSyncOutcome(string(OutcomeSynced))
	}
}
