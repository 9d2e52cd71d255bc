package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/okian/badgeboard/internal/adapters/repository"
	"github.com/okian/badgeboard/internal/adapters/smarterer"
	"github.com/okian/badgeboard/internal/domain/model"
)

// fakeRemote serves canned badge payloads per access token, and public
// badges per username.
type fakeRemote struct {
	mu        sync.Mutex
	badges    map[string]model.BadgesResponse
	public    map[string]model.BadgesResponse
	errs      map[string][]error // consumed in order before badges are served
	tokens    map[string]string  // code -> token
	calls     atomic.Int64
	lastTests []string
	block     chan struct{}
	entered   chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		badges: map[string]model.BadgesResponse{},
		public: map[string]model.BadgesResponse{},
		errs:   map[string][]error{},
		tokens: map[string]string{},
	}
}

func (f *fakeRemote) Badges(ctx context.Context, token string, testIDs ...string) (model.BadgesResponse, error) {
	f.calls.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return model.BadgesResponse{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastTests = testIDs
	if queue := f.errs[token]; len(queue) > 0 {
		f.errs[token] = queue[1:]
		return model.BadgesResponse{}, queue[0]
	}
	return f.badges[token], nil
}

func (f *fakeRemote) UserBadges(_ context.Context, username string, testIDs ...string) (model.BadgesResponse, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastTests = testIDs
	if queue := f.errs[username]; len(queue) > 0 {
		f.errs[username] = queue[1:]
		return model.BadgesResponse{}, queue[0]
	}
	return f.public[username], nil
}

func (f *fakeRemote) AuthorizeURL() string { return "https://remote.example/oauth/authorize?client_id=app" }

func (f *fakeRemote) ExchangeCode(_ context.Context, code string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok, ok := f.tokens[code]
	if !ok {
		return "", &smarterer.RemoteAPIError{Op: smarterer.OpExchangeToken, StatusCode: 400}
	}
	return tok, nil
}

func badge(slug string, score float64, image string) model.BadgeEntry {
	return model.BadgeEntry{
		Quiz:  model.Quiz{URLSlug: slug},
		Badge: model.Badge{RawScore: score, Image: image},
	}
}

func serverError() error {
	return &smarterer.RemoteAPIError{Op: smarterer.OpBadges, StatusCode: 500, Body: []byte("boom")}
}

// flakyStore fails score writes for selected users.
type flakyStore struct {
	repository.Store
	failUpsert map[string]bool
	failList   bool
}

func (s *flakyStore) UpsertScore(ctx context.Context, username, testID string, raw float64, image string) (model.ScoreRecord, error) {
	if s.failUpsert[username] {
		return model.ScoreRecord{}, &repository.StorageError{Op: repository.OpUpsertScore, Err: errors.New("disk full")}
	}
	return s.Store.UpsertScore(ctx, username, testID, raw, image)
}

func (s *flakyStore) ListCredentials(ctx context.Context) ([]model.Credential, error) {
	if s.failList {
		return nil, &repository.StorageError{Op: repository.OpListCredentials, Err: errors.New("disk full")}
	}
	return s.Store.ListCredentials(ctx)
}

type fakeMirror struct {
	err error
}

func (m fakeMirror) Mirror(_ context.Context, username, testID, _ string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return "https://cdn.example/badges/" + testID + "/" + username + ".png", nil
}
