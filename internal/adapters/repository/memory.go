package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/okian/badgeboard/internal/domain/model"
	"github.com/okian/badgeboard/internal/domain/scoring"
)

type scoreKey struct {
	username string
	testID   string
}

// MemoryStore is a mutex-guarded in-process Store. Scores are listed in
// insertion order.
type MemoryStore struct {
	mu  sync.RWMutex
	now func() time.Time

	users       map[string]model.User
	credentials map[string]model.Credential
	tokens      map[string]string // token -> username
	scores      map[scoreKey]model.ScoreRecord
	scoreOrder  []scoreKey
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{
		now:         o.now,
		users:       make(map[string]model.User),
		credentials: make(map[string]model.Credential),
		tokens:      make(map[string]string),
		scores:      make(map[scoreKey]model.ScoreRecord),
	}
}

func (s *MemoryStore) GetCredential(_ context.Context, username string) (model.Credential, error) {
	defer observe(OpGetCredential, time.Now(), nil)
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.credentials[username]
	if !ok {
		return model.Credential{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) UpsertCredential(_ context.Context, username, token string) (err error) {
	defer func(start time.Time) { observe(OpUpsertCredential, start, err) }(time.Now())
	if err := validateKey(username, token); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, ok := s.tokens[token]; ok && owner != username {
		return storageErr(OpUpsertCredential, ErrConflict)
	}
	now := s.now().UTC()
	s.ensureUserLocked(username, now)
	if prev, ok := s.credentials[username]; ok {
		delete(s.tokens, prev.AccessToken)
	}
	s.credentials[username] = model.Credential{Username: username, AccessToken: token, UpdatedAt: now}
	s.tokens[token] = username
	return nil
}

func (s *MemoryStore) ListCredentials(_ context.Context) ([]model.Credential, error) {
	defer observe(OpListCredentials, time.Now(), nil)
	s.mu.RLock()
	out := make([]model.Credential, 0, len(s.credentials))
	for _, c := range s.credentials {
		out = append(out, c)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *MemoryStore) GetUser(_ context.Context, username string) (model.User, error) {
	defer observe(OpGetUser, time.Now(), nil)
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return u, nil
}

func (s *MemoryStore) UpsertUserProfile(_ context.Context, user model.User) (_ model.User, err error) {
	defer func(start time.Time) { observe(OpUpsertUserProfile, start, err) }(time.Now())
	if err := validateKey(user.Username); err != nil {
		return model.User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	s.ensureUserLocked(user.Username, now)
	u := s.users[user.Username]
	u.FirstName, u.LastName, u.ImageURL = user.FirstName, user.LastName, user.ImageURL
	u.UpdatedAt = now
	s.users[user.Username] = u
	return u, nil
}

func (s *MemoryStore) GetScore(_ context.Context, username, testID string) (model.ScoreRecord, error) {
	defer observe(OpGetScore, time.Now(), nil)
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.scores[scoreKey{username, testID}]
	if !ok {
		return model.ScoreRecord{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) UpsertScore(_ context.Context, username, testID string, rawScore float64, badgeImage string) (_ model.ScoreRecord, err error) {
	defer func(start time.Time) { observe(OpUpsertScore, start, err) }(time.Now())
	if err := validateKey(username, testID); err != nil {
		return model.ScoreRecord{}, err
	}
	encoded, err := scoring.Encode(rawScore)
	if err != nil {
		return model.ScoreRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	s.ensureUserLocked(username, now)

	key := scoreKey{username, testID}
	r, ok := s.scores[key]
	if !ok {
		r = model.ScoreRecord{Username: username, TestID: testID, CreatedAt: now}
		s.scoreOrder = append(s.scoreOrder, key)
	}
	r.Score = encoded
	r.BadgeImage = badgeImage
	r.UpdatedAt = now
	s.scores[key] = r
	return r, nil
}

func (s *MemoryStore) ListScores(_ context.Context, testID string) ([]model.ScoreRecord, error) {
	defer observe(OpListScores, time.Now(), nil)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ScoreRecord, 0)
	for _, key := range s.scoreOrder {
		if key.testID == testID {
			out = append(out, s.scores[key])
		}
	}
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) ensureUserLocked(username string, now time.Time) {
	if _, ok := s.users[username]; ok {
		return
	}
	s.users[username] = model.User{Username: username, CreatedAt: now, UpdatedAt: now}
}
