// Package repository persists users, access credentials and score records.
//
// Every write is an insert-else-update keyed by the natural key of the row:
// username for users and credentials, (username, test id) for scores.
// Scores are held as fixed-point integers (see package scoring).
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/okian/badgeboard/internal/domain/model"
	"github.com/okian/badgeboard/pkg/metrics"
)

// Store provides read/write access to the persisted state.
type Store interface {
	// GetCredential returns the stored credential or ErrNotFound.
	GetCredential(ctx context.Context, username string) (model.Credential, error)
	// UpsertCredential inserts the credential or replaces the token, creating the user row on first use.
	UpsertCredential(ctx context.Context, username, token string) error
	// ListCredentials returns every stored credential ordered by username.
	ListCredentials(ctx context.Context) ([]model.Credential, error)

	// GetUser returns the user profile or ErrNotFound.
	GetUser(ctx context.Context, username string) (model.User, error)
	// UpsertUserProfile inserts the user or replaces its profile fields.
	UpsertUserProfile(ctx context.Context, user model.User) (model.User, error)

	// GetScore returns the record for (username, testID) or ErrNotFound.
	GetScore(ctx context.Context, username, testID string) (model.ScoreRecord, error)
	// UpsertScore encodes rawScore and inserts or updates the single record for (username, testID).
	UpsertScore(ctx context.Context, username, testID string, rawScore float64, badgeImage string) (model.ScoreRecord, error)
	// ListScores returns every record for testID in store order.
	ListScores(ctx context.Context, testID string) ([]model.ScoreRecord, error)

	Close() error
}

// Store operation names used in errors and metrics.
const (
	OpGetCredential     = "get_credential"
	OpUpsertCredential  = "upsert_credential"
	OpListCredentials   = "list_credentials"
	OpGetUser           = "get_user"
	OpUpsertUserProfile = "upsert_user_profile"
	OpGetScore          = "get_score"
	OpUpsertScore       = "upsert_score"
	OpListScores        = "list_scores"
)

func observe(op string, start time.Time, err error) {
	failed := err != nil && !errors.Is(err, ErrNotFound)
	metrics.RecordStoreOperation(op, float64(time.Since(start).Microseconds())/1000, failed)
}

func validateKey(username string, rest ...string) error {
	if username == "" {
		return ErrInvalidInput
	}
	for _, s := range rest {
		if s == "" {
			return ErrInvalidInput
		}
	}
	return nil
}
