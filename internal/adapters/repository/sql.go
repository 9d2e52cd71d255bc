package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/okian/badgeboard/internal/domain/model"
	"github.com/okian/badgeboard/internal/domain/scoring"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// DBTX is the subset of database/sql used by SQLStore.
// Both *sql.DB and *sql.Tx satisfy this interface.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore is a Store over database/sql. Queries are written with `?`
// placeholders and rebound for postgres drivers.
type SQLStore struct {
	db         *sql.DB
	numbered   bool
	now        func() time.Time
	ownsHandle bool
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore wraps an open database handle. driver selects the placeholder
// style ("pgx" uses $n). The caller keeps ownership of db.
func NewSQLStore(db *sql.DB, driver string, opts ...Option) *SQLStore {
	o := buildOptions(opts)
	return &SQLStore{
		db:       db,
		numbered: driver == DriverPgx,
		now:      o.now,
	}
}

// Close closes the handle when it was opened by Open.
func (s *SQLStore) Close() error {
	if !s.ownsHandle {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) GetCredential(ctx context.Context, username string) (c model.Credential, err error) {
	defer func(start time.Time) { observe(OpGetCredential, start, err) }(time.Now())
	var updated int64
	err = s.db.QueryRowContext(ctx, s.rebind(
		`SELECT username, access_token, updated_at FROM credentials WHERE username = ?`),
		username).Scan(&c.Username, &c.AccessToken, &updated)
	if err != nil {
		return model.Credential{}, rowErr(OpGetCredential, err)
	}
	c.UpdatedAt = fromMillis(updated)
	return c, nil
}

func (s *SQLStore) UpsertCredential(ctx context.Context, username, token string) (err error) {
	defer func(start time.Time) { observe(OpUpsertCredential, start, err) }(time.Now())
	if err := validateKey(username, token); err != nil {
		return err
	}
	now := toMillis(s.now())

	err = s.withTx(ctx, func(ctx context.Context, tx DBTX) error {
		if err := s.ensureUser(ctx, tx, username, now); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, s.rebind(
			`INSERT INTO credentials (username, access_token, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT (username) DO UPDATE SET access_token = excluded.access_token, updated_at = excluded.updated_at`),
			username, token, now)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return storageErr(OpUpsertCredential, fmt.Errorf("%w: %w", ErrConflict, err))
		}
		return storageErr(OpUpsertCredential, err)
	}
	return nil
}

func (s *SQLStore) ListCredentials(ctx context.Context) (_ []model.Credential, err error) {
	defer func(start time.Time) { observe(OpListCredentials, start, err) }(time.Now())
	rows, err := s.db.QueryContext(ctx,
		`SELECT username, access_token, updated_at FROM credentials ORDER BY username`)
	if err != nil {
		return nil, storageErr(OpListCredentials, err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]model.Credential, 0)
	for rows.Next() {
		var (
			c       model.Credential
			updated int64
		)
		if err := rows.Scan(&c.Username, &c.AccessToken, &updated); err != nil {
			return nil, storageErr(OpListCredentials, err)
		}
		c.UpdatedAt = fromMillis(updated)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(OpListCredentials, err)
	}
	return out, nil
}

func (s *SQLStore) GetUser(ctx context.Context, username string) (u model.User, err error) {
	defer func(start time.Time) { observe(OpGetUser, start, err) }(time.Now())
	var created, updated int64
	err = s.db.QueryRowContext(ctx, s.rebind(
		`SELECT username, first_name, last_name, image_url, created_at, updated_at FROM users WHERE username = ?`),
		username).Scan(&u.Username, &u.FirstName, &u.LastName, &u.ImageURL, &created, &updated)
	if err != nil {
		return model.User{}, rowErr(OpGetUser, err)
	}
	u.CreatedAt, u.UpdatedAt = fromMillis(created), fromMillis(updated)
	return u, nil
}

func (s *SQLStore) UpsertUserProfile(ctx context.Context, user model.User) (_ model.User, err error) {
	defer func(start time.Time) { observe(OpUpsertUserProfile, start, err) }(time.Now())
	if err := validateKey(user.Username); err != nil {
		return model.User{}, err
	}
	now := toMillis(s.now())

	var created int64
	err = s.db.QueryRowContext(ctx, s.rebind(
		`INSERT INTO users (username, first_name, last_name, image_url, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (username) DO UPDATE SET
		   first_name = excluded.first_name,
		   last_name = excluded.last_name,
		   image_url = excluded.image_url,
		   updated_at = excluded.updated_at
		 RETURNING created_at`),
		user.Username, user.FirstName, user.LastName, user.ImageURL, now, now).Scan(&created)
	if err != nil {
		return model.User{}, storageErr(OpUpsertUserProfile, err)
	}
	user.CreatedAt, user.UpdatedAt = fromMillis(created), fromMillis(now)
	return user, nil
}

func (s *SQLStore) GetScore(ctx context.Context, username, testID string) (r model.ScoreRecord, err error) {
	defer func(start time.Time) { observe(OpGetScore, start, err) }(time.Now())
	var created, updated int64
	err = s.db.QueryRowContext(ctx, s.rebind(
		`SELECT username, test_id, score, badge_image, created_at, updated_at
		 FROM scores WHERE username = ? AND test_id = ?`),
		username, testID).Scan(&r.Username, &r.TestID, &r.Score, &r.BadgeImage, &created, &updated)
	if err != nil {
		return model.ScoreRecord{}, rowErr(OpGetScore, err)
	}
	r.CreatedAt, r.UpdatedAt = fromMillis(created), fromMillis(updated)
	return r, nil
}

func (s *SQLStore) UpsertScore(ctx context.Context, username, testID string, rawScore float64, badgeImage string) (_ model.ScoreRecord, err error) {
	defer func(start time.Time) { observe(OpUpsertScore, start, err) }(time.Now())
	if err := validateKey(username, testID); err != nil {
		return model.ScoreRecord{}, err
	}
	encoded, err := scoring.Encode(rawScore)
	if err != nil {
		return model.ScoreRecord{}, err
	}
	now := toMillis(s.now())

	var created int64
	err = s.withTx(ctx, func(ctx context.Context, tx DBTX) error {
		if err := s.ensureUser(ctx, tx, username, now); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, s.rebind(
			`INSERT INTO scores (username, test_id, score, badge_image, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (username, test_id) DO UPDATE SET
			   score = excluded.score,
			   badge_image = excluded.badge_image,
			   updated_at = excluded.updated_at
			 RETURNING created_at`),
			username, testID, encoded, badgeImage, now, now).Scan(&created)
	})
	if err != nil {
		return model.ScoreRecord{}, storageErr(OpUpsertScore, err)
	}
	return model.ScoreRecord{
		Username:   username,
		TestID:     testID,
		Score:      encoded,
		BadgeImage: badgeImage,
		CreatedAt:  fromMillis(created),
		UpdatedAt:  fromMillis(now),
	}, nil
}

func (s *SQLStore) ListScores(ctx context.Context, testID string) (_ []model.ScoreRecord, err error) {
	defer func(start time.Time) { observe(OpListScores, start, err) }(time.Now())
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT username, test_id, score, badge_image, created_at, updated_at
		 FROM scores WHERE test_id = ? ORDER BY created_at, username`),
		testID)
	if err != nil {
		return nil, storageErr(OpListScores, err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]model.ScoreRecord, 0)
	for rows.Next() {
		var (
			r                model.ScoreRecord
			created, updated int64
		)
		if err := rows.Scan(&r.Username, &r.TestID, &r.Score, &r.BadgeImage, &created, &updated); err != nil {
			return nil, storageErr(OpListScores, err)
		}
		r.CreatedAt, r.UpdatedAt = fromMillis(created), fromMillis(updated)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(OpListScores, err)
	}
	return out, nil
}

func (s *SQLStore) ensureUser(ctx context.Context, tx DBTX, username string, now int64) error {
	_, err := tx.ExecContext(ctx, s.rebind(
		`INSERT INTO users (username, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (username) DO NOTHING`),
		username, now, now)
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	return nil
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func (s *SQLStore) withTx(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(ctx, tx)
}

// rebind rewrites `?` placeholders to `$1..$n` for postgres.
func (s *SQLStore) rebind(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func rowErr(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return storageErr(op, err)
}

// isUniqueViolation reports whether err is a unique or primary key
// violation from either supported driver.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return false
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
