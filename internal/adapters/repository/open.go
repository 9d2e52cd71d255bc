package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"

	"github.com/okian/badgeboard/internal/adapters/repository/migrations"
	"github.com/okian/badgeboard/pkg/logger"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"             // registers the "sqlite" driver
)

// Supported drivers.
const (
	DriverSQLite = "sqlite"
	DriverPgx    = "pgx"
	DriverMemory = "memory"
)

// goose keeps its base FS and dialect in package globals.
var migrateMu sync.Mutex

// gooseUp is a seam for testing goose.UpContext.
var gooseUp = func(ctx context.Context, db *sql.DB, dir string) error {
	return goose.UpContext(ctx, db, dir)
}

// Open returns a ready Store for driver. SQL backends are pinged and
// migrated before use.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (Store, error) {
	if driver == DriverMemory {
		return NewMemoryStore(opts...), nil
	}
	if driver != DriverSQLite && driver != DriverPgx {
		return nil, fmt.Errorf("%w: unknown driver %q", ErrInvalidInput, driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, storageErr("open", err)
	}
	if driver == DriverSQLite {
		// single writer
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, storageErr("ping", err)
	}
	if err := Migrate(ctx, db, driver, opts...); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := NewSQLStore(db, driver, opts...)
	s.ownsHandle = true
	return s, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, db *sql.DB, driver string, opts ...Option) error {
	o := buildOptions(opts)

	dialect := "sqlite3"
	if driver == DriverPgx {
		dialect = "postgres"
	}

	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(gooseLogger{l: o.logger})
	if err := goose.SetDialect(dialect); err != nil {
		return storageErr("migrate", err)
	}
	if err := gooseUp(ctx, db, "."); err != nil {
		return storageErr("migrate", err)
	}
	return nil
}

// gooseLogger forwards goose output to the structured logger, or drops it.
type gooseLogger struct {
	l logger.Logger
}

func (g gooseLogger) Printf(format string, v ...interface{}) {
	if g.l != nil {
		g.l.Debug(context.Background(), fmt.Sprintf(format, v...))
	}
}

func (g gooseLogger) Fatalf(format string, v ...interface{}) {
	if g.l != nil {
		g.l.Error(context.Background(), fmt.Sprintf(format, v...))
	}
}
