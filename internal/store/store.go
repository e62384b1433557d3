// Package store persists tasks, staff and performance data over database/sql.
// All methods take the tenant explicitly; nothing is shared across tenants.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/dispatchd/internal/db"
)

// ErrNotFound is returned when a row does not exist for the tenant.
var ErrNotFound = errors.New("not found")

// ErrStaffUnavailable is returned by AssignIfPending when the staff member
// left the shift or was deactivated before the write landed.
var ErrStaffUnavailable = errors.New("staff unavailable")

// TimeLayout is the stored timestamp form. Fixed width keeps lexical and
// chronological order identical.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// DateLayout is the stored calendar date form.
const DateLayout = "2006-01-02"

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the persistence layer. A Store returned inside InTx is bound to
// the transaction.
type Store struct {
	db      *db.DB
	q       querier
	dialect db.Dialect
	inTx    bool
}

// New wraps an open database.
func New(database *db.DB) *Store {
	return &Store{db: database, q: database.SQL(), dialect: database.Dialect()}
}

// DB returns the underlying database.
func (s *Store) DB() *db.DB {
	return s.db
}

// InTx runs fn inside a transaction, committing when fn returns nil.
// Calls nested inside an open transaction reuse it.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.inTx {
		return fn(s)
	}

	sqlTx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	txStore := &Store{db: s.db, q: sqlTx, dialect: s.dialect, inTx: true}

	if err := fn(txStore); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.q.ExecContext(ctx, db.Rebind(s.dialect, query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.q.QueryContext(ctx, db.Rebind(s.dialect, query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.q.QueryRowContext(ctx, db.Rebind(s.dialect, query), args...)
}

type scanner interface {
	Scan(dest ...any) error
}

// FormatTime renders t in the stored layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a stored timestamp.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}

// Day renders the UTC calendar date of t.
func Day(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: FormatTime(*t), Valid: true}
}

func timePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := ParseTime(ns.String)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp %q: %w", ns.String, err)
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}
