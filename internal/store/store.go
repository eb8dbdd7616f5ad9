package store

import (
	"context"
	"database/sql"
	"time"

	"tally/api/internal/policy"
)

// SQLStore persists groups, items and the change-approval workflow. Every
// method runs on the transaction carried by ctx when there is one.
type SQLStore struct {
	db       *sql.DB
	dialect  Dialect
	defaults policy.GroupPolicy
}

type Option func(*SQLStore)

// WithDefaultPolicy sets the policy of groups that have no override.
func WithDefaultPolicy(p policy.GroupPolicy) Option {
	return func(s *SQLStore) {
		s.defaults = p
	}
}

func NewSQLStore(db *sql.DB, dialect Dialect, opts ...Option) *SQLStore {
	s := &SQLStore{db: db, dialect: dialect, defaults: policy.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// q rebinds a query for the store's dialect.
func (s *SQLStore) q(query string) string {
	return s.dialect.Rebind(query)
}

// lock appends the dialect's row lock when ctx carries a transaction.
func (s *SQLStore) lock(ctx context.Context, query string) string {
	if _, ok := txFrom(ctx); !ok {
		return query
	}
	return query + s.dialect.ForUpdate()
}

type scanner interface {
	Scan(dest ...any) error
}

func nullString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

func stringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func timePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	v := value.Time.UTC()
	return &v
}

func nullTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value.UTC(), Valid: true}
}
