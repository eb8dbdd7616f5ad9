package store

import (
	"fmt"
	"regexp"
)

// Dialect captures the few places where PostgreSQL and SQLite disagree.
// Queries are written with PostgreSQL placeholders and rebound for SQLite.
type Dialect struct {
	Name          string
	driverName    string
	lockClause    string
	rebind        bool
	migrationsDir string
	migrationsDDL string
}

var (
	Postgres = Dialect{
		Name:          "postgres",
		driverName:    "pgx",
		lockClause:    " FOR UPDATE",
		migrationsDir: "migrations/postgres",
		migrationsDDL: `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				version TEXT PRIMARY KEY,
				applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)
		`,
	}
	SQLite = Dialect{
		Name:          "sqlite",
		driverName:    "sqlite",
		rebind:        true,
		migrationsDir: "migrations/sqlite",
		migrationsDDL: `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				version TEXT PRIMARY KEY,
				applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			)
		`,
	}
)

func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "", Postgres.Name, "pgx":
		return Postgres, nil
	case SQLite.Name, "sqlite3":
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported database driver %q", driver)
	}
}

var placeholderPattern = regexp.MustCompile(`\$\d+`)

// Rebind rewrites $N placeholders for drivers that only take "?". Queries
// must use each placeholder once and in ascending order.
func (d Dialect) Rebind(query string) string {
	if !d.rebind {
		return query
	}
	return placeholderPattern.ReplaceAllString(query, "?")
}

// ForUpdate is the row lock suffix used inside transactions. SQLite relies
// on its single-writer connection instead.
func (d Dialect) ForUpdate() string {
	return d.lockClause
}
