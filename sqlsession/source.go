// Package sqlsession resolves users for refresh token exchanges from a SQL
// database. SQLite (modernc.org/sqlite) and Postgres (pgx stdlib) are
// supported.
package sqlsession

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/bionicotaku/lingo-utils-jwtauth"
)

// Dialect selects the driver and placeholder style.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// Grant kinds stored in jwt_user_grants.kind.
const (
	KindRole       = "role"
	KindPermission = "permission"
)

func (d Dialect) driverName() (string, error) {
	switch d {
	case SQLite:
		return "sqlite", nil
	case Postgres:
		return "pgx", nil
	default:
		return "", fmt.Errorf("sqlsession: unsupported dialect %q", d)
	}
}

// Source implements jwtauth.SessionSource.
type Source struct {
	db      *sql.DB
	dialect Dialect
}

var _ jwtauth.SessionSource = (*Source)(nil)

// New wraps an open database handle. The caller owns db.
func New(db *sql.DB, dialect Dialect) (*Source, error) {
	if db == nil {
		return nil, errors.New("sqlsession: db is required")
	}
	if _, err := dialect.driverName(); err != nil {
		return nil, err
	}
	return &Source{db: db, dialect: dialect}, nil
}

// Open opens and pings the database named by dsn.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Source, error) {
	driver, err := dialect.driverName()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlsession: dsn is required")
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", dialect, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", dialect, err)
	}
	return &Source{db: db, dialect: dialect}, nil
}

// DB returns the underlying handle.
func (s *Source) DB() *sql.DB { return s.db }

// Close closes the underlying handle.
func (s *Source) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS jwt_users (
    id           TEXT PRIMARY KEY,
    user_name    TEXT NOT NULL DEFAULT '',
    email        TEXT NOT NULL DEFAULT '',
    first_name   TEXT NOT NULL DEFAULT '',
    last_name    TEXT NOT NULL DEFAULT '',
    display_name TEXT NOT NULL DEFAULT '',
    profile_url  TEXT NOT NULL DEFAULT '',
    locked       BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE TABLE IF NOT EXISTS jwt_user_grants (
    user_id TEXT NOT NULL REFERENCES jwt_users(id) ON DELETE CASCADE,
    kind    TEXT NOT NULL CHECK (kind IN ('role', 'permission')),
    name    TEXT NOT NULL,
    PRIMARY KEY (user_id, kind, name)
);
`

// Migrate creates the jwt_users and jwt_user_grants tables when missing.
func (s *Source) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

const (
	selectUser = `SELECT user_name, email, first_name, last_name, display_name, profile_url, locked
FROM jwt_users WHERE id = ?`
	selectGrants = `SELECT kind, name FROM jwt_user_grants WHERE user_id = ? ORDER BY kind, name`
)

// SessionFor implements jwtauth.SessionSource. Unknown users return nil.
func (s *Source) SessionFor(ctx context.Context, userID string) (*jwtauth.SessionResult, error) {
	result := &jwtauth.SessionResult{Session: jwtauth.Session{UserAuthID: userID}}
	sess := &result.Session
	err := s.db.QueryRowContext(ctx, s.rebind(selectUser), userID).Scan(
		&sess.UserName, &sess.Email, &sess.FirstName, &sess.LastName,
		&sess.DisplayName, &sess.ProfileURL, &result.Locked,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(selectGrants), userID)
	if err != nil {
		return nil, fmt.Errorf("load grants for %s: %w", userID, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var kind, name string
		if err := rows.Scan(&kind, &name); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		switch kind {
		case KindRole:
			result.Roles = append(result.Roles, name)
		case KindPermission:
			result.Permissions = append(result.Permissions, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load grants for %s: %w", userID, err)
	}
	return result, nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *Source) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
