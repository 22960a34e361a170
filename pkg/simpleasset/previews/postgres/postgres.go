package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
}

// Config names the table and columns holding preview expiry
type Config struct {
	Table         string // default: previews; may be schema-qualified (schema.table)
	IDColumn      string // default: id
	ExpiresColumn string // default: expires_at
	Limit         int    // maximum ids per call, 0 for no limit
}

// Source implements previews.Source on top of PostgreSQL
type Source struct {
	db    DBTX
	query string
}

// New creates a source reading from db
func New(db DBTX, config Config) *Source {
	if config.Table == "" {
		config.Table = "previews"
	}
	if config.IDColumn == "" {
		config.IDColumn = "id"
	}
	if config.ExpiresColumn == "" {
		config.ExpiresColumn = "expires_at"
	}

	id := pgx.Identifier{config.IDColumn}.Sanitize()
	expires := pgx.Identifier{config.ExpiresColumn}.Sanitize()
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE %s IS NOT NULL AND %s <= $1
		ORDER BY %s`,
		id, pgx.Identifier(strings.Split(config.Table, ".")).Sanitize(), expires, expires, id)
	if config.Limit > 0 {
		query += fmt.Sprintf("\n\t\tLIMIT %d", config.Limit)
	}

	return &Source{db: db, query: query}
}

// NewWithPool creates a source using a connection pool
func NewWithPool(pool *pgxpool.Pool, config Config) *Source {
	return New(pool, config)
}

// ExpiredPreviewIDs returns previews whose expiry is at or before now
func (s *Source) ExpiredPreviewIDs(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx, s.query, now)
	if err != nil {
		return nil, handlePostgresError("list expired previews", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, handlePostgresError("scan preview id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, handlePostgresError("list expired previews", err)
	}
	return ids, nil
}

// Error handling helper
func handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required: %w", err)
		case "42703": // undefined_column
			return fmt.Errorf("column %s does not exist: %w", pgErr.ColumnName, err)
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}
