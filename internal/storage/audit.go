// internal/storage/audit.go
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const auditSchema = `
	CREATE TABLE IF NOT EXISTS validations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		annotation_id TEXT NOT NULL,
		source TEXT NOT NULL,
		validated_at TEXT NOT NULL,
		backup TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_validations_validated_at ON validations(validated_at);
`

const defaultHistoryLimit = 50

// AuditEntry is one saved annotation in the audit log
type AuditEntry struct {
	ID           int64  `json:"id"`
	AnnotationID string `json:"annotation_id"`
	Source       string `json:"source"`
	ValidatedAt  string `json:"validated_at"`
	Backup       string `json:"backup,omitempty"`
}

// AuditLog records every save in a SQLite database
type AuditLog struct {
	db *sql.DB
}

// OpenAuditLog opens or creates the database at path and applies the schema
func OpenAuditLog(path string) (*AuditLog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create audit directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping audit database: %w", err)
	}

	if _, err := db.Exec(auditSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}

	return &AuditLog{db: db}, nil
}

// Close closes the database connection.
func (a *AuditLog) Close() error {
	return a.db.Close()
}

// Record inserts all entries in one transaction
func (a *AuditLog) Record(ctx context.Context, entries []AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO validations (annotation_id, source, validated_at, backup)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare audit insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.AnnotationID, e.Source, e.ValidatedAt, e.Backup); err != nil {
			return fmt.Errorf("insert audit entry %s: %w", e.AnnotationID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit transaction: %w", err)
	}
	return nil
}

// History returns up to limit entries, newest first
func (a *AuditLog) History(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT id, annotation_id, source, validated_at, backup
		FROM validations
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit history: %w", err)
	}
	defer rows.Close()

	entries := []AuditEntry{}
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.AnnotationID, &e.Source, &e.ValidatedAt, &e.Backup); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of recorded validations
func (a *AuditLog) Count(ctx context.Context) (int, error) {
	var n int
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM validations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return n, nil
}
