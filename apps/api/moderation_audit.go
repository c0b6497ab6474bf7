package main

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const (
	moderationActionStatus = "status_changed"
	moderationActionDelete = "deleted"
)

type ModerationEvent struct {
	SessionID      string
	ReportID       int64
	Action         string
	Status         Status
	ReportTitle    string
	ReportCategory Category
	At             time.Time
}

// ModerationAuditor records admin actions. Reports themselves stay in memory;
// only the trail of who changed what is kept.
type ModerationAuditor interface {
	Record(ctx context.Context, event ModerationEvent) error
}

type logModerationAuditor struct {
	log *slog.Logger
}

func (l *logModerationAuditor) Record(ctx context.Context, event ModerationEvent) error {
	l.log.InfoContext(ctx, "moderation event",
		"session_id", event.SessionID,
		"report_id", event.ReportID,
		"action", event.Action,
		"status", event.Status.Code(),
		"category", event.ReportCategory.Code(),
		"at", event.At.UTC().Format(time.RFC3339),
	)
	return nil
}

type sqlModerationAuditor struct {
	db *sql.DB
}

const insertModerationEventSQL = `
	INSERT INTO moderation_events (session_id, report_id, action, status, report_title, report_category, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
`

func (s *sqlModerationAuditor) Record(ctx context.Context, event ModerationEvent) error {
	var status sql.NullString
	if event.Status != "" {
		status = sql.NullString{String: string(event.Status), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, insertModerationEventSQL,
		event.SessionID,
		event.ReportID,
		event.Action,
		status,
		event.ReportTitle,
		string(event.ReportCategory),
		event.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert moderation event: %w", err)
	}
	return nil
}

func (a *App) recordModeration(ctx context.Context, event ModerationEvent) {
	if a.auditor == nil {
		return
	}
	if err := a.auditor.Record(ctx, event); err != nil {
		a.log.Error("failed to record moderation event", "report_id", event.ReportID, "action", event.Action, "err", err)
	}
}

func runMigrations(ctx context.Context, db *sql.DB, log *slog.Logger) error {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return err
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		var exists bool
		if err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)`, file).Scan(&exists); err != nil {
			return err
		}
		if exists {
			continue
		}

		content, err := migrationFiles.ReadFile(filepath.Join("migrations", file))
		if err != nil {
			return err
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s failed: %w", file, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, file); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		log.Info("applied migration", "file", file)
	}

	return nil
}
