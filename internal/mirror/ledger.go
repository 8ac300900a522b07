package mirror

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// File statuses recorded in the ledger.
const (
	FileDownloaded = "downloaded"
	FileSkipped    = "skipped"
	FileFailed     = "failed"
)

// Ledger records each run and every transferred, skipped, or failed file in
// an embedded SQLite database. It is purely diagnostic: mirror correctness
// never depends on it, and every method on a nil *Ledger is a no-op, so a
// failed open degrades to logging rather than failing the run.
type Ledger struct {
	db     *sql.DB
	runID  string
	logger *slog.Logger
}

// OpenLedger opens (creating if needed) the ledger database at dbPath and
// applies schema migrations. Use ":memory:" for tests.
func OpenLedger(dbPath string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("mirror: opening ledger: %w", err)
	}

	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("mirror: setting WAL mode: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("mirror: enabling foreign keys: %w", err)
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("ledger ready", slog.String("path", dbPath))

	return &Ledger{db: db, logger: logger}, nil
}

// BeginRun inserts the row for this run and remembers its ID.
func (l *Ledger) BeginRun(ctx context.Context, remoteRoot, destination string) error {
	if l == nil {
		return nil
	}

	l.runID = uuid.New().String()

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (id, remote_root, destination, started_at) VALUES (?, ?, ?, ?)`,
		l.runID, remoteRoot, destination, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("mirror: recording run start: %w", err)
	}

	l.logger.Debug("ledger run started", slog.String("run_id", l.runID))

	return nil
}

// RunID returns the current run's ID, empty before BeginRun.
func (l *Ledger) RunID() string {
	if l == nil {
		return ""
	}

	return l.runID
}

// RecordFile records one file outcome. Best-effort: a write failure is
// logged and swallowed so the ledger can never fail a transfer.
func (l *Ledger) RecordFile(ctx context.Context, remotePath, status string, bytes int64) {
	if l == nil || l.runID == "" {
		return
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO run_files (run_id, remote_path, status, bytes, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		l.runID, remotePath, status, bytes, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		l.logger.Warn("ledger write failed",
			slog.String("remote_path", remotePath),
			slog.String("error", err.Error()),
		)
	}
}

// FinishRun stores the final counters and completion time for this run.
func (l *Ledger) FinishRun(ctx context.Context, report *Report) error {
	if l == nil || l.runID == "" {
		return nil
	}

	s := report.Snapshot()

	_, err := l.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, folders_listed = ?, downloaded = ?, skipped = ?, failed = ?, bytes = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339),
		s.FoldersListed, s.Downloaded, s.Skipped, s.Failed, s.Bytes,
		l.runID,
	)
	if err != nil {
		return fmt.Errorf("mirror: recording run finish: %w", err)
	}

	return nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	if l == nil {
		return nil
	}

	return l.db.Close()
}
