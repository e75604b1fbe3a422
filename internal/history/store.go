package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"avsync/internal/config"
	"avsync/internal/iteration"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes incompatibly.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database was created by another version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Store persists session history in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens history.db under the configured log directory.
func Open(cfg *config.Config) (*Store, error) {
	return OpenPath(filepath.Join(cfg.Paths.LogDir, "history.db"))
}

// OpenPath opens or creates the database at dbPath.
func OpenPath(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to reset history)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// Begin inserts a running session and returns it.
func (s *Store) Begin(ctx context.Context, requestID, originalFilename, inputPath string) (*Session, error) {
	now := formatTime(time.Now())
	res, err := s.exec(ctx,
		`INSERT INTO sessions (request_id, original_filename, input_path, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		requestID, originalFilename, inputPath, StatusRunning, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.Get(ctx, id)
}

// SetReference stores the first reference number allocated to a session.
func (s *Store) SetReference(ctx context.Context, id int64, reference int) error {
	_, err := s.exec(ctx,
		`UPDATE sessions SET reference = ?, updated_at = ? WHERE id = ?`,
		reference, formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("set reference: %w", err)
	}
	return nil
}

// Complete writes the final state of a session.
func (s *Store) Complete(ctx context.Context, id int64, c Completion) error {
	now := formatTime(time.Now())
	_, err := s.exec(ctx,
		`UPDATE sessions
         SET status = ?, kind = ?, message = ?, output_path = ?, total_shift_ms = ?,
             iterations = ?, final_offset_ms = ?, updated_at = ?, completed_at = ?
         WHERE id = ?`,
		c.Status,
		nullableString(c.Kind),
		nullableString(c.Message),
		nullableString(c.OutputPath),
		c.TotalShiftMS,
		c.Iterations,
		nullableInt(c.FinalOffsetMS),
		now,
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	return nil
}

// AddIteration appends one measurement to a session.
func (s *Store) AddIteration(ctx context.Context, sessionID int64, rec iteration.Record) error {
	recorded := rec.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now()
	}
	_, err := s.exec(ctx,
		`INSERT INTO iterations (
            session_id, iteration, reference, input_file, log_path,
            offset_ms, confidence, total_shift_ms, state, recorded_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, rec.Iteration, rec.Reference, rec.InputFile, rec.LogPath,
		rec.OffsetMS, rec.Confidence, rec.TotalShiftMS, string(rec.State), formatTime(recorded),
	)
	if err != nil {
		return fmt.Errorf("insert iteration: %w", err)
	}
	_, err = s.exec(ctx,
		`UPDATE sessions SET iterations = ?, total_shift_ms = ?, updated_at = ? WHERE id = ?`,
		rec.Iteration, rec.TotalShiftMS, formatTime(time.Now()), sessionID,
	)
	if err != nil {
		return fmt.Errorf("update session progress: %w", err)
	}
	return nil
}

// Recorder returns an iteration.Recorder bound to one session.
func (s *Store) Recorder(sessionID int64) iteration.Recorder {
	return sessionRecorder{store: s, id: sessionID}
}

type sessionRecorder struct {
	store *Store
	id    int64
}

func (r sessionRecorder) RecordIteration(ctx context.Context, rec iteration.Record) error {
	return r.store.AddIteration(ctx, r.id, rec)
}

// Get returns the session with id, or nil when it does not exist.
func (s *Store) Get(ctx context.Context, id int64) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// List returns the most recent sessions first, optionally filtered by status.
func (s *Store) List(ctx context.Context, limit int, statuses ...Status) ([]*Session, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	args := make([]any, 0, len(statuses)+1)
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Iterations returns the measurements of a session in order.
func (s *Store) Iterations(ctx context.Context, sessionID int64) ([]Iteration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, iteration, reference, input_file, log_path, offset_ms,
                confidence, total_shift_ms, state, recorded_at
         FROM iterations WHERE session_id = ? ORDER BY iteration`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list iterations: %w", err)
	}
	defer rows.Close()

	var out []Iteration
	for rows.Next() {
		var (
			it       Iteration
			recorded string
		)
		if err := rows.Scan(&it.SessionID, &it.Iteration, &it.Reference, &it.InputFile, &it.LogPath,
			&it.OffsetMS, &it.Confidence, &it.TotalShiftMS, &it.State, &recorded); err != nil {
			return nil, fmt.Errorf("scan iteration: %w", err)
		}
		it.RecordedAt = parseTime(recorded)
		out = append(out, it)
	}
	return out, rows.Err()
}

// MarkInterrupted fails sessions left running by a previous process.
func (s *Store) MarkInterrupted(ctx context.Context) (int64, error) {
	now := formatTime(time.Now())
	res, err := s.exec(ctx,
		`UPDATE sessions
         SET status = ?, kind = 'generic', message = 'interrupted before completion',
             updated_at = ?, completed_at = ?
         WHERE status = ?`,
		StatusError, now, now, StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted: %w", err)
	}
	return res.RowsAffected()
}

// PruneBefore removes finished sessions completed before cutoff.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.exec(ctx,
		`DELETE FROM sessions WHERE status != ? AND completed_at IS NOT NULL AND completed_at < ?`,
		StatusRunning, formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return res.RowsAffected()
}

// Stats counts sessions per status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM sessions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("session stats: %w", err)
	}
	defer rows.Close()
	stats := make(map[Status]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats[Status(status)] = count
	}
	return stats, rows.Err()
}
