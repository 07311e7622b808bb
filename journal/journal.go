// Package journal keeps a sqlite history of merge runs and the ROMs each run copied.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"arcademerge/models"
)

//go:embed schema.sql
var schema string

type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Journal.
type Option func(*Journal)

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(j *Journal) { j.now = now }
}

// Open opens (or creates) the journal database at path and makes sure the schema exists.
func Open(path string, opts ...Option) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}

	j := &Journal{db: db, now: time.Now}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Begin inserts run with status started. A missing ID or start time is filled in.
func (j *Journal) Begin(ctx context.Context, run *models.Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = j.now()
	}
	run.Status = models.RunStarted

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, status, arcade_dir, config_file)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, formatTime(run.StartedAt), string(run.Status), run.Arcade, run.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

// RecordROMs stores the ROMs copied for one set in a single transaction.
func (j *Journal) RecordROMs(ctx context.Context, runID string, roms []models.CopiedROM) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO roms (run_id, rom_set, name, source, destination, size, sha1, member)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, rom := range roms {
		_, err := stmt.ExecContext(ctx, runID, rom.Set, rom.Name, rom.Source, rom.Destination, rom.Size, rom.SHA1, rom.Member)
		if err != nil {
			return fmt.Errorf("failed to insert rom %s: %w", rom.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Finish marks the run succeeded, or failed with runErr's message.
func (j *Journal) Finish(ctx context.Context, runID string, runErr error) error {
	status := models.RunSucceeded
	msg := ""
	if runErr != nil {
		status = models.RunFailed
		msg = runErr.Error()
	}

	res, err := j.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, status = ?, error = ? WHERE id = ?
	`, formatTime(j.now()), string(status), msg, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// Runs returns up to limit runs, newest first. A limit of zero or less returns all.
func (j *Journal) Runs(ctx context.Context, limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT r.id, r.started_at, r.finished_at, r.status, r.error, r.arcade_dir, r.config_file,
		       (SELECT COUNT(*) FROM roms WHERE roms.run_id = r.id)
		FROM runs r
		ORDER BY r.started_at DESC, r.rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		var run models.Run
		var started, finished, status string
		if err := rows.Scan(&run.ID, &started, &finished, &status, &run.Error, &run.Arcade, &run.ConfigFile, &run.ROMCount); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Status = models.RunStatus(status)
		run.StartedAt = parseTime(started)
		run.FinishedAt = parseTime(finished)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}
	return runs, nil
}

// ROMs returns the ROMs recorded for runID in copy order.
func (j *Journal) ROMs(ctx context.Context, runID string) ([]models.CopiedROM, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT rom_set, name, source, destination, size, sha1, member
		FROM roms WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query roms: %w", err)
	}
	defer rows.Close()

	var roms []models.CopiedROM
	for rows.Next() {
		var rom models.CopiedROM
		if err := rows.Scan(&rom.Set, &rom.Name, &rom.Source, &rom.Destination, &rom.Size, &rom.SHA1, &rom.Member); err != nil {
			return nil, fmt.Errorf("failed to scan rom: %w", err)
		}
		roms = append(roms, rom)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read roms: %w", err)
	}
	return roms, nil
}

// FindByName returns the most recent copy of the named ROM, or nil if it was never copied.
func (j *Journal) FindByName(ctx context.Context, name string) (*models.CopiedROM, error) {
	query := `SELECT rom_set, name, source, destination, size, sha1, member FROM roms WHERE LOWER(name) = LOWER(?) ORDER BY id DESC LIMIT 1`

	var rom models.CopiedROM
	err := j.db.QueryRowContext(ctx, query, name).Scan(&rom.Set, &rom.Name, &rom.Source, &rom.Destination, &rom.Size, &rom.SHA1, &rom.Member)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query rom by name: %w", err)
	}

	return &rom, nil
}

// Fixed width so that stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
