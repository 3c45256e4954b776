package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned when a run is not found.
var ErrRunNotFound = errors.New("run not found")

// CreateRun inserts a run in RunRunning state, generating an ID if missing.
func (db *DB) CreateRun(r *Run) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	r.Status = RunRunning
	r.StartedAt = time.Now().UTC()
	r.FinishedAt = nil

	_, err := db.Exec(`
		INSERT INTO runs (id, atc_url, status, error, started_at, finished_at)
		VALUES (?, ?, ?, NULL, ?, NULL)
	`, r.ID, r.ATCURL, string(r.Status), r.StartedAt.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("creating run: %w", err)
	}
	return nil
}

// FinishRun marks a run passed or failed. A non-nil runErr marks it failed.
func (db *DB) FinishRun(id string, runErr error) error {
	status := RunPassed
	var msg sql.NullString
	if runErr != nil {
		status = RunFailed
		msg = sql.NullString{String: runErr.Error(), Valid: true}
	}

	result, err := db.Exec(`
		UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ? AND finished_at IS NULL
	`, string(status), msg, time.Now().UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetRun retrieves a run by ID.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.QueryRow(`
		SELECT id, atc_url, status, error, started_at, finished_at
		FROM runs WHERE id = ?
	`, id)

	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return r, err
}

// ListRuns returns the most recent runs, newest first.
func (db *DB) ListRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT id, atc_url, status, error, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	r := &Run{}
	var status, startedAt string
	var runErr, finishedAt sql.NullString

	if err := s.Scan(&r.ID, &r.ATCURL, &status, &runErr, &startedAt, &finishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning run: %w", err)
	}

	r.Status = RunStatus(status)
	r.Error = runErr.String
	r.StartedAt, _ = time.Parse(timeLayout, startedAt)
	r.FinishedAt = parseNullTime(finishedAt)
	return r, nil
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil
	}
	return &t
}
