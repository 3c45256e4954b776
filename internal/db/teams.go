package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrTeamExists is returned when recording a team name that was already used.
var ErrTeamExists = errors.New("team already recorded")

// ErrTeamNotFound is returned when a team is not in the ledger.
var ErrTeamNotFound = errors.New("team not found")

// RecordTeam records a freshly provisioned team. RunID may be empty for
// teams grabbed outside a suite run.
func (db *DB) RecordTeam(t *Team) error {
	t.CreatedAt = time.Now().UTC()
	t.DestroyedAt = nil

	var runID sql.NullString
	if t.RunID != "" {
		runID = sql.NullString{String: t.RunID, Valid: true}
	}

	_, err := db.Exec(`
		INSERT INTO teams (name, run_id, atc_url, created_at, destroyed_at)
		VALUES (?, ?, ?, ?, NULL)
	`, t.Name, runID, t.ATCURL, t.CreatedAt.Format(timeLayout))
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrTeamExists
		}
		return fmt.Errorf("recording team: %w", err)
	}
	return nil
}

// MarkTeamDestroyed records that a team was destroyed on the ATC.
// Returns ErrTeamNotFound if the team is unknown or already destroyed.
func (db *DB) MarkTeamDestroyed(name string) error {
	result, err := db.Exec(`
		UPDATE teams SET destroyed_at = ? WHERE name = ? AND destroyed_at IS NULL
	`, time.Now().UTC().Format(timeLayout), name)
	if err != nil {
		return fmt.Errorf("marking team destroyed: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrTeamNotFound
	}
	return nil
}

// GetTeam retrieves a team by name.
func (db *DB) GetTeam(name string) (*Team, error) {
	row := db.QueryRow(`
		SELECT name, run_id, atc_url, created_at, destroyed_at
		FROM teams WHERE name = ?
	`, name)

	t, err := scanTeam(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTeamNotFound
	}
	return t, err
}

// ListTeams returns every recorded team, oldest first.
func (db *DB) ListTeams() ([]*Team, error) {
	return db.queryTeams(`
		SELECT name, run_id, atc_url, created_at, destroyed_at
		FROM teams
		ORDER BY created_at ASC
	`)
}

// ListLeakedTeams returns teams on atcURL that were never destroyed, oldest
// first. Teams belonging to the run excludeRunID are omitted so an in-flight
// run does not report its own teams.
func (db *DB) ListLeakedTeams(atcURL, excludeRunID string) ([]*Team, error) {
	return db.queryTeams(`
		SELECT name, run_id, atc_url, created_at, destroyed_at
		FROM teams
		WHERE destroyed_at IS NULL
		  AND atc_url = ?
		  AND (run_id IS NULL OR run_id != ?)
		ORDER BY created_at ASC
	`, atcURL, excludeRunID)
}

func (db *DB) queryTeams(query string, args ...any) ([]*Team, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying teams: %w", err)
	}
	defer rows.Close()

	var teams []*Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		teams = append(teams, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating teams: %w", err)
	}
	return teams, nil
}

func scanTeam(s scanner) (*Team, error) {
	t := &Team{}
	var runID, destroyedAt sql.NullString
	var createdAt string

	if err := s.Scan(&t.Name, &runID, &t.ATCURL, &createdAt, &destroyedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning team: %w", err)
	}

	t.RunID = runID.String
	t.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	t.DestroyedAt = parseNullTime(destroyedAt)
	return t, nil
}
