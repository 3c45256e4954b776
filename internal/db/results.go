package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrResultNotFound is returned when a scenario result is not found.
var ErrResultNotFound = errors.New("scenario result not found")

// SaveScenarioResult inserts a finished scenario result, generating an ID
// and timestamps if missing.
func (db *DB) SaveScenarioResult(r *ScenarioResult) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	if r.FinishedAt == nil {
		now := time.Now().UTC()
		r.FinishedAt = &now
	}

	expected, err := json.Marshal(nonNil(r.Expected))
	if err != nil {
		return fmt.Errorf("encoding expected order: %w", err)
	}
	var actual sql.NullString
	if r.Actual != nil {
		b, err := json.Marshal(r.Actual)
		if err != nil {
			return fmt.Errorf("encoding actual order: %w", err)
		}
		actual = sql.NullString{String: string(b), Valid: true}
	}

	_, err = db.Exec(`
		INSERT INTO scenario_results
		  (id, run_id, scenario, team_name, state, expected_json, actual_json, error_kind, error, diff, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.RunID, r.Scenario, nullString(r.TeamName), r.State, string(expected), actual,
		nullString(r.ErrorKind), nullString(r.Error), nullString(r.Diff),
		r.StartedAt.Format(timeLayout), r.FinishedAt.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("saving scenario result: %w", err)
	}
	return nil
}

// ListScenarioResults returns the results recorded for a run in start order.
func (db *DB) ListScenarioResults(runID string) ([]*ScenarioResult, error) {
	rows, err := db.Query(`
		SELECT id, run_id, scenario, team_name, state, expected_json, actual_json, error_kind, error, diff, started_at, finished_at
		FROM scenario_results
		WHERE run_id = ?
		ORDER BY started_at ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying scenario results: %w", err)
	}
	defer rows.Close()

	var results []*ScenarioResult
	for rows.Next() {
		r, err := scanScenarioResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scenario results: %w", err)
	}
	return results, nil
}

func scanScenarioResult(s scanner) (*ScenarioResult, error) {
	r := &ScenarioResult{}
	var teamName, actual, errorKind, errMsg, diff, finishedAt sql.NullString
	var expected, startedAt string

	if err := s.Scan(&r.ID, &r.RunID, &r.Scenario, &teamName, &r.State, &expected, &actual,
		&errorKind, &errMsg, &diff, &startedAt, &finishedAt); err != nil {
		return nil, fmt.Errorf("scanning scenario result: %w", err)
	}

	if err := json.Unmarshal([]byte(expected), &r.Expected); err != nil {
		return nil, fmt.Errorf("decoding expected order: %w", err)
	}
	if actual.Valid {
		if err := json.Unmarshal([]byte(actual.String), &r.Actual); err != nil {
			return nil, fmt.Errorf("decoding actual order: %w", err)
		}
	}

	r.TeamName = teamName.String
	r.ErrorKind = errorKind.String
	r.Error = errMsg.String
	r.Diff = diff.String
	r.StartedAt, _ = time.Parse(timeLayout, startedAt)
	r.FinishedAt = parseNullTime(finishedAt)
	return r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
