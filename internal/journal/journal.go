// Copyright (c) Kentronics Systems, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package journal persists update lifecycle events so operators can audit
// what happened across device restarts.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

type EventType string

const (
	UpdateStarted   EventType = "UpdateStarted"
	UpdateProgress  EventType = "UpdateProgress"
	UpdateCompleted EventType = "UpdateCompleted"
	UpdateFailed    EventType = "UpdateFailed"
	DeviceRestart   EventType = "DeviceRestart"
)

// Event is one recorded lifecycle occurrence. Events of one update attempt
// share a SessionID.
type Event struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	Type       EventType `json:"type"`
	Detail     string    `json:"detail,omitempty"`
	DeviceTime string    `json:"deviceTime"`
}

type Journal struct {
	db *sql.DB
}

// Open creates the journal database and its schema if needed.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS update_events(
		id INTEGER PRIMARY KEY,
		event_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		type TEXT NOT NULL,
		detail TEXT,
		device_time TEXT NOT NULL);`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create update_events table: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// NewSessionID mints the identifier shared by all events of one update
// attempt. ULIDs keep sessions sortable by start time.
func NewSessionID() string {
	return ulid.Make().String()
}

// Record appends one event. Failures are reported but must never take the
// update path down; callers log and continue.
func (j *Journal) Record(sessionID string, eventType EventType, detail string) error {
	_, err := j.db.Exec(
		"INSERT INTO update_events (event_id, session_id, type, detail, device_time) VALUES (?, ?, ?, ?, ?);",
		uuid.New().String(), sessionID, string(eventType), detail, time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// List returns all recorded events oldest first, along with the greatest
// row id so callers can delete exactly what they read.
func (j *Journal) List() ([]Event, int64, error) {
	rows, err := j.db.Query(
		"SELECT id, event_id, session_id, type, detail, device_time FROM update_events ORDER BY id;")
	if err != nil {
		return nil, -1, fmt.Errorf("failed to select events: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var events []Event
	var maxID int64 = -1
	for rows.Next() {
		var id int64
		var ev Event
		var detail sql.NullString
		if err := rows.Scan(&id, &ev.ID, &ev.SessionID, &ev.Type, &detail, &ev.DeviceTime); err != nil {
			return nil, -1, fmt.Errorf("failed to scan event row: %w", err)
		}
		ev.Detail = detail.String
		events = append(events, ev)
		if id > maxID {
			maxID = id
		}
	}
	if err := rows.Err(); err != nil {
		return nil, -1, fmt.Errorf("failed to iterate event rows: %w", err)
	}
	return events, maxID, nil
}

// Delete removes events up to and including maxID.
func (j *Journal) Delete(maxID int64) error {
	if _, err := j.db.Exec("DELETE FROM update_events WHERE id <= ?;", maxID); err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}
	return nil
}
