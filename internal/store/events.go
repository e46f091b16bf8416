// Copyright 2025 The Amelia Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/existential-birds/amelia-sub002/internal/workflow"
)

// AppendEvent durably appends an event and, for state-affecting events,
// updates the workflow's cached status in the same transaction. The event's
// sequence must already be allocated; a duplicate (workflow_id, sequence)
// is a bug in the caller and surfaces as INTERNAL_ERROR.
//
// Illegal status transitions are rejected before anything is written, so a
// persisted log only ever contains legal ones.
func (s *Store) AppendEvent(ctx context.Context, ev *workflow.Event) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if ev.Type.StateAffecting() {
			if err := s.applyStatusCache(tx, ev); err != nil {
				return err
			}
		}
		return insertEvent(tx, ev)
	})
}

// applyStatusCache validates and applies the status change implied by a
// state-affecting event to the workflows row.
func (s *Store) applyStatusCache(tx *sql.Tx, ev *workflow.Event) error {
	var current string
	err := tx.QueryRow(`SELECT status FROM workflows WHERE id = ?`, ev.WorkflowID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.NewNotFound(ev.WorkflowID)
	}
	if err != nil {
		return workflow.NewInternal(fmt.Errorf("read workflow status: %w", err))
	}

	set := []string{"updated_at = ?"}
	args := []any{formatTime(ev.Timestamp)}

	if stage := ev.Stage(); stage != "" {
		set = append(set, "current_stage = ?")
		args = append(args, stage)
	}

	if next := ev.Type.StatusAfter(); next != "" {
		if err := workflow.ValidateTransition(workflow.Status(current), next); err != nil {
			return err
		}
		set = append(set, "status = ?")
		args = append(args, string(next))

		switch {
		case next == workflow.StatusInProgress && ev.Type == workflow.EventWorkflowStarted:
			set = append(set, "started_at = ?")
			args = append(args, formatTime(ev.Timestamp))
		case next == workflow.StatusFailed:
			set = append(set, "failure_reason = ?", "completed_at = ?")
			args = append(args, ev.Message, formatTime(ev.Timestamp))
		case next.Terminal():
			set = append(set, "completed_at = ?")
			args = append(args, formatTime(ev.Timestamp))
		}
	}

	args = append(args, ev.WorkflowID)
	query := fmt.Sprintf(`UPDATE workflows SET %s WHERE id = ?`, strings.Join(set, ", "))
	if _, err := tx.Exec(query, args...); err != nil {
		return workflow.NewInternal(fmt.Errorf("update status cache: %w", err))
	}
	return nil
}

func insertEvent(tx *sql.Tx, ev *workflow.Event) error {
	var data sql.NullString
	if len(ev.Data) > 0 {
		b, err := json.Marshal(ev.Data)
		if err != nil {
			return workflow.NewInternal(fmt.Errorf("marshal event data: %w", err))
		}
		data = sql.NullString{String: string(b), Valid: true}
	}

	_, err := tx.Exec(`
		INSERT INTO events (id, workflow_id, sequence, timestamp, agent, event_type, message, data, correlation_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.WorkflowID, ev.Sequence, formatTime(ev.Timestamp),
		nullString(ev.Agent), string(ev.Type), ev.Message, data, nullString(ev.CorrelationID),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return workflow.NewInternal(fmt.Errorf("duplicate sequence %d for workflow %s", ev.Sequence, ev.WorkflowID))
		}
		return workflow.NewInternal(fmt.Errorf("insert event: %w", err))
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite unique constraint
// failure. modernc.org/sqlite does not export a typed error for this, so
// the check is textual.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

const eventColumns = `id, workflow_id, sequence, timestamp, agent, event_type, message, data, correlation_id`

func scanEvent(scan func(dest ...any) error) (*workflow.Event, error) {
	var (
		ev          workflow.Event
		ts          string
		agent, data sql.NullString
		corrID      sql.NullString
		eventType   string
	)
	if err := scan(&ev.ID, &ev.WorkflowID, &ev.Sequence, &ts, &agent, &eventType, &ev.Message, &data, &corrID); err != nil {
		return nil, err
	}

	parsed, err := parseTime(ts)
	if err != nil {
		return nil, err
	}
	ev.Timestamp = parsed
	ev.Agent = agent.String
	ev.Type = workflow.EventType(eventType)
	ev.CorrelationID = corrID.String

	if data.Valid {
		if err := json.Unmarshal([]byte(data.String), &ev.Data); err != nil {
			return nil, fmt.Errorf("store: unmarshal event data for %s: %w", ev.ID, err)
		}
	}
	return &ev, nil
}

// GetEvents returns a workflow's events with sequence greater than since,
// in sequence order. since = 0 returns the full retained log.
func (s *Store) GetEvents(ctx context.Context, workflowID string, since int64) ([]workflow.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE workflow_id = ? AND sequence > ?
		ORDER BY sequence ASC`,
		workflowID, since,
	)
	if err != nil {
		return nil, workflow.NewInternal(fmt.Errorf("query events: %w", err))
	}
	defer rows.Close()

	var events []workflow.Event
	for rows.Next() {
		ev, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, workflow.NewInternal(err)
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, workflow.NewInternal(fmt.Errorf("iterate events: %w", err))
	}
	return events, nil
}

// MaxSequence returns the highest persisted sequence for a workflow, or 0
// when the workflow has no events.
func (s *Store) MaxSequence(ctx context.Context, workflowID string) (int64, error) {
	var max int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM events WHERE workflow_id = ?`,
		workflowID,
	).Scan(&max)
	if err != nil {
		return 0, workflow.NewInternal(fmt.Errorf("query max sequence: %w", err))
	}
	return max, nil
}

// EventRowID resolves an event id to its insertion-order row id. Returns
// sql.ErrNoRows (wrapped as NOT_FOUND) when the event has been pruned or
// never existed.
func (s *Store) EventRowID(ctx context.Context, eventID string) (int64, error) {
	var rowid int64
	err := s.db.QueryRowContext(ctx, `SELECT rowid FROM events WHERE id = ?`, eventID).Scan(&rowid)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, workflow.NewNotFound(eventID)
	}
	if err != nil {
		return 0, workflow.NewInternal(fmt.Errorf("resolve event rowid: %w", err))
	}
	return rowid, nil
}

// EventsAfterRow returns up to limit events inserted after the given row id,
// across all workflows, in insertion order. Used for subscription backfill.
func (s *Store) EventsAfterRow(ctx context.Context, rowid int64, limit int) ([]workflow.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE rowid > ?
		ORDER BY rowid ASC
		LIMIT ?`,
		rowid, limit,
	)
	if err != nil {
		return nil, workflow.NewInternal(fmt.Errorf("query backfill events: %w", err))
	}
	defer rows.Close()

	var events []workflow.Event
	for rows.Next() {
		ev, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, workflow.NewInternal(err)
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, workflow.NewInternal(fmt.Errorf("iterate backfill events: %w", err))
	}
	return events, nil
}
