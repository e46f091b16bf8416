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
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/existential-birds/amelia-sub002/internal/workflow"
)

// RecoveryReason is the failure reason recorded for workflows interrupted
// by a daemon restart.
const RecoveryReason = "server restarted unexpectedly"

// CreateWorkflow inserts a new workflow row. A second active workflow on
// the same worktree trips the partial unique index and maps to
// WORKFLOW_CONFLICT carrying the existing workflow's id.
func (s *Store) CreateWorkflow(ctx context.Context, wf *workflow.Workflow) error {
	var blob sql.NullString
	if len(wf.StateBlob) > 0 {
		blob = sql.NullString{String: string(wf.StateBlob), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, issue_id, worktree_path, worktree_name, pipeline, profile,
			status, current_stage, failure_reason, state_blob, started_at, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.IssueID, wf.WorktreePath, wf.WorktreeName, wf.Pipeline, nullString(wf.Profile),
		string(wf.Status), nullString(wf.CurrentStage), nullString(wf.FailureReason), blob,
		nullTime(wf.StartedAt), nullTime(wf.CompletedAt), formatTime(wf.CreatedAt), formatTime(wf.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			existing, lookupErr := s.activeWorkflowID(ctx, wf.WorktreePath)
			if lookupErr != nil {
				existing = ""
			}
			return workflow.NewConflict(wf.WorktreePath, existing)
		}
		return workflow.NewInternal(fmt.Errorf("insert workflow: %w", err))
	}
	return nil
}

// activeWorkflowID returns the id of the active workflow on a worktree.
func (s *Store) activeWorkflowID(ctx context.Context, worktreePath string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM workflows
		WHERE worktree_path = ? AND status IN ('pending', 'in_progress', 'blocked')`,
		worktreePath,
	).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

const workflowColumns = `id, issue_id, worktree_path, worktree_name, pipeline, profile,
	status, current_stage, failure_reason, state_blob, started_at, completed_at, created_at, updated_at`

func scanWorkflow(scan func(dest ...any) error) (*workflow.Workflow, error) {
	var (
		wf                           workflow.Workflow
		profile, stage, reason, blob sql.NullString
		startedAt, completedAt       sql.NullString
		createdAt, updatedAt, status string
	)
	if err := scan(&wf.ID, &wf.IssueID, &wf.WorktreePath, &wf.WorktreeName, &wf.Pipeline, &profile,
		&status, &stage, &reason, &blob, &startedAt, &completedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	wf.Profile = profile.String
	wf.Status = workflow.Status(status)
	wf.CurrentStage = stage.String
	wf.FailureReason = reason.String
	if blob.Valid {
		wf.StateBlob = []byte(blob.String)
	}

	var err error
	if wf.StartedAt, err = scanNullTime(startedAt); err != nil {
		return nil, err
	}
	if wf.CompletedAt, err = scanNullTime(completedAt); err != nil {
		return nil, err
	}
	if wf.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if wf.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &wf, nil
}

// GetWorkflow fetches one workflow by id.
func (s *Store) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id)
	wf, err := scanWorkflow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, workflow.NewNotFound(id)
	}
	if err != nil {
		return nil, workflow.NewInternal(fmt.Errorf("get workflow: %w", err))
	}
	return wf, nil
}

// ListOptions filters and paginates workflow listings.
type ListOptions struct {
	// Status restricts results to one status when non-empty.
	Status workflow.Status
	// Worktree restricts results to one worktree path when non-empty.
	Worktree string
	// Limit caps page size. Defaults to 50, max 200.
	Limit int
	// Cursor resumes a previous listing.
	Cursor string
}

// ListResult is one page of a workflow listing.
type ListResult struct {
	Workflows []workflow.Workflow `json:"workflows"`
	HasMore   bool                `json:"has_more"`
	Cursor    string              `json:"cursor,omitempty"`
}

// cursor orders listings newest-first on (started_at, id), falling back to
// created_at for workflows that never started.
type cursor struct {
	Key string
	ID  string
}

func encodeCursor(c cursor) string {
	return base64.RawURLEncoding.EncodeToString([]byte(c.Key + "|" + c.ID))
}

func decodeCursor(s string) (cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return cursor{}, workflow.NewValidation("malformed cursor")
	}
	key, id, ok := strings.Cut(string(raw), "|")
	if !ok || key == "" || id == "" {
		return cursor{}, workflow.NewValidation("malformed cursor")
	}
	return cursor{Key: key, ID: id}, nil
}

// ListWorkflows returns one page of workflows, newest first.
func (s *Store) ListWorkflows(ctx context.Context, opts ListOptions) (*ListResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	where := []string{"1=1"}
	args := []any{}
	if opts.Status != "" {
		if !opts.Status.Valid() {
			return nil, workflow.NewValidation("unknown status %q", opts.Status)
		}
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}
	if opts.Worktree != "" {
		where = append(where, "worktree_path = ?")
		args = append(args, opts.Worktree)
	}
	if opts.Cursor != "" {
		c, err := decodeCursor(opts.Cursor)
		if err != nil {
			return nil, err
		}
		where = append(where, "(COALESCE(started_at, created_at) < ? OR (COALESCE(started_at, created_at) = ? AND id < ?))")
		args = append(args, c.Key, c.Key, c.ID)
	}

	// Fetch one extra row to detect whether another page exists.
	args = append(args, limit+1)
	query := fmt.Sprintf(`
		SELECT %s FROM workflows
		WHERE %s
		ORDER BY COALESCE(started_at, created_at) DESC, id DESC
		LIMIT ?`, workflowColumns, strings.Join(where, " AND "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, workflow.NewInternal(fmt.Errorf("list workflows: %w", err))
	}
	defer rows.Close()

	var page []workflow.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows.Scan)
		if err != nil {
			return nil, workflow.NewInternal(err)
		}
		page = append(page, *wf)
	}
	if err := rows.Err(); err != nil {
		return nil, workflow.NewInternal(fmt.Errorf("iterate workflows: %w", err))
	}

	result := &ListResult{Workflows: page}
	if len(page) > limit {
		result.Workflows = page[:limit]
		result.HasMore = true
		last := result.Workflows[limit-1]
		key := last.CreatedAt
		if last.StartedAt != nil {
			key = *last.StartedAt
		}
		result.Cursor = encodeCursor(cursor{Key: formatTime(key), ID: last.ID})
	}
	return result, nil
}

// ActiveWorkflows returns all workflows in a non-terminal status.
func (s *Store) ActiveWorkflows(ctx context.Context) ([]workflow.Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+workflowColumns+` FROM workflows
		WHERE status IN ('pending', 'in_progress', 'blocked')
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, workflow.NewInternal(fmt.Errorf("list active workflows: %w", err))
	}
	defer rows.Close()

	var active []workflow.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows.Scan)
		if err != nil {
			return nil, workflow.NewInternal(err)
		}
		active = append(active, *wf)
	}
	if err := rows.Err(); err != nil {
		return nil, workflow.NewInternal(fmt.Errorf("iterate active workflows: %w", err))
	}
	return active, nil
}

// UpdateState persists the runner's opaque state blob between node steps.
func (s *Store) UpdateState(ctx context.Context, workflowID string, blob []byte) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET state_blob = ?, updated_at = ? WHERE id = ?`,
		string(blob), formatTime(time.Now()), workflowID,
	)
	if err != nil {
		return workflow.NewInternal(fmt.Errorf("update state blob: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return workflow.NewInternal(fmt.Errorf("update state blob: %w", err))
	}
	if n == 0 {
		return workflow.NewNotFound(workflowID)
	}
	return nil
}

// RecoverInterrupted marks every non-terminal workflow as interrupted,
// appending a terminal event and updating the status cache in one
// transaction per workflow. Runs single-threaded at startup, before any
// executor exists, so it allocates sequences directly from the log.
//
// In-progress and blocked workflows fail; pending workflows, which never
// started, are cancelled instead because pending has no edge to failed.
func (s *Store) RecoverInterrupted(ctx context.Context) (int, error) {
	active, err := s.ActiveWorkflows(ctx)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for i := range active {
		wf := &active[i]

		eventType := workflow.EventWorkflowFailed
		if wf.Status == workflow.StatusPending {
			eventType = workflow.EventWorkflowCancelled
		}

		maxSeq, err := s.MaxSequence(ctx, wf.ID)
		if err != nil {
			return recovered, err
		}

		ev := &workflow.Event{
			ID:         uuid.NewString(),
			WorkflowID: wf.ID,
			Sequence:   maxSeq + 1,
			Timestamp:  time.Now(),
			Agent:      "system",
			Type:       eventType,
			Message:    RecoveryReason,
		}
		if err := s.AppendEvent(ctx, ev); err != nil {
			return recovered, fmt.Errorf("recover workflow %s: %w", wf.ID, err)
		}
		recovered++
		s.logger.Info("recovered interrupted workflow",
			"workflow_id", wf.ID, "previous_status", string(wf.Status), "event_type", string(eventType))
	}
	return recovered, nil
}
