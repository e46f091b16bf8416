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
	"fmt"
	"time"

	"github.com/existential-birds/amelia-sub002/internal/workflow"
)

// RetentionPolicy controls shutdown-time pruning.
type RetentionPolicy struct {
	// RetentionDays is the age cutoff for terminal workflows. Zero disables
	// age-based pruning.
	RetentionDays int

	// MaxEventsPerWorkflow caps each surviving workflow's event log. Zero
	// disables cap-based trimming.
	MaxEventsPerWorkflow int
}

// RetentionReport summarizes one pruning pass for operator logs.
type RetentionReport struct {
	WorkflowsDeleted int64 `json:"workflows_deleted"`
	EventsDeleted    int64 `json:"events_deleted"`
	EventsTrimmed    int64 `json:"events_trimmed"`
}

// Prune applies the retention policy: delete terminal workflows (and their
// events, via cascade) whose completed_at is older than the age cutoff, then
// trim each surviving workflow's log to the per-workflow cap by dropping its
// lowest sequences. Trimmed logs no longer start at sequence 1; subscription
// backfill detects that and signals clients to re-sync over REST.
func (s *Store) Prune(ctx context.Context, policy RetentionPolicy) (*RetentionReport, error) {
	report := &RetentionReport{}

	if policy.RetentionDays > 0 {
		cutoff := formatTime(time.Now().AddDate(0, 0, -policy.RetentionDays))
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			row := tx.QueryRow(`
				SELECT COUNT(*) FROM events WHERE workflow_id IN (
					SELECT id FROM workflows
					WHERE status IN ('completed', 'failed', 'cancelled') AND completed_at < ?
				)`, cutoff)
			if err := row.Scan(&report.EventsDeleted); err != nil {
				return err
			}

			del, err := tx.Exec(`
				DELETE FROM workflows
				WHERE status IN ('completed', 'failed', 'cancelled') AND completed_at < ?`, cutoff)
			if err != nil {
				return err
			}
			report.WorkflowsDeleted, err = del.RowsAffected()
			return err
		})
		if err != nil {
			return nil, workflow.NewInternal(fmt.Errorf("prune by age: %w", err))
		}
	}

	if policy.MaxEventsPerWorkflow > 0 {
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			res, err := tx.Exec(`
				DELETE FROM events WHERE id IN (
					SELECT e.id FROM events e
					JOIN (
						SELECT workflow_id, MAX(sequence) AS max_seq, COUNT(*) AS n
						FROM events GROUP BY workflow_id HAVING n > ?
					) big ON big.workflow_id = e.workflow_id
					WHERE e.sequence <= big.max_seq - ?
				)`, policy.MaxEventsPerWorkflow, policy.MaxEventsPerWorkflow)
			if err != nil {
				return err
			}
			report.EventsTrimmed, err = res.RowsAffected()
			return err
		})
		if err != nil {
			return nil, workflow.NewInternal(fmt.Errorf("trim event logs: %w", err))
		}
	}

	// Reclaim the freed pages. Requires auto_vacuum = INCREMENTAL.
	if _, err := s.db.ExecContext(ctx, `PRAGMA incremental_vacuum`); err != nil {
		s.logger.Warn("incremental vacuum failed", "error", err)
	}

	s.logger.Info("retention pass complete",
		"workflows_deleted", report.WorkflowsDeleted,
		"events_deleted", report.EventsDeleted,
		"events_trimmed", report.EventsTrimmed)
	return report, nil
}
