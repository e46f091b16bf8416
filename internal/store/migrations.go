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

import "fmt"

// migrations are applied in order; each runs at most once. Never edit an
// entry after it has shipped, append a new one instead.
var migrations = []string{
	// 1: core schema.
	`
	CREATE TABLE IF NOT EXISTS workflows (
		id TEXT PRIMARY KEY,
		issue_id TEXT NOT NULL,
		worktree_path TEXT NOT NULL,
		worktree_name TEXT NOT NULL,
		pipeline TEXT NOT NULL,
		profile TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		current_stage TEXT,
		failure_reason TEXT,
		state_blob TEXT,
		started_at TEXT,
		completed_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_workflows_active_worktree
		ON workflows(worktree_path)
		WHERE status IN ('pending', 'in_progress', 'blocked');

	CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows(status);
	CREATE INDEX IF NOT EXISTS idx_workflows_created_at ON workflows(created_at);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
		sequence INTEGER NOT NULL,
		timestamp TEXT NOT NULL,
		agent TEXT,
		event_type TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		data TEXT,
		correlation_id TEXT,
		UNIQUE(workflow_id, sequence)
	);

	CREATE INDEX IF NOT EXISTS idx_events_workflow ON events(workflow_id, sequence);
	`,

	// 2: token usage ledger.
	`
	CREATE TABLE IF NOT EXISTS token_usage (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		workflow_id TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
		agent TEXT NOT NULL,
		model TEXT NOT NULL,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		cache_read_tokens INTEGER NOT NULL DEFAULT 0,
		cache_write_tokens INTEGER NOT NULL DEFAULT 0,
		cost_usd REAL NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_token_usage_workflow ON token_usage(workflow_id);
	`,

	// 3: health probe scratch table.
	`
	CREATE TABLE IF NOT EXISTS health_check (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		checked_at TEXT NOT NULL
	);
	`,
}

// migrate creates the schema_version table and applies pending migrations.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("store: create schema_version table: %w", err)
	}

	var current int
	err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current)
	if err != nil {
		return fmt.Errorf("store: read schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("store: begin migration %d: %w", version, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: apply migration %d: %w", version, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO schema_version (version, applied_at) VALUES (?, datetime('now'))`,
			version,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: record migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("store: commit migration %d: %w", version, err)
		}
		s.logger.Debug("applied migration", "version", version)
	}
	return nil
}
