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
	"fmt"
	"time"

	"github.com/existential-birds/amelia-sub002/internal/workflow"
)

// RecordTokenUsage appends one usage record, computing its cost from the
// pricing table before insert.
func (s *Store) RecordTokenUsage(ctx context.Context, u *workflow.TokenUsage) error {
	u.CostUSD = workflow.CalculateCost(*u)
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO token_usage (workflow_id, agent, model, input_tokens, output_tokens,
			cache_read_tokens, cache_write_tokens, cost_usd, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.WorkflowID, u.Agent, u.Model, u.InputTokens, u.OutputTokens,
		u.CacheReadTokens, u.CacheWriteTokens, u.CostUSD, formatTime(u.CreatedAt),
	)
	if err != nil {
		return workflow.NewInternal(fmt.Errorf("insert token usage: %w", err))
	}
	return nil
}

// TokenTotals aggregates token usage for one workflow.
type TokenTotals struct {
	WorkflowID       string  `json:"workflow_id"`
	InputTokens      int64   `json:"input_tokens"`
	OutputTokens     int64   `json:"output_tokens"`
	CacheReadTokens  int64   `json:"cache_read_tokens"`
	CacheWriteTokens int64   `json:"cache_write_tokens"`
	CostUSD          float64 `json:"cost_usd"`
	Records          int64   `json:"records"`
}

// GetTokenTotals sums all usage records for a workflow. A workflow with no
// usage yields zero totals, not an error.
func (s *Store) GetTokenTotals(ctx context.Context, workflowID string) (*TokenTotals, error) {
	totals := &TokenTotals{WorkflowID: workflowID}
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(cache_read_tokens), 0), COALESCE(SUM(cache_write_tokens), 0),
			COALESCE(SUM(cost_usd), 0), COUNT(*)
		FROM token_usage WHERE workflow_id = ?`,
		workflowID,
	).Scan(&totals.InputTokens, &totals.OutputTokens, &totals.CacheReadTokens,
		&totals.CacheWriteTokens, &totals.CostUSD, &totals.Records)
	if err != nil {
		return nil, workflow.NewInternal(fmt.Errorf("sum token usage: %w", err))
	}
	return totals, nil
}

// GetTokenUsage returns a workflow's individual usage records, oldest first.
func (s *Store) GetTokenUsage(ctx context.Context, workflowID string) ([]workflow.TokenUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT workflow_id, agent, model, input_tokens, output_tokens,
			cache_read_tokens, cache_write_tokens, cost_usd, created_at
		FROM token_usage WHERE workflow_id = ? ORDER BY id ASC`,
		workflowID,
	)
	if err != nil {
		return nil, workflow.NewInternal(fmt.Errorf("query token usage: %w", err))
	}
	defer rows.Close()

	var records []workflow.TokenUsage
	for rows.Next() {
		var (
			u  workflow.TokenUsage
			ts string
		)
		if err := rows.Scan(&u.WorkflowID, &u.Agent, &u.Model, &u.InputTokens, &u.OutputTokens,
			&u.CacheReadTokens, &u.CacheWriteTokens, &u.CostUSD, &ts); err != nil {
			return nil, workflow.NewInternal(err)
		}
		if u.CreatedAt, err = parseTime(ts); err != nil {
			return nil, workflow.NewInternal(err)
		}
		records = append(records, u)
	}
	if err := rows.Err(); err != nil {
		return nil, workflow.NewInternal(fmt.Errorf("iterate token usage: %w", err))
	}
	return records, nil
}
