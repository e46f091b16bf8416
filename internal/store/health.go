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
)

// CheckRead verifies the database answers a trivial read.
func (s *Store) CheckRead(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("store: read probe: %w", err)
	}
	return nil
}

// CheckWrite verifies the database accepts a write by upserting a probe row.
func (s *Store) CheckWrite(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO health_check (id, checked_at) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET checked_at = excluded.checked_at`,
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("store: write probe: %w", err)
	}
	return nil
}

// CountByStatus returns workflow counts keyed by status.
func (s *Store) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM workflows GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("store: count workflows: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("store: count workflows: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: count workflows: %w", err)
	}
	return counts, nil
}
