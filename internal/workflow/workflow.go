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

package workflow

import (
	"encoding/json"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Workflow is the current state of a single pipeline execution against one
// worktree. The status column is a cache; the event log is authoritative.
type Workflow struct {
	ID            string          `json:"id"`
	IssueID       string          `json:"issue_id"`
	WorktreePath  string          `json:"worktree_path"`
	WorktreeName  string          `json:"worktree_name"`
	Pipeline      string          `json:"pipeline"`
	Profile       string          `json:"profile,omitempty"`
	Status        Status          `json:"status"`
	CurrentStage  string          `json:"current_stage,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	StateBlob     json.RawMessage `json:"state_blob,omitempty"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// MaxIssueIDLength bounds user-supplied issue identifiers.
const MaxIssueIDLength = 100

var issueIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateIssueID checks the user-supplied issue handle: alphanumeric,
// dashes, and underscores only, at most 100 characters.
func ValidateIssueID(issueID string) error {
	if issueID == "" {
		return NewValidation("issue_id is required")
	}
	if len(issueID) > MaxIssueIDLength {
		return NewValidation("issue_id exceeds %d characters", MaxIssueIDLength)
	}
	if !issueIDPattern.MatchString(issueID) {
		return NewValidation("issue_id may only contain letters, digits, dashes and underscores")
	}
	return nil
}

// ValidateWorktreePath checks that a worktree path is absolute, clean, and
// free of null bytes. Existence checks belong to the supervisor; this is
// pure input validation.
func ValidateWorktreePath(path string) (string, error) {
	if path == "" {
		return "", NewValidation("worktree_path is required")
	}
	if strings.ContainsRune(path, 0) {
		return "", NewValidation("worktree_path contains a null byte")
	}
	if !filepath.IsAbs(path) {
		return "", NewValidation("worktree_path must be absolute: %s", path)
	}
	cleaned := filepath.Clean(path)
	if strings.Contains(cleaned, "..") {
		return "", NewValidation("worktree_path must not contain path traversal")
	}
	return cleaned, nil
}
