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

// Package gitutil shells out to git for worktree discovery.
package gitutil

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// WorktreeRoot returns the top-level directory of the worktree containing
// dir.
func WorktreeRoot(ctx context.Context, dir string) (string, error) {
	out, err := runGit(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", fmt.Errorf("gitutil: %s is not inside a git worktree: %w", dir, err)
	}
	return out, nil
}

// CurrentBranch returns the checked-out branch in dir, or
// "detached-<short-sha>" for a detached HEAD.
func CurrentBranch(ctx context.Context, dir string) (string, error) {
	branch, err := runGit(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("gitutil: resolve branch: %w", err)
	}
	if branch != "HEAD" {
		return branch, nil
	}
	sha, err := runGit(ctx, dir, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", fmt.Errorf("gitutil: resolve detached head: %w", err)
	}
	return "detached-" + sha, nil
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
