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
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/existential-birds/amelia-sub002/internal/client"
	"github.com/existential-birds/amelia-sub002/internal/gitutil"
)

// NewStartCommand creates the start command.
func NewStartCommand(opts *GlobalOptions) *cobra.Command {
	var (
		issueID     string
		worktree    string
		name        string
		pipeline    string
		profile     string
		planFile    string
		planContent string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a workflow against a git worktree",
		Long: `Start a new workflow. The worktree defaults to the git worktree
containing the current directory, and the worktree name defaults to the
checked-out branch.

Examples:
  # Start from inside the worktree
  amelia start --issue PROJ-123

  # Start against another worktree with a pre-written plan
  amelia start --issue PROJ-456 --worktree /work/feature-x --plan-file plan.md`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if issueID == "" {
				return fmt.Errorf("--issue is required")
			}
			if planFile != "" && planContent != "" {
				return fmt.Errorf("--plan-file and --plan-content are mutually exclusive")
			}

			if worktree == "" {
				cwd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("resolve working directory: %w", err)
				}
				worktree, err = gitutil.WorktreeRoot(ctx, cwd)
				if err != nil {
					return fmt.Errorf("no --worktree given and %w", err)
				}
			} else {
				abs, err := filepath.Abs(worktree)
				if err != nil {
					return fmt.Errorf("resolve worktree path: %w", err)
				}
				worktree = abs
			}

			if name == "" {
				if branch, err := gitutil.CurrentBranch(ctx, worktree); err == nil {
					name = branch
				} else {
					name = filepath.Base(worktree)
				}
			}

			if planFile != "" {
				abs, err := filepath.Abs(planFile)
				if err != nil {
					return fmt.Errorf("resolve plan file: %w", err)
				}
				planFile = abs
			}

			cl, err := opts.newClient()
			if err != nil {
				return err
			}
			wf, err := cl.StartWorkflow(ctx, client.StartWorkflowRequest{
				IssueID:      issueID,
				WorktreePath: worktree,
				WorktreeName: name,
				Pipeline:     pipeline,
				Profile:      profile,
				PlanFile:     planFile,
				PlanContent:  planContent,
			})
			if err != nil {
				return err
			}

			if opts.JSON {
				return printJSON(cmd.OutOrStdout(), wf)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Started workflow %s for %s\n", wf.ID, wf.IssueID)
			fmt.Fprint(cmd.OutOrStdout(), renderWorkflowDetail(*wf))
			return nil
		},
	}

	cmd.Flags().StringVar(&issueID, "issue", "", "Issue identifier (required)")
	cmd.Flags().StringVar(&worktree, "worktree", "", "Worktree path (default: current git worktree)")
	cmd.Flags().StringVar(&name, "name", "", "Worktree display name (default: current branch)")
	cmd.Flags().StringVar(&pipeline, "pipeline", "", "Pipeline to run (default: implementation)")
	cmd.Flags().StringVar(&profile, "profile", "", "Agent profile")
	cmd.Flags().StringVar(&planFile, "plan-file", "", "Path to a pre-written plan, skips the planning stage")
	cmd.Flags().StringVar(&planContent, "plan-content", "", "Inline plan content, skips the planning stage")

	return cmd
}
